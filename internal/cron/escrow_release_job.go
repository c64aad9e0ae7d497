package cron

import (
	"context"
	"fmt"

	"go.uber.org/multierr"

	"github.com/homabaysouq/souq-backend/pkg/logger"
)

const defaultBatchSize = 100

// EscrowReleaseJobParams configure the auto-release job.
type EscrowReleaseJobParams struct {
	Logger    *logger.Logger
	Escrow    escrowReleaser
	Metrics   processedRecorder
	BatchSize int
}

type escrowReleaser interface {
	ReleaseDue(ctx context.Context, limit int) (int, []error)
}

// NewEscrowReleaseJob builds the job that releases held escrows whose
// auto-release deadline has passed.
func NewEscrowReleaseJob(params EscrowReleaseJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Escrow == nil {
		return nil, fmt.Errorf("escrow service required")
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &escrowReleaseJob{
		logg:    params.Logger,
		escrow:  params.Escrow,
		metrics: params.Metrics,
		batch:   batch,
	}, nil
}

type escrowReleaseJob struct {
	logg    *logger.Logger
	escrow  escrowReleaser
	metrics processedRecorder
	batch   int
}

func (j *escrowReleaseJob) Name() string { return "escrow-auto-release" }

func (j *escrowReleaseJob) Run(ctx context.Context) error {
	released, errs := j.escrow.ReleaseDue(ctx, j.batch)
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), released)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"released": released,
		"failed":   len(errs),
		"batch":    j.batch,
	})
	j.logg.Info(logCtx, "escrow auto-release sweep complete")
	if err := multierr.Combine(errs...); err != nil {
		return fmt.Errorf("escrow auto-release: %w", err)
	}
	return nil
}
