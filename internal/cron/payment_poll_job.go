package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/homabaysouq/souq-backend/pkg/logger"
)

const defaultPaymentPollAge = 2 * time.Minute

// PaymentPollJobParams configure the payment status fallback poll.
type PaymentPollJobParams struct {
	Logger    *logger.Logger
	Payments  paymentPoller
	Metrics   processedRecorder
	OlderThan time.Duration
	BatchSize int
}

type paymentPoller interface {
	PollInitiated(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// NewPaymentPollJob builds the job that asks the gateway about payments whose
// callback never arrived.
func NewPaymentPollJob(params PaymentPollJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments service required")
	}
	age := params.OlderThan
	if age <= 0 {
		age = defaultPaymentPollAge
	}
	batch := params.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return &paymentPollJob{
		logg:     params.Logger,
		payments: params.Payments,
		metrics:  params.Metrics,
		age:      age,
		batch:    batch,
	}, nil
}

type paymentPollJob struct {
	logg     *logger.Logger
	payments paymentPoller
	metrics  processedRecorder
	age      time.Duration
	batch    int
}

func (j *paymentPollJob) Name() string { return "payment-status-poll" }

func (j *paymentPollJob) Run(ctx context.Context) error {
	settled, err := j.payments.PollInitiated(ctx, j.age, j.batch)
	if j.metrics != nil {
		j.metrics.AddProcessed(j.Name(), settled)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"settled":    settled,
		"older_than": j.age.String(),
	})
	if err != nil {
		return fmt.Errorf("payment status poll: %w", err)
	}
	j.logg.Info(logCtx, "payment status poll complete")
	return nil
}
