package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/homabaysouq/souq-backend/pkg/logger"
)

type fakeEscrowReleaser struct {
	released int
	errs     []error
	limit    int
}

func (f *fakeEscrowReleaser) ReleaseDue(_ context.Context, limit int) (int, []error) {
	f.limit = limit
	return f.released, f.errs
}

type fakePoller struct {
	settled   int
	err       error
	olderThan time.Duration
	limit     int
}

func (f *fakePoller) PollInitiated(_ context.Context, olderThan time.Duration, limit int) (int, error) {
	f.olderThan = olderThan
	f.limit = limit
	return f.settled, f.err
}

type processedCounter map[string]int

func (p processedCounter) AddProcessed(job string, n int) { p[job] += n }

func TestEscrowReleaseJobRecordsProcessed(t *testing.T) {
	releaser := &fakeEscrowReleaser{released: 3}
	counter := processedCounter{}
	job, err := NewEscrowReleaseJob(EscrowReleaseJobParams{Logger: logger.Nop(), Escrow: releaser, Metrics: counter})
	if err != nil {
		t.Fatalf("NewEscrowReleaseJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if releaser.limit != defaultBatchSize {
		t.Fatalf("expected default batch %d, got %d", defaultBatchSize, releaser.limit)
	}
	if counter["escrow-auto-release"] != 3 {
		t.Fatalf("expected 3 processed, got %d", counter["escrow-auto-release"])
	}
}

func TestEscrowReleaseJobCombinesRowFailures(t *testing.T) {
	first, second := errors.New("escrow a: locked"), errors.New("escrow b: gone")
	releaser := &fakeEscrowReleaser{released: 1, errs: []error{first, second}}
	job, err := NewEscrowReleaseJob(EscrowReleaseJobParams{Logger: logger.Nop(), Escrow: releaser, BatchSize: 10})
	if err != nil {
		t.Fatalf("NewEscrowReleaseJob: %v", err)
	}
	err = job.Run(context.Background())
	if !errors.Is(err, first) || !errors.Is(err, second) {
		t.Fatalf("expected both row errors, got %v", err)
	}
	if releaser.limit != 10 {
		t.Fatalf("expected batch 10, got %d", releaser.limit)
	}
}

func TestPaymentPollJob(t *testing.T) {
	poller := &fakePoller{settled: 2}
	counter := processedCounter{}
	job, err := NewPaymentPollJob(PaymentPollJobParams{Logger: logger.Nop(), Payments: poller, Metrics: counter, BatchSize: 25})
	if err != nil {
		t.Fatalf("NewPaymentPollJob: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if poller.olderThan != defaultPaymentPollAge || poller.limit != 25 {
		t.Fatalf("unexpected poll arguments %s/%d", poller.olderThan, poller.limit)
	}
	if counter["payment-status-poll"] != 2 {
		t.Fatalf("expected 2 processed, got %d", counter["payment-status-poll"])
	}

	poller.err = errors.New("gateway down")
	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected poll error to surface")
	}
}

func TestJobConstructorsRequireDependencies(t *testing.T) {
	if _, err := NewEscrowReleaseJob(EscrowReleaseJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected escrow service required")
	}
	if _, err := NewPaymentPollJob(PaymentPollJobParams{Logger: logger.Nop()}); err == nil {
		t.Fatal("expected payments service required")
	}
	if _, err := NewOutboxRetentionJob(OutboxRetentionJobParams{}); err == nil {
		t.Fatal("expected logger required")
	}
}
