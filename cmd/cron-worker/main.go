package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/homabaysouq/souq-backend/internal/app"
	"github.com/homabaysouq/souq-backend/internal/cron"
	"github.com/homabaysouq/souq-backend/pkg/config"
	"github.com/homabaysouq/souq-backend/pkg/db"
	"github.com/homabaysouq/souq-backend/pkg/instance"
	"github.com/homabaysouq/souq-backend/pkg/logger"
	"github.com/homabaysouq/souq-backend/pkg/metrics"
	"github.com/homabaysouq/souq-backend/pkg/migrate"
	"github.com/homabaysouq/souq-backend/pkg/redis"
)

const lockKeyFormat = "souq:cron-worker:lock:%s"

func main() {
	once := flag.Bool("once", false, "run every job a single time and exit")
	flag.Parse()

	logg := logger.New(logger.Options{ServiceName: "cron-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "cron-worker"

	logg = logger.New(logger.Options{
		ServiceName: "cron-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
		Format:      cfg.App.LogFormat,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	svcs, err := app.Build(app.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to wire services", err)
		os.Exit(1)
	}

	metricsCollector := metrics.NewCronJobMetrics(prometheus.DefaultRegisterer)
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), 0)
	if err != nil {
		logg.Error(context.Background(), "failed to create cron lock", err)
		os.Exit(1)
	}

	registry, err := buildRegistry(cfg, logg, svcs, metricsCollector)
	if err != nil {
		logg.Error(context.Background(), "failed to register cron jobs", err)
		os.Exit(1)
	}

	service, err := cron.NewService(cron.ServiceParams{
		Logger:   logg,
		Registry: registry,
		Lock:     lock,
		Metrics:  metricsCollector,
		Interval: cfg.Cron.Interval,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create cron service", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
		"serviceKind": cfg.Service.Kind,
	})
	if *once {
		report, err := service.RunOnce(ctx)
		if err != nil {
			logg.Error(ctx, "cron run failed", err)
			os.Exit(1)
		}
		if len(report.Failed) > 0 {
			logg.Warn(logg.WithField(ctx, "failed_jobs", report.Failed), "cron run finished with failures")
			os.Exit(1)
		}
		return
	}

	logg.Info(ctx, "starting cron worker")

	if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}

	logg.Info(ctx, "cron worker shutting down gracefully")
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, svcs *app.Services, m *metrics.CronJobMetrics) (*cron.Registry, error) {
	release, err := cron.NewEscrowReleaseJob(cron.EscrowReleaseJobParams{
		Logger:    logg,
		Escrow:    svcs.Escrow,
		Metrics:   m,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("escrow release job: %w", err)
	}
	poll, err := cron.NewPaymentPollJob(cron.PaymentPollJobParams{
		Logger:    logg,
		Payments:  svcs.Payments,
		Metrics:   m,
		OlderThan: cfg.Cron.PaymentPollAge,
		BatchSize: cfg.Cron.BatchSize,
	})
	if err != nil {
		return nil, fmt.Errorf("payment poll job: %w", err)
	}
	retention, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:     logg,
		Repository: svcs.OutboxRepo,
		Retention:  cfg.Outbox.Retention,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}
	cleanup, err := cron.NewNotificationCleanupJob(cron.NotificationCleanupJobParams{
		Logger:     logg,
		Repository: svcs.NotifyRepo,
	})
	if err != nil {
		return nil, fmt.Errorf("notification cleanup job: %w", err)
	}
	return cron.NewRegistry(release, poll, retention, cleanup), nil
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
