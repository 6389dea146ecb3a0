package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fieldline/commerce/internal/di"
	"github.com/fieldline/commerce/internal/notify"
	"github.com/fieldline/commerce/internal/platform/config"
	"github.com/fieldline/commerce/internal/platform/observability"
	"github.com/fieldline/commerce/internal/repositories/postgres"
	"github.com/fieldline/commerce/internal/services"
)

const tickInterval = time.Hour

// The scheduler drives the recurring subscription work the API only exposes
// for manual replays: renewals that fall due, retries for failed charges,
// cancellations past the grace period, and upcoming-renewal notices.
func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("scheduler")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load(ctx)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	db, err := postgres.Open(ctx, cfg.Database.DSN, postgres.Options{
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	registry, err := postgres.NewRegistry(db)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry,
		di.WithMailer(notify.NewLogMailer(logger.Named("mail"))),
	)
	if err != nil {
		logger.Fatal("failed to assemble container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	subs := container.Services.Subscriptions
	logger.Info("scheduler started", zap.Duration("interval", tickInterval))

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	runSweep(runCtx, logger, subs)
	for {
		select {
		case <-ticker.C:
			runSweep(runCtx, logger, subs)
		case <-runCtx.Done():
			logger.Info("shutdown signal received")
			return
		}
	}
}

type batchJob struct {
	name string
	run  func(ctx context.Context, now time.Time) (services.BatchSummary, error)
}

func runSweep(ctx context.Context, logger *zap.Logger, subs services.SubscriptionService) {
	now := time.Now().UTC()
	jobs := []batchJob{
		{name: "renew_due", run: subs.RenewDue},
		{name: "retry_due", run: subs.RetryDue},
		{name: "cancel_due", run: subs.CancelDue},
		{name: "renewal_notices", run: subs.SendRenewalNotices},
	}

	for _, job := range jobs {
		if ctx.Err() != nil {
			return
		}
		jobCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
		summary, err := job.run(jobCtx, now)
		cancel()
		if err != nil {
			logger.Error("batch job failed", zap.String("job", job.name), zap.Error(err))
			continue
		}
		fields := []zap.Field{
			zap.String("job", job.name),
			zap.Int("processed", summary.Processed),
		}
		if len(summary.Errors) > 0 {
			fields = append(fields, zap.Strings("errors", summary.Errors))
		}
		logger.Info("batch job completed", fields...)
	}
}
