// Command cron-worker sweeps stuck orders and prunes delivered notifications.
// Replicas share one Redis lock so each cycle runs once.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/cantora-backend/internal/cron"
	"github.com/angelmondragon/cantora-backend/internal/fulfillment"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db"
	"github.com/angelmondragon/cantora-backend/pkg/instance"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
	"github.com/angelmondragon/cantora-backend/pkg/migrate"
	"github.com/angelmondragon/cantora-backend/pkg/redis"
)

const (
	serviceKind      = "cron-worker"
	lockKeyFormat    = "cantora:cron-worker:lock:%s"
	retentionTimeout = 2 * time.Minute
)

func main() {
	bootLog := logger.New(logger.Options{ServiceName: serviceKind})
	if err := godotenv.Load(); err != nil {
		bootLog.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		bootLog.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}
	cfg.Service.Kind = serviceKind

	logg := logger.New(logger.Options{
		ServiceName: serviceKind,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": serviceKind,
		"instance":    instance.GetID(),
	})

	if err := run(ctx, cfg, logg); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(ctx, "cron worker stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "cron worker shut down")
}

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) error {
	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer closeLogged(ctx, logg, "database", dbClient.Close)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	defer closeLogged(ctx, logg, "redis", redisClient.Close)

	graph, err := fulfillment.Build(fulfillment.Params{
		Config:   cfg,
		Logger:   logg,
		DB:       dbClient,
		Redis:    redisClient,
		Registry: prometheus.DefaultRegisterer,
	})
	if err != nil {
		return fmt.Errorf("wire fulfillment: %w", err)
	}
	// quick-mode generations started by auto retry finish before the clients close
	defer graph.Orchestrator.Wait()

	registry, err := buildRegistry(cfg, logg, dbClient, graph)
	if err != nil {
		return err
	}
	lock, err := cron.NewRedisLock(redisClient, lockKey(cfg.App.Env), cfg.Cron.LockTTL)
	if err != nil {
		return fmt.Errorf("cron lock: %w", err)
	}
	service, err := cron.NewService(cron.ServiceParams{
		Logger:      logg,
		Registry:    registry,
		Lock:        lock,
		Metrics:     metrics.NewCronJobMetrics(prometheus.DefaultRegisterer),
		Interval:    cfg.Cron.Interval,
		LockRefresh: lock.TTL() / 3,
	})
	if err != nil {
		return fmt.Errorf("cron service: %w", err)
	}

	logg.Info(logg.WithField(ctx, "jobs", registry.Names()), "starting cron worker")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return metrics.Serve(groupCtx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg) })
	return group.Wait()
}

func buildRegistry(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, graph *fulfillment.Graph) (*cron.Registry, error) {
	stuckJob, err := cron.NewStuckOrdersJob(cron.StuckOrdersJobParams{
		Logger:     logg,
		Orders:     graph.Orders,
		Notifier:   graph.Notifier,
		Metrics:    graph.Metrics,
		Threshold:  cfg.Cron.StuckThreshold,
		BatchLimit: cfg.Cron.StuckBatchLimit,
		Retrier:    graph.Coordinator,
		AutoRetry:  cfg.FeatureFlags.AutoRetryStuckOrders,
	})
	if err != nil {
		return nil, fmt.Errorf("stuck orders job: %w", err)
	}
	retentionJob, err := cron.NewOutboxRetentionJob(cron.OutboxRetentionJobParams{
		Logger:          logg,
		DB:              dbClient,
		Repository:      graph.OutboxRepo,
		Retention:       cfg.Cron.OutboxRetention,
		ParkedRetention: cfg.Cron.OutboxParkedRetention,
		MaxAttempts:     cfg.Outbox.MaxAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("outbox retention job: %w", err)
	}

	registry := cron.NewRegistry()
	for _, entry := range []cron.Entry{
		{Job: stuckJob, Timeout: cfg.Cron.Interval},
		{Job: retentionJob, Timeout: retentionTimeout},
	} {
		if err := registry.Register(entry.Job, entry.Timeout); err != nil {
			return nil, fmt.Errorf("register cron job: %w", err)
		}
	}
	return registry, nil
}

func closeLogged(ctx context.Context, logg *logger.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logg.Error(ctx, "error closing "+name, err)
	}
}

func lockKey(env string) string {
	if env == "" {
		env = "local"
	}
	return fmt.Sprintf(lockKeyFormat, env)
}
