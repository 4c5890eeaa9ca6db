// Command outbox-publisher delivers queued order notifications to Pub/Sub.
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

	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db"
	"github.com/angelmondragon/cantora-backend/pkg/instance"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
	"github.com/angelmondragon/cantora-backend/pkg/migrate"
	"github.com/angelmondragon/cantora-backend/pkg/outbox"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/idempotency"
	"github.com/angelmondragon/cantora-backend/pkg/outbox/registry"
	"github.com/angelmondragon/cantora-backend/pkg/pubsub"
	"github.com/angelmondragon/cantora-backend/pkg/redis"
)

const (
	serviceKind = "outbox-publisher"
	dedupTTL    = 7 * 24 * time.Hour
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
		logg.Error(ctx, "outbox publisher stopped unexpectedly", err)
		os.Exit(1)
	}
	logg.Info(ctx, "outbox publisher shut down")
}

// closer is satisfied by every client the publisher opens.
type closer interface{ Close() error }

func run(ctx context.Context, cfg *config.Config, logg *logger.Logger) (err error) {
	var opened []closer
	defer func() {
		for i := len(opened) - 1; i >= 0; i-- {
			if closeErr := opened[i].Close(); closeErr != nil {
				logg.Error(ctx, "error closing client", closeErr)
			}
		}
	}()

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	opened = append(opened, dbClient)

	if err := migrate.MaybeRunDev(ctx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("dev migrations: %w", err)
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		return fmt.Errorf("bootstrap pubsub: %w", err)
	}
	opened = append(opened, pubsubClient)

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	if err != nil {
		return fmt.Errorf("bootstrap redis: %w", err)
	}
	opened = append(opened, redisClient)

	dedup, err := idempotency.NewGuard(redisClient, dedupConsumer, dedupTTL)
	if err != nil {
		return fmt.Errorf("publish dedup: %w", err)
	}
	eventRegistry, err := registry.NewEventRegistry(cfg.PubSub)
	if err != nil {
		return fmt.Errorf("event registry: %w", err)
	}

	service, err := NewService(ServiceParams{
		Config:     cfg,
		Logger:     logg,
		DB:         dbClient,
		PubSub:     pubsubClient,
		Repository: outbox.NewRepository(dbClient.DB()),
		Registry:   eventRegistry,
		Dedup:      dedup,
		Metrics:    metrics.NewOutboxMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		return fmt.Errorf("outbox publisher: %w", err)
	}

	logg.Info(ctx, "starting outbox publisher")
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error { return service.Run(groupCtx) })
	group.Go(func() error { return metrics.Serve(groupCtx, cfg.App.MetricsAddr, prometheus.DefaultGatherer, logg) })
	return group.Wait()
}
