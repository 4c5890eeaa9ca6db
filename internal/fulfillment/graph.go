// Package fulfillment assembles the order fulfillment services shared by the
// API server and the cron worker.
package fulfillment

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angelmondragon/cantora-backend/internal/credits"
	"github.com/angelmondragon/cantora-backend/internal/generation"
	"github.com/angelmondragon/cantora-backend/internal/notifications"
	"github.com/angelmondragon/cantora-backend/internal/orchestrator"
	"github.com/angelmondragon/cantora-backend/internal/orders"
	"github.com/angelmondragon/cantora-backend/internal/recovery"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/db"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	"github.com/angelmondragon/cantora-backend/pkg/metrics"
	"github.com/angelmondragon/cantora-backend/pkg/outbox"
	"github.com/angelmondragon/cantora-backend/pkg/redis"
)

// Graph holds the wired fulfillment services.
type Graph struct {
	Orders       orders.Store
	Credits      credits.Ledger
	Notifier     notifications.Notifier
	Outbox       *outbox.Service
	OutboxRepo   *outbox.Repository
	Orchestrator *orchestrator.Orchestrator
	Coordinator  *recovery.Coordinator
	Music        *orders.MusicStage
	Metrics      *metrics.FulfillmentMetrics
}

// Params are the infrastructure clients the graph is built from. Redis may be
// nil, in which case approvals are guarded per process only.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registry   prometheus.Registerer
	HTTPClient *http.Client
}

func Build(p Params) (*Graph, error) {
	if p.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("db client required")
	}
	cfg := p.Config
	m := metrics.NewFulfillmentMetrics(p.Registry)

	outboxRepo := outbox.NewRepository(p.DB.DB())
	outboxSvc := outbox.NewService(outboxRepo, p.Logger)
	var notifier notifications.Notifier = notifications.Nop{}
	if cfg.FeatureFlags.Notifications {
		dispatcher, err := notifications.NewDispatcher(outboxSvc, p.DB, p.Logger, true)
		if err != nil {
			return nil, fmt.Errorf("notifications dispatcher: %w", err)
		}
		notifier = dispatcher
	}

	store, err := orders.NewService(orders.NewRepository(p.DB.DB()), p.DB)
	if err != nil {
		return nil, fmt.Errorf("orders store: %w", err)
	}

	ledger, err := credits.NewService(credits.ServiceParams{
		Repo:     credits.NewRepository(p.DB.DB()),
		Orders:   store,
		Tx:       p.DB,
		Notifier: notifier,
		Metrics:  m,
		Logger:   p.Logger,
		Config:   cfg.Credits,
	})
	if err != nil {
		return nil, fmt.Errorf("credit ledger: %w", err)
	}

	httpClient := p.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	provider, err := generation.NewProvider(cfg, httpClient)
	if err != nil {
		return nil, fmt.Errorf("generation provider: %w", err)
	}
	gateway, err := generation.NewGateway(provider,
		generation.WithMetrics(m),
		generation.WithLogger(p.Logger),
	)
	if err != nil {
		return nil, fmt.Errorf("generation gateway: %w", err)
	}

	marker, err := recovery.NewMarker(store, m, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("recovery marker: %w", err)
	}

	var locker orchestrator.Locker
	if cfg.FeatureFlags.DistributedApproval && p.Redis != nil {
		redisLocker, err := orchestrator.NewRedisLocker(p.Redis)
		if err != nil {
			return nil, fmt.Errorf("approval locker: %w", err)
		}
		locker = redisLocker
	}

	orch, err := orchestrator.New(orchestrator.Params{
		Orders:     store,
		Gateway:    gateway,
		Recovery:   marker,
		Notifier:   notifier,
		Locker:     locker,
		Logger:     p.Logger,
		Config:     cfg.Orchestrator,
		Generation: cfg.Generation,
	})
	if err != nil {
		return nil, fmt.Errorf("orchestrator: %w", err)
	}

	coordinator, err := recovery.NewCoordinator(recovery.CoordinatorParams{
		Orders:    store,
		Processor: orch,
		Marker:    marker,
		Logger:    p.Logger,
		Config:    cfg.Orchestrator,
	})
	if err != nil {
		return nil, fmt.Errorf("recovery coordinator: %w", err)
	}

	music, err := orders.NewMusicStage(store, notifier, p.Logger)
	if err != nil {
		return nil, fmt.Errorf("music stage: %w", err)
	}

	return &Graph{
		Orders:       store,
		Credits:      ledger,
		Notifier:     notifier,
		Outbox:       outboxSvc,
		OutboxRepo:   outboxRepo,
		Orchestrator: orch,
		Coordinator:  coordinator,
		Music:        music,
		Metrics:      m,
	}, nil
}
