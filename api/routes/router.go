package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/cantora-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/cantora-backend/api/controllers/orders"
	"github.com/angelmondragon/cantora-backend/api/middleware"
	"github.com/angelmondragon/cantora-backend/pkg/auth"
	"github.com/angelmondragon/cantora-backend/pkg/config"
	"github.com/angelmondragon/cantora-backend/pkg/logger"
	pkgredis "github.com/angelmondragon/cantora-backend/pkg/redis"
)

// RedisStore backs request idempotency and rate limiting.
type RedisStore interface {
	pkgredis.IdempotencyStore
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	RateLimitKey(scope string) string
	Ping(ctx context.Context) error
}

// Services are the domain handlers the router exposes.
type Services struct {
	Orders   ordercontrollers.OrderReader
	Credits  ordercontrollers.CreditConsumer
	Flow     ordercontrollers.FlowRunner
	Recovery ordercontrollers.Recoverer
	Music    ordercontrollers.MusicStager
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP controllers.Pinger,
	redisClient RedisStore,
	metricsHandler http.Handler,
	svc Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	generationPolicy := middleware.NewRateLimitPolicy(
		"generation",
		cfg.RateLimit.GenerationWindow,
		cfg.RateLimit.GenerationIPLimit,
		cfg.RateLimit.GenerationUserLimit,
	)
	generationLimit := middleware.RateLimit(generationPolicy, redisClient, logg)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"db":    dbP,
			"redis": redisClient,
		}))
	})
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/v1/session", controllers.Session())

		r.Route("/v1/orders/{orderId}", func(r chi.Router) {
			r.Get("/status", ordercontrollers.Status(svc.Orders, logg))
			r.Post("/consume-credit", ordercontrollers.ConsumeCredit(svc.Credits, logg))
			r.With(generationLimit).Post("/process", ordercontrollers.Process(svc.Orders, svc.Flow, svc.Recovery, logg))
			r.With(generationLimit).Post("/approve", ordercontrollers.ApproveLyrics(svc.Orders, svc.Flow, logg))
			r.With(generationLimit).Post("/retry", ordercontrollers.Retry(svc.Orders, svc.Recovery, logg))
		})

		r.Route("/admin/v1/orders", func(r chi.Router) {
			r.Use(middleware.RequireRole(logg, auth.RoleAdmin))
			r.Get("/stuck", ordercontrollers.ListStuck(svc.Orders, cfg.Cron.StuckThreshold, logg))
			r.Route("/{orderId}", func(r chi.Router) {
				r.Post("/retry", ordercontrollers.Retry(svc.Orders, svc.Recovery, logg))
				r.Post("/cancel", ordercontrollers.Cancel(svc.Music, logg))
				r.Route("/music", func(r chi.Router) {
					r.Post("/generating", ordercontrollers.MusicGenerating(svc.Music, logg))
					r.Post("/ready", ordercontrollers.MusicReady(svc.Music, logg))
					r.Post("/complete", ordercontrollers.MusicComplete(svc.Music, logg))
				})
			})
		})
	})

	return r
}
