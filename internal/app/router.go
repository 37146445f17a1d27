package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	activitieshttp "github.com/bizpulse/bizpulse/internal/activities/http"
	kpihttp "github.com/bizpulse/bizpulse/internal/kpi/http"
	messaginghttp "github.com/bizpulse/bizpulse/internal/messaging/http"
	"github.com/bizpulse/bizpulse/internal/observability"
	"github.com/bizpulse/bizpulse/internal/platform/httpx"
	transactionshttp "github.com/bizpulse/bizpulse/internal/transactions/http"
	"github.com/bizpulse/bizpulse/jobs"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger              *slog.Logger
	Config              *Config
	Metrics             *observability.Metrics
	Database            Pinger
	KPIHandler          *kpihttp.Handler
	TransactionsHandler *transactionshttp.Handler
	ActivitiesHandler   *activitieshttp.Handler
	MessagingHandler    *messaginghttp.Handler
	JobHandler          *jobs.Handler
}

// NewRouter constructs the chi.Router with BizPulse defaults.
func NewRouter(params RouterParams) http.Handler {
	if params.Logger == nil {
		params.Logger = slog.Default()
	}
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusNotFound, "route not found", "")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		httpx.Fail(w, http.StatusMethodNotAllowed, "method not allowed", "")
	})

	r.Get("/healthz", healthHandler(params.Database, params.Logger))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(chimw.Timeout(RequestTimeout(params.Config)))
			params.KPIHandler.MountRoutes(r)
			params.TransactionsHandler.MountRoutes(r)
			params.ActivitiesHandler.MountRoutes(r)
			if params.JobHandler != nil {
				r.Route("/jobs", params.JobHandler.MountRoutes)
			}
		})
		// A synchronous bulk send runs for len(recipients) * delay, so the
		// messaging routes are mounted outside the request timeout.
		params.MessagingHandler.MountRoutes(r)
	})

	return r
}

func healthHandler(db Pinger, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				logger.Warn("health check database ping", slog.Any("error", err))
				httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
				return
			}
		}
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
