package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/stagegate/internal/config"
	"github.com/pitabwire/stagegate/internal/maintenance"
	"github.com/pitabwire/stagegate/internal/observability"
	"github.com/pitabwire/stagegate/internal/workflow"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Metrics      *observability.Metrics
	Engine       *workflow.Engine
	Maintenance  *maintenance.Service
	Authenticate func(http.Handler) http.Handler
	Readiness    observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(logger))
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes — bypass authentication.
	r.Get("/healthz", observability.HandleHealth())
	r.Get("/readyz", observability.HandleReady(deps.Readiness))
	if deps.Config.Observability.Metrics.Enabled {
		r.Method(http.MethodGet, deps.Config.Observability.Metrics.Path, observability.Handler())
	}

	// Authenticated routes — full middleware chain.
	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(observability.TracingMiddleware)
		r.Use(auth)
		r.Use(BuildRequestContext(deps.Config.Identity.AdminRole))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging(logger))
		if deps.Metrics != nil {
			r.Use(deps.Metrics.MetricsMiddleware)
		}

		r.Post("/v1/items", handleItemCreate(deps.Engine, deps.Metrics))
		r.Get("/v1/items/{itemID}", handleItemGet(deps.Engine))
		r.Post("/v1/items/{itemID}/advance", handleItemAdvance(deps.Engine, deps.Metrics))
		r.Post("/v1/items/{itemID}/restart", handleItemRestart(deps.Engine, deps.Metrics))
		r.Get("/v1/items/{itemID}/progress", handleItemProgress(deps.Engine))
		r.Get("/v1/items/{itemID}/history", handleItemHistory(deps.Engine))

		r.Get("/v1/maintenance/orphans", handleOrphans(deps.Maintenance, deps.Metrics))
		r.Post("/v1/maintenance/reassign", handleReassign(deps.Maintenance, deps.Metrics))
	})

	return r
}
