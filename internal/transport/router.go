package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/pitabwire/designer/internal/config"
	"github.com/pitabwire/designer/internal/designer"
	"github.com/pitabwire/designer/internal/observability"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config       *config.Config
	Logger       *zap.Logger
	Authenticate func(http.Handler) http.Handler
	Designers    *designer.Manager
	Metrics      *observability.Metrics

	HealthHandler  http.Handler
	ReadyHandler   http.Handler
	MetricsHandler http.Handler
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, and metrics endpoints bypass the
// authentication middleware.
func NewRouter(deps Dependencies) chi.Router {
	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(InjectLogger(deps.Logger))
	r.Use(Recovery)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(observability.TracingMiddleware)
	r.Use(CORS(deps.Config.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	// Public routes, outside authentication.
	r.Method(http.MethodGet, "/ui/health", orDefault(deps.HealthHandler, observability.HandleHealth()))
	r.Method(http.MethodGet, "/ui/ready", orDefault(deps.ReadyHandler, http.HandlerFunc(handleReady)))
	if deps.Config.Observability.Metrics.Enabled {
		path := deps.Config.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, orDefault(deps.MetricsHandler, observability.Handler()))
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = func(next http.Handler) http.Handler { return next }
	}

	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContextMiddleware(deps.Config.Identity.ClaimPaths))
		r.Use(RequireRole(deps.Config.Designer.AdminRole))
		r.Use(HandlerTimeout(deps.Config.Server.HandlerTimeout))
		r.Use(RequestLogging)

		h := &designerHandlers{designers: deps.Designers}
		r.Get("/designer/kinds", h.listKinds)
		r.Get("/designer/domains", h.listDomains)
		r.Post("/designer/sessions", h.open)
		r.Route("/designer/sessions/{sessionId}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Delete("/", h.close)
			r.Post("/panels/{index}/toggle", h.togglePanel)
			r.Post("/events", h.applyEvent)
			r.Post("/key", h.selectKey)
			r.Post("/submit", h.submit)
		})
	})

	return r
}

func orDefault(h, def http.Handler) http.Handler {
	if h != nil {
		return h
	}
	return def
}

func handleReady(w http.ResponseWriter, _ *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
