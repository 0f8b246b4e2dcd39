package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	httpmw "github.com/mihaimyh/goentitle/middleware/http"
	"github.com/mihaimyh/goentitle/pkg/api"
	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// RouterConfig lists what the service router mounts.
type RouterConfig struct {
	// API serves the authenticated /entitlements routes
	API *api.Handler

	// Webhook ingests billing provider events at POST /billing/webhook
	Webhook http.Handler

	// Verifier authenticates /entitlements callers
	Verifier auth.Verifier

	// Health is pinged by GET /health
	Health Pinger

	// Gatherer backs GET /metrics (default: prometheus.DefaultGatherer)
	Gatherer prometheus.Gatherer

	Metrics *HTTPMetrics
	Logger  zerolog.Logger

	// EntitlementLogger receives authentication failures
	EntitlementLogger entitlement.Logger

	// CORSOrigin enables CORS for one origin when set
	CORSOrigin string

	// TrustProxy rewrites RemoteAddr from X-Forwarded-For / X-Real-IP
	TrustProxy bool
}

// NewRouter builds the chi router for the entitlement service.
func NewRouter(cfg RouterConfig) *chi.Mux {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	if cfg.TrustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(AccessLog(cfg.Logger, cfg.Metrics))
	r.Use(middleware.Recoverer)
	if cfg.CORSOrigin != "" {
		r.Use(CORS(cfg.CORSOrigin))
	}

	r.Get("/health", Health(cfg.Health))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	r.Handle("/billing/webhook", cfg.Webhook)

	r.Route("/entitlements", func(r chi.Router) {
		r.Use(httpmw.Authenticate(cfg.Verifier, cfg.EntitlementLogger))
		r.Get("/", cfg.API.GetEntitlements)
		r.Post("/sync", cfg.API.Sync)
		r.Post("/restore", cfg.API.Restore)
	})

	return r
}
