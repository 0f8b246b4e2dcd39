// Package server wires configuration, storage, billing and identity into the
// entitlement HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mihaimyh/goentitle/internal/config"
	httpmw "github.com/mihaimyh/goentitle/middleware/http"
	"github.com/mihaimyh/goentitle/pkg/api"
	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/billing"
	billingprom "github.com/mihaimyh/goentitle/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/goentitle/pkg/billing/revenuecat"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
	entzerolog "github.com/mihaimyh/goentitle/pkg/entitlement/logger/zerolog"
	entprom "github.com/mihaimyh/goentitle/pkg/entitlement/metrics/prometheus"
)

const (
	metricsNamespace = "goentitle"
	shutdownTimeout  = 10 * time.Second
	pruneInterval    = time.Hour
)

// App is the assembled service.
type App struct {
	Config     *config.Config
	Handler    http.Handler
	Reconciler *entitlement.Reconciler

	logger       zerolog.Logger
	closeStorage func()
	stopPrune    context.CancelFunc
}

// NewLogger builds the service logger. format "console" writes human
// readable lines, anything else JSON.
func NewLogger(level, format string, w io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level %q: %w", level, err)
	}
	if format == "console" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(lvl).With().Timestamp().Logger(), nil
}

// New opens storage and builds the router. reg receives all service metrics
// and backs /metrics.
func New(ctx context.Context, cfg *config.Config, logger zerolog.Logger, reg *prometheus.Registry) (*App, error) {
	entLogger := entzerolog.NewLogger(&logger)

	opened, err := openStorage(ctx, cfg, entLogger)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s storage: %w", cfg.StorageBackend, err)
	}

	reconciler, err := newReconciler(cfg, opened.storage, entprom.NewMetrics(reg, metricsNamespace), entLogger)
	if err != nil {
		opened.close()
		return nil, err
	}

	billingCfg := billing.Config{
		Reconciler:       reconciler,
		Provider:         cfg.BillingProvider,
		ProEntitlementID: cfg.ProEntitlementID,
		WebhookSecret:    cfg.WebhookSecret,
		SignatureHeader:  cfg.WebhookSignatureHeader,
		SignatureType:    billing.SignatureType(cfg.WebhookSignatureType),
		APIKey:           cfg.RevenueCatAPIKey,
		RateLimit:        webhookRateLimit(cfg.WebhookRateLimit),
		Metrics:          billingprom.NewMetrics(reg, metricsNamespace),
		Logger:           entLogger,
	}

	var (
		webhook  http.Handler
		provider billing.Provider
	)
	if cfg.RevenueCatAPIKey != "" {
		rc, err := revenuecat.NewProvider(billingCfg)
		if err != nil {
			opened.close()
			return nil, fmt.Errorf("failed to create revenuecat provider: %w", err)
		}
		webhook, provider = rc.WebhookHandler(), rc
	} else {
		wh, err := billing.NewWebhookHandler(billingCfg)
		if err != nil {
			opened.close()
			return nil, fmt.Errorf("failed to create webhook handler: %w", err)
		}
		webhook = wh.Handler()
	}

	if cfg.WebhookSecret == "" {
		logger.Warn().Msg("BILLING_WEBHOOK_SECRET is empty: webhooks are accepted without verification")
	}

	verifier, err := newVerifier(cfg)
	if err != nil {
		opened.close()
		return nil, err
	}

	apiHandler, err := api.NewHandler(api.Config{
		Reconciler: reconciler,
		GetUserID:  httpmw.FromContext(),
		Provider:   provider,
		Logger:     entLogger,
	})
	if err != nil {
		opened.close()
		return nil, err
	}

	router := NewRouter(RouterConfig{
		API:               apiHandler,
		Webhook:           webhook,
		Verifier:          verifier,
		Health:            reconciler,
		Gatherer:          reg,
		Metrics:           NewHTTPMetrics(reg, metricsNamespace),
		Logger:            logger,
		EntitlementLogger: entLogger,
		CORSOrigin:        cfg.CORSOrigin,
		TrustProxy:        cfg.TrustProxyHeaders,
	})

	app := &App{
		Config:       cfg,
		Handler:      router,
		Reconciler:   reconciler,
		logger:       logger,
		closeStorage: opened.close,
		stopPrune:    func() {},
	}
	if cfg.LedgerRetention > 0 && !opened.prunes {
		app.startPruning(cfg.LedgerRetention)
	}

	logger.Info().
		Str("storage", cfg.StorageBackend).
		Str("sync_mode", cfg.SyncMode).
		Str("auth_mode", cfg.AuthMode).
		Str("billing_provider", cfg.BillingProvider).
		Bool("restore_enabled", provider != nil).
		Msg("entitlement service configured")

	return app, nil
}

func newReconciler(cfg *config.Config, storage entitlement.Storage, metrics entitlement.Metrics,
	logger entitlement.Logger) (*entitlement.Reconciler, error) {
	rc := entitlement.Config{
		SyncMode: entitlement.SyncMode(cfg.SyncMode),
		Metrics:  metrics,
		Logger:   logger,
	}
	if cfg.CacheEnabled {
		rc.CacheConfig = &entitlement.CacheConfig{Enabled: true, TTL: cfg.CacheTTL, MaxEntries: 10000}
		rc.FallbackConfig = &entitlement.FallbackConfig{Enabled: true}
	}
	if cfg.StorageBackend != config.BackendMemory {
		rc.CircuitBreakerConfig = &entitlement.CircuitBreakerConfig{Enabled: true}
	}
	return entitlement.NewReconciler(storage, rc)
}

func newVerifier(cfg *config.Config) (auth.Verifier, error) {
	if cfg.AuthMode != "jwt" {
		return auth.StubVerifier{}, nil
	}
	v, err := auth.NewJWTVerifier(auth.JWTConfig{
		JWKSURL:  cfg.AuthJWKSURL,
		Issuer:   cfg.AuthIssuer,
		Audience: cfg.AuthAudience,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create jwt verifier: %w", err)
	}
	return v, nil
}

// webhookRateLimit maps the env setting (0 disables) onto billing.Config,
// where 0 selects the default and a negative value disables.
func webhookRateLimit(perSecond int) float64 {
	if perSecond <= 0 {
		return -1
	}
	return float64(perSecond)
}

func (a *App) startPruning(retention time.Duration) {
	ctx, cancel := context.WithCancel(context.Background())
	a.stopPrune = cancel

	go func() {
		ticker := time.NewTicker(pruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := a.Reconciler.PruneEvents(ctx, retention); err != nil {
					a.logger.Error().Err(err).Msg("ledger pruning failed")
				}
			}
		}
	}()
}

// Run serves HTTP until ctx is cancelled, then drains in-flight requests.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.Addr(),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", srv.Addr).Msg("starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}
	return nil
}

// Close stops background work and releases storage.
func (a *App) Close() {
	a.stopPrune()
	a.closeStorage()
}
