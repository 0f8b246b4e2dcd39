// Package config builds the service configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Storage backends
const (
	BackendMemory    = "memory"
	BackendPostgres  = "postgres"
	BackendRedis     = "redis"
	BackendFirestore = "firestore"
	BackendTiered    = "tiered"
)

// Config is the full service configuration. It is built once at startup.
type Config struct {
	Port      string `validate:"required,numeric"`
	LogLevel  string `validate:"oneof=trace debug info warn error"`
	LogFormat string `validate:"oneof=json console"`

	// CORSOrigin enables CORS headers for one origin; empty disables them
	CORSOrigin string

	// TrustProxyHeaders takes the client address from X-Forwarded-For /
	// X-Real-IP. Only set it behind a proxy that overwrites those headers.
	TrustProxyHeaders bool

	// Billing webhook
	WebhookSecret          string
	WebhookSignatureHeader string `validate:"required"`
	WebhookSignatureType   string `validate:"oneof=bearer hmac-sha256"`
	BillingProvider        string `validate:"required"`
	ProEntitlementID       string `validate:"required"`
	WebhookRateLimit       int    `validate:"gte=0"`
	RevenueCatAPIKey       string

	SyncMode string `validate:"oneof=client server"`

	// Identity
	AuthMode     string `validate:"oneof=stub jwt"`
	AuthJWKSURL  string `validate:"required_if=AuthMode jwt,omitempty,url"`
	AuthIssuer   string
	AuthAudience []string

	// Storage
	StorageBackend     string `validate:"oneof=memory postgres redis firestore tiered"`
	DatabaseURL        string
	DatabasePoolMax    int `validate:"gte=1"`
	DatabaseMigrate    bool
	RedisAddr          string
	RedisPassword      string
	RedisDB            int `validate:"gte=0"`
	FirestoreProjectID string
	LedgerRetention    time.Duration `validate:"gte=0"`

	// CacheEnabled turns on the per-process read cache. Writes made by other
	// replicas stay invisible to this one for up to CacheTTL.
	CacheEnabled bool
	CacheTTL     time.Duration `validate:"gte=0"`
}

// Load reads an optional .env file and builds the configuration from the
// process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds the configuration from getenv, applying defaults.
func FromEnv(getenv func(string) string) (*Config, error) {
	r := &envReader{getenv: getenv}

	cfg := &Config{
		Port:       r.str("PORT", "8787"),
		LogLevel:   strings.ToLower(r.str("LOG_LEVEL", "info")),
		LogFormat:  strings.ToLower(r.str("LOG_FORMAT", "json")),
		CORSOrigin: r.str("CORS_ORIGIN", ""),

		TrustProxyHeaders: r.boolean("TRUST_PROXY_HEADERS", false),

		WebhookSecret:          r.str("BILLING_WEBHOOK_SECRET", ""),
		WebhookSignatureHeader: r.str("BILLING_WEBHOOK_SIGNATURE_HEADER", "authorization"),
		WebhookSignatureType:   strings.ToLower(r.str("BILLING_WEBHOOK_SIGNATURE_TYPE", "bearer")),
		BillingProvider:        r.str("BILLING_PROVIDER", "default"),
		ProEntitlementID:       r.str("BILLING_PRO_ENTITLEMENT_ID", "pro"),
		WebhookRateLimit:       r.integer("BILLING_WEBHOOK_RATE_LIMIT", 100),
		RevenueCatAPIKey:       r.str("REVENUECAT_API_KEY", ""),

		SyncMode: strings.ToLower(r.str("ENTITLEMENTS_SYNC_MODE", "client")),

		AuthMode:     strings.ToLower(r.str("AUTH_MODE", "stub")),
		AuthJWKSURL:  r.str("AUTH_JWKS_URL", ""),
		AuthIssuer:   r.str("AUTH_ISSUER", ""),
		AuthAudience: splitList(r.str("AUTH_AUDIENCE", "")),

		StorageBackend:     strings.ToLower(r.str("STORAGE_BACKEND", BackendMemory)),
		DatabaseURL:        r.str("DATABASE_URL", ""),
		DatabasePoolMax:    r.integer("DATABASE_POOL_MAX", 10),
		DatabaseMigrate:    r.boolean("DATABASE_MIGRATE", true),
		RedisAddr:          r.str("REDIS_ADDR", ""),
		RedisPassword:      r.str("REDIS_PASSWORD", ""),
		RedisDB:            r.integer("REDIS_DB", 0),
		FirestoreProjectID: r.str("FIRESTORE_PROJECT_ID", ""),
		LedgerRetention:    r.duration("LEDGER_RETENTION", 0),

		CacheEnabled: r.boolean("CACHE_ENABLED", false),
		CacheTTL:     r.duration("CACHE_TTL", 30*time.Second),
	}

	if len(r.errs) > 0 {
		return nil, errors.Join(r.errs...)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validate = validator.New()

// Validate checks field constraints and the settings each storage backend needs.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.StorageBackend {
	case BackendPostgres:
		if c.DatabaseURL == "" {
			return errors.New("invalid config: DATABASE_URL is required for the postgres backend")
		}
	case BackendRedis:
		if c.RedisAddr == "" {
			return errors.New("invalid config: REDIS_ADDR is required for the redis backend")
		}
	case BackendTiered:
		if c.DatabaseURL == "" || c.RedisAddr == "" {
			return errors.New("invalid config: DATABASE_URL and REDIS_ADDR are required for the tiered backend")
		}
	case BackendFirestore:
		if c.FirestoreProjectID == "" {
			return errors.New("invalid config: FIRESTORE_PROJECT_ID is required for the firestore backend")
		}
	}
	return nil
}

// Addr is the listen address for the HTTP server.
func (c *Config) Addr() string {
	return ":" + c.Port
}

type envReader struct {
	getenv func(string) string
	errs   []error
}

func (r *envReader) str(key, def string) string {
	if v := strings.TrimSpace(r.getenv(key)); v != "" {
		return v
	}
	return def
}

func (r *envReader) integer(key string, def int) int {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return def
	}
	return n
}

func (r *envReader) boolean(key string, def bool) bool {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return def
	}
	return b
}

func (r *envReader) duration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(r.getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		r.errs = append(r.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return def
	}
	return d
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
