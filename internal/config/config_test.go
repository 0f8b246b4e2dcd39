package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func envMap(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestFromEnv_Defaults(t *testing.T) {
	cfg, err := FromEnv(envMap(nil))
	require.NoError(t, err)

	assert.Equal(t, "8787", cfg.Port)
	assert.Equal(t, ":8787", cfg.Addr())
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "authorization", cfg.WebhookSignatureHeader)
	assert.Equal(t, "bearer", cfg.WebhookSignatureType)
	assert.Equal(t, "default", cfg.BillingProvider)
	assert.Equal(t, "pro", cfg.ProEntitlementID)
	assert.Equal(t, 100, cfg.WebhookRateLimit)
	assert.Equal(t, "client", cfg.SyncMode)
	assert.Equal(t, "stub", cfg.AuthMode)
	assert.Equal(t, BackendMemory, cfg.StorageBackend)
	assert.Equal(t, 10, cfg.DatabasePoolMax)
	assert.True(t, cfg.DatabaseMigrate)
	assert.False(t, cfg.CacheEnabled, "read cache is opt-in")
	assert.False(t, cfg.TrustProxyHeaders)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
	assert.Zero(t, cfg.LedgerRetention)
	assert.Empty(t, cfg.AuthAudience)
}

func TestFromEnv_Overrides(t *testing.T) {
	cfg, err := FromEnv(envMap(map[string]string{
		"PORT":                           "9000",
		"BILLING_WEBHOOK_SIGNATURE_TYPE": "HMAC-SHA256",
		"ENTITLEMENTS_SYNC_MODE":         "server",
		"AUTH_MODE":                      "jwt",
		"AUTH_JWKS_URL":                  "https://issuer.example.com/.well-known/jwks.json",
		"AUTH_AUDIENCE":                  "app, admin ,",
		"STORAGE_BACKEND":                "tiered",
		"DATABASE_URL":                   "postgres://localhost/db",
		"REDIS_ADDR":                     "localhost:6379",
		"LEDGER_RETENTION":               "720h",
		"CACHE_ENABLED":                  "true",
		"BILLING_WEBHOOK_RATE_LIMIT":     "0",
	}))
	require.NoError(t, err)

	assert.Equal(t, "hmac-sha256", cfg.WebhookSignatureType)
	assert.Equal(t, "server", cfg.SyncMode)
	assert.Equal(t, []string{"app", "admin"}, cfg.AuthAudience)
	assert.Equal(t, 720*time.Hour, cfg.LedgerRetention)
	assert.True(t, cfg.CacheEnabled)
	assert.Equal(t, 0, cfg.WebhookRateLimit)
}

func TestFromEnv_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad sync mode", map[string]string{"ENTITLEMENTS_SYNC_MODE": "both"}},
		{"bad signature type", map[string]string{"BILLING_WEBHOOK_SIGNATURE_TYPE": "md5"}},
		{"jwt without jwks", map[string]string{"AUTH_MODE": "jwt"}},
		{"postgres without url", map[string]string{"STORAGE_BACKEND": "postgres"}},
		{"redis without addr", map[string]string{"STORAGE_BACKEND": "redis"}},
		{"tiered without redis", map[string]string{"STORAGE_BACKEND": "tiered", "DATABASE_URL": "postgres://x/db"}},
		{"firestore without project", map[string]string{"STORAGE_BACKEND": "firestore"}},
		{"unknown backend", map[string]string{"STORAGE_BACKEND": "mysql"}},
		{"non-numeric port", map[string]string{"PORT": "http"}},
		{"bad duration", map[string]string{"CACHE_TTL": "soon"}},
		{"bad bool", map[string]string{"CACHE_ENABLED": "maybe"}},
		{"bad int", map[string]string{"REDIS_DB": "one"}},
		{"negative rate limit", map[string]string{"BILLING_WEBHOOK_RATE_LIMIT": "-1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromEnv(envMap(tt.env))
			assert.Error(t, err)
		})
	}
}
