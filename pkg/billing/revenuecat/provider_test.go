package revenuecat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
	"github.com/mihaimyh/goentitle/storage/memory"
)

const (
	testAPIKey = "sk_test_key"
	testUserID = "user_123"
)

func newTestProvider(t *testing.T, serverURL string) (*Provider, *memory.Storage) {
	t.Helper()
	store := memory.New()
	rec, err := entitlement.NewReconciler(store, entitlement.Config{})
	require.NoError(t, err)

	p, err := NewProvider(billing.Config{
		Reconciler: rec,
		APIKey:     "Bearer " + testAPIKey,
		RateLimit:  -1,
	}, WithBaseURL(serverURL))
	require.NoError(t, err)
	return p, store
}

func subscriberServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer "+testAPIKey, r.Header.Get("Authorization"))
		assert.Equal(t, "/subscribers/"+testUserID, r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewProvider_Defaults(t *testing.T) {
	_, err := NewProvider(billing.Config{})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)

	p, _ := newTestProvider(t, "http://unused")
	assert.Equal(t, "revenuecat", p.Name())
	assert.Equal(t, testAPIKey, p.apiKey)
	assert.Equal(t, "pro", p.proEntitlementID)
	assert.NotNil(t, p.WebhookHandler())
}

func TestProvider_SyncUser_ActiveEntitlement(t *testing.T) {
	future := time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
	srv := subscriberServer(t, http.StatusOK,
		`{"subscriber":{"entitlements":{"pro":{"expires_date":"`+future+`","product_identifier":"monthly"}}}}`)
	p, store := newTestProvider(t, srv.URL)

	ent, err := p.SyncUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.True(t, ent.IsPro)
	assert.Equal(t, "revenuecat", ent.Source)

	stored, err := store.GetEntitlement(context.Background(), testUserID)
	require.NoError(t, err)
	assert.True(t, stored.IsPro)
}

func TestProvider_SyncUser_LifetimeEntitlement(t *testing.T) {
	srv := subscriberServer(t, http.StatusOK,
		`{"subscriber":{"entitlements":{"pro":{"expires_date":null,"product_identifier":"lifetime"}}}}`)
	p, _ := newTestProvider(t, srv.URL)

	ent, err := p.SyncUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.True(t, ent.IsPro)
}

func TestProvider_SyncUser_ExpiredEntitlement(t *testing.T) {
	srv := subscriberServer(t, http.StatusOK,
		`{"subscriber":{"entitlements":{"pro":{"expires_date":"2020-01-01T00:00:00Z"}}}}`)
	p, _ := newTestProvider(t, srv.URL)

	ent, err := p.SyncUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.False(t, ent.IsPro)
	assert.Equal(t, "revenuecat", ent.Source)
}

func TestProvider_SyncUser_NotFound(t *testing.T) {
	srv := subscriberServer(t, http.StatusNotFound, `{"code":7259,"message":"not found"}`)
	p, _ := newTestProvider(t, srv.URL)

	ent, err := p.SyncUser(context.Background(), testUserID)
	require.NoError(t, err)
	assert.False(t, ent.IsPro)
}

func TestProvider_SyncUser_ServerError(t *testing.T) {
	srv := subscriberServer(t, http.StatusInternalServerError, `boom`)
	p, store := newTestProvider(t, srv.URL)

	_, err := p.SyncUser(context.Background(), testUserID)
	require.Error(t, err)
	assert.ErrorIs(t, err, billing.ErrProviderAPIError)
	assert.True(t, strings.Contains(err.Error(), "500"))

	_, err = store.GetEntitlement(context.Background(), testUserID)
	assert.ErrorIs(t, err, entitlement.ErrEntitlementNotFound)
}

func TestProvider_SyncUser_MalformedResponse(t *testing.T) {
	srv := subscriberServer(t, http.StatusOK, `{"subscriber":`)
	p, _ := newTestProvider(t, srv.URL)

	_, err := p.SyncUser(context.Background(), testUserID)
	assert.ErrorIs(t, err, billing.ErrProviderAPIError)
}

func TestProvider_SyncUser_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()
	p, store := newTestProvider(t, addr)

	_, err := p.SyncUser(context.Background(), testUserID)
	assert.ErrorIs(t, err, billing.ErrProviderAPIError)

	_, err = store.GetEntitlement(context.Background(), testUserID)
	assert.ErrorIs(t, err, entitlement.ErrEntitlementNotFound)
}

func TestProvider_SyncUser_MissingAPIKey(t *testing.T) {
	rec, err := entitlement.NewReconciler(memory.New(), entitlement.Config{})
	require.NoError(t, err)
	p, err := NewProvider(billing.Config{Reconciler: rec})
	require.NoError(t, err)

	_, err = p.SyncUser(context.Background(), testUserID)
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)
}

func TestHasActiveEntitlement_CaseInsensitive(t *testing.T) {
	p := &Provider{proEntitlementID: "pro"}
	sub := &revenueCatSubscriber{Entitlements: map[string]revenueCatEntitlement{"Pro": {}}}
	assert.True(t, p.hasActiveEntitlement(sub, time.Now()))

	sub = &revenueCatSubscriber{Entitlements: map[string]revenueCatEntitlement{"plus": {}}}
	assert.False(t, p.hasActiveEntitlement(sub, time.Now()))
}

func TestParseRevenueCatTime(t *testing.T) {
	ts, err := parseRevenueCatTime("2030-05-01T10:00:00.123Z")
	require.NoError(t, err)
	assert.Equal(t, 2030, ts.Year())

	_, err = parseRevenueCatTime("")
	assert.Error(t, err)
	_, err = parseRevenueCatTime("yesterday")
	assert.Error(t, err)
}
