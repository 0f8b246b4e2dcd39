package billing_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
	"github.com/mihaimyh/goentitle/storage/memory"
)

const (
	testSecret   = "whsec_test"
	testProvider = "revenuecat"
	e2ePayload   = `{"event":{"id":"evt_1","app_user_id":"u1","entitlement_ids":["pro"]}}`
)

type harness struct {
	handler http.Handler
	store   *memory.Storage
	applied []*billing.WebhookEvent
}

func newHarness(t *testing.T, mutate func(*billing.Config)) *harness {
	t.Helper()
	h := &harness{store: memory.New()}
	rec, err := entitlement.NewReconciler(h.store, entitlement.Config{})
	require.NoError(t, err)

	cfg := billing.Config{
		Reconciler:       rec,
		Provider:         testProvider,
		ProEntitlementID: "pro",
		WebhookSecret:    testSecret,
		SignatureHeader:  "X-Signature",
		SignatureType:    billing.SignatureHMACSHA256,
		RateLimit:        -1,
		OnApplied: func(_ context.Context, ev *billing.WebhookEvent, _ *entitlement.Entitlement) {
			h.applied = append(h.applied, ev)
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	wh, err := billing.NewWebhookHandler(cfg)
	require.NoError(t, err)
	h.handler = wh.Handler()
	return h
}

func (h *harness) post(body, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(body))
	if signature != "" {
		req.Header.Set("X-Signature", signature)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestWebhook_EndToEnd_Idempotent(t *testing.T) {
	h := newHarness(t, nil)
	sig := billing.SignHMAC(testSecret, []byte(e2ePayload))

	rec := h.post(e2ePayload, sig)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, map[string]interface{}{"ok": true}, decode(t, rec))

	ent, err := h.store.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, ent.IsPro)
	assert.Equal(t, testProvider, ent.Source)
	firstUpdate := ent.UpdatedAt

	rec = h.post(e2ePayload, sig)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{"ok": true, "duplicate": true}, decode(t, rec))

	ent, err = h.store.GetEntitlement(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, firstUpdate, ent.UpdatedAt, "duplicate must not touch the row")
	assert.Len(t, h.applied, 1)
}

func TestWebhook_Rejections(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		signature func(body string) string
		wantCode  int
		wantError string
	}{
		{
			name:      "missing signature",
			body:      e2ePayload,
			signature: func(string) string { return "" },
			wantCode:  http.StatusUnauthorized,
			wantError: "invalid signature",
		},
		{
			name:      "signature over different body",
			body:      e2ePayload,
			signature: func(string) string { return billing.SignHMAC(testSecret, []byte(`{}`)) },
			wantCode:  http.StatusUnauthorized,
			wantError: "invalid signature",
		},
		{
			name:      "invalid json",
			body:      `{"event":`,
			signature: func(b string) string { return billing.SignHMAC(testSecret, []byte(b)) },
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid JSON payload.",
		},
		{
			name:      "empty body",
			body:      ``,
			signature: func(b string) string { return billing.SignHMAC(testSecret, []byte(b)) },
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid JSON payload.",
		},
		{
			name:      "not normalizable",
			body:      `{"event":{"id":"evt_1","is_pro":true}}`,
			signature: func(b string) string { return billing.SignHMAC(testSecret, []byte(b)) },
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid billing payload.",
		},
		{
			name:      "json array",
			body:      `[1,2]`,
			signature: func(b string) string { return billing.SignHMAC(testSecret, []byte(b)) },
			wantCode:  http.StatusBadRequest,
			wantError: "Invalid billing payload.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, nil)
			rec := h.post(tt.body, tt.signature(tt.body))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantError, decode(t, rec)["error"])

			_, err := h.store.GetEntitlement(context.Background(), "u1")
			assert.ErrorIs(t, err, entitlement.ErrEntitlementNotFound, "rejected requests must not write")
			ev, _ := h.store.GetEvent(context.Background(), "evt_1")
			assert.Nil(t, ev, "rejected requests must not touch the ledger")
		})
	}
}

func TestWebhook_BearerMode(t *testing.T) {
	h := newHarness(t, func(c *billing.Config) {
		c.SignatureType = billing.SignatureBearer
	})

	rec := h.post(e2ePayload, "bearer "+testSecret)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = h.post(`{"event":{"id":"evt_2","app_user_id":"u1","is_pro":false}}`, "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWebhook_FailOpen(t *testing.T) {
	h := newHarness(t, func(c *billing.Config) {
		c.WebhookSecret = ""
	})

	rec := h.post(e2ePayload, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	h := newHarness(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/billing/webhook", http.NoBody)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
}

func TestWebhook_PayloadTooLarge(t *testing.T) {
	h := newHarness(t, func(c *billing.Config) {
		c.MaxBodyBytes = 16
	})

	rec := h.post(e2ePayload, billing.SignHMAC(testSecret, []byte(e2ePayload)))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

// brokenStorage fails every atomic apply.
type brokenStorage struct {
	*memory.Storage
}

func (brokenStorage) ApplyEvent(context.Context, *entitlement.ProcessedEvent,
	*entitlement.Entitlement) (bool, *entitlement.Entitlement, error) {
	return false, nil, entitlement.ErrStorageUnavailable
}

func TestWebhook_StorageFailureIs500(t *testing.T) {
	rec, err := entitlement.NewReconciler(brokenStorage{memory.New()}, entitlement.Config{})
	require.NoError(t, err)
	wh, err := billing.NewWebhookHandler(billing.Config{Reconciler: rec, SignatureType: billing.SignatureBearer})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/billing/webhook", strings.NewReader(e2ePayload))
	resp := httptest.NewRecorder()
	wh.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.NotContains(t, resp.Body.String(), "duplicate")
}

func TestWebhook_RateLimited(t *testing.T) {
	h := newHarness(t, func(c *billing.Config) {
		c.RateLimit = 1
	})
	sig := billing.SignHMAC(testSecret, []byte(e2ePayload))

	assert.Equal(t, http.StatusOK, h.post(e2ePayload, sig).Code)
	assert.Equal(t, http.StatusTooManyRequests, h.post(e2ePayload, sig).Code)
}

func TestNewWebhookHandler_Validation(t *testing.T) {
	_, err := billing.NewWebhookHandler(billing.Config{})
	assert.ErrorIs(t, err, billing.ErrProviderNotConfigured)

	rec, err := entitlement.NewReconciler(memory.New(), entitlement.Config{})
	require.NoError(t, err)
	_, err = billing.NewWebhookHandler(billing.Config{Reconciler: rec, SignatureType: "rsa"})
	assert.ErrorIs(t, err, billing.ErrUnsupportedSignatureType)
}
