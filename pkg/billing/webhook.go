package billing

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/mihaimyh/goentitle/pkg/billing/internal"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Response bodies of the ingestion endpoint. Providers only look at the
// status code, so these stay stable and short.
const (
	msgInvalidSignature = "invalid signature"
	msgInvalidJSON      = "Invalid JSON payload."
	msgInvalidPayload   = "Invalid billing payload."
	msgInternal         = "internal error"
)

type webhookResponse struct {
	OK        bool `json:"ok"`
	Duplicate bool `json:"duplicate,omitempty"`
}

// WebhookHandler ingests billing webhooks: it verifies the raw body, normalizes
// the payload, gates it through the idempotency ledger and commits it.
type WebhookHandler struct {
	config     Config
	verifier   *Verifier
	normalizer *Normalizer
	reconciler *entitlement.Reconciler
	limiter    *internal.RateLimiter
	metrics    Metrics
	logger     entitlement.Logger
}

// NewWebhookHandler builds a handler from config.
func NewWebhookHandler(config Config) (*WebhookHandler, error) {
	cfg, err := config.withDefaults()
	if err != nil {
		return nil, err
	}

	h := &WebhookHandler{
		config:     cfg,
		verifier:   NewVerifier(cfg.WebhookSecret, cfg.SignatureType),
		normalizer: NewNormalizer(cfg.Provider, cfg.ProEntitlementID),
		reconciler: cfg.Reconciler,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if cfg.RateLimit > 0 {
		h.limiter = internal.NewRateLimiter(cfg.RateLimit, 0)
	}
	return h, nil
}

// Verifier exposes the configured signature verifier.
func (h *WebhookHandler) Verifier() *Verifier {
	return h.verifier
}

// Handler returns the handler wrapped with per-IP rate limiting when enabled.
func (h *WebhookHandler) Handler() http.Handler {
	if h.limiter == nil {
		return h
	}
	return h.limiter.Middleware(h)
}

// ServeHTTP implements http.Handler.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	provider := h.config.Provider
	internal.SetSecurityHeaders(w)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		internal.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	body, err := internal.ReadBodyLimited(w, r, h.config.MaxBodyBytes)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			h.reject(w, http.StatusRequestEntityTooLarge, "payload too large", "payload_too_large")
			return
		}
		h.reject(w, http.StatusBadRequest, msgInvalidJSON, "read_failed")
		return
	}

	if !h.verifier.Verify(body, r.Header.Get(h.config.SignatureHeader)) {
		h.reject(w, http.StatusUnauthorized, msgInvalidSignature, "auth_failed")
		return
	}
	if h.verifier.FailOpen() {
		h.logger.Debug("webhook accepted without verification", entitlement.Field{Key: "provider", Value: provider})
	}

	payload, err := decodePayload(body)
	if err != nil {
		h.reject(w, http.StatusBadRequest, msgInvalidJSON, "invalid_json")
		return
	}

	ev := h.normalizer.Normalize(payload)
	if ev == nil {
		h.reject(w, http.StatusBadRequest, msgInvalidPayload, "invalid_payload")
		return
	}

	ent, duplicate, err := h.reconciler.ApplyWebhookEvent(r.Context(), ev.EventID, ev.UserID, ev.IsPro, ev.Source)
	if err != nil {
		h.logger.Error("webhook processing failed",
			entitlement.Field{Key: "eventId", Value: ev.EventID},
			entitlement.Field{Key: "userId", Value: ev.UserID},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		h.metrics.RecordWebhookEvent(provider, "error")
		h.reject(w, http.StatusInternalServerError, msgInternal, "storage_error")
		return
	}

	status := "applied"
	if duplicate {
		status = "duplicate"
	} else if h.config.OnApplied != nil {
		h.config.OnApplied(r.Context(), ev, ent)
	}
	h.metrics.RecordWebhookEvent(provider, status)
	h.metrics.RecordWebhookProcessingDuration(provider, time.Since(start))

	_ = internal.WriteJSON(w, http.StatusOK, webhookResponse{OK: true, Duplicate: duplicate})
}

func (h *WebhookHandler) reject(w http.ResponseWriter, code int, msg, errorType string) {
	h.metrics.RecordWebhookError(h.config.Provider, errorType)
	internal.WriteError(w, code, msg)
}

// decodePayload parses body as a single JSON object.
func decodePayload(body []byte) (Payload, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, ErrInvalidJSON
	}
	obj, ok := v.(map[string]interface{})
	if !ok {
		// valid JSON that is not an object normalizes to nothing
		return Payload{}, nil
	}
	return Payload(obj), nil
}
