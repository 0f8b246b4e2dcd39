package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/billing"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

const maxUserIDLen = 255

// Error messages returned to clients.
const (
	msgUnauthorized       = "unauthorized"
	msgInvalidJSON        = "Invalid JSON payload."
	msgIsProNotBoolean    = "isPro must be boolean."
	msgSourceNotString    = "source must be a string."
	msgSyncDisabled       = "Client sync disabled."
	msgRestoreUnavailable = "restore not configured"
	msgUnavailable        = "entitlement storage unavailable"
	msgInternal           = "internal error"
)

// requestError pairs a client-facing message with its status code
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string {
	return e.msg
}

// Handler provides HTTP endpoints for entitlement read, client sync and restore
type Handler struct {
	config Config
}

// GetEntitlements returns the caller's entitlement, creating the default
// record on first access.
func (h *Handler) GetEntitlements(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ent, err := h.config.Reconciler.GetOrCreate(r.Context(), userID)
	if err != nil {
		h.storageError(w, r, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntitlementResponse(ent))
}

// Sync applies client-observed purchase state for the caller.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	if err := h.config.Reconciler.CheckSync(); err != nil {
		h.handleError(w, r, &requestError{http.StatusForbidden, msgSyncDisabled})
		return
	}

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	req, err := h.decodeSync(r)
	if err != nil {
		h.handleError(w, r, err)
		return
	}

	ent, err := h.config.Reconciler.Sync(r.Context(), userID, req.IsPro, req.Source)
	if err != nil {
		if errors.Is(err, entitlement.ErrClientSyncDisabled) {
			h.handleError(w, r, &requestError{http.StatusForbidden, msgSyncDisabled})
			return
		}
		h.storageError(w, r, userID, err)
		return
	}
	writeJSON(w, http.StatusOK, newEntitlementResponse(ent))
}

// Restore asks the billing provider for the caller's state and applies it.
func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	if h.config.Provider == nil {
		h.handleError(w, r, &requestError{http.StatusNotImplemented, msgRestoreUnavailable})
		return
	}

	userID, ok := h.userID(w, r)
	if !ok {
		return
	}

	ent, err := h.config.Provider.SyncUser(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrProviderNotConfigured):
			h.handleError(w, r, &requestError{http.StatusNotImplemented, msgRestoreUnavailable})
		case errors.Is(err, billing.ErrProviderAPIError):
			h.config.Logger.Warn("restore failed at provider",
				entitlement.Field{Key: "userId", Value: userID},
				entitlement.Field{Key: "provider", Value: h.config.Provider.Name()},
				entitlement.Field{Key: "error", Value: err.Error()},
			)
			h.handleError(w, r, &requestError{http.StatusBadGateway, "billing provider error"})
		default:
			h.storageError(w, r, userID, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, newEntitlementResponse(ent))
}

func (h *Handler) userID(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID := h.config.GetUserID(r)
	if userID == "" || len(userID) > maxUserIDLen {
		h.handleError(w, r, &requestError{http.StatusUnauthorized, msgUnauthorized})
		return "", false
	}
	return userID, true
}

// decodeSync validates the body field by field so that each failure maps to
// its own message.
func (h *Handler) decodeSync(r *http.Request) (*SyncRequest, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.config.MaxBodyBytes+1))
	if err != nil || int64(len(body)) > h.config.MaxBodyBytes {
		return nil, &requestError{http.StatusBadRequest, msgInvalidJSON}
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	var raw interface{}
	if err := dec.Decode(&raw); err != nil || dec.More() {
		return nil, &requestError{http.StatusBadRequest, msgInvalidJSON}
	}

	fields, _ := raw.(map[string]interface{})
	isPro, ok := fields["isPro"].(bool)
	if !ok {
		return nil, &requestError{http.StatusBadRequest, msgIsProNotBoolean}
	}

	req := &SyncRequest{IsPro: isPro}
	switch src := fields["source"].(type) {
	case nil:
		req.Source = entitlement.SourceClient
	case string:
		req.Source = src
	default:
		return nil, &requestError{http.StatusBadRequest, msgSourceNotString}
	}
	return req, nil
}

func (h *Handler) storageError(w http.ResponseWriter, r *http.Request, userID string, err error) {
	switch {
	case errors.Is(err, entitlement.ErrInvalidUserID):
		h.handleError(w, r, &requestError{http.StatusUnauthorized, msgUnauthorized})
	case errors.Is(err, entitlement.ErrCircuitOpen), errors.Is(err, entitlement.ErrStorageUnavailable):
		h.handleError(w, r, &requestError{http.StatusServiceUnavailable, msgUnavailable})
	default:
		h.config.Logger.Error("entitlement request failed",
			entitlement.Field{Key: "userId", Value: userID},
			entitlement.Field{Key: "path", Value: r.URL.Path},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		h.handleError(w, r, fmt.Errorf("%s: %w", msgInternal, err))
	}
}

// handleError handles errors with appropriate HTTP status codes. Errors that
// are not request errors answer 500 without leaking their text.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	if h.config.OnError != nil {
		h.config.OnError(w, r, err)
		return
	}

	var reqErr *requestError
	if errors.As(err, &reqErr) {
		writeJSON(w, reqErr.status, ErrorResponse{Error: reqErr.msg})
		return
	}
	writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: msgInternal})
}

// StatusCode reports the HTTP status an error returned to OnError maps to.
func StatusCode(err error) int {
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		return reqErr.status
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// response already started
		_ = err
	}
}
