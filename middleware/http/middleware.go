// Package http provides net/http middleware for authentication and pro
// entitlement gates
package http

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

type contextKey int

const (
	userIDKey contextKey = iota
	entitlementKey
)

// Default response bodies
const (
	MsgUnauthorized = "unauthorized"
	MsgProRequired  = "pro entitlement required"
	MsgUnavailable  = "entitlement unavailable"
)

// UserIDExtractor extracts the user ID from an HTTP request
// Return empty string if user is not authenticated
type UserIDExtractor func(r *http.Request) string

// WithUserID returns a copy of ctx carrying userID
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserIDFromContext returns the user ID stored by Authenticate
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(userIDKey).(string)
	return id
}

// EntitlementFromContext returns the entitlement loaded by RequirePro
func EntitlementFromContext(ctx context.Context) *entitlement.Entitlement {
	ent, _ := ctx.Value(entitlementKey).(*entitlement.Entitlement)
	return ent
}

// FromContext reads the user ID stored by Authenticate
func FromContext() UserIDExtractor {
	return func(r *http.Request) string {
		return UserIDFromContext(r.Context())
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(r *http.Request) string {
		return r.Header.Get(headerName)
	}
}

// Authenticate resolves the caller with verifier and stores the user ID in
// the request context. Unauthenticated requests get 401.
func Authenticate(verifier auth.Verifier, logger entitlement.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = &entitlement.NoopLogger{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := verifier.Verify(r.Context(), r)
			if err != nil || userID == "" {
				if err != nil {
					logger.Debug("authentication failed",
						entitlement.Field{Key: "path", Value: r.URL.Path},
						entitlement.Field{Key: "error", Value: err.Error()},
					)
				}
				WriteError(w, http.StatusUnauthorized, MsgUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), userID)))
		})
	}
}

// Config holds RequirePro configuration
type Config struct {
	// Reconciler resolves entitlements (required)
	Reconciler *entitlement.Reconciler

	// GetUserID extracts user ID from request
	// Default: FromContext()
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(w http.ResponseWriter, r *http.Request)

	// OnForbidden is called when the user is not pro
	// If nil, returns 403 JSON
	OnForbidden func(w http.ResponseWriter, r *http.Request, ent *entitlement.Entitlement)

	// OnError is called when the entitlement cannot be read
	// If nil, returns 503 JSON
	OnError func(w http.ResponseWriter, r *http.Request, err error)
}

// RequirePro creates an HTTP middleware that only lets pro users through.
// The loaded entitlement is available via EntitlementFromContext.
func RequirePro(config Config) func(http.Handler) http.Handler {
	if config.Reconciler == nil {
		panic("goentitle/http: Config.Reconciler is required")
	}
	if config.GetUserID == nil {
		config.GetUserID = FromContext()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID := config.GetUserID(r)
			if userID == "" {
				if config.OnUnauthorized != nil {
					config.OnUnauthorized(w, r)
				} else {
					WriteError(w, http.StatusUnauthorized, MsgUnauthorized)
				}
				return
			}

			ent, err := config.Reconciler.GetOrCreate(r.Context(), userID)
			if err != nil {
				if config.OnError != nil {
					config.OnError(w, r, err)
				} else {
					WriteError(w, http.StatusServiceUnavailable, MsgUnavailable)
				}
				return
			}

			if !ent.IsPro {
				if config.OnForbidden != nil {
					config.OnForbidden(w, r, ent)
				} else {
					WriteError(w, http.StatusForbidden, MsgProRequired)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), entitlementKey, ent)))
		})
	}
}

// HandlerFunc creates a RequirePro middleware for http.HandlerFunc chains
func HandlerFunc(config Config) func(http.HandlerFunc) http.HandlerFunc {
	middleware := RequirePro(config)
	return func(next http.HandlerFunc) http.HandlerFunc {
		return middleware(next).ServeHTTP
	}
}

// WriteError writes {"error": msg} with status code
func WriteError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
