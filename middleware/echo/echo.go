// Package echo provides Echo middleware for authentication and pro entitlement gates
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Context keys set by the middleware
const (
	UserIDKey      = "goentitle.userID"
	EntitlementKey = "goentitle.entitlement"
)

// UserIDExtractor extracts the user ID from an Echo context
// Return empty string if user is not authenticated
type UserIDExtractor func(c echo.Context) string

// Config holds middleware configuration
type Config struct {
	// Reconciler resolves entitlements (required)
	Reconciler *entitlement.Reconciler

	// GetUserID extracts user ID from context
	// Default: FromContext(UserIDKey)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c echo.Context) error

	// OnForbidden is called when the user is not pro
	// If nil, returns 403 JSON
	OnForbidden func(c echo.Context, ent *entitlement.Entitlement) error

	// OnError is called when the entitlement cannot be read
	// If nil, returns 503 JSON
	OnError func(c echo.Context, err error) error
}

// Authenticate resolves the caller with verifier and stores the user ID under UserIDKey
func Authenticate(verifier auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			userID, err := verifier.Verify(req.Context(), req)
			if err != nil || userID == "" {
				return defaultUnauthorized(c)
			}
			c.Set(UserIDKey, userID)
			return next(c)
		}
	}
}

// RequirePro creates an Echo middleware that only lets pro users through
func RequirePro(cfg Config) echo.MiddlewareFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Reconciler == nil {
		panic("goentitle/echo: Config.Reconciler is required")
	}
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromContext(UserIDKey)
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			userID := cfg.GetUserID(c)
			if userID == "" {
				if cfg.OnUnauthorized != nil {
					return cfg.OnUnauthorized(c)
				}
				return defaultUnauthorized(c)
			}

			ent, err := cfg.Reconciler.GetOrCreate(c.Request().Context(), userID)
			if err != nil {
				if cfg.OnError != nil {
					return cfg.OnError(c, err)
				}
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "entitlement unavailable"})
			}

			if !ent.IsPro {
				if cfg.OnForbidden != nil {
					return cfg.OnForbidden(c, ent)
				}
				return c.JSON(http.StatusForbidden, map[string]string{"error": "pro entitlement required"})
			}

			c.Set(EntitlementKey, ent)
			return next(c)
		}
	}
}

func defaultUnauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
}

// Convenience extractors for UserID

// FromContext returns a UserIDExtractor that gets user ID from Echo context values
//
// Example:
//
//	// In your auth middleware:
//	c.Set("UserID", userID)
//
//	// In the gate config:
//	GetUserID: echo.FromContext("UserID")
func FromContext(key string) UserIDExtractor {
	return func(c echo.Context) string {
		if val := c.Get(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c echo.Context) string {
		return c.Request().Header.Get(headerName)
	}
}
