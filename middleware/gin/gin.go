// Package gin provides Gin middleware for authentication and pro entitlement gates
package gin

import (
	"net/http"

	gongin "github.com/gin-gonic/gin"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Context keys set by the middleware
const (
	UserIDKey      = "goentitle.userID"
	EntitlementKey = "goentitle.entitlement"
)

// UserIDExtractor extracts the user ID from a Gin context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *gongin.Context) string

// Config holds middleware configuration
type Config struct {
	// Reconciler resolves entitlements (required)
	Reconciler *entitlement.Reconciler

	// GetUserID extracts user ID from context
	// Default: FromContext(UserIDKey)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c *gongin.Context)

	// OnForbidden is called when the user is not pro
	// If nil, returns 403 JSON
	OnForbidden func(c *gongin.Context, ent *entitlement.Entitlement)

	// OnError is called when the entitlement cannot be read
	// If nil, returns 503 JSON
	OnError func(c *gongin.Context, err error)
}

// Authenticate resolves the caller with verifier and stores the user ID under UserIDKey
func Authenticate(verifier auth.Verifier) gongin.HandlerFunc {
	return func(c *gongin.Context) {
		userID, err := verifier.Verify(c.Request.Context(), c.Request)
		if err != nil || userID == "" {
			defaultUnauthorized(c)
			c.Abort()
			return
		}
		c.Set(UserIDKey, userID)
		c.Next()
	}
}

// RequirePro creates a Gin middleware that only lets pro users through
func RequirePro(cfg Config) gongin.HandlerFunc {
	// Validate required configuration at startup (fail fast)
	if cfg.Reconciler == nil {
		panic("goentitle/gin: Config.Reconciler is required")
	}
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromContext(UserIDKey)
	}

	return func(c *gongin.Context) {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				cfg.OnUnauthorized(c)
			} else {
				defaultUnauthorized(c)
			}
			c.Abort()
			return
		}

		ent, err := cfg.Reconciler.GetOrCreate(c.Request.Context(), userID)
		if err != nil {
			if cfg.OnError != nil {
				cfg.OnError(c, err)
			} else {
				c.JSON(http.StatusServiceUnavailable, gongin.H{"error": "entitlement unavailable"})
			}
			c.Abort()
			return
		}

		if !ent.IsPro {
			if cfg.OnForbidden != nil {
				cfg.OnForbidden(c, ent)
			} else {
				c.JSON(http.StatusForbidden, gongin.H{"error": "pro entitlement required"})
			}
			c.Abort()
			return
		}

		c.Set(EntitlementKey, ent)
		c.Next()
	}
}

func defaultUnauthorized(c *gongin.Context) {
	c.JSON(http.StatusUnauthorized, gongin.H{"error": "unauthorized"})
}

// Convenience extractors for UserID

// FromContext returns a UserIDExtractor that gets user ID from Gin context values
func FromContext(key string) UserIDExtractor {
	return func(c *gongin.Context) string {
		if val, exists := c.Get(key); exists {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
func FromHeader(headerName string) UserIDExtractor {
	return func(c *gongin.Context) string {
		return c.GetHeader(headerName)
	}
}
