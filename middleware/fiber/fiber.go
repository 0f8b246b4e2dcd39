// Package fiber provides Fiber middleware for authentication and pro entitlement gates
package fiber

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// Locals keys set by the middleware
const (
	UserIDKey      = "goentitle.userID"
	EntitlementKey = "goentitle.entitlement"
)

// UserIDExtractor extracts the user ID from a Fiber context
// Return empty string if user is not authenticated
type UserIDExtractor func(c *fiber.Ctx) string

// Config holds middleware configuration
type Config struct {
	// Reconciler resolves entitlements (required)
	Reconciler *entitlement.Reconciler

	// GetUserID extracts user ID from context
	// Default: FromContext(UserIDKey)
	GetUserID UserIDExtractor

	// OnUnauthorized is called when user is not authenticated
	// If nil, returns 401 JSON
	OnUnauthorized func(c *fiber.Ctx) error

	// OnForbidden is called when the user is not pro
	// If nil, returns 403 JSON
	OnForbidden func(c *fiber.Ctx, ent *entitlement.Entitlement) error

	// OnError is called when the entitlement cannot be read
	// If nil, returns 503 JSON
	OnError func(c *fiber.Ctx, err error) error
}

// Authenticate resolves the caller with verifier and stores the user ID in Locals.
// The fasthttp request is converted to net/http for the verifier.
func Authenticate(verifier auth.Verifier) fiber.Handler {
	return func(c *fiber.Ctx) error {
		req, err := adaptor.ConvertRequest(c, false)
		if err != nil {
			return defaultUnauthorized(c)
		}
		userID, err := verifier.Verify(c.UserContext(), req)
		if err != nil || userID == "" {
			return defaultUnauthorized(c)
		}
		c.Locals(UserIDKey, userID)
		return c.Next()
	}
}

// RequirePro creates a Fiber middleware that only lets pro users through
func RequirePro(cfg Config) fiber.Handler {
	// Validate required configuration at startup (fail fast)
	if cfg.Reconciler == nil {
		panic("goentitle/fiber: Config.Reconciler is required")
	}
	if cfg.GetUserID == nil {
		cfg.GetUserID = FromContext(UserIDKey)
	}

	return func(c *fiber.Ctx) error {
		userID := cfg.GetUserID(c)
		if userID == "" {
			if cfg.OnUnauthorized != nil {
				return cfg.OnUnauthorized(c)
			}
			return defaultUnauthorized(c)
		}

		ent, err := cfg.Reconciler.GetOrCreate(c.UserContext(), userID)
		if err != nil {
			if cfg.OnError != nil {
				return cfg.OnError(c, err)
			}
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "entitlement unavailable"})
		}

		if !ent.IsPro {
			if cfg.OnForbidden != nil {
				return cfg.OnForbidden(c, ent)
			}
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "pro entitlement required"})
		}

		c.Locals(EntitlementKey, ent)
		return c.Next()
	}
}

func defaultUnauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
}

// Convenience extractors for UserID

// FromContext returns a UserIDExtractor that gets user ID from Fiber locals
//
// Example:
//
//	// In your auth middleware:
//	c.Locals("UserID", userID)
//
//	// In the gate config:
//	GetUserID: fiber.FromContext("UserID")
func FromContext(key string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		if val := c.Locals(key); val != nil {
			if str, ok := val.(string); ok {
				return str
			}
		}
		return ""
	}
}

// FromHeader returns a UserIDExtractor that gets user ID from a header
// Fiber v2 uses c.Get() for headers (not c.GetHeader())
func FromHeader(headerName string) UserIDExtractor {
	return func(c *fiber.Ctx) string {
		return c.Get(headerName)
	}
}
