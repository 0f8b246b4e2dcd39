package fiber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
	"github.com/mihaimyh/goentitle/storage/memory"
)

// errorStorage is a mock storage that always fails on reads
type errorStorage struct {
	*memory.Storage
}

func (s *errorStorage) GetOrCreateEntitlement(_ context.Context, _ string) (*entitlement.Entitlement, error) {
	return nil, errors.New("connection refused")
}

func setupApp(t *testing.T, storage entitlement.Storage) (*fiber.App, *entitlement.Reconciler) {
	t.Helper()

	rec, err := entitlement.NewReconciler(storage, entitlement.Config{})
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}

	app := fiber.New()
	app.Use(Authenticate(auth.StubVerifier{}))
	app.Get("/pro", RequirePro(Config{Reconciler: rec}), func(c *fiber.Ctx) error {
		ent := c.Locals(EntitlementKey).(*entitlement.Entitlement)
		return c.SendString(ent.UserID)
	})
	return app, rec
}

func do(t *testing.T, app *fiber.App, userID string) (int, string) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, "/pro", http.NoBody)
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	resp, err := app.Test(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestRequirePro(t *testing.T) {
	app, rec := setupApp(t, memory.New())
	if _, err := rec.Apply(context.Background(), "pro-user", true, "revenuecat"); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if code, body := do(t, app, "pro-user"); code != http.StatusOK || body != "pro-user" {
		t.Errorf("Expected 200 pro-user, got %d %q", code, body)
	}
	if code, body := do(t, app, "free-user"); code != http.StatusForbidden || body != `{"error":"pro entitlement required"}` {
		t.Errorf("Expected 403, got %d %q", code, body)
	}
	if code, _ := do(t, app, ""); code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", code)
	}
}

func TestRequirePro_StorageError(t *testing.T) {
	app, _ := setupApp(t, &errorStorage{Storage: memory.New()})

	if code, _ := do(t, app, "user1"); code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", code)
	}
}

func TestRequirePro_CustomUnauthorized(t *testing.T) {
	rec, err := entitlement.NewReconciler(memory.New(), entitlement.Config{})
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}

	app := fiber.New()
	app.Get("/pro", RequirePro(Config{
		Reconciler: rec,
		GetUserID:  FromHeader("X-User-ID"),
		OnUnauthorized: func(c *fiber.Ctx) error {
			return c.SendStatus(fiber.StatusTeapot)
		},
	}), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})

	if code, _ := do(t, app, ""); code != http.StatusTeapot {
		t.Errorf("Expected 418, got %d", code)
	}
}
