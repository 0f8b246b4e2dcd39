package http

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mihaimyh/goentitle/pkg/auth"
	"github.com/mihaimyh/goentitle/pkg/entitlement"
	"github.com/mihaimyh/goentitle/storage/memory"
)

// errorStorage fails every entitlement read
type errorStorage struct {
	*memory.Storage
}

func (s *errorStorage) GetOrCreateEntitlement(_ context.Context, _ string) (*entitlement.Entitlement, error) {
	return nil, errors.New("connection refused")
}

func setupTestReconciler(t *testing.T, storage entitlement.Storage) *entitlement.Reconciler {
	t.Helper()
	rec, err := entitlement.NewReconciler(storage, entitlement.Config{})
	if err != nil {
		t.Fatalf("Failed to create reconciler: %v", err)
	}
	return rec
}

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-User", UserIDFromContext(r.Context()))
	if ent := EntitlementFromContext(r.Context()); ent != nil && ent.IsPro {
		w.Header().Set("X-Pro", "true")
	}
	w.WriteHeader(http.StatusOK)
})

func TestAuthenticate(t *testing.T) {
	handler := Authenticate(auth.StubVerifier{}, nil)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if got := w.Header().Get("X-User"); got != "user1" {
		t.Errorf("Expected user1 in context, got %q", got)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", http.NoBody))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("Expected 401, got %d", w.Code)
	}
	if body := w.Body.String(); body != "{\"error\":\"unauthorized\"}\n" {
		t.Errorf("Unexpected body %q", body)
	}
}

func TestRequirePro(t *testing.T) {
	rec := setupTestReconciler(t, memory.New())
	ctx := context.Background()
	if _, err := rec.Apply(ctx, "pro-user", true, "revenuecat"); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	handler := Authenticate(auth.StubVerifier{}, nil)(RequirePro(Config{Reconciler: rec})(okHandler))

	tests := []struct {
		name   string
		userID string
		want   int
	}{
		{"pro user", "pro-user", http.StatusOK},
		{"free user", "free-user", http.StatusForbidden},
		{"anonymous", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
			if tt.userID != "" {
				req.Header.Set("X-User-ID", tt.userID)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("Expected %d, got %d: %s", tt.want, w.Code, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Header().Get("X-Pro") != "true" {
				t.Error("Expected entitlement in context")
			}
		})
	}
}

func TestRequirePro_StorageError(t *testing.T) {
	rec := setupTestReconciler(t, &errorStorage{Storage: memory.New()})

	var gotErr error
	handler := RequirePro(Config{
		Reconciler: rec,
		GetUserID:  FromHeader("X-User-ID"),
		OnError: func(w http.ResponseWriter, _ *http.Request, err error) {
			gotErr = err
			w.WriteHeader(http.StatusTeapot)
		},
	})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-User-ID", "user1")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusTeapot || gotErr == nil {
		t.Errorf("Expected OnError to run, got %d / %v", w.Code, gotErr)
	}

	defaultHandler := RequirePro(Config{Reconciler: rec, GetUserID: FromHeader("X-User-ID")})(okHandler)
	w = httptest.NewRecorder()
	defaultHandler.ServeHTTP(w, req)
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}

func TestRequirePro_CustomForbidden(t *testing.T) {
	rec := setupTestReconciler(t, memory.New())
	handler := HandlerFunc(Config{
		Reconciler: rec,
		GetUserID:  FromHeader("X-User-ID"),
		OnForbidden: func(w http.ResponseWriter, _ *http.Request, ent *entitlement.Entitlement) {
			w.Header().Set("X-Upgrade", ent.UserID)
			w.WriteHeader(http.StatusPaymentRequired)
		},
	})(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	req.Header.Set("X-User-ID", "free-user")
	w := httptest.NewRecorder()
	handler(w, req)
	if w.Code != http.StatusPaymentRequired || w.Header().Get("X-Upgrade") != "free-user" {
		t.Errorf("Unexpected response %d %v", w.Code, w.Header())
	}
}

func TestRequirePro_PanicsWithoutReconciler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("Expected panic")
		}
	}()
	RequirePro(Config{})
}
