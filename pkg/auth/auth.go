// Package auth resolves the user id of an authenticated request.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// ErrUnauthorized is returned when a request carries no acceptable identity.
var ErrUnauthorized = errors.New("unauthorized")

// Verifier yields a stable user id for an authenticated request.
type Verifier interface {
	Verify(ctx context.Context, r *http.Request) (string, error)
}

// VerifierFunc adapts a function to the Verifier interface.
type VerifierFunc func(ctx context.Context, r *http.Request) (string, error)

// Verify calls f.
func (f VerifierFunc) Verify(ctx context.Context, r *http.Request) (string, error) {
	return f(ctx, r)
}

// BearerToken returns the Authorization header with any case of the
// "Bearer " prefix removed.
func BearerToken(r *http.Request) string {
	h := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(h) >= 7 && strings.EqualFold(h[:7], "bearer ") {
		h = h[7:]
	}
	return strings.TrimSpace(h)
}
