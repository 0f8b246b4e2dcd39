package auth

import (
	"context"
	"net/http"
	"strings"
)

// UserIDHeader is read by StubVerifier.
const UserIDHeader = "X-User-ID"

// StubVerifier trusts the caller: the user id is the X-User-ID header, or the
// bearer token itself. Development only.
type StubVerifier struct{}

// Verify implements Verifier
func (StubVerifier) Verify(_ context.Context, r *http.Request) (string, error) {
	if id := strings.TrimSpace(r.Header.Get(UserIDHeader)); id != "" {
		return id, nil
	}
	if token := BearerToken(r); token != "" {
		return token, nil
	}
	return "", ErrUnauthorized
}
