package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// SignatureType selects how webhook requests are authenticated. It comes
// from configuration only, so a request cannot pick a weaker scheme.
type SignatureType string

const (
	// SignatureBearer expects "Bearer <secret>" in the signature header.
	SignatureBearer SignatureType = "bearer"

	// SignatureHMACSHA256 expects an HMAC-SHA256 of the raw body, hex
	// (optionally "sha256=" prefixed) or base64 encoded.
	SignatureHMACSHA256 SignatureType = "hmac-sha256"
)

const (
	bearerPrefix = "bearer "
	sha256Prefix = "sha256="
)

// ParseSignatureType parses a configured scheme name (case-insensitive).
func ParseSignatureType(s string) (SignatureType, error) {
	switch t := SignatureType(strings.ToLower(strings.TrimSpace(s))); t {
	case SignatureBearer, SignatureHMACSHA256:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSignatureType, s)
	}
}

// Verifier authenticates webhook requests against a shared secret.
type Verifier struct {
	secret []byte
	scheme SignatureType
}

// NewVerifier creates a verifier. An empty secret disables verification
// entirely (fail-open), which is meant for local development only.
func NewVerifier(secret string, scheme SignatureType) *Verifier {
	return &Verifier{
		secret: []byte(secret),
		scheme: SignatureType(strings.ToLower(string(scheme))),
	}
}

// FailOpen reports whether every request is accepted because no secret is set.
func (v *Verifier) FailOpen() bool {
	return len(v.secret) == 0
}

// Scheme returns the configured signature type.
func (v *Verifier) Scheme() SignatureType {
	return v.scheme
}

// Verify checks header against rawBody, which must be the request body
// exactly as received.
func (v *Verifier) Verify(rawBody []byte, header string) bool {
	if v.FailOpen() {
		return true
	}

	header = strings.TrimSpace(header)
	if header == "" {
		return false
	}

	switch v.scheme {
	case SignatureBearer:
		return v.verifyBearer(header)
	case SignatureHMACSHA256:
		return v.verifyHMAC(rawBody, header)
	default:
		return false
	}
}

func (v *Verifier) verifyBearer(header string) bool {
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return false
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	return subtle.ConstantTimeCompare([]byte(token), v.secret) == 1
}

func (v *Verifier) verifyHMAC(rawBody []byte, header string) bool {
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(rawBody)
	expected := mac.Sum(nil)

	sig := header
	if len(sig) >= len(sha256Prefix) && strings.EqualFold(sig[:len(sha256Prefix)], sha256Prefix) {
		sig = sig[len(sha256Prefix):]
	}

	if got, err := hex.DecodeString(sig); err == nil && hmac.Equal(got, expected) {
		return true
	}
	if got, err := base64.StdEncoding.DecodeString(sig); err == nil && hmac.Equal(got, expected) {
		return true
	}
	return false
}

// SignHMAC returns the hex HMAC-SHA256 of body, as a provider would send it.
func SignHMAC(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
