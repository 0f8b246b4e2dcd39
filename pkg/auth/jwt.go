package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTConfig configures JWTVerifier.
type JWTConfig struct {
	// JWKSURL publishes the RS256 verification keys (required)
	JWKSURL string

	// Issuer is matched against iss when set
	Issuer string

	// Audience accepts a token whose aud contains any of these values. Empty skips the check.
	Audience []string

	// Leeway tolerates clock skew on exp/nbf (default: 30s)
	Leeway time.Duration

	HTTPClient *http.Client
}

// JWTVerifier validates RS256 bearer tokens against a JWKS and returns sub.
type JWTVerifier struct {
	config JWTConfig
	keys   *JWKS
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier for config.
func NewJWTVerifier(config JWTConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(config.JWKSURL) == "" {
		return nil, errors.New("jwks url is required")
	}
	if config.Leeway <= 0 {
		config.Leeway = 30 * time.Second
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithLeeway(config.Leeway),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}

	return &JWTVerifier{
		config: config,
		keys:   NewJWKS(config.JWKSURL, config.HTTPClient),
		parser: jwt.NewParser(opts...),
	}, nil
}

// ParseAudience splits a comma separated audience list.
func ParseAudience(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if v := strings.TrimSpace(part); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// Verify implements Verifier
func (v *JWTVerifier) Verify(ctx context.Context, r *http.Request) (string, error) {
	token := BearerToken(r)
	if token == "" {
		return "", ErrUnauthorized
	}
	return v.VerifyToken(ctx, token)
}

// VerifyToken validates a raw token and returns its subject.
func (v *JWTVerifier) VerifyToken(ctx context.Context, raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		key, err := v.keys.Key(ctx, kid)
		if err != nil {
			return nil, err
		}
		return key, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	if len(v.config.Audience) > 0 && !slices.ContainsFunc(claims.Audience, func(a string) bool {
		return slices.Contains(v.config.Audience, a)
	}) {
		return "", fmt.Errorf("%w: audience mismatch", ErrUnauthorized)
	}
	if claims.Subject == "" {
		return "", fmt.Errorf("%w: token is missing subject", ErrUnauthorized)
	}
	return claims.Subject, nil
}
