// Package client talks to the entitlement service from an app or another
// service, with bounded retries on transient failures.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/goentitle/pkg/entitlement"
)

// RequestIDHeader carries an id that stays the same across retries of one request.
const RequestIDHeader = "X-Request-ID"

// Entitlements mirrors the service's entitlement body.
type Entitlements struct {
	IsPro  bool    `json:"isPro"`
	Source *string `json:"source"`
}

// TokenSource returns the bearer token for a request. An empty token sends none.
type TokenSource func(ctx context.Context) (string, error)

// Client is an HTTP client for the entitlement endpoints
type Client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	userID     string
	retry      Policy
	logger     entitlement.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTokenSource authenticates requests with a bearer token.
func WithTokenSource(ts TokenSource) Option {
	return func(c *Client) { c.token = ts }
}

// WithUserID sends the X-User-ID header (stub auth deployments).
func WithUserID(userID string) Option {
	return func(c *Client) { c.userID = userID }
}

// WithRetryPolicy replaces DefaultPolicy for entitlement calls.
func WithRetryPolicy(p Policy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLogger sets the logger.
func WithLogger(l entitlement.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New creates a client for the service at baseURL
func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, ErrBaseURLRequired
	}

	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		retry:      DefaultPolicy(),
		logger:     &entitlement.NoopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.retry.RetryOn == nil {
		c.retry.RetryOn = RetryTransient
	}
	return c, nil
}

// RequestOptions describe one call
type RequestOptions struct {
	Method string      // default GET
	Body   interface{} // JSON encoded when non-nil
	Retry  *Policy     // nil sends a single attempt; a nil RetryOn uses RetryTransient
}

// Request performs the call and decodes a JSON response into out (if non-nil).
// Every attempt sends identical method, URL, headers and body.
func (c *Client) Request(ctx context.Context, path string, opts RequestOptions, out interface{}) error {
	method := opts.Method
	if method == "" {
		method = http.MethodGet
	}

	var payload []byte
	if opts.Body != nil {
		b, err := json.Marshal(opts.Body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		payload = b
	}

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	headers.Set(RequestIDHeader, uuid.NewString())
	if payload != nil {
		headers.Set("Content-Type", "application/json")
	}
	if c.userID != "" {
		headers.Set("X-User-ID", c.userID)
	}
	if c.token != nil {
		tok, err := c.token(ctx)
		if err != nil {
			return fmt.Errorf("failed to get token: %w", err)
		}
		if tok != "" {
			headers.Set("Authorization", "Bearer "+tok)
		}
	}

	url := c.baseURL + path
	execute := func(ctx context.Context) ([]byte, error) {
		return c.execute(ctx, method, url, headers, payload)
	}

	var body []byte
	var err error
	if opts.Retry != nil {
		policy := *opts.Retry
		if policy.RetryOn == nil {
			policy.RetryOn = RetryTransient
		}
		body, err = Do(ctx, policy, execute)
	} else {
		body, err = execute(ctx)
	}
	if err != nil {
		c.logger.Debug("entitlement request failed",
			entitlement.Field{Key: "path", Value: path},
			entitlement.Field{Key: "requestId", Value: headers.Get(RequestIDHeader)},
			entitlement.Field{Key: "error", Value: err.Error()},
		)
		return err
	}

	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *Client) execute(ctx context.Context, method, url string, headers http.Header,
	payload []byte) ([]byte, error) {
	var reader io.Reader = http.NoBody
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header = headers.Clone()

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, &TransportError{Err: err}
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		msg := strings.TrimSpace(string(body))
		var parsed struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(body, &parsed) == nil && parsed.Error != "" {
			msg = parsed.Error
		}
		if msg == "" {
			msg = fmt.Sprintf("Request failed: %d", res.StatusCode)
		}
		return nil, &APIError{StatusCode: res.StatusCode, Message: msg, Body: body}
	}
	return body, nil
}

// FetchEntitlements reads GET /entitlements
func (c *Client) FetchEntitlements(ctx context.Context) (*Entitlements, error) {
	var out Entitlements
	if err := c.Request(ctx, "/entitlements", RequestOptions{Retry: &c.retry}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SyncEntitlements pushes client-observed purchase state. An empty source is
// omitted and recorded by the server as "client".
func (c *Client) SyncEntitlements(ctx context.Context, isPro bool, source string) (*Entitlements, error) {
	body := map[string]interface{}{"isPro": isPro}
	if source != "" {
		body["source"] = source
	}

	var out Entitlements
	opts := RequestOptions{Method: http.MethodPost, Body: body, Retry: &c.retry}
	if err := c.Request(ctx, "/entitlements/sync", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Restore asks the server to re-read the caller's state from the billing provider.
func (c *Client) Restore(ctx context.Context) (*Entitlements, error) {
	var out Entitlements
	opts := RequestOptions{Method: http.MethodPost, Retry: &c.retry}
	if err := c.Request(ctx, "/entitlements/restore", opts, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
