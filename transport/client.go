// Package transport performs the signed HTTP calls made by the airops client.
//
// Every call is a single request with no retries. Identity headers are
// attached only when the identity is complete. Non-2xx responses become
// *apperr.APIError; 204, empty and non-JSON success bodies yield a nil result.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/internal/metrics"
	"github.com/HyphaGroup/airops-go/internal/ratelimit"
)

const (
	// DefaultTimeout bounds a single HTTP exchange
	DefaultTimeout = 30 * time.Second

	// fallbackErrorMessage is used when a failed response has no usable message
	fallbackErrorMessage = "Internal API error"

	headerUserID       = "user_id"
	headerWorkspaceID  = "workspace_id"
	headerHashedUserID = "user_id_hashed"
)

// Identity identifies the end user on whose behalf calls are made
type Identity struct {
	UserID       string `json:"user_id"`
	WorkspaceID  int64  `json:"workspace_id"`
	HashedUserID string `json:"hashed_user_id"`
}

// Complete reports whether all three identity fields are present
func (i Identity) Complete() bool {
	return i.UserID != "" && i.WorkspaceID != 0 && i.HashedUserID != ""
}

// Partial reports whether some but not all identity fields are present
func (i Identity) Partial() bool {
	return !i.Complete() && (i.UserID != "" || i.WorkspaceID != 0 || i.HashedUserID != "")
}

// Client performs API requests
type Client struct {
	httpClient *http.Client
	identity   Identity
	limiter    *ratelimit.Limiter
	logger     *slog.Logger
	userAgent  string
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithIdentity signs requests with id when it is complete
func WithIdentity(id Identity) Option {
	return func(c *Client) {
		c.identity = id
	}
}

// WithRateLimiter throttles outbound requests per host
func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithUserAgent sets the User-Agent header
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// New creates a Client
func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		logger:     slog.Default(),
		userAgent:  "airops-go",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Identity returns the identity the client signs with
func (c *Client) Identity() Identity {
	return c.identity
}

// Signed reports whether requests carry identity headers
func (c *Client) Signed() bool {
	return c.identity.Complete()
}

// Request performs one HTTP call. body is JSON-encoded when non-nil.
// A nil result with a nil error means the response had no usable body.
func (c *Client) Request(ctx context.Context, method, rawURL string, body any) (json.RawMessage, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid url %q: %w", rawURL, err)
	}

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, u.Host); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.sign(req.Header)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPIRequest(method, u.Path, 0, time.Since(start))
		return nil, fmt.Errorf("%s %s: %w", method, u.Path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	metrics.RecordAPIRequest(method, u.Path, resp.StatusCode, time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	c.logger.Debug("Api request", "method", method, "path", u.Path, "status", resp.StatusCode, "duration", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &apperr.APIError{Status: resp.StatusCode, Message: errorMessage(resp.StatusCode, data)}
	}

	if resp.StatusCode == http.StatusNoContent || len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		c.logger.Debug("Ignoring non-JSON response body", "path", u.Path, "status", resp.StatusCode)
		return nil, nil
	}

	return json.RawMessage(data), nil
}

// Get performs a GET and decodes the result into out
func (c *Client) Get(ctx context.Context, rawURL string, out any) error {
	return c.do(ctx, http.MethodGet, rawURL, nil, out)
}

// Post performs a POST and decodes the result into out
func (c *Client) Post(ctx context.Context, rawURL string, body, out any) error {
	return c.do(ctx, http.MethodPost, rawURL, body, out)
}

// Patch performs a PATCH and decodes the result into out
func (c *Client) Patch(ctx context.Context, rawURL string, body, out any) error {
	return c.do(ctx, http.MethodPatch, rawURL, body, out)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body, out any) error {
	raw, err := c.Request(ctx, method, rawURL, body)
	if err != nil {
		return err
	}
	if raw == nil || out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding %s response: %w", method, err)
	}
	return nil
}

func (c *Client) sign(h http.Header) {
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	if c.userAgent != "" {
		h.Set("User-Agent", c.userAgent)
	}
	if !c.identity.Complete() {
		return
	}
	// Header names are lower-case with underscores on the wire, so bypass canonicalization
	h[headerUserID] = []string{c.identity.UserID}
	h[headerWorkspaceID] = []string{strconv.FormatInt(c.identity.WorkspaceID, 10)}
	h[headerHashedUserID] = []string{c.identity.HashedUserID}
}

func errorMessage(status int, body []byte) string {
	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if text := http.StatusText(status); text != "" {
		return text
	}
	return fallbackErrorMessage
}
