// Package remote is the REST client for the sync backend. Every response
// is wrapped in a {code, data} envelope; code 0 means success.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"

	syncerr "github.com/alexjbarnes/medsync/internal/errors"
	"github.com/alexjbarnes/medsync/internal/resource"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// defaultTimeout applies when Config.Timeout is zero.
	defaultTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Full pulls return
	// whole tables, so this is larger than a typical API client's cap.
	maxAPIResponseBytes = 16 * 1024 * 1024

	// requestIDHeader carries a per-request correlation id.
	requestIDHeader = "X-Request-ID"
)

// Config configures a Client.
type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration

	// RateLimit is the sustained requests per second sent to the
	// backend. Zero disables pacing.
	RateLimit float64
	RateBurst int

	// HTTPClient overrides the default client. Timeout is ignored when set.
	HTTPClient *http.Client
}

// Client talks to the sync backend.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	requestID  func() string
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the bearer token never leaks to
// another domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client from cfg.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}

		httpClient = &http.Client{
			Timeout:       timeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}

	burst := cfg.RateBurst
	if burst < 1 {
		burst = 1
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		token:      cfg.Token,
		limiter:    rate.NewLimiter(limit, burst),
		requestID:  uuid.NewString,
	}
}

// BaseURL returns the backend root the client sends requests to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends one request and validates the envelope. It returns the raw
// response body on success.
func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: waiting for rate limiter: %w", syncerr.ErrAPIRequest, err)
	}

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, c.requestID())

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &TransientError{Err: fmt.Errorf("%w: %s %s: %w", syncerr.ErrAPIRequest, method, endpoint, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("%w: reading response from %s: %w", syncerr.ErrAPIRequest, endpoint, err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		err := fmt.Errorf("%w: %s %s returned status %d: %s",
			syncerr.ErrRemoteRejected, method, endpoint, resp.StatusCode, sanitizeResponseBody(respBody))
		if isTransientStatus(resp.StatusCode) {
			return nil, &TransientError{Err: err}
		}

		return nil, err
	}

	if !gjson.ValidBytes(respBody) {
		return nil, fmt.Errorf("%w: %s %s: body is not JSON: %s",
			syncerr.ErrAPIResponse, method, endpoint, sanitizeResponseBody(respBody))
	}

	code := gjson.GetBytes(respBody, "code")
	if !code.Exists() {
		return nil, fmt.Errorf("%w: %s %s: missing code", syncerr.ErrAPIResponse, method, endpoint)
	}

	if code.Int() != 0 {
		msg := gjson.GetBytes(respBody, "message").String()
		return nil, fmt.Errorf("%w: %s %s: code %d: %s",
			syncerr.ErrRemoteRejected, method, endpoint, code.Int(), sanitizeResponseBody([]byte(msg)))
	}

	return respBody, nil
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

// Fetch returns every server-side row of a resource for the owner, as
// snake_case objects.
func (c *Client) Fetch(ctx context.Context, name resource.Name, ownerID string) ([]map[string]any, error) {
	endpoint := "/" + string(name) + "/" + ownerID

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", name, err)
	}

	data := gjson.GetBytes(body, "data")
	if data.Type == gjson.Null {
		return nil, nil
	}

	if !data.IsArray() {
		return nil, fmt.Errorf("fetching %s: %w: data is not a list", name, syncerr.ErrAPIResponse)
	}

	var rows []map[string]any
	if err := json.Unmarshal([]byte(data.Raw), &rows); err != nil {
		return nil, fmt.Errorf("fetching %s: %w: %w", name, syncerr.ErrAPIResponse, err)
	}

	return rows, nil
}

// Create sends one new row.
func (c *Client) Create(ctx context.Context, name resource.Name, body map[string]any) error {
	if _, err := c.do(ctx, http.MethodPost, "/"+string(name), body); err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}

	return nil
}

// Update sends one changed row.
func (c *Client) Update(ctx context.Context, name resource.Name, body map[string]any) error {
	if _, err := c.do(ctx, http.MethodPut, "/"+string(name), body); err != nil {
		return fmt.Errorf("updating %s: %w", name, err)
	}

	return nil
}

// UpdateList upserts several rows in one request.
func (c *Client) UpdateList(ctx context.Context, name resource.Name, bodies []map[string]any) error {
	if _, err := c.do(ctx, http.MethodPut, "/"+string(name)+"/update/list", bodies); err != nil {
		return fmt.Errorf("updating %s list: %w", name, err)
	}

	return nil
}

// Delete removes one row.
func (c *Client) Delete(ctx context.Context, name resource.Name, ownerID string, id int64) error {
	endpoint := "/" + string(name) + "/" + ownerID + "/" + strconv.FormatInt(id, 10)
	if _, err := c.do(ctx, http.MethodDelete, endpoint, nil); err != nil {
		return fmt.Errorf("deleting %s %d: %w", name, id, err)
	}

	return nil
}

type deleteBatchRequest struct {
	IDs []int64 `json:"ids"`
}

// DeleteBatch removes several rows in one request.
func (c *Client) DeleteBatch(ctx context.Context, name resource.Name, ownerID string, ids []int64) error {
	endpoint := "/" + string(name) + "/" + ownerID
	if _, err := c.do(ctx, http.MethodDelete, endpoint, deleteBatchRequest{IDs: ids}); err != nil {
		return fmt.Errorf("deleting %d %s rows: %w", len(ids), name, err)
	}

	return nil
}
