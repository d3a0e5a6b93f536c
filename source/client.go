package source

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// maxResponseSize limits query response bodies to prevent memory
// exhaustion. Bulk taxonomy downloads stream to disk instead.
const maxResponseSize = 10 * 1024 * 1024 // 10MB

// userAgent identifies the service to upstream operators. Wikimedia
// endpoints reject anonymous default agents.
const userAgent = "taxomat/1.0 (+https://github.com/taxomat/taxomat)"

// RetryConfig holds retry configuration for upstream requests.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts per request.
	MaxAttempts int

	// BackoffBase is the initial backoff duration.
	BackoffBase time.Duration

	// BackoffMultiplier is applied to backoff on each retry.
	BackoffMultiplier float64

	// MaxBackoff caps the maximum backoff duration.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns sensible retry defaults for upstream requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// Client is the HTTP client shared by all adapters, with retry and
// error classification. Pacing and breaker discipline live in the
// Manager; the Client only bounds a single logical fetch.
type Client struct {
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRetryConfig sets the retry configuration.
func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(client *Client) {
		client.retryConfig = cfg
	}
}

// WithClientLogger sets the logger.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(client *Client) {
		client.logger = logger
	}
}

// NewClient creates an upstream HTTP client.
func NewClient(timeout time.Duration, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		retryConfig: DefaultRetryConfig(),
		httpClient: &http.Client{
			Timeout: timeout, // SPARQL endpoints can be slow
		},
		logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Get performs a GET with retry and returns the response body. query
// may be nil; accept sets the Accept header when non-empty.
func (c *Client) Get(ctx context.Context, rawURL string, query url.Values, accept string) ([]byte, error) {
	var body []byte
	err := c.withRetry(ctx, rawURL, func() error {
		var reqErr error
		body, reqErr = c.doGet(ctx, rawURL, query, accept)
		return reqErr
	})
	return body, err
}

// GetJSON performs a GET with retry and unmarshals the JSON response.
func (c *Client) GetJSON(ctx context.Context, rawURL string, query url.Values, out any) error {
	body, err := c.Get(ctx, rawURL, query, "application/json")
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return NewFatalError(fmt.Errorf("decode response from %s: %w", rawURL, err))
	}
	return nil
}

// Download streams a large resource to dest with retry, writing through
// a temp file so a partial download never replaces a good copy.
func (c *Client) Download(ctx context.Context, rawURL, dest string) error {
	return c.withRetry(ctx, rawURL, func() error {
		return c.doDownload(ctx, rawURL, dest)
	})
}

// withRetry runs op with bounded retries. Fatal errors stop
// immediately; rate-limit signals wait out the upstream-provided delay
// before the next attempt.
func (c *Client) withRetry(ctx context.Context, rawURL string, op func() error) error {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		err := op()
		if err == nil {
			return nil
		}

		lastErr = err

		if IsFatal(err) {
			return err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			if delay, ok := IsRateLimited(err); ok && delay > backoff {
				backoff = delay
			}
			c.logger.Debug("Request failed, retrying",
				"url", rawURL,
				"attempt", attempt,
				"max_attempts", c.retryConfig.MaxAttempts,
				"backoff", backoff,
				"error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
				// Continue to retry
			}
		}
	}

	return lastErr
}

// calculateBackoff computes exponential backoff duration with jitter.
// Jitter prevents thundering herd when multiple clients retry simultaneously.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}

	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}

	// Add jitter: +/- 25% to prevent synchronized retries
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

// doGet executes a single GET request.
func (c *Client) doGet(ctx context.Context, rawURL string, query url.Values, accept string) ([]byte, error) {
	target := rawURL
	if len(query) > 0 {
		target = rawURL + "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Network errors are transient
		return nil, NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	// Read response body with size limit to prevent memory exhaustion
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(resp.StatusCode, resp.Header, body)
	}

	return body, nil
}

// doDownload executes a single streaming download to dest.
func (c *Client) doDownload(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return NewFatalError(fmt.Errorf("create HTTP request: %w", err))
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return NewTransientError(fmt.Errorf("HTTP request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return classifyHTTPError(resp.StatusCode, resp.Header, body)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return NewFatalError(fmt.Errorf("create download directory: %w", err))
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".tmp-*")
	if err != nil {
		return NewFatalError(fmt.Errorf("create temp file: %w", err))
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return NewTransientError(fmt.Errorf("download %s: %w", rawURL, err))
	}
	if err := tmp.Close(); err != nil {
		return NewTransientError(fmt.Errorf("flush download: %w", err))
	}

	if err := os.Rename(tmp.Name(), dest); err != nil {
		return NewFatalError(fmt.Errorf("finalize download: %w", err))
	}
	return nil
}

// classifyHTTPError determines how an HTTP error should be handled.
func classifyHTTPError(statusCode int, header http.Header, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}

	err := fmt.Errorf("upstream error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		// Explicit throttling signal
		return NewRateLimitedError(err, parseRetryAfter(header.Get("Retry-After")))
	case statusCode == http.StatusServiceUnavailable:
		// A 503 with Retry-After is throttling; without, an outage
		if ra := parseRetryAfter(header.Get("Retry-After")); ra > 0 {
			return NewRateLimitedError(err, ra)
		}
		return NewTransientError(err)
	case statusCode == http.StatusBadGateway,
		statusCode == http.StatusGatewayTimeout:
		// Server errors are transient
		return NewTransientError(err)
	case statusCode >= 500:
		// Other 5xx errors are transient
		return NewTransientError(err)
	case statusCode == http.StatusUnauthorized,
		statusCode == http.StatusForbidden:
		// Auth errors are fatal
		return NewFatalError(err)
	case statusCode == http.StatusBadRequest:
		// Bad requests are fatal
		return NewFatalError(err)
	default:
		// Unknown errors default to fatal
		return NewFatalError(err)
	}
}

// parseRetryAfter reads a Retry-After header value, either seconds or
// an HTTP date. Returns zero when absent or unparseable.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}
