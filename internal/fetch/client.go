// Package fetch provides the outbound HTTP surface of the pipeline: a
// retrying client with provider-appropriate headers and a per-host rate
// limiter that every request passes through.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"bobine/internal/logging"
	"bobine/internal/services"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	acceptLanguage   = "fr-CA,fr;q=0.9,en;q=0.8"

	// maxBodyBytes bounds page downloads; OHdio pages are well under this.
	maxBodyBytes = 16 << 20
)

// Doer abstracts *http.Client for tests.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Option configures the client.
type Option func(*Client)

// WithHTTPClient injects a custom underlying HTTP client.
func WithHTTPClient(doer Doer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// WithLimiter injects the rate limiter requests must wait on.
func WithLimiter(limiter Waiter) Option {
	return func(c *Client) {
		if limiter != nil {
			c.limiter = limiter
		}
	}
}

// WithRetryAttempts overrides the transport retry budget.
func WithRetryAttempts(attempts int) Option {
	return func(c *Client) {
		if attempts > 0 {
			c.attempts = attempts
		}
	}
}

// Client issues GET/POST requests with exponential backoff on transient
// failure. Client errors (4xx) are terminal and never retried.
type Client struct {
	http     Doer
	limiter  Waiter
	attempts int
	logger   *slog.Logger
}

// New constructs a fetch client.
func New(timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := &Client{
		http:     &http.Client{Timeout: timeout},
		limiter:  nopWaiter{},
		attempts: 3,
		logger:   logging.WithComponent(logger, "fetch"),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// Get fetches rawURL and returns the response body.
func (c *Client) Get(ctx context.Context, rawURL string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, rawURL, nil, "")
}

// GetJSON fetches rawURL with query params appended, declaring a JSON accept
// header. Used for the media validation API.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values) ([]byte, error) {
	if len(params) > 0 {
		sep := "?"
		if strings.Contains(rawURL, "?") {
			sep = "&"
		}
		rawURL += sep + params.Encode()
	}
	return c.do(ctx, http.MethodGet, rawURL, nil, "application/json")
}

// Post sends body to rawURL with the given content type.
func (c *Client) Post(ctx context.Context, rawURL, contentType string, body []byte) ([]byte, error) {
	return c.do(ctx, http.MethodPost, rawURL, body, contentType)
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, contentType string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if attempt > 1 {
			delay := backoffDelay(attempt - 1)
			if retry, ok := retryAfterOf(lastErr); ok && retry > delay {
				delay = retry
			}
			c.logger.Debug("retrying request",
				logging.String("url", rawURL),
				logging.Int("attempt", attempt),
				logging.Duration("delay", delay))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, services.Wrap(services.ErrTimeout, "", "rate limit", "wait interrupted", err)
		}

		data, err := c.once(ctx, method, rawURL, body, contentType)
		if err == nil {
			return data, nil
		}
		if !services.Retryable(err) || errors.Is(err, context.Canceled) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) once(ctx context.Context, method, rawURL string, body []byte, contentType string) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}
	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "build request", rawURL, err)
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	req.Header.Set("Accept-Language", acceptLanguage)
	if contentType != "" {
		if method == http.MethodPost {
			req.Header.Set("Content-Type", contentType)
		} else {
			req.Header.Set("Accept", contentType)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "request", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return nil, services.Wrap(services.ErrTransient, "", "read body", rawURL, err)
		}
		return data, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		err := services.Wrap(services.ErrTransient, "", "request", fmt.Sprintf("%s: rate limited (429)", rawURL), nil)
		return nil, withRetryAfter(err, parseRetryAfter(resp.Header.Get("Retry-After")))
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "", "request", fmt.Sprintf("%s: 404", rawURL), nil)
	case resp.StatusCode >= 500:
		return nil, services.Wrap(services.ErrTransient, "", "request", fmt.Sprintf("%s: server error %d", rawURL, resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		return nil, services.Wrap(services.ErrValidation, "", "request", fmt.Sprintf("%s: client error %d", rawURL, resp.StatusCode), nil)
	default:
		return nil, services.Wrap(services.ErrTransient, "", "request", fmt.Sprintf("%s: unexpected status %d", rawURL, resp.StatusCode), nil)
	}
}

func backoffDelay(retries int) time.Duration {
	base := time.Second
	delay := time.Duration(math.Pow(2, float64(retries-1))) * base
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}

func parseRetryAfter(value string) time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0
	}
	if secs, err := strconv.Atoi(value); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(value); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

// retryAfterError carries a server-requested delay through the retry loop.
type retryAfterError struct {
	err   error
	delay time.Duration
}

func (e *retryAfterError) Error() string { return e.err.Error() }

func (e *retryAfterError) Unwrap() error { return e.err }

func withRetryAfter(err error, delay time.Duration) error {
	if delay <= 0 {
		return err
	}
	return &retryAfterError{err: err, delay: delay}
}

func retryAfterOf(err error) (time.Duration, bool) {
	var ra *retryAfterError
	if errors.As(err, &ra) {
		return ra.delay, true
	}
	return 0, false
}
