// Package scraper fetches pages from the remote fiction site politely: one
// user agent, one shared rate limiter and a traced transport.
package scraper

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"github.com/storyrag/storyrag/pkg/fn"
)

// DefaultUserAgent mimics a desktop browser; the site rejects obvious bots.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d from %s", e.Code, e.URL)
}

// Throttled reports whether the server asked us to slow down or failed.
func (e *StatusError) Throttled() bool {
	return e.Code == http.StatusTooManyRequests || e.Code >= 500
}

// Config configures a Fetcher.
type Config struct {
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	Transport         http.RoundTripper
}

// Fetcher issues GET requests. It is safe for concurrent use; the limiter is
// shared by every caller.
type Fetcher struct {
	client    *http.Client
	userAgent string
	limiter   *rate.Limiter
}

// New creates a Fetcher. A zero RequestsPerSecond disables limiting.
func New(cfg Config) *Fetcher {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	base := cfg.Transport
	if base == nil {
		base = http.DefaultTransport
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	return &Fetcher{
		client:    &http.Client{Timeout: cfg.Timeout, Transport: otelhttp.NewTransport(base)},
		userAgent: cfg.UserAgent,
		limiter:   rate.NewLimiter(limit, cfg.Burst),
	}
}

// Get fetches url and returns its body.
func (f *Fetcher) Get(ctx context.Context, url string) fn.Result[string] {
	if err := f.limiter.Wait(ctx); err != nil {
		return fn.Err[string](fmt.Errorf("scraper: wait: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fn.Err[string](fmt.Errorf("scraper: request: %w", err))
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := f.client.Do(req)
	if err != nil {
		return fn.Err[string](fmt.Errorf("scraper: get %s: %w", url, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return fn.Err[string](&StatusError{Code: resp.StatusCode, URL: url})
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fn.Err[string](fmt.Errorf("scraper: read body: %w", err))
	}
	return fn.Ok(string(body))
}
