package knowledge

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hunterwarburton/sage/internal/core"
	"github.com/hunterwarburton/sage/internal/logger"
)

const (
	// DefaultFetchTimeout bounds a single GET attempt.
	DefaultFetchTimeout = 30 * time.Second
	// DefaultMaxRetries is the number of retries after the first attempt.
	DefaultMaxRetries = 3
	// DefaultBaseBackoff is doubled on each retry.
	DefaultBaseBackoff = 2 * time.Second
)

// Fetcher downloads document sources over HTTP with retry and exponential
// backoff. Exhausted retries surface as core.ErrSourceUnreachable.
type Fetcher struct {
	client      *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// FetcherOption configures a Fetcher.
type FetcherOption func(*Fetcher)

// WithMaxRetries sets how many times a failed fetch is retried.
func WithMaxRetries(n int) FetcherOption {
	return func(f *Fetcher) {
		if n >= 0 {
			f.maxRetries = n
		}
	}
}

// WithBaseBackoff sets the initial retry delay.
func WithBaseBackoff(d time.Duration) FetcherOption {
	return func(f *Fetcher) {
		if d > 0 {
			f.baseBackoff = d
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *Fetcher) {
		if c != nil {
			f.client = c
		}
	}
}

// NewFetcher creates a Fetcher with sane defaults.
func NewFetcher(opts ...FetcherOption) *Fetcher {
	f := &Fetcher{
		client:      &http.Client{Timeout: DefaultFetchTimeout},
		maxRetries:  DefaultMaxRetries,
		baseBackoff: DefaultBaseBackoff,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch GETs the source URL and returns the body. Transport errors and
// 5xx responses are retried; client errors fail immediately.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := f.baseBackoff << (attempt - 1)
			logger.Warn("Fetch attempt %d for %s failed (%v), retrying in %v", attempt, sourceURL, lastErr, backoff)
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("%w: %s: %v", core.ErrSourceUnreachable, sourceURL, ctx.Err())
			case <-time.After(backoff):
			}
		}

		body, retryable, err := f.fetchOnce(ctx, sourceURL)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if !retryable {
			break
		}
	}

	return nil, fmt.Errorf("%w: %s: %v", core.ErrSourceUnreachable, sourceURL, lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, sourceURL string) (body []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "text/plain, text/markdown, text/*")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, true, fmt.Errorf("failed to fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		retryable := resp.StatusCode >= 500
		return nil, retryable, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, true, fmt.Errorf("failed to read body: %w", err)
	}
	return body, false, nil
}
