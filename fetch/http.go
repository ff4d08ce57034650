package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/GoCodeAlone/servicetree"
	"github.com/cenkalti/backoff/v4"
)

// HTTPFetcher downloads artifacts over HTTP(S). Connection errors and 5xx
// or 429 responses are retried with exponential backoff; other 4xx
// responses fail immediately.
type HTTPFetcher struct {
	client          *http.Client
	logger          servicetree.Logger
	initialInterval time.Duration
	maxInterval     time.Duration
	maxRetries      uint64
}

// HTTPOption configures an HTTPFetcher.
type HTTPOption func(*HTTPFetcher)

// WithHTTPClient sets the client used for downloads.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(f *HTTPFetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithRetry sets the backoff intervals and the number of retries after the
// first attempt.
func WithRetry(initial, maxInterval time.Duration, retries uint64) HTTPOption {
	return func(f *HTTPFetcher) {
		f.initialInterval = initial
		f.maxInterval = maxInterval
		f.maxRetries = retries
	}
}

// WithHTTPLogger sets the logger.
func WithHTTPLogger(logger servicetree.Logger) HTTPOption {
	return func(f *HTTPFetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewHTTPFetcher creates an HTTP fetcher.
func NewHTTPFetcher(opts ...HTTPOption) *HTTPFetcher {
	f := &HTTPFetcher{
		client:          &http.Client{Timeout: 5 * time.Minute},
		logger:          nopLogger{},
		initialInterval: 500 * time.Millisecond,
		maxInterval:     10 * time.Second,
		maxRetries:      4,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch downloads source to dest.
func (f *HTTPFetcher) Fetch(ctx context.Context, source, dest string) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialInterval
	b.MaxInterval = f.maxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		return f.download(ctx, source, dest)
	}
	notify := func(err error, wait time.Duration) {
		f.logger.Warn("Artifact download failed, retrying", "source", source, "attempt", attempt, "wait", wait, "error", err)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, f.maxRetries), ctx)
	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		return fmt.Errorf("after %d attempts: %w", attempt, err)
	}
	return nil
}

func (f *HTTPFetcher) download(ctx context.Context, source, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, source, nil)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("%w: %w", ErrInvalidSource, err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(fmt.Errorf("%w: %s", ErrNotFound, source))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("unexpected status %s", resp.Status)
	default:
		return backoff.Permanent(fmt.Errorf("unexpected status %s", resp.Status))
	}

	if err := writeFile(ctx, dest, resp.Body); err != nil {
		return err
	}
	return nil
}
