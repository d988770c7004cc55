package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
)

const maxPageBytes = 5 << 20

// Fetcher retrieves pages with bounded retries and exponential backoff.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	backoffBase time.Duration
	logger      *zap.Logger
}

// NewFetcher builds a Fetcher identifying itself as userAgent.
func NewFetcher(userAgent string, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{
			// Per-request deadlines come from the caller's context.
			Timeout: 0,
		},
		userAgent:   userAgent,
		backoffBase: time.Second,
		logger:      logger,
	}
}

// Fetch retrieves url, retrying transport and HTTP errors up to maxRetries
// attempts with a 2^attempt backoff. It returns the body of the first
// successful response, or the last error once retries are exhausted.
func (f *Fetcher) Fetch(ctx context.Context, url string, timeout time.Duration, maxRetries int) ([]byte, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		body, err := f.fetchOnce(ctx, url, timeout)
		if err == nil {
			return body, nil
		}
		lastErr = err
		f.logger.Warn("fetch error",
			zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt < maxRetries {
			if err := sleep(ctx, f.backoffBase<<attempt); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, url string, timeout time.Duration) ([]byte, error) {
	reqCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if cerr := resp.Body.Close(); cerr != nil {
			f.logger.Debug("close response body", zap.Error(cerr))
		}
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, url)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
