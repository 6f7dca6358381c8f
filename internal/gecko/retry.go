package gecko

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// ErrMaxRetriesExceeded is returned when every attempt was rate limited.
var ErrMaxRetriesExceeded = errors.New("max retries exceeded")

var errRateLimited = errors.New("rate limited")

// StatusError is a non-2xx upstream response.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api request failed: %d", e.Code)
}

// linearBackOff waits base × attempt before each retry.
type linearBackOff struct {
	base    time.Duration
	attempt int
}

func (b *linearBackOff) NextBackOff() time.Duration {
	b.attempt++
	return b.base * time.Duration(b.attempt)
}

func (b *linearBackOff) Reset() {
	b.attempt = 0
}

// clockTimer runs backoff waits on an injected clock.
type clockTimer struct {
	clock clock.Clock
	timer *clock.Timer
}

func (t *clockTimer) Start(d time.Duration) {
	if t.timer == nil {
		t.timer = t.clock.Timer(d)
		return
	}
	t.timer.Reset(d)
}

func (t *clockTimer) Stop() {
	if t.timer != nil {
		t.timer.Stop()
	}
}

func (t *clockTimer) C() <-chan time.Time {
	return t.timer.C
}

// fetchWithRetry GETs url and returns the body. Only HTTP 429 is retried.
func (c *Client) fetchWithRetry(ctx context.Context, url string) ([]byte, error) {
	maxRetries := c.maxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	delay := c.retryDelay
	if delay <= 0 {
		delay = time.Second
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(&linearBackOff{base: delay}, uint64(maxRetries)),
		ctx,
	)

	operation := func() ([]byte, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("get %s: %w", url, err))
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusTooManyRequests {
			io.Copy(io.Discard, resp.Body)
			return nil, errRateLimited
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			io.Copy(io.Discard, resp.Body)
			return nil, backoff.Permanent(&StatusError{Code: resp.StatusCode, URL: url})
		}

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, backoff.Permanent(fmt.Errorf("read body: %w", err))
		}
		return body, nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Warn("rate limited, retrying", zap.String("url", url), zap.Duration("wait", wait))
		if c.onRetry != nil {
			c.onRetry(wait)
		}
	}

	body, err := backoff.RetryNotifyWithTimerAndData(operation, policy, notify, &clockTimer{clock: c.clock})
	if errors.Is(err, errRateLimited) {
		return nil, fmt.Errorf("%w: %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
	}
	return body, err
}
