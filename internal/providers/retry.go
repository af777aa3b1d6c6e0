package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// RetryConfig bounds retries of a provider call.
type RetryConfig struct {
	Attempts int           // total attempts, including the first
	MinDelay time.Duration // first backoff
	MaxDelay time.Duration // backoff cap
}

// DefaultRetryConfig retries three times with 1s doubling backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{Attempts: 3, MinDelay: time.Second, MaxDelay: 30 * time.Second}
}

// HTTPError is a non-200 reply from a provider.
type HTTPError struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Body)
}

// Retryable reports whether the status is worth another attempt.
func (e *HTTPError) Retryable() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

// ParseRetryAfter reads a Retry-After header in seconds or HTTP-date form.
// It returns 0 when the header is empty or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// RetryDo runs fn until it succeeds, returns a non-retryable error, or
// cfg.Attempts is exhausted.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	attempts := max(cfg.Attempts, 1)
	delay := cfg.MinDelay

	var zero T
	var lastErr error
	for i := 0; i < attempts; i++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if !isRetryable(err) || i == attempts-1 {
			break
		}

		wait := delay
		var httpErr *HTTPError
		if errors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
			wait = httpErr.RetryAfter
		}
		if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
			wait = cfg.MaxDelay
		}
		slog.Warn("provider call failed, retrying", "attempt", i+1, "wait", wait, "error", err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
		delay *= 2
	}
	return zero, lastErr
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
