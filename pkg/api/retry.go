package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"slices"
	"time"

	"golang.org/x/oauth2"
)

// RetryPolicy defines the configuration for retry behavior
type RetryPolicy struct {
	MaxAttempts       int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	RetryableErrors   []int // HTTP status codes that should trigger retries
}

// DefaultRetryPolicy returns a sensible default retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableErrors:   []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout},
	}
}

// ConservativeRetryPolicy retries once, and never on rate limits
func ConservativeRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:       2,
		InitialBackoff:    2 * time.Second,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
		RetryableErrors:   []int{http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable},
	}
}

// CalculateBackoff calculates the backoff duration for a given attempt
func (rp *RetryPolicy) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	backoff := float64(rp.InitialBackoff) * math.Pow(rp.BackoffMultiplier, float64(attempt-1))
	if backoff > float64(rp.MaxBackoff) {
		backoff = float64(rp.MaxBackoff)
	}

	return time.Duration(backoff)
}

func statusCode(err error) (int, bool) {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.StatusCode, true
	}

	var oauthErr *oauth2.RetrieveError
	if errors.As(err, &oauthErr) && oauthErr.Response != nil {
		return oauthErr.Response.StatusCode, true
	}

	return 0, false
}

// IsRetryableError checks if an error should trigger a retry
func (rp *RetryPolicy) IsRetryableError(err error) bool {
	code, ok := statusCode(err)
	return ok && slices.Contains(rp.RetryableErrors, code)
}

// IsRateLimitError checks if an error is specifically due to rate limiting
func IsRateLimitError(err error) bool {
	code, ok := statusCode(err)
	return ok && code == http.StatusTooManyRequests
}

// HTTPError is a non-2xx response
type HTTPError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface
func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Message)
}

// RetryableOperation represents an operation that can be retried
type RetryableOperation func(ctx context.Context) error

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// ExecuteWithRetry runs operation until it succeeds, fails with a
// non-retryable error, runs out of attempts or ctx is done
func ExecuteWithRetry(ctx context.Context, operation RetryableOperation, policy *RetryPolicy, operationName string) error {
	var lastErr error

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			backoff := policy.CalculateBackoff(attempt - 1)
			if IsRateLimitError(lastErr) {
				backoff *= 2
			}
			slog.Warn("Retrying operation",
				"operation", operationName,
				"attempt", attempt,
				"maxAttempts", policy.MaxAttempts,
				"backoff", backoff,
				"lastError", lastErr)

			if err := sleep(ctx, backoff); err != nil {
				return fmt.Errorf("operation %s cancelled: %w", operationName, err)
			}
		}

		err := operation(ctx)
		if err == nil {
			if attempt > 1 {
				slog.Info("Operation succeeded after retry",
					"operation", operationName,
					"attempt", attempt)
			}
			return nil
		}

		lastErr = err

		if !policy.IsRetryableError(err) {
			slog.Debug("Error is not retryable, stopping",
				"operation", operationName,
				"attempt", attempt,
				"error", err)
			return fmt.Errorf("operation %s failed: %w", operationName, err)
		}
	}

	return fmt.Errorf("operation %s failed after %d attempts: %w", operationName, policy.MaxAttempts, lastErr)
}
