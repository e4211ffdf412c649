package marketdata

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// RetryPolicy configures exponential backoff for vendor calls.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second}
}

const (
	backoffFactor = 2.0
	jitterRange   = 0.1 // ±10% jitter
)

// retryableError marks an error worth another attempt.
type retryableError struct{ err error }

func (e retryableError) Error() string { return e.err.Error() }
func (e retryableError) Unwrap() error { return e.err }

func retryable(err error) error { return retryableError{err: err} }

// do runs fn until it succeeds, returns a non-retryable error, or the policy
// is exhausted.
func (p RetryPolicy) do(ctx context.Context, name string, fn func() error) error {
	attempts := p.MaxRetries
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if _, ok := err.(retryableError); !ok {
			return err
		}
		if attempt == attempts-1 {
			break
		}

		delay := calculateRetryDelay(attempt, p.BaseDelay, p.MaxDelay, backoffFactor, jitterRange)
		log.WithFields(log.Fields{
			"provider": name,
			"attempt":  attempt + 1,
			"delay":    delay,
		}).WithError(err).Warn("retrying market data request")

		select {
		case <-ctx.Done():
			return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("failed after %d attempts, last error: %w", attempts, lastErr)
}

// calculateRetryDelay calculates the delay for the next retry attempt with exponential backoff and jitter
func calculateRetryDelay(attempt int, baseDelay, maxDelay time.Duration, backoffFactor, jitterRange float64) time.Duration {
	delay := float64(baseDelay) * math.Pow(backoffFactor, float64(attempt))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}

	jitter := delay * jitterRange * (2*rand.Float64() - 1)
	delay += jitter

	if delay < 0 {
		delay = float64(baseDelay)
	}
	return time.Duration(delay)
}

// isRetryableHTTPStatus determines if an HTTP status code indicates a retryable error
func isRetryableHTTPStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
