package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// RetryConfig configures the retry behavior for provider calls.
type RetryConfig struct {
	MaxRetries      int           // Maximum number of retry attempts
	InitialInterval time.Duration // Initial backoff interval
	MaxInterval     time.Duration // Maximum backoff interval
}

// DefaultRetryConfig returns sensible defaults for LLM API calls.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:      3,
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     10 * time.Second,
	}
}

// retryablePatterns groups error substrings by category.
// Matched case-insensitively against err.Error().
//
// NOTE: This uses string matching because the provider SDKs do not expose
// typed/sentinel errors for transient failures. Documented exception to
// the project rule against strings.Contains(err.Error(), ...).
var retryablePatterns = [][]string{
	{"rate limit", "quota exceeded", "429"},      // rate limiting
	{"500", "502", "503", "504", "unavailable"},  // transient server errors
	{"connection reset", "timeout", "temporary"}, // network errors
}

// retryableError reports whether err is transient and should trigger a retry.
func retryableError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	for _, group := range retryablePatterns {
		if containsAny(errStr, group...) {
			return true
		}
	}
	return false
}

// containsAny checks if s contains any of the substrings (case-insensitive).
func containsAny(s string, substrs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range substrs {
		if strings.Contains(lower, strings.ToLower(sub)) {
			return true
		}
	}
	return false
}

// withRetry executes fn with exponential backoff retry. Each attempt is
// rate-limited individually so retries cannot burst past the provider quota.
func withRetry[T any](
	ctx context.Context,
	cfg RetryConfig,
	limiter *rate.Limiter,
	logger *slog.Logger,
	op string,
	fn func() (T, error),
) (T, error) {
	var zero T
	var lastErr error
	delay := cfg.InitialInterval
	start := time.Now()

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return zero, fmt.Errorf("rate limit wait: %w", err)
			}
		}

		result, err := fn()
		if err == nil {
			logger.Debug("provider call succeeded",
				"op", op,
				"attempts", attempt+1,
				"elapsed", time.Since(start),
			)
			return result, nil
		}

		lastErr = err

		// Non-retryable error - fail immediately
		if !retryableError(err) {
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		// Last attempt - don't sleep
		if attempt == cfg.MaxRetries {
			break
		}

		sleep := jitter(delay)
		logger.Debug("retrying after error",
			"op", op,
			"attempt", attempt+1,
			"delay", sleep,
			"elapsed", time.Since(start),
			"error", err,
		)

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("context canceled during retry: %w", ctx.Err())
		case <-time.After(sleep):
			delay = min(delay*2, cfg.MaxInterval)
		}
	}

	return zero, fmt.Errorf("%s after %d retries (elapsed: %v): %w",
		op, cfg.MaxRetries, time.Since(start), lastErr)
}

// jitter spreads a backoff interval uniformly over [d/2, 3d/2) so clients
// that failed together do not retry in lockstep.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d/2 + rand.N(d)
}
