// Package retrylimit provides adaptive rate limiting and retry with backoff
// for outbound calls. Any error type works; errors carrying an HTTP status
// code get special treatment.
//
// Example usage:
//
//	lim := retrylimit.NewAdaptiveLimiter(5, 1, 20, 1, 0.5)
//	cfg := retrylimit.DefaultRetryConfig()
//	cfg.MaxAttempts = 3
//	err := retrylimit.Do(ctx, cfg, lim, func(ctx context.Context) error {
//	    return doSomeWork(ctx)
//	})
package retrylimit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/time/rate"
)

// =============================================================================
// Limiter
// =============================================================================

// AdaptiveLimiter is a rate limit that rises on success and falls on
// failures. Safe for concurrent use.
type AdaptiveLimiter struct {
	mu        sync.Mutex
	limiter   *rate.Limiter
	minLimit  rate.Limit
	maxLimit  rate.Limit
	stepUp    rate.Limit
	stepDown  float64
	lastError time.Time
}

// NewAdaptiveLimiter creates an AdaptiveLimiter.
//
// Parameters:
//   - initial: starting requests per second
//   - min: minimum allowed rate
//   - max: maximum allowed rate
//   - stepUp: increment on success
//   - stepDown: multiplier applied on failure (e.g., 0.5 to halve)
func NewAdaptiveLimiter(initial, min, max, stepUp rate.Limit, stepDown float64) *AdaptiveLimiter {
	initial = clampLimit(initial, 1, max)
	if min < 1 {
		min = 1
	}
	return &AdaptiveLimiter{
		limiter:  rate.NewLimiter(initial, burstFor(initial)),
		minLimit: min,
		maxLimit: max,
		stepUp:   stepUp,
		stepDown: stepDown,
	}
}

// Wait blocks until a token is available or ctx is done.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// Success raises the rate, unless a failure was seen in the last 10 seconds.
func (a *AdaptiveLimiter) Success() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if time.Since(a.lastError) > 10*time.Second {
		a.set(a.limiter.Limit() + a.stepUp)
	}
}

// RateLimited lowers the rate after a failure or an overload response.
func (a *AdaptiveLimiter) RateLimited() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastError = time.Now()
	a.set(rate.Limit(float64(a.limiter.Limit()) * a.stepDown))
}

// CurrentLimit returns the current requests per second.
func (a *AdaptiveLimiter) CurrentLimit() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return float64(a.limiter.Limit())
}

func (a *AdaptiveLimiter) set(l rate.Limit) {
	l = clampLimit(l, a.minLimit, a.maxLimit)
	if l != a.limiter.Limit() {
		a.limiter.SetLimit(l)
		a.limiter.SetBurst(burstFor(l))
	}
}

func clampLimit(l, lo, hi rate.Limit) rate.Limit {
	if l > hi {
		l = hi
	}
	if l < lo {
		l = lo
	}
	return l
}

func burstFor(l rate.Limit) int { return max(1, int(l)) }

// =============================================================================
// Errors
// =============================================================================

// HTTPError is implemented by errors that carry an HTTP status code.
type HTTPError interface {
	error
	StatusCode() int
}

// FatalError stops retries immediately.
type FatalError struct {
	Err error
}

func (f *FatalError) Error() string { return f.Err.Error() }
func (f *FatalError) Unwrap() error { return f.Err }

// ErrorClassifier reports whether err should slow the limiter down.
type ErrorClassifier func(error) bool

// DefaultClassifier slows down on 429 and 5xx.
func DefaultClassifier(err error) bool {
	return isRateLimitError(err) || isServerError(err)
}

// =============================================================================
// Retry
// =============================================================================

type RetryConfig struct {
	MaxAttempts     int           // 0 = unlimited, capped at 100
	InitialDelay    time.Duration // first backoff
	MaxDelay        time.Duration // backoff ceiling
	RateLimitDelay  time.Duration // fixed wait after a 429
	Multiplier      float64       // backoff growth
	Jitter          bool          // add up to 25% random delay
	ErrorClassifier ErrorClassifier
	OnRetry         func(attempt int, err error)
	Logger          *log.Logger
}

// DefaultRetryConfig returns a sensible default configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     100,
		InitialDelay:    500 * time.Millisecond,
		MaxDelay:        10 * time.Second,
		RateLimitDelay:  100 * time.Millisecond,
		Multiplier:      2.0,
		Jitter:          true,
		ErrorClassifier: DefaultClassifier,
	}
}

// Do runs fn until it succeeds, returns a FatalError, ctx ends, or
// cfg.MaxAttempts is reached. The last error is wrapped in the result.
func Do(ctx context.Context, cfg RetryConfig, lim *AdaptiveLimiter, fn func(ctx context.Context) error) error {
	if cfg.MaxAttempts <= 0 || cfg.MaxAttempts > 100 {
		cfg.MaxAttempts = 100
	}
	if cfg.ErrorClassifier == nil {
		cfg.ErrorClassifier = DefaultClassifier
	}
	if cfg.Multiplier <= 0 {
		cfg.Multiplier = 2
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}

	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if lim != nil {
			if err := lim.Wait(ctx); err != nil {
				return err
			}
		}

		err := fn(ctx)
		if err == nil {
			if lim != nil {
				lim.Success()
			}
			if attempt > 1 {
				logger.Debug("retry succeeded", "attempts", attempt)
			}
			return nil
		}
		lastErr = err

		var fatal *FatalError
		if errors.As(err, &fatal) {
			return err
		}
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err)
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		if isRateLimitError(err) {
			if lim != nil {
				lim.RateLimited()
			}
			logger.Warn("rate limited", "attempt", attempt, "limit", limitOf(lim))
			if err := sleep(ctx, cfg.RateLimitDelay); err != nil {
				return err
			}
			continue
		}

		if cfg.ErrorClassifier(err) && lim != nil {
			lim.RateLimited()
		}

		wait := delay
		if cfg.Jitter {
			wait = addJitter(delay)
		}
		logger.Warn("request failed, retrying", "attempt", attempt, "err", err, "sleep", wait)
		if err := sleep(ctx, wait); err != nil {
			return err
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("max attempts (%d) exceeded: %w", cfg.MaxAttempts, lastErr)
}

// =============================================================================
// Helper functions
// =============================================================================

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func addJitter(delay time.Duration) time.Duration {
	if delay < 4 {
		return delay
	}
	return delay + rand.N(delay/4)
}

func limitOf(lim *AdaptiveLimiter) float64 {
	if lim == nil {
		return 0
	}
	return lim.CurrentLimit()
}

func statusOf(err error) (int, bool) {
	var he HTTPError
	if errors.As(err, &he) {
		return he.StatusCode(), true
	}
	return 0, false
}

func isRateLimitError(err error) bool {
	code, ok := statusOf(err)
	return ok && code == http.StatusTooManyRequests
}

func isServerError(err error) bool {
	code, ok := statusOf(err)
	return ok && code >= 500 && code < 600
}
