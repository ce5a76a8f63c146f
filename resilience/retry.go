package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/userport/enrichment-worker/core"
)

// RetryConfig configures RetryDriver's exponential backoff + jitter policy.
// Mirrors spec's RetryPolicy: {max_attempts, base_delay, max_delay, retryable_types}.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the callback-delivery policy: 5 attempts,
// 1s base, 30s cap.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 5,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// ProviderRetryConfig matches the provider-call policy named in the worked
// scenarios: 3 attempts, 1s base, 30s cap.
func ProviderRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// RetryDriver wraps any fallible operation with policy-driven exponential
// backoff and jitter, classifying each failure as retryable or not before
// deciding whether to loop again.
type RetryDriver struct {
	config *RetryConfig
}

func NewRetryDriver(config *RetryConfig) *RetryDriver {
	if config == nil {
		config = DefaultRetryConfig()
	}
	return &RetryDriver{config: config}
}

// Do executes fn, retrying on errors fn itself reports as retryable via
// core.IsDomainRetryable. A non-retryable error is re-raised immediately
// without consuming further attempts. Delay per spec §4.3:
//
//	delay = min(base_delay * 2^(attempt-1), max_delay) + uniform(0, 0.1*delay)
func (d *RetryDriver) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error

	for attempt := 1; attempt <= d.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !core.IsDomainRetryable(err) {
			return err
		}
		if attempt == d.config.MaxAttempts {
			break
		}

		delay := d.backoff(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	return fmt.Errorf("max retry attempts (%d) exceeded: %w: %w", d.config.MaxAttempts, lastErr, core.ErrMaxRetriesExceeded)
}

func (d *RetryDriver) backoff(attempt int) time.Duration {
	base := d.config.BaseDelay
	for i := 1; i < attempt; i++ {
		base *= 2
		if base > d.config.MaxDelay {
			base = d.config.MaxDelay
			break
		}
	}
	jitter := time.Duration(rand.Float64() * 0.1 * float64(base))
	return base + jitter
}

// DoWithCircuitBreaker combines RetryDriver with a CircuitBreaker: each
// attempt is gated by cb.CanExecute, and outcomes update the breaker.
func (d *RetryDriver) DoWithCircuitBreaker(ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) error) error {
	return d.Do(ctx, func(ctx context.Context) error {
		if !cb.CanExecute() {
			return core.ErrCircuitBreakerOpen
		}
		if err := fn(ctx); err != nil {
			cb.RecordFailure()
			return err
		}
		cb.RecordSuccess()
		return nil
	})
}

// RetryExecutor is a logging/telemetry-aware wrapper around RetryDriver,
// used where callers want structured start/success/failure log lines per
// named operation rather than bare error returns. (provider.Adapter and
// aiclient.Client use RetryDriver directly.)
type RetryExecutor struct {
	driver           *RetryDriver
	logger           core.Logger
	telemetryEnabled bool
}

func NewRetryExecutor(config *RetryConfig) *RetryExecutor {
	return &RetryExecutor{driver: NewRetryDriver(config)}
}

func (e *RetryExecutor) SetLogger(logger core.Logger) {
	e.logger = logger
}

// Execute runs fn under the executor's RetryDriver. When a logger has been
// set via SetLogger it emits a "retry_start" log (with the policy's
// max_attempts, initial_delay and backoff_factor) before the first attempt,
// a "retry_backoff" log before each later attempt, and a success/failure log
// afterward. The driver classifies errors: a non-retryable error ends the
// loop after one attempt.
func (e *RetryExecutor) Execute(ctx context.Context, operation string, fn func() error) error {
	if e.logger != nil {
		e.logger.Info("Starting retry operation", map[string]interface{}{
			"operation":       "retry_start",
			"retry_operation": operation,
			"max_attempts":    e.driver.config.MaxAttempts,
			"initial_delay":   e.driver.config.BaseDelay.String(),
			"backoff_factor":  2.0,
		})
	}

	attempt := 0
	err := e.driver.Do(ctx, func(ctx context.Context) error {
		attempt++
		if attempt > 1 && e.logger != nil {
			e.logger.Debug("Retrying after backoff", map[string]interface{}{
				"operation":       "retry_backoff",
				"retry_operation": operation,
				"attempt":         attempt,
			})
		}
		return fn()
	})

	if e.logger == nil {
		return err
	}

	if err != nil {
		e.logger.Error("Retry operation exhausted", map[string]interface{}{
			"operation":       "retry_exhausted",
			"retry_operation": operation,
			"attempts":        attempt,
			"error":           err.Error(),
		})
	} else {
		e.logger.Info("Retry operation succeeded", map[string]interface{}{
			"operation":       "retry_success",
			"retry_operation": operation,
			"attempts":        attempt,
		})
	}
	return err
}

// WrapHTTPStatus converts an HTTP response status into a retryable
// core.DomainError when it falls in the retryable set (408, 429, 500, 502,
// 503, 504); every other 4xx is returned as a non-retryable provider error.
func WrapHTTPStatus(status int, op string) error {
	if status >= 200 && status < 300 {
		return nil
	}
	if core.RetryableHTTPStatus(status) {
		return core.NewDomainError(core.KindRetryable, op, fmt.Sprintf("retryable HTTP status %d", status), fmt.Errorf("status %d", status))
	}
	return core.NewDomainError(core.KindProvider, op, fmt.Sprintf("non-retryable HTTP status %d", status), fmt.Errorf("status %d", status))
}
