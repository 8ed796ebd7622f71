// Package middleware provides decorators that wrap a desk.Agent with retry,
// timeout and rate limiting behavior.
package middleware

import (
	"context"
	"errors"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
)

// RetryConfig configures retry behavior.
type RetryConfig struct {
	// Retries is the number of additional attempts after the first one.
	// Default: 0 (no retry)
	Retries int

	// InitialBackoff is the initial backoff duration.
	// Default: 100ms
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	// Default: 10s
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	// Default: 2.0
	BackoffMultiplier float64

	// ShouldRetry determines if an error should trigger a retry.
	// If nil, only *desk.ServiceError is retried.
	ShouldRetry func(error) bool
}

// DefaultRetryConfig returns a config that never retries.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        10 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// IsServiceError reports whether err is a completion service failure.
func IsServiceError(err error) bool {
	var svcErr *desk.ServiceError
	return errors.As(err, &svcErr)
}

// RetryDecorator wraps an agent with retry logic.
type RetryDecorator struct {
	agent  desk.Agent
	config RetryConfig
}

var _ desk.Agent = (*RetryDecorator)(nil)

// NewRetryDecorator creates a new retry decorator.
func NewRetryDecorator(agent desk.Agent, config RetryConfig) *RetryDecorator {
	if config.Retries < 0 {
		config.Retries = 0
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = 100 * time.Millisecond
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = 10 * time.Second
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = 2.0
	}
	if config.ShouldRetry == nil {
		config.ShouldRetry = IsServiceError
	}
	return &RetryDecorator{agent: agent, config: config}
}

// Name returns the name of the underlying agent.
func (r *RetryDecorator) Name() string {
	return r.agent.Name()
}

// Respond calls the agent up to Retries+1 times. The final error is a
// *desk.ServiceError carrying the attempt count.
func (r *RetryDecorator) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	maxAttempts := r.config.Retries + 1
	backoff := r.config.InitialBackoff

	var lastErr error
	attempt := 1
	for ; attempt <= maxAttempts; attempt++ {
		reply, err := r.agent.Respond(ctx, input)
		if err == nil {
			return reply, nil
		}
		lastErr = err

		if !r.config.ShouldRetry(err) || attempt == maxAttempts {
			break
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return desk.Message{}, r.wrap(ctx.Err(), attempt)
		case <-timer.C:
		}
		backoff = time.Duration(float64(backoff) * r.config.BackoffMultiplier)
		if backoff > r.config.MaxBackoff {
			backoff = r.config.MaxBackoff
		}
	}
	return desk.Message{}, r.wrap(lastErr, min(attempt, maxAttempts))
}

func (r *RetryDecorator) wrap(err error, attempts int) error {
	var svcErr *desk.ServiceError
	if errors.As(err, &svcErr) {
		return &desk.ServiceError{Agent: svcErr.Agent, Attempts: attempts, Cause: svcErr.Cause}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &desk.ServiceError{Agent: r.agent.Name(), Attempts: attempts, Cause: err}
	}
	return err
}
