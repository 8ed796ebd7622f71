package middleware

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/scttfrdmn/investdesk/desk"
)

// NewLimiter creates a limiter allowing rps calls per second with bursts of
// up to burst calls. One limiter is usually shared by every agent that talks
// to the same provider deployment.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		rps = 10
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// RateLimiterDecorator waits on a shared limiter before each call.
type RateLimiterDecorator struct {
	agent   desk.Agent
	limiter *rate.Limiter
}

var _ desk.Agent = (*RateLimiterDecorator)(nil)

// NewRateLimiterDecorator wraps agent with limiter.
func NewRateLimiterDecorator(agent desk.Agent, limiter *rate.Limiter) *RateLimiterDecorator {
	return &RateLimiterDecorator{agent: agent, limiter: limiter}
}

// Name returns the name of the underlying agent.
func (r *RateLimiterDecorator) Name() string {
	return r.agent.Name()
}

// Respond waits for the limiter, then calls the agent. A wait the context
// cannot accommodate is reported as a service error.
func (r *RateLimiterDecorator) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		// rate reports a wait past the deadline before the deadline elapses.
		if _, ok := ctx.Deadline(); ok && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
		}
		return desk.Message{}, desk.NewServiceError(r.Name(), err)
	}
	return r.agent.Respond(ctx, input)
}
