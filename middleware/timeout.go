package middleware

import (
	"context"
	"fmt"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
)

// TimeoutError is the cause recorded when an agent call exceeds its timeout.
type TimeoutError struct {
	AgentName string
	Timeout   time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to agent '%s' timed out after %v", e.AgentName, e.Timeout)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// TimeoutDecorator bounds each call to the wrapped agent.
//
// The call runs in its own goroutine so agents that ignore context
// cancellation still release the caller on time.
//
// Example:
//
//	analyst := middleware.NewTimeoutDecorator(agent, 30*time.Second)
//	reply, err := analyst.Respond(ctx, msg)
//	var svcErr *desk.ServiceError
//	if errors.As(err, &svcErr) && svcErr.Timeout() {
//		fmt.Println("analyst timed out")
//	}
type TimeoutDecorator struct {
	agent   desk.Agent
	timeout time.Duration
}

var _ desk.Agent = (*TimeoutDecorator)(nil)

// NewTimeoutDecorator creates a new timeout decorator. A non-positive
// timeout defaults to 30 seconds.
func NewTimeoutDecorator(agent desk.Agent, timeout time.Duration) *TimeoutDecorator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &TimeoutDecorator{agent: agent, timeout: timeout}
}

// Name returns the name of the underlying agent.
func (t *TimeoutDecorator) Name() string {
	return t.agent.Name()
}

// Respond calls the agent with a deadline. Timeouts are reported as a
// *desk.ServiceError whose cause is a *TimeoutError.
func (t *TimeoutDecorator) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		msg desk.Message
		err error
	}
	done := make(chan result, 1)

	go func() {
		msg, err := t.agent.Respond(timeoutCtx, input)
		done <- result{msg, err}
	}()

	select {
	case res := <-done:
		if res.err != nil && timeoutCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return desk.Message{}, t.timeoutError()
		}
		return res.msg, res.err
	case <-timeoutCtx.Done():
		if ctx.Err() != nil {
			return desk.Message{}, desk.NewServiceError(t.Name(), ctx.Err())
		}
		return desk.Message{}, t.timeoutError()
	}
}

func (t *TimeoutDecorator) timeoutError() error {
	return desk.NewServiceError(t.Name(), &TimeoutError{AgentName: t.Name(), Timeout: t.timeout})
}
