package middleware

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
)

type countingAgent struct {
	calls int
}

func (a *countingAgent) Name() string {
	return "counting-agent"
}

func (a *countingAgent) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	a.calls++
	return input.Reply(a.Name(), "ok"), nil
}

func TestRateLimiterAllowsBurst(t *testing.T) {
	agent := &countingAgent{}
	limited := NewRateLimiterDecorator(agent, NewLimiter(1, 3))

	for i := 0; i < 3; i++ {
		if _, err := limited.Respond(context.Background(), desk.NewMessage("c", "x")); err != nil {
			t.Fatalf("Request %d: unexpected error: %v", i, err)
		}
	}
	if agent.calls != 3 {
		t.Errorf("Expected 3 calls, got %d", agent.calls)
	}
}

func TestRateLimiterWaitsForRefill(t *testing.T) {
	limited := NewRateLimiterDecorator(&countingAgent{}, NewLimiter(100, 1))

	start := time.Now()
	for i := 0; i < 2; i++ {
		if _, err := limited.Respond(context.Background(), desk.NewMessage("c", "x")); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Error("Expected the second call to wait for a refill")
	}
}

func TestRateLimiterHonoursContext(t *testing.T) {
	agent := &countingAgent{}
	limited := NewRateLimiterDecorator(agent, NewLimiter(0.1, 1))

	_, _ = limited.Respond(context.Background(), desk.NewMessage("c", "x"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err := limited.Respond(ctx, desk.NewMessage("c", "x"))

	var svcErr *desk.ServiceError
	if !errors.As(err, &svcErr) || !svcErr.Timeout() {
		t.Errorf("Expected timed-out ServiceError, got %v", err)
	}
	if agent.calls != 1 {
		t.Errorf("Expected the limited call to be skipped, got %d calls", agent.calls)
	}
}

func TestRateLimiterSharedAcrossAgents(t *testing.T) {
	limiter := NewLimiter(0.1, 2)
	first := NewRateLimiterDecorator(&countingAgent{}, limiter)
	second := NewRateLimiterDecorator(&countingAgent{}, limiter)

	for _, a := range []*RateLimiterDecorator{first, second} {
		if _, err := a.Respond(context.Background(), desk.NewMessage("c", "x")); err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := first.Respond(ctx, desk.NewMessage("c", "x")); err == nil {
		t.Error("Expected the shared burst to be exhausted")
	}
}

func TestNewLimiterDefaults(t *testing.T) {
	l := NewLimiter(0, 0)
	if l.Limit() != 10 || l.Burst() != 1 {
		t.Errorf("Expected 10/s with burst 1, got %v/%d", l.Limit(), l.Burst())
	}
}
