package patterns

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
)

// extendedMockAgent provides flexible mocking for orchestrator tests.
type extendedMockAgent struct {
	name        string
	response    string
	err         error
	delay       time.Duration
	respondFunc func(ctx context.Context, msg desk.Message) (desk.Message, error)

	mu    sync.Mutex
	calls []desk.Message
}

func (m *extendedMockAgent) Name() string {
	return m.name
}

func (m *extendedMockAgent) Respond(ctx context.Context, msg desk.Message) (desk.Message, error) {
	m.mu.Lock()
	m.calls = append(m.calls, msg)
	m.mu.Unlock()

	if m.delay > 0 {
		select {
		case <-ctx.Done():
			return desk.Message{}, ctx.Err()
		case <-time.After(m.delay):
		}
	}
	if m.respondFunc != nil {
		return m.respondFunc(ctx, msg)
	}
	if m.err != nil {
		return desk.Message{}, m.err
	}
	response := m.response
	if response == "" {
		response = m.name + ":ok"
	}
	return msg.Reply(m.name, response), nil
}

func (m *extendedMockAgent) Calls() []desk.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]desk.Message(nil), m.calls...)
}

func okAgent(name string) *extendedMockAgent {
	return &extendedMockAgent{name: name}
}

// echoAgent answers with its name followed by the input content.
func echoAgent(name string) *extendedMockAgent {
	return &extendedMockAgent{
		name: name,
		respondFunc: func(ctx context.Context, msg desk.Message) (desk.Message, error) {
			return msg.Reply(name, name+"("+msg.Content+")"), nil
		},
	}
}

var testTime = time.Date(2024, 10, 1, 9, 30, 0, 0, time.UTC)

// newStartedOrchestrator builds and starts an orchestrator with a fixed
// clock, stopping it when the test ends.
func newStartedOrchestrator(t *testing.T, cfg Config, agents ...desk.Agent) *Orchestrator {
	t.Helper()
	cfg.Agents = append(cfg.Agents, agents...)
	if cfg.Clock == nil {
		cfg.Clock = desk.FixedClock(testTime)
	}
	o, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := o.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = o.Stop(ctx)
	})
	return o
}

func senders(msgs []desk.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Sender
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
