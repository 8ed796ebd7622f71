package llm

import (
	"context"
	"sync"
	"time"
)

// Responder produces the text a StubLLM returns for turns.
type Responder func(turns []Turn) (string, error)

// StubLLM is a deterministic completion service for tests and offline demos.
type StubLLM struct {
	model   string
	respond Responder
	delay   time.Duration

	mu    sync.Mutex
	calls int
}

// NewStubLLM creates a stub that answers with respond.
func NewStubLLM(respond Responder) *StubLLM {
	return &StubLLM{model: "stub", respond: respond}
}

// WithDelay makes every call wait d (or until the context ends) before
// answering.
func (s *StubLLM) WithDelay(d time.Duration) *StubLLM {
	s.delay = d
	return s
}

// Model returns "stub".
func (s *StubLLM) Model() string {
	return s.model
}

// Complete returns the responder's text.
func (s *StubLLM) Complete(ctx context.Context, turns []Turn, opts ...CallOption) (*Completion, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()

	if s.delay > 0 {
		timer := time.NewTimer(s.delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := s.respond(turns)
	if err != nil {
		return nil, err
	}
	return &Completion{Text: text, Model: s.model, FinishReason: "stop"}, nil
}

// Calls returns how many times Complete was called.
func (s *StubLLM) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// Unwrap returns the stub itself.
func (s *StubLLM) Unwrap() interface{} {
	return s
}

// EchoAgentOK answers "<agent>:ok", where agent is the name on the last turn.
func EchoAgentOK() Responder {
	return func(turns []Turn) (string, error) {
		name := ""
		if len(turns) > 0 {
			name = turns[len(turns)-1].Name
		}
		return name + ":ok", nil
	}
}

// Fixed always answers text.
func Fixed(text string) Responder {
	return func([]Turn) (string, error) {
		return text, nil
	}
}
