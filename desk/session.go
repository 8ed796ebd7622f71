package desk

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

// Pattern names a routing pattern.
type Pattern string

// Supported routing patterns.
const (
	PatternFanOut     Pattern = "fan_out"
	PatternChain      Pattern = "chain"
	PatternRoundRobin Pattern = "round_robin"
	PatternHandoff    Pattern = "handoff"
	PatternPlan       Pattern = "plan"
)

// Status is the lifecycle state of a Session.
type Status string

// Session states. A session starts pending and ends complete or failed.
const (
	StatusPending           Status = "pending"
	StatusDispatching       Status = "dispatching"
	StatusAwaitingResponses Status = "awaiting_responses"
	StatusContinuing        Status = "continuing"
	StatusComplete          Status = "complete"
	StatusFailed            Status = "failed"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

var transitions = map[Status][]Status{
	StatusPending:           {StatusDispatching, StatusFailed},
	StatusDispatching:       {StatusAwaitingResponses, StatusFailed},
	StatusAwaitingResponses: {StatusContinuing, StatusComplete, StatusFailed},
	StatusContinuing:        {StatusDispatching, StatusComplete, StatusFailed},
}

// Clock returns the current time. Sessions stamp messages with it.
type Clock func() time.Time

// FixedClock returns a clock that always reports t.
func FixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// Session is the append-only record of one routed request.
//
// A Session is owned by a single coordinator; the lock only guards readers
// that inspect a session while it is still running.
type Session struct {
	mu sync.RWMutex

	correlationID string
	pattern       Pattern
	status        Status
	history       []Message
	reason        string
	gaps          []string
	err           error
	startedAt     time.Time
	finishedAt    time.Time

	clock     Clock
	observers []func(Message)
}

// NewSession creates a pending session. A nil clock uses time.Now.
func NewSession(correlationID string, pattern Pattern, clock Clock) *Session {
	if clock == nil {
		clock = time.Now
	}
	return &Session{
		correlationID: correlationID,
		pattern:       pattern,
		status:        StatusPending,
		clock:         clock,
		startedAt:     clock().UTC(),
	}
}

// CorrelationID returns the id shared by every message in the session.
func (s *Session) CorrelationID() string {
	return s.correlationID
}

// Pattern returns the routing pattern the session runs under.
func (s *Session) Pattern() Pattern {
	return s.pattern
}

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Reason returns the failure or early-termination reason, if any.
func (s *Session) Reason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

// Gaps returns the agents that did not respond in a fan-out.
func (s *Session) Gaps() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.gaps)
}

// Err returns the cause of a failed session.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// StartedAt returns when the session was created.
func (s *Session) StartedAt() time.Time {
	return s.startedAt
}

// FinishedAt returns when the session reached a terminal state.
func (s *Session) FinishedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.finishedAt
}

// History returns a copy of every entry in append order.
func (s *Session) History() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Message, len(s.history))
	for i, m := range s.history {
		out[i] = m.Clone()
	}
	return out
}

// Len returns the number of history entries.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.history)
}

// Responses returns the successful agent replies in append order.
func (s *Session) Responses() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.history {
		if m.Role == RoleAgent && !m.Failed() {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Failures returns the failed entries in append order.
func (s *Session) Failures() []Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Message
	for _, m := range s.history {
		if m.Failed() {
			out = append(out, m.Clone())
		}
	}
	return out
}

// Final returns the last successful agent reply.
func (s *Session) Final() (Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i >= 0; i-- {
		m := s.history[i]
		if m.Role == RoleAgent && !m.Failed() {
			return m.Clone(), true
		}
	}
	return Message{}, false
}

// OnAppend registers fn to be called with every message appended from now on.
func (s *Session) OnAppend(fn func(Message)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

// Append stamps msg with the next sequence number and the session clock and
// adds it to the history. A message without a correlation id adopts the
// session's.
func (s *Session) Append(msg Message) (Message, error) {
	s.mu.Lock()
	if s.status.Terminal() {
		s.mu.Unlock()
		return Message{}, ErrSessionClosed
	}
	if msg.CorrelationID == "" {
		msg.CorrelationID = s.correlationID
	}
	if msg.CorrelationID != s.correlationID {
		s.mu.Unlock()
		return Message{}, fmt.Errorf("message correlation id %q does not belong to session %q",
			msg.CorrelationID, s.correlationID)
	}
	msg = msg.Clone()
	msg.Seq = len(s.history)
	msg.Timestamp = s.clock().UTC()
	s.history = append(s.history, msg)
	observers := slices.Clone(s.observers)
	s.mu.Unlock()

	for _, fn := range observers {
		fn(msg.Clone())
	}
	return msg, nil
}

// Transition moves the session to next. Terminal sessions never move.
func (s *Session) Transition(next Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(next)
}

func (s *Session) transitionLocked(next Status) error {
	if s.status.Terminal() {
		return ErrSessionClosed
	}
	if !slices.Contains(transitions[s.status], next) {
		return fmt.Errorf("invalid session transition %s -> %s", s.status, next)
	}
	s.status = next
	if next.Terminal() {
		s.finishedAt = s.clock().UTC()
	}
	return nil
}

// Complete marks the session complete.
func (s *Session) Complete() error {
	return s.Transition(StatusComplete)
}

// CompleteWithReason marks the session complete and records why it stopped.
func (s *Session) CompleteWithReason(reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.transitionLocked(StatusComplete); err != nil {
		return err
	}
	s.reason = reason
	return nil
}

// Fail marks the session failed. A session that is already terminal is left
// unchanged.
func (s *Session) Fail(reason string, cause error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status.Terminal() {
		return
	}
	s.status = StatusFailed
	s.finishedAt = s.clock().UTC()
	s.reason = reason
	s.err = cause
}

// AddGap records an agent that did not respond.
func (s *Session) AddGap(agent string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !slices.Contains(s.gaps, agent) {
		s.gaps = append(s.gaps, agent)
	}
}

// PartialFailure returns the fan-out gaps as an error, or nil when every
// agent answered.
func (s *Session) PartialFailure(expected int) *PartialFailure {
	gaps := s.Gaps()
	if len(gaps) == 0 {
		return nil
	}
	return &PartialFailure{Expected: expected, Responded: expected - len(gaps), Missing: gaps}
}

type sessionJSON struct {
	CorrelationID string    `json:"correlation_id"`
	Pattern       Pattern   `json:"pattern"`
	Status        Status    `json:"status"`
	History       []Message `json:"history"`
	Reason        string    `json:"reason,omitempty"`
	Gaps          []string  `json:"gaps,omitempty"`
	Error         string    `json:"error,omitempty"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

// MarshalJSON encodes the session for storage and the API.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := sessionJSON{
		CorrelationID: s.correlationID,
		Pattern:       s.pattern,
		Status:        s.status,
		History:       s.history,
		Reason:        s.reason,
		Gaps:          s.gaps,
		StartedAt:     s.startedAt,
		FinishedAt:    s.finishedAt,
	}
	if out.History == nil {
		out.History = []Message{}
	}
	if s.err != nil {
		out.Error = s.err.Error()
	}
	return json.Marshal(out)
}

// UnmarshalJSON restores a stored session. The restored error keeps only its
// message.
func (s *Session) UnmarshalJSON(data []byte) error {
	var in sessionJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlationID = in.CorrelationID
	s.pattern = in.Pattern
	s.status = in.Status
	s.history = in.History
	s.reason = in.Reason
	s.gaps = in.Gaps
	s.startedAt = in.StartedAt
	s.finishedAt = in.FinishedAt
	s.err = nil
	if in.Error != "" {
		s.err = errors.New(in.Error)
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return nil
}
