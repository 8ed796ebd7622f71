// Package patterns routes a seed message through a set of agents and records
// the exchange in a desk.Session.
//
// Five routing patterns are supported:
//   - fan-out: every agent answers the same message concurrently
//   - chain: each agent answers the previous agent's reply
//   - round-robin: agents take turns for a fixed number of rounds
//   - handoff: a triage agent transfers control to one specialist
//   - plan: a planner's task graph is executed in dependency order
//
// An Orchestrator is built once from a fixed set of agents and may run many
// sessions concurrently. Each session is driven by a single goroutine; only
// fan-out calls agents in parallel.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/memory"
	"github.com/scttfrdmn/investdesk/middleware"
)

// Lifecycle errors.
var (
	ErrNotStarted = errors.New("orchestrator not started")
	ErrStopped    = errors.New("orchestrator stopped")
)

// SessionObserver is told when a session starts and after it reaches a
// terminal status. SessionStarted may return a derived context, such as one
// carrying a trace span; it is used for every agent call of the session.
type SessionObserver interface {
	SessionStarted(ctx context.Context, s *desk.Session) context.Context
	SessionFinished(ctx context.Context, s *desk.Session)
}

// Config configures an Orchestrator.
type Config struct {
	// Agents is the registry. Names must be non-empty and unique.
	Agents []desk.Agent

	// Transform builds seed messages for Submit.
	// Default: JSONTransform
	Transform TransformFunc

	// Retries is the number of extra attempts after a ServiceError.
	// Default: 0 (no retry)
	Retries int

	// RetryBackoff is the wait before the first retry.
	// Default: 100ms
	RetryBackoff time.Duration

	// SessionTimeout bounds a whole session. Zero means no deadline.
	SessionTimeout time.Duration

	// AgentTimeout bounds each agent call. Zero means no per-call deadline.
	AgentTimeout time.Duration

	// Middleware wraps every agent, first entry innermost.
	Middleware []func(desk.Agent) desk.Agent

	// OnMessage is called with each agent reply as it arrives.
	OnMessage func(desk.Message)

	// Observer is told about session start and finish. Optional.
	Observer SessionObserver

	// Store receives every terminal session. Optional.
	Store memory.SessionStore

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Clock stamps sessions and messages. Default: time.Now
	Clock desk.Clock
}

type lifecycle int

const (
	stateCreated lifecycle = iota
	stateRunning
	stateStopped
)

// Orchestrator runs sessions over a fixed registry of agents.
type Orchestrator struct {
	cfg        Config
	agents     map[string]desk.Agent
	names      []string
	strategies map[desk.Pattern]strategy
	logger     *slog.Logger
	clock      desk.Clock

	mu       sync.Mutex
	state    lifecycle
	active   map[string]struct{}
	inflight sync.WaitGroup
}

// New validates cfg and builds an orchestrator. Call Start before Run.
func New(cfg Config) (*Orchestrator, error) {
	if len(cfg.Agents) == 0 {
		return nil, desk.NewConfigurationError("at least one agent is required", nil)
	}
	if cfg.Retries < 0 {
		return nil, desk.NewConfigurationError("retries must not be negative",
			map[string]any{"retries": cfg.Retries})
	}
	if cfg.SessionTimeout < 0 || cfg.AgentTimeout < 0 {
		return nil, desk.NewConfigurationError("timeouts must not be negative", nil)
	}

	o := &Orchestrator{
		cfg:    cfg,
		agents: make(map[string]desk.Agent, len(cfg.Agents)),
		names:  make([]string, 0, len(cfg.Agents)),
		logger: cfg.Logger,
		clock:  cfg.Clock,
		active: make(map[string]struct{}),
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	if o.clock == nil {
		o.clock = time.Now
	}
	if o.cfg.Transform == nil {
		o.cfg.Transform = JSONTransform
	}

	for i, agent := range cfg.Agents {
		if agent == nil {
			return nil, desk.NewConfigurationError("agent is nil", map[string]any{"index": i})
		}
		name := agent.Name()
		if name == "" {
			return nil, desk.NewConfigurationError("agent name is required", map[string]any{"index": i})
		}
		if _, dup := o.agents[name]; dup {
			return nil, desk.NewConfigurationError("duplicate agent name", map[string]any{"agent": name})
		}
		for _, wrap := range cfg.Middleware {
			agent = wrap(agent)
		}
		o.agents[name] = agent
		o.names = append(o.names, name)
	}

	o.strategies = map[desk.Pattern]strategy{
		desk.PatternFanOut:     bind(runFanOut),
		desk.PatternChain:      bind(runChain),
		desk.PatternRoundRobin: bind(runRoundRobin),
		desk.PatternHandoff:    bind(runHandoff),
		desk.PatternPlan:       bind(runPlan),
	}
	return o, nil
}

// Has implements Registry.
func (o *Orchestrator) Has(name string) bool {
	_, ok := o.agents[name]
	return ok
}

// Names implements Registry.
func (o *Orchestrator) Names() []string {
	return append([]string(nil), o.names...)
}

// Start allows sessions to run. Starting a stopped orchestrator fails.
func (o *Orchestrator) Start() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case stateStopped:
		return ErrStopped
	case stateRunning:
		return nil
	}
	o.state = stateRunning
	o.logger.Info("orchestrator started", "agents", len(o.names))
	return nil
}

// Stop refuses new sessions and waits for running ones, or for ctx.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	o.state = stateStopped
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		o.logger.Info("orchestrator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for running sessions: %w", ctx.Err())
	}
}

// acquire registers a running session. The same correlation id may not run
// twice at once.
func (o *Orchestrator) acquire(id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	switch o.state {
	case stateCreated:
		return ErrNotStarted
	case stateStopped:
		return ErrStopped
	}
	if _, busy := o.active[id]; busy {
		return desk.NewConfigurationError("correlation id already has a running session",
			map[string]any{"correlation_id": id})
	}
	o.active[id] = struct{}{}
	o.inflight.Add(1)
	return nil
}

func (o *Orchestrator) release(id string) {
	o.mu.Lock()
	delete(o.active, id)
	o.mu.Unlock()
	o.inflight.Done()
}

// RunOption customizes a single Run.
type RunOption func(*runOptions)

type runOptions struct {
	observers []func(desk.Message)
}

// WithHistoryObserver calls fn with every history entry, in order, as it is
// appended to the session.
func WithHistoryObserver(fn func(desk.Message)) RunOption {
	return func(o *runOptions) {
		o.observers = append(o.observers, fn)
	}
}

// Run routes initial through the agents named by rule and returns the
// terminal session.
//
// A rule that fails validation is reported before any agent is called, with
// a nil session. A configuration problem found mid-session, such as a cyclic
// plan or an exceeded hop bound, returns the failed session together with
// the *desk.ConfigurationError. Agent failures never produce an error: they
// are recorded in the session history and status.
func (o *Orchestrator) Run(ctx context.Context, initial desk.Message, rule Rule, opts ...RunOption) (*desk.Session, error) {
	if rule == nil {
		return nil, desk.NewConfigurationError("routing rule is required", nil)
	}
	strat, ok := o.strategies[rule.Pattern()]
	if !ok {
		return nil, desk.NewConfigurationError("unsupported routing pattern",
			map[string]any{"pattern": string(rule.Pattern())})
	}
	if !strat.accepts(rule) {
		return nil, desk.NewConfigurationError("rule type does not match its pattern",
			map[string]any{"pattern": string(rule.Pattern()), "type": fmt.Sprintf("%T", rule)})
	}
	if err := rule.Validate(o); err != nil {
		return nil, err
	}

	if initial.CorrelationID == "" {
		initial.CorrelationID = uuid.NewString()
	}
	if initial.Role == "" {
		initial.Role = desk.RoleUser
	}
	if initial.Sender == "" {
		initial.Sender = "user"
	}
	initial.Error = ""

	id := initial.CorrelationID
	if err := o.acquire(id); err != nil {
		return nil, err
	}
	defer o.release(id)

	var options runOptions
	for _, opt := range opts {
		opt(&options)
	}

	s := desk.NewSession(id, rule.Pattern(), o.clock)
	for _, fn := range options.observers {
		s.OnAppend(fn)
	}

	if o.cfg.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.SessionTimeout)
		defer cancel()
	}
	if o.cfg.Observer != nil {
		ctx = o.cfg.Observer.SessionStarted(ctx, s)
	}

	r := &run{o: o, s: s, logger: o.logger.With("pattern", string(rule.Pattern()))}
	r.logger.InfoContext(ctx, "session started", "correlation_id", id, "rule", Describe(rule))

	seed, err := s.Append(initial)
	if err == nil {
		err = strat.run(ctx, r, seed, rule)
	}
	o.finish(ctx, r, err)

	if desk.IsConfigurationError(err) {
		return s, err
	}
	return s, nil
}

// finish makes sure the session is terminal, then logs, observes and
// stores it.
func (o *Orchestrator) finish(ctx context.Context, r *run, err error) {
	s := r.s
	if !s.Status().Terminal() {
		switch {
		case err != nil:
			s.Fail(err.Error(), err)
		case ctx.Err() != nil:
			r.failContext(ctx)
		default:
			s.Fail("session ended without a result", nil)
		}
	}

	attrs := []any{
		"correlation_id", s.CorrelationID(),
		"status", string(s.Status()),
		"messages", s.Len(),
	}
	if reason := s.Reason(); reason != "" {
		attrs = append(attrs, "reason", reason)
	}
	if gaps := s.Gaps(); len(gaps) > 0 {
		attrs = append(attrs, "gaps", gaps)
	}
	if s.Status() == desk.StatusFailed {
		r.logger.WarnContext(ctx, "session failed", attrs...)
	} else {
		r.logger.InfoContext(ctx, "session complete", attrs...)
	}

	if o.cfg.Observer != nil {
		o.cfg.Observer.SessionFinished(ctx, s)
	}
	if o.cfg.Store != nil {
		// The session context may already be past its deadline.
		saveCtx := context.WithoutCancel(ctx)
		if err := o.cfg.Store.Save(saveCtx, s); err != nil {
			r.logger.ErrorContext(ctx, "failed to store session",
				"correlation_id", s.CorrelationID(), "error", err)
		}
	}
}

// Submit transforms task into a seed message and runs it.
func (o *Orchestrator) Submit(ctx context.Context, task any, rule Rule, opts ...RunOption) (*desk.Session, error) {
	seed, err := o.cfg.Transform(task)
	if err != nil {
		return nil, fmt.Errorf("failed to transform task: %w", err)
	}
	return o.Run(ctx, seed, rule, opts...)
}

// Result is the outcome of an asynchronous run.
type Result struct {
	Session *desk.Session
	Err     error
}

// RunAsync starts Run in a goroutine. The channel receives exactly one
// Result and is then closed.
func (o *Orchestrator) RunAsync(ctx context.Context, initial desk.Message, rule Rule, opts ...RunOption) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		defer close(out)
		s, err := o.Run(ctx, initial, rule, opts...)
		out <- Result{Session: s, Err: err}
	}()
	return out
}

// strategy drives one pattern. run returns an error only for configuration
// problems discovered after dispatch began.
type strategy struct {
	accepts func(Rule) bool
	run     func(ctx context.Context, r *run, seed desk.Message, rule Rule) error
}

func bind[R Rule](fn func(ctx context.Context, r *run, seed desk.Message, rule R) error) strategy {
	return strategy{
		accepts: func(rule Rule) bool {
			_, ok := rule.(R)
			return ok
		},
		run: func(ctx context.Context, r *run, seed desk.Message, rule Rule) error {
			return fn(ctx, r, seed, rule.(R))
		},
	}
}

// run is the coordinator state of one session.
type run struct {
	o      *Orchestrator
	s      *desk.Session
	logger *slog.Logger
}

// call sends input to the named agent and normalizes the reply so it is
// attributed to that agent and belongs to this session.
func (r *run) call(ctx context.Context, name string, input desk.Message, timeout time.Duration) (desk.Message, error) {
	agent := r.o.agents[name]
	if timeout > 0 {
		agent = middleware.NewTimeoutDecorator(agent, timeout)
	}
	if r.o.cfg.Retries > 0 {
		cfg := middleware.DefaultRetryConfig()
		cfg.Retries = r.o.cfg.Retries
		if r.o.cfg.RetryBackoff > 0 {
			cfg.InitialBackoff = r.o.cfg.RetryBackoff
		}
		agent = middleware.NewRetryDecorator(agent, cfg)
	}

	reply, err := agent.Respond(ctx, input.Clone())
	if err != nil {
		var svcErr *desk.ServiceError
		if !errors.As(err, &svcErr) {
			err = desk.NewServiceError(name, err)
		}
		r.logger.WarnContext(ctx, "agent call failed",
			"correlation_id", r.s.CorrelationID(), "agent", name, "error", err)
		return desk.Message{}, err
	}

	reply.Sender = name
	reply.Role = desk.RoleAgent
	reply.CorrelationID = r.s.CorrelationID()
	reply.Error = ""
	return reply, nil
}

// dispatch moves the session through dispatching and awaiting_responses
// around a single call.
func (r *run) dispatch(ctx context.Context, name string, input desk.Message) (desk.Message, error) {
	if err := r.enter(desk.StatusDispatching); err != nil {
		return desk.Message{}, err
	}
	if err := r.enter(desk.StatusAwaitingResponses); err != nil {
		return desk.Message{}, err
	}
	return r.call(ctx, name, input, r.o.cfg.AgentTimeout)
}

// step dispatches input to name and appends the reply. On failure a failed
// entry is appended and the call error is returned.
func (r *run) step(ctx context.Context, name string, input desk.Message) (desk.Message, error) {
	reply, err := r.dispatch(ctx, name, input)
	if err != nil {
		if !errors.Is(err, desk.ErrSessionClosed) {
			r.append(input.FailedReply(name, err))
		}
		return desk.Message{}, err
	}
	return r.record(reply)
}

// record appends an agent reply and reports it to the response callback.
func (r *run) record(reply desk.Message) (desk.Message, error) {
	stored, err := r.s.Append(reply)
	if err != nil {
		return desk.Message{}, err
	}
	r.notify(stored)
	return stored, nil
}

func (r *run) notify(reply desk.Message) {
	if r.o.cfg.OnMessage != nil {
		r.o.cfg.OnMessage(reply.Clone())
	}
}

func (r *run) append(msg desk.Message) {
	if _, err := r.s.Append(msg); err != nil {
		r.logger.Error("failed to append message",
			"correlation_id", r.s.CorrelationID(), "agent", msg.Sender, "error", err)
	}
}

// enter moves to next, treating a repeated state as a no-op.
func (r *run) enter(next desk.Status) error {
	if r.s.Status() == next {
		return nil
	}
	return r.s.Transition(next)
}

// continuing marks the session as between steps.
func (r *run) continuing() {
	if r.s.Status() == desk.StatusAwaitingResponses {
		_ = r.s.Transition(desk.StatusContinuing)
	}
}

// failStep fails the session after a call error, distinguishing a session
// deadline from an agent failure.
func (r *run) failStep(ctx context.Context, what string, err error) {
	if ctx.Err() != nil {
		r.failContext(ctx)
		return
	}
	r.s.Fail(what+" failed", err)
}

func (r *run) failContext(ctx context.Context) {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		r.s.Fail("session deadline exceeded", ctx.Err())
		return
	}
	r.s.Fail("session cancelled", ctx.Err())
}

func (r *run) complete(reason string) {
	var err error
	if reason == "" {
		err = r.s.Complete()
	} else {
		err = r.s.CompleteWithReason(reason)
	}
	if err != nil {
		r.logger.Error("failed to complete session",
			"correlation_id", r.s.CorrelationID(), "error", err)
	}
}
