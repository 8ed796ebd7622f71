package patterns

import (
	"fmt"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
)

// Registry answers whether an agent name is known to the orchestrator.
type Registry interface {
	Has(name string) bool

	// Names lists registered agents in registration order.
	Names() []string
}

// Rule selects a routing pattern and carries its parameters. Rules are
// validated against the registry before any agent is called.
type Rule interface {
	Pattern() desk.Pattern
	Validate(reg Registry) error
}

func invalidRule(p desk.Pattern, reason string, details map[string]any) error {
	if details == nil {
		details = make(map[string]any, 1)
	}
	details["pattern"] = string(p)
	return desk.NewConfigurationError(reason, details)
}

func checkAgents(p desk.Pattern, reg Registry, field string, names []string) error {
	if len(names) == 0 {
		return invalidRule(p, field+" must name at least one agent", nil)
	}
	seen := make(map[string]struct{}, len(names))
	for _, name := range names {
		if err := checkAgent(p, reg, field, name); err != nil {
			return err
		}
		if _, dup := seen[name]; dup {
			return invalidRule(p, "agent listed twice", map[string]any{"field": field, "agent": name})
		}
		seen[name] = struct{}{}
	}
	return nil
}

func checkAgent(p desk.Pattern, reg Registry, field, name string) error {
	if name == "" {
		return invalidRule(p, field+" is required", nil)
	}
	if !reg.Has(name) {
		return invalidRule(p, "unknown agent", map[string]any{"field": field, "agent": name})
	}
	return nil
}

// FanOutRule sends the seed message to every listed agent at once.
type FanOutRule struct {
	Agents []string

	// AgentTimeout bounds each call. Zero uses the orchestrator default.
	AgentTimeout time.Duration
}

// Pattern implements Rule.
func (r FanOutRule) Pattern() desk.Pattern { return desk.PatternFanOut }

// Validate implements Rule.
func (r FanOutRule) Validate(reg Registry) error {
	if r.AgentTimeout < 0 {
		return invalidRule(r.Pattern(), "agent timeout must not be negative", nil)
	}
	return checkAgents(r.Pattern(), reg, "agents", r.Agents)
}

// ChainRule passes each agent's reply to the next agent in the list.
type ChainRule struct {
	Agents []string
}

// Pattern implements Rule.
func (r ChainRule) Pattern() desk.Pattern { return desk.PatternChain }

// Validate implements Rule.
func (r ChainRule) Validate(reg Registry) error {
	return checkAgents(r.Pattern(), reg, "agents", r.Agents)
}

// RoundRobinRule lets agents take turns for a fixed number of rounds. A
// round is one turn per agent.
type RoundRobinRule struct {
	Agents    []string
	MaxRounds int

	// Moderator, when set, summarizes the transcript between rounds. Its
	// summary is not counted as a turn.
	Moderator string

	// Done stops the discussion early when it returns true for a turn.
	Done func(desk.Message) bool
}

// Pattern implements Rule.
func (r RoundRobinRule) Pattern() desk.Pattern { return desk.PatternRoundRobin }

// Validate implements Rule.
func (r RoundRobinRule) Validate(reg Registry) error {
	if r.MaxRounds < 1 {
		return invalidRule(r.Pattern(), "max rounds must be at least 1",
			map[string]any{"max_rounds": r.MaxRounds})
	}
	if err := checkAgents(r.Pattern(), reg, "agents", r.Agents); err != nil {
		return err
	}
	if r.Moderator != "" {
		return checkAgent(r.Pattern(), reg, "moderator", r.Moderator)
	}
	return nil
}

// Route is one handoff target and the keywords that select it.
type Route struct {
	Target   string
	Keywords []string

	// ReturnKeywords in the target's reply hand control back to triage.
	ReturnKeywords []string
}

// HandoffRule lets a triage agent transfer the conversation to a single
// target agent.
type HandoffRule struct {
	Triage  string
	Routes  []Route
	Default string

	// MaxHops bounds the number of control transfers in one session.
	MaxHops int

	// Classify picks the target. Nil uses KeywordClassifier.
	Classify Classifier
}

// Pattern implements Rule.
func (r HandoffRule) Pattern() desk.Pattern { return desk.PatternHandoff }

// Validate implements Rule.
func (r HandoffRule) Validate(reg Registry) error {
	p := r.Pattern()
	if r.MaxHops < 1 {
		return invalidRule(p, "max hops must be at least 1", map[string]any{"max_hops": r.MaxHops})
	}
	if err := checkAgent(p, reg, "triage", r.Triage); err != nil {
		return err
	}
	if len(r.Routes) == 0 && r.Default == "" {
		return invalidRule(p, "handoff needs at least one route or a default", nil)
	}
	targets := make(map[string]struct{}, len(r.Routes))
	for _, route := range r.Routes {
		if err := checkAgent(p, reg, "route target", route.Target); err != nil {
			return err
		}
		if route.Target == r.Triage {
			return invalidRule(p, "triage cannot route to itself", map[string]any{"agent": r.Triage})
		}
		if _, dup := targets[route.Target]; dup {
			return invalidRule(p, "route target listed twice", map[string]any{"agent": route.Target})
		}
		targets[route.Target] = struct{}{}
	}
	if r.Default != "" {
		if err := checkAgent(p, reg, "default", r.Default); err != nil {
			return err
		}
		if r.Default == r.Triage {
			return invalidRule(p, "triage cannot be the default target", map[string]any{"agent": r.Triage})
		}
	}
	return nil
}

func (r HandoffRule) route(target string) (Route, bool) {
	for _, route := range r.Routes {
		if route.Target == target {
			return route, true
		}
	}
	return Route{}, false
}

// PlanRule asks a planner for a task graph, runs the tasks in dependency
// order and hands every result to a synthesizer.
type PlanRule struct {
	// Planner produces the task list. When empty, Tasks is used as is.
	Planner string

	// Synthesizer receives all task results. Optional.
	Synthesizer string

	// Worker runs tasks whose specialist is not a registered agent.
	Worker string

	Tasks    []Task
	MaxTasks int
}

// Pattern implements Rule.
func (r PlanRule) Pattern() desk.Pattern { return desk.PatternPlan }

// Validate implements Rule. A static task list is fully checked here; a
// planned one is checked once the planner has answered.
func (r PlanRule) Validate(reg Registry) error {
	p := r.Pattern()
	if r.MaxTasks < 0 {
		return invalidRule(p, "max tasks must not be negative", nil)
	}
	if r.Planner == "" && len(r.Tasks) == 0 {
		return invalidRule(p, "plan needs a planner or a task list", nil)
	}
	for _, role := range [][2]string{
		{"planner", r.Planner},
		{"synthesizer", r.Synthesizer},
		{"worker", r.Worker},
	} {
		if role[1] == "" {
			continue
		}
		if err := checkAgent(p, reg, role[0], role[1]); err != nil {
			return err
		}
	}
	if r.Planner == "" {
		_, err := r.schedule(reg, r.Tasks)
		return err
	}
	return nil
}

// schedule validates tasks and pairs each with the agent that will run it,
// in execution order.
func (r PlanRule) schedule(reg Registry, tasks []Task) ([]assignment, error) {
	order, err := OrderTasks(tasks, r.MaxTasks)
	if err != nil {
		return nil, err
	}
	out := make([]assignment, 0, len(order))
	for _, task := range order {
		agent, ok := resolveSpecialist(reg, task.Specialist)
		if !ok {
			if r.Worker == "" {
				return nil, invalidRule(r.Pattern(), "no agent for task specialist",
					map[string]any{"task_id": task.ID, "specialist": task.Specialist})
			}
			agent = r.Worker
		}
		out = append(out, assignment{task: task, agent: agent})
	}
	return out, nil
}

type assignment struct {
	task  Task
	agent string
}

// Describe returns a short human readable form of rule for logs.
func Describe(rule Rule) string {
	switch r := rule.(type) {
	case FanOutRule:
		return fmt.Sprintf("fan_out%v", r.Agents)
	case ChainRule:
		return fmt.Sprintf("chain%v", r.Agents)
	case RoundRobinRule:
		return fmt.Sprintf("round_robin%v x%d", r.Agents, r.MaxRounds)
	case HandoffRule:
		return fmt.Sprintf("handoff(%s, %d routes, max %d hops)", r.Triage, len(r.Routes), r.MaxHops)
	case PlanRule:
		return fmt.Sprintf("plan(%s -> %s)", r.Planner, r.Synthesizer)
	case nil:
		return "<nil>"
	default:
		return string(rule.Pattern())
	}
}
