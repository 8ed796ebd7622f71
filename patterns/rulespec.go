package patterns

import (
	"fmt"
	"strings"
	"time"

	"github.com/scttfrdmn/investdesk/desk"
)

// Duration is a time.Duration written as "30s" in JSON and YAML.
type Duration time.Duration

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

// RouteSpec is the declarative form of a Route.
type RouteSpec struct {
	Target         string   `json:"target" yaml:"target"`
	Keywords       []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	ReturnKeywords []string `json:"return_keywords,omitempty" yaml:"return_keywords,omitempty"`
}

// RuleSpec is the declarative form of any Rule. Pattern selects the variant;
// fields that do not apply to it are ignored.
type RuleSpec struct {
	Pattern desk.Pattern `json:"pattern" yaml:"pattern"`

	// fan_out, chain, round_robin
	Agents       []string `json:"agents,omitempty" yaml:"agents,omitempty"`
	AgentTimeout Duration `json:"agent_timeout,omitempty" yaml:"agent_timeout,omitempty"`

	// round_robin
	MaxRounds  int    `json:"max_rounds,omitempty" yaml:"max_rounds,omitempty"`
	Moderator  string `json:"moderator,omitempty" yaml:"moderator,omitempty"`
	StopPhrase string `json:"stop_phrase,omitempty" yaml:"stop_phrase,omitempty"`

	// handoff
	Triage  string      `json:"triage,omitempty" yaml:"triage,omitempty"`
	Routes  []RouteSpec `json:"routes,omitempty" yaml:"routes,omitempty"`
	Default string      `json:"default,omitempty" yaml:"default,omitempty"`
	MaxHops int         `json:"max_hops,omitempty" yaml:"max_hops,omitempty"`

	// plan
	Planner     string `json:"planner,omitempty" yaml:"planner,omitempty"`
	Synthesizer string `json:"synthesizer,omitempty" yaml:"synthesizer,omitempty"`
	Worker      string `json:"worker,omitempty" yaml:"worker,omitempty"`
	Tasks       []Task `json:"tasks,omitempty" yaml:"tasks,omitempty"`
	MaxTasks    int    `json:"max_tasks,omitempty" yaml:"max_tasks,omitempty"`
}

// Rule builds the described rule. It does not check agent names;
// Run does that against the orchestrator's registry.
func (s RuleSpec) Rule() (Rule, error) {
	switch s.Pattern {
	case desk.PatternFanOut:
		return FanOutRule{Agents: s.Agents, AgentTimeout: time.Duration(s.AgentTimeout)}, nil
	case desk.PatternChain:
		return ChainRule{Agents: s.Agents}, nil
	case desk.PatternRoundRobin:
		rule := RoundRobinRule{Agents: s.Agents, MaxRounds: s.MaxRounds, Moderator: s.Moderator}
		if s.StopPhrase != "" {
			rule.Done = StopOnPhrase(s.StopPhrase)
		}
		return rule, nil
	case desk.PatternHandoff:
		rule := HandoffRule{Triage: s.Triage, Default: s.Default, MaxHops: s.MaxHops}
		for _, route := range s.Routes {
			rule.Routes = append(rule.Routes, Route(route))
		}
		return rule, nil
	case desk.PatternPlan:
		return PlanRule{
			Planner:     s.Planner,
			Synthesizer: s.Synthesizer,
			Worker:      s.Worker,
			Tasks:       s.Tasks,
			MaxTasks:    s.MaxTasks,
		}, nil
	case "":
		return nil, desk.NewConfigurationError("rule pattern is required", nil)
	default:
		return nil, desk.NewConfigurationError("unsupported routing pattern",
			map[string]any{"pattern": string(s.Pattern)})
	}
}

// StopOnPhrase ends a round-robin discussion when a reply contains phrase,
// ignoring case.
func StopOnPhrase(phrase string) func(desk.Message) bool {
	phrase = strings.ToLower(phrase)
	return func(m desk.Message) bool {
		return strings.Contains(strings.ToLower(m.Content), phrase)
	}
}
