// Package scenarios holds the investment desks investdesk ships with and
// loads custom desks from YAML files.
//
// A desk is a roster of agents, one interaction rule and a seed task. The
// five built-in desks cover every pattern:
//
//	concurrent   fan-out to three analysts, consensus over their calls
//	groupchat    moderated investment committee, five rounds
//	handoff      triage routing a client to the right advisor
//	sequential   data collection, analysis and report as a pipeline
//	magnetic     planner, specialists and an orchestrator over a task DAG
package scenarios

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/scttfrdmn/investdesk/adapter/llm"
	"github.com/scttfrdmn/investdesk/agents"
	"github.com/scttfrdmn/investdesk/desk"
	"github.com/scttfrdmn/investdesk/patterns"
)

// Desk describes one runnable investment desk.
type Desk struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description,omitempty"`
	Agents      []desk.AgentSpec  `yaml:"agents"`
	Rule        patterns.RuleSpec `yaml:"rule"`
	Task        any               `yaml:"task"`

	// CorrelationID overrides the id derived from the task.
	CorrelationID string `yaml:"correlation_id,omitempty"`

	// Recommend records a BUY/HOLD/SELL call on every agent reply.
	Recommend bool `yaml:"recommend,omitempty"`
}

// LoadFile reads a desk from a YAML file.
func LoadFile(path string) (*Desk, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read desk file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML desk and checks that it can be built.
func Parse(data []byte) (*Desk, error) {
	var d Desk
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse desk: %w", err)
	}
	if d.Name == "" {
		return nil, desk.NewConfigurationError("desk name is required", nil)
	}
	if len(d.Agents) == 0 {
		return nil, desk.NewConfigurationError("desk has no agents", map[string]any{"desk": d.Name})
	}
	for _, spec := range d.Agents {
		if err := spec.Validate(); err != nil {
			return nil, err
		}
	}
	if d.Task == nil {
		return nil, desk.NewConfigurationError("desk has no task", map[string]any{"desk": d.Name})
	}
	if _, err := d.Rule.Rule(); err != nil {
		return nil, err
	}
	return &d, nil
}

// Build creates the desk's agents on service and its interaction rule.
func (d *Desk) Build(service llm.LLM) ([]desk.Agent, patterns.Rule, error) {
	rule, err := d.Rule.Rule()
	if err != nil {
		return nil, nil, err
	}
	var opts []agents.Option
	if d.Recommend {
		opts = append(opts, agents.WithRecommendation())
	}
	roster := make([]desk.Agent, 0, len(d.Agents))
	for _, spec := range d.Agents {
		agent, err := agents.NewLLMAgent(spec, service, opts...)
		if err != nil {
			return nil, nil, err
		}
		roster = append(roster, agent)
	}
	return roster, rule, nil
}

// Seed turns the desk task into the initial message.
func (d *Desk) Seed() (desk.Message, error) {
	seed, err := patterns.JSONTransform(d.Task)
	if err != nil {
		return desk.Message{}, err
	}
	if d.CorrelationID != "" {
		seed.CorrelationID = d.CorrelationID
	}
	return seed, nil
}

// Run executes the desk once on a fresh orchestrator. cfg supplies everything
// but the agents.
func (d *Desk) Run(ctx context.Context, service llm.LLM, cfg patterns.Config, opts ...patterns.RunOption) (*desk.Session, error) {
	roster, rule, err := d.Build(service)
	if err != nil {
		return nil, err
	}
	seed, err := d.Seed()
	if err != nil {
		return nil, err
	}

	cfg.Agents = roster
	o, err := patterns.New(cfg)
	if err != nil {
		return nil, err
	}
	if err := o.Start(); err != nil {
		return nil, err
	}
	defer o.Stop(context.WithoutCancel(ctx))

	return o.Run(ctx, seed, rule, opts...)
}

// Roster returns the agents of every built-in desk, first definition of each
// name winning, so one orchestrator can serve all of them.
func Roster() []desk.AgentSpec {
	seen := make(map[string]bool)
	var specs []desk.AgentSpec
	for _, name := range Names() {
		d, _ := Lookup(name)
		for _, spec := range d.Agents {
			if seen[spec.Name] {
				continue
			}
			seen[spec.Name] = true
			specs = append(specs, spec)
		}
	}
	return specs
}
