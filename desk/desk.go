// Package desk provides the core types shared by every investdesk package:
// agent specs, messages, the Agent interface and routed sessions.
package desk

import (
	"context"
	"fmt"
	"maps"
	"time"
)

// Message roles.
const (
	RoleUser   = "user"
	RoleAgent  = "agent"
	RoleSystem = "system"
)

// AgentSpec identifies one participant: a name and the fixed role prompt it
// was built with.
type AgentSpec struct {
	Name        string `json:"name" yaml:"name"`
	RolePrompt  string `json:"role_prompt" yaml:"instructions"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	// ServiceID addresses the agent in task prompts, e.g. "fundamental_analyst".
	ServiceID string `json:"service_id,omitempty" yaml:"service_id,omitempty"`
}

// NewAgentSpec creates a validated agent spec.
func NewAgentSpec(name, rolePrompt string) (AgentSpec, error) {
	spec := AgentSpec{Name: name, RolePrompt: rolePrompt}
	if err := spec.Validate(); err != nil {
		return AgentSpec{}, err
	}
	return spec, nil
}

// Validate checks that the AgentSpec names an agent and carries a prompt.
func (s AgentSpec) Validate() error {
	if s.Name == "" {
		return NewConfigurationError("agent name cannot be empty", nil)
	}
	if s.RolePrompt == "" {
		return NewConfigurationError(fmt.Sprintf("agent %q has no role prompt", s.Name), nil)
	}
	return nil
}

// Message is an immutable record passed between agents.
//
// Messages are values: every transformation produces a new Message, and the
// payload map is copied rather than shared. Seq and Timestamp are assigned by
// the Session the message is appended to.
type Message struct {
	Seq           int            `json:"seq"`
	Sender        string         `json:"sender"`
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	Payload       map[string]any `json:"payload,omitempty"`
	CorrelationID string         `json:"correlation_id"`
	Error         string         `json:"error,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// NewMessage creates a user message for the given session.
func NewMessage(correlationID, content string) Message {
	return Message{
		Role:          RoleUser,
		Content:       content,
		CorrelationID: correlationID,
	}
}

// Failed reports whether the message records a failed agent call.
func (m Message) Failed() bool {
	return m.Error != ""
}

// Reply creates a response from sender that belongs to the same session.
func (m Message) Reply(sender, content string) Message {
	return Message{
		Sender:        sender,
		Role:          RoleAgent,
		Content:       content,
		CorrelationID: m.CorrelationID,
	}
}

// FailedReply creates a failed entry attributed to sender.
func (m Message) FailedReply(sender string, err error) Message {
	reply := m.Reply(sender, "")
	if err != nil {
		reply.Error = err.Error()
	} else {
		reply.Error = "unknown error"
	}
	return reply
}

// WithPayload returns a copy of the message with key set in its payload.
func (m Message) WithPayload(key string, value any) Message {
	out := m.Clone()
	if out.Payload == nil {
		out.Payload = make(map[string]any, 1)
	}
	out.Payload[key] = value
	return out
}

// WithContent returns a copy of the message with new content.
func (m Message) WithContent(content string) Message {
	out := m.Clone()
	out.Content = content
	return out
}

// Clone returns a copy whose payload map is not shared with m.
func (m Message) Clone() Message {
	out := m
	if m.Payload != nil {
		out.Payload = maps.Clone(m.Payload)
	}
	return out
}

// PayloadString returns a payload value as a string, or "" when absent.
func (m Message) PayloadString(key string) string {
	if m.Payload == nil {
		return ""
	}
	switch v := m.Payload[key].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

// Agent is a fixed-role participant that turns one input message into one
// output message.
type Agent interface {
	// Name returns the unique identifier for this agent.
	Name() string

	// Respond produces exactly one reply for input. Failures of the
	// completion service are returned as *ServiceError. Implementations
	// never retry internally.
	Respond(ctx context.Context, input Message) (Message, error)
}

// AgentFunc adapts a function to the Agent interface.
type AgentFunc struct {
	AgentName string
	Fn        func(ctx context.Context, input Message) (Message, error)
}

// Name returns the agent's name.
func (a AgentFunc) Name() string {
	return a.AgentName
}

// Respond calls the wrapped function.
func (a AgentFunc) Respond(ctx context.Context, input Message) (Message, error) {
	return a.Fn(ctx, input)
}
