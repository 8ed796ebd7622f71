// Package agents builds desk.Agent implementations on top of a completion
// service, plus the helpers investment desks use to read their replies.
package agents

import (
	"context"

	"github.com/scttfrdmn/investdesk/adapter/llm"
	"github.com/scttfrdmn/investdesk/desk"
)

// Reply payload keys.
const (
	PayloadModel        = "model"
	PayloadFinishReason = "finish_reason"
	PayloadUsage        = "usage"
)

// LLMAgent answers with a single completion: its role prompt as the system
// turn and the rendered input as the user turn.
type LLMAgent struct {
	spec      desk.AgentSpec
	service   llm.LLM
	render    Renderer
	opts      []llm.CallOption
	recommend bool
}

// Option configures an LLMAgent.
type Option func(*LLMAgent)

// WithRenderer sets how the input message becomes the user turn.
func WithRenderer(r Renderer) Option {
	return func(a *LLMAgent) {
		a.render = r
	}
}

// WithCallOptions passes options to every completion call.
func WithCallOptions(opts ...llm.CallOption) Option {
	return func(a *LLMAgent) {
		a.opts = append(a.opts, opts...)
	}
}

// WithRecommendation records the BUY/HOLD/SELL recommendation found in each
// reply in its payload.
func WithRecommendation() Option {
	return func(a *LLMAgent) {
		a.recommend = true
	}
}

// NewLLMAgent creates an agent for spec backed by service. Specs with a
// ServiceID render their input with TaskPrompt unless WithRenderer says
// otherwise.
func NewLLMAgent(spec desk.AgentSpec, service llm.LLM, opts ...Option) (*LLMAgent, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if service == nil {
		return nil, desk.NewConfigurationError("agent has no completion service",
			map[string]any{"agent": spec.Name})
	}
	a := &LLMAgent{spec: spec, service: service, render: ContentRenderer}
	if spec.ServiceID != "" {
		a.render = TaskPrompt(spec.ServiceID)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Name returns the agent name.
func (a *LLMAgent) Name() string {
	return a.spec.Name
}

// Spec returns the agent spec.
func (a *LLMAgent) Spec() desk.AgentSpec {
	return a.spec
}

// Respond calls the completion service once.
func (a *LLMAgent) Respond(ctx context.Context, input desk.Message) (desk.Message, error) {
	turns := []llm.Turn{
		{Role: llm.RoleSystem, Content: a.spec.RolePrompt},
		{Role: llm.RoleUser, Name: a.spec.Name, Content: a.render(input)},
	}

	completion, err := a.service.Complete(ctx, turns, a.opts...)
	if err != nil {
		return desk.Message{}, desk.NewServiceError(a.spec.Name, err)
	}

	reply := input.Reply(a.spec.Name, completion.Text).
		WithPayload(PayloadModel, completion.Model).
		WithPayload(PayloadFinishReason, completion.FinishReason).
		WithPayload(PayloadUsage, map[string]any{
			"prompt_tokens":     completion.Usage.PromptTokens,
			"completion_tokens": completion.Usage.CompletionTokens,
			"total_tokens":      completion.Usage.TotalTokens,
		})
	if a.recommend {
		rec := ExtractRecommendation(completion.Text)
		reply = reply.
			WithPayload(PayloadRecommendation, string(rec.Action)).
			WithPayload(PayloadConfidence, rec.Confidence)
	}
	return reply, nil
}
