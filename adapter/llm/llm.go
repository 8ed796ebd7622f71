// Package llm defines the completion service contract used by investdesk
// agents and the provider adapters that implement it.
//
// The contract is deliberately small: an ordered list of role-tagged text
// turns goes in, generated text comes out. Providers are swappable without
// touching agent code.
//
// Example:
//
//	service := llm.NewOpenAILLM(os.Getenv("OPENAI_API_KEY"), "gpt-4o")
//	turns := []llm.Turn{
//	    {Role: llm.RoleSystem, Content: "You are a fundamental analyst."},
//	    {Role: llm.RoleUser, Name: "FundamentalAnalyst", Content: "Analyze TechCorp."},
//	}
//	completion, err := service.Complete(ctx, turns, llm.WithTemperature(0.2))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(completion.Text)
package llm

import (
	"context"
)

// Turn roles understood by every adapter.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one role-tagged text turn of a conversation.
type Turn struct {
	Role    string
	Name    string // speaking agent, when known
	Content string
}

// Usage reports token counts for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the result of one completion call.
type Completion struct {
	Text         string
	Model        string
	FinishReason string
	Usage        Usage
}

// LLM is the completion service interface.
type LLM interface {
	// Complete generates a single completion for turns. It honours ctx
	// cancellation and returns provider errors unchanged, wrapped with the
	// provider name.
	Complete(ctx context.Context, turns []Turn, opts ...CallOption) (*Completion, error)

	// Model returns the model identifier for this instance.
	Model() string

	// Unwrap returns the underlying provider client for features the
	// interface does not expose. Using it breaks provider portability.
	Unwrap() interface{}
}

// CallOptions holds provider-specific options for LLM calls.
type CallOptions struct {
	// Common options
	Temperature *float64
	MaxTokens   *int
	TopP        *float64

	// Provider-specific options
	Extra map[string]interface{}
}

// CallOption is a functional option for configuring LLM calls.
type CallOption func(*CallOptions)

// WithTemperature sets the sampling temperature (typically 0.0-2.0).
func WithTemperature(temperature float64) CallOption {
	return func(opts *CallOptions) {
		opts.Temperature = &temperature
	}
}

// WithMaxTokens sets the maximum number of tokens to generate.
func WithMaxTokens(maxTokens int) CallOption {
	return func(opts *CallOptions) {
		opts.MaxTokens = &maxTokens
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) CallOption {
	return func(opts *CallOptions) {
		opts.TopP = &topP
	}
}

// WithExtra adds a provider-specific option.
func WithExtra(key string, value interface{}) CallOption {
	return func(opts *CallOptions) {
		if opts.Extra == nil {
			opts.Extra = make(map[string]interface{})
		}
		opts.Extra[key] = value
	}
}

// BuildCallOptions creates CallOptions from functional options.
func BuildCallOptions(opts ...CallOption) *CallOptions {
	options := &CallOptions{
		Extra: make(map[string]interface{}),
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// splitSystem separates system turns from the conversation. Providers that
// carry the system prompt out of band (Bedrock, Gemini) use it.
func splitSystem(turns []Turn) (system []string, rest []Turn) {
	for _, t := range turns {
		if t.Role == RoleSystem {
			system = append(system, t.Content)
			continue
		}
		rest = append(rest, t)
	}
	return system, rest
}
