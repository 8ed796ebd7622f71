package llm

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/sashabaranov/go-openai"
)

// DefaultAzureAPIVersion is used when AzureConfig.APIVersion is empty.
const DefaultAzureAPIVersion = "2024-02-15-preview"

// OpenAILLM is an adapter for OpenAI chat models, served either by OpenAI
// or by an Azure OpenAI deployment.
//
// Provider-specific options:
//
//	completion, err := service.Complete(
//	    ctx,
//	    turns,
//	    WithTemperature(0.7),
//	    WithMaxTokens(1024),
//	    WithExtra("frequency_penalty", 0.5),
//	    WithExtra("stop", []string{"TERMINATE"}),
//	)
type OpenAILLM struct {
	client   *openai.Client
	model    string
	provider string
}

// NewOpenAILLM creates an adapter for the public OpenAI API.
func NewOpenAILLM(apiKey, model string) *OpenAILLM {
	if model == "" {
		model = "gpt-4o"
	}
	return &OpenAILLM{
		client:   openai.NewClient(apiKey),
		model:    model,
		provider: "openai",
	}
}

// AzureConfig describes an Azure OpenAI deployment.
type AzureConfig struct {
	Endpoint   string
	Deployment string
	APIVersion string
	APIKey     string
}

// NewAzureOpenAILLM creates an adapter for an Azure OpenAI deployment.
// Every request is routed to cfg.Deployment regardless of model name.
func NewAzureOpenAILLM(cfg AzureConfig) (*OpenAILLM, error) {
	if cfg.Endpoint == "" || cfg.Deployment == "" {
		return nil, errors.New("azure openai requires an endpoint and a deployment name")
	}
	clientConfig := openai.DefaultAzureConfig(cfg.APIKey, cfg.Endpoint)
	if cfg.APIVersion != "" {
		clientConfig.APIVersion = cfg.APIVersion
	} else {
		clientConfig.APIVersion = DefaultAzureAPIVersion
	}
	deployment := cfg.Deployment
	clientConfig.AzureModelMapperFunc = func(string) string {
		return deployment
	}
	return &OpenAILLM{
		client:   openai.NewClientWithConfig(clientConfig),
		model:    deployment,
		provider: "azure openai",
	}, nil
}

// Model returns the model (or Azure deployment) identifier.
func (o *OpenAILLM) Model() string {
	return o.model
}

// Complete generates a chat completion.
func (o *OpenAILLM) Complete(ctx context.Context, turns []Turn, opts ...CallOption) (*Completion, error) {
	options := BuildCallOptions(opts...)

	req := openai.ChatCompletionRequest{
		Model:    o.model,
		Messages: convertOpenAITurns(turns),
	}

	if options.Temperature != nil {
		req.Temperature = float32(*options.Temperature)
	}
	if options.MaxTokens != nil {
		req.MaxTokens = *options.MaxTokens
	}
	if options.TopP != nil {
		req.TopP = float32(*options.TopP)
	}
	if fp, ok := options.Extra["frequency_penalty"].(float64); ok {
		req.FrequencyPenalty = float32(fp)
	}
	if pp, ok := options.Extra["presence_penalty"].(float64); ok {
		req.PresencePenalty = float32(pp)
	}
	if stop, ok := options.Extra["stop"].([]string); ok {
		req.Stop = stop
	}

	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%s api error: %w", o.provider, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%s returned no choices", o.provider)
	}

	return &Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		FinishReason: string(resp.Choices[0].FinishReason),
		Usage: Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// OpenAI only accepts names matching ^[a-zA-Z0-9_-]+$.
var invalidNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

// convertOpenAITurns maps turns to OpenAI chat messages. Unknown roles are
// sent as assistant turns.
func convertOpenAITurns(turns []Turn) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(turns))
	for _, t := range turns {
		role := t.Role
		switch role {
		case openai.ChatMessageRoleSystem, openai.ChatMessageRoleUser, openai.ChatMessageRoleAssistant:
		default:
			role = openai.ChatMessageRoleAssistant
		}
		out = append(out, openai.ChatCompletionMessage{
			Role:    role,
			Name:    invalidNameChars.ReplaceAllString(t.Name, "_"),
			Content: t.Content,
		})
	}
	return out
}

// Unwrap returns the underlying *openai.Client.
func (o *OpenAILLM) Unwrap() interface{} {
	return o.client
}
