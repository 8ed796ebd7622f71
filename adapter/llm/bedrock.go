package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

const defaultBedrockMaxTokens = 4096

// BedrockLLM is an adapter for models served by AWS Bedrock through the
// Converse API.
type BedrockLLM struct {
	client  *bedrockruntime.Client
	modelID string
}

// BedrockConfig configures the Bedrock adapter.
type BedrockConfig struct {
	// ModelID is the Bedrock model identifier (e.g., "anthropic.claude-3-5-sonnet-20241022-v2:0")
	ModelID string

	// Region is the AWS region (default: us-east-1)
	Region string

	// Profile is the AWS profile name (optional)
	Profile string

	// Static credentials (optional, the default chain is used otherwise)
	AccessKeyID     string
	SecretAccessKey string
	SessionToken    string

	// EndpointURL is a custom endpoint URL for VPC endpoints (optional)
	EndpointURL string
}

// NewBedrockLLM loads AWS configuration and creates a Bedrock adapter.
func NewBedrockLLM(ctx context.Context, cfg BedrockConfig) (*BedrockLLM, error) {
	if cfg.ModelID == "" {
		cfg.ModelID = "anthropic.claude-3-5-sonnet-20241022-v2:0"
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	configOpts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.Profile != "" {
		configOpts = append(configOpts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		configOpts = append(configOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, cfg.SessionToken),
		))
	}

	awsConfig, err := config.LoadDefaultConfig(ctx, configOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var clientOpts []func(*bedrockruntime.Options)
	if cfg.EndpointURL != "" {
		clientOpts = append(clientOpts, func(o *bedrockruntime.Options) {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		})
	}

	return &BedrockLLM{
		client:  bedrockruntime.NewFromConfig(awsConfig, clientOpts...),
		modelID: cfg.ModelID,
	}, nil
}

// Model returns the Bedrock model id.
func (b *BedrockLLM) Model() string {
	return b.modelID
}

// Complete calls Converse with the system turns carried as system blocks.
func (b *BedrockLLM) Complete(ctx context.Context, turns []Turn, opts ...CallOption) (*Completion, error) {
	options := BuildCallOptions(opts...)
	system, messages := convertBedrockTurns(turns)

	maxTokens := defaultBedrockMaxTokens
	if options.MaxTokens != nil {
		maxTokens = *options.MaxTokens
	}
	inference := &types.InferenceConfiguration{
		MaxTokens: aws.Int32(int32(maxTokens)),
	}
	if options.Temperature != nil {
		inference.Temperature = aws.Float32(float32(*options.Temperature))
	}
	if options.TopP != nil {
		inference.TopP = aws.Float32(float32(*options.TopP))
	}
	if stop, ok := options.Extra["stop"].([]string); ok && len(stop) > 0 {
		inference.StopSequences = stop
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:         aws.String(b.modelID),
		Messages:        messages,
		InferenceConfig: inference,
	}
	if len(system) > 0 {
		input.System = system
	}

	output, err := b.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("bedrock api error: %w", err)
	}

	var text strings.Builder
	if msg, ok := output.Output.(*types.ConverseOutputMemberMessage); ok {
		for _, block := range msg.Value.Content {
			if textBlock, ok := block.(*types.ContentBlockMemberText); ok {
				text.WriteString(textBlock.Value)
			}
		}
	}

	completion := &Completion{
		Text:         text.String(),
		Model:        b.modelID,
		FinishReason: string(output.StopReason),
	}
	if output.Usage != nil {
		completion.Usage = Usage{
			PromptTokens:     int(aws.ToInt32(output.Usage.InputTokens)),
			CompletionTokens: int(aws.ToInt32(output.Usage.OutputTokens)),
			TotalTokens:      int(aws.ToInt32(output.Usage.TotalTokens)),
		}
	}
	return completion, nil
}

// convertBedrockTurns maps turns to Converse messages. Converse requires
// alternating roles, so consecutive turns of the same role are merged into
// one message with several text blocks.
func convertBedrockTurns(turns []Turn) ([]types.SystemContentBlock, []types.Message) {
	systemTexts, rest := splitSystem(turns)

	var system []types.SystemContentBlock
	for _, s := range systemTexts {
		system = append(system, &types.SystemContentBlockMemberText{Value: s})
	}

	var messages []types.Message
	for _, t := range rest {
		role := types.ConversationRoleAssistant
		if t.Role == RoleUser {
			role = types.ConversationRoleUser
		}
		block := &types.ContentBlockMemberText{Value: t.Content}
		if n := len(messages); n > 0 && messages[n-1].Role == role {
			messages[n-1].Content = append(messages[n-1].Content, block)
			continue
		}
		messages = append(messages, types.Message{
			Role:    role,
			Content: []types.ContentBlock{block},
		})
	}
	return system, messages
}

// Unwrap returns the underlying *bedrockruntime.Client.
func (b *BedrockLLM) Unwrap() interface{} {
	return b.client
}
