// Package config loads investdesk settings from the environment, with an
// optional .env file for local development.
package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/scttfrdmn/investdesk/adapter/llm"
)

// Supported completion providers.
const (
	ProviderAzure   = "azure"
	ProviderOpenAI  = "openai"
	ProviderBedrock = "bedrock"
	ProviderGemini  = "gemini"
	ProviderStub    = "stub"
)

// Config is the complete investdesk configuration.
type Config struct {
	LLM           LLMConfig
	Azure         AzureConfig
	Desk          DeskConfig
	Redis         RedisConfig
	Observability ObservabilityConfig
	HTTP          HTTPConfig
}

// LLMConfig selects the completion provider and its credentials.
type LLMConfig struct {
	Provider     string `envconfig:"LLM_PROVIDER" default:"azure"`
	Model        string `envconfig:"LLM_MODEL"`
	OpenAIKey    string `envconfig:"OPENAI_API_KEY"`
	GeminiKey    string `envconfig:"GEMINI_API_KEY"`
	AWSRegion    string `envconfig:"AWS_REGION" default:"us-east-1"`
	AWSProfile   string `envconfig:"AWS_PROFILE"`
	BedrockModel string `envconfig:"BEDROCK_MODEL_ID" default:"anthropic.claude-3-5-sonnet-20241022-v2:0"`
}

// AzureConfig uses the variable names of the Azure OpenAI samples.
type AzureConfig struct {
	Endpoint   string `envconfig:"AZURE_OPENAI_ENDPOINT"`
	Deployment string `envconfig:"AZURE_OPENAI_DEPLOYMENT_NAME"`
	APIVersion string `envconfig:"AZURE_OPENAI_API_VERSION"`
	APIKey     string `envconfig:"AZURE_OPENAI_API_KEY"`
}

// DeskConfig holds orchestrator limits shared by every session.
type DeskConfig struct {
	SessionTimeout time.Duration `envconfig:"DESK_SESSION_TIMEOUT" default:"2m"`
	AgentTimeout   time.Duration `envconfig:"DESK_AGENT_TIMEOUT" default:"60s"`
	Retries        int           `envconfig:"DESK_RETRIES" default:"0"`
	RetryBackoff   time.Duration `envconfig:"DESK_RETRY_BACKOFF" default:"500ms"`
	MaxSessions    int           `envconfig:"DESK_MAX_SESSIONS" default:"1000"`

	// RateLimit caps completion calls per second across all agents; 0 disables.
	RateLimit float64 `envconfig:"DESK_RATE_LIMIT" default:"0"`
	RateBurst int     `envconfig:"DESK_RATE_BURST" default:"1"`
}

// RedisConfig enables the Redis session store when URL is set.
type RedisConfig struct {
	URL       string        `envconfig:"REDIS_URL"`
	TTL       time.Duration `envconfig:"REDIS_SESSION_TTL" default:"168h"`
	KeyPrefix string        `envconfig:"REDIS_KEY_PREFIX" default:"investdesk"`
}

// ObservabilityConfig controls logging and telemetry export.
type ObservabilityConfig struct {
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"investdesk"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	TraceConsole bool   `envconfig:"TRACE_CONSOLE" default:"false"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat    string `envconfig:"LOG_FORMAT" default:"text"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr string `envconfig:"HTTP_ADDR" default:":8080"`
}

// Load reads configuration from environment variables. It first loads the
// given .env files (default ".env"); missing files are ignored and variables
// already set in the environment win.
func Load(files ...string) (*Config, error) {
	_ = godotenv.Load(files...)

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process env config: %w", err)
	}
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values envconfig cannot.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderAzure, ProviderOpenAI, ProviderBedrock, ProviderGemini, ProviderStub:
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.Desk.Retries < 0 {
		return fmt.Errorf("DESK_RETRIES must not be negative, got %d", c.Desk.Retries)
	}
	if c.Desk.SessionTimeout < 0 || c.Desk.AgentTimeout < 0 {
		return fmt.Errorf("desk timeouts must not be negative")
	}
	if c.Desk.RateLimit < 0 || (c.Desk.RateLimit > 0 && c.Desk.RateBurst < 1) {
		return fmt.Errorf("DESK_RATE_LIMIT must not be negative and DESK_RATE_BURST must be at least 1")
	}
	return nil
}

// NewLLM builds the completion service selected by LLM_PROVIDER.
func (c *Config) NewLLM(ctx context.Context) (llm.LLM, error) {
	switch c.LLM.Provider {
	case ProviderAzure:
		if c.Azure.Endpoint == "" || c.Azure.APIKey == "" {
			return nil, fmt.Errorf("AZURE_OPENAI_ENDPOINT and AZURE_OPENAI_API_KEY are required for provider %q", c.LLM.Provider)
		}
		service, err := llm.NewAzureOpenAILLM(llm.AzureConfig{
			Endpoint:   c.Azure.Endpoint,
			Deployment: c.Azure.Deployment,
			APIVersion: c.Azure.APIVersion,
			APIKey:     c.Azure.APIKey,
		})
		if err != nil {
			return nil, err
		}
		return service, nil
	case ProviderOpenAI:
		if c.LLM.OpenAIKey == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is required for provider %q", c.LLM.Provider)
		}
		return llm.NewOpenAILLM(c.LLM.OpenAIKey, c.LLM.Model), nil
	case ProviderBedrock:
		model := c.LLM.Model
		if model == "" {
			model = c.LLM.BedrockModel
		}
		service, err := llm.NewBedrockLLM(ctx, llm.BedrockConfig{
			ModelID: model,
			Region:  c.LLM.AWSRegion,
			Profile: c.LLM.AWSProfile,
		})
		if err != nil {
			return nil, err
		}
		return service, nil
	case ProviderGemini:
		if c.LLM.GeminiKey == "" {
			return nil, fmt.Errorf("GEMINI_API_KEY is required for provider %q", c.LLM.Provider)
		}
		service, err := llm.NewGeminiLLM(ctx, c.LLM.GeminiKey, c.LLM.Model)
		if err != nil {
			return nil, err
		}
		return service, nil
	case ProviderStub:
		return llm.NewStubLLM(llm.EchoAgentOK()), nil
	default:
		return nil, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
}
