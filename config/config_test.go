package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_DefaultsAndOverrides(t *testing.T) {
	t.Setenv("LLM_PROVIDER", " Stub ")
	t.Setenv("DESK_SESSION_TIMEOUT", "45s")
	t.Setenv("DESK_RETRIES", "2")
	t.Setenv("AZURE_OPENAI_DEPLOYMENT_NAME", "gpt-4o-mini")
	t.Setenv("LOG_FORMAT", "json")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.Provider != ProviderStub {
		t.Errorf("Expected provider normalized to stub, got %q", cfg.LLM.Provider)
	}
	if cfg.Desk.SessionTimeout != 45*time.Second || cfg.Desk.Retries != 2 {
		t.Errorf("Unexpected desk config %+v", cfg.Desk)
	}
	if cfg.Azure.Deployment != "gpt-4o-mini" {
		t.Errorf("Unexpected Azure deployment %q", cfg.Azure.Deployment)
	}
	if cfg.Observability.LogFormat != "json" || cfg.Observability.ServiceName == "" {
		t.Errorf("Unexpected observability config %+v", cfg.Observability)
	}
}

func TestLoad_ReadsDotEnv(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "stub")
	t.Setenv("HTTP_ADDR", "")
	os.Unsetenv("HTTP_ADDR")

	path := filepath.Join(t.TempDir(), "test.env")
	if err := os.WriteFile(path, []byte("HTTP_ADDR=:9999\n"), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.HTTP.Addr != ":9999" {
		t.Errorf("Expected address from .env file, got %q", cfg.HTTP.Addr)
	}
	os.Unsetenv("HTTP_ADDR")
}

func TestLoad_Rejects(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown provider", map[string]string{"LLM_PROVIDER": "mainframe"}},
		{"bad duration", map[string]string{"LLM_PROVIDER": "stub", "DESK_AGENT_TIMEOUT": "forever"}},
		{"negative retries", map[string]string{"LLM_PROVIDER": "stub", "DESK_RETRIES": "-1"}},
		{"rate without burst", map[string]string{"LLM_PROVIDER": "stub", "DESK_RATE_LIMIT": "2", "DESK_RATE_BURST": "0"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(filepath.Join(t.TempDir(), "missing.env")); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestNewLLM(t *testing.T) {
	stub := &Config{LLM: LLMConfig{Provider: ProviderStub}}
	service, err := stub.NewLLM(context.Background())
	if err != nil {
		t.Fatalf("NewLLM failed: %v", err)
	}
	if service.Model() != "stub" {
		t.Errorf("Expected stub model, got %q", service.Model())
	}

	openai := &Config{LLM: LLMConfig{Provider: ProviderOpenAI, OpenAIKey: "sk-test", Model: "gpt-4o-mini"}}
	if service, err := openai.NewLLM(context.Background()); err != nil || service.Model() != "gpt-4o-mini" {
		t.Errorf("Unexpected OpenAI service %v, %v", service, err)
	}

	missing := []*Config{
		{LLM: LLMConfig{Provider: ProviderAzure}},
		{LLM: LLMConfig{Provider: ProviderOpenAI}},
		{LLM: LLMConfig{Provider: ProviderGemini}},
		{LLM: LLMConfig{Provider: "unknown"}},
	}
	for _, cfg := range missing {
		if _, err := cfg.NewLLM(context.Background()); err == nil {
			t.Errorf("Expected error for provider %q without credentials", cfg.LLM.Provider)
		}
	}
}
