package provider

import (
	"context"
	"testing"

	"github.com/sp3esu/sentinel/internal/config"
)

func TestNewManager_WiresEnabledProvidersOnly(t *testing.T) {
	cfg := config.ProvidersConfig{
		OpenAI:    config.OpenAIConfig{APIKey: "k", Enabled: true},
		Anthropic: config.AnthropicConfig{Enabled: false},
	}

	m, err := NewManager(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	if _, err := m.Get("openai"); err != nil {
		t.Fatalf("expected openai to be configured: %v", err)
	}
	if _, err := m.Get("anthropic"); err == nil {
		t.Fatal("expected anthropic to be unconfigured")
	}

	names := m.Names()
	if len(names) != 1 || names[0] != "openai" {
		t.Fatalf("unexpected provider names: %v", names)
	}
}
