// Package provider implements Sentinel's LLM provider clients (OpenAI,
// Anthropic, AWS Bedrock) and the Manager that wires them up from config
// and selects among them by name.
package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/config"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/telemetry"
)

// defaultProviderTimeout bounds an upstream HTTP call end-to-end,
// including a streaming response's full body read. Generous enough for
// a long completion without leaking a connection indefinitely.
const defaultProviderTimeout = 120 * time.Second

// Manager holds one client per configured provider and dispatches by
// name. Unlike the multi-tenant registries this package is descended
// from, Sentinel has exactly one credential set per provider, so the
// manager is just a name-keyed map built once at startup.
type Manager struct {
	mu      sync.RWMutex
	clients map[string]domain.Provider
}

// NewManager builds a Manager from cfg, constructing a client for every
// enabled provider. metrics may be nil. A provider with a bad
// configuration (e.g. Bedrock with unreachable AWS credentials) fails
// the whole call, since a misconfigured provider at startup almost
// always indicates an operator mistake worth surfacing immediately.
func NewManager(ctx context.Context, cfg config.ProvidersConfig, metrics *telemetry.Metrics) (*Manager, error) {
	m := &Manager{clients: make(map[string]domain.Provider)}

	if cfg.OpenAI.Enabled {
		client := NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, defaultProviderTimeout, metrics)
		m.clients[client.Name()] = client
	}
	if cfg.Anthropic.Enabled {
		client := NewAnthropicClient(cfg.Anthropic.APIKey, defaultProviderTimeout, metrics)
		m.clients[client.Name()] = client
	}
	if cfg.Bedrock.Enabled {
		client, err := NewBedrockClient(ctx, cfg.Bedrock.Region, cfg.Bedrock.AccessKeyID, cfg.Bedrock.SecretAccessKey, cfg.Bedrock.Profile)
		if err != nil {
			return nil, fmt.Errorf("bedrock provider: %w", err)
		}
		m.clients[client.Name()] = client
	}

	return m, nil
}

// Get returns the named provider's client.
func (m *Manager) Get(name string) (domain.Provider, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, ok := m.clients[name]
	if !ok {
		return nil, apperr.New(apperr.KindBadRequest, fmt.Sprintf("provider not configured: %s", name))
	}
	return client, nil
}

// Names returns the configured provider names.
func (m *Manager) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.clients))
	for name := range m.clients {
		names = append(names, name)
	}
	return names
}

// ListAllModels queries every configured provider for its model
// catalog. A provider that errors is skipped rather than failing the
// whole call, since one provider being unreachable shouldn't hide the
// others' catalogs.
func (m *Manager) ListAllModels(ctx context.Context) ([]domain.ModelInfo, error) {
	m.mu.RLock()
	clients := make([]domain.Provider, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	m.mu.RUnlock()

	var all []domain.ModelInfo
	for _, c := range clients {
		models, err := c.ListModels(ctx)
		if err != nil {
			continue
		}
		all = append(all, models...)
	}
	return all, nil
}
