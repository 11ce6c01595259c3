// Package tierconfig caches the global tier-to-model mapping fetched from
// governance. The mapping changes infrequently, so it is held in the KV
// cache under a single well-known key with a long TTL rather than fetched
// on every request.
package tierconfig

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/sp3esu/sentinel/internal/cache"
	"github.com/sp3esu/sentinel/internal/domain"
)

const cacheKey = "sentinel:tierconfig"

// Source fetches the global tier config; implemented by
// *governance.Client.
type Source interface {
	GetTierConfig(ctx context.Context) (domain.TierConfig, error)
}

// Store is the read-through tier config cache, plus an in-process copy so
// the hot path (model selection on every request) never round-trips
// through the KV cache either.
type Store struct {
	source Source
	kv     cache.KV
	ttl    time.Duration

	mu      sync.RWMutex
	current *domain.TierConfig
}

// New constructs a Store.
func New(source Source, kv cache.KV, ttl time.Duration) *Store {
	return &Store{source: source, kv: kv, ttl: ttl}
}

// Get returns the current tier config, refreshing from the KV cache or
// governance if the in-process copy is unset.
func (s *Store) Get(ctx context.Context) (domain.TierConfig, error) {
	s.mu.RLock()
	if s.current != nil {
		cfg := *s.current
		s.mu.RUnlock()
		return cfg, nil
	}
	s.mu.RUnlock()

	if raw, ok, err := s.kv.Get(ctx, cacheKey); err == nil && ok {
		var cfg domain.TierConfig
		if err := json.Unmarshal(raw, &cfg); err == nil {
			s.store(cfg)
			return cfg, nil
		}
	}

	return s.Refresh(ctx)
}

// Refresh forces a fetch from governance, updating both the KV cache and
// the in-process copy.
func (s *Store) Refresh(ctx context.Context) (domain.TierConfig, error) {
	cfg, err := s.source.GetTierConfig(ctx)
	if err != nil {
		return domain.TierConfig{}, err
	}

	if raw, err := json.Marshal(cfg); err == nil {
		_ = s.kv.Set(ctx, cacheKey, raw, s.ttl)
	}
	s.store(cfg)
	return cfg, nil
}

func (s *Store) store(cfg domain.TierConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &cfg
}
