// Package session provides provider/model stickiness within a
// conversation: once a session picks a (provider, model, tier) triple,
// every subsequent request in the same conversation reuses it until a
// tier upgrade promotes it.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/cache"
	"github.com/sp3esu/sentinel/internal/domain"
)

func sessionKey(conversationID string) string {
	return fmt.Sprintf("sentinel:session:%s", conversationID)
}

// Manager wraps the KV cache with session-specific read/write/touch logic.
type Manager struct {
	kv  cache.KV
	ttl time.Duration
}

// New constructs a Manager. ttl is typically 24 hours, refreshed on every
// Touch.
func New(kv cache.KV, ttl time.Duration) *Manager {
	return &Manager{kv: kv, ttl: ttl}
}

// Get returns the existing session for a conversation, or ok=false if none
// exists (a cache miss, not an error — callers create a new session).
func (m *Manager) Get(ctx context.Context, conversationID string) (domain.Session, bool, error) {
	raw, ok, err := m.kv.Get(ctx, sessionKey(conversationID))
	if err != nil {
		return domain.Session{}, false, apperr.CacheError("reading session", err)
	}
	if !ok {
		return domain.Session{}, false, nil
	}

	var s domain.Session
	if err := json.Unmarshal(raw, &s); err != nil {
		return domain.Session{}, false, apperr.CacheError("decoding session", err)
	}
	return s, true, nil
}

// Create stores a new session binding and returns it.
func (m *Manager) Create(ctx context.Context, conversationID, provider, model string, tier domain.Tier, externalID string) (domain.Session, error) {
	s := domain.Session{
		ID:             conversationID,
		Provider:       provider,
		Model:          model,
		Tier:           tier,
		ExternalUserID: externalID,
		CreatedAt:      time.Now(),
	}

	raw, err := json.Marshal(s)
	if err != nil {
		return domain.Session{}, apperr.Internal("encoding session", err)
	}

	if err := m.kv.Set(ctx, sessionKey(conversationID), raw, m.ttl); err != nil {
		return domain.Session{}, apperr.CacheError("writing session", err)
	}
	return s, nil
}

// Update persists a session whose provider/model/tier changed (a tier
// upgrade), preserving its original id and creation time.
func (m *Manager) Update(ctx context.Context, s domain.Session) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return apperr.Internal("encoding session", err)
	}
	if err := m.kv.Set(ctx, sessionKey(s.ID), raw, m.ttl); err != nil {
		return apperr.CacheError("writing session", err)
	}
	return nil
}

// Touch refreshes a session's TTL on activity, without changing its
// value. The TTL window slides from last activity, not from creation.
func (m *Manager) Touch(ctx context.Context, conversationID string) error {
	if err := m.kv.Expire(ctx, sessionKey(conversationID), m.ttl); err != nil {
		return apperr.CacheError("refreshing session TTL", err)
	}
	return nil
}
