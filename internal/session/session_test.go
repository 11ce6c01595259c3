package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/sp3esu/sentinel/internal/cache/memory"
	"github.com/sp3esu/sentinel/internal/domain"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	kv, err := memory.New(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return New(kv, time.Hour)
}

func TestCreateThenGet(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "conv-123", "openai", "gpt-4", domain.TierModerate, "user-456")
	if err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	got, ok, err := m.Get(ctx, "conv-123")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected session to be found")
	}
	if got.ID != created.ID || got.Provider != "openai" || got.Model != "gpt-4" || got.ExternalUserID != "user-456" {
		t.Fatalf("round-tripped session mismatch: %+v vs %+v", got, created)
	}
}

func TestGetMissingIsNotAnError(t *testing.T) {
	m := newTestManager(t)
	_, ok, err := m.Get(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected ok=false for a missing session")
	}
}

func TestSessionJSONFormat(t *testing.T) {
	s := domain.Session{
		ID:             "test-id",
		Provider:       "anthropic",
		Model:          "claude-3-opus",
		Tier:           domain.TierComplex,
		ExternalUserID: "ext-123",
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
	}

	raw, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}

	var decoded domain.Session
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if !decoded.CreatedAt.Equal(s.CreatedAt) || decoded.Provider != s.Provider || decoded.Tier != s.Tier {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, s)
	}
}

func TestUpdatePreservesID(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	created, err := m.Create(ctx, "conv-1", "openai", "gpt-4o-mini", domain.TierSimple, "user-1")
	if err != nil {
		t.Fatal(err)
	}

	upgraded := created
	upgraded.Tier = domain.TierComplex
	upgraded.Provider = "anthropic"
	upgraded.Model = "claude-3-opus"

	if err := m.Update(ctx, upgraded); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	got, ok, err := m.Get(ctx, "conv-1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || got.Tier != domain.TierComplex || got.Provider != "anthropic" {
		t.Fatalf("unexpected session after update: %+v", got)
	}
	if got.ID != created.ID {
		t.Fatal("id should not change across an update")
	}
}

func TestTouchExtendsTTL(t *testing.T) {
	kv, err := memory.New(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	m := New(kv, 50*time.Millisecond)
	ctx := context.Background()

	if _, err := m.Create(ctx, "conv-ttl", "openai", "gpt-4o", domain.TierSimple, "user-1"); err != nil {
		t.Fatal(err)
	}

	time.Sleep(30 * time.Millisecond)
	if err := m.Touch(ctx, "conv-ttl"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(30 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "conv-ttl"); !ok {
		t.Error("touch should have kept the session alive past its original TTL")
	}
}
