// Package memory is an in-process KV cache backend for Sentinel, backed by
// an otter W-TinyLFU cache for scalar entries and a mutex-guarded map of
// slices for the list primitives otter itself has no notion of.
package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter/v2"
)

// entry wraps a cached value with its own expiration time, since otter's
// ExpiryCalculator applies a single default TTL at write time rather than
// accepting a per-call override.
type entry struct {
	data      []byte
	expiresAt time.Time
}

// Memory is the in-process cache.KV implementation.
type Memory struct {
	cache *otter.Cache[string, entry]

	mu    sync.Mutex
	lists map[string][][]byte
}

// New creates an in-memory cache with the given max entry count and
// default TTL (used only as otter's internal eviction hint; callers always
// supply their own TTL to Set).
func New(maxSize int, defaultTTL time.Duration) (*Memory, error) {
	c, err := otter.New[string, entry](&otter.Options[string, entry]{
		MaximumSize:      maxSize,
		ExpiryCalculator: otter.ExpiryWriting[string, entry](defaultTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("create cache: %w", err)
	}
	return &Memory{cache: c, lists: make(map[string][][]byte)}, nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		m.cache.Invalidate(key)
		return nil, false, nil
	}
	return e.data, true, nil
}

func (m *Memory) Set(_ context.Context, key string, val []byte, ttl time.Duration) error {
	m.cache.Set(key, entry{data: val, expiresAt: time.Now().Add(ttl)})
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.cache.Invalidate(key)
	return nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	e, ok := m.cache.GetIfPresent(key)
	if !ok {
		return nil
	}
	e.expiresAt = time.Now().Add(ttl)
	m.cache.Set(key, e)
	return nil
}

func (m *Memory) RPush(_ context.Context, key string, val []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := append([]byte(nil), val...)
	m.lists[key] = append(m.lists[key], cp)
	return nil
}

func (m *Memory) LPop(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.lists[key]
	if len(list) == 0 {
		return nil, false, nil
	}
	head := list[0]
	m.lists[key] = list[1:]
	return head, true, nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.lists[key])), nil
}
