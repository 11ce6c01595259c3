package memory

import (
	"context"
	"testing"
	"time"
)

func TestMemory_GetSetDelete(t *testing.T) {
	t.Parallel()
	m, err := New(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, ok, _ := m.Get(ctx, "missing"); ok {
		t.Error("should not find missing key")
	}

	m.Set(ctx, "k1", []byte("v1"), time.Minute)
	// otter processes Set asynchronously; wait briefly.
	time.Sleep(50 * time.Millisecond)

	val, ok, err := m.Get(ctx, "k1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("should find k1")
	}
	if string(val) != "v1" {
		t.Errorf("value = %q, want %q", val, "v1")
	}

	m.Delete(ctx, "k1")
	if _, ok, _ := m.Get(ctx, "k1"); ok {
		t.Error("should not find deleted key")
	}
}

func TestMemory_TTLExpiry(t *testing.T) {
	t.Parallel()
	m, err := New(100, time.Hour) // long default TTL
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.Set(ctx, "expiring", []byte("data"), 50*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "expiring"); ok {
		t.Error("entry should be expired")
	}
}

func TestMemory_Expire(t *testing.T) {
	t.Parallel()
	m, err := New(100, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	m.Set(ctx, "sess", []byte("data"), 50*time.Millisecond)
	time.Sleep(50 * time.Millisecond)

	m.Expire(ctx, "sess", time.Minute)
	time.Sleep(60 * time.Millisecond)

	if _, ok, _ := m.Get(ctx, "sess"); !ok {
		t.Error("expire should have refreshed the TTL, keeping the key alive")
	}
}

func TestMemory_ListOps(t *testing.T) {
	t.Parallel()
	m, err := New(100, time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	n, err := m.LLen(ctx, "queue")
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Fatalf("LLen on empty list = %d, want 0", n)
	}

	m.RPush(ctx, "queue", []byte("a"))
	m.RPush(ctx, "queue", []byte("b"))

	n, _ = m.LLen(ctx, "queue")
	if n != 2 {
		t.Fatalf("LLen = %d, want 2", n)
	}

	val, ok, err := m.LPop(ctx, "queue")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || string(val) != "a" {
		t.Fatalf("LPop = %q, ok=%v, want \"a\", true", val, ok)
	}

	val, ok, _ = m.LPop(ctx, "queue")
	if !ok || string(val) != "b" {
		t.Fatalf("LPop = %q, ok=%v, want \"b\", true", val, ok)
	}

	if _, ok, _ := m.LPop(ctx, "queue"); ok {
		t.Error("LPop on drained list should report ok=false")
	}
}
