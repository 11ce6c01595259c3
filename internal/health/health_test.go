package health

import (
	"testing"
	"time"
)

func TestNewProviderIsAvailable(t *testing.T) {
	tr := New()
	if !tr.IsAvailable("openai", "gpt-4o") {
		t.Error("unseen provider/model should be available")
	}
}

func TestFailureMarksUnavailable(t *testing.T) {
	tr := New()
	tr.RecordFailure("openai", "gpt-4o")
	if tr.IsAvailable("openai", "gpt-4o") {
		t.Error("should be unavailable after a failure")
	}
}

func TestSuccessResetsState(t *testing.T) {
	tr := New()
	tr.RecordFailure("openai", "gpt-4o")
	if tr.IsAvailable("openai", "gpt-4o") {
		t.Fatal("should be unavailable after a failure")
	}

	tr.RecordSuccess("openai", "gpt-4o")
	if !tr.IsAvailable("openai", "gpt-4o") {
		t.Error("should be available after success resets state")
	}
}

func TestBackoffElapsedMakesAvailable(t *testing.T) {
	tr := WithConfig(Config{
		InitialBackoff:    50 * time.Millisecond,
		MaxBackoff:        time.Second,
		BackoffMultiplier: 2,
	})

	tr.RecordFailure("openai", "gpt-4o")
	if tr.IsAvailable("openai", "gpt-4o") {
		t.Fatal("should be unavailable immediately after failure")
	}

	time.Sleep(60 * time.Millisecond)
	if !tr.IsAvailable("openai", "gpt-4o") {
		t.Error("should be available once backoff elapses")
	}
}

func TestExponentialBackoffIncreases(t *testing.T) {
	tr := WithConfig(Config{
		InitialBackoff:    10 * time.Second,
		MaxBackoff:        300 * time.Second,
		BackoffMultiplier: 2,
	})

	tr.RecordFailure("openai", "gpt-4o")
	remaining1, ok := tr.BackoffRemaining("openai", "gpt-4o")
	if !ok || remaining1.Seconds() > 10 {
		t.Fatalf("first backoff = %v, want <= 10s", remaining1)
	}

	tr.RecordFailure("openai", "gpt-4o")
	remaining2, ok := tr.BackoffRemaining("openai", "gpt-4o")
	if !ok || remaining2.Seconds() > 20 || remaining2.Seconds() <= 10 {
		t.Fatalf("second backoff = %v, want in (10s, 20s]", remaining2)
	}
}

func TestBackoffCappedAtMax(t *testing.T) {
	tr := WithConfig(Config{
		InitialBackoff:    100 * time.Second,
		MaxBackoff:        150 * time.Second,
		BackoffMultiplier: 2,
	})

	for i := 0; i < 10; i++ {
		tr.RecordFailure("openai", "gpt-4o")
	}

	remaining, ok := tr.BackoffRemaining("openai", "gpt-4o")
	if !ok || remaining.Seconds() > 150 {
		t.Fatalf("backoff = %v, want <= 150s", remaining)
	}
}

func TestDifferentProvidersTrackedSeparately(t *testing.T) {
	tr := New()

	tr.RecordFailure("openai", "gpt-4o")
	if tr.IsAvailable("openai", "gpt-4o") {
		t.Error("failed model should be unavailable")
	}
	if !tr.IsAvailable("openai", "gpt-4o-mini") {
		t.Error("different model should stay available")
	}
	if !tr.IsAvailable("anthropic", "claude-3") {
		t.Error("different provider should stay available")
	}
}

func TestGetUnavailableProviders(t *testing.T) {
	tr := New()
	tr.RecordFailure("openai", "gpt-4o")
	tr.RecordFailure("openai", "gpt-4o")

	unavailable := tr.GetUnavailableProviders()
	if len(unavailable) != 1 {
		t.Fatalf("len = %d, want 1", len(unavailable))
	}
	got := unavailable[0]
	if got.Provider != "openai" || got.Model != "gpt-4o" || got.ConsecutiveFailures != 2 {
		t.Fatalf("unexpected entry: %+v", got)
	}
}
