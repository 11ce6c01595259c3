package usage

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/time/rate"

	"github.com/sp3esu/sentinel/internal/cache/memory"
	"github.com/sp3esu/sentinel/internal/domain"
)

func TestFlush_CircuitOpenIncrementsDroppedCounter(t *testing.T) {
	kv, err := memory.New(100, time.Hour)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	reg := prometheus.NewRegistry()

	w := &worker{
		reporter: &fakeReporter{},
		kv:       kv,
		cfg:      testConfig(),
		metrics:  newMetrics(reg),
		log:      slog.Default(),
		breaker:  newCircuitBreaker(1, time.Hour),
		limiter:  rate.NewLimiter(rate.Limit(1000), 1000),
	}
	w.breaker.recordFailure()

	buffer := map[string]*domain.AggregatedUsage{
		"user-1": {InputTokens: 1, OutputTokens: 1, Requests: 1},
		"user-2": {InputTokens: 2, OutputTokens: 2, Requests: 1},
	}
	w.flush(context.Background(), buffer)

	if len(buffer) != 0 {
		t.Fatalf("expected buffer cleared, got %d entries", len(buffer))
	}
	if got := testutil.ToFloat64(w.metrics.dropped); got != 2 {
		t.Fatalf("expected dropped=2, got %v", got)
	}
}
