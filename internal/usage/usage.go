// Package usage batches AI token/request usage increments and reports
// them to governance off the request hot path: callers fire-and-forget
// into a bounded channel, and a background worker aggregates, rate
// limits, and retries failed reports through a durable queue.
package usage

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/sp3esu/sentinel/internal/cache"
	"github.com/sp3esu/sentinel/internal/config"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/governance"
)

// failedIncrementsKey is the durable FIFO retry queue's cache key.
const failedIncrementsKey = "sentinel:usage:failed"

// Reporter is the governance surface the tracker depends on. Satisfied
// by *governance.Client.
type Reporter interface {
	BatchIncrement(ctx context.Context, items []governance.BatchIncrementItem) (governance.BatchIncrementResult, error)
	IncrementUsage(ctx context.Context, externalID string, inputTokens, outputTokens, requests int64, model string) error
}

// Tracker accepts usage increments and reports them to governance in
// batches. Construct with New; the background worker starts immediately
// and runs until ctx is canceled.
type Tracker struct {
	increments chan domain.UsageIncrement
	metrics    *metrics
	log        *slog.Logger
	done       chan struct{}
}

// New starts a Tracker's background worker and returns it. The worker
// exits when ctx is canceled, flushing any buffered increments first.
func New(ctx context.Context, reporter Reporter, kv cache.KV, cfg config.UsageConfig, reg prometheus.Registerer, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	t := &Tracker{
		increments: make(chan domain.UsageIncrement, cfg.ChannelBuffer),
		metrics:    newMetrics(reg),
		log:        log,
		done:       make(chan struct{}),
	}
	w := &worker{
		reporter: reporter,
		kv:       kv,
		cfg:      cfg,
		metrics:  t.metrics,
		log:      log,
		breaker:  newCircuitBreaker(cfg.CircuitBreakerThresh, cfg.CircuitBreakerReset),
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimitPerSecond), cfg.RateLimitPerSecond),
	}
	go func() {
		defer close(t.done)
		w.run(ctx, t.increments)
	}()
	return t
}

// Done returns a channel that closes once the background worker has
// performed its final flush and exited, for graceful-shutdown sequencing.
func (t *Tracker) Done() <-chan struct{} {
	return t.done
}

// Track records token usage for externalID, fire-and-forget. It never
// blocks and never returns an error; if the channel is full the
// increment is dropped and logged.
func (t *Tracker) Track(externalID string, inputTokens, outputTokens int64) {
	t.send(domain.UsageIncrement{
		ExternalID:   externalID,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		Requests:     1,
	})
}

// TrackRequestOnly records a single request with no token counts, for
// endpoints that don't produce a token count (audio, images, etc).
func (t *Tracker) TrackRequestOnly(externalID string) {
	t.Track(externalID, 0, 0)
}

func (t *Tracker) send(inc domain.UsageIncrement) {
	select {
	case t.increments <- inc:
	default:
		t.metrics.dropped.Inc()
		t.log.Warn("usage tracking channel full, dropping increment",
			"external_id", inc.ExternalID, "input_tokens", inc.InputTokens, "output_tokens", inc.OutputTokens)
	}
}

func encodeIncrement(inc domain.UsageIncrement) ([]byte, error) {
	return json.Marshal(inc)
}

func decodeIncrement(data []byte) (domain.UsageIncrement, error) {
	var inc domain.UsageIncrement
	err := json.Unmarshal(data, &inc)
	return inc, err
}
