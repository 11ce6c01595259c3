package usage

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/sp3esu/sentinel/internal/cache"
	"github.com/sp3esu/sentinel/internal/config"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/governance"
)

type worker struct {
	reporter Reporter
	kv       cache.KV
	cfg      config.UsageConfig
	metrics  *metrics
	log      *slog.Logger
	breaker  *circuitBreaker
	limiter  *rate.Limiter
}

// run aggregates increments off the channel and flushes them to
// governance on a ticker, retrying anything left over in the durable
// queue on a separate ticker. It returns once ctx is canceled, flushing
// whatever remains in the buffer first.
func (w *worker) run(ctx context.Context, increments <-chan domain.UsageIncrement) {
	w.log.Info("starting usage tracker worker",
		"batch_size", w.cfg.MaxBatchSize, "flush_interval", w.cfg.FlushInterval, "rate_limit", w.cfg.RateLimitPerSecond)

	flushTicker := time.NewTicker(w.cfg.FlushInterval)
	defer flushTicker.Stop()
	retryTicker := time.NewTicker(w.cfg.RetryInterval)
	defer retryTicker.Stop()

	buffer := make(map[string]*domain.AggregatedUsage)

	for {
		select {
		case inc, ok := <-increments:
			if !ok {
				if len(buffer) > 0 {
					w.flush(ctx, buffer)
				}
				w.log.Info("usage tracker worker shutting down")
				return
			}
			agg, found := buffer[inc.ExternalID]
			if !found {
				agg = &domain.AggregatedUsage{}
				buffer[inc.ExternalID] = agg
			}
			agg.Add(inc)

			if len(buffer) >= w.cfg.MaxBatchSize {
				w.flush(ctx, buffer)
			}

		case <-flushTicker.C:
			if len(buffer) > 0 {
				w.flush(ctx, buffer)
			}

		case <-retryTicker.C:
			if w.breaker.state == StateClosed {
				w.retryFailed(ctx)
			}

		case <-ctx.Done():
			if len(buffer) > 0 {
				w.flush(context.WithoutCancel(ctx), buffer)
			}
			w.log.Info("usage tracker worker shutting down")
			return
		}
	}
}

// flush drains buffer and reports it to governance in one batch call,
// gated by the circuit breaker and rate limiter. Anything that fails is
// persisted to the durable retry queue. buffer is emptied in place.
func (w *worker) flush(ctx context.Context, buffer map[string]*domain.AggregatedUsage) {
	if !w.breaker.allow() {
		count := len(buffer)
		for k := range buffer {
			delete(buffer, k)
		}
		w.metrics.dropped.Add(float64(count))
		w.log.Warn("circuit breaker open, dropping usage increments", "dropped_count", count)
		return
	}

	type entry struct {
		externalID string
		usage      domain.AggregatedUsage
	}
	var entries []entry
	for id, agg := range buffer {
		if !agg.IsEmpty() {
			entries = append(entries, entry{externalID: id, usage: *agg})
		}
		delete(buffer, id)
	}
	if len(entries) == 0 {
		return
	}

	w.log.Debug("flushing usage increments to governance", "user_count", len(entries))

	if err := w.limiter.Wait(ctx); err != nil {
		return
	}

	items := make([]governance.BatchIncrementItem, len(entries))
	for i, e := range entries {
		items[i] = governance.BatchIncrementItem{
			ExternalID:   e.externalID,
			InputTokens:  e.usage.InputTokens,
			OutputTokens: e.usage.OutputTokens,
			Requests:     e.usage.Requests,
		}
	}

	result, err := w.reporter.BatchIncrement(ctx, items)
	if err != nil {
		w.breaker.recordFailure()
		w.metrics.flushFailed.Inc()
		w.log.Warn("failed to batch increment usage", "user_count", len(entries), "error", err, "consecutive_failures", w.breaker.consecutiveFailures)

		for _, e := range entries {
			w.persistFailed(ctx, domain.UsageIncrement{
				ExternalID:   e.externalID,
				InputTokens:  e.usage.InputTokens,
				OutputTokens: e.usage.OutputTokens,
				Requests:     e.usage.Requests,
			})
		}
		w.metrics.circuitState.Set(float64(w.breaker.state))
		return
	}

	w.breaker.recordSuccess()
	w.metrics.flushSuccess.Inc()
	w.metrics.circuitState.Set(float64(w.breaker.state))

	if result.Failed > 0 {
		w.log.Warn("batch increment completed with partial failures", "processed", result.Processed, "failed", result.Failed)
		failedIDs := result.FailedIDs()
		for _, e := range entries {
			// Governance reported only aggregate counts, no per-item
			// breakdown: persist everything rather than silently drop
			// increments we can't identify as successful.
			if len(failedIDs) > 0 && !failedIDs[e.externalID] {
				continue
			}
			w.persistFailed(ctx, domain.UsageIncrement{
				ExternalID:   e.externalID,
				InputTokens:  e.usage.InputTokens,
				OutputTokens: e.usage.OutputTokens,
				Requests:     e.usage.Requests,
			})
		}
	} else {
		w.log.Debug("batch flush completed successfully", "processed", result.Processed)
	}
}

func (w *worker) persistFailed(ctx context.Context, inc domain.UsageIncrement) {
	data, err := encodeIncrement(inc)
	if err != nil {
		w.log.Error("failed to encode failed increment", "error", err)
		return
	}
	if err := w.kv.RPush(ctx, failedIncrementsKey, data); err != nil {
		w.log.Error("failed to persist failed increment", "error", err, "external_id", inc.ExternalID)
		return
	}
	if n, lerr := w.kv.LLen(ctx, failedIncrementsKey); lerr == nil {
		w.metrics.queueDepth.Set(float64(n))
	}
}

// retryFailed pops up to cfg.MaxRetryBatch increments from the durable
// queue and retries them one at a time via the single-increment API,
// re-queuing whatever fails again.
func (w *worker) retryFailed(ctx context.Context) {
	total, err := w.kv.LLen(ctx, failedIncrementsKey)
	if err != nil {
		w.log.Warn("failed to get failed increments count", "error", err)
		return
	}
	if total == 0 {
		return
	}

	batchSize := total
	if int64(w.cfg.MaxRetryBatch) < batchSize {
		batchSize = int64(w.cfg.MaxRetryBatch)
	}
	w.log.Info("retrying failed usage increments", "total_pending", total, "batch_size", batchSize)

	var successCount, failureCount int64

	for i := int64(0); i < batchSize; i++ {
		data, ok, err := w.kv.LPop(ctx, failedIncrementsKey)
		if err != nil {
			w.log.Warn("failed to pop from retry queue", "error", err)
			break
		}
		if !ok {
			break
		}

		inc, err := decodeIncrement(data)
		if err != nil {
			w.log.Error("failed to decode queued increment", "error", err)
			continue
		}

		if err := w.limiter.Wait(ctx); err != nil {
			w.persistFailed(ctx, inc)
			break
		}

		if err := w.reporter.IncrementUsage(ctx, inc.ExternalID, inc.InputTokens, inc.OutputTokens, inc.Requests, ""); err != nil {
			failureCount++
			w.breaker.recordFailure()
			w.metrics.retryFailed.Inc()
			w.log.Warn("retry failed, re-queuing", "external_id", inc.ExternalID, "error", err)
			w.persistFailed(ctx, inc)

			if w.breaker.state == StateOpen {
				w.metrics.circuitState.Set(float64(w.breaker.state))
				break
			}
			continue
		}

		successCount++
		w.breaker.recordSuccess()
		w.metrics.retrySuccess.Inc()
		w.log.Debug("retry successful", "external_id", inc.ExternalID)
	}

	w.metrics.circuitState.Set(float64(w.breaker.state))
	if successCount > 0 || failureCount > 0 {
		w.log.Info("retry pass complete", "success", successCount, "failed", failureCount, "remaining", total-successCount)
	}
}
