package usage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	dropped      prometheus.Counter
	flushSuccess prometheus.Counter
	flushFailed  prometheus.Counter
	retrySuccess prometheus.Counter
	retryFailed  prometheus.Counter
	circuitState prometheus.Gauge
	queueDepth   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_usage_dropped_total",
			Help: "Usage increments dropped because the tracking channel was full or the circuit breaker was open.",
		}),
		flushSuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_usage_flush_success_total",
			Help: "Batch flushes to governance that completed without a transport error.",
		}),
		flushFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_usage_flush_failed_total",
			Help: "Batch flushes to governance that failed and were queued for retry.",
		}),
		retrySuccess: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_usage_retry_success_total",
			Help: "Previously failed increments successfully retried.",
		}),
		retryFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "sentinel_usage_retry_failed_total",
			Help: "Retried increments that failed again and were re-queued.",
		}),
		circuitState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_usage_circuit_state",
			Help: "Usage-ingest circuit breaker state: 0=closed, 1=open, 2=half_open.",
		}),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "sentinel_usage_retry_queue_depth",
			Help: "Number of increments currently held in the failed-retry queue.",
		}),
	}
}
