// Package telemetry provides Sentinel's Prometheus metrics registry and
// structured-logging setup.
package telemetry

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sp3esu/sentinel/internal/config"
)

// Metrics holds Sentinel's request/provider/token metrics. Usage-ingest
// metrics register against the same Registerer from their own package
// (internal/usage); the health tracker exports no metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	TokensInput  *prometheus.CounterVec
	TokensOutput *prometheus.CounterVec

	ProviderRequests *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	ProviderLatency  *prometheus.HistogramVec

	ToolCalls *prometheus.CounterVec

	StreamConnections prometheus.Gauge

	SSEParseErrors *prometheus.CounterVec
}

// NewMetrics registers Sentinel's request-path metrics against reg. A
// nil reg registers against the global DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_requests_total",
				Help: "Total chat requests by model and response status.",
			},
			[]string{"model", "status"},
		),

		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_request_duration_seconds",
				Help:    "Request duration in seconds.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"model"},
		),

		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_requests_in_flight",
				Help: "Requests currently being processed.",
			},
		),

		TokensInput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_tokens_input_total",
				Help: "Total input tokens processed, by model and provider.",
			},
			[]string{"model", "provider"},
		),

		TokensOutput: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_tokens_output_total",
				Help: "Total output tokens generated, by model and provider.",
			},
			[]string{"model", "provider"},
		),

		ProviderRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_provider_requests_total",
				Help: "Total requests sent to each provider.",
			},
			[]string{"provider", "model"},
		),

		ProviderErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_provider_errors_total",
				Help: "Total provider errors by error type.",
			},
			[]string{"provider", "error_type"},
		),

		ProviderLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sentinel_provider_latency_seconds",
				Help:    "Provider API latency in seconds.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"provider", "model"},
		),

		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_tool_calls_total",
				Help: "Total tool calls issued by the model, by tool name.",
			},
			[]string{"tool_name", "model"},
		),

		StreamConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "sentinel_stream_connections",
				Help: "Active streaming connections.",
			},
		),

		SSEParseErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sentinel_sse_parse_errors_total",
				Help: "Total SSE chunks that failed to parse, by endpoint and model.",
			},
			[]string{"endpoint", "model"},
		),
	}
}

// Handler serves Prometheus's text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RequestRecorder tracks one in-flight request's lifecycle metrics.
type RequestRecorder struct {
	metrics   *Metrics
	model     string
	provider  string
	startTime time.Time
}

// NewRequestRecorder starts timing a request and increments the
// in-flight gauge. Call RecordSuccess or RecordError exactly once to
// finish it.
func (m *Metrics) NewRequestRecorder(model, provider string) *RequestRecorder {
	m.RequestsInFlight.Inc()
	m.ProviderRequests.WithLabelValues(provider, model).Inc()
	return &RequestRecorder{metrics: m, model: model, provider: provider, startTime: time.Now()}
}

// RecordSuccess finishes the recorder with a successful outcome.
func (r *RequestRecorder) RecordSuccess(inputTokens, outputTokens int64) {
	duration := time.Since(r.startTime)

	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.model, "success").Inc()
	r.metrics.RequestDuration.WithLabelValues(r.model).Observe(duration.Seconds())
	r.metrics.ProviderLatency.WithLabelValues(r.provider, r.model).Observe(duration.Seconds())

	r.metrics.TokensInput.WithLabelValues(r.model, r.provider).Add(float64(inputTokens))
	r.metrics.TokensOutput.WithLabelValues(r.model, r.provider).Add(float64(outputTokens))
}

// RecordError finishes the recorder with a failed outcome.
func (r *RequestRecorder) RecordError(errorType string) {
	duration := time.Since(r.startTime)

	r.metrics.RequestsInFlight.Dec()
	r.metrics.RequestsTotal.WithLabelValues(r.model, "error").Inc()
	r.metrics.RequestDuration.WithLabelValues(r.model).Observe(duration.Seconds())
	r.metrics.ProviderErrors.WithLabelValues(r.provider, errorType).Inc()
}

// RecordToolCall records one model-issued tool call.
func (m *Metrics) RecordToolCall(toolName, model string) {
	m.ToolCalls.WithLabelValues(toolName, model).Inc()
}

// NewLogger builds the process-wide slog.Logger per cfg, writing either
// JSON or plain text to stdout at the configured level.
func NewLogger(cfg config.TelemetryConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}

	var handler slog.Handler
	if cfg.LogFormat == "text" {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
