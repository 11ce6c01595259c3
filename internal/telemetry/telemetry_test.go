package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_golang/prometheus/client_model"

	"github.com/sp3esu/sentinel/internal/config"
)

func TestRequestRecorder_Success(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	rec := m.NewRequestRecorder("gpt-4o", "openai")
	rec.RecordSuccess(10, 20)

	if got := counterValue(t, m.RequestsTotal.WithLabelValues("gpt-4o", "success")); got != 1 {
		t.Fatalf("RequestsTotal = %v, want 1", got)
	}
	if got := counterValue(t, m.TokensInput.WithLabelValues("gpt-4o", "openai")); got != 10 {
		t.Fatalf("TokensInput = %v, want 10", got)
	}
	if got := counterValue(t, m.TokensOutput.WithLabelValues("gpt-4o", "openai")); got != 20 {
		t.Fatalf("TokensOutput = %v, want 20", got)
	}
}

func TestRequestRecorder_Error(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	rec := m.NewRequestRecorder("claude-3-5-sonnet-20241022", "anthropic")
	rec.RecordError("timeout")

	if got := counterValue(t, m.RequestsTotal.WithLabelValues("claude-3-5-sonnet-20241022", "error")); got != 1 {
		t.Fatalf("RequestsTotal = %v, want 1", got)
	}
	if got := counterValue(t, m.ProviderErrors.WithLabelValues("anthropic", "timeout")); got != 1 {
		t.Fatalf("ProviderErrors = %v, want 1", got)
	}
}

func TestNewLogger_DefaultsToJSON(t *testing.T) {
	logger := NewLogger(config.TelemetryConfig{LogLevel: "info", LogFormat: "json"})
	if logger == nil {
		t.Fatal("expected non-nil logger")
	}
}

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return m.GetCounter().GetValue()
}
