package streaming

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/telemetry"
)

func TestParseAnthropicStream_TextThenFinish(t *testing.T) {
	body := strings.NewReader(
		`data: {"type":"message_start","message":{"usage":{"input_tokens":10}}}` + "\n\n" +
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hello"}}` + "\n\n" +
			`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"input_tokens":10,"output_tokens":3}}` + "\n\n" +
			`data: {"type":"message_stop"}` + "\n\n",
	)

	var events []domain.StreamEvent
	ParseAnthropicStream(body, nil, "messages", "claude-3-5-sonnet-20241022", func(e domain.StreamEvent) { events = append(events, e) })

	var sawText, sawUsage, sawFinish bool
	for _, e := range events {
		switch v := e.(type) {
		case domain.TextChunk:
			if v.Content == "hello" {
				sawText = true
			}
		case domain.UsageEvent:
			if v.TotalTokens == 13 {
				sawUsage = true
			}
		case domain.FinishEvent:
			if v.Reason == domain.FinishReasonStop {
				sawFinish = true
			}
		}
	}
	if !sawText || !sawUsage || !sawFinish {
		t.Fatalf("missing expected events: text=%v usage=%v finish=%v (events=%v)", sawText, sawUsage, sawFinish, events)
	}
}

func TestParseAnthropicStream_ToolUseStopReason(t *testing.T) {
	body := strings.NewReader(
		`data: {"type":"message_delta","delta":{"stop_reason":"tool_use"},"usage":{"input_tokens":1,"output_tokens":1}}` + "\n\n",
	)

	var events []domain.StreamEvent
	ParseAnthropicStream(body, nil, "messages", "claude-3-5-sonnet-20241022", func(e domain.StreamEvent) { events = append(events, e) })

	found := false
	for _, e := range events {
		if fe, ok := e.(domain.FinishEvent); ok && fe.Reason == domain.FinishReasonToolCalls {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected tool_calls finish reason, got %v", events)
	}
}

func TestParseAnthropicStream_MalformedChunkIncrementsCounter(t *testing.T) {
	body := strings.NewReader(
		`data: {not json}` + "\n\n" +
			`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}` + "\n\n",
	)

	metrics := telemetry.NewMetrics(prometheus.NewRegistry())
	var events []domain.StreamEvent
	ParseAnthropicStream(body, metrics, "messages", "claude-3-5-sonnet-20241022", func(e domain.StreamEvent) { events = append(events, e) })

	if got := testutil.ToFloat64(metrics.SSEParseErrors.WithLabelValues("messages", "claude-3-5-sonnet-20241022")); got != 1 {
		t.Fatalf("expected SSEParseErrors=1, got %v", got)
	}

	var sawText bool
	for _, e := range events {
		if tc, ok := e.(domain.TextChunk); ok && tc.Content == "hi" {
			sawText = true
		}
	}
	if !sawText {
		t.Fatalf("expected the stream to continue past the malformed chunk, got %v", events)
	}
}
