package streaming

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"

	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/telemetry"
)

type anthropicChunk struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Usage struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	} `json:"message"`
	Usage struct {
		InputTokens  int64 `json:"input_tokens"`
		OutputTokens int64 `json:"output_tokens"`
	} `json:"usage"`
}

func mapAnthropicStopReason(raw string) domain.FinishReason {
	switch raw {
	case "end_turn":
		return domain.FinishReasonStop
	case "tool_use":
		return domain.FinishReasonToolCalls
	case "max_tokens":
		return domain.FinishReasonLength
	default:
		return domain.FinishReasonStop
	}
}

// ParseAnthropicStream reads body to completion, decoding Anthropic's
// messages-API SSE events into domain.StreamEvents. Anthropic streams
// tool-call arguments as raw JSON deltas with no stable per-call id
// until content_block_stop, so (unlike ParseOpenAIStream) no
// ToolCallDelta events are emitted here; tool calls are only available
// through the non-streaming Chat call. metrics may be nil; endpoint and
// model label the SSE-parse-error counter for malformed chunks.
func ParseAnthropicStream(body io.Reader, metrics *telemetry.Metrics, endpoint, model string, emit func(domain.StreamEvent)) {
	var lines LineBuffer
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				decodeAnthropicChunk(strings.TrimPrefix(line, "data: "), metrics, endpoint, model, emit)
			}
		}

		if err != nil {
			if err != io.EOF {
				emit(domain.FinishEvent{Reason: domain.FinishReasonError})
			}
			return
		}
	}
}

func decodeAnthropicChunk(data string, metrics *telemetry.Metrics, endpoint, model string, emit func(domain.StreamEvent)) {
	var chunk anthropicChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		truncated := data
		if len(truncated) > maxLoggedChunkBytes {
			truncated = truncated[:maxLoggedChunkBytes]
		}
		slog.Warn("failed to parse SSE chunk", "endpoint", endpoint, "model", model, "error", err, "data", truncated)
		if metrics != nil {
			metrics.SSEParseErrors.WithLabelValues(endpoint, model).Inc()
		}
		return
	}

	switch chunk.Type {
	case "content_block_delta":
		if chunk.Delta.Type == "text_delta" && chunk.Delta.Text != "" {
			emit(domain.TextChunk{Content: chunk.Delta.Text})
		}

	case "message_start":
		if chunk.Message.Usage.InputTokens > 0 {
			emit(domain.UsageEvent{PromptTokens: chunk.Message.Usage.InputTokens})
		}

	case "message_delta":
		if chunk.Usage.OutputTokens > 0 {
			emit(domain.UsageEvent{
				PromptTokens:     chunk.Usage.InputTokens,
				CompletionTokens: chunk.Usage.OutputTokens,
				TotalTokens:      chunk.Usage.InputTokens + chunk.Usage.OutputTokens,
			})
		}
		if chunk.Delta.StopReason != "" {
			emit(domain.FinishEvent{Reason: mapAnthropicStopReason(chunk.Delta.StopReason)})
		}
	}
}
