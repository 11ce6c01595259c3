package streaming

import (
	"encoding/json"
	"log/slog"

	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/telemetry"
)

// maxLoggedChunkBytes bounds how much of a malformed SSE payload gets
// written to the log line.
const maxLoggedChunkBytes = 500

// openAIChunk is the wire shape of one OpenAI chat-completion streaming
// chunk. Anthropic and Bedrock translators decode their own native chunk
// shapes and emit the same domain.StreamEvent set; only the OpenAI shape
// is parsed here since the other providers' wire formats differ enough to
// need their own decoders.
type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

func mapFinishReason(raw string) domain.FinishReason {
	switch raw {
	case "stop":
		return domain.FinishReasonStop
	case "tool_calls":
		return domain.FinishReasonToolCalls
	case "length":
		return domain.FinishReasonLength
	default:
		return domain.FinishReasonStop
	}
}

// ChunkDecoder decodes successive OpenAI-wire SSE data payloads into
// domain.StreamEvents, buffering the finish reason until usage (carried
// only on the final chunk) arrives or the stream ends.
type ChunkDecoder struct {
	finishSent          bool
	pendingFinishReason string

	metrics  *telemetry.Metrics
	endpoint string
	model    string
}

// NewChunkDecoder constructs a ChunkDecoder for one streaming call.
// metrics may be nil, in which case malformed chunks are logged but not
// counted. endpoint and model label the SSE-parse-error counter.
func NewChunkDecoder(metrics *telemetry.Metrics, endpoint, model string) *ChunkDecoder {
	return &ChunkDecoder{metrics: metrics, endpoint: endpoint, model: model}
}

// Decode parses one "data: ..." payload (with the prefix already
// stripped) and appends any resulting events to emit. A payload that
// fails to parse is logged and counted, then skipped; the stream itself
// continues.
func (d *ChunkDecoder) Decode(data string, emit func(domain.StreamEvent)) {
	var chunk openAIChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		d.reportParseError(data, err)
		return
	}

	if chunk.Usage.TotalTokens > 0 {
		emit(domain.UsageEvent{
			PromptTokens:     chunk.Usage.PromptTokens,
			CompletionTokens: chunk.Usage.CompletionTokens,
			TotalTokens:      chunk.Usage.TotalTokens,
		})

		if d.pendingFinishReason != "" && !d.finishSent {
			emit(domain.FinishEvent{Reason: mapFinishReason(d.pendingFinishReason)})
			d.finishSent = true
			d.pendingFinishReason = ""
		}
	}

	for _, choice := range chunk.Choices {
		if choice.Delta.Content != "" {
			emit(domain.TextChunk{Content: choice.Delta.Content})
		}
		for _, tc := range choice.Delta.ToolCalls {
			if tc.Function.Arguments != "" {
				emit(domain.ToolCallDelta{
					Index: tc.Index,
					ID:    tc.ID,
					Name:  tc.Function.Name,
					Delta: tc.Function.Arguments,
				})
			}
		}
		if choice.FinishReason != "" && !d.finishSent {
			d.pendingFinishReason = choice.FinishReason
		}
	}
}

func (d *ChunkDecoder) reportParseError(data string, err error) {
	truncated := data
	if len(truncated) > maxLoggedChunkBytes {
		truncated = truncated[:maxLoggedChunkBytes]
	}
	slog.Warn("failed to parse SSE chunk", "endpoint", d.endpoint, "model", d.model, "error", err, "data", truncated)
	if d.metrics != nil {
		d.metrics.SSEParseErrors.WithLabelValues(d.endpoint, d.model).Inc()
	}
}

// Done signals end of stream: if a finish reason was buffered but never
// flushed by a usage chunk, emit it now; otherwise emit nothing. The
// error finish for a stream cut off by a read error is emitted by
// ParseOpenAIStream, not here.
func (d *ChunkDecoder) Done(emit func(domain.StreamEvent)) {
	if d.finishSent {
		return
	}
	if d.pendingFinishReason != "" {
		emit(domain.FinishEvent{Reason: mapFinishReason(d.pendingFinishReason)})
		d.finishSent = true
		return
	}
}
