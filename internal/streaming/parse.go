package streaming

import (
	"io"
	"strings"

	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/telemetry"
)

// ParseOpenAIStream reads body to completion, decoding OpenAI-wire SSE
// chunks into domain.StreamEvents delivered to emit. It returns once the
// stream's "data: [DONE]" marker is seen, body is exhausted, or a read
// error occurs (in which case a FinishReasonError event is emitted unless
// a finish event already went out). metrics may be nil; endpoint and
// model label the SSE-parse-error counter for malformed chunks.
func ParseOpenAIStream(body io.Reader, metrics *telemetry.Metrics, endpoint, model string, emit func(domain.StreamEvent)) {
	var lines LineBuffer
	decoder := NewChunkDecoder(metrics, endpoint, model)
	buf := make([]byte, 4096)

	for {
		n, err := body.Read(buf)
		if n > 0 {
			for _, line := range lines.Feed(buf[:n]) {
				line = strings.TrimSpace(line)
				if !strings.HasPrefix(line, "data: ") {
					continue
				}
				data := strings.TrimPrefix(line, "data: ")
				if data == "[DONE]" {
					decoder.Done(emit)
					return
				}
				decoder.Decode(data, emit)
			}
		}

		if err != nil {
			if err != io.EOF && !decoder.finishSent {
				emit(domain.FinishEvent{Reason: domain.FinishReasonError})
			} else {
				decoder.Done(emit)
			}
			return
		}
	}
}
