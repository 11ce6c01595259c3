// Package tokenest estimates prompt token counts using the same BPE
// tokenizer the providers themselves use for OpenAI-family models, so the
// pipeline can make token-budget decisions before a request ever reaches
// an upstream.
package tokenest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/sp3esu/sentinel/internal/domain"
)

// modelEncodings maps a model name (or prefix) to its tiktoken encoding.
var modelEncodings = map[string]string{
	"gpt-4o":      "o200k_base",
	"gpt-4o-mini": "o200k_base",
	"gpt-4-turbo": "cl100k_base",
	"gpt-4":       "cl100k_base",
	"gpt-3.5":     "cl100k_base",
}

const defaultEncoding = "cl100k_base"

// perMessageOverhead and primingOverhead follow the OpenAI chat-format
// token accounting: every message costs 3 tokens of framing, plus 1 more
// if it carries a tool_call_id, and the reply is primed with another 3
// tokens. domain.Message has no name field, so no name overhead is counted.
const (
	perMessageOverhead = 3
	namePresentOverhead = 1
	primingOverhead     = 3
)

var (
	mu       sync.Mutex
	encoders = make(map[string]*tiktoken.Tiktoken)
)

func encodingForModel(model string) string {
	if enc, ok := modelEncodings[model]; ok {
		return enc
	}
	best, bestLen := defaultEncoding, 0
	for prefix, enc := range modelEncodings {
		if strings.HasPrefix(model, prefix) && len(prefix) > bestLen {
			best, bestLen = enc, len(prefix)
		}
	}
	return best
}

// encoderFor lazily builds and caches one *tiktoken.Tiktoken per encoding
// name, shared across every model that uses it.
func encoderFor(encodingName string) (*tiktoken.Tiktoken, error) {
	mu.Lock()
	defer mu.Unlock()

	if enc, ok := encoders[encodingName]; ok {
		return enc, nil
	}
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return nil, fmt.Errorf("tokenest: init encoding %s: %w", encodingName, err)
	}
	encoders[encodingName] = enc
	return enc, nil
}

// CountText returns the token count of a single string under model's
// encoding.
func CountText(model, text string) (int, error) {
	enc, err := encoderFor(encodingForModel(model))
	if err != nil {
		return 0, err
	}
	return len(enc.Encode(text, nil, nil)), nil
}

// CountMessages estimates the total prompt token count for a full chat
// request: per-message overhead plus content and role tokens, plus the
// fixed priming overhead for the assistant's reply.
func CountMessages(model string, messages []domain.Message) (int, error) {
	enc, err := encoderFor(encodingForModel(model))
	if err != nil {
		return 0, err
	}

	total := 0
	for _, msg := range messages {
		total += perMessageOverhead
		total += len(enc.Encode(msg.Role, nil, nil))
		for _, block := range msg.Content {
			if block.Text != "" {
				total += len(enc.Encode(block.Text, nil, nil))
			}
		}
		if msg.ToolCallID != "" {
			total += namePresentOverhead
		}
	}
	total += primingOverhead
	return total, nil
}
