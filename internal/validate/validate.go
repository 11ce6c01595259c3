// Package validate enforces deny-unknown-fields request validation
// ahead of JSON decoding: a caller-supplied field the schema doesn't
// recognize is rejected before it can silently no-op inside the
// canonical struct.
package validate

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sp3esu/sentinel/internal/apperr"
)

// chatRequestSchema mirrors domain.ChatRequest's accepted JSON shape.
// AdditionalParams and RequestID are deliberately absent: the former is
// populated only via AdditionalProperties passthrough inside the
// allowed shape, the latter is assigned by the pipeline and never
// accepted from a caller.
var chatRequestSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"messages"},
	"properties": map[string]any{
		"tier":            map[string]any{"type": "string"},
		"messages":        map[string]any{"type": "array", "minItems": 1, "items": messageSchema},
		"temperature":     map[string]any{"type": "number"},
		"max_tokens":      map[string]any{"type": "integer"},
		"top_p":           map[string]any{"type": "number"},
		"stop":            map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"stream":          map[string]any{"type": "boolean"},
		"conversation_id": map[string]any{"type": "string"},
		"tools":           map[string]any{"type": "array", "items": toolSchema},
		"tool_choice":     map[string]any{"type": "object"},
	},
}

var messageSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"role"},
	"properties": map[string]any{
		"role":         map[string]any{"type": "string"},
		"content":      map[string]any{},
		"tool_calls":   map[string]any{"type": "array"},
		"tool_call_id": map[string]any{"type": "string"},
	},
}

var toolSchema = map[string]any{
	"type":                 "object",
	"additionalProperties": false,
	"required":             []string{"type", "function"},
	"properties": map[string]any{
		"type":     map[string]any{"type": "string"},
		"function": map[string]any{"type": "object"},
	},
}

// ChatRequest validates a raw chat request body against the schema,
// rejecting any field the schema doesn't recognize. Call this before
// json.Unmarshal into domain.ChatRequest.
func ChatRequest(body []byte) error {
	return validateAgainst(chatRequestSchema, body)
}

func validateAgainst(schema map[string]any, body []byte) error {
	result, err := gojsonschema.Validate(
		gojsonschema.NewGoLoader(schema),
		gojsonschema.NewBytesLoader(body),
	)
	if err != nil {
		return apperr.InvalidJSON("malformed request body: " + err.Error())
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return apperr.WithDetails(apperr.KindBadRequest, "request validation failed", map[string]any{
			"errors": strings.Join(msgs, "; "),
		})
	}
	return nil
}
