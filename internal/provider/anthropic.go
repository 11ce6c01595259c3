package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/streaming"
	"github.com/sp3esu/sentinel/internal/telemetry"
)

const anthropicAPIVersion = "2023-06-01"

// AnthropicClient talks to Anthropic's Messages API.
type AnthropicClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    *telemetry.Metrics
}

// NewAnthropicClient constructs an AnthropicClient. metrics may be nil.
func NewAnthropicClient(apiKey string, timeout time.Duration, metrics *telemetry.Metrics) *AnthropicClient {
	return &AnthropicClient{
		apiKey:     apiKey,
		baseURL:    "https://api.anthropic.com/v1",
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
	}
}

func (c *AnthropicClient) Name() string { return "anthropic" }

// validateAlternation enforces Anthropic's strict turn-taking requirement
// on the non-system messages: there must be at least one, the first must
// be "user", and roles must strictly alternate user/assistant thereafter
// (a "tool" message doesn't toggle the expectation). Mirrors
// original_source/src/native/translate/anthropic.rs's
// validate_anthropic_alternation (NoUserMessage/FirstMustBeUser/MustAlternate).
func validateAlternation(messages []domain.Message) error {
	nonSystem := make([]domain.Message, 0, len(messages))
	for _, m := range messages {
		if m.Role != "system" {
			nonSystem = append(nonSystem, m)
		}
	}

	if len(nonSystem) == 0 {
		return apperr.BadRequest("anthropic request has no user message")
	}
	if nonSystem[0].Role != "user" {
		return apperr.BadRequest("anthropic request: first non-system message must be from the user")
	}

	expectUser := true
	for _, m := range nonSystem {
		isUser := m.Role == "user"
		if expectUser != isUser && m.Role != "tool" {
			return apperr.BadRequest("anthropic request: messages must strictly alternate between user and assistant")
		}
		if m.Role != "tool" {
			expectUser = !expectUser
		}
	}
	return nil
}

// buildRequest translates a domain.ChatRequest into Anthropic's wire
// shape. Anthropic separates leading "system" messages from the turn
// history, so every leading system-role message is concatenated (joined
// with "\n") into the top-level "system" field, and the remaining
// messages must pass validateAlternation before the request is issued.
func (c *AnthropicClient) buildRequest(model string, req domain.ChatRequest, stream bool) (map[string]any, error) {
	if err := validateAlternation(req.Messages); err != nil {
		return nil, err
	}

	var systemParts []string
	messages := make([]map[string]any, 0, len(req.Messages))

	for _, m := range req.Messages {
		if m.Role == "system" {
			var text strings.Builder
			for _, blk := range m.Content {
				text.WriteString(blk.Text)
			}
			systemParts = append(systemParts, text.String())
			continue
		}

		content := make([]map[string]any, 0, len(m.Content))
		for _, blk := range m.Content {
			switch blk.Type {
			case "image":
				content = append(content, map[string]any{
					"type": "image",
					"source": map[string]any{
						"type":       "base64",
						"media_type": blk.MediaType,
						"data":       blk.ImageURL,
					},
				})
			case "tool_result":
				if blk.ToolResult != nil {
					var text strings.Builder
					for _, rb := range blk.ToolResult.Result {
						text.WriteString(rb.Text)
					}
					content = append(content, map[string]any{
						"type":        "tool_result",
						"tool_use_id": blk.ToolResult.ToolCallID,
						"content":     text.String(),
						"is_error":    blk.ToolResult.IsError,
					})
				}
			default:
				content = append(content, map[string]any{"type": "text", "text": blk.Text})
			}
		}
		for _, tc := range m.ToolCalls {
			content = append(content, map[string]any{
				"type":  "tool_use",
				"id":    tc.ID,
				"name":  tc.Function.Name,
				"input": tc.Function.Arguments,
			})
		}

		messages = append(messages, map[string]any{"role": m.Role, "content": content})
	}

	maxTokens := int32(4096)
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}

	wireReq := map[string]any{
		"model":      model,
		"messages":   messages,
		"max_tokens": maxTokens,
		"stream":     stream,
	}
	if len(systemParts) > 0 {
		wireReq["system"] = strings.Join(systemParts, "\n")
	}
	if req.Temperature != nil {
		wireReq["temperature"] = *req.Temperature
	}
	if req.TopP != nil {
		wireReq["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		wireReq["stop_sequences"] = req.Stop
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"name":         t.Function.Name,
				"description":  t.Function.Description,
				"input_schema": t.Function.Parameters,
			}
		}
		wireReq["tools"] = tools
	}
	for k, v := range req.AdditionalParams {
		wireReq[k] = v
	}
	return wireReq, nil
}

func (c *AnthropicClient) doRequest(ctx context.Context, body map[string]any) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Internal("encoding anthropic request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages", bytes.NewReader(buf))
	if err != nil {
		return nil, apperr.Internal("building anthropic request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicAPIVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.UpstreamError("anthropic request failed", err)
	}
	return resp, nil
}

// Chat performs a non-streaming message completion.
func (c *AnthropicClient) Chat(ctx context.Context, model string, req domain.ChatRequest) (domain.ChatResponse, error) {
	wireReq, err := c.buildRequest(model, req, false)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	resp, err := c.doRequest(ctx, wireReq)
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.ChatResponse{}, apperr.UpstreamError(fmt.Sprintf("anthropic error %d: %s", resp.StatusCode, string(body)), nil)
	}

	var wire struct {
		Content []struct {
			Type  string `json:"type"`
			Text  string `json:"text"`
			ID    string `json:"id"`
			Name  string `json:"name"`
			Input map[string]any `json:"input"`
		} `json:"content"`
		StopReason string `json:"stop_reason"`
		Usage      struct {
			InputTokens  int64 `json:"input_tokens"`
			OutputTokens int64 `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return domain.ChatResponse{}, apperr.UpstreamError("failed to parse anthropic response", err)
	}

	var text strings.Builder
	var toolCalls []domain.ToolCall
	for _, blk := range wire.Content {
		switch blk.Type {
		case "text":
			text.WriteString(blk.Text)
		case "tool_use":
			toolCalls = append(toolCalls, domain.ToolCall{
				ID:   blk.ID,
				Type: "function",
				Function: domain.FunctionCall{
					Name:      blk.Name,
					Arguments: blk.Input,
				},
			})
		}
	}

	return domain.ChatResponse{
		Content:      text.String(),
		ToolCalls:    toolCalls,
		Model:        model,
		Provider:     c.Name(),
		FinishReason: mapAnthropicFinish(wire.StopReason),
		Usage: &domain.UsageEvent{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
			TotalTokens:      wire.Usage.InputTokens + wire.Usage.OutputTokens,
		},
	}, nil
}

// ChatStream starts a streaming message completion.
func (c *AnthropicClient) ChatStream(ctx context.Context, model string, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	wireReq, err := c.buildRequest(model, req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, wireReq)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.UpstreamError(fmt.Sprintf("anthropic error %d: %s", resp.StatusCode, string(body)), nil)
	}

	events := make(chan domain.StreamEvent, 64)
	go func() {
		defer resp.Body.Close()
		defer close(events)
		streaming.ParseAnthropicStream(resp.Body, c.metrics, "messages", model, func(e domain.StreamEvent) { events <- e })
	}()
	return events, nil
}

// ListModels returns Anthropic's known model catalog; Anthropic exposes
// no models-list endpoint.
func (c *AnthropicClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	return []domain.ModelInfo{
		{ID: "claude-3-5-sonnet-20241022", Provider: c.Name(), ContextLimit: 200000, OutputLimit: 8192},
		{ID: "claude-3-5-haiku-20241022", Provider: c.Name(), ContextLimit: 200000, OutputLimit: 8192},
		{ID: "claude-3-opus-20240229", Provider: c.Name(), ContextLimit: 200000, OutputLimit: 4096},
	}, nil
}

func mapAnthropicFinish(raw string) domain.FinishReason {
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
