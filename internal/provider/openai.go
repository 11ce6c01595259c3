package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sp3esu/sentinel/internal/apperr"
	"github.com/sp3esu/sentinel/internal/domain"
	"github.com/sp3esu/sentinel/internal/streaming"
	"github.com/sp3esu/sentinel/internal/telemetry"
)

// OpenAIClient talks to the OpenAI chat-completions API and any
// OpenAI-wire-compatible endpoint (self-hosted gateways, Azure OpenAI
// under a compatible base URL, etc).
type OpenAIClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	metrics    *telemetry.Metrics
}

// NewOpenAIClient constructs an OpenAIClient. baseURL defaults to the
// public OpenAI API when empty. metrics may be nil.
func NewOpenAIClient(apiKey, baseURL string, timeout time.Duration, metrics *telemetry.Metrics) *OpenAIClient {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	return &OpenAIClient{
		apiKey:     apiKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		metrics:    metrics,
	}
}

func (c *OpenAIClient) Name() string { return "openai" }

func (c *OpenAIClient) buildRequest(model string, req domain.ChatRequest, stream bool) map[string]any {
	messages := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		wireMsg := map[string]any{"role": m.Role}

		if len(m.Content) == 1 && m.Content[0].Type == "text" && len(m.ToolCalls) == 0 {
			wireMsg["content"] = m.Content[0].Text
		} else if len(m.Content) > 0 {
			parts := make([]map[string]any, 0, len(m.Content))
			for _, c := range m.Content {
				switch c.Type {
				case "image":
					parts = append(parts, map[string]any{
						"type":      "image_url",
						"image_url": map[string]any{"url": c.ImageURL},
					})
				default:
					parts = append(parts, map[string]any{"type": "text", "text": c.Text})
				}
			}
			wireMsg["content"] = parts
		}

		if m.ToolCallID != "" {
			wireMsg["tool_call_id"] = m.ToolCallID
		}
		if len(m.ToolCalls) > 0 {
			calls := make([]map[string]any, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				args, _ := json.Marshal(tc.Function.Arguments)
				calls[i] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]any{
						"name":      tc.Function.Name,
						"arguments": string(args),
					},
				}
			}
			wireMsg["tool_calls"] = calls
		}

		messages = append(messages, wireMsg)
	}

	wireReq := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   stream,
	}
	if req.Temperature != nil {
		wireReq["temperature"] = *req.Temperature
	}
	if req.MaxTokens != nil {
		wireReq["max_tokens"] = *req.MaxTokens
	}
	if req.TopP != nil {
		wireReq["top_p"] = *req.TopP
	}
	if len(req.Stop) > 0 {
		wireReq["stop"] = req.Stop
	}
	if len(req.Tools) > 0 {
		tools := make([]map[string]any, len(req.Tools))
		for i, t := range req.Tools {
			tools[i] = map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        t.Function.Name,
					"description": t.Function.Description,
					"parameters":  t.Function.Parameters,
				},
			}
		}
		wireReq["tools"] = tools
	}
	if req.ToolChoice != nil {
		wireReq["tool_choice"] = req.ToolChoice.Mode
	}
	if stream {
		wireReq["stream_options"] = map[string]any{"include_usage": true}
	}
	for k, v := range req.AdditionalParams {
		wireReq[k] = v
	}
	return wireReq
}

func (c *OpenAIClient) doRequest(ctx context.Context, path string, body map[string]any) (*http.Response, error) {
	buf, err := json.Marshal(body)
	if err != nil {
		return nil, apperr.Internal("encoding openai request", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return nil, apperr.Internal("building openai request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.UpstreamError("openai request failed", err)
	}
	return resp, nil
}

// Chat performs a non-streaming chat completion.
func (c *OpenAIClient) Chat(ctx context.Context, model string, req domain.ChatRequest) (domain.ChatResponse, error) {
	resp, err := c.doRequest(ctx, "/chat/completions", c.buildRequest(model, req, false))
	if err != nil {
		return domain.ChatResponse{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return domain.ChatResponse{}, apperr.UpstreamError(fmt.Sprintf("openai error %d: %s", resp.StatusCode, string(body)), nil)
	}

	var wire struct {
		Choices []struct {
			Message struct {
				Content   string `json:"content"`
				ToolCalls []struct {
					ID       string `json:"id"`
					Type     string `json:"type"`
					Function struct {
						Name      string `json:"name"`
						Arguments string `json:"arguments"`
					} `json:"function"`
				} `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64 `json:"prompt_tokens"`
			CompletionTokens int64 `json:"completion_tokens"`
			TotalTokens      int64 `json:"total_tokens"`
		} `json:"usage"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return domain.ChatResponse{}, apperr.UpstreamError("failed to parse openai response", err)
	}

	out := domain.ChatResponse{
		Model:    model,
		Provider: c.Name(),
		Usage: &domain.UsageEvent{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	if len(wire.Choices) > 0 {
		choice := wire.Choices[0]
		out.Content = choice.Message.Content
		out.FinishReason = mapFinishReason(choice.FinishReason)
		for _, tc := range choice.Message.ToolCalls {
			var args map[string]any
			_ = json.Unmarshal([]byte(tc.Function.Arguments), &args)
			out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
				ID:   tc.ID,
				Type: tc.Type,
				Function: domain.FunctionCall{
					Name:      tc.Function.Name,
					Arguments: args,
				},
			})
		}
	}
	return out, nil
}

// ChatStream starts a streaming chat completion, decoding SSE via
// internal/streaming.
func (c *OpenAIClient) ChatStream(ctx context.Context, model string, req domain.ChatRequest) (<-chan domain.StreamEvent, error) {
	resp, err := c.doRequest(ctx, "/chat/completions", c.buildRequest(model, req, true))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.UpstreamError(fmt.Sprintf("openai error %d: %s", resp.StatusCode, string(body)), nil)
	}

	events := make(chan domain.StreamEvent, 64)
	go func() {
		defer resp.Body.Close()
		defer close(events)
		streaming.ParseOpenAIStream(resp.Body, c.metrics, "chat/completions", model, func(e domain.StreamEvent) { events <- e })
	}()
	return events, nil
}

// ListModels lists chat-capable models available to this API key.
func (c *OpenAIClient) ListModels(ctx context.Context) ([]domain.ModelInfo, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, apperr.Internal("building openai models request", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, apperr.UpstreamError("openai models request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, apperr.UpstreamError(fmt.Sprintf("openai error %d: %s", resp.StatusCode, string(body)), nil)
	}

	var wire struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, apperr.UpstreamError("failed to parse openai models response", err)
	}

	models := make([]domain.ModelInfo, 0, len(wire.Data))
	for _, m := range wire.Data {
		models = append(models, domain.ModelInfo{ID: m.ID, Provider: c.Name()})
	}
	return models, nil
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
