package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sp3esu/sentinel/internal/domain"
)

func textContent(text string) []domain.ContentBlock {
	return []domain.ContentBlock{{Type: "text", Text: text}}
}

func TestOpenAIClient_Chat(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer test-key" {
			t.Fatalf("missing bearer auth header")
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["stream"] != false {
			t.Fatalf("expected stream=false, got %v", body["stream"])
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": "hi there"}, "finish_reason": "stop"},
			},
			"usage": map[string]any{"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7},
		})
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key", server.URL, time.Second, nil)
	resp, err := client.Chat(context.Background(), "gpt-4o", domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: textContent("hello")}},
	})
	if err != nil {
		t.Fatalf("Chat: %v", err)
	}
	if resp.Content != "hi there" || resp.FinishReason != domain.FinishReasonStop {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Usage.TotalTokens != 7 {
		t.Fatalf("unexpected usage: %+v", resp.Usage)
	}
}

func TestOpenAIClient_ChatStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(
			"data: {\"choices\":[{\"delta\":{\"content\":\"hi\"},\"finish_reason\":null}]}\n\n" +
				"data: {\"choices\":[{\"delta\":{},\"finish_reason\":\"stop\"}],\"usage\":{\"prompt_tokens\":1,\"completion_tokens\":1,\"total_tokens\":2}}\n\n" +
				"data: [DONE]\n\n",
		))
	}))
	defer server.Close()

	client := NewOpenAIClient("test-key", server.URL, time.Second, nil)
	events, err := client.ChatStream(context.Background(), "gpt-4o", domain.ChatRequest{
		Messages: []domain.Message{{Role: "user", Content: textContent("hello")}},
	})
	if err != nil {
		t.Fatalf("ChatStream: %v", err)
	}

	var sawText, sawFinish bool
	for e := range events {
		switch v := e.(type) {
		case domain.TextChunk:
			if v.Content == "hi" {
				sawText = true
			}
		case domain.FinishEvent:
			if v.Reason == domain.FinishReasonStop {
				sawFinish = true
			}
		}
	}
	if !sawText || !sawFinish {
		t.Fatalf("missing expected stream events: text=%v finish=%v", sawText, sawFinish)
	}
}
