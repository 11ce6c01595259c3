package validate

import (
	"testing"

	"github.com/sp3esu/sentinel/internal/apperr"
)

func TestChatRequest_ValidBody(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`)
	if err := ChatRequest(body); err != nil {
		t.Fatalf("expected valid body to pass, got %v", err)
	}
}

func TestChatRequest_RejectsUnknownField(t *testing.T) {
	body := []byte(`{"messages":[{"role":"user","content":[]}],"tenant_id":"sneaky"}`)
	err := ChatRequest(body)
	if err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
	appErr, ok := apperr.As(err)
	if !ok || appErr.Kind != apperr.KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
}

func TestChatRequest_RejectsMissingMessages(t *testing.T) {
	body := []byte(`{"tier":"simple"}`)
	if err := ChatRequest(body); err == nil {
		t.Fatal("expected missing messages to be rejected")
	}
}

func TestChatRequest_RejectsMalformedJSON(t *testing.T) {
	body := []byte(`{not json`)
	if err := ChatRequest(body); err == nil {
		t.Fatal("expected malformed JSON to be rejected")
	}
}
