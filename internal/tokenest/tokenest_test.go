package tokenest

import (
	"testing"

	"github.com/sp3esu/sentinel/internal/domain"
)

func TestCountText(t *testing.T) {
	n, err := CountText("gpt-4o", "hello world")
	if err != nil {
		t.Fatal(err)
	}
	if n <= 0 {
		t.Errorf("expected positive token count, got %d", n)
	}
}

func TestCountMessagesIncludesOverhead(t *testing.T) {
	messages := []domain.Message{
		{Role: "user", Content: []domain.ContentBlock{{Type: "text", Text: "hi"}}},
	}

	total, err := CountMessages("gpt-4o", messages)
	if err != nil {
		t.Fatal(err)
	}

	textOnly, err := CountText("gpt-4o", "hi")
	if err != nil {
		t.Fatal(err)
	}

	// total must exceed the raw text token count by at least the fixed
	// per-message + priming overhead.
	if total < textOnly+perMessageOverhead+primingOverhead {
		t.Errorf("total = %d, want >= %d", total, textOnly+perMessageOverhead+primingOverhead)
	}
}

func TestEncodingForModelFallsBackToDefault(t *testing.T) {
	if got := encodingForModel("some-unknown-model"); got != defaultEncoding {
		t.Errorf("encodingForModel(unknown) = %q, want %q", got, defaultEncoding)
	}
}

func TestEncodingForModelPrefixMatch(t *testing.T) {
	if got := encodingForModel("gpt-4o-2024-08-06"); got != "o200k_base" {
		t.Errorf("encodingForModel(gpt-4o-variant) = %q, want o200k_base", got)
	}
}
