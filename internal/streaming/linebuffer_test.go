package streaming

import (
	"reflect"
	"strings"
	"testing"
)

func TestEmptyInput(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte(""))
	if len(lines) != 0 {
		t.Errorf("expected no lines, got %v", lines)
	}
	if b.HasIncomplete() {
		t.Error("expected no incomplete data")
	}
}

func TestSingleCompleteLine(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("data: hello\n"))
	if !reflect.DeepEqual(lines, []string{"data: hello"}) {
		t.Errorf("got %v", lines)
	}
	if b.HasIncomplete() {
		t.Error("expected no incomplete data")
	}
}

func TestMultipleCompleteLines(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("data: first\ndata: second\n"))
	if !reflect.DeepEqual(lines, []string{"data: first", "data: second"}) {
		t.Errorf("got %v", lines)
	}
}

func TestIncompleteLineBuffered(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("data: incomp"))
	if len(lines) != 0 {
		t.Errorf("expected no complete lines, got %v", lines)
	}
	if !b.HasIncomplete() {
		t.Error("expected incomplete data")
	}
	if b.Remaining() != "data: incomp" {
		t.Errorf("remaining = %q", b.Remaining())
	}
}

func TestSplitLineAcrossChunks(t *testing.T) {
	var b LineBuffer
	lines1 := b.Feed([]byte(`data: {"content":"hel`))
	if len(lines1) != 0 {
		t.Fatalf("expected no lines yet, got %v", lines1)
	}

	lines2 := b.Feed([]byte("lo\"}\n"))
	if !reflect.DeepEqual(lines2, []string{`data: {"content":"hello"}`}) {
		t.Errorf("got %v", lines2)
	}
	if b.HasIncomplete() {
		t.Error("expected buffer to be drained")
	}
}

func TestLineSplitAtNewlineBoundary(t *testing.T) {
	var b LineBuffer
	lines1 := b.Feed([]byte("data: test"))
	if len(lines1) != 0 {
		t.Fatalf("got %v", lines1)
	}

	lines2 := b.Feed([]byte("\ndata: next\n"))
	if !reflect.DeepEqual(lines2, []string{"data: test", "data: next"}) {
		t.Errorf("got %v", lines2)
	}
}

func TestSSEDoubleNewlineSeparatorSkipped(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("data: first\n\ndata: second\n"))
	if !reflect.DeepEqual(lines, []string{"data: first", "data: second"}) {
		t.Errorf("got %v", lines)
	}
}

func TestRealisticOpenAIStream(t *testing.T) {
	var b LineBuffer

	lines1 := b.Feed([]byte(`data: {"choices":[{"delta":{"content":"Hello"}}]}` + "\n\n"))
	if !reflect.DeepEqual(lines1, []string{`data: {"choices":[{"delta":{"content":"Hello"}}]}`}) {
		t.Errorf("got %v", lines1)
	}

	lines2 := b.Feed([]byte(`data: {"choices":[{"delta":{"con`))
	if len(lines2) != 0 {
		t.Fatalf("got %v", lines2)
	}

	lines3 := b.Feed([]byte(`tent":" world"}}]}` + "\n\n"))
	if !reflect.DeepEqual(lines3, []string{`data: {"choices":[{"delta":{"content":" world"}}]}`}) {
		t.Errorf("got %v", lines3)
	}

	lines4 := b.Feed([]byte("data: [DONE]\n\n"))
	if !reflect.DeepEqual(lines4, []string{"data: [DONE]"}) {
		t.Errorf("got %v", lines4)
	}
}

func TestCarriageReturnHandling(t *testing.T) {
	var b LineBuffer
	// Only \n is a separator; a trailing \r stays part of the line.
	lines := b.Feed([]byte("data: test\r\n"))
	if !reflect.DeepEqual(lines, []string{"data: test\r"}) {
		t.Errorf("got %v", lines)
	}
}

func TestInvalidUTF8Replaced(t *testing.T) {
	var b LineBuffer
	lines := b.Feed([]byte("data: hello \xff world\n"))
	if len(lines) != 1 {
		t.Fatalf("got %v", lines)
	}
	if !strings.Contains(lines[0], "hello") || !strings.Contains(lines[0], "world") {
		t.Errorf("got %q", lines[0])
	}
}
