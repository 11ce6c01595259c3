// Package streaming provides SSE line buffering and OpenAI-wire chunk
// parsing shared by every provider's streaming call.
package streaming

import "strings"

// LineBuffer accumulates bytes across chunk boundaries and yields
// complete newline-delimited lines as they become available. Invalid
// UTF-8 is tolerated (replaced), since upstream byte chunks can split in
// the middle of a multi-byte rune.
type LineBuffer struct {
	incomplete strings.Builder
}

// Feed appends bytes to the buffer and returns every complete line found,
// with the trailing newline stripped and blank lines (SSE's \n\n event
// separator) dropped. Partial trailing data is retained for the next Feed.
func (b *LineBuffer) Feed(chunk []byte) []string {
	b.incomplete.WriteString(strings.ToValidUTF8(string(chunk), "�"))

	pending := b.incomplete.String()
	var lines []string

	for {
		idx := strings.IndexByte(pending, '\n')
		if idx < 0 {
			break
		}
		line := pending[:idx]
		pending = pending[idx+1:]
		if line != "" {
			lines = append(lines, line)
		}
	}

	b.incomplete.Reset()
	b.incomplete.WriteString(pending)
	return lines
}

// HasIncomplete reports whether unterminated data remains buffered,
// useful for detecting a truncated stream at EOF.
func (b *LineBuffer) HasIncomplete() bool {
	return b.incomplete.Len() > 0
}

// Remaining returns any unterminated trailing data.
func (b *LineBuffer) Remaining() string {
	return b.incomplete.String()
}
