// Package chunk splits text into fixed-size overlapping windows for embedding.
package chunk

import (
	"errors"
	"fmt"
	"strings"
)

// Defaults used by the sync pipeline.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// ErrInvalidWindow is returned when the window would never advance.
var ErrInvalidWindow = errors.New("chunk: size must exceed overlap and overlap must be non-negative")

// Split cuts text into windows of at most maxSize characters. Consecutive
// windows share overlap characters. Lengths are counted in runes, and CRLF / CR
// line endings are normalized to LF first.
//
// The final window is the remainder once it fits in maxSize, so the tail is
// never emitted twice.
func Split(text string, maxSize, overlap int) ([]string, error) {
	if overlap < 0 || maxSize-overlap <= 0 {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrInvalidWindow, maxSize, overlap)
	}
	text = Normalize(text)
	runes := []rune(text)
	if len(runes) == 0 {
		return []string{}, nil
	}

	step := maxSize - overlap
	var chunks []string
	for offset := 0; ; offset += step {
		if offset+maxSize >= len(runes) {
			chunks = append(chunks, string(runes[offset:]))
			break
		}
		chunks = append(chunks, string(runes[offset:offset+maxSize]))
	}
	return chunks, nil
}

// Normalize rewrites CRLF and lone CR line terminators to LF.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	return strings.ReplaceAll(text, "\r", "\n")
}
