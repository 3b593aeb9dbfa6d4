package forward

import (
	"context"
	"fmt"
	"unicode/utf8"
)

const (
	DefaultTextLimit = 1000

	ChunkHead = "[continued from above]\n"
	ChunkTail = "\n[continues below]"
)

var chunkPadding = utf8.RuneCountInString(ChunkHead) + utf8.RuneCountInString(ChunkTail)

// Chunker splits text longer than Limit code points. Every chunk, including
// its separators, fits in Limit.
type Chunker struct {
	Limit int
}

func NewChunker(limit int) (*Chunker, error) {
	if limit == 0 {
		limit = DefaultTextLimit
	}
	if limit <= chunkPadding {
		return nil, fmt.Errorf("text_limit %d must exceed separator padding %d", limit, chunkPadding)
	}
	return &Chunker{Limit: limit}, nil
}

func (*Chunker) Name() string { return "chunk" }

func (c *Chunker) Handle(_ context.Context, fc *Context) (bool, error) {
	fc.Meta[MetaChunks] = c.Split(fc.Text)
	return true, nil
}

// Split returns the decorated chunks of text.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}
	runes := []rune(text)
	if len(runes) <= c.Limit {
		return []string{text}
	}
	budget := c.Limit - chunkPadding

	var pieces []string
	for len(runes) > 0 {
		n := len(runes)
		if n > budget {
			n = breakAt(runes[:budget])
		}
		pieces = append(pieces, string(runes[:n]))
		runes = runes[n:]
	}

	out := make([]string, len(pieces))
	for i, p := range pieces {
		if i > 0 {
			p = ChunkHead + p
		}
		if i < len(pieces)-1 {
			p += ChunkTail
		}
		out[i] = p
	}
	return out
}

// breakAt prefers cutting right after a newline in the second half of window.
func breakAt(window []rune) int {
	for i := len(window) - 1; i >= len(window)/2; i-- {
		if window[i] == '\n' {
			return i + 1
		}
	}
	return len(window)
}

// Unchunk strips separators and joins chunk payloads.
func Unchunk(chunks []string) string {
	var out string
	for i, ch := range chunks {
		if i > 0 {
			ch = ch[len(ChunkHead):]
		}
		if i < len(chunks)-1 {
			ch = ch[:len(ch)-len(ChunkTail)]
		}
		out += ch
	}
	return out
}
