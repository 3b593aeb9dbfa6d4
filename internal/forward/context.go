package forward

import (
	"time"

	"relaybot/internal/model"
)

// Meta keys shared between stages and the sender.
const (
	MetaChunks       = "chunks"
	MetaOriginalText = "original_text"
	MetaCooldownKey  = "cooldown_key"
)

// Context is the mutable state of one (article, target) attempt.
type Context struct {
	Text    string
	Article *model.Article
	Media   []model.Media
	Meta    map[string]any
	Target  TargetConfig
	Now     time.Time

	Aborted     bool
	AbortReason string
}

func NewContext(text string, article *model.Article, target TargetConfig) *Context {
	return &Context{
		Text:    text,
		Article: article,
		Meta:    map[string]any{},
		Target:  target,
		Now:     time.Now(),
	}
}

// Abort stops the pipeline with reason.
func (c *Context) Abort(reason string) {
	c.Aborted = true
	c.AbortReason = reason
}

// Chunks returns the chunk list, or the whole text when no chunking ran.
func (c *Context) Chunks() []string {
	if v, ok := c.Meta[MetaChunks].([]string); ok && len(v) > 0 {
		return v
	}
	if c.Text == "" {
		return nil
	}
	return []string{c.Text}
}
