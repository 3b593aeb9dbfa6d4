package forward

import (
	"fmt"
	"strings"
	"time"

	"relaybot/internal/model"
)

// Render modes.
const (
	RenderText        = "text"
	RenderImage       = "img"
	RenderImageText   = "img-with-text"
	translationHeader = "translated by "
)

var kindVerb = map[string]string{
	"tweet":   "posted",
	"retweet": "reposted",
	"quote":   "quoted",
	"reply":   "replied",
}

// Text renders a and its ancestors as plain text, newest first.
func Text(a *model.Article, loc *time.Location) string {
	if a == nil {
		return ""
	}
	if loc == nil {
		loc = time.Local
	}
	chain, err := a.Chain(model.MaxChainDepth)
	if err != nil {
		chain = []*model.Article{a}
	}
	var b strings.Builder
	for i, cur := range chain {
		if i > 0 {
			b.WriteString("\n\n")
			b.WriteString(strings.Repeat("> ", min(i, 3)))
			b.WriteString("---\n")
		}
		renderOne(&b, cur, loc)
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderOne(b *strings.Builder, a *model.Article, loc *time.Location) {
	who := a.Username
	if who == "" {
		who = a.UID
	}
	verb := kindVerb[a.Kind]
	if verb == "" {
		verb = "posted"
	}
	if who != "" {
		fmt.Fprintf(b, "%s %s", who, verb)
	} else {
		b.WriteString(strings.ToUpper(verb[:1]) + verb[1:])
	}
	if t, ok := a.Time(); ok {
		fmt.Fprintf(b, " at %s", t.In(loc).Format("2006-01-02 15:04"))
	}
	b.WriteString("\n")

	if a.Content != "" {
		b.WriteString(a.Content)
		b.WriteString("\n")
	}
	if a.Translation != "" && a.Translation != a.Content {
		b.WriteString("\n")
		if a.TranslatedBy != "" {
			b.WriteString("[" + translationHeader + a.TranslatedBy + "]\n")
		}
		b.WriteString(a.Translation)
		b.WriteString("\n")
	}
	if e := a.Extra; e != nil {
		b.WriteString("\n")
		if e.Title != "" {
			b.WriteString(e.Title + "\n")
		}
		switch {
		case e.Translation != "":
			b.WriteString(e.Translation + "\n")
		case e.Content != "":
			b.WriteString(e.Content + "\n")
		}
		if e.URL != "" {
			b.WriteString(e.URL + "\n")
		}
	}
	if a.URL != "" {
		b.WriteString(a.URL + "\n")
	}
}

// OriginalText is the untranslated content of a and its ancestors.
func OriginalText(a *model.Article) string {
	chain, err := a.Chain(model.MaxChainDepth)
	if err != nil {
		return a.Content
	}
	parts := make([]string, 0, len(chain))
	for _, cur := range chain {
		if cur.Content != "" {
			parts = append(parts, cur.Content)
		}
		if cur.Extra != nil && cur.Extra.Content != "" {
			parts = append(parts, cur.Extra.Content)
		}
	}
	return strings.Join(parts, "\n")
}

// CollectMedia returns media of a and its ancestors, at most max when max > 0.
func CollectMedia(a *model.Article, opts MediaOpts) []model.Media {
	if a == nil || !opts.Send {
		return nil
	}
	var out []model.Media
	for cur, n := a, 0; cur != nil && n < model.MaxChainDepth; cur, n = cur.Ref, n+1 {
		for _, m := range cur.Media {
			if opts.Max > 0 && len(out) >= opts.Max {
				return out
			}
			out = append(out, m)
		}
	}
	return out
}

// Prepare renders a for target and returns a context ready for a pipeline.
func Prepare(a *model.Article, target TargetConfig, cfg ForwarderConfig, loc *time.Location, now time.Time) *Context {
	fc := NewContext(Text(a, loc), a, target)
	fc.Now = now
	fc.Media = CollectMedia(a, cfg.MediaOpts)
	fc.Meta[MetaOriginalText] = OriginalText(a)
	return fc
}
