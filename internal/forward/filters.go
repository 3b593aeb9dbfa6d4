package forward

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// DefaultFreshness is the time filter window when block_until is empty.
const DefaultFreshness = 30 * time.Minute

type timeFilter struct {
	window time.Duration
}

func newTimeFilter(raw string) (*timeFilter, error) {
	if raw == "" {
		return &timeFilter{window: DefaultFreshness}, nil
	}
	d, ok, err := ParseWindow(raw)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return &timeFilter{window: d}, nil
}

func (*timeFilter) Name() string { return "time_filter" }

func (f *timeFilter) Handle(_ context.Context, fc *Context) (bool, error) {
	if fc.Article == nil {
		return true, nil
	}
	created, ok := fc.Article.Time()
	if !ok {
		return true, nil
	}
	if age := fc.Now.Sub(created); age > f.window {
		fc.Abort(fmt.Sprintf("article is %s old, window %s", age.Truncate(time.Second), f.window))
		return false, nil
	}
	return true, nil
}

type keywordFilter struct {
	accept []*regexp.Regexp
	reject []*regexp.Regexp
}

func newKeywordFilter(accept, reject []string) (*keywordFilter, error) {
	a, err := compileAll("accept_keywords", accept)
	if err != nil {
		return nil, err
	}
	r, err := compileAll("filter_keywords", reject)
	if err != nil {
		return nil, err
	}
	return &keywordFilter{accept: a, reject: r}, nil
}

func compileAll(field string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for i, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", field, i, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func (*keywordFilter) Name() string { return "keyword_filter" }

func (f *keywordFilter) Handle(_ context.Context, fc *Context) (bool, error) {
	texts := []string{fc.Text}
	if orig, ok := fc.Meta[MetaOriginalText].(string); ok && orig != "" {
		texts = append(texts, orig)
	} else if fc.Article != nil {
		texts = append(texts, OriginalText(fc.Article))
	}

	if len(f.accept) > 0 {
		if re := firstMatch(f.accept, texts); re == nil {
			fc.Abort("no accept keyword matched")
			return false, nil
		}
	}
	if re := firstMatch(f.reject, texts); re != nil {
		fc.Abort("filter keyword matched: " + re.String())
		return false, nil
	}
	return true, nil
}

func firstMatch(res []*regexp.Regexp, texts []string) *regexp.Regexp {
	for _, re := range res {
		for _, t := range texts {
			if re.MatchString(t) {
				return re
			}
		}
	}
	return nil
}

type replacer struct {
	rules []compiledReplace
}

type compiledReplace struct {
	re   *regexp.Regexp
	repl string
}

func newReplacer(pairs []replacePair) (*replacer, error) {
	r := &replacer{}
	for i, p := range pairs {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("replace_regex[%d]: %w", i, err)
		}
		r.rules = append(r.rules, compiledReplace{re: re, repl: p.Replacement})
	}
	return r, nil
}

func (*replacer) Name() string { return "text_replace" }

func (r *replacer) Handle(_ context.Context, fc *Context) (bool, error) {
	for _, rule := range r.rules {
		fc.Text = rule.re.ReplaceAllString(fc.Text, rule.repl)
	}
	return true, nil
}
