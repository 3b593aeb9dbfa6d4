package forward

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Target platforms.
const (
	PlatformTelegram = "telegram"
	PlatformBilibili = "bilibili"
	PlatformQQ       = "qq"
	PlatformNone     = "none"
)

// ForwarderConfig is the forwarding part of a job.
type ForwarderConfig struct {
	Targets    []TargetConfig `json:"targets"`
	MediaOpts  MediaOpts      `json:"media_opts"`
	RenderMode string         `json:"render_mode,omitempty"`
}

type MediaOpts struct {
	Send bool `json:"send"`
	Max  int  `json:"max,omitempty"`
}

// TargetConfig is one outbound destination.
type TargetConfig struct {
	Platform    string            `json:"platform"`
	ID          string            `json:"id"`
	Credentials map[string]string `json:"credentials,omitempty"`
	Pipeline    PipelineConfig    `json:"pipeline_config"`
}

// Key identifies the target in forward records.
func (t TargetConfig) Key() string { return t.Platform + ":" + t.ID }

// PipelineConfig toggles and tunes the middlewares.
type PipelineConfig struct {
	// BlockUntil is the freshness window of the time filter ("30m", "2h",
	// "1d"). "none" or "off" disables the filter; empty means 30m.
	BlockUntil     string      `json:"block_until,omitempty"`
	AcceptKeywords []string    `json:"accept_keywords,omitempty"`
	FilterKeywords []string    `json:"filter_keywords,omitempty"`
	BlockRules     []BlockRule `json:"block_rules,omitempty"`
	// ReplaceRegex is a pattern, a [pattern, replacement] pair, or a list of
	// pairs applied in order.
	ReplaceRegex json.RawMessage `json:"replace_regex,omitempty"`
	TextLimit    int             `json:"text_limit,omitempty"`
}

// BlockRule limits deliveries of articles matching Platform and SubType
// (empty matches any).
type BlockRule struct {
	Platform  string `json:"platform,omitempty"`
	SubType   string `json:"sub_type,omitempty"`
	BlockType string `json:"block_type"`
	// BlockUntil is the cooldown window of once/once.media rules.
	BlockUntil string `json:"block_until,omitempty"`
}

// Block types.
const (
	BlockAlways    = "always"
	BlockNone      = "none"
	BlockOnce      = "once"
	BlockOnceMedia = "once.media"
)

// Validate checks the target shape; pipeline contents are validated by Build.
func (t TargetConfig) Validate() error {
	switch t.Platform {
	case PlatformTelegram, PlatformBilibili, PlatformQQ, PlatformNone:
	default:
		return fmt.Errorf("target %q: unknown platform %q", t.ID, t.Platform)
	}
	if strings.TrimSpace(t.ID) == "" {
		return fmt.Errorf("%s target: id required", t.Platform)
	}
	return nil
}

type replacePair struct {
	Pattern     string
	Replacement string
}

func parseReplace(raw json.RawMessage) ([]replacePair, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []replacePair{{Pattern: single}}, nil
	}
	var pair []string
	if err := json.Unmarshal(raw, &pair); err == nil {
		if len(pair) != 2 {
			return nil, fmt.Errorf("replace_regex pair needs 2 elements, got %d", len(pair))
		}
		return []replacePair{{pair[0], pair[1]}}, nil
	}
	var pairs [][]string
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("replace_regex: expected string, pair or list of pairs")
	}
	out := make([]replacePair, 0, len(pairs))
	for i, p := range pairs {
		if len(p) != 2 {
			return nil, fmt.Errorf("replace_regex[%d] needs 2 elements, got %d", i, len(p))
		}
		out = append(out, replacePair{p[0], p[1]})
	}
	return out, nil
}
