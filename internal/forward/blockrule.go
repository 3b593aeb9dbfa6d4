package forward

import (
	"context"
	"fmt"
	"time"
)

// DefaultBlockCooldown is the once/once.media window when a rule sets none.
const DefaultBlockCooldown = 6 * time.Hour

type compiledRule struct {
	BlockRule
	window time.Duration
}

type blockRules struct {
	rules    []compiledRule
	cooldown Cooldown
}

func newBlockRules(rules []BlockRule, cd Cooldown) (*blockRules, error) {
	b := &blockRules{cooldown: cd}
	needCache := false
	for i, r := range rules {
		cr := compiledRule{BlockRule: r, window: DefaultBlockCooldown}
		switch r.BlockType {
		case BlockAlways, BlockNone:
		case BlockOnce, BlockOnceMedia:
			needCache = true
			if r.BlockUntil != "" {
				d, ok, err := ParseWindow(r.BlockUntil)
				if err != nil {
					return nil, fmt.Errorf("block_rules[%d].block_until: %w", i, err)
				}
				if ok {
					cr.window = d
				}
			}
		default:
			return nil, fmt.Errorf("block_rules[%d]: unknown block_type %q", i, r.BlockType)
		}
		b.rules = append(b.rules, cr)
	}
	if needCache && b.cooldown == nil {
		b.cooldown = NewMemoryCooldown()
	}
	return b, nil
}

func (*blockRules) Name() string { return "block_rule" }

func (b *blockRules) Handle(ctx context.Context, fc *Context) (bool, error) {
	if fc.Article == nil {
		return true, nil
	}
	rule, ok := b.match(fc)
	if !ok {
		return true, nil
	}
	switch rule.BlockType {
	case BlockNone:
		return true, nil
	case BlockAlways:
		fc.Abort("blocked by rule: always")
		return false, nil
	}

	if rule.BlockType == BlockOnceMedia && !fc.Article.AnyMedia() {
		return true, nil
	}
	key := fc.Target.Platform + "::" + fc.Article.AID
	claimed, err := b.cooldown.Claim(ctx, key, rule.window)
	if err != nil {
		return false, fmt.Errorf("cooldown %s: %w", key, err)
	}
	if !claimed {
		fc.Abort(fmt.Sprintf("blocked by rule: %s within %s", rule.BlockType, rule.window))
		return false, nil
	}
	fc.Meta[MetaCooldownKey] = key
	return true, nil
}

// match returns the first rule whose platform and sub type fit the article.
func (b *blockRules) match(fc *Context) (compiledRule, bool) {
	for _, r := range b.rules {
		if r.Platform != "" && r.Platform != fc.Article.Platform {
			continue
		}
		if r.SubType != "" && r.SubType != fc.Article.Kind {
			continue
		}
		return r, true
	}
	return compiledRule{}, false
}
