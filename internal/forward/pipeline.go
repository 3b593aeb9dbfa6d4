package forward

import (
	"context"
	"fmt"

	"relaybot/pkg/logx"
)

// Middleware is one pipeline stage. Returning false stops the pipeline; the
// stage should set an abort reason on the context first.
type Middleware interface {
	Name() string
	Handle(ctx context.Context, fc *Context) (bool, error)
}

type Pipeline struct {
	stages []Middleware
	log    logx.Logger
}

// NewPipeline builds a pipeline from explicit stages.
func NewPipeline(log logx.Logger, stages ...Middleware) *Pipeline {
	return &Pipeline{stages: stages, log: log}
}

// Build compiles cfg into the standard stage order. Configuration errors
// (bad regex, bad offsets, unknown block types) are returned here.
func Build(cfg PipelineConfig, cooldown Cooldown, log logx.Logger) (*Pipeline, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	var stages []Middleware

	tf, err := newTimeFilter(cfg.BlockUntil)
	if err != nil {
		return nil, fmt.Errorf("block_until: %w", err)
	}
	if tf != nil {
		stages = append(stages, tf)
	}

	if len(cfg.AcceptKeywords) > 0 || len(cfg.FilterKeywords) > 0 {
		kf, err := newKeywordFilter(cfg.AcceptKeywords, cfg.FilterKeywords)
		if err != nil {
			return nil, err
		}
		stages = append(stages, kf)
	}

	if len(cfg.BlockRules) > 0 {
		br, err := newBlockRules(cfg.BlockRules, cooldown)
		if err != nil {
			return nil, err
		}
		stages = append(stages, br)
	}

	pairs, err := parseReplace(cfg.ReplaceRegex)
	if err != nil {
		return nil, err
	}
	if len(pairs) > 0 {
		rp, err := newReplacer(pairs)
		if err != nil {
			return nil, err
		}
		stages = append(stages, rp)
	}

	ch, err := NewChunker(cfg.TextLimit)
	if err != nil {
		return nil, err
	}
	stages = append(stages, ch)

	return NewPipeline(log, stages...), nil
}

// Run threads fc through every stage. It reports false when a stage
// blocked the article; the reason is on fc.AbortReason.
func (p *Pipeline) Run(ctx context.Context, fc *Context) (bool, error) {
	for _, st := range p.stages {
		cont, err := st.Handle(ctx, fc)
		if err != nil {
			return false, fmt.Errorf("%s: %w", st.Name(), err)
		}
		if !cont || fc.Aborted {
			if fc.AbortReason == "" {
				fc.AbortReason = "blocked by " + st.Name()
			}
			fc.Aborted = true
			p.log.Debug("forward blocked", logx.String("stage", st.Name()), logx.String("reason", fc.AbortReason))
			return false, nil
		}
	}
	return true, nil
}

// Stages lists stage names in order.
func (p *Pipeline) Stages() []string {
	out := make([]string, len(p.stages))
	for i, s := range p.stages {
		out[i] = s.Name()
	}
	return out
}
