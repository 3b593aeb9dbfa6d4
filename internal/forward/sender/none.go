package sender

import (
	"context"

	"relaybot/internal/forward"
	"relaybot/pkg/logx"
)

// None logs instead of sending. It backs the "none" platform, used for dry
// runs and for recording articles as forwarded without delivering them.
type None struct {
	log logx.Logger
}

func NewNone(log logx.Logger) *None {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &None{log: log.With(logx.String("comp", "sender.none"))}
}

func (*None) Platform() string { return forward.PlatformNone }

func (n *None) Send(_ context.Context, target forward.TargetConfig, msg Message) error {
	n.log.Debug("dry send",
		logx.String("target", target.ID),
		logx.Int("chunks", len(msg.Chunks)),
		logx.Int("media", len(msg.Media)),
	)
	return nil
}
