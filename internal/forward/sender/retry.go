package sender

import (
	"context"
	"time"

	"relaybot/internal/forward"
	"relaybot/pkg/logx"
)

const (
	DefaultAttempts = 3
	DefaultBackoff  = time.Second
)

type retrying struct {
	Sender
	attempts int
	backoff  time.Duration
	log      logx.Logger
}

// WithRetry retries s with exponential backoff. Permanent errors and
// context cancellation stop early. A retry resumes after whatever a
// PartialError reports as delivered.
func WithRetry(s Sender, attempts int, backoff time.Duration, log logx.Logger) Sender {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if backoff <= 0 {
		backoff = DefaultBackoff
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &retrying{Sender: s, attempts: attempts, backoff: backoff, log: log}
}

func (r *retrying) Send(ctx context.Context, target forward.TargetConfig, msg Message) error {
	var err error
	delay := r.backoff
	for i := 1; i <= r.attempts; i++ {
		err = r.Sender.Send(ctx, target, msg)
		if err == nil {
			return nil
		}
		msg = msg.Rest(err)
		left := r.attempts - i
		r.log.Warn("send failed",
			logx.String("platform", r.Platform()),
			logx.String("target", target.ID),
			logx.Int("attempts_left", left),
			logx.Err(err),
		)
		if left == 0 || IsPermanent(err) {
			break
		}
		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
	return err
}
