// Package sender delivers rendered chunks and media to chat platforms.
//
// One Sender exists per platform, selected from a Registry by the target's
// platform name. Senders are wrapped with WithRetry for bounded retries.
package sender

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"relaybot/internal/forward"
	"relaybot/internal/model"
)

var (
	ErrUnknownPlatform = errors.New("sender: unknown platform")
	ErrMissingCred     = errors.New("sender: missing credential")
)

// Message is the final output of the pipeline for one target.
type Message struct {
	Chunks []string
	Media  []model.Media
}

// FromContext builds a Message from a finished pipeline context.
func FromContext(fc *forward.Context) Message {
	return Message{Chunks: fc.Chunks(), Media: fc.Media}
}

func (m Message) Empty() bool { return len(m.Chunks) == 0 && len(m.Media) == 0 }

type Sender interface {
	Platform() string
	Send(ctx context.Context, target forward.TargetConfig, msg Message) error
}

// PermanentError marks a failure that retrying cannot fix (bad chat id,
// rejected credentials).
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// PartialError reports what reached the target before Err. Retries resume
// after the delivered part.
type PartialError struct {
	MediaSent bool
	Chunks    int
	Err       error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("%v (after %d chunks)", e.Err, e.Chunks)
}
func (e *PartialError) Unwrap() error { return e.Err }

// Partial wraps err with delivery progress. Nothing delivered returns err as is.
func Partial(err error, mediaSent bool, chunks int) error {
	if err == nil || (!mediaSent && chunks == 0) {
		return err
	}
	return &PartialError{MediaSent: mediaSent, Chunks: chunks, Err: err}
}

// Rest is what remains of m after the progress err reports.
func (m Message) Rest(err error) Message {
	var p *PartialError
	if !errors.As(err, &p) {
		return m
	}
	if p.MediaSent {
		m.Media = nil
	}
	if p.Chunks >= len(m.Chunks) {
		m.Chunks = nil
	} else if p.Chunks > 0 {
		m.Chunks = m.Chunks[p.Chunks:]
	}
	return m
}

type Registry struct {
	senders map[string]Sender
}

func NewRegistry(senders ...Sender) *Registry {
	r := &Registry{senders: map[string]Sender{}}
	for _, s := range senders {
		r.Register(s)
	}
	return r
}

// Register replaces any sender already registered for the platform.
func (r *Registry) Register(s Sender) {
	r.senders[strings.ToLower(s.Platform())] = s
}

func (r *Registry) Get(platform string) (Sender, error) {
	s, ok := r.senders[strings.ToLower(platform)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlatform, platform)
	}
	return s, nil
}

func (r *Registry) Platforms() []string {
	out := make([]string, 0, len(r.senders))
	for p := range r.senders {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// cred returns the per-target credential, falling back to def.
func cred(t forward.TargetConfig, key, def string) string {
	if v := strings.TrimSpace(t.Credentials[key]); v != "" {
		return v
	}
	return def
}
