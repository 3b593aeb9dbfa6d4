// Package translate wraps translation providers behind one capability and
// owns the retry contract: a bounded number of attempts, then a fixed
// sentinel string instead of an error.
package translate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"relaybot/pkg/logx"
)

const (
	// Unavailable replaces a translation that failed every attempt.
	Unavailable = "[translation unavailable]"

	DefaultAttempts = 3
)

var ErrUnknownProvider = errors.New("translate: unknown provider")

// Config is the translator block of a storage job or the config file.
type Config struct {
	Provider string            `json:"provider"`
	APIKey   string            `json:"api_key,omitempty"`
	Options  map[string]string `json:"options,omitempty"`
}

type Translator interface {
	Name() string
	Translate(ctx context.Context, text string) (string, error)
}

// Factory builds a provider from its config.
type Factory func(cfg Config) (Translator, error)

var (
	regMu    sync.RWMutex
	registry = map[string]Factory{
		"none":           func(Config) (Translator, error) { return None{}, nil },
		"libretranslate": newLibre,
	}
)

// Register adds or replaces a provider factory.
func Register(name string, f Factory) {
	regMu.Lock()
	registry[strings.ToLower(name)] = f
	regMu.Unlock()
}

func Providers() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(registry))
	for k := range registry {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New builds the translator for cfg.Provider; empty selects "none".
func New(cfg Config) (Translator, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	if name == "" {
		name = "none"
	}
	regMu.RLock()
	f, ok := registry[name]
	regMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
	return f(cfg)
}

// None leaves text untranslated.
type None struct{}

func (None) Name() string { return "none" }

func (None) Translate(_ context.Context, text string) (string, error) { return text, nil }

// Retrier applies the retry contract to a provider.
type Retrier struct {
	t        Translator
	attempts int
	backoff  time.Duration
	log      logx.Logger
}

func WithRetry(t Translator, attempts int, backoff time.Duration, log logx.Logger) *Retrier {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Retrier{t: t, attempts: attempts, backoff: backoff, log: log}
}

func (r *Retrier) Name() string { return r.t.Name() }

// Translate never fails: after the last attempt it returns Unavailable.
// Blank input is returned as is without calling the provider.
func (r *Retrier) Translate(ctx context.Context, text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	delay := r.backoff
	for i := 1; i <= r.attempts; i++ {
		out, err := r.t.Translate(ctx, text)
		if err == nil {
			return out
		}
		r.log.Warn("translate failed",
			logx.String("provider", r.t.Name()),
			logx.Int("attempts_left", r.attempts-i),
			logx.Err(err),
		)
		if i == r.attempts || ctx.Err() != nil {
			break
		}
		if delay > 0 {
			select {
			case <-ctx.Done():
				return Unavailable
			case <-time.After(delay):
			}
			delay *= 2
		}
	}
	return Unavailable
}
