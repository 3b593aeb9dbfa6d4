package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"relaybot/internal/forward"
	"relaybot/internal/model"
	"relaybot/pkg/logx"
)

type TelegramConfig struct {
	Token string
	// APIURL overrides https://api.telegram.org.
	APIURL string
	// PerSecond caps API calls per bot; 0 means 1/s with a burst of 5.
	PerSecond float64
}

// Telegram sends through the Bot API. Bots are created lazily per token so
// targets may carry their own token in credentials["token"].
type Telegram struct {
	cfg  TelegramConfig
	log  logx.Logger
	http *http.Client

	mu   sync.Mutex
	bots map[string]*telegramBot
}

type telegramBot struct {
	bot *tele.Bot
	lim *rate.Limiter
}

type recipient string

func (r recipient) Recipient() string { return string(r) }

func NewTelegram(cfg TelegramConfig, log logx.Logger) *Telegram {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Telegram{
		cfg:  cfg,
		log:  log.With(logx.String("comp", "sender.telegram")),
		http: &http.Client{Timeout: 30 * time.Second},
		bots: map[string]*telegramBot{},
	}
}

func (*Telegram) Platform() string { return forward.PlatformTelegram }

func (t *Telegram) botFor(token string) (*telegramBot, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.bots[token]; ok {
		return b, nil
	}
	bot, err := tele.NewBot(tele.Settings{
		URL:     t.cfg.APIURL,
		Token:   token,
		Client:  t.http,
		Offline: true,
	})
	if err != nil {
		return nil, err
	}
	per := t.cfg.PerSecond
	if per <= 0 {
		per = 1
	}
	b := &telegramBot{bot: bot, lim: rate.NewLimiter(rate.Limit(per), 5)}
	t.bots[token] = b
	return b, nil
}

func (t *Telegram) Send(ctx context.Context, target forward.TargetConfig, msg Message) error {
	token := cred(target, "token", t.cfg.Token)
	if token == "" {
		return Permanent(fmt.Errorf("%w: telegram token", ErrMissingCred))
	}
	if strings.TrimSpace(target.ID) == "" {
		return Permanent(errors.New("telegram: empty chat id"))
	}
	b, err := t.botFor(token)
	if err != nil {
		return Permanent(err)
	}
	to := recipient(target.ID)
	opts := &tele.SendOptions{DisableWebPagePreview: len(msg.Media) > 0}
	if v := cred(target, "thread_id", ""); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil {
			return Permanent(fmt.Errorf("telegram: thread_id %q: %w", v, err))
		}
		opts.ThreadID = id
	}

	if len(msg.Media) > 0 {
		if err := b.lim.Wait(ctx); err != nil {
			return err
		}
		if err := t.sendMedia(b.bot, to, msg.Media, opts); err != nil {
			return classifyTelegram(err)
		}
	}
	mediaSent := len(msg.Media) > 0
	for i, chunk := range msg.Chunks {
		if err := b.lim.Wait(ctx); err != nil {
			return Partial(err, mediaSent, i)
		}
		if _, err := b.bot.Send(to, chunk, opts); err != nil {
			return Partial(classifyTelegram(err), mediaSent, i)
		}
	}
	return nil
}

func (t *Telegram) sendMedia(bot *tele.Bot, to tele.Recipient, media []model.Media, opts *tele.SendOptions) error {
	if len(media) == 1 {
		_, err := bot.Send(to, telegramInput(media[0]), opts)
		return err
	}
	for start := 0; start < len(media); start += 10 {
		end := min(start+10, len(media))
		album := make(tele.Album, 0, end-start)
		for _, m := range media[start:end] {
			album = append(album, telegramInput(m))
		}
		if len(album) == 1 {
			if _, err := bot.Send(to, album[0], opts); err != nil {
				return err
			}
			continue
		}
		if _, err := bot.SendAlbum(to, album, opts); err != nil {
			return err
		}
	}
	return nil
}

func telegramInput(m model.Media) tele.Inputtable {
	f := tele.FromURL(m.URL)
	switch strings.ToLower(m.Type) {
	case "video":
		return &tele.Video{File: f}
	case "gif", "animation":
		return &tele.Animation{File: f}
	default:
		return &tele.Photo{File: f}
	}
}

// classifyTelegram marks client errors as permanent. Known API errors come
// back as *tele.Error, unknown ones only carry the code in the message.
func classifyTelegram(err error) error {
	var te *tele.Error
	if errors.As(err, &te) {
		switch te.Code {
		case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return Permanent(err)
		}
		return err
	}
	msg := err.Error()
	for _, code := range []string{"(400)", "(401)", "(403)", "(404)"} {
		if strings.HasSuffix(msg, code) {
			return Permanent(err)
		}
	}
	return err
}
