package sender

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"relaybot/internal/forward"
	"relaybot/pkg/logx"
)

const bilibiliAPI = "https://api.vc.bilibili.com"

type BilibiliConfig struct {
	APIURL   string
	SESSDATA string
	BiliJCT  string
}

// Bilibili publishes each chunk as a text dynamic. Media links are appended
// to the last chunk; uploading images is not supported.
type Bilibili struct {
	cfg  BilibiliConfig
	log  logx.Logger
	http *http.Client
}

func NewBilibili(cfg BilibiliConfig, log logx.Logger) *Bilibili {
	if cfg.APIURL == "" {
		cfg.APIURL = bilibiliAPI
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Bilibili{cfg: cfg, log: log.With(logx.String("comp", "sender.bilibili")), http: &http.Client{Timeout: 20 * time.Second}}
}

func (*Bilibili) Platform() string { return forward.PlatformBilibili }

func (b *Bilibili) Send(ctx context.Context, target forward.TargetConfig, msg Message) error {
	sess := cred(target, "sessdata", b.cfg.SESSDATA)
	csrf := cred(target, "bili_jct", b.cfg.BiliJCT)
	if sess == "" || csrf == "" {
		return Permanent(fmt.Errorf("%w: bilibili sessdata/bili_jct", ErrMissingCred))
	}

	parts := append([]string(nil), msg.Chunks...)
	if len(msg.Media) > 0 {
		links := make([]string, 0, len(msg.Media))
		for _, m := range msg.Media {
			links = append(links, m.URL)
		}
		if len(parts) == 0 {
			parts = []string{""}
		}
		parts[len(parts)-1] = strings.TrimSpace(parts[len(parts)-1] + "\n" + strings.Join(links, "\n"))
	}

	endpoint := strings.TrimRight(b.cfg.APIURL, "/") + "/dynamic_svr/v1/dynamic_svr/create"
	// Media ride on the last part, so a failure never follows delivered media.
	for i, text := range parts {
		req, err := newFormRequest(endpoint, url.Values{
			"dynamic_id": {"0"},
			"type":       {"4"},
			"rid":        {"0"},
			"content":    {text},
			"csrf":       {csrf},
			"csrf_token": {csrf},
		})
		if err != nil {
			return Permanent(err)
		}
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: sess})
		req.AddCookie(&http.Cookie{Name: "bili_jct", Value: csrf})

		var out struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		if err := doJSON(ctx, b.http, req, &out); err != nil {
			return Partial(err, false, i)
		}
		switch {
		case out.Code == 0:
		case out.Code == -101 || out.Code == -111:
			return Partial(Permanent(fmt.Errorf("bilibili: auth rejected (%d): %s", out.Code, out.Message)), false, i)
		default:
			return Partial(fmt.Errorf("bilibili: code %d: %s", out.Code, out.Message), false, i)
		}
	}
	return nil
}
