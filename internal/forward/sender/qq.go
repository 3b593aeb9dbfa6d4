package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaybot/internal/forward"
	"relaybot/pkg/logx"
)

// QQConfig points at a OneBot v11 HTTP endpoint.
type QQConfig struct {
	URL         string
	AccessToken string
}

// QQ posts group messages through a OneBot HTTP API (send_group_msg).
// Media are inlined as CQ image codes after the first chunk.
type QQ struct {
	cfg  QQConfig
	log  logx.Logger
	http *http.Client
}

func NewQQ(cfg QQConfig, log logx.Logger) *QQ {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &QQ{cfg: cfg, log: log.With(logx.String("comp", "sender.qq")), http: &http.Client{Timeout: 20 * time.Second}}
}

func (*QQ) Platform() string { return forward.PlatformQQ }

type onebotResp struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Msg     string `json:"msg"`
	Wording string `json:"wording"`
}

func (q *QQ) Send(ctx context.Context, target forward.TargetConfig, msg Message) error {
	base := strings.TrimRight(cred(target, "url", q.cfg.URL), "/")
	if base == "" {
		return Permanent(fmt.Errorf("%w: onebot url", ErrMissingCred))
	}
	group, err := strconv.ParseInt(target.ID, 10, 64)
	if err != nil {
		return Permanent(fmt.Errorf("qq: group id %q: %w", target.ID, err))
	}
	token := cred(target, "access_token", q.cfg.AccessToken)

	parts := append([]string(nil), msg.Chunks...)
	if len(msg.Media) > 0 {
		var b strings.Builder
		for _, m := range msg.Media {
			if strings.EqualFold(m.Type, "video") {
				fmt.Fprintf(&b, "[CQ:video,file=%s]", cqEscape(m.URL))
				continue
			}
			fmt.Fprintf(&b, "[CQ:image,file=%s]", cqEscape(m.URL))
		}
		if len(parts) == 0 {
			parts = []string{b.String()}
		} else {
			parts[0] += "\n" + b.String()
		}
	}

	// Media ride on the first part.
	sent := func(i int) (bool, int) { return i > 0 && len(msg.Media) > 0, i }
	for i, text := range parts {
		req, err := newJSONRequest(base+"/send_group_msg", map[string]any{
			"group_id": group,
			"message":  text,
		})
		if err != nil {
			return Permanent(err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
		var out onebotResp
		if err := doJSON(ctx, q.http, req, &out); err != nil {
			media, chunks := sent(i)
			return Partial(err, media, chunks)
		}
		if out.Status == "failed" || out.RetCode != 0 {
			reason := out.Wording
			if reason == "" {
				reason = out.Msg
			}
			media, chunks := sent(i)
			return Partial(errors.New("qq: send_group_msg retcode "+strconv.Itoa(out.RetCode)+": "+reason), media, chunks)
		}
	}
	return nil
}

func cqEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "[", "&#91;", "]", "&#93;", ",", "&#44;")
	return r.Replace(s)
}
