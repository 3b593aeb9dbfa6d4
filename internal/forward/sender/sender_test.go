package sender

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/internal/forward"
	"relaybot/internal/model"
	"relaybot/pkg/logx"
)

type call struct {
	Path   string
	Body   map[string]any
	Form   url.Values
	Header http.Header
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) add(c call) {
	r.mu.Lock()
	r.calls = append(r.calls, c)
	r.mu.Unlock()
}

func (r *recorder) all() []call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]call(nil), r.calls...)
}

func jsonServer(t *testing.T, rec *recorder, respond func(method string) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := call{Path: r.URL.Path, Header: r.Header.Clone()}
		if r.Header.Get("Content-Type") == "application/x-www-form-urlencoded" {
			_ = r.ParseForm()
			c.Form = r.PostForm
		} else {
			raw, _ := io.ReadAll(r.Body)
			_ = json.Unmarshal(raw, &c.Body)
		}
		rec.add(c)
		code, body := respond(path.Base(r.URL.Path))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTelegramSendsMediaThenChunks(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	srv := jsonServer(t, rec, func(method string) (int, string) {
		if method == "sendMediaGroup" {
			return 200, `{"ok":true,"result":[{"message_id":1},{"message_id":2}]}`
		}
		return 200, `{"ok":true,"result":{"message_id":3,"chat":{"id":-100}}}`
	})

	s := NewTelegram(TelegramConfig{Token: "T", APIURL: srv.URL, PerSecond: 100}, logx.Nop())
	err := s.Send(context.Background(), forward.TargetConfig{Platform: forward.PlatformTelegram, ID: "-100"}, Message{
		Chunks: []string{"part one", "part two"},
		Media:  []model.Media{{URL: "https://x/1.jpg", Type: "photo"}, {URL: "https://x/2.mp4", Type: "video"}},
	})
	require.NoError(t, err)

	calls := rec.all()
	require.Len(t, calls, 3)
	require.Equal(t, "/botT/sendMediaGroup", calls[0].Path)
	require.Equal(t, "/botT/sendMessage", calls[1].Path)
	require.Equal(t, "part one", calls[1].Body["text"])
	require.Equal(t, "-100", calls[1].Body["chat_id"])
	require.Equal(t, "part two", calls[2].Body["text"])
}

func TestTelegramTargetToken(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	srv := jsonServer(t, rec, func(string) (int, string) {
		return 200, `{"ok":true,"result":{"message_id":3,"chat":{"id":1}}}`
	})

	s := NewTelegram(TelegramConfig{APIURL: srv.URL, PerSecond: 100}, logx.Nop())
	target := forward.TargetConfig{Platform: forward.PlatformTelegram, ID: "1"}
	err := s.Send(context.Background(), target, Message{Chunks: []string{"x"}})
	require.True(t, IsPermanent(err))
	require.ErrorIs(t, err, ErrMissingCred)

	target.Credentials = map[string]string{"token": "OWN"}
	require.NoError(t, s.Send(context.Background(), target, Message{Chunks: []string{"x"}}))
	require.Equal(t, "/botOWN/sendMessage", rec.all()[0].Path)
}

func TestTelegramClassifiesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		body      string
		permanent bool
	}{
		{"chat not found", `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`, true},
		{"unknown client error", `{"ok":false,"error_code":403,"description":"Forbidden: something new"}`, true},
		{"server error", `{"ok":false,"error_code":502,"description":"Bad Gateway"}`, false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := jsonServer(t, &recorder{}, func(string) (int, string) { return 200, tc.body })
			s := NewTelegram(TelegramConfig{Token: "T", APIURL: srv.URL, PerSecond: 100}, logx.Nop())
			err := s.Send(context.Background(), forward.TargetConfig{ID: "1"}, Message{Chunks: []string{"x"}})
			require.Error(t, err)
			require.Equal(t, tc.permanent, IsPermanent(err))
		})
	}
}

func TestQQSendGroupMsg(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	srv := jsonServer(t, rec, func(string) (int, string) {
		return 200, `{"status":"ok","retcode":0,"data":{"message_id":1}}`
	})

	s := NewQQ(QQConfig{URL: srv.URL, AccessToken: "secret"}, logx.Nop())
	err := s.Send(context.Background(), forward.TargetConfig{Platform: forward.PlatformQQ, ID: "12345"}, Message{
		Chunks: []string{"a", "b"},
		Media:  []model.Media{{URL: "https://x/1,2.jpg", Type: "photo"}},
	})
	require.NoError(t, err)

	calls := rec.all()
	require.Len(t, calls, 2)
	require.Equal(t, "/send_group_msg", calls[0].Path)
	require.Equal(t, "Bearer secret", calls[0].Header.Get("Authorization"))
	require.EqualValues(t, 12345, calls[0].Body["group_id"])
	require.Equal(t, "a\n[CQ:image,file=https://x/1&#44;2.jpg]", calls[0].Body["message"])
	require.Equal(t, "b", calls[1].Body["message"])
}

func TestQQErrors(t *testing.T) {
	t.Parallel()
	srv := jsonServer(t, &recorder{}, func(string) (int, string) {
		return 200, `{"status":"failed","retcode":1200,"wording":"muted"}`
	})
	s := NewQQ(QQConfig{URL: srv.URL}, logx.Nop())

	err := s.Send(context.Background(), forward.TargetConfig{ID: "1"}, Message{Chunks: []string{"x"}})
	require.ErrorContains(t, err, "muted")
	require.False(t, IsPermanent(err))

	err = s.Send(context.Background(), forward.TargetConfig{ID: "group"}, Message{Chunks: []string{"x"}})
	require.True(t, IsPermanent(err))
}

func TestBilibiliPostsDynamic(t *testing.T) {
	t.Parallel()
	rec := &recorder{}
	srv := jsonServer(t, rec, func(string) (int, string) { return 200, `{"code":0,"message":"0"}` })

	s := NewBilibili(BilibiliConfig{APIURL: srv.URL, SESSDATA: "sess", BiliJCT: "jct"}, logx.Nop())
	err := s.Send(context.Background(), forward.TargetConfig{Platform: forward.PlatformBilibili, ID: "uid"}, Message{
		Chunks: []string{"hello"},
		Media:  []model.Media{{URL: "https://x/1.jpg"}},
	})
	require.NoError(t, err)

	calls := rec.all()
	require.Len(t, calls, 1)
	require.Equal(t, "/dynamic_svr/v1/dynamic_svr/create", calls[0].Path)
	require.Equal(t, "hello\nhttps://x/1.jpg", calls[0].Form.Get("content"))
	require.Equal(t, "jct", calls[0].Form.Get("csrf"))
	require.Contains(t, calls[0].Header.Get("Cookie"), "SESSDATA=sess")
}

func TestBilibiliAuthRejectedIsPermanent(t *testing.T) {
	t.Parallel()
	srv := jsonServer(t, &recorder{}, func(string) (int, string) { return 200, `{"code":-101,"message":"not logged in"}` })
	s := NewBilibili(BilibiliConfig{APIURL: srv.URL, SESSDATA: "s", BiliJCT: "j"}, logx.Nop())
	err := s.Send(context.Background(), forward.TargetConfig{ID: "uid"}, Message{Chunks: []string{"x"}})
	require.True(t, IsPermanent(err))

	s = NewBilibili(BilibiliConfig{APIURL: srv.URL}, logx.Nop())
	err = s.Send(context.Background(), forward.TargetConfig{ID: "uid"}, Message{Chunks: []string{"x"}})
	require.ErrorIs(t, err, ErrMissingCred)
}

type flaky struct {
	fails int32
	err   error
	calls atomic.Int32
}

func (*flaky) Platform() string { return "flaky" }

func (f *flaky) Send(context.Context, forward.TargetConfig, Message) error {
	if f.calls.Add(1) <= f.fails {
		return f.err
	}
	return nil
}

func TestWithRetry(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name    string
		fails   int32
		err     error
		wantErr bool
		calls   int32
	}{
		{"recovers", 2, errors.New("net"), false, 3},
		{"exhausts", 5, errors.New("net"), true, 3},
		{"permanent stops", 5, Permanent(errors.New("bad chat")), true, 1},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := &flaky{fails: tc.fails, err: tc.err}
			s := WithRetry(f, 3, time.Millisecond, logx.Nop())
			err := s.Send(context.Background(), forward.TargetConfig{ID: "x"}, Message{Chunks: []string{"x"}})
			require.Equal(t, tc.wantErr, err != nil)
			require.Equal(t, tc.calls, f.calls.Load())
			require.Equal(t, "flaky", s.Platform())
		})
	}
}

// stumbling delivers chunks one by one and fails once after the first chunk.
type stumbling struct {
	mu        sync.Mutex
	failed    bool
	delivered []string
	media     int
}

func (*stumbling) Platform() string { return "stumbling" }

func (s *stumbling) Send(_ context.Context, _ forward.TargetConfig, msg Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.media += len(msg.Media)
	for i, c := range msg.Chunks {
		if i == 1 && !s.failed {
			s.failed = true
			return Partial(errors.New("flood wait"), len(msg.Media) > 0, i)
		}
		s.delivered = append(s.delivered, c)
	}
	return nil
}

func TestWithRetryResumesAfterDeliveredChunks(t *testing.T) {
	t.Parallel()
	f := &stumbling{}
	msg := Message{
		Chunks: []string{"one", "two", "three"},
		Media:  []model.Media{{URL: "https://img.example/1.jpg", Type: "photo"}},
	}
	err := WithRetry(f, 3, time.Millisecond, logx.Nop()).Send(context.Background(), forward.TargetConfig{ID: "x"}, msg)
	require.NoError(t, err)
	require.Equal(t, []string{"one", "two", "three"}, f.delivered)
	require.Equal(t, 1, f.media)
}

func TestMessageRest(t *testing.T) {
	t.Parallel()
	msg := Message{Chunks: []string{"a", "b"}, Media: []model.Media{{URL: "u"}}}

	cases := []struct {
		name string
		err  error
		want Message
	}{
		{"plain error", errors.New("x"), msg},
		{"nothing sent", Partial(errors.New("x"), false, 0), msg},
		{"media only", Partial(errors.New("x"), true, 0), Message{Chunks: []string{"a", "b"}}},
		{"one chunk", Partial(errors.New("x"), true, 1), Message{Chunks: []string{"b"}}},
		{"all chunks", Partial(errors.New("x"), false, 5), Message{Media: msg.Media}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, msg.Rest(tc.err))
		})
	}
	require.True(t, IsPermanent(Partial(Permanent(errors.New("bad chat")), false, 1)))
}

func TestWithRetryHonoursContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := &flaky{fails: 5, err: errors.New("net")}
	err := WithRetry(f, 3, time.Hour, logx.Nop()).Send(ctx, forward.TargetConfig{}, Message{})
	require.ErrorIs(t, err, context.Canceled)
	require.EqualValues(t, 1, f.calls.Load())
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry(NewNone(logx.Nop()), NewQQ(QQConfig{}, logx.Nop()))

	s, err := r.Get("NONE")
	require.NoError(t, err)
	require.NoError(t, s.Send(context.Background(), forward.TargetConfig{ID: "x"}, Message{Chunks: []string{"x"}}))

	_, err = r.Get("discord")
	require.ErrorIs(t, err, ErrUnknownPlatform)
	require.Equal(t, []string{"none", "qq"}, r.Platforms())
}
