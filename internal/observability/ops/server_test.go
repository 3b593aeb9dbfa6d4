package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relaybot/pkg/logx"
)

func get(t *testing.T, h http.Handler, path string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, logx.Nop(),
		WithCheck("store", func(context.Context) error { return nil }),
		WithCheck("redis", func(context.Context) error { return errors.New("connection refused") }),
	)

	rec := get(t, srv.Handler(), "/healthz", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var body checkResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, "degraded", body.Status)
	require.Equal(t, "ok", body.Checks["store"])
	require.Equal(t, "connection refused", body.Checks["redis"])
}

func TestRoutes(t *testing.T) {
	t.Parallel()
	srv := New(Config{}, logx.Nop(), WithStatus(func() any { return map[string]int{"queued": 3} }))
	h := srv.Handler()

	rec := get(t, h, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "relay_")

	rec = get(t, h, "/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"queued":3}`, rec.Body.String())

	rec = get(t, h, "/debug/pprof/", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, h, "/debug/pprof/goroutine?debug=1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestTokenAuth(t *testing.T) {
	t.Parallel()
	h := New(Config{Token: "s3cret"}, logx.Nop()).Handler()

	cases := []struct {
		name   string
		path   string
		header map[string]string
		code   int
	}{
		{"missing", "/healthz", nil, http.StatusUnauthorized},
		{"bearer", "/healthz", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusOK},
		{"wrong bearer", "/healthz", map[string]string{"Authorization": "Bearer nope"}, http.StatusUnauthorized},
		{"query", "/healthz?token=s3cret", nil, http.StatusOK},
		{"wrong query", "/healthz?token=x", map[string]string{"Authorization": "Bearer s3cret"}, http.StatusUnauthorized},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.code, get(t, h, tc.path, tc.header).Code)
		})
	}
}

func TestStartRefusesInsecureBind(t *testing.T) {
	t.Parallel()
	err := New(Config{Addr: "0.0.0.0:0"}, logx.Nop()).Start(context.Background())
	require.ErrorIs(t, err, ErrInsecureBind)
}

func TestStartServesAndStops(t *testing.T) {
	t.Parallel()
	srv := New(Config{Addr: "127.0.0.1:0"}, logx.Nop())
	require.NoError(t, srv.Start(context.Background()))
	addr := srv.Addr()
	require.NotEmpty(t, addr)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/healthz")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	srv.Stop(ctx)
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()
	for addr, want := range map[string]bool{
		"127.0.0.1:9464": true,
		"localhost:1":    true,
		"[::1]:1":        true,
		":9464":          false,
		"0.0.0.0:1":      false,
		"10.0.0.1:1":     false,
		"garbage":        false,
	} {
		require.Equal(t, want, isLoopbackAddr(addr), addr)
	}
}
