package logx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		" WARN ":  zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		"error":   zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"loud":    zerolog.InfoLevel,
	}
	for in, want := range cases {
		require.Equal(t, want, parseLevel(in, zerolog.InfoLevel), in)
	}
}

func TestZeroLoggerIsSilent(t *testing.T) {
	t.Parallel()

	var l Logger
	require.True(t, l.IsZero())
	l.Info("nothing", String("k", "v"))
	require.False(t, l.With(String("comp", "x")).IsZero())
}

func TestServiceWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.log")
	svc, log := New(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})

	log.With(String("comp", "test")).Info("hello", Int("n", 3))
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	line := string(b)
	require.True(t, strings.Contains(line, `"message":"hello"`), line)
	require.True(t, strings.Contains(line, `"comp":"test"`), line)
	require.True(t, strings.Contains(line, `"n":3`), line)
}

func TestApplyChangesLevel(t *testing.T) {
	svc, log := New(Config{Level: "info", Console: true})
	defer svc.Close()

	require.False(t, log.Enabled(LevelDebug))
	svc.Apply(Config{Level: "debug", Console: true})
	require.True(t, log.Enabled(LevelDebug))
}
