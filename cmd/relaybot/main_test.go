package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestJobID(t *testing.T) {
	t.Parallel()

	a, err := execute(t, "jobid", "crawl", "user=1", "*/5 * * * *", "--at", "2026-01-02T03:04:00Z")
	require.NoError(t, err)
	b, err := execute(t, "jobid", "crawl", "user=1", "*/5 * * * *", "--at", "2026-01-02T03:01:30Z")
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.True(t, strings.HasPrefix(a, "crawl"))

	c, err := execute(t, "jobid", "crawl", "user=1", "*/5 * * * *", "--at", "2026-01-02T03:11:00Z")
	require.NoError(t, err)
	require.NotEqual(t, a, c)

	_, err = execute(t, "jobid", "crawl", "user=1", "every so often")
	require.Error(t, err)
}

func TestAccountsOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "relay.yaml")
	body := "storage:\n  path: " + filepath.Join(dir, "relay.db") + "\n"
	require.NoError(t, os.WriteFile(cfg, []byte(body), 0o600))

	id, err := execute(t, "--config", cfg, "accounts", "add", "twitter", "alice", "--credential", "c")
	require.NoError(t, err)
	id = strings.TrimSpace(id)

	_, err = execute(t, "--config", cfg, "accounts", "ban", id)
	require.NoError(t, err)
	out, err := execute(t, "--config", cfg, "accounts", "list", "--status", "banned")
	require.NoError(t, err)
	require.Contains(t, out, "alice")

	_, err = execute(t, "--config", cfg, "accounts", "activate", id)
	require.NoError(t, err)
	out, err = execute(t, "--config", cfg, "accounts", "list", "--status", "active")
	require.NoError(t, err)
	require.Contains(t, out, "alice")

	_, err = execute(t, "--config", cfg, "accounts", "activate", "999")
	require.Error(t, err)
}
