package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/intake"
	"postpilot/pkg/models"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "postpilot.yaml")
	body := "storage:\n  driver: sqlite\n  path: " + filepath.Join(dir, "pp.db") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func run(t *testing.T, cfg string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--config", cfg}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func mustRun(t *testing.T, cfg string, args ...string) string {
	t.Helper()
	out, err := run(t, cfg, args...)
	require.NoError(t, err, out)
	return out
}

func TestEnqueueRunOnceStatus(t *testing.T) {
	cfg := writeConfig(t)

	mustRun(t, cfg, "account", "link", "-o", "alice", "-p", "twitter", "--credential", "tok", "--name", "@alice")
	accts := mustRun(t, cfg, "account", "list", "-o", "alice")
	assert.Contains(t, accts, "@alice")
	assert.NotContains(t, accts, "tok\t")

	id := strings.TrimSpace(mustRun(t, cfg, "enqueue", "-o", "alice", "--topic", "launch day", "-p", "twitter", "--at=-1m"))
	require.NotEmpty(t, id)

	report := mustRun(t, cfg, "run-once")
	assert.Contains(t, report, "completed=1")

	var v intake.StatusView
	require.NoError(t, json.Unmarshal([]byte(mustRun(t, cfg, "status", id)), &v))
	assert.Equal(t, models.StatusCompleted, v.Status)
	assert.Contains(t, v.ExternalIDs, "twitter")

	list := mustRun(t, cfg, "list", "-o", "alice")
	assert.Contains(t, list, id)

	_, err := run(t, cfg, "reconcile", id)
	require.ErrorIs(t, err, intake.ErrNotInFlight)
}

func TestRuleLifecycle(t *testing.T) {
	cfg := writeConfig(t)

	id := strings.TrimSpace(mustRun(t, cfg, "rule", "add", "-o", "bob", "--name", "recap",
		"--topic", "recap {date}", "-p", "linkedin", "--frequency", "weekly", "--slot", "Fri 16:00"))
	require.NotEmpty(t, id)

	list := mustRun(t, cfg, "rule", "list", "-o", "bob")
	assert.Contains(t, list, "recap")
	assert.Contains(t, list, "Fri 16:00")

	assert.Contains(t, mustRun(t, cfg, "rule", "disable", id), "disabled")
	_, err := run(t, cfg, "rule", "enable", "missing")
	require.ErrorIs(t, err, intake.ErrNotFound)

	_, err = run(t, cfg, "rule", "add", "-o", "bob", "--name", "bad", "--topic", "x", "-p", "linkedin", "--slot", "9am")
	require.ErrorIs(t, err, intake.ErrInvalid)
}

func TestOwnerRequired(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, cfg, "list")
	require.ErrorContains(t, err, "--owner")
}

func TestParseAt(t *testing.T) {
	t.Parallel()
	at, err := parseAt("now")
	require.NoError(t, err)
	assert.True(t, at.IsZero())

	at, err = parseAt("2025-03-10T09:00:00Z")
	require.NoError(t, err)
	assert.Equal(t, 2025, at.Year())

	_, err = parseAt("tomorrow")
	require.Error(t, err)
}
