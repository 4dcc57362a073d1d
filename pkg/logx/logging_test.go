package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterLoggerFieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "info").With(String("comp", "pipeline"))

	log.Debug("hidden")
	log.Info("job claimed", String("job", "j1"), Int("n", 2), Duration("took", time.Second), Err(errors.New("boom")), Err(nil))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &m))
	assert.Equal(t, "job claimed", m["message"])
	assert.Equal(t, "pipeline", m["comp"])
	assert.Equal(t, "j1", m["job"])
	assert.EqualValues(t, 2, m["n"])
	assert.Contains(t, lines[0], "boom")
	assert.Contains(t, m["caller"], "logging_test.go")
}

func TestZeroAndNopLoggers(t *testing.T) {
	t.Parallel()
	var zero Logger
	assert.True(t, zero.IsZero())
	zero.Info("dropped")

	nop := Nop()
	assert.False(t, nop.IsZero())
	nop.With(String("k", "v")).Error("dropped")
}

func TestServiceApplySwapsLevelAndSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pp.log")
	svc, log := New(Config{Level: "warn", File: FileConfig{Enabled: true, Path: path}})
	t.Cleanup(func() { _ = svc.Close() })
	derived := log.With(String("comp", "test"))

	derived.Info("before")
	svc.Apply(Config{Level: "debug", File: FileConfig{Enabled: true, Path: path}})
	derived.Debug("after")
	require.NoError(t, svc.Close())

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(b), "before")
	assert.Contains(t, string(b), "after")
	assert.Contains(t, string(b), `"comp":"test"`)
}

func TestSecretNeverLogsWholeValue(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	NewWriter(&buf, "debug").Info("provider ready", Secret("api_key", "sk-live-123456"), Secret("empty", ""))
	assert.NotContains(t, buf.String(), "sk-live")
	assert.Contains(t, buf.String(), `"api_key":"***56"`)
	assert.Equal(t, "***", Mask("abc"))
	assert.Equal(t, "", Mask(""))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()
	assert.Equal(t, LevelWarn, ParseLevel(" WARNING ", LevelInfo))
	assert.Equal(t, LevelTrace, ParseLevel("trace", LevelInfo))
	assert.Equal(t, LevelInfo, ParseLevel("loud", LevelInfo))
}

func TestApplyReportsUnopenableFile(t *testing.T) {
	svc, _ := New(Config{Level: "error"})
	t.Cleanup(func() { _ = svc.Close() })
	err := svc.Apply(Config{Level: "error", File: FileConfig{Enabled: true, Path: filepath.Join(t.TempDir(), "missing", "x.log")}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open log file")
}
