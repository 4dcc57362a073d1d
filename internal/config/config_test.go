package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
storage:
  driver: sqlite
  path: ./postpilot.db
scheduler:
  poll_interval: 10s
  job_workers: 2
generator:
  timeout: 20s
  primary:
    kind: gemini
    api_key_env: POSTPILOT_TEST_GEMINI_KEY
publish:
  rate_per_sec: 2
  circuit:
    trip_failures: 3
  platforms:
    telegram:
      mode: telegram
    tiktok:
      mode: "off"
recurrence:
  timezone: Asia/Jakarta
  lookahead: 2h
notifier:
  enabled: true
  dedup_window: 30m
  events: [job.fault, job.stuck]
  telegram:
    token_env: POSTPILOT_TEST_ALERT_TOKEN
    chat_id: -100123
`

func TestDecodeYAML(t *testing.T) {
	cfg, err := Decode("postpilot.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, Validate(cfg))

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.True(t, cfg.Scheduler.IsEnabled())
	assert.Equal(t, 2, cfg.Scheduler.JobWorkers)
	require.NotNil(t, cfg.Generator.Primary)
	assert.Nil(t, cfg.Generator.Secondary)
	assert.Equal(t, ModeTelegram, cfg.Publish.Platforms["telegram"].Mode)
	assert.Equal(t, ModeOff, cfg.Publish.Platforms["tiktok"].Mode)
	assert.Equal(t, 3, cfg.Publish.Circuit.TripFailures)
	require.NotNil(t, cfg.Notifier.Telegram)
	assert.Equal(t, int64(-100123), cfg.Notifier.Telegram.ChatID)
	assert.Equal(t, []string{"job.fault", "job.stuck"}, cfg.Notifier.Events)
}

func TestDecodeRejectsUnknownFieldsAndTrailingData(t *testing.T) {
	t.Parallel()
	_, err := Decode("c.yaml", []byte("scheduler:\n  workers: 3\n"))
	require.Error(t, err)

	_, err = Decode("c.json", []byte(`{"logging":{"level":"info"}} {}`))
	require.Error(t, err)

	cfg, err := Decode("c.json", []byte(`{"scheduler":{"enabled":false}}`))
	require.NoError(t, err)
	assert.False(t, cfg.Scheduler.IsEnabled())
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Storage:   StorageConfig{Driver: "postgres"},
		Scheduler: SchedulerConfig{PollInterval: "soon", JobWorkers: -1},
		Generator: GeneratorConfig{Primary: &ProviderConfig{Kind: "claude"}},
		Publish: PublishConfig{Platforms: map[string]PlatformConfig{
			"twitter": {Mode: "carrier-pigeon", FailWith: "explode"},
		}},
		Recurrence: RecurrenceConfig{Timezone: "Mars/Olympus", Lookahead: "-1h"},
		Notifier: NotifierConfig{
			DedupWindow: "later",
			Events:      []string{"job.fault", "job.exploded"},
			Telegram:    &AlertsTelegram{Token: "t"},
		},
	}
	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"storage.driver", "scheduler.poll_interval", "scheduler.job_workers",
		"generator.primary.kind", "publish.platforms.twitter.mode",
		"publish.platforms.twitter.fail_with", "recurrence.timezone", "recurrence.lookahead",
		"notifier.dedup_window", `unknown event "job.exploded"`, "notifier.telegram.chat_id",
	} {
		assert.ErrorContains(t, err, want)
	}
}

func TestProviderKeyPrefersInlineValue(t *testing.T) {
	t.Setenv("POSTPILOT_TEST_KEY", " from-env ")
	assert.Equal(t, "from-env", ProviderConfig{APIKeyEnv: "POSTPILOT_TEST_KEY"}.Key())
	assert.Equal(t, "inline", ProviderConfig{APIKey: "inline", APIKeyEnv: "POSTPILOT_TEST_KEY"}.Key())
	assert.Empty(t, ProviderConfig{}.Key())
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Second, d)

	d, err = ParseDurationOrDefault("x", "1m", 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationOrDefault("x", "-1s", 5*time.Second)
	require.ErrorContains(t, err, "x:")
}

func TestParseDurationFieldDays(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{"7d", 7 * 24 * time.Hour, false},
		{" 1d ", 24 * time.Hour, false},
		{"90m", 90 * time.Minute, false},
		{"-2d", 0, true},
		{"1.5d", 0, true},
		{"d", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("recurrence.lookahead", tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestSummarizeChangeNeverLeaksKeys(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Generator: GeneratorConfig{Primary: &ProviderConfig{Kind: "gemini", APIKey: "secret-1"}}}
	newCfg := &Config{
		Generator: GeneratorConfig{Primary: &ProviderConfig{Kind: "gemini", APIKey: "secret-2"}},
		Scheduler: SchedulerConfig{BatchSize: 10},
	}
	sections, attrs := SummarizeChange(oldCfg, newCfg)
	assert.Equal(t, []string{"scheduler", "generator"}, sections)
	assert.NotEmpty(t, attrs)

	sections, _ = SummarizeChange(newCfg, newCfg)
	assert.Empty(t, sections)
}

func TestWatchPublishesValidReloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "postpilot.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"batch_size":5}}`), 0o600))

	m := NewManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	// Rewriting the same content is not a change.
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler": {"batch_size": 5}}`), 0o600))
	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, changed)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register the directory.
	time.Sleep(200 * time.Millisecond)

	// An invalid file is rejected and the previous config stays current.
	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"batch_size":-1}}`), 0o600))
	time.Sleep(3 * reloadDebounce)
	assert.Equal(t, 5, m.Get().Scheduler.BatchSize)

	require.NoError(t, os.WriteFile(path, []byte(`{"scheduler":{"batch_size":7}}`), 0o600))
	select {
	case c := <-sub:
		assert.Equal(t, 5, c.Prev.Scheduler.BatchSize)
		assert.Equal(t, 7, c.Next.Scheduler.BatchSize)
	case <-time.After(5 * time.Second):
		t.Fatal("no reload published")
	}
	assert.Equal(t, 7, m.Get().Scheduler.BatchSize)

	cancel()
	<-done
}
