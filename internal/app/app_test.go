package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/config"
	"postpilot/internal/eventbus"
	"postpilot/internal/intake"
	"postpilot/internal/notifier"
	"postpilot/internal/publish"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

func memoryConfig() *config.Config {
	return &config.Config{
		Logging: config.LoggingConfig{Level: "error", Console: true},
		Storage: config.StorageConfig{Driver: "memory"},
		Publish: config.PublishConfig{Platforms: map[string]config.PlatformConfig{
			"tiktok": {Mode: config.ModeOff},
		}},
	}
}

func TestRunOnceCompletesScheduledJob(t *testing.T) {
	a, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	svc := a.Intake()
	require.NoError(t, svc.LinkAccount(ctx, intake.AccountRequest{Owner: "u1", Platform: "instagram", Credential: "tok"}))
	require.NoError(t, svc.LinkAccount(ctx, intake.AccountRequest{Owner: "u1", Platform: "twitter", Credential: "tok"}))

	id, err := svc.ScheduleJob(ctx, intake.JobRequest{
		Owner: "u1", Topic: "morning coffee", Platforms: []string{"instagram", "twitter"},
		ScheduledAt: time.Now().Add(-time.Minute),
	})
	require.NoError(t, err)

	// tiktok is switched off, so intake refuses it.
	_, err = svc.ScheduleJob(ctx, intake.JobRequest{Owner: "u1", Topic: "t", Platforms: []string{"tiktok"}})
	require.ErrorIs(t, err, intake.ErrInvalid)

	_, rep, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Completed)

	v, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, v.Status)
	assert.Len(t, v.ExternalIDs, 2)
	assert.Equal(t, models.ProviderFallback, v.Content["instagram"].Provider)
}

func TestRunOnceExpandsRules(t *testing.T) {
	a, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	_, err = a.Intake().CreateRule(ctx, intake.RuleRequest{
		Owner: "u1", Name: "daily", TopicTemplate: "tip for {date}", Platforms: []string{"linkedin"},
		Frequency: models.FrequencyDaily, TimeSlots: []string{"00:00", "06:00", "12:00", "18:00"},
	})
	require.NoError(t, err)

	rrep, _, err := a.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, rrep.Rules)
	// Default lookahead is one hour; at most one six-hourly slot falls inside it.
	assert.LessOrEqual(t, rrep.Created, 1)
}

func TestStartStop(t *testing.T) {
	a, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Stop(ctx, StopCommand))
	<-a.Done()
}

func TestBuildRegistryModes(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{Publish: config.PublishConfig{
		RatePerSec: 5,
		Platforms: map[string]config.PlatformConfig{
			"Facebook": {Mode: "OFF"},
			"telegram": {Mode: config.ModeTelegram},
			"mastodon": {},
		},
	}}
	reg, err := buildRegistry(cfg, time.Second, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, []string{"instagram", "linkedin", "mastodon", "telegram", "tiktok", "twitter"}, reg.Platforms())

	p, ok := reg.Lookup("telegram")
	require.True(t, ok)
	_, guarded := p.(*publish.Guard)
	assert.True(t, guarded)

	cfg.Publish.Platforms["twitter"] = config.PlatformConfig{Mode: config.ModeTelegram}
	_, err = buildRegistry(cfg, time.Second, logx.Nop())
	require.Error(t, err)
}

func TestMapConfigDefaultsAndErrors(t *testing.T) {
	t.Parallel()
	cfg := &config.Config{}
	sc, err := mapStorageConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", sc.Driver)
	assert.Equal(t, defaultDBPath, sc.Path)
	assert.Equal(t, 5*time.Second, sc.BusyTimeout)

	cfg.Storage.Driver = "none"
	_, err = mapStorageConfig(cfg)
	require.Error(t, err)

	live, err := resolveLive(&config.Config{
		Scheduler:  config.SchedulerConfig{PollInterval: "5s", BatchSize: 3},
		Recurrence: config.RecurrenceConfig{Timezone: "UTC", Lookahead: "2h"},
	})
	require.NoError(t, err)
	assert.True(t, live.pipeline.Enabled)
	assert.Equal(t, 5*time.Second, live.pipeline.PollInterval)
	assert.Equal(t, 2*time.Hour, live.recurrence.Lookahead)

	_, err = resolveLive(&config.Config{Recurrence: config.RecurrenceConfig{Timezone: "Nowhere/Town"}})
	require.Error(t, err)
}

func TestBuildProviderSkipsMissingKey(t *testing.T) {
	t.Parallel()
	assert.Nil(t, buildProvider("primary", nil, logx.Nop()))
	assert.Nil(t, buildProvider("primary", &config.ProviderConfig{Kind: "gemini"}, logx.Nop()))
	p := buildProvider("secondary", &config.ProviderConfig{Kind: "openai", APIKey: "k"}, logx.Nop())
	require.NotNil(t, p)
	assert.Equal(t, "openai", p.Name())
}

func TestNotifierAlertsOnFaults(t *testing.T) {
	cfg := memoryConfig()
	cfg.Notifier = config.NotifierConfig{Enabled: true, RatePerSec: 100}
	a, err := New(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.Stop(ctx, StopCommand)
	})

	a.Bus().Publish(eventbus.Event{Type: eventbus.JobStuck, JobID: "j1", Data: models.StatusPublishing})
	a.Bus().Publish(eventbus.Event{Type: eventbus.JobCompleted, JobID: "j2"})

	require.Eventually(t, func() bool { return len(a.Notifier().Snapshot()) == 1 }, 2*time.Second, 10*time.Millisecond)
	h := a.Notifier().Snapshot()[0]
	assert.Equal(t, eventbus.JobStuck, h.Kind)
	assert.Contains(t, h.Text, "j1")
}

func TestApplyNotifierTogglesService(t *testing.T) {
	a, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	assert.False(t, a.Notifier().Enabled())
	a.applyNotifier(ctx, notifierConfig(t, config.NotifierConfig{Enabled: true, DedupWindow: "1m"}))
	assert.True(t, a.Notifier().Enabled())
	require.NoError(t, a.Notifier().Notify(ctx, notifierAlert("j1")))

	a.applyNotifier(ctx, notifierConfig(t, config.NotifierConfig{}))
	assert.False(t, a.Notifier().Enabled())
}

func TestMapNotifierConfig(t *testing.T) {
	t.Parallel()
	n := notifierConfig(t, config.NotifierConfig{Enabled: true, RetryBase: "2s", DedupWindow: "10m", Events: []string{"job.failed"}})
	assert.Equal(t, 2*time.Second, n.RetryBase)
	assert.Equal(t, 10*time.Minute, n.DedupWindow)
	assert.Equal(t, []string{"job.failed"}, n.Events)

	_, err := mapNotifierConfig(&config.Config{Notifier: config.NotifierConfig{RetryBase: "soon"}})
	require.Error(t, err)

	s, err := buildAlertSender(&config.Config{}, logx.Nop())
	require.NoError(t, err)
	assert.Nil(t, s)
	s, err = buildAlertSender(&config.Config{Notifier: config.NotifierConfig{
		Telegram: &config.AlertsTelegram{Token: "123:abc", ChatID: 42},
	}}, logx.Nop())
	require.NoError(t, err)
	assert.NotNil(t, s)
}

func notifierConfig(t *testing.T, nc config.NotifierConfig) notifier.Config {
	t.Helper()
	out, err := mapNotifierConfig(&config.Config{Notifier: nc})
	require.NoError(t, err)
	return out
}

func notifierAlert(job string) notifier.Alert {
	return notifier.Alert{Kind: eventbus.JobFault, JobID: job, Text: "fault on " + job}
}

func TestMapDebugConfig(t *testing.T) {
	t.Parallel()
	d, err := mapDebugConfig(&config.Config{})
	require.NoError(t, err)
	assert.False(t, d.Enabled)
	assert.Equal(t, "127.0.0.1:6070", d.Addr)
	assert.Equal(t, 5*time.Second, d.ReadTimeout)

	_, err = mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6070"}})
	require.Error(t, err)
	_, err = mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "0.0.0.0:6070", Token: "t"}})
	require.NoError(t, err)
	_, err = mapDebugConfig(&config.Config{Debug: config.DebugConfig{Enabled: true, Addr: "no-port"}})
	require.Error(t, err)
}

func TestStatusSnapshotListsStuckJobs(t *testing.T) {
	a, err := New(memoryConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	ctx := context.Background()

	id, err := a.Intake().ScheduleJob(ctx, intake.JobRequest{Owner: "u1", Topic: "t", Platforms: []string{"twitter"}})
	require.NoError(t, err)
	ok, err := a.Store().Claim(ctx, id, models.StatusGenerating, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	raw, err := a.statusSnapshot(ctx)
	require.NoError(t, err)
	doc := raw.(statusDoc)
	require.Len(t, doc.Stuck, 1)
	assert.Equal(t, id, doc.Stuck[0].ID)
	assert.Equal(t, "generating", doc.Stuck[0].Status)
	assert.Contains(t, doc.Platforms, "twitter")
}
