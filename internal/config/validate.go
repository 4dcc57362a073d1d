package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	knownDrivers     = map[string]bool{"": true, "sqlite": true, "sqlite3": true, "memory": true, "mem": true, "none": true}
	knownProviders   = map[string]bool{"gemini": true, "openai": true}
	knownModes       = map[string]bool{"": true, ModeSimulate: true, ModeTelegram: true, ModeOff: true}
	knownAlertEvents = map[string]bool{
		"job.claimed": true, "job.generated": true, "job.completed": true, "job.failed": true,
		"job.fault": true, "job.stuck": true, "platform.result": true, "rule.expanded": true,
	}
	knownFailKinds = map[string]bool{
		"": true, "rejected": true, "timeout": true, "rate_limited": true, "internal": true,
	}
)

// Validate checks structural rules that do not depend on runtime state.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }
	dur := func(path, raw string) {
		if _, err := ParseDurationField(path, raw); err != nil {
			errs = append(errs, err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Logging.Format)) {
	case "", "console", "json":
	default:
		add("logging.format: unknown format %q", cfg.Logging.Format)
	}

	if d := strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)); !knownDrivers[d] {
		add("storage.driver: unknown driver %q", cfg.Storage.Driver)
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	s := cfg.Scheduler
	if s.BatchSize < 0 {
		add("scheduler.batch_size must be >= 0")
	}
	if s.JobWorkers < 0 {
		add("scheduler.job_workers must be >= 0")
	}
	if s.PlatformWorkers < 0 {
		add("scheduler.platform_workers must be >= 0")
	}
	dur("scheduler.poll_interval", s.PollInterval)
	dur("scheduler.publish_timeout", s.PublishTimeout)
	dur("scheduler.stuck_after", s.StuckAfter)
	dur("scheduler.stuck_interval", s.StuckInterval)

	dur("generator.timeout", cfg.Generator.Timeout)
	for name, p := range map[string]*ProviderConfig{"primary": cfg.Generator.Primary, "secondary": cfg.Generator.Secondary} {
		if p == nil {
			continue
		}
		if !knownProviders[strings.ToLower(strings.TrimSpace(p.Kind))] {
			add("generator.%s.kind: unknown provider %q", name, p.Kind)
		}
		if p.MaxTokens < 0 {
			add("generator.%s.max_tokens must be >= 0", name)
		}
	}

	pc := cfg.Publish
	if pc.RatePerSec < 0 {
		add("publish.rate_per_sec must be >= 0")
	}
	if pc.Burst < 0 {
		add("publish.burst must be >= 0")
	}
	dur("publish.circuit.base_delay", pc.Circuit.BaseDelay)
	dur("publish.circuit.max_delay", pc.Circuit.MaxDelay)
	dur("publish.circuit.reset_after", pc.Circuit.ResetAfter)
	for name, p := range pc.Platforms {
		if strings.TrimSpace(name) == "" {
			add("publish.platforms: empty platform name")
		}
		mode := strings.ToLower(strings.TrimSpace(p.Mode))
		if !knownModes[mode] {
			add("publish.platforms.%s.mode: unknown mode %q", name, p.Mode)
		}
		if mode == ModeTelegram && name != ModeTelegram {
			add("publish.platforms.%s.mode: telegram mode is only valid for the telegram platform", name)
		}
		if p.RatePerSec < 0 {
			add("publish.platforms.%s.rate_per_sec must be >= 0", name)
		}
		if !knownFailKinds[strings.ToLower(strings.TrimSpace(p.FailWith))] {
			add("publish.platforms.%s.fail_with: unknown kind %q", name, p.FailWith)
		}
		dur("publish.platforms."+name+".latency", p.Latency)
	}

	n := cfg.Notifier
	if n.Workers < 0 || n.QueueSize < 0 || n.RetryMax < 0 || n.RatePerSec < 0 {
		add("notifier: workers, queue_size, retry_max and rate_per_sec must be >= 0")
	}
	dur("notifier.retry_base", n.RetryBase)
	dur("notifier.retry_max_delay", n.RetryMaxDelay)
	dur("notifier.dedup_window", n.DedupWindow)
	for _, e := range n.Events {
		if !knownAlertEvents[e] {
			add("notifier.events: unknown event %q", e)
		}
	}
	if n.Telegram != nil && n.Telegram.ChatID == 0 {
		add("notifier.telegram.chat_id is required")
	}

	dur("debug.read_timeout", cfg.Debug.ReadTimeout)
	dur("debug.idle_timeout", cfg.Debug.IdleTimeout)

	r := cfg.Recurrence
	dur("recurrence.interval", r.Interval)
	dur("recurrence.lookahead", r.Lookahead)
	dur("recurrence.max_catch_up", r.MaxCatchUp)
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add("recurrence.timezone: invalid %q: %w", tz, err)
		}
	}
	return errors.Join(errs...)
}
