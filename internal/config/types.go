package config

import (
	"os"
	"strings"
)

// Config is the on-disk configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1h").
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Storage    StorageConfig    `json:"storage"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	Generator  GeneratorConfig  `json:"generator"`
	Publish    PublishConfig    `json:"publish"`
	Recurrence RecurrenceConfig `json:"recurrence"`
	Notifier   NotifierConfig   `json:"notifier"`
	Debug      DebugConfig      `json:"debug"`
}

type LoggingConfig struct {
	Level   string `json:"level"`
	Console bool   `json:"console"`
	// Format of console output: "console" (default) or "json".
	Format string      `json:"format,omitempty"`
	File   LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// StorageConfig selects the job store.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./postpilot.db" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

// SchedulerConfig controls the due-job polling loop.
//
// Enabled is a pointer so we can distinguish "omitted" (default true) from an
// explicit false.
//
// Defaults (when fields are omitted/zero):
//   - poll_interval: "30s"
//   - batch_size: 50
//   - job_workers: 4
//   - platform_workers: 8
//   - publish_timeout: "30s"
//   - stuck_after: "15m"
//   - stuck_interval: "5m"
type SchedulerConfig struct {
	Enabled         *bool  `json:"enabled,omitempty"`
	PollInterval    string `json:"poll_interval,omitempty"`
	BatchSize       int    `json:"batch_size,omitempty"`
	JobWorkers      int    `json:"job_workers,omitempty"`
	PlatformWorkers int    `json:"platform_workers,omitempty"`
	PublishTimeout  string `json:"publish_timeout,omitempty"`
	StuckAfter      string `json:"stuck_after,omitempty"`
	StuckInterval   string `json:"stuck_interval,omitempty"`
}

func (c SchedulerConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// GeneratorConfig configures the primary/secondary content providers. Either
// may be omitted; the template fallback is always available.
type GeneratorConfig struct {
	Timeout   string          `json:"timeout,omitempty"`
	Primary   *ProviderConfig `json:"primary,omitempty"`
	Secondary *ProviderConfig `json:"secondary,omitempty"`
}

// ProviderConfig describes one network content provider.
//
// Kind is "gemini" or "openai". The API key can be given inline or by
// environment variable name (api_key_env); the inline value wins.
type ProviderConfig struct {
	Kind        string  `json:"kind"`
	APIKey      string  `json:"api_key,omitempty"`
	APIKeyEnv   string  `json:"api_key_env,omitempty"`
	Model       string  `json:"model,omitempty"`
	BaseURL     string  `json:"base_url,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Key resolves the API key (never log it).
func (p ProviderConfig) Key() string {
	if k := strings.TrimSpace(p.APIKey); k != "" {
		return k
	}
	if env := strings.TrimSpace(p.APIKeyEnv); env != "" {
		return strings.TrimSpace(os.Getenv(env))
	}
	return ""
}

// PublishConfig controls the adapter set and the guard in front of it.
//
// Platforms maps a platform tag to its adapter. Platforms that are omitted
// use the simulated adapter when they are one of the built-in simulated
// platforms.
type PublishConfig struct {
	RatePerSec float64                   `json:"rate_per_sec,omitempty"`
	Burst      int                       `json:"burst,omitempty"`
	Circuit    CircuitConfig             `json:"circuit"`
	Platforms  map[string]PlatformConfig `json:"platforms,omitempty"`
}

// CircuitConfig mirrors publish.BreakerConfig. trip_failures < 0 disables the breaker.
type CircuitConfig struct {
	TripFailures int    `json:"trip_failures,omitempty"`
	BaseDelay    string `json:"base_delay,omitempty"`
	MaxDelay     string `json:"max_delay,omitempty"`
	ResetAfter   string `json:"reset_after,omitempty"`
}

const (
	ModeSimulate = "simulate"
	ModeTelegram = "telegram"
	ModeOff      = "off"
)

// PlatformConfig selects and tunes the adapter for one platform.
type PlatformConfig struct {
	Mode string `json:"mode"`
	// RatePerSec overrides publish.rate_per_sec for this platform.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	// Latency and FailWith only apply to simulate mode.
	Latency  string `json:"latency,omitempty"`
	FailWith string `json:"fail_with,omitempty"`
	// APIURL only applies to telegram mode (local Bot API server).
	APIURL string `json:"api_url,omitempty"`
}

// RecurrenceConfig controls the automation rule expander.
type RecurrenceConfig struct {
	Enabled    *bool  `json:"enabled,omitempty"`
	Interval   string `json:"interval,omitempty"`
	Lookahead  string `json:"lookahead,omitempty"`
	MaxCatchUp string `json:"max_catch_up,omitempty"`
	// Timezone is an IANA name used to interpret rule time slots (default UTC).
	Timezone string `json:"timezone,omitempty"`
}

func (c RecurrenceConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

// NotifierConfig controls operator alerts for faults, failures and stuck jobs.
// Without a telegram chat, alerts go to the log at warn level.
type NotifierConfig struct {
	Enabled       bool            `json:"enabled"`
	Workers       int             `json:"workers,omitempty"`
	QueueSize     int             `json:"queue_size,omitempty"`
	RatePerSec    float64         `json:"rate_per_sec,omitempty"`
	RetryMax      int             `json:"retry_max,omitempty"`
	RetryBase     string          `json:"retry_base,omitempty"`
	RetryMaxDelay string          `json:"retry_max_delay,omitempty"`
	DedupWindow   string          `json:"dedup_window,omitempty"`
	Events        []string        `json:"events,omitempty"`
	Telegram      *AlertsTelegram `json:"telegram,omitempty"`
}

type AlertsTelegram struct {
	Token    string `json:"token,omitempty"`
	TokenEnv string `json:"token_env,omitempty"`
	ChatID   int64  `json:"chat_id"`
	APIURL   string `json:"api_url,omitempty"`
}

// BotToken resolves the token (never log it).
func (t AlertsTelegram) BotToken() string {
	return ProviderConfig{APIKey: t.Token, APIKeyEnv: t.TokenEnv}.Key()
}

// DebugConfig controls the optional operator HTTP endpoint (healthz, status,
// pprof). Off by default.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	IdleTimeout   string `json:"idle_timeout,omitempty"`
}
