package app

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/content"
	"postpilot/internal/notifier"
	"postpilot/internal/observability/debugsrv"
	"postpilot/internal/pipeline"
	"postpilot/internal/publish"
	"postpilot/internal/publish/telegram"
	"postpilot/internal/recurrence"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		Format:  cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	s := cfg.Scheduler
	out := pipeline.Config{
		Enabled:         s.IsEnabled(),
		BatchSize:       s.BatchSize,
		JobWorkers:      s.JobWorkers,
		PlatformWorkers: s.PlatformWorkers,
	}
	var err error
	if out.PollInterval, err = config.ParseDurationField("scheduler.poll_interval", s.PollInterval); err != nil {
		return pipeline.Config{}, err
	}
	if out.PublishTimeout, err = config.ParseDurationField("scheduler.publish_timeout", s.PublishTimeout); err != nil {
		return pipeline.Config{}, err
	}
	if out.StuckAfter, err = config.ParseDurationField("scheduler.stuck_after", s.StuckAfter); err != nil {
		return pipeline.Config{}, err
	}
	if out.StuckInterval, err = config.ParseDurationField("scheduler.stuck_interval", s.StuckInterval); err != nil {
		return pipeline.Config{}, err
	}
	return out, nil
}

func mapRecurrenceConfig(cfg *config.Config) (recurrence.Config, error) {
	r := cfg.Recurrence
	out := recurrence.Config{Enabled: r.IsEnabled(), Location: time.UTC}
	var err error
	if out.Interval, err = config.ParseDurationField("recurrence.interval", r.Interval); err != nil {
		return recurrence.Config{}, err
	}
	if out.Lookahead, err = config.ParseDurationField("recurrence.lookahead", r.Lookahead); err != nil {
		return recurrence.Config{}, err
	}
	if out.MaxCatchUp, err = config.ParseDurationField("recurrence.max_catch_up", r.MaxCatchUp); err != nil {
		return recurrence.Config{}, err
	}
	if tz := strings.TrimSpace(r.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return recurrence.Config{}, fmt.Errorf("recurrence.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}
	return out, nil
}

// buildProvider returns nil for an omitted provider or one without an API key.
func buildProvider(path string, pc *config.ProviderConfig, log logx.Logger) content.Provider {
	if pc == nil {
		return nil
	}
	key := pc.Key()
	kind := strings.ToLower(strings.TrimSpace(pc.Kind))
	if key == "" {
		log.Warn("content provider has no api key; skipping", logx.String("provider", path), logx.String("kind", kind))
		return nil
	}
	log.Info("content provider configured", logx.String("provider", path), logx.String("kind", kind), logx.Secret("api_key", key))
	switch kind {
	case "gemini":
		return content.NewGemini(content.GeminiConfig{APIKey: key, Model: pc.Model, BaseURL: pc.BaseURL})
	case "openai":
		return content.NewOpenAI(content.OpenAIConfig{
			APIKey:      key,
			Model:       pc.Model,
			BaseURL:     pc.BaseURL,
			Temperature: pc.Temperature,
			MaxTokens:   pc.MaxTokens,
		})
	default:
		log.Warn("unknown content provider kind; skipping", logx.String("provider", path), logx.String("kind", pc.Kind))
		return nil
	}
}

func buildGenerator(cfg *config.Config, log logx.Logger) (*content.Generator, error) {
	timeout, err := config.ParseDurationField("generator.timeout", cfg.Generator.Timeout)
	if err != nil {
		return nil, err
	}
	primary := buildProvider("primary", cfg.Generator.Primary, log)
	secondary := buildProvider("secondary", cfg.Generator.Secondary, log)
	return content.NewGenerator(content.Config{Timeout: timeout}, primary, secondary, log), nil
}

func mapBreakerConfig(c config.CircuitConfig) (publish.BreakerConfig, error) {
	out := publish.BreakerConfig{TripFailures: c.TripFailures}
	var err error
	if out.BaseDelay, err = config.ParseDurationField("publish.circuit.base_delay", c.BaseDelay); err != nil {
		return publish.BreakerConfig{}, err
	}
	if out.MaxDelay, err = config.ParseDurationField("publish.circuit.max_delay", c.MaxDelay); err != nil {
		return publish.BreakerConfig{}, err
	}
	if out.ResetAfter, err = config.ParseDurationField("publish.circuit.reset_after", c.ResetAfter); err != nil {
		return publish.BreakerConfig{}, err
	}
	return out, nil
}

// platformModes resolves the adapter mode of every platform: the built-in
// simulated platforms default to simulate, configured entries override.
func platformModes(pc config.PublishConfig) map[string]config.PlatformConfig {
	out := map[string]config.PlatformConfig{}
	for _, p := range publish.SimulatedPlatforms {
		out[p] = config.PlatformConfig{Mode: config.ModeSimulate}
	}
	for name, p := range pc.Platforms {
		name = models.NormalizeTag(name)
		p.Mode = strings.ToLower(strings.TrimSpace(p.Mode))
		if p.Mode == "" {
			p.Mode = config.ModeSimulate
		}
		out[name] = p
	}
	return out
}

// buildRegistry creates one guarded adapter per enabled platform.
func buildRegistry(cfg *config.Config, publishTimeout time.Duration, log logx.Logger) (*publish.Registry, error) {
	br, err := mapBreakerConfig(cfg.Publish.Circuit)
	if err != nil {
		return nil, err
	}
	modes := platformModes(cfg.Publish)
	names := make([]string, 0, len(modes))
	for name := range modes {
		names = append(names, name)
	}
	sort.Strings(names)

	reg := publish.NewRegistry()
	for _, name := range names {
		pc := modes[name]
		var adapter publish.Publisher
		switch pc.Mode {
		case config.ModeOff:
			continue
		case config.ModeSimulate:
			latency, err := config.ParseDurationField("publish.platforms."+name+".latency", pc.Latency)
			if err != nil {
				return nil, err
			}
			adapter = publish.NewSimulated(name, publish.SimulatedOptions{
				Latency:  latency,
				FailWith: publish.ErrorKind(strings.ToLower(strings.TrimSpace(pc.FailWith))),
				Log:      log,
			})
		case config.ModeTelegram:
			if name != telegram.Platform {
				return nil, fmt.Errorf("publish.platforms.%s: telegram mode is only valid for the telegram platform", name)
			}
			adapter = telegram.New(telegram.Config{URL: pc.APIURL, Timeout: publishTimeout}, log)
		default:
			return nil, fmt.Errorf("publish.platforms.%s.mode: unknown mode %q", name, pc.Mode)
		}

		rps := cfg.Publish.RatePerSec
		if pc.RatePerSec > 0 {
			rps = pc.RatePerSec
		}
		if err := reg.Register(publish.NewGuard(adapter, publish.GuardConfig{
			RatePerSec: rps,
			Burst:      cfg.Publish.Burst,
			Breaker:    br,
		})); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	out := notifier.Config{
		Enabled:    n.Enabled,
		Workers:    n.Workers,
		QueueSize:  n.QueueSize,
		RatePerSec: n.RatePerSec,
		RetryMax:   n.RetryMax,
		Events:     append([]string(nil), n.Events...),
	}
	var err error
	if out.RetryBase, err = config.ParseDurationField("notifier.retry_base", n.RetryBase); err != nil {
		return notifier.Config{}, err
	}
	if out.RetryMaxDelay, err = config.ParseDurationField("notifier.retry_max_delay", n.RetryMaxDelay); err != nil {
		return notifier.Config{}, err
	}
	if out.DedupWindow, err = config.ParseDurationField("notifier.dedup_window", n.DedupWindow); err != nil {
		return notifier.Config{}, err
	}
	return out, nil
}

// buildAlertSender returns nil (log sender) unless a telegram chat is configured.
func buildAlertSender(cfg *config.Config, log logx.Logger) (notifier.Sender, error) {
	tg := cfg.Notifier.Telegram
	if tg == nil {
		return nil, nil
	}
	token := tg.BotToken()
	if token == "" {
		log.Warn("notifier telegram token missing; alerts go to the log")
		return nil, nil
	}
	return notifier.NewTelegramSender(notifier.TelegramConfig{Token: token, ChatID: tg.ChatID, URL: tg.APIURL})
}

// mapDebugConfig refuses a public bind without a token or explicit opt-in.
func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	out := debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          strings.TrimSpace(d.Addr),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
	}
	if out.Addr == "" {
		out.Addr = debugsrv.DefaultAddr
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second); err != nil {
		return debugsrv.Config{}, err
	}
	if out.IdleTimeout, err = config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 2*time.Minute); err != nil {
		return debugsrv.Config{}, err
	}
	if out.Enabled {
		if _, _, err := net.SplitHostPort(out.Addr); err != nil {
			return debugsrv.Config{}, fmt.Errorf("debug.addr: invalid %q (expected host:port): %w", out.Addr, err)
		}
		if !out.AllowInsecure && out.Token == "" && !debugsrv.IsLoopbackAddr(out.Addr) {
			return debugsrv.Config{}, fmt.Errorf("debug: non-loopback addr %q requires token or allow_insecure", out.Addr)
		}
	}
	return out, nil
}
