package config

import (
	"reflect"
	"sort"

	logx "postpilot/pkg/logx"
)

// SummarizeChange returns the changed top-level sections and safe structured
// attrs for logging. API keys and credentials are never included.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.String("logging.format", newCfg.Logging.Format),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Storage, newCfg.Storage) {
		changed = append(changed, "storage")
		attrs = append(attrs, logx.String("storage.driver", newCfg.Storage.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		s := newCfg.Scheduler
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", s.IsEnabled()),
			logx.String("scheduler.poll_interval", s.PollInterval),
			logx.Int("scheduler.batch_size", s.BatchSize),
			logx.Int("scheduler.job_workers", s.JobWorkers),
		)
	}
	if generatorChanged(oldCfg.Generator, newCfg.Generator) {
		changed = append(changed, "generator")
		attrs = append(attrs,
			logx.String("generator.primary", providerKind(newCfg.Generator.Primary)),
			logx.String("generator.secondary", providerKind(newCfg.Generator.Secondary)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Publish, newCfg.Publish) {
		names := make([]string, 0, len(newCfg.Publish.Platforms))
		for name := range newCfg.Publish.Platforms {
			names = append(names, name)
		}
		sort.Strings(names)
		changed = append(changed, "publish")
		attrs = append(attrs, logx.Strings("publish.platforms", names))
	}
	if !reflect.DeepEqual(oldCfg.Recurrence, newCfg.Recurrence) {
		changed = append(changed, "recurrence")
		attrs = append(attrs,
			logx.Bool("recurrence.enabled", newCfg.Recurrence.IsEnabled()),
			logx.String("recurrence.timezone", newCfg.Recurrence.Timezone),
		)
	}
	if !reflect.DeepEqual(oldCfg.Notifier, newCfg.Notifier) {
		changed = append(changed, "notifier")
		attrs = append(attrs,
			logx.Bool("notifier.enabled", newCfg.Notifier.Enabled),
			logx.Bool("notifier.telegram", newCfg.Notifier.Telegram != nil),
		)
	}
	if oldCfg.Debug != newCfg.Debug {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", newCfg.Debug.Addr),
			logx.Bool("debug.token_set", newCfg.Debug.Token != ""),
		)
	}
	return changed, attrs
}

func providerKind(p *ProviderConfig) string {
	if p == nil {
		return ""
	}
	return p.Kind
}

// generatorChanged compares provider configs by resolved key so that an env
// change is noticed without ever surfacing the key itself.
func generatorChanged(a, b GeneratorConfig) bool {
	if a.Timeout != b.Timeout {
		return true
	}
	return providerChanged(a.Primary, b.Primary) || providerChanged(a.Secondary, b.Secondary)
}

func providerChanged(a, b *ProviderConfig) bool {
	if (a == nil) != (b == nil) {
		return true
	}
	if a == nil {
		return false
	}
	return *a != *b || a.Key() != b.Key()
}
