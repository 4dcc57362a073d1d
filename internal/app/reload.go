package app

import (
	"context"
	"slices"
	"strings"
	"time"

	"postpilot/internal/config"
	"postpilot/internal/notifier"
	"postpilot/internal/observability/debugsrv"
	"postpilot/internal/pipeline"
	"postpilot/internal/recurrence"
	logx "postpilot/pkg/logx"
)

// liveConfig is the hot-reloadable part of the config.
type liveConfig struct {
	log        logx.Config
	pipeline   pipeline.Config
	recurrence recurrence.Config
	notifier   notifier.Config
	debug      debugsrv.Config
}

func resolveLive(cfg *config.Config) (liveConfig, error) {
	p, err := mapPipelineConfig(cfg)
	if err != nil {
		return liveConfig{}, err
	}
	r, err := mapRecurrenceConfig(cfg)
	if err != nil {
		return liveConfig{}, err
	}
	n, err := mapNotifierConfig(cfg)
	if err != nil {
		return liveConfig{}, err
	}
	d, err := mapDebugConfig(cfg)
	if err != nil {
		return liveConfig{}, err
	}
	return liveConfig{log: mapLogConfig(cfg), pipeline: p, recurrence: r, notifier: n, debug: d}, nil
}

// restartOnly lists sections whose changes need a process restart.
var restartOnly = []string{"storage", "generator", "publish"}

// reloadLoop applies committed config changes. A burst is coalesced into
// one apply from the oldest Prev to the newest Next.
func (a *App) reloadLoop(ctx context.Context, sub <-chan config.Change) {
	defer a.cfgm.Unsubscribe(sub)
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-sub:
			if !ok {
				return
			}
			for more := true; more; {
				select {
				case newer, ok := <-sub:
					if !ok {
						return
					}
					c.Next = newer.Next
				default:
					more = false
				}
			}
			a.applyConfig(ctx, c.Prev, c.Next)
		}
	}
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	live, err := resolveLive(next)
	if err != nil {
		a.log.Warn("invalid config; keeping previous", logx.Err(err))
		return
	}
	for _, s := range restartOnly {
		if slices.Contains(sections, s) {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	if err := a.logs.Apply(live.log); err != nil {
		a.log.Warn("log sink reload incomplete", logx.Err(err))
	}
	a.pipeline.Apply(live.pipeline)
	a.expander.Apply(live.recurrence)
	a.applyNotifier(ctx, live.notifier)
	a.debug.Reconfigure(ctx, live.debug)

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// applyNotifier swaps the alert settings and starts or stops the service when
// the enabled flag flips. Sender changes (telegram chat) need a restart.
func (a *App) applyNotifier(ctx context.Context, cfg notifier.Config) {
	was := a.notifier.Enabled()
	a.notifier.Apply(cfg)
	switch {
	case cfg.Enabled && !was:
		a.notifier.Start(ctx)
	case !cfg.Enabled && was:
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := a.notifier.Stop(stopCtx); err != nil {
			a.log.Warn("notifier stop failed", logx.Err(err))
		}
	}
}
