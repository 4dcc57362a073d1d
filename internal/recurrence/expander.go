// Package recurrence materializes scheduled jobs from active automation
// rules. Rules are templates: expansion never consumes or modifies them
// beyond advancing their cursor.
package recurrence

import (
	"context"
	"sync"
	"time"

	"postpilot/internal/eventbus"
	"postpilot/internal/runtime/supervisor"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

type Config struct {
	Enabled  bool
	Interval time.Duration
	// Lookahead materializes occurrences this far into the future.
	Lookahead time.Duration
	// MaxCatchUp drops occurrences older than now-MaxCatchUp (e.g. after downtime).
	MaxCatchUp time.Duration
	Location   *time.Location
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Lookahead <= 0 {
		c.Lookahead = time.Hour
	}
	if c.MaxCatchUp <= 0 {
		c.MaxCatchUp = 6 * time.Hour
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
	return c
}

type Report struct {
	Rules   int
	Created int
	Errors  int
}

type Expander struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	sup *supervisor.Supervisor
}

func New(cfg Config, st storage.Store, bus eventbus.Bus, log logx.Logger) *Expander {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	return &Expander{
		cfg:   cfg.withDefaults(),
		store: st,
		bus:   bus,
		log:   log.With(logx.String("comp", "recurrence")),
		now:   time.Now,
	}
}

func (e *Expander) config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

func (e *Expander) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.mu.Unlock()
}

func (e *Expander) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.sup != nil {
		return
	}
	e.sup = supervisor.New(ctx, supervisor.WithLogger(e.log))
	e.sup.GoRestart("recurrence.expand", e.loop, supervisor.WithRestartBackoff(time.Second, time.Minute))
	e.log.Info("service started", logx.Bool("enabled", e.cfg.Enabled), logx.String("tz", e.cfg.Location.String()))
}

func (e *Expander) Stop(ctx context.Context) error {
	e.mu.Lock()
	sup := e.sup
	e.sup = nil
	e.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (e *Expander) loop(ctx context.Context) error {
	interval := e.config().Interval
	t := time.NewTicker(interval)
	defer t.Stop()
	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			e.tick(ctx)
			if next := e.config().Interval; next != interval {
				interval = next
				t.Reset(interval)
			}
		}
	}
}

func (e *Expander) tick(ctx context.Context) {
	if !e.config().Enabled {
		return
	}
	rep, err := e.RunOnce(ctx)
	if err != nil {
		e.log.Error("expansion failed", logx.Err(err))
		return
	}
	if rep.Created > 0 || rep.Errors > 0 {
		e.log.Info("rules expanded", logx.Int("rules", rep.Rules), logx.Int("created", rep.Created), logx.Int("errors", rep.Errors))
	}
}

// RunOnce expands every active rule up to now+Lookahead.
func (e *Expander) RunOnce(ctx context.Context) (Report, error) {
	rules, err := e.store.ActiveRules(ctx)
	if err != nil {
		return Report{}, err
	}
	rep := Report{Rules: len(rules)}
	now := e.now()
	for _, r := range rules {
		n, err := e.ExpandRule(ctx, r, now)
		rep.Created += n
		if err != nil {
			rep.Errors++
			e.log.Warn("rule expansion failed", logx.String("rule", r.ID), logx.Err(err))
		}
	}
	return rep, nil
}

// ExpandRule materializes occurrences in (cursor, now+Lookahead] and
// advances the cursor. Re-running over the same window creates nothing.
func (e *Expander) ExpandRule(ctx context.Context, r *models.Rule, now time.Time) (int, error) {
	cfg := e.config()
	until := now.Add(cfg.Lookahead)
	after := r.ExpandedUntil
	if after.IsZero() {
		after = r.CreatedAt
	}
	if floor := now.Add(-cfg.MaxCatchUp); after.Before(floor) {
		after = floor
	}
	if !after.Before(until) {
		return 0, nil
	}

	occ, err := Occurrences(r, cfg.Location, after, until)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, o := range occ {
		job := &models.Job{
			Owner:       r.Owner,
			Topic:       RenderTopic(r.TopicTemplate, r, o, cfg.Location),
			Platforms:   append([]string(nil), r.Platforms...),
			Style:       r.Style,
			ScheduledAt: o.At.UTC(),
			RuleID:      r.ID,
		}
		ok, err := e.store.MaterializeRuleJob(ctx, job)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			e.log.Debug("job materialized", logx.String("rule", r.ID), logx.String("job", job.ID), logx.Time("at", job.ScheduledAt))
			e.bus.Publish(eventbus.Event{Type: eventbus.RuleExpanded, JobID: job.ID, Data: r.ID})
		}
	}
	if err := e.store.AdvanceRuleCursor(ctx, r.ID, until); err != nil {
		return created, err
	}
	return created, nil
}
