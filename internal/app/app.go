// Package app wires config, storage, content generation, publishing, the
// scheduler loop and the rule expander into one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postpilot/internal/accounts"
	"postpilot/internal/config"
	"postpilot/internal/content"
	"postpilot/internal/eventbus"
	"postpilot/internal/intake"
	"postpilot/internal/notifier"
	"postpilot/internal/observability/debugsrv"
	"postpilot/internal/pipeline"
	"postpilot/internal/publish"
	"postpilot/internal/recurrence"
	"postpilot/internal/runtime/supervisor"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   *eventbus.Memory
	store storage.Store

	gen      *content.Generator
	registry *publish.Registry
	pipeline *pipeline.Service
	expander *recurrence.Expander
	intake   *intake.Service
	notifier *notifier.Service
	debug    *debugsrv.Server

	startedAt time.Time
}

// Load reads cfgPath and builds an App without starting any goroutines.
func Load(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", cfgPath, err)
	}
	return New(cfg, cfgm)
}

// New builds an App from cfg. cfgm may be nil, in which case hot reload is off.
func New(cfg *config.Config, cfgm *config.Manager) (*App, error) {
	if cfg == nil {
		return nil, errors.New("nil config")
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	logSvc, log := logx.New(mapLogConfig(cfg))

	a, err := build(cfg, log)
	if err != nil {
		_ = logSvc.Close()
		return nil, err
	}
	a.cfgm = cfgm
	a.logs = logSvc
	return a, nil
}

func build(cfg *config.Config, root logx.Logger) (*App, error) {
	log := root.With(logx.String("comp", "app"))

	sc, err := mapStorageConfig(cfg)
	if err != nil {
		return nil, err
	}
	pcfg, err := mapPipelineConfig(cfg)
	if err != nil {
		return nil, err
	}
	rcfg, err := mapRecurrenceConfig(cfg)
	if err != nil {
		return nil, err
	}
	gen, err := buildGenerator(cfg, root)
	if err != nil {
		return nil, err
	}
	reg, err := buildRegistry(cfg, pcfg.PublishTimeout, root)
	if err != nil {
		return nil, err
	}
	ncfg, err := mapNotifierConfig(cfg)
	if err != nil {
		return nil, err
	}
	sender, err := buildAlertSender(cfg, root)
	if err != nil {
		return nil, err
	}
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, err
	}

	store, err := storage.Open(sc, root)
	if err != nil {
		return nil, err
	}
	log.Info("storage opened", logx.String("driver", sc.Driver), logx.String("path", sc.Path))

	bus := eventbus.New()
	a := &App{
		log:      log,
		bus:      bus,
		store:    store,
		gen:      gen,
		registry: reg,
		pipeline: pipeline.New(pcfg, pipeline.Deps{
			Store:     store,
			Generator: gen,
			Accounts:  accounts.NewStoreDirectory(store),
			Publisher: reg,
			Bus:       bus,
			Log:       root,
		}),
		expander: recurrence.New(rcfg, store, bus, root),
		intake:   intake.New(store, intake.Options{KnownPlatforms: reg.Platforms(), Log: root}),
		notifier: notifier.New(ncfg, sender, bus, root),
	}
	a.debug = debugsrv.New(dcfg, a.statusSnapshot, root)
	return a, nil
}

func (a *App) Intake() *intake.Service        { return a.intake }
func (a *App) Pipeline() *pipeline.Service    { return a.pipeline }
func (a *App) Expander() *recurrence.Expander { return a.expander }
func (a *App) Notifier() *notifier.Service    { return a.notifier }
func (a *App) Debug() *debugsrv.Server        { return a.debug }
func (a *App) Store() storage.Store           { return a.store }
func (a *App) Bus() eventbus.Bus              { return a.bus }
func (a *App) Logger() logx.Logger            { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// RunOnce expands rules and runs a single scheduler cycle.
func (a *App) RunOnce(ctx context.Context) (recurrence.Report, pipeline.CycleReport, error) {
	rrep, err := a.expander.RunOnce(ctx)
	if err != nil {
		return rrep, pipeline.CycleReport{}, err
	}
	prep, err := a.pipeline.PollOnce(ctx)
	return rrep, prep, err
}

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))
	a.startedAt = time.Now()

	a.sup.Go0("eventbus.log", a.logEvents)
	// Notifier subscribes before the loops start so no early fault is missed.
	a.notifier.Start(a.sup.Context())
	a.expander.Start(a.sup.Context())
	a.pipeline.Start(a.sup.Context())
	a.debug.Start(a.sup.Context())

	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			_, err := resolveLive(cfg)
			return err
		})
		sub := a.cfgm.Subscribe(8)
		a.sup.Go0("config.reload", func(c context.Context) { a.reloadLoop(c, sub) })
		a.sup.GoRestart("config.watch", a.cfgm.Watch, supervisor.WithRestartBackoff(250*time.Millisecond, 5*time.Second))
	}

	a.log.Info("app started", logx.Strings("platforms", a.registry.Platforms()))
	return nil
}

// logEvents mirrors bus traffic to the debug log.
func (a *App) logEvents(ctx context.Context) {
	events, unsub := a.bus.Subscribe(128)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			a.log.Debug("event", logx.String("type", e.Type), logx.String("job", e.JobID), logx.Time("time", e.Time))
		}
	}
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return a.Close()
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.sup.Cancel()

	var errs []error
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		stepCtx, cancel := context.WithTimeout(ctx, max)
		defer cancel()
		start := time.Now()
		if err := fn(stepCtx); err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
		a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
	}

	// Expander first so no new jobs appear while the pipeline drains.
	step("recurrence", 3*time.Second, a.expander.Stop)
	step("pipeline", 10*time.Second, a.pipeline.Stop)
	step("notifier", 3*time.Second, a.notifier.Stop)
	step("debug", 3*time.Second, func(c context.Context) error {
		a.debug.Stop(c)
		return nil
	})
	step("supervisor", 2*time.Second, a.sup.Wait)
	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Close releases the store and log file. Used directly by one-shot commands.
func (a *App) Close() error {
	var err error
	if a.store != nil {
		err = a.store.Close()
	}
	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return err
}
