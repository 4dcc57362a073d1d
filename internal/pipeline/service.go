package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"postpilot/internal/accounts"
	"postpilot/internal/eventbus"
	"postpilot/internal/runtime/supervisor"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

type Deps struct {
	Store     storage.Store
	Generator ContentGenerator
	Accounts  accounts.Directory
	Publisher Publisher
	Bus       eventbus.Bus
	Log       logx.Logger
}

type Service struct {
	mu  sync.Mutex
	cfg Config

	store storage.Store
	gen   ContentGenerator
	dir   accounts.Directory
	pub   Publisher
	bus   eventbus.Bus
	log   logx.Logger
	now   func() time.Time

	sup     *supervisor.Supervisor
	applied chan struct{}
}

func New(cfg Config, d Deps) *Service {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Bus == nil {
		d.Bus = eventbus.Nop()
	}
	return &Service{
		cfg:     cfg.withDefaults(),
		store:   d.Store,
		gen:     d.Generator,
		dir:     d.Accounts,
		pub:     d.Publisher,
		bus:     d.Bus,
		log:     d.Log.With(logx.String("comp", "pipeline")),
		now:     time.Now,
		applied: make(chan struct{}, 1),
	}
}

func (s *Service) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// StuckAfter is the age past which an in-flight job counts as stuck.
func (s *Service) StuckAfter() time.Duration { return s.config().StuckAfter }

// Apply swaps the config. A running loop picks up the new poll interval on
// its next wakeup.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
	select {
	case s.applied <- struct{}{}:
	default:
	}
}

// Start launches the poll loop and stuck reporter. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sup != nil {
		return
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("pipeline.poll", s.pollLoop, supervisor.WithRestartBackoff(time.Second, 30*time.Second))
	s.sup.GoRestart("pipeline.stuck", s.stuckLoop, supervisor.WithRestartBackoff(time.Second, time.Minute))
	s.log.Info("service started",
		logx.Bool("enabled", s.cfg.Enabled),
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.Int("job_workers", s.cfg.JobWorkers),
	)
}

// Stop stops the ticker and waits for in-flight jobs, bounded by ctx.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	err := sup.Stop(ctx)
	s.log.Info("service stopped", logx.Duration("took", time.Since(start)))
	return err
}

func (s *Service) pollLoop(ctx context.Context) error {
	interval := s.config().PollInterval
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.applied:
			if next := s.config().PollInterval; next != interval {
				interval = next
				t.Reset(interval)
				s.log.Debug("poll interval changed", logx.Duration("interval", interval))
			}
		case <-t.C:
			if !s.config().Enabled {
				continue
			}
			rep, err := s.PollOnce(ctx)
			if err != nil {
				s.log.Error("poll cycle failed", logx.Err(err))
				continue
			}
			if rep.Due > 0 {
				s.log.Info("poll cycle done",
					logx.Int("due", rep.Due),
					logx.Int("claimed", rep.Claimed),
					logx.Int("completed", rep.Completed),
					logx.Int("failed", rep.Failed),
					logx.Int("faults", rep.Faults),
				)
			}
		}
	}
}

// PollOnce runs one cycle. Only a failure to read due jobs is returned;
// per-job faults are logged and counted.
func (s *Service) PollOnce(ctx context.Context) (CycleReport, error) {
	cfg := s.config()
	due, err := s.store.Due(ctx, s.now(), cfg.BatchSize)
	if err != nil {
		return CycleReport{}, &FaultError{Stage: "due", Err: err}
	}
	rep := CycleReport{Due: len(due)}
	if len(due) == 0 {
		return rep, nil
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(cfg.JobWorkers)
	for _, job := range due {
		job := job
		g.Go(func() error {
			res, claimed := s.processJob(ctx, cfg, job)
			mu.Lock()
			res.add(&rep, claimed)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return rep, nil
}

type jobResult int

const (
	resultSkipped jobResult = iota
	resultCompleted
	resultFailed
	resultFault
)

func (r jobResult) add(rep *CycleReport, claimed bool) {
	if claimed {
		rep.Claimed++
	}
	switch r {
	case resultSkipped:
		rep.Skipped++
	case resultCompleted:
		rep.Completed++
	case resultFailed:
		rep.Failed++
	case resultFault:
		rep.Faults++
	}
}

// ReportStuck logs and returns in-flight jobs older than StuckAfter.
func (s *Service) ReportStuck(ctx context.Context) ([]*models.Job, error) {
	cfg := s.config()
	jobs, err := s.store.Stuck(ctx, s.now().Add(-cfg.StuckAfter))
	if err != nil {
		return nil, err
	}
	for _, j := range jobs {
		s.log.Warn("job stuck, needs reconciliation",
			logx.String("job", j.ID),
			logx.String("status", string(j.Status)),
			logx.Time("updated_at", j.UpdatedAt),
		)
		s.bus.Publish(eventbus.Event{Type: eventbus.JobStuck, JobID: j.ID, Data: j.Status})
	}
	return jobs, nil
}

func (s *Service) stuckLoop(ctx context.Context) error {
	t := time.NewTicker(s.config().StuckInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if _, err := s.ReportStuck(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("stuck report failed", logx.Err(err))
			}
		}
	}
}
