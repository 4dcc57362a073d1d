package notifier

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"postpilot/internal/eventbus"
	"postpilot/internal/runtime/supervisor"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

const historySize = 300

// Service is safe for concurrent use. Start and Stop may be called repeatedly
// as notifier.enabled flips on reload.
type Service struct {
	log    logx.Logger
	sender Sender
	bus    eventbus.Bus
	now    func() time.Time

	mu      sync.Mutex
	cfg     Config
	limiter *rate.Limiter
	run     *running

	seen *dedup
	sent *history
}

// running is the state of one Start..Stop cycle.
type running struct {
	queue    chan Alert
	sup      *supervisor.Supervisor
	unsub    func()
	inflight sync.WaitGroup
	stopping chan struct{}
	stopped  chan struct{}
}

// New uses a LogSender when sender is nil.
func New(cfg Config, sender Sender, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "notifier"))
	if bus == nil {
		bus = eventbus.Nop()
	}
	if sender == nil {
		sender = LogSender{Log: log}
	}
	s := &Service{
		log:    log,
		sender: sender,
		bus:    bus,
		now:    time.Now,
		seen:   newDedup(),
		sent:   &history{cap: historySize},
	}
	s.Apply(cfg)
	return s
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps settings. Queue size and worker count apply on the next Start.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), max(1, int(cfg.RatePerSec)))
}

func (s *Service) settings() (Config, *rate.Limiter) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg, s.limiter
}

// Start is a no-op while disabled or already running.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if prev := s.run; prev != nil {
		s.mu.Unlock()
		// A Stop in progress must finish before a new cycle begins.
		select {
		case <-prev.stopping:
		default:
			return
		}
		select {
		case <-prev.stopped:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
	}
	if s.run != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	cfg := s.cfg
	r := &running{
		queue:    make(chan Alert, cfg.QueueSize),
		stopping: make(chan struct{}),
		stopped:  make(chan struct{}),
		// Alerts are best effort; a broken sender never takes the app down.
		sup: supervisor.New(ctx, supervisor.WithLogger(s.log), supervisor.WithCancelOnError(false)),
	}
	events, unsub := s.bus.Subscribe(64)
	r.unsub = unsub
	s.run = r
	s.mu.Unlock()

	r.sup.Go0("notifier.events", func(c context.Context) { s.forward(c, r, events) })
	for i := range cfg.Workers {
		r.sup.Go0(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) { s.work(c, r.queue) })
	}
	s.log.Info("service started", logx.Int("workers", cfg.Workers), logx.Strings("events", cfg.Events))
}

// Stop stops intake, lets workers drain the queue and waits, bounded by ctx.
// On timeout the workers are canceled and the rest of the queue is lost.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	r := s.run
	s.mu.Unlock()
	if r == nil {
		return nil
	}

	s.mu.Lock()
	select {
	case <-r.stopping:
	default:
		close(r.stopping)
		go s.drain(r)
	}
	s.mu.Unlock()

	select {
	case <-r.stopped:
		return nil
	case <-ctx.Done():
		r.sup.Cancel()
		return ctx.Err()
	}
}

func (s *Service) drain(r *running) {
	defer close(r.stopped)
	r.unsub()
	r.inflight.Wait()
	close(r.queue)
	_ = r.sup.Wait(context.Background())

	s.mu.Lock()
	if s.run == r {
		s.run = nil
	}
	s.mu.Unlock()
	s.log.Info("service stopped")
}

// Notify queues a for delivery. A duplicate inside the dedup window is
// dropped and reported as success.
func (s *Service) Notify(ctx context.Context, a Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	cfg, r := s.cfg, s.run
	if !cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if r == nil || isClosed(r.stopping) {
		s.mu.Unlock()
		return ErrStopped
	}
	r.inflight.Add(1)
	s.mu.Unlock()
	defer r.inflight.Done()

	if !s.seen.allow(a.key(), s.now(), cfg.DedupWindow, cfg.DedupMaxEntries) {
		s.log.Debug("alert suppressed (dedup)", logx.String("kind", a.Kind), logx.String("job", a.JobID))
		return nil
	}
	select {
	case r.queue <- a:
		return nil
	default:
		s.log.Warn("alert dropped (queue full)", logx.String("kind", a.Kind), logx.String("job", a.JobID))
		return ErrQueueFull
	}
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

// Snapshot returns recently delivered alerts, oldest first.
func (s *Service) Snapshot() []HistoryItem { return s.sent.list() }

func (s *Service) forward(ctx context.Context, r *running, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			cfg, _ := s.settings()
			if !slices.Contains(cfg.Events, e.Type) {
				continue
			}
			if err := s.Notify(ctx, AlertFor(e)); err != nil && !errors.Is(err, ErrStopped) {
				s.log.Debug("alert not queued", logx.String("event", e.Type), logx.Err(err))
			}
		}
	}
}

// AlertFor renders a bus event as operator text.
func AlertFor(e eventbus.Event) Alert {
	a := Alert{Kind: e.Type, JobID: e.JobID}
	switch e.Type {
	case eventbus.JobFault:
		detail := fmt.Sprint(e.Data)
		if err, ok := e.Data.(error); ok {
			detail = err.Error()
		}
		a.Text = fmt.Sprintf("job %s hit a processing fault and was left as is: %s", e.JobID, detail)
	case eventbus.JobFailed:
		a.Text = fmt.Sprintf("job %s failed on every platform", e.JobID)
		if sum, ok := e.Data.(models.OutcomeSummary); ok && sum.LastError != "" {
			a.Text += ": " + sum.LastError
		}
	case eventbus.JobStuck:
		a.Text = fmt.Sprintf("job %s is stuck in %v and needs reconciliation", e.JobID, e.Data)
	default:
		a.Text = fmt.Sprintf("%s: job %s", e.Type, e.JobID)
	}
	return a
}
