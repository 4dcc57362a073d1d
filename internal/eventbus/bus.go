// Package eventbus carries job lifecycle signals from the pipeline and the
// rule expander to observers (debug log, operator alerts, tests). Delivery is
// best-effort: Publish never blocks and a full subscriber misses events.
package eventbus

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

const (
	JobClaimed     = "job.claimed"
	JobGenerated   = "job.generated"
	JobCompleted   = "job.completed"
	JobFailed      = "job.failed"
	JobFault       = "job.fault"
	JobStuck       = "job.stuck"
	PlatformResult = "platform.result"
	RuleExpanded   = "rule.expanded"
)

// Types lists every event type in publish order of a job's life.
var Types = []string{JobClaimed, JobGenerated, PlatformResult, JobCompleted, JobFailed, JobFault, JobStuck, RuleExpanded}

type Event struct {
	Type  string
	Time  time.Time
	JobID string
	// Data depends on Type: a models.PlatformResult, an OutcomeSummary, an
	// error, a status or a rule id.
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns a buffered channel receiving events whose type is in
	// types (all events when types is empty).
	Subscribe(buffer int, types ...string) (ch <-chan Event, unsubscribe func())
}

// Stats are delivery counters since the bus was created.
type Stats struct {
	Published   uint64 `json:"published"`
	Dropped     uint64 `json:"dropped"`
	Subscribers int    `json:"subscribers"`
}

type subscriber struct {
	ch    chan Event
	types []string
}

func (s *subscriber) wants(t string) bool { return len(s.types) == 0 || slices.Contains(s.types, t) }

// Memory is the in-process bus. It owns no goroutines.
type Memory struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber

	published atomic.Uint64
	dropped   atomic.Uint64
}

func New() *Memory { return &Memory{subs: map[uint64]*subscriber{}} }

func (b *Memory) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.published.Add(1)
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if !s.wants(e.Type) {
			continue
		}
		select {
		case s.ch <- e:
		default:
			b.dropped.Add(1)
		}
	}
}

func (b *Memory) Subscribe(buffer int, types ...string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, max(buffer, 1)), types: slices.Clone(types)}
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			// Under the write lock no Publish can be sending on s.ch.
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

func (b *Memory) Stats() Stats {
	b.mu.RLock()
	n := len(b.subs)
	b.mu.RUnlock()
	return Stats{Published: b.published.Load(), Dropped: b.dropped.Load(), Subscribers: n}
}

// Nop returns a bus that drops everything.
func Nop() Bus { return nop{} }

type nop struct{}

func (nop) Publish(Event) {}

func (nop) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
