package notifier

import (
	"context"
	"errors"
	"time"

	"postpilot/internal/eventbus"
)

var (
	ErrDisabled  = errors.New("notifier: disabled")
	ErrStopped   = errors.New("notifier: not running")
	ErrQueueFull = errors.New("notifier: queue full")
)

type Config struct {
	Enabled bool
	Workers int
	// QueueSize bounds alerts waiting for a worker; overflow is dropped.
	QueueSize  int
	RatePerSec float64
	// RetryMax is the number of resends after the first failed attempt.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	// DedupWindow suppresses repeats of the same kind for the same job.
	DedupWindow     time.Duration
	DedupMaxEntries int
	// Events selects the bus event types that raise alerts. Empty means DefaultEvents.
	Events []string
}

func (c Config) withDefaults() Config {
	c.Workers = max(c.Workers, 1)
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	c.RetryMax = max(c.RetryMax, 0)
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 10 * time.Second
	}
	c.DedupWindow = max(c.DedupWindow, 0)
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = 2000
	}
	if len(c.Events) == 0 {
		c.Events = DefaultEvents
	}
	return c
}

// DefaultEvents are the bus events that need a human.
var DefaultEvents = []string{eventbus.JobFault, eventbus.JobStuck, eventbus.JobFailed}

type Alert struct {
	Kind  string
	JobID string
	Text  string
}

func (a Alert) key() string {
	if a.JobID != "" {
		return a.Kind + "|" + a.JobID
	}
	return a.Kind + "|" + a.Text
}

// Sender delivers rendered alert text to the operator.
type Sender interface {
	Send(ctx context.Context, text string) error
}

type HistoryItem struct {
	At   time.Time `json:"at"`
	Kind string    `json:"kind"`
	Text string    `json:"text"`
}
