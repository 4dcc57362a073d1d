package pipeline

import (
	"context"
	"fmt"
	"time"

	"postpilot/internal/publish"
	"postpilot/pkg/models"
)

type Config struct {
	Enabled      bool
	PollInterval time.Duration
	BatchSize    int
	// JobWorkers bounds jobs processed concurrently within one cycle.
	JobWorkers int
	// PlatformWorkers bounds concurrent platform calls within one job.
	PlatformWorkers int
	PublishTimeout  time.Duration
	StuckAfter      time.Duration
	StuckInterval   time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 30 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.JobWorkers <= 0 {
		c.JobWorkers = 4
	}
	if c.PlatformWorkers <= 0 {
		c.PlatformWorkers = 8
	}
	if c.PublishTimeout <= 0 {
		c.PublishTimeout = 30 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 15 * time.Minute
	}
	if c.StuckInterval <= 0 {
		c.StuckInterval = 5 * time.Minute
	}
	return c
}

// ContentGenerator is satisfied by *content.Generator.
type ContentGenerator interface {
	Generate(ctx context.Context, topic, platform, style string) models.Content
}

// Publisher is satisfied by *publish.Registry.
type Publisher interface {
	Publish(ctx context.Context, platform string, c models.Content, cred publish.Credential) publish.Outcome
}

// FaultError is a JobProcessingFault: a store or programming fault that
// leaves the job in its current state.
type FaultError struct {
	JobID string
	Stage string
	Err   error
}

func (e *FaultError) Error() string {
	return fmt.Sprintf("job %s: %s: %v", e.JobID, e.Stage, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// CycleReport summarizes one poll cycle.
type CycleReport struct {
	Due       int
	Claimed   int
	Skipped   int
	Completed int
	Failed    int
	Faults    int
}
