package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"postpilot/pkg/models"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrInvalidJob = errors.New("invalid job")
	// ErrConflict means the compare-and-set lost: the row was not in the expected status.
	ErrConflict = errors.New("status conflict")
	// ErrInvalidTransition means the requested move is not forward along the state machine.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file
//   - "memory": in-process maps (not durable)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Update carries the optional columns written alongside a status transition.
// Nil fields are left untouched.
type Update struct {
	Content     map[string]models.Content
	Outcome     *models.OutcomeSummary
	CompletedAt *time.Time
}

// Store is the persistence API used by the pipeline, expander and intake.
type Store interface {
	// Enqueue inserts a new pending job and returns its id.
	Enqueue(ctx context.Context, job *models.Job) (string, error)
	Get(ctx context.Context, id string) (*models.Job, error)
	// Due returns pending jobs with scheduled_at <= now ordered by scheduled_at ascending.
	Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error)
	// Claim atomically moves a pending job to `to`. It reports false if another
	// worker already moved it.
	Claim(ctx context.Context, id string, to models.Status, now time.Time) (bool, error)
	// Transition moves a job from -> to if it is still in `from`.
	Transition(ctx context.Context, id string, from, to models.Status, u Update) error
	ListByOwner(ctx context.Context, owner string, limit int) ([]*models.Job, error)
	// Stuck returns in-flight jobs whose last update is older than before.
	Stuck(ctx context.Context, before time.Time) ([]*models.Job, error)

	CreateRule(ctx context.Context, r *models.Rule) (string, error)
	GetRule(ctx context.Context, id string) (*models.Rule, error)
	ListRules(ctx context.Context, owner string) ([]*models.Rule, error)
	ActiveRules(ctx context.Context) ([]*models.Rule, error)
	SetRuleActive(ctx context.Context, id string, active bool) error
	// MaterializeRuleJob inserts a pending job for (job.RuleID, job.ScheduledAt)
	// unless one already exists. It reports whether a row was created.
	MaterializeRuleJob(ctx context.Context, job *models.Job) (bool, error)
	AdvanceRuleCursor(ctx context.Context, id string, until time.Time) error

	// LinkAccount upserts the (owner, platform) account and marks it active.
	LinkAccount(ctx context.Context, a models.LinkedAccount) error
	UnlinkAccount(ctx context.Context, owner, platform string) error
	// FindAccount returns the active account for (owner, platform) or ErrNotFound.
	FindAccount(ctx context.Context, owner, platform string) (*models.LinkedAccount, error)
	ListAccounts(ctx context.Context, owner string) ([]models.LinkedAccount, error)

	Close() error
}

// checkTransition validates a requested move before touching storage.
func checkTransition(from, to models.Status) error {
	if !from.CanAdvanceTo(to) {
		return ErrInvalidTransition
	}
	return nil
}

// checkClaimTarget allows pending -> generating | publishing only.
func checkClaimTarget(to models.Status) error {
	if to != models.StatusGenerating && to != models.StatusPublishing {
		return ErrInvalidTransition
	}
	return nil
}

// prepareJob fills id/status/timestamps on a job about to be inserted.
func prepareJob(job *models.Job, now time.Time) error {
	if job == nil {
		return fmt.Errorf("%w: nil", ErrInvalidJob)
	}
	if len(job.Platforms) == 0 {
		return fmt.Errorf("%w: no platforms", ErrInvalidJob)
	}
	if job.ID == "" {
		job.ID = newID()
	}
	job.Status = models.StatusPending
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	if job.ScheduledAt.IsZero() {
		job.ScheduledAt = job.CreatedAt
	}
	job.UpdatedAt = job.CreatedAt
	job.CompletedAt = nil
	job.Outcome = nil
	return nil
}

func prepareRule(r *models.Rule, now time.Time) error {
	if r == nil {
		return errors.New("nil rule")
	}
	if r.ID == "" {
		r.ID = newID()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.ExpandedUntil.IsZero() {
		r.ExpandedUntil = r.CreatedAt
	}
	return nil
}
