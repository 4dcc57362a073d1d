package storage

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"postpilot/pkg/models"
)

type memJob struct {
	seq uint64
	job *models.Job
}

type memRule struct {
	seq  uint64
	rule *models.Rule
}

type accountKey struct{ owner, platform string }

type slotKey struct {
	ruleID string
	at     int64
}

// memoryStore keeps everything in maps guarded by one mutex.
// Returned values are copies; callers never alias internal state.
type memoryStore struct {
	mu  sync.Mutex
	now func() time.Time
	seq uint64

	jobs     map[string]*memJob
	slots    map[slotKey]string
	rules    map[string]*memRule
	accounts map[accountKey]models.LinkedAccount
}

// NewMemory returns a non-durable store with the same semantics as sqlite.
func NewMemory() Store {
	return &memoryStore{
		now:      time.Now,
		jobs:     map[string]*memJob{},
		slots:    map[slotKey]string{},
		rules:    map[string]*memRule{},
		accounts: map[accountKey]models.LinkedAccount{},
	}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) nextSeq() uint64 {
	m.seq++
	return m.seq
}

func (m *memoryStore) Enqueue(ctx context.Context, job *models.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := prepareJob(job, m.now()); err != nil {
		return "", err
	}
	if _, ok := m.jobs[job.ID]; ok {
		return "", errors.New("duplicate job id: " + job.ID)
	}
	m.jobs[job.ID] = &memJob{seq: m.nextSeq(), job: job.Clone()}
	return job.ID, nil
}

func (m *memoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return mj.job.Clone(), nil
}

func (m *memoryStore) selectJobs(keep func(*models.Job) bool, less func(a, b *memJob) bool, limit int) []*models.Job {
	var picked []*memJob
	for _, mj := range m.jobs {
		if keep(mj.job) {
			picked = append(picked, mj)
		}
	}
	sort.Slice(picked, func(i, k int) bool { return less(picked[i], picked[k]) })
	if limit > 0 && len(picked) > limit {
		picked = picked[:limit]
	}
	out := make([]*models.Job, 0, len(picked))
	for _, mj := range picked {
		out = append(out, mj.job.Clone())
	}
	return out
}

func (m *memoryStore) Due(ctx context.Context, now time.Time, limit int) ([]*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectJobs(
		func(j *models.Job) bool {
			return j.Status == models.StatusPending && !j.ScheduledAt.After(now)
		},
		func(a, b *memJob) bool {
			if !a.job.ScheduledAt.Equal(b.job.ScheduledAt) {
				return a.job.ScheduledAt.Before(b.job.ScheduledAt)
			}
			return a.seq < b.seq
		},
		limit,
	), nil
}

func (m *memoryStore) Claim(ctx context.Context, id string, to models.Status, now time.Time) (bool, error) {
	if err := checkClaimTarget(to); err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[id]
	if !ok || mj.job.Status != models.StatusPending {
		return false, nil
	}
	mj.job.Status = to
	mj.job.UpdatedAt = now
	return true, nil
}

func (m *memoryStore) Transition(ctx context.Context, id string, from, to models.Status, u Update) error {
	if err := checkTransition(from, to); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mj, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if mj.job.Status != from {
		return ErrConflict
	}
	j := mj.job
	j.Status = to
	j.UpdatedAt = m.now()
	if u.Content != nil {
		j.Content = make(map[string]models.Content, len(u.Content))
		for k, v := range u.Content {
			j.Content[k] = v
		}
	}
	if u.Outcome != nil {
		o := *u.Outcome
		o.Platforms = append([]models.PlatformResult(nil), u.Outcome.Platforms...)
		j.Outcome = &o
	}
	if u.CompletedAt != nil {
		t := *u.CompletedAt
		j.CompletedAt = &t
	}
	return nil
}

func (m *memoryStore) ListByOwner(ctx context.Context, owner string, limit int) ([]*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectJobs(
		func(j *models.Job) bool { return j.Owner == owner },
		func(a, b *memJob) bool {
			if !a.job.CreatedAt.Equal(b.job.CreatedAt) {
				return a.job.CreatedAt.After(b.job.CreatedAt)
			}
			return a.seq > b.seq
		},
		limit,
	), nil
}

func (m *memoryStore) Stuck(ctx context.Context, before time.Time) ([]*models.Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectJobs(
		func(j *models.Job) bool { return j.Status.InFlight() && j.UpdatedAt.Before(before) },
		func(a, b *memJob) bool { return a.job.UpdatedAt.Before(b.job.UpdatedAt) },
		0,
	), nil
}

func cloneRule(r *models.Rule) *models.Rule {
	cp := *r
	cp.Platforms = append([]string(nil), r.Platforms...)
	cp.TimeSlots = append([]string(nil), r.TimeSlots...)
	return &cp
}

func (m *memoryStore) CreateRule(ctx context.Context, r *models.Rule) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := prepareRule(r, m.now()); err != nil {
		return "", err
	}
	m.rules[r.ID] = &memRule{seq: m.nextSeq(), rule: cloneRule(r)}
	return r.ID, nil
}

func (m *memoryStore) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRule(mr.rule), nil
}

func (m *memoryStore) selectRules(keep func(*models.Rule) bool) []*models.Rule {
	var picked []*memRule
	for _, mr := range m.rules {
		if keep(mr.rule) {
			picked = append(picked, mr)
		}
	}
	sort.Slice(picked, func(i, k int) bool { return picked[i].seq < picked[k].seq })
	out := make([]*models.Rule, 0, len(picked))
	for _, mr := range picked {
		out = append(out, cloneRule(mr.rule))
	}
	return out
}

func (m *memoryStore) ListRules(ctx context.Context, owner string) ([]*models.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectRules(func(r *models.Rule) bool { return r.Owner == owner }), nil
}

func (m *memoryStore) ActiveRules(ctx context.Context) ([]*models.Rule, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selectRules(func(r *models.Rule) bool { return r.Active }), nil
}

func (m *memoryStore) SetRuleActive(ctx context.Context, id string, active bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	mr.rule.Active = active
	return nil
}

func (m *memoryStore) MaterializeRuleJob(ctx context.Context, job *models.Job) (bool, error) {
	if job == nil || job.RuleID == "" {
		return false, errors.New("materialize: rule id is required")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := slotKey{ruleID: job.RuleID, at: job.ScheduledAt.UnixNano()}
	if _, ok := m.slots[key]; ok {
		return false, nil
	}
	if err := prepareJob(job, m.now()); err != nil {
		return false, err
	}
	m.jobs[job.ID] = &memJob{seq: m.nextSeq(), job: job.Clone()}
	m.slots[key] = job.ID
	return true, nil
}

func (m *memoryStore) AdvanceRuleCursor(ctx context.Context, id string, until time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mr, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	if until.After(mr.rule.ExpandedUntil) {
		mr.rule.ExpandedUntil = until
	}
	return nil
}

func (m *memoryStore) LinkAccount(ctx context.Context, a models.LinkedAccount) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a.Active = true
	m.accounts[accountKey{a.Owner, a.Platform}] = a
	return nil
}

func (m *memoryStore) UnlinkAccount(ctx context.Context, owner, platform string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	k := accountKey{owner, platform}
	a, ok := m.accounts[k]
	if !ok {
		return ErrNotFound
	}
	a.Active = false
	m.accounts[k] = a
	return nil
}

func (m *memoryStore) FindAccount(ctx context.Context, owner, platform string) (*models.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[accountKey{owner, platform}]
	if !ok || !a.Active {
		return nil, ErrNotFound
	}
	return &a, nil
}

func (m *memoryStore) ListAccounts(ctx context.Context, owner string) ([]models.LinkedAccount, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.LinkedAccount
	for k, a := range m.accounts {
		if k.owner == owner {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Platform < out[k].Platform })
	return out, nil
}
