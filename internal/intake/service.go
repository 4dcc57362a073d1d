// Package intake is the boundary through which owners and operators create
// jobs and rules, link accounts and query status.
package intake

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"postpilot/internal/recurrence"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

const DefaultStyle = "professional"

var (
	ErrInvalid  = errors.New("invalid request")
	ErrNotFound = errors.New("not found")
	// ErrNotInFlight is returned by Reconcile for jobs that are not generating/publishing.
	ErrNotInFlight = errors.New("job is not in flight")
)

type Options struct {
	// KnownPlatforms, when set, restricts accepted platform tags.
	KnownPlatforms []string
	Log            logx.Logger
}

type Service struct {
	store storage.Store
	known map[string]struct{}
	log   logx.Logger
	now   func() time.Time
}

func New(st storage.Store, opts Options) *Service {
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	s := &Service{store: st, log: opts.Log.With(logx.String("comp", "intake")), now: time.Now}
	if len(opts.KnownPlatforms) > 0 {
		s.known = map[string]struct{}{}
		for _, p := range opts.KnownPlatforms {
			s.known[models.NormalizeTag(p)] = struct{}{}
		}
	}
	return s
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

func notFound(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, what)
	}
	return err
}

func (s *Service) platforms(in []string) ([]string, error) {
	out := models.NormalizePlatforms(in)
	if len(out) == 0 {
		return nil, invalid("at least one platform is required")
	}
	if s.known != nil {
		for _, p := range out {
			if _, ok := s.known[p]; !ok {
				return nil, invalid("unsupported platform %q", p)
			}
		}
	}
	return out, nil
}

func style(v string) string {
	v = models.NormalizeTag(v)
	if v == "" {
		return DefaultStyle
	}
	return v
}

type JobRequest struct {
	Owner     string
	Topic     string
	Platforms []string
	Style     string
	// ScheduledAt zero means as soon as possible.
	ScheduledAt time.Time
}

func (s *Service) ScheduleJob(ctx context.Context, req JobRequest) (string, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return "", invalid("owner is required")
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" {
		return "", invalid("topic is required")
	}
	platforms, err := s.platforms(req.Platforms)
	if err != nil {
		return "", err
	}
	at := req.ScheduledAt
	if at.IsZero() {
		at = s.now()
	}
	id, err := s.store.Enqueue(ctx, &models.Job{
		Owner:       owner,
		Topic:       topic,
		Platforms:   platforms,
		Style:       style(req.Style),
		ScheduledAt: at,
	})
	if err != nil {
		return "", err
	}
	s.log.Info("job scheduled", logx.String("job", id), logx.String("owner", owner), logx.Time("at", at), logx.Strings("platforms", platforms))
	return id, nil
}

type RuleRequest struct {
	Owner         string
	Name          string
	TopicTemplate string
	Platforms     []string
	Style         string
	Frequency     models.Frequency
	TimeSlots     []string
}

func (s *Service) CreateRule(ctx context.Context, req RuleRequest) (string, error) {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return "", invalid("owner is required")
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return "", invalid("name is required")
	}
	tmpl := strings.TrimSpace(req.TopicTemplate)
	if tmpl == "" {
		return "", invalid("topic template is required")
	}
	platforms, err := s.platforms(req.Platforms)
	if err != nil {
		return "", err
	}
	freq := models.Frequency(models.NormalizeTag(string(req.Frequency)))
	slots := make([]string, 0, len(req.TimeSlots))
	for _, sl := range req.TimeSlots {
		if sl = strings.TrimSpace(sl); sl != "" {
			slots = append(slots, sl)
		}
	}
	if err := recurrence.ValidateSlots(freq, slots); err != nil {
		return "", invalid("%v", err)
	}
	id, err := s.store.CreateRule(ctx, &models.Rule{
		Owner:         owner,
		Name:          name,
		TopicTemplate: tmpl,
		Platforms:     platforms,
		Style:         style(req.Style),
		Frequency:     freq,
		TimeSlots:     slots,
		Active:        true,
	})
	if err != nil {
		return "", err
	}
	s.log.Info("rule created", logx.String("rule", id), logx.String("owner", owner), logx.String("frequency", string(freq)))
	return id, nil
}

func (s *Service) SetRuleActive(ctx context.Context, id string, active bool) error {
	if err := s.store.SetRuleActive(ctx, id, active); err != nil {
		return notFound(err, "rule "+id)
	}
	s.log.Info("rule updated", logx.String("rule", id), logx.Bool("active", active))
	return nil
}

func (s *Service) ListRules(ctx context.Context, owner string) ([]*models.Rule, error) {
	return s.store.ListRules(ctx, strings.TrimSpace(owner))
}

// StatusView is what a status query returns.
type StatusView struct {
	ID          string                    `json:"id"`
	Owner       string                    `json:"owner"`
	Topic       string                    `json:"topic"`
	Status      models.Status             `json:"status"`
	Platforms   []string                  `json:"platforms"`
	ScheduledAt time.Time                 `json:"scheduled_at"`
	CompletedAt *time.Time                `json:"completed_at,omitempty"`
	Outcome     *models.OutcomeSummary    `json:"outcome,omitempty"`
	ExternalIDs map[string]string         `json:"external_ids,omitempty"`
	Content     map[string]models.Content `json:"content,omitempty"`
	RuleID      string                    `json:"rule_id,omitempty"`
}

func viewOf(j *models.Job) StatusView {
	v := StatusView{
		ID:          j.ID,
		Owner:       j.Owner,
		Topic:       j.Topic,
		Status:      j.Status,
		Platforms:   j.Platforms,
		ScheduledAt: j.ScheduledAt,
		CompletedAt: j.CompletedAt,
		Outcome:     j.Outcome,
		Content:     j.Content,
		RuleID:      j.RuleID,
	}
	if j.Outcome != nil {
		v.ExternalIDs = j.Outcome.ExternalIDs()
	}
	return v
}

func (s *Service) Status(ctx context.Context, id string) (StatusView, error) {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return StatusView{}, notFound(err, "job "+id)
	}
	return viewOf(j), nil
}

func (s *Service) ListJobs(ctx context.Context, owner string, limit int) ([]StatusView, error) {
	jobs, err := s.store.ListByOwner(ctx, strings.TrimSpace(owner), limit)
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, viewOf(j))
	}
	return out, nil
}

type AccountRequest struct {
	Owner       string
	Platform    string
	AccountName string
	Credential  string
	ExternalID  string
	ExpiresAt   *time.Time
}

func (s *Service) LinkAccount(ctx context.Context, req AccountRequest) error {
	owner := strings.TrimSpace(req.Owner)
	if owner == "" {
		return invalid("owner is required")
	}
	platforms, err := s.platforms([]string{req.Platform})
	if err != nil {
		return err
	}
	if strings.TrimSpace(req.Credential) == "" {
		return invalid("credential is required")
	}
	if err := s.store.LinkAccount(ctx, models.LinkedAccount{
		Owner:       owner,
		Platform:    platforms[0],
		AccountName: strings.TrimSpace(req.AccountName),
		Credential:  strings.TrimSpace(req.Credential),
		ExternalID:  strings.TrimSpace(req.ExternalID),
		ExpiresAt:   req.ExpiresAt,
	}); err != nil {
		return err
	}
	s.log.Info("account linked", logx.String("owner", owner), logx.String("platform", platforms[0]))
	return nil
}

func (s *Service) UnlinkAccount(ctx context.Context, owner, platform string) error {
	err := s.store.UnlinkAccount(ctx, strings.TrimSpace(owner), models.NormalizeTag(platform))
	if err != nil {
		return notFound(err, "account "+platform)
	}
	return nil
}

func (s *Service) ListAccounts(ctx context.Context, owner string) ([]models.LinkedAccount, error) {
	return s.store.ListAccounts(ctx, strings.TrimSpace(owner))
}

// Stuck lists jobs that have been generating/publishing for longer than olderThan.
func (s *Service) Stuck(ctx context.Context, olderThan time.Duration) ([]StatusView, error) {
	jobs, err := s.store.Stuck(ctx, s.now().Add(-olderThan))
	if err != nil {
		return nil, err
	}
	out := make([]StatusView, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, viewOf(j))
	}
	return out, nil
}

// Reconcile marks an in-flight job failed after operator review.
func (s *Service) Reconcile(ctx context.Context, id, reason string) error {
	j, err := s.store.Get(ctx, id)
	if err != nil {
		return notFound(err, "job "+id)
	}
	if !j.Status.InFlight() {
		return fmt.Errorf("%w: %s is %s", ErrNotInFlight, id, j.Status)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		reason = "reconciled by operator"
	}
	summary := models.OutcomeSummary{LastError: reason}
	if j.Outcome != nil {
		summary = *j.Outcome
		summary.LastError = reason
	}
	done := s.now()
	if err := s.store.Transition(ctx, id, j.Status, models.StatusFailed,
		storage.Update{Outcome: &summary, CompletedAt: &done}); err != nil {
		return err
	}
	s.log.Warn("job reconciled", logx.String("job", id), logx.String("from", string(j.Status)), logx.String("reason", reason))
	return nil
}
