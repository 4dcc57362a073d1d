package models

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a ScheduledJob.
//
//	pending -> generating -> publishing -> completed | failed
type Status string

const (
	StatusPending    Status = "pending"
	StatusGenerating Status = "generating"
	StatusPublishing Status = "publishing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// Rank orders statuses along the state machine. Terminal states share the top rank.
// Unknown statuses rank -1.
func (s Status) Rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusGenerating:
		return 1
	case StatusPublishing:
		return 2
	case StatusCompleted, StatusFailed:
		return 3
	default:
		return -1
	}
}

func (s Status) Valid() bool    { return s.Rank() >= 0 }
func (s Status) Terminal() bool { return s == StatusCompleted || s == StatusFailed }

// InFlight reports whether a job in this status has been claimed but not finished.
func (s Status) InFlight() bool { return s == StatusGenerating || s == StatusPublishing }

// CanAdvanceTo reports whether s -> next is a forward move.
func (s Status) CanAdvanceTo(next Status) bool {
	if !s.Valid() || !next.Valid() || s.Terminal() {
		return false
	}
	return next.Rank() > s.Rank()
}

// ContentProvider records which arm of the generation chain produced content.
type ContentProvider string

const (
	ProviderPrimary   ContentProvider = "primary"
	ProviderSecondary ContentProvider = "secondary"
	ProviderFallback  ContentProvider = "fallback"
)

// Content is the generated post for one platform.
type Content struct {
	Platform     string          `json:"platform"`
	Caption      string          `json:"caption"`
	Hashtags     string          `json:"hashtags"`
	VisualPrompt string          `json:"visual_prompt"`
	Provider     ContentProvider `json:"provider"`
	// Source is the concrete backend behind Provider (e.g. "gemini", "openai", "template").
	Source string `json:"source,omitempty"`
}

// Complete reports whether every field that must be present is non-empty.
func (c Content) Complete() bool {
	return strings.TrimSpace(c.Platform) != "" &&
		strings.TrimSpace(c.Caption) != "" &&
		strings.TrimSpace(c.Hashtags) != "" &&
		strings.TrimSpace(c.VisualPrompt) != "" &&
		c.Provider != ""
}

// ErrorKind classifies a per-platform publish failure.
type ErrorKind string

const (
	ErrorNone                ErrorKind = ""
	ErrorAccountMissing      ErrorKind = "account_missing"
	ErrorUnsupportedPlatform ErrorKind = "unsupported_platform"
	ErrorTimeout             ErrorKind = "timeout"
	ErrorRejected            ErrorKind = "rejected"
	ErrorRateLimited         ErrorKind = "rate_limited"
	ErrorCircuitOpen         ErrorKind = "circuit_open"
	ErrorInternal            ErrorKind = "internal"
)

// PlatformResult is the outcome of publishing one job to one platform.
type PlatformResult struct {
	Platform   string    `json:"platform"`
	Success    bool      `json:"success"`
	ExternalID string    `json:"external_id,omitempty"`
	Error      ErrorKind `json:"error,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	At         time.Time `json:"at"`
}

// OutcomeSummary aggregates per-platform results for a job.
// Platforms keeps the job's platform order.
type OutcomeSummary struct {
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	LastError string           `json:"last_error,omitempty"`
	Platforms []PlatformResult `json:"platforms"`
}

// Summarize folds results (already in platform order) into a summary.
func Summarize(results []PlatformResult) OutcomeSummary {
	out := OutcomeSummary{Platforms: append([]PlatformResult(nil), results...)}
	for _, r := range results {
		if r.Success {
			out.Succeeded++
			continue
		}
		out.Failed++
		msg := string(r.Error)
		if r.Detail != "" {
			msg += ": " + r.Detail
		}
		out.LastError = r.Platform + ": " + msg
	}
	return out
}

// Result returns the result for platform, if present.
func (o OutcomeSummary) Result(platform string) (PlatformResult, bool) {
	for _, r := range o.Platforms {
		if r.Platform == platform {
			return r, true
		}
	}
	return PlatformResult{}, false
}

// ExternalIDs maps platform -> external post id for successful platforms.
func (o OutcomeSummary) ExternalIDs() map[string]string {
	m := map[string]string{}
	for _, r := range o.Platforms {
		if r.Success && r.ExternalID != "" {
			m[r.Platform] = r.ExternalID
		}
	}
	return m
}

// Job is one "generate and publish for these platforms at this time" unit.
type Job struct {
	ID          string             `json:"id"`
	Owner       string             `json:"owner"`
	Topic       string             `json:"topic"`
	Platforms   []string           `json:"platforms"`
	Style       string             `json:"style"`
	ScheduledAt time.Time          `json:"scheduled_at"`
	Status      Status             `json:"status"`
	Content     map[string]Content `json:"content,omitempty"`
	Outcome     *OutcomeSummary    `json:"outcome,omitempty"`
	RuleID      string             `json:"rule_id,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

// HasContent reports whether content exists for every platform of the job.
func (j *Job) HasContent() bool {
	if j == nil || len(j.Content) == 0 {
		return false
	}
	for _, p := range j.Platforms {
		if !j.Content[p].Complete() {
			return false
		}
	}
	return true
}

// Clone returns a deep copy so callers never share maps/slices with a store.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	cp := *j
	cp.Platforms = append([]string(nil), j.Platforms...)
	if j.Content != nil {
		cp.Content = make(map[string]Content, len(j.Content))
		for k, v := range j.Content {
			cp.Content[k] = v
		}
	}
	if j.Outcome != nil {
		o := *j.Outcome
		o.Platforms = append([]PlatformResult(nil), j.Outcome.Platforms...)
		cp.Outcome = &o
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

// Frequency is how often an automation rule fires.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

func (f Frequency) Valid() bool { return f == FrequencyDaily || f == FrequencyWeekly }

// Rule is a recurring job template. Rules are never consumed by expansion.
type Rule struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	Name          string    `json:"name"`
	TopicTemplate string    `json:"topic_template"`
	Platforms     []string  `json:"platforms"`
	Style         string    `json:"style"`
	Frequency     Frequency `json:"frequency"`
	TimeSlots     []string  `json:"time_slots"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	// ExpandedUntil is the expander cursor: occurrences at or before it were materialized.
	ExpandedUntil time.Time `json:"expanded_until"`
}

// LinkedAccount is an externally managed credential for one platform.
type LinkedAccount struct {
	Owner       string     `json:"owner"`
	Platform    string     `json:"platform"`
	AccountName string     `json:"account_name,omitempty"`
	Credential  string     `json:"-"`
	ExternalID  string     `json:"external_id,omitempty"`
	Active      bool       `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// Expired reports whether the credential has an expiry at or before now.
func (a LinkedAccount) Expired(now time.Time) bool {
	return a.ExpiresAt != nil && !a.ExpiresAt.After(now)
}

// NormalizeTag lowercases and trims a platform/style tag.
func NormalizeTag(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

// NormalizePlatforms returns the ordered set of non-empty normalized tags.
func NormalizePlatforms(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, p := range in {
		p = NormalizeTag(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}
