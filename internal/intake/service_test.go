package intake

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/storage"
	"postpilot/pkg/models"
)

func newService(t *testing.T, known ...string) (*Service, storage.Store) {
	t.Helper()
	st := storage.NewMemory()
	t.Cleanup(func() { _ = st.Close() })
	return New(st, Options{KnownPlatforms: known}), st
}

func TestScheduleJobNormalizesInput(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	at := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

	id, err := svc.ScheduleJob(context.Background(), JobRequest{
		Owner:       " u1 ",
		Topic:       "  spring launch ",
		Platforms:   []string{"Instagram", "twitter", "instagram"},
		ScheduledAt: at,
	})
	require.NoError(t, err)

	j, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "u1", j.Owner)
	assert.Equal(t, "spring launch", j.Topic)
	assert.Equal(t, []string{"instagram", "twitter"}, j.Platforms)
	assert.Equal(t, DefaultStyle, j.Style)
	assert.Equal(t, models.StatusPending, j.Status)
	assert.True(t, j.ScheduledAt.Equal(at))
}

func TestScheduleJobDefaultsToNow(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	fixed := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	id, err := svc.ScheduleJob(context.Background(), JobRequest{Owner: "u1", Topic: "t", Platforms: []string{"twitter"}, Style: "Casual"})
	require.NoError(t, err)
	j, err := st.Get(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, j.ScheduledAt.Equal(fixed))
	assert.Equal(t, "casual", j.Style)
}

func TestScheduleJobRejectsInvalid(t *testing.T) {
	t.Parallel()
	svc, _ := newService(t, "instagram", "twitter")
	tests := []struct {
		name string
		req  JobRequest
	}{
		{"no owner", JobRequest{Topic: "t", Platforms: []string{"twitter"}}},
		{"blank topic", JobRequest{Owner: "u", Topic: "  ", Platforms: []string{"twitter"}}},
		{"no platforms", JobRequest{Owner: "u", Topic: "t", Platforms: []string{" ", ""}}},
		{"unknown platform", JobRequest{Owner: "u", Topic: "t", Platforms: []string{"myspace"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ScheduleJob(context.Background(), tt.req)
			require.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCreateRuleValidatesSlots(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	ctx := context.Background()

	_, err := svc.CreateRule(ctx, RuleRequest{
		Owner: "u", Name: "tips", TopicTemplate: "tip {date}", Platforms: []string{"twitter"},
		Frequency: models.FrequencyDaily, TimeSlots: []string{"25:00"},
	})
	require.ErrorIs(t, err, ErrInvalid)

	_, err = svc.CreateRule(ctx, RuleRequest{
		Owner: "u", Name: "tips", TopicTemplate: "tip", Platforms: []string{"twitter"},
		Frequency: "hourly", TimeSlots: []string{"09:00"},
	})
	require.ErrorIs(t, err, ErrInvalid)

	id, err := svc.CreateRule(ctx, RuleRequest{
		Owner: "u", Name: "tips", TopicTemplate: "tip {date}", Platforms: []string{"Twitter"},
		Frequency: "Weekly", TimeSlots: []string{" Mon 09:00 ", "", "fri 17:30"},
	})
	require.NoError(t, err)
	r, err := st.GetRule(ctx, id)
	require.NoError(t, err)
	assert.True(t, r.Active)
	assert.Equal(t, models.FrequencyWeekly, r.Frequency)
	assert.Equal(t, []string{"Mon 09:00", "fri 17:30"}, r.TimeSlots)
	assert.Equal(t, []string{"twitter"}, r.Platforms)

	require.NoError(t, svc.SetRuleActive(ctx, id, false))
	r, err = st.GetRule(ctx, id)
	require.NoError(t, err)
	assert.False(t, r.Active)

	require.ErrorIs(t, svc.SetRuleActive(ctx, "missing", true), ErrNotFound)

	rules, err := svc.ListRules(ctx, "u")
	require.NoError(t, err)
	require.Len(t, rules, 1)
}

func TestStatusReportsOutcome(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	ctx := context.Background()

	_, err := svc.Status(ctx, "nope")
	require.ErrorIs(t, err, ErrNotFound)

	id, err := svc.ScheduleJob(ctx, JobRequest{Owner: "u", Topic: "t", Platforms: []string{"instagram", "twitter"}})
	require.NoError(t, err)
	ok, err := st.Claim(ctx, id, models.StatusPublishing, time.Now())
	require.NoError(t, err)
	require.True(t, ok)
	summary := models.Summarize([]models.PlatformResult{
		{Platform: "instagram", Success: true, ExternalID: "ig_1"},
		{Platform: "twitter", Error: models.ErrorRejected},
	})
	done := time.Now()
	require.NoError(t, st.Transition(ctx, id, models.StatusPublishing, models.StatusCompleted,
		storage.Update{Outcome: &summary, CompletedAt: &done}))

	v, err := svc.Status(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, v.Status)
	require.NotNil(t, v.CompletedAt)
	assert.Equal(t, map[string]string{"instagram": "ig_1"}, v.ExternalIDs)
	assert.Equal(t, 1, v.Outcome.Failed)

	list, err := svc.ListJobs(ctx, "u", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestLinkAndUnlinkAccount(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	ctx := context.Background()

	require.ErrorIs(t, svc.LinkAccount(ctx, AccountRequest{Owner: "u", Platform: "twitter"}), ErrInvalid)
	require.NoError(t, svc.LinkAccount(ctx, AccountRequest{Owner: "u", Platform: " Twitter ", Credential: "tok", AccountName: "@u"}))

	a, err := st.FindAccount(ctx, "u", "twitter")
	require.NoError(t, err)
	assert.Equal(t, "tok", a.Credential)

	require.NoError(t, svc.UnlinkAccount(ctx, "u", "TWITTER"))
	_, err = st.FindAccount(ctx, "u", "twitter")
	require.ErrorIs(t, err, storage.ErrNotFound)
	require.ErrorIs(t, svc.UnlinkAccount(ctx, "u", "instagram"), ErrNotFound)

	accts, err := svc.ListAccounts(ctx, "u")
	require.NoError(t, err)
	require.Len(t, accts, 1)
	assert.False(t, accts[0].Active)
}

func TestStuckAndReconcile(t *testing.T) {
	t.Parallel()
	svc, st := newService(t)
	ctx := context.Background()

	id, err := svc.ScheduleJob(ctx, JobRequest{Owner: "u", Topic: "t", Platforms: []string{"twitter"}})
	require.NoError(t, err)
	require.ErrorIs(t, svc.Reconcile(ctx, id, ""), ErrNotInFlight)

	ok, err := st.Claim(ctx, id, models.StatusGenerating, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.True(t, ok)

	stuck, err := svc.Stuck(ctx, 30*time.Minute)
	require.NoError(t, err)
	require.Len(t, stuck, 1)
	assert.Equal(t, id, stuck[0].ID)

	require.NoError(t, svc.Reconcile(ctx, id, "provider outage"))
	j, err := st.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, j.Status)
	require.NotNil(t, j.CompletedAt)
	require.NotNil(t, j.Outcome)
	assert.Equal(t, "provider outage", j.Outcome.LastError)

	require.ErrorIs(t, svc.Reconcile(ctx, id, ""), ErrNotInFlight)
	require.ErrorIs(t, svc.Reconcile(ctx, "missing", ""), ErrNotFound)
}
