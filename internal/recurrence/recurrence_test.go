package recurrence

import (
	"context"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postpilot/internal/eventbus"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

func TestParseSlot(t *testing.T) {
	t.Parallel()
	tests := []struct {
		freq    models.Frequency
		raw     string
		want    Slot
		wantErr bool
	}{
		{models.FrequencyDaily, "09:00", Slot{Raw: "09:00", Weekday: time.Monday, Hour: 9}, false},
		{models.FrequencyDaily, " 7:05 ", Slot{Raw: "7:05", Weekday: time.Monday, Hour: 7, Minute: 5}, false},
		{models.FrequencyWeekly, "Fri 17:30", Slot{Raw: "Fri 17:30", Weekday: time.Friday, Hour: 17, Minute: 30}, false},
		{models.FrequencyWeekly, "sunday 08:00", Slot{Raw: "sunday 08:00", Weekday: time.Sunday, Hour: 8}, false},
		{models.FrequencyWeekly, "12:00", Slot{Raw: "12:00", Weekday: time.Monday, Hour: 12}, false},
		{models.FrequencyDaily, "Mon 09:00", Slot{}, true},
		{models.FrequencyDaily, "24:00", Slot{}, true},
		{models.FrequencyDaily, "9am", Slot{}, true},
		{models.FrequencyWeekly, "Xyz 09:00", Slot{}, true},
		{models.FrequencyDaily, "", Slot{}, true},
	}
	for _, tt := range tests {
		got, err := ParseSlot(tt.freq, tt.raw)
		if tt.wantErr {
			assert.Error(t, err, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestValidateSlots(t *testing.T) {
	t.Parallel()
	assert.NoError(t, ValidateSlots(models.FrequencyDaily, []string{"09:00", "18:30"}))
	assert.Error(t, ValidateSlots(models.FrequencyDaily, nil))
	assert.Error(t, ValidateSlots(models.FrequencyDaily, []string{"09:00", "9:00"}))
	assert.Error(t, ValidateSlots("hourly", []string{"09:00"}))
	assert.NoError(t, ValidateSlots(models.FrequencyWeekly, []string{"Mon 09:00", "Tue 09:00"}))
}

func TestCronSpecAndLabel(t *testing.T) {
	t.Parallel()
	s, err := ParseSlot(models.FrequencyWeekly, "wed 06:15")
	require.NoError(t, err)
	assert.Equal(t, "15 6 * * 3", s.CronSpec(models.FrequencyWeekly))
	assert.Equal(t, "Wed 06:15", s.Label(models.FrequencyWeekly))

	d, _ := ParseSlot(models.FrequencyDaily, "6:15")
	assert.Equal(t, "15 6 * * *", d.CronSpec(models.FrequencyDaily))
	assert.Equal(t, "06:15", d.Label(models.FrequencyDaily))
}

var monday = time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

func TestOccurrencesDailyMergesSlotsInOrder(t *testing.T) {
	t.Parallel()
	r := &models.Rule{Frequency: models.FrequencyDaily, TimeSlots: []string{"18:30", "09:00"}}
	occ, err := Occurrences(r, time.UTC, monday, monday.Add(48*time.Hour))
	require.NoError(t, err)
	require.Len(t, occ, 4)
	assert.Equal(t, monday.Add(9*time.Hour), occ[0].At.UTC())
	assert.Equal(t, "09:00", occ[0].Slot)
	assert.Equal(t, monday.Add(18*time.Hour+30*time.Minute), occ[1].At.UTC())
	assert.Equal(t, monday.Add(33*time.Hour), occ[2].At.UTC())
}

func TestOccurrencesWeekly(t *testing.T) {
	t.Parallel()
	r := &models.Rule{Frequency: models.FrequencyWeekly, TimeSlots: []string{"Wed 12:00"}}
	occ, err := Occurrences(r, time.UTC, monday, monday.Add(14*24*time.Hour))
	require.NoError(t, err)
	require.Len(t, occ, 2)
	assert.Equal(t, time.Date(2025, 3, 12, 12, 0, 0, 0, time.UTC), occ[0].At.UTC())
	assert.Equal(t, time.Date(2025, 3, 19, 12, 0, 0, 0, time.UTC), occ[1].At.UTC())
}

func TestOccurrencesHonorLocation(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("Asia/Jakarta")
	require.NoError(t, err)
	r := &models.Rule{Frequency: models.FrequencyDaily, TimeSlots: []string{"09:00"}}
	occ, err := Occurrences(r, loc, monday, monday.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, occ, 1)
	assert.Equal(t, monday.Add(2*time.Hour), occ[0].At.UTC())
}

func TestRenderTopic(t *testing.T) {
	t.Parallel()
	r := &models.Rule{Name: "morning"}
	o := Occurrence{At: time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC), Slot: "09:00"}
	got := RenderTopic("Tips for {weekday} {date} ({rule} @ {slot})", r, o, time.UTC)
	assert.Equal(t, "Tips for Wednesday 2025-03-12 (morning @ 09:00)", got)
}

func newRule(t *testing.T, st storage.Store, created time.Time, slots ...string) *models.Rule {
	t.Helper()
	r := &models.Rule{
		Owner: "u", Name: "daily tips", TopicTemplate: "tips {date} {slot}",
		Platforms: []string{"linkedin", "twitter"}, Style: "professional",
		Frequency: models.FrequencyDaily, TimeSlots: slots, Active: true, CreatedAt: created,
	}
	_, err := st.CreateRule(context.Background(), r)
	require.NoError(t, err)
	return r
}

func TestExpandRuleIsIdempotentAndAdvancesCursor(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	e := New(Config{Enabled: true, Lookahead: time.Hour, MaxCatchUp: 6 * time.Hour}, st, nil, logx.Nop())
	r := newRule(t, st, monday.Add(8*time.Hour), "09:00", "18:30")

	now := monday.Add(8*time.Hour + 30*time.Minute)
	n, err := e.ExpandRule(ctx, r, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Stale rule copy: same window again creates nothing.
	n, err = e.ExpandRule(ctx, r, now)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	fresh, err := st.GetRule(ctx, r.ID)
	require.NoError(t, err)
	assert.True(t, fresh.ExpandedUntil.Equal(now.Add(time.Hour)))
	assert.True(t, fresh.Active)

	jobs, err := st.Due(ctx, monday.Add(24*time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "tips 2025-03-10 09:00", jobs[0].Topic)
	assert.Equal(t, r.ID, jobs[0].RuleID)
	assert.Equal(t, []string{"linkedin", "twitter"}, jobs[0].Platforms)
}

func TestExpandRuleSkipsOccurrencesBeyondCatchUp(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	e := New(Config{Lookahead: time.Hour, MaxCatchUp: 6 * time.Hour}, st, nil, logx.Nop())
	r := newRule(t, st, monday.Add(8*time.Hour), "09:00", "18:30")

	// Down for a day: yesterday's 18:30 is older than the catch-up window.
	now := monday.Add(34 * time.Hour)
	n, err := e.ExpandRule(ctx, r, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	jobs, err := st.Due(ctx, now.Add(time.Hour), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, monday.Add(33*time.Hour), jobs[0].ScheduledAt.UTC())
}

func TestRunOnceSkipsInactiveRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	st := storage.NewMemory()
	bus := eventbus.New()
	ch, unsub := bus.Subscribe(8)
	defer unsub()

	e := New(Config{Enabled: true, Lookahead: 24 * time.Hour}, st, bus, logx.Nop())
	e.now = func() time.Time { return monday }
	active := newRule(t, st, monday, "09:00")
	paused := newRule(t, st, monday, "10:00")
	require.NoError(t, st.SetRuleActive(ctx, paused.ID, false))

	rep, err := e.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, Report{Rules: 1, Created: 1}, rep)

	ev := <-ch
	assert.Equal(t, eventbus.RuleExpanded, ev.Type)
	assert.Equal(t, active.ID, ev.Data)
}

func TestInvalidRuleIsCountedNotFatal(t *testing.T) {
	t.Parallel()
	st := storage.NewMemory()
	e := New(Config{Lookahead: time.Hour}, st, nil, logx.Nop())
	e.now = func() time.Time { return monday }
	newRule(t, st, monday, "25:00")
	newRule(t, st, monday, "00:30")

	rep, err := e.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Errors)
	assert.Equal(t, 1, rep.Created)
}
