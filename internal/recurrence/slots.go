package recurrence

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"postpilot/pkg/models"
)

// Slot is one parsed time slot of a rule.
type Slot struct {
	Raw     string
	Weekday time.Weekday // weekly rules only
	Hour    int
	Minute  int
}

var reClock = regexp.MustCompile(`^(\d{1,2}):(\d{2})$`)

var weekdays = map[string]time.Weekday{
	"sun": time.Sunday,
	"mon": time.Monday,
	"tue": time.Tuesday,
	"wed": time.Wednesday,
	"thu": time.Thursday,
	"fri": time.Friday,
	"sat": time.Saturday,
}

var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ParseSlot parses "HH:MM" (daily) or "Mon HH:MM" (weekly). A weekly slot
// without a day means Monday.
func ParseSlot(freq models.Frequency, raw string) (Slot, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Slot{}, fmt.Errorf("time slot required")
	}
	out := Slot{Raw: s, Weekday: time.Monday}

	fields := strings.Fields(s)
	clock := fields[len(fields)-1]
	switch {
	case len(fields) == 2 && freq == models.FrequencyWeekly:
		day := strings.ToLower(fields[0])
		if len(day) < 3 {
			return Slot{}, fmt.Errorf("invalid weekday in %q", raw)
		}
		wd, ok := weekdays[day[:3]]
		if !ok {
			return Slot{}, fmt.Errorf("invalid weekday in %q", raw)
		}
		out.Weekday = wd
	case len(fields) != 1:
		return Slot{}, fmt.Errorf("invalid %s slot %q", freq, raw)
	}

	m := reClock.FindStringSubmatch(clock)
	if m == nil {
		return Slot{}, fmt.Errorf("invalid HH:MM in %q", raw)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if hh > 23 || mm > 59 {
		return Slot{}, fmt.Errorf("time out of range in %q", raw)
	}
	out.Hour, out.Minute = hh, mm
	return out, nil
}

// CronSpec renders the slot as a 5-field cron expression.
func (s Slot) CronSpec(freq models.Frequency) string {
	if freq == models.FrequencyWeekly {
		return fmt.Sprintf("%d %d * * %d", s.Minute, s.Hour, int(s.Weekday))
	}
	return fmt.Sprintf("%d %d * * *", s.Minute, s.Hour)
}

// Label is the normalized slot text used in topics.
func (s Slot) Label(freq models.Frequency) string {
	clock := fmt.Sprintf("%02d:%02d", s.Hour, s.Minute)
	if freq == models.FrequencyWeekly {
		return s.Weekday.String()[:3] + " " + clock
	}
	return clock
}

// ValidateSlots checks frequency and every slot, and rejects duplicates.
func ValidateSlots(freq models.Frequency, slots []string) error {
	if !freq.Valid() {
		return fmt.Errorf("unknown frequency %q (use daily or weekly)", freq)
	}
	if len(slots) == 0 {
		return fmt.Errorf("at least one time slot is required")
	}
	seen := map[string]struct{}{}
	for _, raw := range slots {
		sl, err := ParseSlot(freq, raw)
		if err != nil {
			return err
		}
		key := sl.CronSpec(freq)
		if _, ok := seen[key]; ok {
			return fmt.Errorf("duplicate time slot %q", raw)
		}
		seen[key] = struct{}{}
	}
	return nil
}

type schedule struct {
	slot  Slot
	label string
	cron  cron.Schedule
}

func schedulesFor(r *models.Rule, loc *time.Location) ([]schedule, error) {
	out := make([]schedule, 0, len(r.TimeSlots))
	for _, raw := range r.TimeSlots {
		sl, err := ParseSlot(r.Frequency, raw)
		if err != nil {
			return nil, err
		}
		spec := "CRON_TZ=" + loc.String() + " " + sl.CronSpec(r.Frequency)
		cs, err := parser.Parse(spec)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", raw, err)
		}
		out = append(out, schedule{slot: sl, label: sl.Label(r.Frequency), cron: cs})
	}
	return out, nil
}

// Occurrence is one materializable firing of a rule.
type Occurrence struct {
	At   time.Time
	Slot string
}

// Occurrences lists firings in (after, until] in time order.
func Occurrences(r *models.Rule, loc *time.Location, after, until time.Time) ([]Occurrence, error) {
	if loc == nil {
		loc = time.UTC
	}
	if !r.Frequency.Valid() {
		return nil, fmt.Errorf("unknown frequency %q", r.Frequency)
	}
	scheds, err := schedulesFor(r, loc)
	if err != nil {
		return nil, err
	}
	var out []Occurrence
	for _, s := range scheds {
		for t := s.cron.Next(after); !t.IsZero() && !t.After(until); t = s.cron.Next(t) {
			out = append(out, Occurrence{At: t, Slot: s.label})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

// RenderTopic fills {date}, {weekday}, {rule} and {slot} in a topic template.
func RenderTopic(tmpl string, r *models.Rule, o Occurrence, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	at := o.At.In(loc)
	return strings.NewReplacer(
		"{date}", at.Format("2006-01-02"),
		"{weekday}", at.Weekday().String(),
		"{rule}", r.Name,
		"{slot}", o.Slot,
	).Replace(tmpl)
}
