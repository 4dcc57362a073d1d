package app

import (
	"context"
	"time"

	"postpilot/internal/eventbus"
	"postpilot/internal/notifier"
	"postpilot/internal/runtime/supervisor"
)

const statusAlerts = 20

type stuckJob struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Scheduled time.Time `json:"scheduled_at"`
}

// statusDoc is served at /status on the debug server.
type statusDoc struct {
	StartedAt  time.Time              `json:"started_at"`
	Uptime     string                 `json:"uptime"`
	Platforms  []string               `json:"platforms"`
	Goroutines supervisor.Counters    `json:"goroutines"`
	Tasks      []supervisor.TaskState `json:"tasks"`
	Events     eventbus.Stats         `json:"events"`
	StuckAfter string                 `json:"stuck_after"`
	Stuck      []stuckJob             `json:"stuck"`
	Alerts     []notifier.HistoryItem `json:"alerts,omitempty"`
}

func (a *App) statusSnapshot(ctx context.Context) (any, error) {
	after := a.pipeline.StuckAfter()
	views, err := a.intake.Stuck(ctx, after)
	if err != nil {
		return nil, err
	}
	doc := statusDoc{
		StartedAt:  a.startedAt,
		Uptime:     time.Since(a.startedAt).Truncate(time.Second).String(),
		Platforms:  a.registry.Platforms(),
		Goroutines: a.sup.Counters(),
		Tasks:      a.sup.Tasks(),
		Events:     a.bus.Stats(),
		StuckAfter: after.String(),
		Stuck:      make([]stuckJob, 0, len(views)),
	}
	for _, v := range views {
		doc.Stuck = append(doc.Stuck, stuckJob{ID: v.ID, Status: string(v.Status), Scheduled: v.ScheduledAt})
	}
	alerts := a.notifier.Snapshot()
	if len(alerts) > statusAlerts {
		alerts = alerts[len(alerts)-statusAlerts:]
	}
	doc.Alerts = alerts
	return doc, nil
}
