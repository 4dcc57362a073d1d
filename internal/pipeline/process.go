package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"postpilot/internal/accounts"
	"postpilot/internal/eventbus"
	"postpilot/internal/publish"
	"postpilot/internal/storage"
	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

// processJob drives one due job to a terminal state. It reports whether the
// claim was won.
func (s *Service) processJob(parent context.Context, cfg Config, job *models.Job) (res jobResult, claimed bool) {
	// Once claimed, a job runs to completion even if the loop is stopping.
	ctx := context.WithoutCancel(parent)
	log := s.log.With(logx.String("job", job.ID))

	target := models.StatusGenerating
	if job.HasContent() {
		target = models.StatusPublishing
	}
	ok, err := s.store.Claim(ctx, job.ID, target, s.now())
	if err != nil {
		s.fault(log, &FaultError{JobID: job.ID, Stage: "claim", Err: err})
		return resultFault, false
	}
	if !ok {
		log.Debug("job already claimed elsewhere")
		return resultSkipped, false
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.JobClaimed, JobID: job.ID, Data: target})
	log.Info("job claimed", logx.String("status", string(target)), logx.Strings("platforms", job.Platforms))

	current := target
	defer func() {
		if r := recover(); r != nil {
			log.Error("job panicked", logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			res = s.failAfterPanic(ctx, log, job, current, fmt.Sprintf("panic: %v", r))
		}
	}()

	contentMap := job.Content
	if current == models.StatusGenerating {
		contentMap = s.generateAll(ctx, cfg, job)
		err := s.store.Transition(ctx, job.ID, models.StatusGenerating, models.StatusPublishing, storage.Update{Content: contentMap})
		if err != nil {
			s.fault(log, &FaultError{JobID: job.ID, Stage: "store content", Err: err})
			return resultFault, true
		}
		current = models.StatusPublishing
		s.bus.Publish(eventbus.Event{Type: eventbus.JobGenerated, JobID: job.ID})
	}

	results := s.publishAll(ctx, cfg, job, contentMap, log)
	summary := models.Summarize(results)
	final := models.StatusFailed
	if summary.Succeeded > 0 {
		final = models.StatusCompleted
	}
	done := s.now()
	if err := s.store.Transition(ctx, job.ID, models.StatusPublishing, final,
		storage.Update{Outcome: &summary, CompletedAt: &done}); err != nil {
		s.fault(log, &FaultError{JobID: job.ID, Stage: "store outcome", Err: err})
		return resultFault, true
	}
	current = final

	log.Info("job finished",
		logx.String("status", string(final)),
		logx.Int("succeeded", summary.Succeeded),
		logx.Int("failed", summary.Failed),
	)
	if final == models.StatusCompleted {
		s.bus.Publish(eventbus.Event{Type: eventbus.JobCompleted, JobID: job.ID, Data: summary})
		return resultCompleted, true
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, JobID: job.ID, Data: summary})
	return resultFailed, true
}

func (s *Service) fault(log logx.Logger, ferr *FaultError) {
	log.Error("job processing fault", logx.String("stage", ferr.Stage), logx.Err(ferr.Err))
	s.bus.Publish(eventbus.Event{Type: eventbus.JobFault, JobID: ferr.JobID, Data: ferr})
}

// failAfterPanic records a fault that escaped generation or publishing as
// a failed job. If the job is already terminal it is left alone.
func (s *Service) failAfterPanic(ctx context.Context, log logx.Logger, job *models.Job, from models.Status, detail string) jobResult {
	if from.Terminal() {
		return resultFault
	}
	summary := models.OutcomeSummary{LastError: string(models.ErrorInternal) + ": " + detail}
	done := s.now()
	if err := s.store.Transition(ctx, job.ID, from, models.StatusFailed,
		storage.Update{Outcome: &summary, CompletedAt: &done}); err != nil {
		s.fault(log, &FaultError{JobID: job.ID, Stage: "store failure", Err: err})
		return resultFault
	}
	s.bus.Publish(eventbus.Event{Type: eventbus.JobFailed, JobID: job.ID, Data: summary})
	return resultFailed
}

// generateAll fills content for every platform that lacks it.
func (s *Service) generateAll(ctx context.Context, cfg Config, job *models.Job) map[string]models.Content {
	out := make(map[string]models.Content, len(job.Platforms))
	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(cfg.PlatformWorkers)
	for _, p := range job.Platforms {
		p := p
		if c, ok := job.Content[p]; ok && c.Complete() {
			out[p] = c
			continue
		}
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("content generation panicked", logx.String("job", job.ID), logx.String("platform", p), logx.Any("panic", r))
				}
			}()
			c := s.gen.Generate(ctx, job.Topic, p, job.Style)
			mu.Lock()
			out[p] = c
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// publishAll fans out to every platform. Results keep job.Platforms order.
func (s *Service) publishAll(ctx context.Context, cfg Config, job *models.Job, contentMap map[string]models.Content, log logx.Logger) []models.PlatformResult {
	results := make([]models.PlatformResult, len(job.Platforms))
	g := new(errgroup.Group)
	g.SetLimit(cfg.PlatformWorkers)
	for i, p := range job.Platforms {
		i, p := i, p
		g.Go(func() error {
			r := s.publishOne(ctx, cfg, job, p, contentMap[p])
			results[i] = r
			if !r.Success {
				log.Warn("platform publish failed",
					logx.String("platform", p),
					logx.String("error", string(r.Error)),
					logx.String("detail", r.Detail),
				)
			}
			s.bus.Publish(eventbus.Event{Type: eventbus.PlatformResult, JobID: job.ID, Data: r})
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Service) publishOne(ctx context.Context, cfg Config, job *models.Job, platform string, c models.Content) (r models.PlatformResult) {
	r.Platform = platform
	defer func() {
		if rec := recover(); rec != nil {
			r = models.PlatformResult{Platform: platform, Error: models.ErrorInternal, Detail: fmt.Sprintf("panic: %v", rec)}
		}
		r.At = s.now()
	}()

	acct, err := s.dir.Resolve(ctx, job.Owner, platform)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		r.Error = models.ErrorAccountMissing
		return r
	}
	if err != nil {
		r.Error = models.ErrorInternal
		r.Detail = "account lookup: " + err.Error()
		return r
	}
	if !c.Complete() {
		r.Error = models.ErrorInternal
		r.Detail = "missing content"
		return r
	}

	pctx, cancel := context.WithTimeout(ctx, cfg.PublishTimeout)
	defer cancel()
	out := s.pub.Publish(pctx, platform, c, publish.CredentialFrom(acct))
	r.Success = out.Success
	r.ExternalID = out.ExternalID
	r.Error = out.Error
	r.Detail = out.Detail
	if !r.Success && r.Error == models.ErrorNone {
		r.Error = models.ErrorInternal
	}
	return r
}
