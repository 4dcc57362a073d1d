package notifier

import (
	"context"
	"math/rand"
	"time"

	logx "postpilot/pkg/logx"
)

const sendTimeout = 10 * time.Second

func (s *Service) work(ctx context.Context, queue <-chan Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-queue:
			if !ok {
				return
			}
			s.deliver(ctx, a)
		}
	}
}

// deliver sends a with up to RetryMax resends. Failures end in a warn log.
func (s *Service) deliver(ctx context.Context, a Alert) {
	cfg, lim := s.settings()
	var err error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 && !sleep(ctx, retryDelay(cfg, attempt)) {
			return
		}
		if lim.Wait(ctx) != nil {
			return
		}
		sctx, cancel := context.WithTimeout(ctx, sendTimeout)
		err = s.sender.Send(sctx, a.Text)
		cancel()
		if err == nil {
			s.sent.add(a, s.now())
			return
		}
		s.log.Debug("alert send failed", logx.Int("attempt", attempt+1), logx.Err(err))
	}
	s.log.Warn("alert undeliverable", logx.String("kind", a.Kind), logx.String("job", a.JobID), logx.Err(err))
}

// retryDelay is the wait before resend number attempt (1-based):
// RetryBase doubled per attempt, jittered to 70..130%, capped at RetryMaxDelay.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase << min(attempt-1, 20)
	if d <= 0 || d > cfg.RetryMaxDelay {
		d = cfg.RetryMaxDelay
	}
	d = time.Duration(float64(d) * (0.7 + 0.6*rand.Float64()))
	return min(d, cfg.RetryMaxDelay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
