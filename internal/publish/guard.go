package publish

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"postpilot/pkg/models"
)

// GuardConfig limits calls into one platform.
// RatePerSec <= 0 disables the limiter.
type GuardConfig struct {
	RatePerSec float64
	Burst      int
	Breaker    BreakerConfig
}

// Guard wraps a Publisher with a token bucket and a circuit breaker.
type Guard struct {
	next    Publisher
	limiter *rate.Limiter
	br      *breaker
	now     func() time.Time
}

func NewGuard(next Publisher, cfg GuardConfig) *Guard {
	g := &Guard{next: next, br: newBreaker(cfg.Breaker), now: time.Now}
	if cfg.RatePerSec > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = int(cfg.RatePerSec)
			if burst < 1 {
				burst = 1
			}
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return g
}

func (g *Guard) Platform() string { return g.next.Platform() }

func (g *Guard) Publish(ctx context.Context, c models.Content, cred Credential) Outcome {
	if open, until := g.br.isOpen(g.now()); open {
		return Fail(ErrCircuitOpen, "open until "+until.Format(time.RFC3339))
	}
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Fail(ErrRateLimited, err.Error())
		}
	}
	out := g.next.Publish(ctx, c, cred)
	switch {
	case out.Success:
		g.br.record(g.now(), true)
	case tripsBreaker(out.Error):
		g.br.record(g.now(), false)
	}
	return out
}

// tripsBreaker reports whether a failure says something about the platform
// itself. Rejections and missing accounts are per credential and must not
// block other owners.
func tripsBreaker(kind ErrorKind) bool {
	switch kind {
	case ErrTimeout, ErrInternal, ErrRateLimited:
		return true
	default:
		return false
	}
}
