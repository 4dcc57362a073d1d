package publish

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

var idPrefixes = map[string]string{
	"instagram": "ig",
	"twitter":   "tw",
	"linkedin":  "li",
	"facebook":  "fb",
	"tiktok":    "tt",
}

// SimulatedPlatforms lists the platforms served by Simulated by default.
var SimulatedPlatforms = []string{"instagram", "twitter", "linkedin", "facebook", "tiktok"}

type SimulatedOptions struct {
	// Latency is slept (ctx-aware) before answering.
	Latency time.Duration
	// FailWith forces every publish to fail with this kind.
	FailWith ErrorKind
	Log      logx.Logger
}

// Simulated formats the post like the real platform would and returns a
// synthetic external id without any network call.
type Simulated struct {
	platform string
	prefix   string
	opts     SimulatedOptions
	seq      atomic.Uint64
	now      func() time.Time
}

func NewSimulated(platform string, opts SimulatedOptions) *Simulated {
	platform = models.NormalizeTag(platform)
	prefix, ok := idPrefixes[platform]
	if !ok {
		prefix = platform
	}
	if opts.Log.IsZero() {
		opts.Log = logx.Nop()
	}
	opts.Log = opts.Log.With(logx.String("comp", "publish"), logx.String("platform", platform))
	return &Simulated{platform: platform, prefix: prefix, opts: opts, now: time.Now}
}

func (s *Simulated) Platform() string { return s.platform }

func (s *Simulated) Publish(ctx context.Context, c models.Content, cred Credential) Outcome {
	if s.opts.Latency > 0 {
		t := time.NewTimer(s.opts.Latency)
		select {
		case <-ctx.Done():
			t.Stop()
			return Fail(ErrTimeout, ctx.Err().Error())
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return Fail(ErrTimeout, err.Error())
	}
	if s.opts.FailWith != models.ErrorNone {
		return Fail(s.opts.FailWith, "simulated failure")
	}
	if strings.TrimSpace(cred.Token) == "" {
		return Fail(ErrRejected, "empty credential")
	}
	body := Format(s.platform, c.Caption, c.Hashtags)
	id := fmt.Sprintf("%s_%d_%d", s.prefix, s.now().UnixMilli(), s.seq.Add(1))
	s.opts.Log.Debug("simulated post",
		logx.String("external_id", id),
		logx.Int("chars", len([]rune(body))),
	)
	return Ok(id)
}
