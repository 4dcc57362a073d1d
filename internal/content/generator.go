package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	logx "postpilot/pkg/logx"
	"postpilot/pkg/models"
)

const defaultTimeout = 20 * time.Second

// GenericPlatform tags content requested without a platform.
const GenericPlatform = "generic"

type Config struct {
	// Timeout bounds each network provider attempt.
	Timeout time.Duration
}

// Generator is the primary -> secondary -> template chain.
// Either network arm may be nil.
type Generator struct {
	primary   Provider
	secondary Provider
	template  Template
	timeout   time.Duration
	log       logx.Logger
}

func NewGenerator(cfg Config, primary, secondary Provider, log logx.Logger) *Generator {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Generator{
		primary:   primary,
		secondary: secondary,
		timeout:   cfg.Timeout,
		log:       log.With(logx.String("comp", "content")),
	}
}

// Generate always returns complete content.
func (g *Generator) Generate(ctx context.Context, topic, platform, style string) models.Content {
	req := Request{Topic: topic, Platform: models.NormalizeTag(platform), Style: models.NormalizeTag(style)}
	if req.Platform == "" {
		req.Platform = GenericPlatform
	}

	arms := []struct {
		p    Provider
		kind models.ContentProvider
	}{
		{g.primary, models.ProviderPrimary},
		{g.secondary, models.ProviderSecondary},
	}
	var errs []error
	for _, arm := range arms {
		if arm.p == nil {
			continue
		}
		d, err := g.try(ctx, arm.p, req)
		if err == nil {
			g.log.Info("content generated",
				logx.String("platform", req.Platform),
				logx.String("provider", string(arm.kind)),
				logx.String("source", arm.p.Name()),
			)
			return stamp(req, d, arm.kind, arm.p.Name())
		}
		errs = append(errs, err)
		g.log.Warn("content provider failed",
			logx.String("platform", req.Platform),
			logx.String("provider", string(arm.kind)),
			logx.String("source", arm.p.Name()),
			logx.Err(err),
		)
	}

	if len(errs) > 0 {
		g.log.Info("falling back to template",
			logx.String("platform", req.Platform),
			logx.Err(fmt.Errorf("%w: %w", ErrGenerationUnavailable, errors.Join(errs...))),
		)
	} else {
		g.log.Debug("content generated", logx.String("platform", req.Platform), logx.String("provider", string(models.ProviderFallback)))
	}
	return stamp(req, g.template.Render(req), models.ProviderFallback, g.template.Name())
}

func (g *Generator) try(ctx context.Context, p Provider, req Request) (d Draft, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", p.Name(), r)
		}
	}()
	cctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	d, err = p.Draft(cctx, req)
	if err != nil {
		return Draft{}, err
	}
	if !d.complete() {
		return Draft{}, fmt.Errorf("%s: %w: empty field", p.Name(), ErrMalformed)
	}
	return d, nil
}

func stamp(req Request, d Draft, kind models.ContentProvider, source string) models.Content {
	return models.Content{
		Platform:     req.Platform,
		Caption:      d.Caption,
		Hashtags:     d.Hashtags,
		VisualPrompt: d.VisualPrompt,
		Provider:     kind,
		Source:       source,
	}
}
