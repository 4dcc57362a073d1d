package content

import (
	"context"
	"errors"
	"strings"
)

// ErrGenerationUnavailable is logged when every network provider failed.
var ErrGenerationUnavailable = errors.New("generation unavailable")

// ErrMalformed is returned by providers when a response lacks usable text.
var ErrMalformed = errors.New("malformed provider response")

// Request is the input to a provider.
type Request struct {
	Topic    string
	Platform string
	Style    string
}

// Draft is provider output before it is stamped with a provider arm.
type Draft struct {
	Caption      string
	Hashtags     string
	VisualPrompt string
}

func (d Draft) complete() bool {
	return strings.TrimSpace(d.Caption) != "" &&
		strings.TrimSpace(d.Hashtags) != "" &&
		strings.TrimSpace(d.VisualPrompt) != ""
}

// Provider produces a Draft. Implementations must honor ctx deadlines.
type Provider interface {
	Name() string
	Draft(ctx context.Context, req Request) (Draft, error)
}
