package publish

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"postpilot/pkg/models"
)

type Publisher interface {
	Platform() string
	Publish(ctx context.Context, c models.Content, cred Credential) Outcome
}

// Registry maps platform tags to publishers.
type Registry struct {
	mu sync.RWMutex
	m  map[string]Publisher
}

func NewRegistry(pubs ...Publisher) *Registry {
	r := &Registry{m: map[string]Publisher{}}
	for _, p := range pubs {
		r.Set(p)
	}
	return r
}

// Register adds p and fails if its platform is already taken.
func (r *Registry) Register(p Publisher) error {
	if p == nil {
		return errors.New("nil publisher")
	}
	key := models.NormalizeTag(p.Platform())
	if key == "" {
		return errors.New("publisher has empty platform")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[key]; ok {
		return fmt.Errorf("publisher already registered: %s", key)
	}
	r.m[key] = p
	return nil
}

// Set adds or replaces the publisher for p.Platform().
func (r *Registry) Set(p Publisher) {
	if p == nil {
		return
	}
	r.mu.Lock()
	r.m[models.NormalizeTag(p.Platform())] = p
	r.mu.Unlock()
}

func (r *Registry) Lookup(platform string) (Publisher, bool) {
	r.mu.RLock()
	p, ok := r.m[models.NormalizeTag(platform)]
	r.mu.RUnlock()
	return p, ok
}

func (r *Registry) Platforms() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.m))
	for k := range r.m {
		out = append(out, k)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Publish dispatches to the platform's publisher.
// Panics become ErrInternal and an expired ctx becomes ErrTimeout.
func (r *Registry) Publish(ctx context.Context, platform string, c models.Content, cred Credential) (out Outcome) {
	p, ok := r.Lookup(platform)
	if !ok {
		return Fail(ErrUnsupportedPlatform, platform)
	}
	defer func() {
		if rec := recover(); rec != nil {
			out = Fail(ErrInternal, fmt.Sprintf("panic: %v", rec))
		}
	}()
	out = p.Publish(ctx, c, cred)
	if out.Success {
		return out
	}
	if out.Error == models.ErrorNone {
		out.Error = ErrInternal
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && out.Error == ErrInternal {
		out.Error = ErrTimeout
	}
	return out
}
