// Package accounts resolves the linked credential a job owner holds for a
// platform. The scheduler only reads; linking happens through intake.
package accounts

import (
	"context"
	"errors"
	"sync"
	"time"

	"postpilot/internal/storage"
	"postpilot/pkg/models"
)

// ErrAccountNotFound is the expected, non-fatal "no usable account" outcome.
var ErrAccountNotFound = errors.New("account not found")

type Directory interface {
	Resolve(ctx context.Context, owner, platform string) (models.LinkedAccount, error)
}

// StoreDirectory reads linked accounts from the job store.
// Inactive and expired accounts resolve to ErrAccountNotFound.
type StoreDirectory struct {
	st  storage.Store
	now func() time.Time
}

func NewStoreDirectory(st storage.Store) *StoreDirectory {
	return &StoreDirectory{st: st, now: time.Now}
}

func (d *StoreDirectory) Resolve(ctx context.Context, owner, platform string) (models.LinkedAccount, error) {
	a, err := d.st.FindAccount(ctx, owner, models.NormalizeTag(platform))
	if errors.Is(err, storage.ErrNotFound) {
		return models.LinkedAccount{}, ErrAccountNotFound
	}
	if err != nil {
		return models.LinkedAccount{}, err
	}
	if !a.Active || a.Expired(d.now()) {
		return models.LinkedAccount{}, ErrAccountNotFound
	}
	return *a, nil
}

// Static is an in-memory directory for tests and config-seeded accounts.
type Static struct {
	mu       sync.RWMutex
	accounts map[[2]string]models.LinkedAccount
}

func NewStatic(accts ...models.LinkedAccount) *Static {
	s := &Static{accounts: map[[2]string]models.LinkedAccount{}}
	for _, a := range accts {
		s.Put(a)
	}
	return s
}

// Put stores a as active.
func (s *Static) Put(a models.LinkedAccount) {
	a.Platform = models.NormalizeTag(a.Platform)
	a.Active = true
	s.mu.Lock()
	s.accounts[[2]string{a.Owner, a.Platform}] = a
	s.mu.Unlock()
}

func (s *Static) Resolve(_ context.Context, owner, platform string) (models.LinkedAccount, error) {
	s.mu.RLock()
	a, ok := s.accounts[[2]string{owner, models.NormalizeTag(platform)}]
	s.mu.RUnlock()
	if !ok || !a.Active || a.Expired(time.Now()) {
		return models.LinkedAccount{}, ErrAccountNotFound
	}
	return a, nil
}
