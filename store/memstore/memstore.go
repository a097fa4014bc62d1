// Package memstore is an in-process refresh.Repository for tests, demos and
// single-instance deployments. Records do not survive a restart.
package memstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrEthical07/cookieauth/refresh"
)

// Repository keeps records in a map guarded by one mutex. Revoke holds the
// write lock, so readers observe either the pre- or post-revoke state.
type Repository struct {
	mu      sync.RWMutex
	records map[string]*refresh.Record
	owners  map[string]map[string]struct{}
}

// New returns an empty repository.
func New() *Repository {
	return &Repository{
		records: make(map[string]*refresh.Record),
		owners:  make(map[string]map[string]struct{}),
	}
}

func (r *Repository) Insert(ctx context.Context, rec *refresh.Record) error {
	if err := ctx.Err(); err != nil {
		return fault(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[rec.ID]; ok {
		return refresh.ErrDuplicate
	}
	r.records[rec.ID] = rec.Clone()
	ids, ok := r.owners[rec.OwnerID]
	if !ok {
		ids = make(map[string]struct{})
		r.owners[rec.OwnerID] = ids
	}
	ids[rec.ID] = struct{}{}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*refresh.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault(err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[id]
	if !ok {
		return nil, refresh.ErrNotFound
	}
	return rec.Clone(), nil
}

func (r *Repository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fault(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[id]
	if !ok {
		return false, refresh.ErrNotFound
	}
	if rec.Revoked {
		return false, nil
	}
	rec.Revoked = true
	rec.RevokedAt = at
	return true, nil
}

func (r *Repository) RevokeOwner(ctx context.Context, ownerID, keepID string, at time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fault(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id := range r.owners[ownerID] {
		rec := r.records[id]
		if rec == nil || rec.Revoked || id == keepID {
			continue
		}
		rec.Revoked = true
		rec.RevokedAt = at
		n++
	}
	return n, nil
}

func (r *Repository) ListOwner(ctx context.Context, ownerID string) ([]*refresh.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, fault(err)
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*refresh.Record, 0, len(r.owners[ownerID]))
	for id := range r.owners[ownerID] {
		if rec := r.records[id]; rec != nil {
			out = append(out, rec.Clone())
		}
	}
	return out, nil
}

func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fault(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, rec := range r.records {
		if now.Before(rec.ExpiresAt) {
			continue
		}
		delete(r.records, id)
		if ids := r.owners[rec.OwnerID]; ids != nil {
			delete(ids, id)
			if len(ids) == 0 {
				delete(r.owners, rec.OwnerID)
			}
		}
		n++
	}
	return n, nil
}

// Len reports how many records are held, revoked ones included.
func (r *Repository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

func fault(err error) error {
	return fmt.Errorf("%w: %v", refresh.ErrStorageFault, err)
}

var _ refresh.Repository = (*Repository)(nil)
