package refresh

import (
	"context"
	"errors"
	"maps"
	"time"
)

var (
	// ErrNotFound is returned when no record matches, including malformed
	// tokens and secret mismatches.
	ErrNotFound = errors.New("refresh record not found")
	// ErrRevoked is returned when the record exists but was revoked.
	ErrRevoked = errors.New("refresh record revoked")
	// ErrExpired is returned when the record exists but is past its expiry.
	ErrExpired = errors.New("refresh record expired")
	// ErrDuplicate is returned by Repository.Insert on an id collision.
	ErrDuplicate = errors.New("refresh record already exists")
	// ErrStorageFault wraps every backend I/O failure.
	ErrStorageFault = errors.New("refresh storage fault")
)

// Record is the durable state behind one refresh token.
type Record struct {
	ID        string
	OwnerID   string
	Secret    []byte
	IssuedAt  time.Time
	ExpiresAt time.Time
	Revoked   bool
	// RevokedAt is zero while the record is active.
	RevokedAt time.Time
	Metadata  map[string]string
}

// Usable reports whether the record may still be exchanged for access tokens.
func (r *Record) Usable(now time.Time) bool {
	return r != nil && !r.Revoked && now.Before(r.ExpiresAt)
}

// Clone returns a deep copy so backends never share mutable state with callers.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.Secret = append([]byte(nil), r.Secret...)
	out.Metadata = maps.Clone(r.Metadata)
	return &out
}

// Repository is the persistence contract a refresh backend implements.
//
// Every I/O failure must be returned wrapped in ErrStorageFault. Revoke must be
// an atomic compare-and-set on the revoked flag so that concurrent readers see
// either the state before or after the call, never a mix.
type Repository interface {
	// Insert persists a new record or fails with ErrDuplicate.
	Insert(ctx context.Context, rec *Record) error
	// Get loads a record by id or fails with ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)
	// Revoke marks the record revoked at the given time. The boolean reports
	// whether this call performed the transition. Missing ids yield ErrNotFound.
	Revoke(ctx context.Context, id string, at time.Time) (bool, error)
	// RevokeOwner revokes every active record of an owner except keepID and
	// returns how many records changed. An empty keepID keeps nothing.
	RevokeOwner(ctx context.Context, ownerID, keepID string, at time.Time) (int64, error)
	// ListOwner returns every stored record of an owner, revoked and expired
	// ones included, in no particular order.
	ListOwner(ctx context.Context, ownerID string) ([]*Record, error)
	// PurgeExpired deletes records whose expiry is at or before now.
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}
