package refresh

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultTokenBytes = 20
	DefaultTTL        = 7 * 24 * time.Hour

	maxInsertAttempts = 5
)

// Config controls record creation.
type Config struct {
	// TokenBytes is the length of the random secret. Zero selects DefaultTokenBytes.
	TokenBytes int
	// TTL is the record lifetime. Zero selects DefaultTTL.
	TTL time.Duration
	// RawSecrets persists the secret itself instead of its SHA-256 digest.
	// Switching modes invalidates every outstanding token.
	RawSecrets bool
	Now        func() time.Time
}

// Store issues, validates and revokes refresh records on top of a Repository.
// It holds no per-record state of its own, so it is safe for concurrent use
// whenever the repository is.
type Store struct {
	repo Repository
	cfg  Config
}

// NewStore applies defaults and validates cfg.
func NewStore(repo Repository, cfg Config) (*Store, error) {
	if repo == nil {
		return nil, errors.New("refresh: nil repository")
	}
	if cfg.TokenBytes == 0 {
		cfg.TokenBytes = DefaultTokenBytes
	}
	if cfg.TokenBytes < MinSecretBytes || cfg.TokenBytes > MaxSecretBytes {
		return nil, fmt.Errorf("refresh: token bytes must be within [%d, %d]", MinSecretBytes, MaxSecretBytes)
	}
	if cfg.TTL == 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.TTL < 0 {
		return nil, errors.New("refresh: negative ttl")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Store{repo: repo, cfg: cfg}, nil
}

// TTL returns the lifetime given to new records.
func (s *Store) TTL() time.Duration { return s.cfg.TTL }

// Create mints a record for ownerID and returns it with its plaintext token.
// annotate runs before the insert and may fill Metadata; identity, secret and
// lifetime fields are restored after it returns.
func (s *Store) Create(ctx context.Context, ownerID string, annotate func(*Record)) (*Record, string, error) {
	if ownerID == "" {
		return nil, "", errors.New("refresh: empty owner id")
	}

	now := s.now()
	for attempt := 0; attempt < maxInsertAttempts; attempt++ {
		id, err := uuid.NewRandom()
		if err != nil {
			return nil, "", fmt.Errorf("refresh: generate id: %w", err)
		}
		secret, err := newSecret(s.cfg.TokenBytes)
		if err != nil {
			return nil, "", fmt.Errorf("refresh: generate secret: %w", err)
		}

		rec := &Record{Metadata: map[string]string{}}
		if annotate != nil {
			annotate(rec)
			if rec.Metadata == nil {
				rec.Metadata = map[string]string{}
			}
		}
		rec.ID = id.String()
		rec.OwnerID = ownerID
		rec.Secret = s.stored(secret)
		rec.IssuedAt = now
		rec.ExpiresAt = now.Add(s.cfg.TTL)
		rec.Revoked = false
		rec.RevokedAt = time.Time{}

		err = s.repo.Insert(ctx, rec)
		switch {
		case err == nil:
			return rec, encodeToken(id, secret), nil
		case errors.Is(err, ErrDuplicate):
			continue
		default:
			return nil, "", storageFault("insert", err)
		}
	}
	return nil, "", fmt.Errorf("%w: %d consecutive id collisions", ErrStorageFault, maxInsertAttempts)
}

// FetchValid resolves a plaintext token to its record. Malformed tokens and
// secret mismatches report ErrNotFound; a matching record that is no longer
// usable reports ErrRevoked or ErrExpired.
func (s *Store) FetchValid(ctx context.Context, token string) (*Record, error) {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		return nil, err
	}
	if rec.Revoked {
		return nil, ErrRevoked
	}
	if !s.now().Before(rec.ExpiresAt) {
		return nil, ErrExpired
	}
	return rec, nil
}

// Revoke marks rec revoked. Revoking an already revoked or missing record is
// not an error.
func (s *Store) Revoke(ctx context.Context, rec *Record) error {
	if rec == nil {
		return nil
	}
	at := s.now()
	changed, err := s.repo.Revoke(ctx, rec.ID, at)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return storageFault("revoke", err)
	}
	if changed {
		rec.Revoked = true
		rec.RevokedAt = at
	}
	return nil
}

// RevokeToken revokes the record a plaintext token points at. When ownerID is
// set, a record owned by someone else is left alone. Tokens that do not
// resolve are ignored; only storage faults are returned. The boolean reports
// whether a record owned by ownerID was found.
func (s *Store) RevokeToken(ctx context.Context, token, ownerID string) (bool, error) {
	rec, err := s.lookup(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if ownerID != "" && rec.OwnerID != ownerID {
		return false, nil
	}
	return true, s.Revoke(ctx, rec)
}

// Resolve returns the record a plaintext token points at whatever its state.
// Tokens that do not match a record report ErrNotFound.
func (s *Store) Resolve(ctx context.Context, token string) (*Record, error) {
	return s.lookup(ctx, token)
}

// RevokeOwner revokes every active record of ownerID.
func (s *Store) RevokeOwner(ctx context.Context, ownerID string) (int64, error) {
	return s.RevokeOwnerExcept(ctx, ownerID, "")
}

// RevokeOwnerExcept revokes every active record of ownerID but keepID.
func (s *Store) RevokeOwnerExcept(ctx context.Context, ownerID, keepID string) (int64, error) {
	n, err := s.repo.RevokeOwner(ctx, ownerID, keepID, s.now())
	if err != nil {
		return 0, storageFault("revoke owner", err)
	}
	return n, nil
}

// ListOwner returns the records of ownerID with active ones first, then by
// issue time, newest first. Secrets are stripped.
func (s *Store) ListOwner(ctx context.Context, ownerID string) ([]*Record, error) {
	recs, err := s.repo.ListOwner(ctx, ownerID)
	if err != nil {
		return nil, storageFault("list owner", err)
	}
	now := s.now()
	out := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if rec == nil {
			continue
		}
		c := rec.Clone()
		c.Secret = nil
		out = append(out, c)
	}
	sort.SliceStable(out, func(i, j int) bool {
		ai, aj := out[i].Usable(now), out[j].Usable(now)
		if ai != aj {
			return ai
		}
		if !out[i].IssuedAt.Equal(out[j].IssuedAt) {
			return out[i].IssuedAt.After(out[j].IssuedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// PurgeExpired deletes records past their expiry.
func (s *Store) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repo.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, storageFault("purge", err)
	}
	return n, nil
}

func (s *Store) lookup(ctx context.Context, token string) (*Record, error) {
	id, secret, err := decodeToken(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	rec, err := s.repo.Get(ctx, id.String())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storageFault("get", err)
	}
	if subtle.ConstantTimeCompare(rec.Secret, s.stored(secret)) != 1 {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *Store) stored(secret []byte) []byte {
	if s.cfg.RawSecrets {
		return append([]byte(nil), secret...)
	}
	return digestSecret(secret)
}

// now truncates to milliseconds so every backend round-trips timestamps exactly.
func (s *Store) now() time.Time {
	return s.cfg.Now().UTC().Truncate(time.Millisecond)
}

func storageFault(op string, err error) error {
	if errors.Is(err, ErrStorageFault) {
		return err
	}
	return fmt.Errorf("%w: %s: %v", ErrStorageFault, op, err)
}
