// Package pgstore persists refresh records in PostgreSQL through a pgx pool.
// The schema ships as embedded goose migrations; see Migrate.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrEthical07/cookieauth/refresh"
)

// Repository implements refresh.Repository on the refresh_tokens table.
type Repository struct {
	db *pgxpool.Pool
}

// New opens a pool for dsn and pings it.
func New(ctx context.Context, dsn string) (*Repository, error) {
	const op = "pgstore.New"

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	db, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Repository{db: db}, nil
}

// NewFromPool wraps an existing pool; closing it stays with the caller.
func NewFromPool(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// Close closes the pool.
func (r *Repository) Close() {
	r.db.Close()
}

func (r *Repository) Insert(ctx context.Context, rec *refresh.Record) error {
	const op = "pgstore.Insert"

	id, err := uuid.Parse(rec.ID)
	if err != nil {
		return fmt.Errorf("%s: invalid record id: %w", op, err)
	}
	meta, err := json.Marshal(metadataOrEmpty(rec.Metadata))
	if err != nil {
		return fmt.Errorf("%s: encode metadata: %w", op, err)
	}

	const query = `
		INSERT INTO refresh_tokens (id, owner_id, secret, issued_at, expires_at, revoked, metadata)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6)
	`
	_, err = r.db.Exec(ctx, query, id, rec.OwnerID, rec.Secret, rec.IssuedAt, rec.ExpiresAt, meta)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, refresh.ErrDuplicate)
		}
		return fault(op, err)
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*refresh.Record, error) {
	const op = "pgstore.Get"

	key, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, refresh.ErrNotFound)
	}

	const query = `
		SELECT owner_id, secret, issued_at, expires_at, revoked, revoked_at, metadata
		FROM refresh_tokens
		WHERE id = $1
	`
	var (
		rec       = refresh.Record{ID: key.String()}
		revokedAt *time.Time
		meta      []byte
	)
	err = r.db.QueryRow(ctx, query, key).Scan(
		&rec.OwnerID,
		&rec.Secret,
		&rec.IssuedAt,
		&rec.ExpiresAt,
		&rec.Revoked,
		&revokedAt,
		&meta,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, refresh.ErrNotFound)
		}
		return nil, fault(op, err)
	}

	if err := normalize(&rec, revokedAt, meta); err != nil {
		return nil, fault(op, err)
	}
	return &rec, nil
}

func normalize(rec *refresh.Record, revokedAt *time.Time, meta []byte) error {
	rec.IssuedAt = rec.IssuedAt.UTC()
	rec.ExpiresAt = rec.ExpiresAt.UTC()
	if revokedAt != nil {
		rec.RevokedAt = revokedAt.UTC()
	}
	rec.Metadata = map[string]string{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &rec.Metadata); err != nil {
			return fmt.Errorf("decode metadata: %w", err)
		}
	}
	return nil
}

// Revoke flips revoked with a conditional UPDATE so exactly one caller wins;
// a losing caller then distinguishes "already revoked" from "missing".
func (r *Repository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	const op = "pgstore.Revoke"

	key, err := uuid.Parse(id)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, refresh.ErrNotFound)
	}

	const upd = `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE id = $1 AND revoked = FALSE
		RETURNING owner_id
	`
	var owner string
	err = r.db.QueryRow(ctx, upd, key, at).Scan(&owner)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return false, fault(op, err)
	}

	const sel = `SELECT revoked FROM refresh_tokens WHERE id = $1`
	var revoked bool
	if err := r.db.QueryRow(ctx, sel, key).Scan(&revoked); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, fmt.Errorf("%s: %w", op, refresh.ErrNotFound)
		}
		return false, fault(op, err)
	}
	return false, nil
}

func (r *Repository) RevokeOwner(ctx context.Context, ownerID, keepID string, at time.Time) (int64, error) {
	const op = "pgstore.RevokeOwner"

	// A keepID that is not a UUID cannot match any row.
	var keep *uuid.UUID
	if id, err := uuid.Parse(keepID); err == nil {
		keep = &id
	}

	const query = `
		UPDATE refresh_tokens
		SET revoked = TRUE, revoked_at = $2
		WHERE owner_id = $1 AND revoked = FALSE
		  AND ($3::uuid IS NULL OR id <> $3)
	`
	tag, err := r.db.Exec(ctx, query, ownerID, at, keep)
	if err != nil {
		return 0, fault(op, err)
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) ListOwner(ctx context.Context, ownerID string) ([]*refresh.Record, error) {
	const op = "pgstore.ListOwner"

	const query = `
		SELECT id, secret, issued_at, expires_at, revoked, revoked_at, metadata
		FROM refresh_tokens
		WHERE owner_id = $1
	`
	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, fault(op, err)
	}
	defer rows.Close()

	var out []*refresh.Record
	for rows.Next() {
		var (
			id        uuid.UUID
			rec       = refresh.Record{OwnerID: ownerID}
			revokedAt *time.Time
			meta      []byte
		)
		if err := rows.Scan(&id, &rec.Secret, &rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked, &revokedAt, &meta); err != nil {
			return nil, fault(op, err)
		}
		rec.ID = id.String()
		if err := normalize(&rec, revokedAt, meta); err != nil {
			return nil, fault(op, err)
		}
		out = append(out, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fault(op, err)
	}
	return out, nil
}

func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	const op = "pgstore.PurgeExpired"

	tag, err := r.db.Exec(ctx, `DELETE FROM refresh_tokens WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fault(op, err)
	}
	return tag.RowsAffected(), nil
}

func metadataOrEmpty(m map[string]string) map[string]string {
	if m == nil {
		return map[string]string{}
	}
	return m
}

func fault(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, refresh.ErrStorageFault, err)
}

var _ refresh.Repository = (*Repository)(nil)
