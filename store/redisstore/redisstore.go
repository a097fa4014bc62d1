// Package redisstore persists refresh records in Redis. Revocation runs as a
// Lua script so a concurrent reader never sees a half-applied revoke.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cookieauth/refresh"
)

// DefaultPrefix namespaces every key written by the repository.
const DefaultPrefix = "cookieauth"

const (
	revokeStatusMissing int64 = -1
	revokeStatusForeign int64 = -2
	revokeStatusRevoked int64 = 0
	revokeStatusChanged int64 = 1
)

const purgeScanBatch = 256

const insertScript = `
if redis.call("EXISTS", KEYS[1]) == 1 then
  return 0
end
redis.call("HSET", KEYS[1],
  "owner", ARGV[1],
  "secret", ARGV[2],
  "iat", ARGV[3],
  "exp", ARGV[4],
  "rev", "0",
  "rev_at", "0",
  "meta", ARGV[5])
local expire_at = tonumber(ARGV[6])
if expire_at > 0 then
  redis.call("PEXPIREAT", KEYS[1], expire_at)
end
return 1
`

var insertLua = redis.NewScript(insertScript)

// revokeScript flips rev from 0 to 1 in one step. ARGV[2], when set, must
// match the stored owner so stale owner-index entries cannot touch records
// that were re-created under another owner.
const revokeScript = `
local rev = redis.call("HGET", KEYS[1], "rev")
if not rev then
  return -1
end
if ARGV[2] ~= "" and redis.call("HGET", KEYS[1], "owner") ~= ARGV[2] then
  return -2
end
if rev == "1" then
  return 0
end
redis.call("HSET", KEYS[1], "rev", "1", "rev_at", ARGV[1])
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Options configures a Repository.
type Options struct {
	// Prefix namespaces keys. Empty selects DefaultPrefix.
	Prefix string
	// Retention, when positive, lets Redis drop a record on its own at
	// ExpiresAt+Retention. Zero keeps records until PurgeExpired runs.
	Retention time.Duration
}

// Repository stores one hash per record at <prefix>:rt:<id> and an owner
// index set at <prefix>:rto:<owner>. Every script touches a single key, so the
// layout is usable on Redis Cluster; PurgeExpired only scans the node the
// client routes SCAN to.
type Repository struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
}

// New wraps client. The client's lifecycle stays with the caller.
func New(client redis.UniversalClient, opts Options) (*Repository, error) {
	if client == nil {
		return nil, errors.New("redisstore: nil client")
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Retention < 0 {
		return nil, errors.New("redisstore: negative retention")
	}
	return &Repository{client: client, prefix: opts.Prefix, retention: opts.Retention}, nil
}

func (r *Repository) recordKey(id string) string {
	return r.prefix + ":rt:" + id
}

func (r *Repository) ownerKey(ownerID string) string {
	return r.prefix + ":rto:" + ownerID
}

// Ping checks connectivity.
func (r *Repository) Ping(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fault(err)
	}
	return nil
}

// Insert indexes the record under its owner first, then writes the hash only
// if the key is free.
func (r *Repository) Insert(ctx context.Context, rec *refresh.Record) error {
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("redisstore: encode metadata: %w", err)
	}
	var expireAt int64
	if r.retention > 0 {
		expireAt = rec.ExpiresAt.Add(r.retention).UnixMilli()
	}

	if err := r.client.SAdd(ctx, r.ownerKey(rec.OwnerID), rec.ID).Err(); err != nil {
		return fault(err)
	}
	created, err := insertLua.Run(ctx, r.client, []string{r.recordKey(rec.ID)},
		rec.OwnerID,
		string(rec.Secret),
		rec.IssuedAt.UnixMilli(),
		rec.ExpiresAt.UnixMilli(),
		string(meta),
		expireAt,
	).Int64()
	if err != nil {
		return fault(err)
	}
	if created == 0 {
		return refresh.ErrDuplicate
	}
	return nil
}

func (r *Repository) Get(ctx context.Context, id string) (*refresh.Record, error) {
	fields, err := r.client.HGetAll(ctx, r.recordKey(id)).Result()
	if err != nil {
		return nil, fault(err)
	}
	if len(fields) == 0 {
		return nil, refresh.ErrNotFound
	}
	rec, err := decodeRecord(id, fields)
	if err != nil {
		return nil, fault(err)
	}
	return rec, nil
}

func (r *Repository) Revoke(ctx context.Context, id string, at time.Time) (bool, error) {
	status, err := revokeLua.Run(ctx, r.client, []string{r.recordKey(id)}, at.UnixMilli(), "").Int64()
	if err != nil {
		return false, fault(err)
	}
	switch status {
	case revokeStatusChanged:
		return true, nil
	case revokeStatusRevoked:
		return false, nil
	default:
		return false, refresh.ErrNotFound
	}
}

// RevokeOwner walks the owner index and revokes each record with the single
// key script. Index entries whose record is gone are pruned on the way.
func (r *Repository) RevokeOwner(ctx context.Context, ownerID, keepID string, at time.Time) (int64, error) {
	ownerKey := r.ownerKey(ownerID)
	ids, err := r.client.SMembers(ctx, ownerKey).Result()
	if err != nil {
		return 0, fault(err)
	}

	var (
		n     int64
		stale []any
	)
	for _, id := range ids {
		if id == keepID {
			continue
		}
		status, err := revokeLua.Run(ctx, r.client, []string{r.recordKey(id)}, at.UnixMilli(), ownerID).Int64()
		if err != nil {
			return n, fault(err)
		}
		switch status {
		case revokeStatusChanged:
			n++
		case revokeStatusMissing, revokeStatusForeign:
			stale = append(stale, id)
		}
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, ownerKey, stale...).Err(); err != nil {
			return n, fault(err)
		}
	}
	return n, nil
}

// ListOwner reads every indexed record in one pipeline. Index entries whose
// record is gone or now belongs to another owner are pruned.
func (r *Repository) ListOwner(ctx context.Context, ownerID string) ([]*refresh.Record, error) {
	ownerKey := r.ownerKey(ownerID)
	ids, err := r.client.SMembers(ctx, ownerKey).Result()
	if err != nil {
		return nil, fault(err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	reads := make([]*redis.MapStringStringCmd, len(ids))
	for i, id := range ids {
		reads[i] = pipe.HGetAll(ctx, r.recordKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fault(err)
	}

	var (
		out   = make([]*refresh.Record, 0, len(ids))
		stale []any
	)
	for i, cmd := range reads {
		fields := cmd.Val()
		if len(fields) == 0 || fields["owner"] != ownerID {
			stale = append(stale, ids[i])
			continue
		}
		rec, err := decodeRecord(ids[i], fields)
		if err != nil {
			return nil, fault(err)
		}
		out = append(out, rec)
	}
	if len(stale) > 0 {
		if err := r.client.SRem(ctx, ownerKey, stale...).Err(); err != nil {
			return nil, fault(err)
		}
	}
	return out, nil
}

// PurgeExpired scans record keys and deletes those at or past expiry.
func (r *Repository) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	var (
		cursor uint64
		purged int64
	)
	cutoff := now.UnixMilli()
	for {
		keys, next, err := r.client.Scan(ctx, cursor, r.prefix+":rt:*", purgeScanBatch).Result()
		if err != nil {
			return purged, fault(err)
		}
		n, err := r.purgeBatch(ctx, keys, cutoff)
		purged += n
		if err != nil {
			return purged, err
		}
		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

func (r *Repository) purgeBatch(ctx context.Context, keys []string, cutoff int64) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	pipe := r.client.Pipeline()
	reads := make([]*redis.SliceCmd, len(keys))
	for i, key := range keys {
		reads[i] = pipe.HMGet(ctx, key, "exp", "owner")
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fault(err)
	}

	del := r.client.Pipeline()
	deletes := make([]*redis.IntCmd, 0, len(keys))
	for i, cmd := range reads {
		vals := cmd.Val()
		if len(vals) != 2 {
			continue
		}
		expRaw, _ := vals[0].(string)
		owner, _ := vals[1].(string)
		exp, err := strconv.ParseInt(expRaw, 10, 64)
		if err != nil || exp > cutoff {
			continue
		}
		id := keys[i][len(r.prefix)+len(":rt:"):]
		deletes = append(deletes, del.Del(ctx, keys[i]))
		del.SRem(ctx, r.ownerKey(owner), id)
	}
	if len(deletes) == 0 {
		return 0, nil
	}
	if _, err := del.Exec(ctx); err != nil {
		return 0, fault(err)
	}
	var n int64
	for _, cmd := range deletes {
		n += cmd.Val()
	}
	return n, nil
}

func decodeRecord(id string, fields map[string]string) (*refresh.Record, error) {
	iat, err := strconv.ParseInt(fields["iat"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt record %s: iat: %v", id, err)
	}
	exp, err := strconv.ParseInt(fields["exp"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt record %s: exp: %v", id, err)
	}
	revAt, err := strconv.ParseInt(fields["rev_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("corrupt record %s: rev_at: %v", id, err)
	}

	rec := &refresh.Record{
		ID:        id,
		OwnerID:   fields["owner"],
		Secret:    []byte(fields["secret"]),
		IssuedAt:  time.UnixMilli(iat).UTC(),
		ExpiresAt: time.UnixMilli(exp).UTC(),
		Revoked:   fields["rev"] == "1",
		Metadata:  map[string]string{},
	}
	if rec.Revoked {
		rec.RevokedAt = time.UnixMilli(revAt).UTC()
	}
	if raw := fields["meta"]; raw != "" {
		if err := json.Unmarshal([]byte(raw), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("corrupt record %s: meta: %v", id, err)
		}
		if rec.Metadata == nil {
			rec.Metadata = map[string]string{}
		}
	}
	return rec, nil
}

func fault(err error) error {
	return fmt.Errorf("%w: %v", refresh.ErrStorageFault, err)
}

var _ refresh.Repository = (*Repository)(nil)
