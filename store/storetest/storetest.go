// Package storetest holds the behavioural suite every refresh.Repository
// backend must pass. Backends call Run from their own tests.
package storetest

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/cookieauth/refresh"
)

// Factory returns an empty repository. It is called once per subtest.
type Factory func(t *testing.T) refresh.Repository

var base = time.UnixMilli(1_700_000_000_000).UTC()

// NewRecord builds an active record owned by ownerID that expires after ttl.
func NewRecord(ownerID string, ttl time.Duration) *refresh.Record {
	return &refresh.Record{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Secret:    []byte("0123456789abcdef0123456789abcdef"),
		IssuedAt:  base,
		ExpiresAt: base.Add(ttl),
		Metadata:  map[string]string{"client_ip": "203.0.113.9", "user_agent": "storetest"},
	}
}

// Run executes the repository contract suite.
func Run(t *testing.T, newRepo Factory) {
	t.Run("InsertGetRoundTrip", func(t *testing.T) { testInsertGet(t, newRepo(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, newRepo(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newRepo(t)) })
	t.Run("GetReturnsCopy", func(t *testing.T) { testGetReturnsCopy(t, newRepo(t)) })
	t.Run("RevokeOnce", func(t *testing.T) { testRevokeOnce(t, newRepo(t)) })
	t.Run("RevokeMissing", func(t *testing.T) { testRevokeMissing(t, newRepo(t)) })
	t.Run("RevokeConcurrent", func(t *testing.T) { testRevokeConcurrent(t, newRepo(t)) })
	t.Run("RevokeOwner", func(t *testing.T) { testRevokeOwner(t, newRepo(t)) })
	t.Run("RevokeOwnerKeep", func(t *testing.T) { testRevokeOwnerKeep(t, newRepo(t)) })
	t.Run("ListOwner", func(t *testing.T) { testListOwner(t, newRepo(t)) })
	t.Run("PurgeExpired", func(t *testing.T) { testPurgeExpired(t, newRepo(t)) })
}

func testInsertGet(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	rec := NewRecord("user-1", time.Hour)
	require.NoError(t, repo.Insert(ctx, rec))

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.Equal(t, rec.OwnerID, got.OwnerID)
	require.Equal(t, rec.Secret, got.Secret)
	require.True(t, rec.IssuedAt.Equal(got.IssuedAt), "issued_at %v != %v", got.IssuedAt, rec.IssuedAt)
	require.True(t, rec.ExpiresAt.Equal(got.ExpiresAt), "expires_at %v != %v", got.ExpiresAt, rec.ExpiresAt)
	require.False(t, got.Revoked)
	require.True(t, got.RevokedAt.IsZero())
	require.Equal(t, rec.Metadata, got.Metadata)
}

func testInsertDuplicate(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	rec := NewRecord("user-1", time.Hour)
	require.NoError(t, repo.Insert(ctx, rec))

	dup := NewRecord("user-2", time.Hour)
	dup.ID = rec.ID
	require.ErrorIs(t, repo.Insert(ctx, dup), refresh.ErrDuplicate)

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "user-1", got.OwnerID)
}

func testGetMissing(t *testing.T, repo refresh.Repository) {
	_, err := repo.Get(context.Background(), uuid.NewString())
	require.ErrorIs(t, err, refresh.ErrNotFound)
}

func testGetReturnsCopy(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	rec := NewRecord("user-1", time.Hour)
	require.NoError(t, repo.Insert(ctx, rec))
	rec.Metadata["client_ip"] = "mutated"

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	got.Metadata["user_agent"] = "mutated"
	got.Revoked = true

	again, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, "203.0.113.9", again.Metadata["client_ip"])
	require.Equal(t, "storetest", again.Metadata["user_agent"])
	require.False(t, again.Revoked)
}

func testRevokeOnce(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	rec := NewRecord("user-1", time.Hour)
	require.NoError(t, repo.Insert(ctx, rec))

	at := base.Add(time.Minute)
	changed, err := repo.Revoke(ctx, rec.ID, at)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = repo.Revoke(ctx, rec.ID, at.Add(time.Minute))
	require.NoError(t, err)
	require.False(t, changed)

	got, err := repo.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.True(t, got.Revoked)
	require.True(t, at.Equal(got.RevokedAt), "revoked_at %v != %v", got.RevokedAt, at)
}

func testRevokeMissing(t *testing.T, repo refresh.Repository) {
	_, err := repo.Revoke(context.Background(), uuid.NewString(), base)
	require.ErrorIs(t, err, refresh.ErrNotFound)
}

func testRevokeConcurrent(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	rec := NewRecord("user-1", time.Hour)
	require.NoError(t, repo.Insert(ctx, rec))

	const workers = 16
	var (
		wg          sync.WaitGroup
		transitions atomic.Int64
		failures    atomic.Int64
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			changed, err := repo.Revoke(ctx, rec.ID, base)
			if err != nil {
				failures.Add(1)
				return
			}
			if changed {
				transitions.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	require.Zero(t, failures.Load())
	require.EqualValues(t, 1, transitions.Load())
}

func testRevokeOwner(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	a1 := NewRecord("alice", time.Hour)
	a2 := NewRecord("alice", time.Hour)
	a3 := NewRecord("alice", time.Hour)
	b1 := NewRecord("bob", time.Hour)
	for _, rec := range []*refresh.Record{a1, a2, a3, b1} {
		require.NoError(t, repo.Insert(ctx, rec))
	}
	_, err := repo.Revoke(ctx, a3.ID, base)
	require.NoError(t, err)

	n, err := repo.RevokeOwner(ctx, "alice", "", base.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	for _, id := range []string{a1.ID, a2.ID, a3.ID} {
		got, err := repo.Get(ctx, id)
		require.NoError(t, err)
		require.True(t, got.Revoked)
	}
	got, err := repo.Get(ctx, b1.ID)
	require.NoError(t, err)
	require.False(t, got.Revoked)

	n, err = repo.RevokeOwner(ctx, "nobody", "", base)
	require.NoError(t, err)
	require.Zero(t, n)
}

func testRevokeOwnerKeep(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	keep := NewRecord("alice", time.Hour)
	other := NewRecord("alice", time.Hour)
	for _, rec := range []*refresh.Record{keep, other} {
		require.NoError(t, repo.Insert(ctx, rec))
	}

	n, err := repo.RevokeOwner(ctx, "alice", keep.ID, base.Add(time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	got, err := repo.Get(ctx, keep.ID)
	require.NoError(t, err)
	require.False(t, got.Revoked)
	got, err = repo.Get(ctx, other.ID)
	require.NoError(t, err)
	require.True(t, got.Revoked)

	// A keep id that belongs to nobody keeps nothing.
	n, err = repo.RevokeOwner(ctx, "alice", "not-a-record", base.Add(2*time.Second))
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func testListOwner(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	live := NewRecord("alice", time.Hour)
	gone := NewRecord("alice", time.Hour)
	b1 := NewRecord("bob", time.Hour)
	for _, rec := range []*refresh.Record{live, gone, b1} {
		require.NoError(t, repo.Insert(ctx, rec))
	}
	_, err := repo.Revoke(ctx, gone.ID, base.Add(time.Second))
	require.NoError(t, err)

	recs, err := repo.ListOwner(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	byID := map[string]*refresh.Record{}
	for _, rec := range recs {
		require.Equal(t, "alice", rec.OwnerID)
		byID[rec.ID] = rec
	}
	require.Contains(t, byID, live.ID)
	require.Contains(t, byID, gone.ID)
	require.False(t, byID[live.ID].Revoked)
	require.True(t, byID[gone.ID].Revoked)
	require.True(t, base.Add(time.Second).Equal(byID[gone.ID].RevokedAt))
	require.Equal(t, "203.0.113.9", byID[live.ID].Metadata["client_ip"])

	recs, err = repo.ListOwner(ctx, "nobody")
	require.NoError(t, err)
	require.Empty(t, recs)
}

func testPurgeExpired(t *testing.T, repo refresh.Repository) {
	ctx := context.Background()
	short := NewRecord("user-1", time.Minute)
	exact := NewRecord("user-1", 2*time.Minute)
	long := NewRecord("user-1", time.Hour)
	for _, rec := range []*refresh.Record{short, exact, long} {
		require.NoError(t, repo.Insert(ctx, rec))
	}

	n, err := repo.PurgeExpired(ctx, base.Add(2*time.Minute))
	require.NoError(t, err)
	require.EqualValues(t, 2, n)

	_, err = repo.Get(ctx, short.ID)
	require.ErrorIs(t, err, refresh.ErrNotFound)
	_, err = repo.Get(ctx, exact.ID)
	require.ErrorIs(t, err, refresh.ErrNotFound)
	_, err = repo.Get(ctx, long.ID)
	require.NoError(t, err)
}
