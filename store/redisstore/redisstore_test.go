package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/cookieauth/refresh"
	"github.com/MrEthical07/cookieauth/store/storetest"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func newTestRepository(t *testing.T, opts Options) (*Repository, *miniredis.Miniredis) {
	t.Helper()
	mr, client := newTestRedis(t)
	repo, err := New(client, opts)
	if err != nil {
		t.Fatalf("new repository: %v", err)
	}
	return repo, mr
}

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) refresh.Repository {
		repo, _ := newTestRepository(t, Options{Prefix: "test"})
		return repo
	})
}

func TestRepositoryKeyLayout(t *testing.T) {
	repo, mr := newTestRepository(t, Options{Prefix: "app"})
	rec := storetest.NewRecord("alice", time.Hour)
	if err := repo.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	if !mr.Exists("app:rt:" + rec.ID) {
		t.Fatal("expected record hash under app:rt:<id>")
	}
	if got := mr.HGet("app:rt:"+rec.ID, "rev"); got != "0" {
		t.Fatalf("expected rev=0, got %q", got)
	}
	ok, err := mr.SIsMember("app:rto:alice", rec.ID)
	if err != nil || !ok {
		t.Fatalf("expected owner index entry, ok=%v err=%v", ok, err)
	}
	if ttl := mr.TTL("app:rt:" + rec.ID); ttl != 0 {
		t.Fatalf("expected no ttl without retention, got %s", ttl)
	}
}

func TestRepositoryRetention(t *testing.T) {
	repo, mr := newTestRepository(t, Options{Prefix: "app", Retention: time.Hour})
	ctx := context.Background()

	rec := storetest.NewRecord("alice", time.Hour)
	now := time.Now().UTC().Truncate(time.Millisecond)
	rec.IssuedAt = now
	rec.ExpiresAt = now.Add(time.Hour)
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("insert: %v", err)
	}

	ttl := mr.TTL("app:rt:" + rec.ID)
	if ttl <= time.Hour || ttl > 2*time.Hour {
		t.Fatalf("expected ttl close to expiry plus retention, got %s", ttl)
	}

	mr.FastForward(3 * time.Hour)
	if _, err := repo.Get(ctx, rec.ID); !errors.Is(err, refresh.ErrNotFound) {
		t.Fatalf("expected record to age out, got %v", err)
	}
}

func TestRevokeOwnerPrunesStaleIndex(t *testing.T) {
	repo, mr := newTestRepository(t, Options{Prefix: "app"})
	ctx := context.Background()

	live := storetest.NewRecord("alice", time.Hour)
	if err := repo.Insert(ctx, live); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := mr.SAdd("app:rto:alice", "ghost"); err != nil {
		t.Fatalf("seed stale entry: %v", err)
	}

	n, err := repo.RevokeOwner(ctx, "alice", "", time.Now())
	if err != nil {
		t.Fatalf("revoke owner: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one revocation, got %d", n)
	}
	if ok, _ := mr.SIsMember("app:rto:alice", "ghost"); ok {
		t.Fatal("expected stale index entry to be pruned")
	}
}

func TestRevokeOwnerSkipsForeignRecord(t *testing.T) {
	repo, mr := newTestRepository(t, Options{Prefix: "app"})
	ctx := context.Background()

	bobs := storetest.NewRecord("bob", time.Hour)
	if err := repo.Insert(ctx, bobs); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := mr.SAdd("app:rto:alice", bobs.ID); err != nil {
		t.Fatalf("seed foreign entry: %v", err)
	}

	n, err := repo.RevokeOwner(ctx, "alice", "", time.Now())
	if err != nil {
		t.Fatalf("revoke owner: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no revocations, got %d", n)
	}
	got, err := repo.Get(ctx, bobs.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Revoked {
		t.Fatal("record of another owner must stay active")
	}
}

func TestListOwnerPrunesStaleIndex(t *testing.T) {
	repo, mr := newTestRepository(t, Options{Prefix: "app"})
	ctx := context.Background()

	live := storetest.NewRecord("alice", time.Hour)
	bobs := storetest.NewRecord("bob", time.Hour)
	for _, rec := range []*refresh.Record{live, bobs} {
		if err := repo.Insert(ctx, rec); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := mr.SAdd("app:rto:alice", "ghost", bobs.ID); err != nil {
		t.Fatalf("seed stale entries: %v", err)
	}

	recs, err := repo.ListOwner(ctx, "alice")
	if err != nil {
		t.Fatalf("list owner: %v", err)
	}
	if len(recs) != 1 || recs[0].ID != live.ID {
		t.Fatalf("expected only %s, got %+v", live.ID, recs)
	}
	members, err := mr.Members("app:rto:alice")
	if err != nil {
		t.Fatalf("members: %v", err)
	}
	if len(members) != 1 || members[0] != live.ID {
		t.Fatalf("expected stale entries pruned, index holds %v", members)
	}
}

func TestRepositoryFaultsWrapStorageFault(t *testing.T) {
	repo, mr := newTestRepository(t, Options{})
	mr.Close()

	ctx := context.Background()
	if _, err := repo.Get(ctx, "x"); !errors.Is(err, refresh.ErrStorageFault) {
		t.Fatalf("expected storage fault on get, got %v", err)
	}
	if _, err := repo.Revoke(ctx, "x", time.Now()); !errors.Is(err, refresh.ErrStorageFault) {
		t.Fatalf("expected storage fault on revoke, got %v", err)
	}
	if err := repo.Insert(ctx, storetest.NewRecord("u", time.Hour)); !errors.Is(err, refresh.ErrStorageFault) {
		t.Fatalf("expected storage fault on insert, got %v", err)
	}
	if _, err := repo.ListOwner(ctx, "u"); !errors.Is(err, refresh.ErrStorageFault) {
		t.Fatalf("expected storage fault on list, got %v", err)
	}
	if err := repo.Ping(ctx); !errors.Is(err, refresh.ErrStorageFault) {
		t.Fatalf("expected storage fault on ping, got %v", err)
	}
}

func TestStoreOverRedis(t *testing.T) {
	repo, _ := newTestRepository(t, Options{})
	store, err := refresh.NewStore(repo, refresh.Config{TTL: time.Hour})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	rec, token, err := store.Create(ctx, "alice", func(r *refresh.Record) { r.Metadata["client_ip"] = "198.51.100.7" })
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := store.FetchValid(ctx, token)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if got.ID != rec.ID || got.OwnerID != "alice" || got.Metadata["client_ip"] != "198.51.100.7" {
		t.Fatalf("unexpected record %+v", got)
	}

	if _, err := store.RevokeToken(ctx, token, "alice"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := store.FetchValid(ctx, token); !errors.Is(err, refresh.ErrRevoked) {
		t.Fatalf("expected ErrRevoked, got %v", err)
	}
}
