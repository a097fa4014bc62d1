package pgstore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/MrEthical07/cookieauth/refresh"
	"github.com/MrEthical07/cookieauth/store/storetest"
)

// Integration tests start a real PostgreSQL via testcontainers-go and apply
// the embedded migrations. Run them with:
//
//	GO_TEST_INTEGRATION=1 go test ./store/pgstore -v -count=1

func startPostgres(t *testing.T) *Repository {
	t.Helper()
	if os.Getenv("GO_TEST_INTEGRATION") == "" {
		t.Skip("integration tests are disabled (set GO_TEST_INTEGRATION=1)")
	}

	ctx := context.Background()
	req := tc.ContainerRequest{
		Image:        "docker.io/postgres:16-alpine",
		Env:          map[string]string{"POSTGRES_USER": "user", "POSTGRES_PASSWORD": "pass", "POSTGRES_DB": "db"},
		ExposedPorts: []string{"5432/tcp"},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	dsn := fmt.Sprintf("postgres://user:pass@%s:%s/db?sslmode=disable", host, port.Port())

	require.NoError(t, Migrate(ctx, dsn))
	// Applying twice is a no-op.
	require.NoError(t, Migrate(ctx, dsn))

	repo, err := New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(repo.Close)
	return repo
}

func truncate(t *testing.T, repo *Repository) {
	t.Helper()
	_, err := repo.db.Exec(context.Background(), `TRUNCATE refresh_tokens`)
	require.NoError(t, err)
}

func TestIntegration_RepositoryContract(t *testing.T) {
	repo := startPostgres(t)
	storetest.Run(t, func(t *testing.T) refresh.Repository {
		truncate(t, repo)
		return repo
	})
}

func TestIntegration_GetMalformedID(t *testing.T) {
	repo := startPostgres(t)

	_, err := repo.Get(context.Background(), "not-a-uuid")
	require.ErrorIs(t, err, refresh.ErrNotFound)

	_, err = repo.Revoke(context.Background(), "not-a-uuid", time.Now())
	require.ErrorIs(t, err, refresh.ErrNotFound)
}

func TestIntegration_ExpiredContext(t *testing.T) {
	repo := startPostgres(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	time.Sleep(time.Millisecond)

	_, err := repo.Get(ctx, storetest.NewRecord("u", time.Hour).ID)
	require.Error(t, err)
	require.ErrorIs(t, err, refresh.ErrStorageFault)
}

func TestIntegration_StoreLifecycle(t *testing.T) {
	repo := startPostgres(t)
	truncate(t, repo)

	store, err := refresh.NewStore(repo, refresh.Config{TTL: time.Hour})
	require.NoError(t, err)
	ctx := context.Background()

	rec, token, err := store.Create(ctx, "alice", nil)
	require.NoError(t, err)

	got, err := store.FetchValid(ctx, token)
	require.NoError(t, err)
	require.Equal(t, rec.ID, got.ID)
	require.True(t, rec.IssuedAt.Equal(got.IssuedAt))

	n, err := store.RevokeOwner(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	_, err = store.FetchValid(ctx, token)
	require.ErrorIs(t, err, refresh.ErrRevoked)
}
