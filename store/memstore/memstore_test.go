package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/MrEthical07/cookieauth/refresh"
	"github.com/MrEthical07/cookieauth/store/storetest"
)

func TestRepositoryContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) refresh.Repository { return New() })
}

func TestRepositoryCanceledContext(t *testing.T) {
	repo := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := repo.Insert(ctx, storetest.NewRecord("u", time.Hour))
	require.ErrorIs(t, err, refresh.ErrStorageFault)
	require.Zero(t, repo.Len())
}
