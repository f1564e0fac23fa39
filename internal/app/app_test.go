package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/petstock/internal/config"
	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/docstore/memory"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/services"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.DataDir = t.TempDir()
	cfg.Sync.SettleDelay = 0
	return cfg
}

// TestApp_OfflineWorkSurvivesRestart queues work offline, restarts on the
// same data directory and drains the queue once online.
func TestApp_OfflineWorkSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	remote := memory.New()

	a, err := New(ctx, cfg, WithStore(remote))
	require.NoError(t, err)
	a.Monitor.Observe(false)
	require.NoError(t, a.Start(ctx))

	_, err = a.Service.AddProduct(ctx, models.ProductInput{Code: "T-01", Name: "Tornillo", Quantity: 10, MinStock: 2})
	require.NoError(t, err)
	qty := 4
	_, err = a.Service.EditProduct(ctx, "T-01", models.ProductPatch{Quantity: &qty})
	require.NoError(t, err)

	assert.Equal(t, 4, a.Service.PendingCount())
	assert.Equal(t, 0, remote.Count(models.CollectionProducts))
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg, WithStore(remote))
	require.NoError(t, err)
	defer b.Close()

	assert.Equal(t, 4, b.Queue.Len(), "queue persisted across restart")
	require.NoError(t, b.Start(ctx))

	products := b.Service.Products()
	require.Len(t, products, 1)
	assert.Equal(t, 4, products[0].Quantity)
	assert.Len(t, b.Service.Movements(), 2)

	require.Eventually(t, func() bool {
		return b.Service.PendingCount() == 0
	}, 5*time.Second, 10*time.Millisecond)

	doc, ok := remote.Get(models.CollectionProducts, "T-01")
	require.True(t, ok)
	assert.EqualValues(t, 4, doc["cantidad"])
	assert.Equal(t, 2, remote.Count(models.CollectionMovements))
}

// TestApp_OnlineStartRefreshesMirror replaces the local mirror with the
// remote products when nothing is queued.
func TestApp_OnlineStartRefreshesMirror(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	remote := memory.New()

	seed, err := New(ctx, cfg, WithStore(remote))
	require.NoError(t, err)
	require.NoError(t, seed.Start(ctx))
	_, err = seed.Service.AddProduct(ctx, models.ProductInput{Code: "C-01", Name: "Collar", Quantity: 3})
	require.NoError(t, err)
	require.NoError(t, seed.Close())

	fresh := testConfig(t)
	a, err := New(ctx, fresh, WithStore(remote))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	products := a.Service.Products()
	require.Len(t, products, 1)
	assert.Equal(t, "C-01", products[0].Code)
	assert.Equal(t, "Collar", products[0].Name)
}

// TestApp_NoRemoteKeepsLocalState restarts without a configured backend and
// keeps the mirror, history and queue of the first run.
func TestApp_NoRemoteKeepsLocalState(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	require.Equal(t, config.BackendNone, cfg.Remote.Backend)

	a, err := New(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, a.StartSession(ctx))
	assert.False(t, a.Service.IsOnline())

	_, err = a.Service.AddProduct(ctx, models.ProductInput{Code: "T1", Name: "Tornillo", Quantity: 20})
	require.NoError(t, err)
	require.NoError(t, a.Close())

	b, err := New(ctx, cfg)
	require.NoError(t, err)
	defer b.Close()
	require.NoError(t, b.StartSession(ctx))

	products := b.Service.Products()
	require.Len(t, products, 1)
	assert.Equal(t, 20, products[0].Quantity)
	assert.Len(t, b.Service.Movements(), 1)
	assert.Equal(t, 2, b.Service.PendingCount())
	assert.False(t, b.Service.IsOnline())

	// a forced online sync fails against the missing backend and keeps the queue
	b.Service.SetOnlineMode(true)
	result, err := b.Scheduler.SyncNow(ctx)
	require.Error(t, err)
	assert.Equal(t, 2, result.Failed)
	assert.Equal(t, 2, b.Service.PendingCount())
	assert.Len(t, b.Service.Products(), 1)
}

func TestOpenStore(t *testing.T) {
	ctx := context.Background()

	store, closeStore, err := OpenStore(ctx, config.RemoteConfig{Backend: config.BackendMemory})
	require.NoError(t, err)
	assert.NotNil(t, store)
	closeStore()

	store, closeStore, err = OpenStore(ctx, config.RemoteConfig{})
	require.NoError(t, err)
	defer closeStore()
	assert.IsType(t, docstore.Unconfigured{}, store)
	_, err = store.ListDocs(ctx, models.CollectionProducts, nil)
	assert.True(t, errors.Is(err, errors.ErrOffline))

	_, _, err = OpenStore(ctx, config.RemoteConfig{Backend: "ftp"})
	assert.Error(t, err)
}

func TestNew_RemoteErrorHandler(t *testing.T) {
	ctx := context.Background()
	remote := memory.New()

	var got []string
	a, err := New(ctx, testConfig(t), WithStore(remote), WithRemoteErrorHandler(func(e services.RecordedError) {
		got = append(got, e.Operation)
	}))
	require.NoError(t, err)
	defer a.Close()
	require.NoError(t, a.Start(ctx))

	remote.FailNext(memory.OpUpsert, assert.AnError)
	_, err = a.Service.AddProduct(ctx, models.ProductInput{Code: "P-01", Name: "Pelota", Quantity: 1})
	require.Error(t, err)

	assert.Equal(t, []string{"add_product"}, got)
	assert.Equal(t, 2, a.Service.PendingCount())
}
