package postgres

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/uuid"
)

var _ docstore.Store = (*Store)(nil)
var _ docstore.Subscriber = (*Store)(nil)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("PETSTOCK_TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("PETSTOCK_TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s, err := Open(ctx, dbURL)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func testCollection() string {
	return "test_" + strings.ReplaceAll(uuid.New(), "-", "")[:12]
}

func TestOpen_BadURL(t *testing.T) {
	_, err := Open(context.Background(), "::not a url::")
	assert.Error(t, err)
}

func TestStore_CRUD(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	coll := testCollection()

	require.NoError(t, s.UpsertDoc(ctx, coll, "P1", map[string]interface{}{"nombre": "Food", "cantidad": 10}))
	require.NoError(t, s.UpdateDoc(ctx, coll, "P1", map[string]interface{}{"cantidad": 7}))

	err := s.UpdateDoc(ctx, coll, "missing", map[string]interface{}{"cantidad": 1})
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	id, err := s.CreateDoc(ctx, coll, map[string]interface{}{"nombre": "Toy", "cantidad": 1})
	require.NoError(t, err)

	docs, err := s.ListDocs(ctx, coll, nil)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "P1", docs[0].ID)
	assert.Equal(t, "Food", docs[0].Data["nombre"])
	assert.Equal(t, float64(7), docs[0].Data["cantidad"])

	docs, err = s.ListDocs(ctx, coll, &docstore.Filter{Field: "nombre", Value: "Toy"})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, id, docs[0].ID)

	require.NoError(t, s.DeleteDoc(ctx, coll, "P1"))
	require.NoError(t, s.DeleteDoc(ctx, coll, id))
	docs, err = s.ListDocs(ctx, coll, nil)
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestStore_Subscribe(t *testing.T) {
	s := openTestStore(t)
	coll := testCollection()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ch, err := s.Subscribe(ctx, coll, nil)
	require.NoError(t, err)
	assert.Empty(t, <-ch)

	require.NoError(t, s.UpsertDoc(ctx, coll, "a1", map[string]interface{}{"status": "pending"}))

	select {
	case snap := <-ch:
		require.Len(t, snap, 1)
		assert.Equal(t, "a1", snap[0].ID)
	case <-ctx.Done():
		t.Fatal("no notification received")
	}
	require.NoError(t, s.DeleteDoc(context.Background(), coll, "a1"))
}
