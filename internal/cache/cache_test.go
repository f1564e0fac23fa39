package cache

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/models"
)

func TestCache_PutGet(t *testing.T) {
	kv := db.NewMemoryKV()
	c := New(kv)
	c.now = func() time.Time { return time.UnixMilli(1000) }

	var pets []models.Pet
	ok, err := c.Get("pets", &pets)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put("pets", []models.Pet{{ID: "p1", Name: "Rex"}}))
	ok, err = c.Get("pets", &pets)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []models.Pet{{ID: "p1", Name: "Rex"}}, pets)

	at, ok := c.CachedAt("pets")
	assert.True(t, ok)
	assert.Equal(t, int64(1000), at.UnixMilli())

	_, stored, _ := kv.Get("cache:pets")
	assert.True(t, stored)
}

func TestCache_InvalidateMarksDirty(t *testing.T) {
	c := New(db.NewMemoryKV())
	require.NoError(t, c.Put("appointments", []string{"a"}))
	assert.False(t, c.IsDirty("appointments"))

	c.Invalidate("appointments", "productos")
	assert.True(t, c.IsDirty("appointments"))
	assert.True(t, c.IsDirty("productos"))

	var out []string
	ok, err := c.Get("appointments", &out)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, c.Put("appointments", []string{"b"}))
	assert.False(t, c.IsDirty("appointments"))
}

func TestCache_Update(t *testing.T) {
	c := New(db.NewMemoryKV())
	var list []string
	require.NoError(t, c.Update("specialists", &list, func() interface{} {
		return append(list, "s1")
	}))
	require.NoError(t, c.Update("specialists", &list, func() interface{} {
		return append(list, "s2")
	}))

	var got []string
	_, err := c.Get("specialists", &got)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, got)
}

func TestCache_PersistenceFailure(t *testing.T) {
	kv := db.NewMemoryKV()
	c := New(kv)
	kv.SetErr = errors.New("disk full")
	assert.Error(t, c.Put("pets", []string{}))

	kv.RemoveErr = errors.New("disk full")
	c.Invalidate("pets")
	assert.True(t, c.IsDirty("pets"))
}
