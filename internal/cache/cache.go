// Package cache keeps named snapshots of remote collections in the local
// store so reads keep working offline.
package cache

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/logging"
)

// entry is the persisted form of a snapshot.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Cache stores snapshots under cache:<name> keys.
type Cache struct {
	mu    sync.Mutex
	kv    db.KVStore
	dirty map[string]bool
	now   func() time.Time
}

// New creates a cache on kv.
func New(kv db.KVStore) *Cache {
	return &Cache{
		kv:    kv,
		dirty: make(map[string]bool),
		now:   time.Now,
	}
}

// Key returns the store key of a snapshot.
func Key(name string) string {
	return db.CachePrefix + name
}

// Put replaces the snapshot of name and clears its dirty flag.
func (c *Cache) Put(name string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(entry{Data: data, Timestamp: c.now().UnixMilli()})
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.dirty, name)
	if err := c.kv.Set(Key(name), string(encoded)); err != nil {
		logging.Error("failed to persist cache snapshot", err, map[string]interface{}{"name": name})
		return err
	}
	return nil
}

// Get decodes the snapshot of name into out. It returns false when no
// snapshot exists.
func (c *Cache) Get(name string, out interface{}) (bool, error) {
	c.mu.Lock()
	raw, ok, err := c.kv.Get(Key(name))
	c.mu.Unlock()
	if err != nil || !ok {
		return false, err
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return false, err
	}
	if len(e.Data) == 0 {
		return false, nil
	}
	if err := json.Unmarshal(e.Data, out); err != nil {
		return false, err
	}
	return true, nil
}

// CachedAt returns when the snapshot of name was stored.
func (c *Cache) CachedAt(name string) (time.Time, bool) {
	c.mu.Lock()
	raw, ok, err := c.kv.Get(Key(name))
	c.mu.Unlock()
	if err != nil || !ok {
		return time.Time{}, false
	}
	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		return time.Time{}, false
	}
	return time.UnixMilli(e.Timestamp), true
}

// Invalidate drops the snapshots of names and marks them dirty so the next
// read refetches. Persistence failures are logged.
func (c *Cache) Invalidate(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, name := range names {
		c.dirty[name] = true
		if err := c.kv.Remove(Key(name)); err != nil {
			logging.Error("failed to remove cache snapshot", err, map[string]interface{}{"name": name})
		}
	}
}

// IsDirty reports whether name was invalidated since its last Put.
func (c *Cache) IsDirty(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dirty[name]
}

// Update reads the snapshot of name into out, applies fn and stores the
// result. A missing snapshot leaves out at its zero value.
func (c *Cache) Update(name string, out interface{}, fn func() interface{}) error {
	if _, err := c.Get(name, out); err != nil {
		return err
	}
	return c.Put(name, fn())
}
