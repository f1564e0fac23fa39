package db

import (
	"sort"
	"strings"
	"sync"
)

// MemoryKV is a map-backed KVStore used by tests and ephemeral shells.
// SetErr and RemoveErr, when set, are returned by every write.
type MemoryKV struct {
	mu        sync.RWMutex
	data      map[string]string
	SetErr    error
	RemoveErr error
}

// NewMemoryKV creates an empty in-memory store.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string]string)}
}

// Get returns the value stored under key.
func (kv *MemoryKV) Get(key string) (string, bool, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	v, ok := kv.data[key]
	return v, ok, nil
}

// Set stores value under key.
func (kv *MemoryKV) Set(key, value string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.SetErr != nil {
		return kv.SetErr
	}
	kv.data[key] = value
	return nil
}

// Remove deletes key.
func (kv *MemoryKV) Remove(key string) error {
	kv.mu.Lock()
	defer kv.mu.Unlock()
	if kv.RemoveErr != nil {
		return kv.RemoveErr
	}
	delete(kv.data, key)
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (kv *MemoryKV) Keys(prefix string) ([]string, error) {
	kv.mu.RLock()
	defer kv.mu.RUnlock()
	var keys []string
	for k := range kv.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}
