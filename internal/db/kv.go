package db

import (
	"database/sql"
	stderrors "errors"
	"time"

	"github.com/golang/snappy"

	"github.com/kimhsiao/petstock/internal/errors"
)

// Well-known keys of the local store.
const (
	KeyInventoryMirror = "inventory-mirror"
	KeyMovementLog     = "movement-log"
	KeyPendingQueue    = "pending-queue"
	KeyQueueFailures   = "pending-queue:failures"
	KeyDeadLetters     = "pending-queue:dead"
	CachePrefix        = "cache:"
)

// DefaultCompressThreshold is the value size above which SQLiteKV compresses.
const DefaultCompressThreshold = 4 << 10

const (
	encodingIdentity = "identity"
	encodingSnappy   = "snappy"
)

// KVStore is the on-device string key-value persistence layer.
type KVStore interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Remove(key string) error
}

// SQLiteKV stores values in the kv_store table.
type SQLiteKV struct {
	db                *sql.DB
	compressThreshold int
	now               func() time.Time
}

// KVOption configures a SQLiteKV.
type KVOption func(*SQLiteKV)

// WithCompressThreshold sets the size above which values are snappy-compressed.
// A threshold <= 0 disables compression.
func WithCompressThreshold(n int) KVOption {
	return func(kv *SQLiteKV) {
		kv.compressThreshold = n
	}
}

// NewSQLiteKV creates a key-value store on an opened database.
func NewSQLiteKV(db *DB, opts ...KVOption) *SQLiteKV {
	kv := &SQLiteKV{
		db:                db.DB,
		compressThreshold: DefaultCompressThreshold,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(kv)
	}
	return kv
}

// Get returns the value stored under key.
func (kv *SQLiteKV) Get(key string) (string, bool, error) {
	var raw []byte
	var encoding string
	err := kv.db.QueryRow("SELECT value, encoding FROM kv_store WHERE key = ?", key).Scan(&raw, &encoding)
	if stderrors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(errors.ErrDatabase, "failed to read key "+key, err)
	}

	switch encoding {
	case encodingSnappy:
		decoded, err := snappy.Decode(nil, raw)
		if err != nil {
			return "", false, errors.Wrap(errors.ErrDatabase, "failed to decompress key "+key, err)
		}
		return string(decoded), true, nil
	default:
		return string(raw), true, nil
	}
}

// Set stores value under key, replacing any previous value.
func (kv *SQLiteKV) Set(key, value string) error {
	if key == "" {
		return errors.New(errors.ErrInvalid, "key must not be empty")
	}

	raw := []byte(value)
	encoding := encodingIdentity
	if kv.compressThreshold > 0 && len(raw) > kv.compressThreshold {
		raw = snappy.Encode(nil, raw)
		encoding = encodingSnappy
	}

	query := `INSERT INTO kv_store (key, value, encoding, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, encoding = excluded.encoding, updated_at = excluded.updated_at`
	if _, err := kv.db.Exec(query, key, raw, encoding, kv.now().UnixMilli()); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to write key "+key, err)
	}
	return nil
}

// Remove deletes key. Removing a missing key is not an error.
func (kv *SQLiteKV) Remove(key string) error {
	if _, err := kv.db.Exec("DELETE FROM kv_store WHERE key = ?", key); err != nil {
		return errors.Wrap(errors.ErrDatabase, "failed to remove key "+key, err)
	}
	return nil
}

// Keys returns the stored keys with the given prefix, sorted.
func (kv *SQLiteKV) Keys(prefix string) ([]string, error) {
	rows, err := kv.db.Query("SELECT key FROM kv_store WHERE substr(key, 1, ?) = ? ORDER BY key", len(prefix), prefix)
	if err != nil {
		return nil, errors.Wrap(errors.ErrDatabase, "failed to list keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, errors.Wrap(errors.ErrDatabase, "failed to scan key", err)
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
