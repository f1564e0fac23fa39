// Package postgres implements docstore.Store on a Postgres JSONB table.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/uuid"
)

// NotifyChannel is the LISTEN/NOTIFY channel carrying changed collection names.
const NotifyChannel = "petstock_documents"

const schemaSQL = `
CREATE TABLE IF NOT EXISTS documents (
    collection TEXT NOT NULL,
    id TEXT NOT NULL,
    data JSONB NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);

CREATE OR REPLACE FUNCTION petstock_documents_notify() RETURNS trigger AS $$
BEGIN
    PERFORM pg_notify('petstock_documents', COALESCE(NEW.collection, OLD.collection));
    RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS documents_notify ON documents;
CREATE TRIGGER documents_notify
    AFTER INSERT OR UPDATE OR DELETE ON documents
    FOR EACH ROW EXECUTE FUNCTION petstock_documents_notify();
`

// Store is a docstore.Store backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to databaseURL, verifies the connection and ensures the schema.
func Open(ctx context.Context, databaseURL string) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database url: %w", err)
	}
	poolConfig.MaxConns = 8
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}

	s := New(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an existing pool. The schema is not created.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the documents table and its notify trigger.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to create documents schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// CreateDoc inserts data under a new UUID.
func (s *Store) CreateDoc(ctx context.Context, collection string, data map[string]interface{}) (string, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode document: %w", err)
	}
	id := uuid.New()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(encoded))
	if err != nil {
		return "", fmt.Errorf("failed to create %s document: %w", collection, err)
	}
	return id, nil
}

// UpsertDoc replaces or creates the document stored under id.
func (s *Store) UpsertDoc(ctx context.Context, collection, id string, data map[string]interface{}) error {
	encoded, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode document: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (collection, id, data) VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (collection, id) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`,
		collection, id, string(encoded))
	if err != nil {
		return fmt.Errorf("failed to upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// UpdateDoc merges fields into the stored document with the JSONB || operator.
func (s *Store) UpdateDoc(ctx context.Context, collection, id string, fields map[string]interface{}) error {
	encoded, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("failed to encode fields: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET data = data || $3::jsonb, updated_at = now()
		 WHERE collection = $1 AND id = $2`,
		collection, id, string(encoded))
	if err != nil {
		return fmt.Errorf("failed to update %s/%s: %w", collection, id, err)
	}
	if tag.RowsAffected() == 0 {
		return docstore.ErrNotFound
	}
	return nil
}

// DeleteDoc removes a document.
func (s *Store) DeleteDoc(ctx context.Context, collection, id string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", collection, id, err)
	}
	return nil
}

// ListDocs returns matching documents ordered by creation.
func (s *Store) ListDocs(ctx context.Context, collection string, filter *docstore.Filter) ([]docstore.Document, error) {
	query := `SELECT id, data FROM documents WHERE collection = $1`
	args := []interface{}{collection}
	if filter != nil {
		query += ` AND data->>$2 = $3`
		args = append(args, filter.Field, fmt.Sprint(filter.Value))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", collection, err)
	}
	defer rows.Close()

	docs := []docstore.Document{}
	for rows.Next() {
		var id string
		var raw []byte
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan %s document: %w", collection, err)
		}
		data, err := docstore.DecodeFields(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, id, err)
		}
		docs = append(docs, docstore.Document{ID: id, Data: data})
	}
	return docs, rows.Err()
}

// Subscribe listens for changes to collection on a dedicated connection and
// delivers a fresh snapshot after each one, starting with the current state.
func (s *Store) Subscribe(ctx context.Context, collection string, filter *docstore.Filter) (<-chan []docstore.Document, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire listen connection: %w", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+NotifyChannel); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to listen: %w", err)
	}

	initial, err := s.ListDocs(ctx, collection, filter)
	if err != nil {
		conn.Release()
		return nil, err
	}

	ch := make(chan []docstore.Document, 1)
	ch <- initial

	go func() {
		defer close(ch)
		defer conn.Release()

		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() == nil {
					logging.Error("document subscription ended", err, map[string]interface{}{
						"collection": collection,
					})
				}
				return
			}
			if n.Payload != collection {
				continue
			}

			docs, err := s.ListDocs(ctx, collection, filter)
			if err != nil {
				logging.Warn("failed to refresh subscription snapshot", map[string]interface{}{
					"collection": collection,
					"error":      err.Error(),
				})
				continue
			}
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- docs:
			case <-ctx.Done():
				return
			}
		}
	}()

	return ch, nil
}
