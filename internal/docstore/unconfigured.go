package docstore

import (
	"context"

	"github.com/kimhsiao/petstock/internal/errors"
)

// Unconfigured is the Store used when no remote backend is configured. Every
// call fails with OFFLINE, so writes stay queued and the local mirror is kept.
type Unconfigured struct{}

func (Unconfigured) err() error {
	return errors.New(errors.ErrOffline, "no remote backend configured")
}

// CreateDoc implements Store.
func (u Unconfigured) CreateDoc(context.Context, string, map[string]interface{}) (string, error) {
	return "", u.err()
}

// UpsertDoc implements Store.
func (u Unconfigured) UpsertDoc(context.Context, string, string, map[string]interface{}) error {
	return u.err()
}

// UpdateDoc implements Store.
func (u Unconfigured) UpdateDoc(context.Context, string, string, map[string]interface{}) error {
	return u.err()
}

// DeleteDoc implements Store.
func (u Unconfigured) DeleteDoc(context.Context, string, string) error {
	return u.err()
}

// ListDocs implements Store.
func (u Unconfigured) ListDocs(context.Context, string, *Filter) ([]Document, error) {
	return nil, u.err()
}
