// Package docstore defines the remote document database the sync core writes
// to, plus helpers shared by its backends.
package docstore

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrNotFound is returned when a document targeted by an update does not exist.
var ErrNotFound = stderrors.New("document not found")

// Document is a stored document and its fields.
type Document struct {
	ID   string                 `json:"id"`
	Data map[string]interface{} `json:"data"`
}

// Filter selects documents whose Field equals Value.
type Filter struct {
	Field string
	Value interface{}
}

// Match reports whether data satisfies the filter. A nil filter matches all.
func (f *Filter) Match(data map[string]interface{}) bool {
	if f == nil {
		return true
	}
	v, ok := data[f.Field]
	if !ok {
		return false
	}
	return fmt.Sprint(v) == fmt.Sprint(f.Value)
}

// Store is a remote document database with per-collection CRUD.
type Store interface {
	// CreateDoc stores data under a new remote-assigned id and returns it.
	CreateDoc(ctx context.Context, collection string, data map[string]interface{}) (string, error)
	// UpsertDoc replaces the document stored under id, creating it when absent.
	UpsertDoc(ctx context.Context, collection, id string, data map[string]interface{}) error
	// UpdateDoc merges fields into an existing document; ErrNotFound when absent.
	UpdateDoc(ctx context.Context, collection, id string, fields map[string]interface{}) error
	// DeleteDoc removes a document. Deleting a missing document is not an error.
	DeleteDoc(ctx context.Context, collection, id string) error
	// ListDocs returns the documents of a collection matching filter.
	ListDocs(ctx context.Context, collection string, filter *Filter) ([]Document, error)
}

// Subscriber is implemented by stores that push collection snapshots.
type Subscriber interface {
	Subscribe(ctx context.Context, collection string, filter *Filter) (<-chan []Document, error)
}

// ToFields converts a JSON-encodable value into a field map.
func ToFields(v interface{}) (map[string]interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return DecodeFields(data)
}

// DecodeFields parses a JSON object into a field map.
func DecodeFields(data []byte) (map[string]interface{}, error) {
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	return fields, nil
}

// DecodeInto converts a document into v, with the document id stored under
// the "id" field.
func DecodeInto(doc Document, v interface{}) error {
	fields := make(map[string]interface{}, len(doc.Data)+1)
	for k, val := range doc.Data {
		fields[k] = val
	}
	fields["id"] = doc.ID
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Merge returns a copy of base with fields applied on top.
func Merge(base, fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(fields))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range fields {
		out[k] = v
	}
	return out
}
