// Package memory provides an in-process docstore.Store with a call log,
// fault injection and live subscriptions.
package memory

import (
	"context"
	"sync"

	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/uuid"
)

// Operation names recorded in the call log.
const (
	OpCreate = "create"
	OpUpsert = "upsert"
	OpUpdate = "update"
	OpDelete = "delete"
	OpList   = "list"
)

// Call is one recorded store invocation.
type Call struct {
	Op         string
	Collection string
	ID         string
	Data       map[string]interface{}
}

// Hook runs before every call; a non-nil error fails the call.
type Hook func(ctx context.Context, call Call) error

type collection struct {
	order []string
	docs  map[string]map[string]interface{}
}

type subscription struct {
	collection string
	filter     *docstore.Filter
	ch         chan []docstore.Document
}

// Store is an in-memory document store safe for concurrent use.
type Store struct {
	mu          sync.Mutex
	collections map[string]*collection
	calls       []Call
	hook        Hook
	failures    map[string][]error
	subs        map[int]*subscription
	nextSub     int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		collections: make(map[string]*collection),
		failures:    make(map[string][]error),
		subs:        make(map[int]*subscription),
	}
}

// SetHook installs a hook run before every call.
func (s *Store) SetHook(h Hook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hook = h
}

// FailNext makes the next call of op fail with err. Calls to FailNext queue up.
func (s *Store) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = append(s.failures[op], err)
}

// Calls returns a copy of the call log, failed calls included.
func (s *Store) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Call(nil), s.calls...)
}

// WriteCalls returns the logged calls other than list.
func (s *Store) WriteCalls() []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Op != OpList {
			out = append(out, c)
		}
	}
	return out
}

// ResetCalls clears the call log.
func (s *Store) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

// Get returns a copy of a stored document.
func (s *Store) Get(collectionName, id string) (map[string]interface{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collections[collectionName]
	if !ok {
		return nil, false
	}
	doc, ok := c.docs[id]
	if !ok {
		return nil, false
	}
	return copyFields(doc), true
}

// Count returns the number of documents in a collection.
func (s *Store) Count(collectionName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.collections[collectionName]; ok {
		return len(c.order)
	}
	return 0
}

// before logs the call and returns the injected failure, if any.
func (s *Store) before(ctx context.Context, call Call) error {
	s.mu.Lock()
	s.calls = append(s.calls, call)
	hook := s.hook
	var injected error
	if queued := s.failures[call.Op]; len(queued) > 0 {
		injected = queued[0]
		s.failures[call.Op] = queued[1:]
	}
	s.mu.Unlock()

	if injected != nil {
		return injected
	}
	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func (s *Store) coll(name string) *collection {
	c, ok := s.collections[name]
	if !ok {
		c = &collection{docs: make(map[string]map[string]interface{})}
		s.collections[name] = c
	}
	return c
}

// CreateDoc stores data under a new random id.
func (s *Store) CreateDoc(ctx context.Context, collectionName string, data map[string]interface{}) (string, error) {
	id := uuid.New()
	if err := s.before(ctx, Call{Op: OpCreate, Collection: collectionName, ID: id, Data: copyFields(data)}); err != nil {
		return "", err
	}

	s.mu.Lock()
	c := s.coll(collectionName)
	c.order = append(c.order, id)
	c.docs[id] = copyFields(data)
	s.mu.Unlock()

	s.notify(collectionName)
	return id, nil
}

// UpsertDoc replaces or creates the document stored under id.
func (s *Store) UpsertDoc(ctx context.Context, collectionName, id string, data map[string]interface{}) error {
	if err := s.before(ctx, Call{Op: OpUpsert, Collection: collectionName, ID: id, Data: copyFields(data)}); err != nil {
		return err
	}

	s.mu.Lock()
	c := s.coll(collectionName)
	if _, exists := c.docs[id]; !exists {
		c.order = append(c.order, id)
	}
	c.docs[id] = copyFields(data)
	s.mu.Unlock()

	s.notify(collectionName)
	return nil
}

// UpdateDoc merges fields into an existing document.
func (s *Store) UpdateDoc(ctx context.Context, collectionName, id string, fields map[string]interface{}) error {
	if err := s.before(ctx, Call{Op: OpUpdate, Collection: collectionName, ID: id, Data: copyFields(fields)}); err != nil {
		return err
	}

	s.mu.Lock()
	c := s.coll(collectionName)
	doc, exists := c.docs[id]
	if !exists {
		s.mu.Unlock()
		return docstore.ErrNotFound
	}
	c.docs[id] = docstore.Merge(doc, fields)
	s.mu.Unlock()

	s.notify(collectionName)
	return nil
}

// DeleteDoc removes a document.
func (s *Store) DeleteDoc(ctx context.Context, collectionName, id string) error {
	if err := s.before(ctx, Call{Op: OpDelete, Collection: collectionName, ID: id}); err != nil {
		return err
	}

	s.mu.Lock()
	c := s.coll(collectionName)
	if _, exists := c.docs[id]; exists {
		delete(c.docs, id)
		for i, existing := range c.order {
			if existing == id {
				c.order = append(c.order[:i], c.order[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	s.notify(collectionName)
	return nil
}

// ListDocs returns matching documents in insertion order.
func (s *Store) ListDocs(ctx context.Context, collectionName string, filter *docstore.Filter) ([]docstore.Document, error) {
	if err := s.before(ctx, Call{Op: OpList, Collection: collectionName}); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(collectionName, filter), nil
}

func (s *Store) snapshot(collectionName string, filter *docstore.Filter) []docstore.Document {
	c, ok := s.collections[collectionName]
	if !ok {
		return []docstore.Document{}
	}
	docs := make([]docstore.Document, 0, len(c.order))
	for _, id := range c.order {
		data := c.docs[id]
		if filter.Match(data) {
			docs = append(docs, docstore.Document{ID: id, Data: copyFields(data)})
		}
	}
	return docs
}

// Subscribe delivers the current snapshot and then a new one after every
// change to the collection, until ctx ends. Slow readers miss intermediate
// snapshots, never the latest one.
func (s *Store) Subscribe(ctx context.Context, collectionName string, filter *docstore.Filter) (<-chan []docstore.Document, error) {
	sub := &subscription{
		collection: collectionName,
		filter:     filter,
		ch:         make(chan []docstore.Document, 1),
	}

	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = sub
	sub.ch <- s.snapshot(collectionName, filter)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(sub.ch)
		s.mu.Unlock()
	}()

	return sub.ch, nil
}

func (s *Store) notify(collectionName string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sub := range s.subs {
		if sub.collection != collectionName {
			continue
		}
		snap := s.snapshot(collectionName, sub.filter)
		// replace a stale undelivered snapshot
		select {
		case <-sub.ch:
		default:
		}
		sub.ch <- snap
	}
}

func copyFields(in map[string]interface{}) map[string]interface{} {
	if in == nil {
		return nil
	}
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
