// Package queue provides the durable FIFO of pending actions recorded while
// offline. The whole queue is persisted to the local store after every change.
package queue

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/uuid"
)

// PassResult is the outcome of one reconciliation pass over a snapshot.
type PassResult struct {
	// Attempted is the snapshot the pass iterated.
	Attempted []models.PendingAction
	// Residual holds the attempted actions that stay queued, in FIFO order.
	Residual []models.PendingAction
	// Failures maps action ids to the error of this attempt.
	Failures map[string]error
	// Dead holds attempted actions moved to the dead-letter list.
	Dead []models.PendingAction
}

// Queue is the pending-action queue. It is safe for concurrent use.
type Queue struct {
	mu        sync.Mutex
	kv        db.KVStore
	validator *Validator
	now       func() time.Time

	items    []models.PendingAction
	failures map[string]models.ActionFailure
	dead     []models.DeadLetter
}

// Option configures a Queue.
type Option func(*Queue)

// WithClock sets the time source used for ids and timestamps.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) {
		q.now = now
	}
}

// Open loads the queue from kv. A missing or unreadable stored queue starts
// empty; read failures are logged.
func Open(kv db.KVStore, opts ...Option) (*Queue, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, err
	}

	q := &Queue{
		kv:        kv,
		validator: validator,
		now:       time.Now,
		failures:  make(map[string]models.ActionFailure),
	}
	for _, opt := range opts {
		opt(q)
	}

	q.load(db.KeyPendingQueue, &q.items)
	q.load(db.KeyQueueFailures, &q.failures)
	q.load(db.KeyDeadLetters, &q.dead)
	if q.failures == nil {
		q.failures = make(map[string]models.ActionFailure)
	}

	if len(q.items) > 0 {
		logging.Info("pending queue loaded", map[string]interface{}{
			"pending": len(q.items),
		})
	}
	return q, nil
}

func (q *Queue) load(key string, out interface{}) {
	raw, ok, err := q.kv.Get(key)
	if err != nil {
		logging.Error("failed to read queue state", err, map[string]interface{}{"key": key})
		return
	}
	if !ok || raw == "" {
		return
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		logging.Error("failed to decode queue state", err, map[string]interface{}{"key": key})
	}
}

// Enqueue validates action, fills in its id and timestamp when absent,
// appends it and persists the queue. Unknown types are accepted and logged.
func (q *Queue) Enqueue(action models.PendingAction) (models.PendingAction, error) {
	if action.Type == "" {
		return models.PendingAction{}, errors.New(errors.ErrInvalid, "action type is required")
	}
	if !action.Type.IsKnown() {
		logging.Warn("enqueuing action of unknown type", map[string]interface{}{
			"type": string(action.Type),
		})
	}
	if err := q.validator.Validate(action); err != nil {
		return models.PendingAction{}, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	if action.Timestamp == 0 {
		action.Timestamp = now.UnixMilli()
	}
	if action.ID == "" {
		action.ID = uuid.NewPendingID(now)
	}
	if len(action.Payload) > 0 {
		action.Payload = append(json.RawMessage(nil), action.Payload...)
	}

	q.items = append(q.items, action)
	q.persistItems()

	logging.Debug("action enqueued", map[string]interface{}{
		"action_id": action.ID,
		"type":      string(action.Type),
		"pending":   len(q.items),
	})
	return action, nil
}

// Snapshot returns a copy of the queue in FIFO order.
func (q *Queue) Snapshot() []models.PendingAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.PendingAction(nil), q.items...)
}

// List is an alias of Snapshot for read-only callers.
func (q *Queue) List() []models.PendingAction {
	return q.Snapshot()
}

// Len returns the number of pending actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Failure returns the diagnostics of an action that failed before.
func (q *Queue) Failure(id string) (models.ActionFailure, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	f, ok := q.failures[id]
	return f, ok
}

// Failures returns the diagnostics of every queued action that failed at
// least once, in queue order.
func (q *Queue) Failures() []models.ActionFailure {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []models.ActionFailure
	for _, item := range q.items {
		if f, ok := q.failures[item.ID]; ok {
			out = append(out, f)
		}
	}
	return out
}

// Commit writes the outcome of a pass. The new queue is the residual
// followed by every action enqueued after the snapshot was taken, so
// enqueues racing a pass are kept.
func (q *Queue) Commit(result PassResult) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	attempted := make(map[string]bool, len(result.Attempted))
	for _, a := range result.Attempted {
		attempted[a.ID] = true
	}
	present := make(map[string]bool, len(q.items))
	for _, item := range q.items {
		present[item.ID] = true
	}

	next := make([]models.PendingAction, 0, len(result.Residual)+len(q.items))
	for _, a := range result.Residual {
		// a Clear during the pass drops the residual too
		if present[a.ID] {
			next = append(next, a)
		}
	}
	for _, item := range q.items {
		if !attempted[item.ID] {
			next = append(next, item)
		}
	}

	now := q.now().UnixMilli()
	for _, a := range result.Attempted {
		err, failed := result.Failures[a.ID]
		if !failed {
			delete(q.failures, a.ID)
			continue
		}
		f := q.failures[a.ID]
		f.ActionID = a.ID
		f.Attempts++
		f.LastAttemptAt = now
		f.Permanent = errors.IsPermanent(err)
		if err != nil {
			f.LastError = err.Error()
			f.LastErrorCode = string(errors.CodeOf(err))
		}
		q.failures[a.ID] = f
	}

	for _, a := range result.Dead {
		if !present[a.ID] {
			continue
		}
		q.dead = append(q.dead, models.DeadLetter{
			Action:  a,
			Failure: q.failures[a.ID],
			MovedAt: now,
		})
		delete(q.failures, a.ID)
	}

	q.items = next
	q.pruneFailures()

	q.persistItems()
	q.persistFailures()
	if len(result.Dead) > 0 {
		q.persistDead()
	}
	return nil
}

// Clear empties the queue and its diagnostics and returns how many actions
// were dropped. Dead letters are kept.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := len(q.items)
	q.items = nil
	q.failures = make(map[string]models.ActionFailure)

	if err := q.kv.Remove(db.KeyPendingQueue); err != nil {
		logging.Error("failed to remove pending queue", err)
	}
	if err := q.kv.Remove(db.KeyQueueFailures); err != nil {
		logging.Error("failed to remove queue failures", err)
	}
	return dropped
}

// DeadLetters returns the actions removed by a retry policy.
func (q *Queue) DeadLetters() []models.DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]models.DeadLetter(nil), q.dead...)
}

// RetryDeadLetters appends every dead letter back to the queue and returns
// how many were requeued.
func (q *Queue) RetryDeadLetters() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := len(q.dead)
	if n == 0 {
		return 0
	}
	for _, d := range q.dead {
		q.items = append(q.items, d.Action)
	}
	q.dead = nil

	q.persistItems()
	q.persistDead()
	logging.Info("dead letters requeued", map[string]interface{}{"count": n})
	return n
}

// pruneFailures drops diagnostics of actions no longer queued.
func (q *Queue) pruneFailures() {
	live := make(map[string]bool, len(q.items))
	for _, item := range q.items {
		live[item.ID] = true
	}
	for id := range q.failures {
		if !live[id] {
			delete(q.failures, id)
		}
	}
}

func (q *Queue) persistItems() {
	items := q.items
	if items == nil {
		items = []models.PendingAction{}
	}
	q.persist(db.KeyPendingQueue, items)
}

func (q *Queue) persistFailures() {
	q.persist(db.KeyQueueFailures, q.failures)
}

func (q *Queue) persistDead() {
	dead := q.dead
	if dead == nil {
		dead = []models.DeadLetter{}
	}
	q.persist(db.KeyDeadLetters, dead)
}

// persist writes v under key. Failures are logged and the in-memory state is kept.
func (q *Queue) persist(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error("failed to encode queue state", err, map[string]interface{}{"key": key})
		return
	}
	if err := q.kv.Set(key, string(data)); err != nil {
		logging.ErrorWithCode("failed to persist queue state", string(errors.ErrDatabase), err, map[string]interface{}{
			"key": key,
		})
	}
}

// Encode returns the persisted JSON form of actions.
func Encode(actions []models.PendingAction) ([]byte, error) {
	if actions == nil {
		actions = []models.PendingAction{}
	}
	return json.Marshal(actions)
}
