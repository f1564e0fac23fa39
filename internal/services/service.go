// Package services is the domain mutation layer: inventory and appointment
// operations that update the local mirror first and then either write the
// remote store or queue the writes for later replay.
package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kimhsiao/petstock/internal/cache"
	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/models"
	syncpkg "github.com/kimhsiao/petstock/internal/sync"
	"github.com/kimhsiao/petstock/internal/sync/queue"
)

// DefaultMaxRecentErrors bounds the RecentErrors log.
const DefaultMaxRecentErrors = 50

// Connectivity is the online state source and manual override.
type Connectivity interface {
	IsOnline() bool
	SetManualOffline(offline bool)
}

// RecordedError is a remote write failure kept for display.
type RecordedError struct {
	Operation string    `json:"operation"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Config holds service configuration.
type Config struct {
	// UserID owns appointments and pets created without an explicit user.
	UserID string
	// AsyncOnlineWrites hands remote writes to a background worker that
	// applies them in mutation order instead of waiting for them.
	// Appointment creation always waits because it needs the remote id.
	AsyncOnlineWrites bool
	// MaxRecentErrors bounds RecentErrors (default: 50).
	MaxRecentErrors int
	// OnRemoteError is called for every failed online write.
	OnRemoteError func(RecordedError)
}

// Service is the entry point of inventory and appointment mutations.
type Service struct {
	kv     db.KVStore
	store  docstore.Store
	conn   Connectivity
	queue  *queue.Queue
	engine syncpkg.SyncEngineInterface
	cache  *cache.Cache
	config Config
	now    func() time.Time

	// writeMu orders mutations: the mirror change and its remote write or
	// enqueue happen as one step. Taken before mu.
	writeMu sync.Mutex
	jobs    chan writeJob
	closed  bool

	mu        sync.Mutex
	userID    string
	products  []models.Product
	movements []models.Movement

	errMu  sync.Mutex
	recent []RecordedError

	wg sync.WaitGroup
}

// writeJob is a mutation's remote writes waiting for the background worker.
type writeJob struct {
	ctx       context.Context
	op        string
	actions   []models.PendingAction
	queueOnly bool
}

// writeQueueSize bounds the writes waiting for the background worker.
const writeQueueSize = 64

// NewService creates a Service. The local mirror is empty until StartSession.
func NewService(kv db.KVStore, store docstore.Store, conn Connectivity, q *queue.Queue,
	engine syncpkg.SyncEngineInterface, c *cache.Cache, config *Config) *Service {
	if config == nil {
		config = &Config{}
	}
	cfg := *config
	if cfg.MaxRecentErrors <= 0 {
		cfg.MaxRecentErrors = DefaultMaxRecentErrors
	}
	s := &Service{
		kv:     kv,
		store:  store,
		conn:   conn,
		queue:  q,
		engine: engine,
		cache:  c,
		config: cfg,
		now:    time.Now,
		userID: cfg.UserID,
	}
	if cfg.AsyncOnlineWrites {
		s.jobs = make(chan writeJob, writeQueueSize)
		go s.runWrites()
	}
	return s
}

// SetOnlineMode sets the manual override; false forces offline mode.
func (s *Service) SetOnlineMode(online bool) {
	s.conn.SetManualOffline(!online)
}

// IsOnline returns the effective online state.
func (s *Service) IsOnline() bool {
	return s.conn.IsOnline()
}

// PendingCount returns the number of queued actions.
func (s *Service) PendingCount() int {
	return s.queue.Len()
}

// PendingActions returns the queued actions in replay order.
func (s *Service) PendingActions() []models.PendingAction {
	return s.queue.List()
}

// PendingFailures returns the diagnostics of queued actions that failed to replay.
func (s *Service) PendingFailures() []models.ActionFailure {
	return s.queue.Failures()
}

// RecentErrors returns the latest remote write failures, oldest first.
func (s *Service) RecentErrors() []RecordedError {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return append([]RecordedError(nil), s.recent...)
}

// Wait blocks until background online writes have finished.
func (s *Service) Wait() {
	s.wg.Wait()
}

// Close waits for background writes and stops the worker. Later mutations
// write synchronously.
func (s *Service) Close() {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.wg.Wait()
	if s.jobs != nil && !s.closed {
		close(s.jobs)
	}
	s.closed = true
}

func (s *Service) recordError(op string, err error) {
	rec := RecordedError{
		Operation: op,
		Code:      string(errors.CodeOf(err)),
		Message:   err.Error(),
		At:        s.now(),
	}

	s.errMu.Lock()
	s.recent = append(s.recent, rec)
	if over := len(s.recent) - s.config.MaxRecentErrors; over > 0 {
		s.recent = append([]RecordedError(nil), s.recent[over:]...)
	}
	s.errMu.Unlock()

	logging.ErrorWithCode("remote write failed", rec.Code, err, map[string]interface{}{
		"operation": op,
	})
	if s.config.OnRemoteError != nil {
		s.config.OnRemoteError(rec)
	}
}

// write performs the remote writes implied by a mutation. Callers hold
// s.writeMu. Offline, every action is queued. Online, actions are applied in
// order; on the first failure the rest, the failed one included, are queued
// and the error is returned wrapped as REMOTE_WRITE_FAILED. With
// AsyncOnlineWrites the worker does this later and errors go to RecentErrors.
func (s *Service) write(ctx context.Context, op string, actions []models.PendingAction) error {
	if s.async() {
		s.submit(writeJob{ctx: context.WithoutCancel(ctx), op: op, actions: actions})
		return nil
	}
	return s.writeNow(ctx, op, actions)
}

// deferWrites queues actions behind any writes still waiting for the worker.
// Callers hold s.writeMu.
func (s *Service) deferWrites(op string, actions []models.PendingAction) {
	if s.async() {
		s.submit(writeJob{op: op, actions: actions, queueOnly: true})
		return
	}
	s.enqueue(op, actions)
}

func (s *Service) async() bool {
	return s.jobs != nil && !s.closed
}

func (s *Service) submit(job writeJob) {
	s.wg.Add(1)
	s.jobs <- job
}

// runWrites applies submitted writes one at a time, in submission order.
func (s *Service) runWrites() {
	for job := range s.jobs {
		if job.queueOnly {
			s.enqueue(job.op, job.actions)
		} else {
			_ = s.writeNow(job.ctx, job.op, job.actions)
		}
		s.wg.Done()
	}
}

func (s *Service) writeNow(ctx context.Context, op string, actions []models.PendingAction) error {
	if !s.conn.IsOnline() {
		s.enqueue(op, actions)
		return nil
	}
	return s.apply(ctx, op, actions)
}

func (s *Service) apply(ctx context.Context, op string, actions []models.PendingAction) error {
	for i, action := range actions {
		if _, err := s.engine.Apply(ctx, action); err != nil {
			wrapped := errors.Wrap(errors.ErrRemoteWrite, op+": remote write failed", err)
			s.recordError(op, wrapped)
			s.enqueue(op, actions[i:])
			return wrapped
		}
	}
	return nil
}

// enqueue queues actions. Failures are logged only; the mirror already
// holds the change.
func (s *Service) enqueue(op string, actions []models.PendingAction) {
	for _, action := range actions {
		if _, err := s.queue.Enqueue(action); err != nil {
			logging.ErrorWithCode("failed to queue pending action", string(errors.CodeOf(err)), err, map[string]interface{}{
				"operation": op,
				"type":      string(action.Type),
			})
		}
	}
}

// persist stores v under key. Failures are logged and the in-memory state is kept.
func (s *Service) persist(key string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error("failed to encode local state", err, map[string]interface{}{"key": key})
		return
	}
	if err := s.kv.Set(key, string(data)); err != nil {
		logging.ErrorWithCode("failed to persist local state", string(errors.ErrDatabase), err, map[string]interface{}{
			"key": key,
		})
	}
}

// load decodes the value stored under key into out and reports whether one existed.
func (s *Service) load(key string, out interface{}) bool {
	raw, ok, err := s.kv.Get(key)
	if err != nil {
		logging.Error("failed to read local state", err, map[string]interface{}{"key": key})
		return false
	}
	if !ok || raw == "" {
		return false
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		logging.Error("failed to decode local state", err, map[string]interface{}{"key": key})
		return false
	}
	return true
}
