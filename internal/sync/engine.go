package sync

import (
	"context"
	stderrors "errors"
	"fmt"
	stdsync "sync"
	"time"

	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/sync/queue"
	"github.com/kimhsiao/petstock/internal/uuid"
)

// DefaultRemoteTimeout bounds each remote call.
const DefaultRemoteTimeout = 15 * time.Second

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SkipReason explains why a pass did nothing.
type SkipReason string

const (
	SkipOffline  SkipReason = "offline"
	SkipEmpty    SkipReason = "empty_queue"
	SkipInFlight SkipReason = "in_flight"
)

// Outcome classifies the replay of one action.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeFailed       Outcome = "failed"
	OutcomeUnresolvable Outcome = "unresolvable"
	OutcomeResolved     Outcome = "resolved"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeNotAttempted Outcome = "not_attempted"
)

// RetryPolicy bounds how long failing actions stay queued. The zero value
// retries every action on every pass forever.
type RetryPolicy struct {
	// MaxAttempts moves an action to the dead-letter list after this many
	// failed attempts. 0 means unlimited.
	MaxAttempts int
	// DeadLetterPermanent moves permanently failing actions out on their
	// first failure.
	DeadLetterPermanent bool
}

func (p RetryPolicy) deadLetter(attempts int, err error) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	return p.DeadLetterPermanent && errors.IsPermanent(err)
}

// Connectivity reports the effective online state.
type Connectivity interface {
	IsOnline() bool
}

// CacheInvalidator drops cached snapshots of remote collections.
type CacheInvalidator interface {
	Invalidate(names ...string)
}

// Options configures a SyncEngine.
type Options struct {
	RemoteTimeout time.Duration
	Retry         RetryPolicy
}

// ActionResult is the outcome of one action in a pass.
type ActionResult struct {
	ActionID string            `json:"actionId"`
	Type     models.ActionType `json:"type"`
	Outcome  Outcome           `json:"outcome"`
	RemoteID string            `json:"remoteId,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// SyncResult represents the result of a reconciliation pass.
type SyncResult struct {
	StartTime    time.Time      `json:"startTime"`
	EndTime      time.Time      `json:"endTime"`
	Duration     time.Duration  `json:"duration"`
	Skipped      bool           `json:"skipped"`
	SkipReason   SkipReason     `json:"skipReason,omitempty"`
	Attempted    int            `json:"attempted"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	Resolved     int            `json:"resolved"`
	DeadLettered int            `json:"deadLettered"`
	Remaining    int            `json:"remaining"`
	Actions      []ActionResult `json:"actions,omitempty"`
	Error        string         `json:"error,omitempty"`
}

// SyncEngine drains the pending-action queue against the remote store.
type SyncEngine struct {
	store   docstore.Store
	queue   *queue.Queue
	conn    Connectivity
	cache   CacheInvalidator
	opts    Options
	now     func() time.Time
	handler SyncEventHandler

	mu       stdsync.Mutex
	inFlight bool
	status   SyncStatus
	lastSync *time.Time
	lastErr  error
}

// NewSyncEngine creates a new SyncEngine. cache may be nil.
func NewSyncEngine(store docstore.Store, q *queue.Queue, conn Connectivity, cache CacheInvalidator, opts Options) *SyncEngine {
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	return &SyncEngine{
		store:   store,
		queue:   q,
		conn:    conn,
		cache:   cache,
		opts:    opts,
		now:     time.Now,
		handler: NopEventHandler{},
		status:  SyncStatusIdle,
	}
}

// SetEventHandler sets the event handler; nil restores the no-op handler.
func (e *SyncEngine) SetEventHandler(handler SyncEventHandler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if handler == nil {
		handler = NopEventHandler{}
	}
	e.handler = handler
}

func (e *SyncEngine) eventHandler() SyncEventHandler {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handler
}

// Status returns the current sync status.
func (e *SyncEngine) Status() SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.status
}

// LastSync returns the end time of the last completed pass.
func (e *SyncEngine) LastSync() *time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSync
}

// PendingChanges returns the number of queued actions.
func (e *SyncEngine) PendingChanges() int {
	return e.queue.Len()
}

// LastError returns the error summary of the last pass.
func (e *SyncEngine) LastError() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastErr
}

// InFlight reports whether a pass is running.
func (e *SyncEngine) InFlight() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.inFlight
}

// Sync runs one reconciliation pass. Per-action failures never abort the
// pass; they stay queued for the next one.
func (e *SyncEngine) Sync(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: e.now()}

	if skip := e.begin(); skip != "" {
		result.Skipped = true
		result.SkipReason = skip
		result.EndTime = result.StartTime
		result.Remaining = e.queue.Len()
		logging.Debug("sync skipped", map[string]interface{}{"reason": string(skip)})
		return result, nil
	}

	handler := e.eventHandler()
	snapshot := e.queue.Snapshot()
	total := len(snapshot)

	logging.Info("sync started", map[string]interface{}{"pending": total})
	handler.OnSyncStarted(total)

	pass := queue.PassResult{
		Attempted: snapshot,
		Failures:  make(map[string]error),
	}
	touched := make(map[string]bool)
	var ctxErr error

	for i, action := range snapshot {
		if err := ctx.Err(); err != nil {
			// unattempted actions stay queued with their diagnostics
			ctxErr = err
			pass.Attempted = snapshot[:i]
			for _, rest := range snapshot[i:] {
				result.Actions = append(result.Actions, ActionResult{ActionID: rest.ID, Type: rest.Type, Outcome: OutcomeNotAttempted})
			}
			break
		}

		result.Attempted++
		ar := ActionResult{ActionID: action.ID, Type: action.Type}

		remoteID, resolved, err := e.dispatch(ctx, action)
		switch {
		case err == nil && resolved:
			ar.Outcome = OutcomeResolved
			result.Resolved++
		case err == nil:
			ar.Outcome = OutcomeApplied
			ar.RemoteID = remoteID
			result.Succeeded++
			touched[action.Type.Collection()] = true
		default:
			ar.Error = err.Error()
			pass.Failures[action.ID] = err

			attempts := 1
			if f, ok := e.queue.Failure(action.ID); ok {
				attempts = f.Attempts + 1
			}

			if e.opts.Retry.deadLetter(attempts, err) {
				ar.Outcome = OutcomeDeadLettered
				result.DeadLettered++
				pass.Dead = append(pass.Dead, action)
			} else {
				if errors.Is(err, errors.ErrUnresolvableAction) {
					ar.Outcome = OutcomeUnresolvable
				} else {
					ar.Outcome = OutcomeFailed
				}
				result.Failed++
				pass.Residual = append(pass.Residual, action)
			}

			logging.ErrorWithCode("pending action failed", string(errors.CodeOf(err)), err, map[string]interface{}{
				"action_id": action.ID,
				"type":      string(action.Type),
				"attempts":  attempts,
				"outcome":   string(ar.Outcome),
			})
			handler.OnActionFailed(action, err)
		}

		result.Actions = append(result.Actions, ar)
		handler.OnSyncProgress(i+1, total)
	}

	if err := e.queue.Commit(pass); err != nil {
		logging.Error("failed to commit sync pass", err)
	}

	if result.Succeeded > 0 && e.cache != nil {
		names := make([]string, 0, len(touched))
		for _, name := range []string{models.CollectionAppointments, models.CollectionProducts, models.CollectionMovements} {
			if touched[name] {
				names = append(names, name)
			}
		}
		e.cache.Invalidate(names...)
	}

	result.EndTime = e.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Remaining = e.queue.Len()

	var passErr error
	if result.Failed+result.DeadLettered > 0 {
		passErr = errors.New(errors.ErrSyncFailed,
			fmt.Sprintf("%d of %d actions failed", result.Failed+result.DeadLettered, result.Attempted))
		result.Error = passErr.Error()
	}
	if ctxErr != nil {
		passErr = errors.Wrap(errors.ErrSyncFailed, "sync interrupted", ctxErr)
		result.Error = passErr.Error()
	}
	e.finish(result.EndTime, passErr)

	logging.Info("sync completed", map[string]interface{}{
		"attempted":     result.Attempted,
		"succeeded":     result.Succeeded,
		"failed":        result.Failed,
		"resolved":      result.Resolved,
		"dead_lettered": result.DeadLettered,
		"remaining":     result.Remaining,
		"duration_ms":   result.Duration.Milliseconds(),
	})
	handler.OnSyncCompleted(result)

	if ctxErr != nil {
		return result, ctxErr
	}
	return result, nil
}

// begin checks the guards and marks a pass in flight.
func (e *SyncEngine) begin() SkipReason {
	if !e.conn.IsOnline() {
		return SkipOffline
	}
	if e.queue.Len() == 0 {
		return SkipEmpty
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight {
		return SkipInFlight
	}
	e.inFlight = true
	e.status = SyncStatusSyncing
	return ""
}

func (e *SyncEngine) finish(end time.Time, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inFlight = false
	e.lastSync = &end
	e.lastErr = err
	if err != nil {
		e.status = SyncStatusFailed
	} else {
		e.status = SyncStatusIdle
	}
}

// Apply performs the remote write of one action. A delete aimed at a
// local-only appointment succeeds without a remote call.
func (e *SyncEngine) Apply(ctx context.Context, action models.PendingAction) (string, error) {
	remoteID, _, err := e.dispatch(ctx, action)
	return remoteID, err
}

// dispatch routes action to the store. resolved is true when the action was
// settled without a remote call.
func (e *SyncEngine) dispatch(ctx context.Context, action models.PendingAction) (remoteID string, resolved bool, err error) {
	collection := action.Type.Collection()

	switch action.Type {
	case models.ActionProductSet, models.ActionProductUpdate, models.ActionUpdateAppointment:
		if action.Type == models.ActionUpdateAppointment && uuid.IsTempID(action.DocID) {
			return "", false, errors.New(errors.ErrUnresolvableAction,
				"cannot update appointment "+action.DocID+" before it exists remotely")
		}
		fields, err := payloadFields(action)
		if err != nil {
			return "", false, err
		}
		err = e.call(ctx, func(ctx context.Context) error {
			if action.Type == models.ActionProductSet {
				return e.store.UpsertDoc(ctx, collection, action.DocID, fields)
			}
			return e.store.UpdateDoc(ctx, collection, action.DocID, fields)
		})
		return "", false, err

	case models.ActionProductDelete, models.ActionDeleteAppointment:
		if action.Type == models.ActionDeleteAppointment && uuid.IsTempID(action.DocID) {
			logging.Debug("dropping delete of local-only appointment", map[string]interface{}{
				"doc_id": action.DocID,
			})
			return "", true, nil
		}
		err := e.call(ctx, func(ctx context.Context) error {
			return e.store.DeleteDoc(ctx, collection, action.DocID)
		})
		return "", false, err

	case models.ActionMovementAdd, models.ActionAddAppointment:
		fields, err := payloadFields(action)
		if err != nil {
			return "", false, err
		}
		delete(fields, "id")
		delete(fields, "offline")
		var id string
		err = e.call(ctx, func(ctx context.Context) error {
			var createErr error
			id, createErr = e.store.CreateDoc(ctx, collection, fields)
			return createErr
		})
		return id, false, err

	default:
		logging.Warn("unknown pending action type", map[string]interface{}{
			"action_id": action.ID,
			"type":      string(action.Type),
		})
		return "", false, errors.New(errors.ErrUnknownAction, "unknown action type "+string(action.Type))
	}
}

// call runs fn under the per-call timeout and tags its error.
func (e *SyncEngine) call(ctx context.Context, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, e.opts.RemoteTimeout)
	defer cancel()

	err := fn(callCtx)
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, docstore.ErrNotFound):
		return errors.Wrap(errors.ErrNotFound, "remote document not found", err)
	case stderrors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		return errors.Wrap(errors.ErrSyncTimeout, "remote call timed out", err)
	default:
		return errors.Wrap(errors.ErrSyncFailed, "remote call failed", err)
	}
}

func payloadFields(action models.PendingAction) (map[string]interface{}, error) {
	if len(action.Payload) == 0 {
		return map[string]interface{}{}, nil
	}
	fields, err := docstore.DecodeFields(action.Payload)
	if err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "malformed payload for "+string(action.Type), err)
	}
	return fields, nil
}
