// Package sync tests for the reconciliation engine.
package sync

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	stdsync "sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kimhsiao/petstock/internal/cache"
	"github.com/kimhsiao/petstock/internal/connectivity"
	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/docstore/memory"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/sync/queue"
)

type testEnv struct {
	engine  *SyncEngine
	store   *memory.Store
	queue   *queue.Queue
	monitor *connectivity.Monitor
	cache   *cache.Cache
}

func createTestEngine(t *testing.T, opts Options) *testEnv {
	t.Helper()
	kv := db.NewMemoryKV()
	q, err := queue.Open(kv)
	require.NoError(t, err)

	env := &testEnv{
		store:   memory.New(),
		queue:   q,
		monitor: connectivity.NewMonitor(),
		cache:   cache.New(kv),
	}
	env.engine = NewSyncEngine(env.store, q, env.monitor, env.cache, opts)
	return env
}

func (env *testEnv) enqueue(t *testing.T, actionType models.ActionType, docID, payload string) models.PendingAction {
	t.Helper()
	a := models.PendingAction{Type: actionType, DocID: docID}
	if payload != "" {
		a.Payload = json.RawMessage(payload)
	}
	out, err := env.queue.Enqueue(a)
	require.NoError(t, err)
	return out
}

func productPayload(code string, qty int) string {
	return fmt.Sprintf(`{"codigo":%q,"nombre":"Tornillo","cantidad":%d,"stockMinimo":0,"foto":null}`, code, qty)
}

func movementPayload(code string, qty int) string {
	return fmt.Sprintf(`{"tipo":"entrada","productoId":%q,"productoNombre":"Tornillo","productoCodigo":%q,"cantidad":%d,"detalles":{"antes":0,"despues":%d}}`, code, code, qty, qty)
}

const appointmentPayload = `{"userId":"u1","specialistId":"s1","petId":"p1","date":"2024-05-01","time":"10:00","status":"pending"}`

func actionIDs(actions []models.PendingAction) []string {
	out := make([]string, len(actions))
	for i, a := range actions {
		out[i] = a.ID
	}
	return out
}

// ===== Guards =====

// TestSync_SkipsWhenOffline verifies no remote call is made offline.
func TestSync_SkipsWhenOffline(t *testing.T) {
	env := createTestEngine(t, Options{})
	env.enqueue(t, models.ActionProductDelete, "T1", "")
	env.monitor.SetManualOffline(true)

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipOffline, result.SkipReason)
	assert.Equal(t, 1, result.Remaining)
	assert.Empty(t, env.store.Calls())
	assert.Equal(t, SyncStatusIdle, env.engine.Status())
}

// TestSync_SkipsWhenEmpty verifies an empty queue is a no-op.
func TestSync_SkipsWhenEmpty(t *testing.T) {
	env := createTestEngine(t, Options{})

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Equal(t, SkipEmpty, result.SkipReason)
	assert.Nil(t, env.engine.LastSync())
}

// TestSync_SkipsWhenInFlight verifies passes never overlap.
func TestSync_SkipsWhenInFlight(t *testing.T) {
	env := createTestEngine(t, Options{})
	env.enqueue(t, models.ActionProductDelete, "T1", "")

	entered := make(chan struct{})
	release := make(chan struct{})
	var once stdsync.Once
	env.store.SetHook(func(ctx context.Context, call memory.Call) error {
		once.Do(func() { close(entered) })
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})

	done := make(chan *SyncResult)
	go func() {
		result, _ := env.engine.Sync(context.Background())
		done <- result
	}()

	<-entered
	assert.True(t, env.engine.InFlight())
	assert.Equal(t, SyncStatusSyncing, env.engine.Status())

	second, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, SkipInFlight, second.SkipReason)

	close(release)
	first := <-done
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, first.Succeeded)
	assert.False(t, env.engine.InFlight())
}

// ===== Replay =====

// TestSync_AllSucceedInvalidatesCache verifies a full successful replay
// empties the queue and invalidates the touched caches.
func TestSync_AllSucceedInvalidatesCache(t *testing.T) {
	env := createTestEngine(t, Options{})
	env.enqueue(t, models.ActionProductSet, "T1", productPayload("T1", 20))
	env.enqueue(t, models.ActionMovementAdd, "", movementPayload("T1", 20))
	require.NoError(t, env.cache.Put(models.CollectionProducts, []string{"stale"}))
	require.NoError(t, env.cache.Put(models.CollectionAppointments, []string{"kept"}))

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, result.Attempted)
	assert.Equal(t, 2, result.Succeeded)
	assert.Equal(t, 0, result.Remaining)
	assert.Equal(t, 0, env.queue.Len())
	assert.Equal(t, SyncStatusIdle, env.engine.Status())
	assert.NotNil(t, env.engine.LastSync())
	assert.NoError(t, env.engine.LastError())

	doc, ok := env.store.Get(models.CollectionProducts, "T1")
	require.True(t, ok)
	assert.Equal(t, float64(20), doc["cantidad"])
	assert.Equal(t, 1, env.store.Count(models.CollectionMovements))
	assert.NotEmpty(t, result.Actions[1].RemoteID)

	assert.True(t, env.cache.IsDirty(models.CollectionProducts))
	assert.True(t, env.cache.IsDirty(models.CollectionMovements))
	assert.False(t, env.cache.IsDirty(models.CollectionAppointments))
	var stale []string
	found, err := env.cache.Get(models.CollectionProducts, &stale)
	require.NoError(t, err)
	assert.False(t, found)
}

// TestSync_PartialFailureKeepsOnlyFailed verifies only the failed action
// stays queued and is the only one retried.
func TestSync_PartialFailureKeepsOnlyFailed(t *testing.T) {
	env := createTestEngine(t, Options{})
	env.enqueue(t, models.ActionProductSet, "T1", productPayload("T1", 20))
	movement := env.enqueue(t, models.ActionMovementAdd, "", movementPayload("T1", 20))
	env.store.FailNext(memory.OpCreate, stderrors.New("unavailable"))

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{movement.ID}, actionIDs(env.queue.Snapshot()))
	assert.Equal(t, SyncStatusFailed, env.engine.Status())
	assert.True(t, errors.Is(env.engine.LastError(), errors.ErrSyncFailed))

	f, ok := env.queue.Failure(movement.ID)
	require.True(t, ok)
	assert.Equal(t, 1, f.Attempts)
	assert.Equal(t, string(errors.ErrSyncFailed), f.LastErrorCode)

	env.store.ResetCalls()
	result, err = env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, 1, result.Succeeded)

	calls := env.store.WriteCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, memory.OpCreate, calls[0].Op)
	assert.Equal(t, models.CollectionMovements, calls[0].Collection)
	assert.Equal(t, 0, env.queue.Len())
	assert.Equal(t, SyncStatusIdle, env.engine.Status())
}

// TestSync_FIFOOrder verifies actions are replayed in enqueue order.
func TestSync_FIFOOrder(t *testing.T) {
	env := createTestEngine(t, Options{})
	env.enqueue(t, models.ActionProductSet, "A", productPayload("A", 1))
	env.enqueue(t, models.ActionProductUpdate, "A", `{"cantidad":5}`)
	env.enqueue(t, models.ActionAddAppointment, "", appointmentPayload)
	env.enqueue(t, models.ActionProductDelete, "A", "")
	env.enqueue(t, models.ActionDeleteAppointment, "X9", "")

	_, err := env.engine.Sync(context.Background())
	require.NoError(t, err)

	var got []string
	for _, c := range env.store.WriteCalls() {
		got = append(got, c.Op+":"+c.Collection)
	}
	assert.Equal(t, []string{
		"upsert:productos",
		"update:productos",
		"create:appointments",
		"delete:productos",
		"delete:appointments",
	}, got)
	assert.Equal(t, 0, env.queue.Len())
}

// TestSync_ResidualIsIdempotent verifies a residual replays exactly once per pass.
func TestSync_ResidualIsIdempotent(t *testing.T) {
	env := createTestEngine(t, Options{})
	a := env.enqueue(t, models.ActionProductDelete, "A", "")
	b := env.enqueue(t, models.ActionProductDelete, "B", "")
	c := env.enqueue(t, models.ActionProductDelete, "C", "")

	env.store.SetHook(func(ctx context.Context, call memory.Call) error {
		if call.ID == "B" || call.ID == "C" {
			return stderrors.New("unavailable")
		}
		return nil
	})
	_, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{b.ID, c.ID}, actionIDs(env.queue.Snapshot()))

	env.store.SetHook(nil)
	env.store.ResetCalls()
	_, err = env.engine.Sync(context.Background())
	require.NoError(t, err)

	var targets []string
	for _, call := range env.store.WriteCalls() {
		targets = append(targets, call.ID)
	}
	assert.Equal(t, []string{"B", "C"}, targets)
	assert.NotContains(t, targets, a.DocID)
}

// TestSync_TempIDDeleteResolvedLocally verifies the delete shortcut.
func TestSync_TempIDDeleteResolvedLocally(t *testing.T) {
	env := createTestEngine(t, Options{})
	env.enqueue(t, models.ActionDeleteAppointment, "temp_1700000000000", "")

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Resolved)
	assert.Equal(t, 0, result.Succeeded)
	assert.Equal(t, OutcomeResolved, result.Actions[0].Outcome)
	assert.Empty(t, env.store.Calls())
	assert.Equal(t, 0, env.queue.Len())
}

// TestSync_TempIDUpdateStaysQueued verifies an update aimed at a temp id is
// never sent and never dropped.
func TestSync_TempIDUpdateStaysQueued(t *testing.T) {
	env := createTestEngine(t, Options{})
	update := env.enqueue(t, models.ActionUpdateAppointment, "temp_1700000000000", `{"reason":"checkup"}`)

	for i := 0; i < 3; i++ {
		result, err := env.engine.Sync(context.Background())
		require.NoError(t, err)
		assert.Equal(t, OutcomeUnresolvable, result.Actions[0].Outcome)
	}

	assert.Empty(t, env.store.Calls())
	assert.Equal(t, []string{update.ID}, actionIDs(env.queue.Snapshot()))
	f, ok := env.queue.Failure(update.ID)
	require.True(t, ok)
	assert.Equal(t, 3, f.Attempts)
	assert.True(t, f.Permanent)
	assert.Empty(t, env.queue.DeadLetters())
}

// TestSync_UnknownTypeRetained verifies unknown types stay queued by default.
func TestSync_UnknownTypeRetained(t *testing.T) {
	env := createTestEngine(t, Options{})
	unknown := env.enqueue(t, "LEGACY_ACTION", "x", "")

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{unknown.ID}, actionIDs(env.queue.Snapshot()))

	f, _ := env.queue.Failure(unknown.ID)
	assert.Equal(t, string(errors.ErrUnknownAction), f.LastErrorCode)
}

// TestSync_UpdateOfMissingDocument verifies not-found updates stay queued as permanent failures.
func TestSync_UpdateOfMissingDocument(t *testing.T) {
	env := createTestEngine(t, Options{})
	update := env.enqueue(t, models.ActionProductUpdate, "ghost", `{"cantidad":1}`)

	_, err := env.engine.Sync(context.Background())
	require.NoError(t, err)

	f, ok := env.queue.Failure(update.ID)
	require.True(t, ok)
	assert.Equal(t, string(errors.ErrNotFound), f.LastErrorCode)
	assert.True(t, f.Permanent)
	assert.Equal(t, 1, env.queue.Len())
}

// ===== Retry policy =====

// TestSync_DeadLetterPermanent verifies permanent failures leave the queue when enabled.
func TestSync_DeadLetterPermanent(t *testing.T) {
	env := createTestEngine(t, Options{Retry: RetryPolicy{DeadLetterPermanent: true}})
	unknown := env.enqueue(t, "LEGACY_ACTION", "x", "")
	transient := env.enqueue(t, models.ActionProductDelete, "T1", "")
	env.store.FailNext(memory.OpDelete, stderrors.New("unavailable"))

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.DeadLettered)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, []string{transient.ID}, actionIDs(env.queue.Snapshot()))

	dead := env.queue.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, unknown.ID, dead[0].Action.ID)
	assert.Equal(t, 1, dead[0].Failure.Attempts)
}

// TestSync_MaxAttempts verifies bounded retries.
func TestSync_MaxAttempts(t *testing.T) {
	env := createTestEngine(t, Options{Retry: RetryPolicy{MaxAttempts: 2}})
	action := env.enqueue(t, models.ActionProductDelete, "T1", "")
	env.store.SetHook(func(ctx context.Context, call memory.Call) error {
		return stderrors.New("unavailable")
	})

	_, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, env.queue.Len())

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeDeadLettered, result.Actions[0].Outcome)
	assert.Equal(t, 0, env.queue.Len())

	dead := env.queue.DeadLetters()
	require.Len(t, dead, 1)
	assert.Equal(t, action.ID, dead[0].Action.ID)
	assert.Equal(t, 2, dead[0].Failure.Attempts)
}

// ===== Timeouts and cancellation =====

// TestSync_RemoteTimeout verifies a hung remote call fails the action only.
func TestSync_RemoteTimeout(t *testing.T) {
	env := createTestEngine(t, Options{RemoteTimeout: 20 * time.Millisecond})
	hung := env.enqueue(t, models.ActionProductDelete, "slow", "")
	env.enqueue(t, models.ActionProductDelete, "fast", "")
	env.store.SetHook(func(ctx context.Context, call memory.Call) error {
		if call.ID == "slow" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	result, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.Succeeded)
	assert.Equal(t, 1, result.Failed)

	f, ok := env.queue.Failure(hung.ID)
	require.True(t, ok)
	assert.Equal(t, string(errors.ErrSyncTimeout), f.LastErrorCode)
	assert.False(t, f.Permanent)
}

// TestSync_CancelledContext verifies unattempted actions stay queued in order.
func TestSync_CancelledContext(t *testing.T) {
	env := createTestEngine(t, Options{})
	first := env.enqueue(t, models.ActionProductDelete, "A", "")
	second := env.enqueue(t, models.ActionProductDelete, "B", "")

	ctx, cancel := context.WithCancel(context.Background())
	env.store.SetHook(func(_ context.Context, call memory.Call) error {
		cancel()
		return nil
	})

	result, err := env.engine.Sync(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, result.Attempted)
	assert.Equal(t, OutcomeNotAttempted, result.Actions[1].Outcome)
	assert.Equal(t, []string{second.ID}, actionIDs(env.queue.Snapshot()))
	assert.NotEqual(t, first.ID, second.ID)
	assert.False(t, env.engine.InFlight())
}

// TestSync_EnqueueDuringPass verifies actions recorded mid-pass survive the commit.
func TestSync_EnqueueDuringPass(t *testing.T) {
	env := createTestEngine(t, Options{})
	env.enqueue(t, models.ActionProductDelete, "A", "")

	var late models.PendingAction
	var once stdsync.Once
	env.store.SetHook(func(ctx context.Context, call memory.Call) error {
		once.Do(func() {
			late = env.enqueue(t, models.ActionProductDelete, "B", "")
		})
		return nil
	})

	_, err := env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{late.ID}, actionIDs(env.queue.Snapshot()))
}

// ===== Apply =====

// TestApply verifies the single-action path used by online writes.
func TestApply(t *testing.T) {
	env := createTestEngine(t, Options{})
	ctx := context.Background()

	id, err := env.engine.Apply(ctx, models.PendingAction{
		Type:    models.ActionAddAppointment,
		Payload: json.RawMessage(`{"id":"temp_1","offline":true,"userId":"u1"}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	doc, ok := env.store.Get(models.CollectionAppointments, id)
	require.True(t, ok)
	assert.NotContains(t, doc, "id")
	assert.NotContains(t, doc, "offline")

	env.store.ResetCalls()
	_, err = env.engine.Apply(ctx, models.PendingAction{Type: models.ActionDeleteAppointment, DocID: "temp_1"})
	require.NoError(t, err)
	assert.Empty(t, env.store.Calls())

	_, err = env.engine.Apply(ctx, models.PendingAction{Type: models.ActionProductSet, DocID: "A", Payload: json.RawMessage(`[1]`)})
	assert.True(t, errors.Is(err, errors.ErrValidation))
}

// ===== Events =====

type recordingHandler struct {
	mu        stdsync.Mutex
	started   []int
	progress  [][2]int
	failed    []string
	completed []*SyncResult
}

func (h *recordingHandler) OnSyncStarted(total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = append(h.started, total)
}

func (h *recordingHandler) OnSyncProgress(done, total int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.progress = append(h.progress, [2]int{done, total})
}

func (h *recordingHandler) OnActionFailed(action models.PendingAction, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failed = append(h.failed, action.ID)
}

func (h *recordingHandler) OnSyncCompleted(result *SyncResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.completed = append(h.completed, result)
}

// TestSync_Events verifies the handler sees the pass lifecycle.
func TestSync_Events(t *testing.T) {
	env := createTestEngine(t, Options{})
	h := &recordingHandler{}
	env.engine.SetEventHandler(h)

	env.enqueue(t, models.ActionProductDelete, "A", "")
	failing := env.enqueue(t, models.ActionUpdateAppointment, "temp_9", `{"status":"cancelled"}`)

	_, err := env.engine.Sync(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []int{2}, h.started)
	assert.Equal(t, [][2]int{{1, 2}, {2, 2}}, h.progress)
	assert.Equal(t, []string{failing.ID}, h.failed)
	require.Len(t, h.completed, 1)
	assert.Equal(t, 1, h.completed[0].Remaining)

	env.engine.SetEventHandler(nil)
	_, err = env.engine.Sync(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.completed, 1)
}

var _ SyncEngineInterface = (*SyncEngine)(nil)
