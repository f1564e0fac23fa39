// Package sync replays the pending-action queue against the remote document
// store.
package sync

import (
	"context"
	"time"

	"github.com/kimhsiao/petstock/internal/models"
)

// SyncEngineInterface defines the interface for sync engine operations.
// This interface allows for mocking in tests and alternative implementations.
type SyncEngineInterface interface {
	// Sync runs one reconciliation pass over the queued actions.
	// Guarded passes return a skipped result and a nil error.
	Sync(ctx context.Context) (*SyncResult, error)

	// Apply performs the remote write of a single action and returns the
	// remote id of created documents.
	Apply(ctx context.Context, action models.PendingAction) (string, error)

	// SetEventHandler sets the event handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns the end time of the last completed pass.
	LastSync() *time.Time

	// PendingChanges returns the number of queued actions.
	PendingChanges() int

	// LastError returns the error summary of the last pass, if any action failed.
	LastError() error
}

// SyncEventHandler receives reconciliation events.
type SyncEventHandler interface {
	OnSyncStarted(total int)
	OnSyncProgress(done, total int)
	OnActionFailed(action models.PendingAction, err error)
	OnSyncCompleted(result *SyncResult)
}

// NopEventHandler ignores every event.
type NopEventHandler struct{}

func (NopEventHandler) OnSyncStarted(int)                          {}
func (NopEventHandler) OnSyncProgress(int, int)                    {}
func (NopEventHandler) OnActionFailed(models.PendingAction, error) {}
func (NopEventHandler) OnSyncCompleted(*SyncResult)                {}
