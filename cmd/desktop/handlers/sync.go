package handlers

import (
	"context"
	"net/http"

	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/services"
	syncpkg "github.com/kimhsiao/petstock/internal/sync"
	"github.com/kimhsiao/petstock/internal/sync/scheduler"
)

// SyncScheduler runs and reports reconciliation passes.
type SyncScheduler interface {
	GetStatus() scheduler.SchedulerStatus
	SyncNow(ctx context.Context) (*syncpkg.SyncResult, error)
}

// SyncService exposes the online mode and the queue.
type SyncService interface {
	SetOnlineMode(online bool)
	IsOnline() bool
	PendingActions() []models.PendingAction
	PendingFailures() []models.ActionFailure
	RecentErrors() []services.RecordedError
}

// DeadLetterQueue holds actions removed by the retry policy.
type DeadLetterQueue interface {
	DeadLetters() []models.DeadLetter
	RetryDeadLetters() int
}

// SyncHandler handles sync status and operations.
type SyncHandler struct {
	scheduler SyncScheduler
	service   SyncService
	dead      DeadLetterQueue
}

// NewSyncHandler creates a new SyncHandler.
func NewSyncHandler(scheduler SyncScheduler, service SyncService, dead DeadLetterQueue) *SyncHandler {
	return &SyncHandler{
		scheduler: scheduler,
		service:   service,
		dead:      dead,
	}
}

// Register adds the sync routes to mux.
func (h *SyncHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /sync/status", h.GetStatus)
	mux.HandleFunc("POST /sync/now", h.TriggerSync)
	mux.HandleFunc("POST /sync/mode", h.SetMode)
	mux.HandleFunc("GET /sync/pending", h.GetPending)
	mux.HandleFunc("POST /sync/dead/retry", h.RetryDeadLetters)
}

// GetStatus handles GET /sync/status
// Returns connectivity, the pending count, the last pass and recent online
// write failures.
func (h *SyncHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"scheduler":     h.scheduler.GetStatus(),
		"recent_errors": h.service.RecentErrors(),
	})
}

// TriggerSync handles POST /sync/now
// Runs a pass and waits for it. A pass already running answers 409.
func (h *SyncHandler) TriggerSync(w http.ResponseWriter, r *http.Request) {
	result, err := h.scheduler.SyncNow(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if result.Skipped && result.SkipReason == syncpkg.SkipInFlight {
		writeJSON(w, http.StatusConflict, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// SetMode handles POST /sync/mode
// Body: {"online": false} forces offline mode; {"online": true} clears it.
func (h *SyncHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Online *bool `json:"online"`
	}
	if !decodeBody(w, r, &request) {
		return
	}
	if request.Online == nil {
		http.Error(w, "online is required", http.StatusBadRequest)
		return
	}

	h.service.SetOnlineMode(*request.Online)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"online": h.service.IsOnline(),
	})
}

// GetPending handles GET /sync/pending
func (h *SyncHandler) GetPending(w http.ResponseWriter, r *http.Request) {
	pending := h.service.PendingActions()
	if pending == nil {
		pending = []models.PendingAction{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pending":      pending,
		"failures":     h.service.PendingFailures(),
		"dead_letters": h.dead.DeadLetters(),
	})
}

// RetryDeadLetters handles POST /sync/dead/retry
func (h *SyncHandler) RetryDeadLetters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"requeued": h.dead.RetryDeadLetters(),
	})
}
