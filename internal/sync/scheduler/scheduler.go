// Package scheduler decides when reconciliation passes run: after the device
// comes back online, at startup, on demand and optionally on a fixed period.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/kimhsiao/petstock/internal/connectivity"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
	syncpkg "github.com/kimhsiao/petstock/internal/sync"
)

// Monitor is the connectivity source the scheduler follows.
type Monitor interface {
	IsOnline() bool
	Subscribe(fn connectivity.Listener) func()
}

// Scheduler manages background reconciliation passes.
type Scheduler struct {
	engine       syncpkg.SyncEngineInterface
	monitor      Monitor
	syncInterval time.Duration
	settleDelay  time.Duration
	passTimeout  time.Duration

	stopCh      chan struct{}
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	isRunning   bool
	stopped     bool
	unsubscribe func()
	settle      *time.Timer

	lastSyncTime   time.Time
	lastResult     *syncpkg.SyncResult
	syncInProgress bool
}

// SchedulerConfig holds scheduler configuration.
type SchedulerConfig struct {
	SettleDelay  time.Duration // Wait after coming online before a pass (default: 1 second)
	SyncInterval time.Duration // Periodic pass while online; 0 disables it
	PassTimeout  time.Duration // Upper bound of one pass (default: 5 minutes)
}

// DefaultSchedulerConfig returns default scheduler configuration.
func DefaultSchedulerConfig() *SchedulerConfig {
	return &SchedulerConfig{
		SettleDelay: 1 * time.Second,
		PassTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(engine syncpkg.SyncEngineInterface, monitor Monitor, config *SchedulerConfig) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config == nil {
		config = defaults
	}
	s := &Scheduler{
		engine:       engine,
		monitor:      monitor,
		syncInterval: config.SyncInterval,
		settleDelay:  config.SettleDelay,
		passTimeout:  config.PassTimeout,
		stopCh:       make(chan struct{}),
		ctx:          context.Background(),
	}
	if s.settleDelay < 0 {
		s.settleDelay = 0
	}
	if s.passTimeout <= 0 {
		s.passTimeout = defaults.PassTimeout
	}
	return s
}

// Start subscribes to connectivity changes and, when online, runs a pass
// right away so a queue loaded at startup is drained.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning || s.stopped {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.ctx = ctx
	s.mu.Unlock()

	unsubscribe := s.monitor.Subscribe(s.onConnectivityChange)
	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()

	if s.syncInterval > 0 {
		s.wg.Add(1)
		go s.periodicSyncLoop(ctx)
	}

	logging.Info("Background sync scheduler started", map[string]interface{}{
		"settle_delay_ms":  s.settleDelay.Milliseconds(),
		"interval_seconds": s.syncInterval.Seconds(),
	})

	if s.monitor.IsOnline() {
		s.launch(ctx, "startup")
	}
}

// Stop cancels any pending trigger and waits for running passes.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.stopped = true
	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
	}
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Background sync scheduler stopped", nil)
}

// onConnectivityChange arms the settle timer on recovery and disarms it when
// the device goes offline again before it fires.
func (s *Scheduler) onConnectivityChange(online bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isRunning {
		return
	}

	if s.settle != nil {
		s.settle.Stop()
		s.settle = nil
		if !online {
			logging.Debug("Pending sync trigger cancelled", nil)
		}
	}
	if !online {
		return
	}

	ctx := s.ctx
	var timer *time.Timer
	timer = time.AfterFunc(s.settleDelay, func() {
		s.mu.Lock()
		if s.settle != timer {
			s.mu.Unlock()
			return
		}
		s.settle = nil
		s.mu.Unlock()

		if !s.monitor.IsOnline() {
			return
		}
		s.launch(ctx, "reconnect")
	})
	s.settle = timer
}

// periodicSyncLoop runs a pass every syncInterval while online.
func (s *Scheduler) periodicSyncLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			if !s.monitor.IsOnline() {
				continue
			}
			s.launch(ctx, "periodic")
		}
	}
}

// claim marks a pass in progress. It fails when one already runs or the
// scheduler was stopped.
func (s *Scheduler) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.syncInProgress || s.stopped {
		return false
	}
	s.syncInProgress = true
	s.wg.Add(1)
	return true
}

func (s *Scheduler) release(result *syncpkg.SyncResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncInProgress = false
	if result != nil && !result.Skipped {
		s.lastSyncTime = result.EndTime
		s.lastResult = result
	}
	s.wg.Done()
}

// launch starts a background pass unless one is already running.
func (s *Scheduler) launch(ctx context.Context, trigger string) bool {
	if !s.claim() {
		logging.Debug("Sync already in progress, skipping", map[string]interface{}{"trigger": trigger})
		return false
	}
	go func() {
		result, _ := s.run(ctx, trigger)
		s.release(result)
	}()
	return true
}

// run executes one pass bounded by passTimeout.
func (s *Scheduler) run(ctx context.Context, trigger string) (*syncpkg.SyncResult, error) {
	syncCtx, cancel := context.WithTimeout(ctx, s.passTimeout)
	defer cancel()

	result, err := s.engine.Sync(syncCtx)
	if err != nil {
		logging.ErrorWithCode("Sync pass failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"trigger": trigger})
		return result, err
	}
	if result.Skipped {
		logging.Debug("Sync pass skipped", map[string]interface{}{
			"trigger": trigger,
			"reason":  string(result.SkipReason),
		})
		return result, nil
	}

	logging.Info("Sync pass completed", map[string]interface{}{
		"trigger":   trigger,
		"succeeded": result.Succeeded,
		"failed":    result.Failed,
		"remaining": result.Remaining,
	})
	return result, nil
}

// TriggerSync starts an immediate background pass.
// Returns true if a pass was started, false if one is already in progress.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	return s.launch(ctx, "manual")
}

// SchedulerStatus is a point-in-time view of the scheduler.
type SchedulerStatus struct {
	IsRunning      bool                `json:"isRunning"`
	IsOnline       bool                `json:"isOnline"`
	LastSyncTime   *time.Time          `json:"lastSyncTime,omitempty"`
	SyncInProgress bool                `json:"syncInProgress"`
	SettlePending  bool                `json:"settlePending"`
	PendingItems   int                 `json:"pendingItems"`
	EngineStatus   syncpkg.SyncStatus  `json:"engineStatus"`
	LastError      string              `json:"lastError,omitempty"`
	LastResult     *syncpkg.SyncResult `json:"lastResult,omitempty"`
}

// GetStatus returns the current status of the scheduler.
func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	status := SchedulerStatus{
		IsRunning:      s.isRunning,
		SyncInProgress: s.syncInProgress,
		SettlePending:  s.settle != nil,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	status.IsOnline = s.monitor.IsOnline()
	status.PendingItems = s.engine.PendingChanges()
	status.EngineStatus = s.engine.Status()
	if err := s.engine.LastError(); err != nil {
		status.LastError = err.Error()
	}
	return status
}

// SyncNow runs a pass and waits for it. A pass already running makes the
// engine report a skipped result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.SyncResult, error) {
	result, err := s.run(ctx, "sync_now")

	s.mu.Lock()
	if result != nil && !result.Skipped {
		s.lastSyncTime = result.EndTime
		s.lastResult = result
	}
	s.mu.Unlock()

	return result, err
}

// IsOnline returns the effective connectivity state.
func (s *Scheduler) IsOnline() bool {
	return s.monitor.IsOnline()
}

// IsRunning returns whether the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
