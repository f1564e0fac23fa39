// Package app wires the configuration, stores and sync components into a
// ready Service shared by the command shells.
package app

import (
	"context"
	"fmt"

	"github.com/kimhsiao/petstock/internal/cache"
	"github.com/kimhsiao/petstock/internal/config"
	"github.com/kimhsiao/petstock/internal/connectivity"
	"github.com/kimhsiao/petstock/internal/db"
	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/docstore/memory"
	"github.com/kimhsiao/petstock/internal/docstore/postgres"
	"github.com/kimhsiao/petstock/internal/docstore/s3"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/services"
	syncpkg "github.com/kimhsiao/petstock/internal/sync"
	"github.com/kimhsiao/petstock/internal/sync/queue"
	"github.com/kimhsiao/petstock/internal/sync/scheduler"
)

// App holds every long-lived component.
type App struct {
	Config    *config.Config
	DB        *db.DB
	KV        *db.SQLiteKV
	Store     docstore.Store
	Monitor   *connectivity.Monitor
	Probe     *connectivity.ProbeSource
	Queue     *queue.Queue
	Cache     *cache.Cache
	Engine    *syncpkg.SyncEngine
	Scheduler *scheduler.Scheduler
	Service   *services.Service

	closeStore func()
}

// Option customizes New.
type Option func(*options)

type options struct {
	store         docstore.Store
	onRemoteError func(services.RecordedError)
}

// WithStore uses store instead of the configured remote backend.
func WithStore(store docstore.Store) Option {
	return func(o *options) {
		o.store = store
	}
}

// WithRemoteErrorHandler receives every failed online write.
func WithRemoteErrorHandler(fn func(services.RecordedError)) Option {
	return func(o *options) {
		o.onRemoteError = fn
	}
}

// New opens the local database and the remote store and builds the
// components. Nothing runs until Start.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	database, err := db.Open(cfg.DataDir)
	if err != nil {
		return nil, err
	}

	a := &App{
		Config:     cfg,
		DB:         database,
		KV:         db.NewSQLiteKV(database),
		Monitor:    connectivity.NewMonitor(),
		closeStore: func() {},
	}

	if o.store != nil {
		a.Store = o.store
	} else {
		store, closeStore, err := OpenStore(ctx, cfg.Remote)
		if err != nil {
			database.Close()
			return nil, err
		}
		a.Store = store
		a.closeStore = closeStore
	}

	a.Queue, err = queue.Open(a.KV)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Cache = cache.New(a.KV)

	a.Engine = syncpkg.NewSyncEngine(a.Store, a.Queue, a.Monitor, a.Cache, syncpkg.Options{
		RemoteTimeout: cfg.Sync.RemoteTimeout,
		Retry: syncpkg.RetryPolicy{
			MaxAttempts:         cfg.Sync.MaxAttempts,
			DeadLetterPermanent: cfg.Sync.DeadLetterPermanent,
		},
	})
	a.Scheduler = scheduler.NewScheduler(a.Engine, a.Monitor, &scheduler.SchedulerConfig{
		SettleDelay:  cfg.Sync.SettleDelay,
		SyncInterval: cfg.Sync.SyncInterval,
	})
	a.Service = services.NewService(a.KV, a.Store, a.Monitor, a.Queue, a.Engine, a.Cache, &services.Config{
		UserID:            cfg.UserID,
		AsyncOnlineWrites: cfg.Sync.AsyncOnlineWrites,
		OnRemoteError:     o.onRemoteError,
	})

	if _, ok := a.Store.(docstore.Unconfigured); ok {
		a.Monitor.SetManualOffline(true)
		logging.Warn("no remote backend configured, working offline", map[string]interface{}{
			"data_dir": cfg.DataDir,
		})
	}

	if cfg.Connectivity.ProbeAddress != "" {
		a.Probe = connectivity.NewProbeSource(a.Monitor, cfg.Connectivity.ProbeAddress,
			cfg.Connectivity.ProbeInterval, cfg.Connectivity.ProbeTimeout)
	}

	logging.Info("petstock initialized", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"backend":  cfg.Remote.Backend,
		"pending":  a.Queue.Len(),
	})
	return a, nil
}

// OpenStore connects the remote backend named by cfg. The returned function
// releases its resources. No backend yields docstore.Unconfigured; the
// memory backend lives only as long as the process.
func OpenStore(ctx context.Context, cfg config.RemoteConfig) (docstore.Store, func(), error) {
	switch cfg.Backend {
	case config.BackendNone:
		return docstore.Unconfigured{}, func() {}, nil
	case config.BackendMemory:
		return memory.New(), func() {}, nil
	case config.BackendPostgres:
		store, err := postgres.Open(ctx, cfg.Postgres.URL)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case config.BackendS3:
		store, err := s3.Open(ctx, s3.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			Prefix:          cfg.S3.Prefix,
			UsePathStyle:    cfg.S3.UsePathStyle,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
		})
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown remote backend %q", cfg.Backend)
	}
}

// StartSession probes once and loads the session without starting any
// background work. Short-lived processes use it instead of Start.
func (a *App) StartSession(ctx context.Context) error {
	if a.Probe != nil {
		a.Probe.ProbeOnce(ctx)
	}
	return a.Service.StartSession(ctx, a.Config.UserID)
}

// Start loads the session, starts the connectivity probe and the scheduler.
// With a non-empty queue and the device online, a pass runs right away.
func (a *App) Start(ctx context.Context) error {
	if err := a.StartSession(ctx); err != nil {
		return err
	}
	if a.Probe != nil {
		a.Probe.Start(ctx)
	}
	a.Scheduler.Start(ctx)
	return nil
}

// Close stops background work and releases the stores.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Stop()
	}
	if a.Probe != nil {
		a.Probe.Stop()
	}
	if a.Service != nil {
		a.Service.Close()
	}
	a.closeStore()
	return a.DB.Close()
}
