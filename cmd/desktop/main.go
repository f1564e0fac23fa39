// Package main provides the desktop server. Desktop clients talk to it over
// REST and receive sync events over a WebSocket on localhost.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kimhsiao/petstock/cmd/desktop/handlers"
	"github.com/kimhsiao/petstock/internal/app"
	"github.com/kimhsiao/petstock/internal/config"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/services"
)

// EnvConfig names the config file to load.
const EnvConfig = "PETSTOCK_CONFIG"

func main() {
	cfg, err := config.Load(os.Getenv(EnvConfig))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logging.Init(os.Stdout, logging.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logging.Error("desktop server failed", err)
		os.Exit(1)
	}
}

// run serves until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config) error {
	hub := NewWSHub()
	defer hub.Stop()

	a, err := app.New(ctx, cfg, app.WithRemoteErrorHandler(func(e services.RecordedError) {
		hub.BroadcastRemoteWriteFailed(e.Operation, e.Code, e.Message)
	}))
	if err != nil {
		return err
	}
	defer a.Close()

	a.Engine.SetEventHandler(hub)
	unsubscribe := a.Monitor.Subscribe(hub.BroadcastConnectivity)
	defer unsubscribe()

	if err := a.Start(ctx); err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Desktop.Listen,
		Handler:           newMux(a, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	logging.Info("desktop server listening", map[string]interface{}{"addr": cfg.Desktop.Listen})

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// newMux registers every route.
func newMux(a *app.App, hub *WSHub) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","service":"petstock-desktop","online":%t,"pending":%d}`,
			a.Service.IsOnline(), a.Service.PendingCount())
	})

	handlers.NewProductHandler(a.Service).Register(mux)
	handlers.NewAppointmentHandler(a.Service).Register(mux)
	handlers.NewSyncHandler(a.Scheduler, a.Service, a.Queue).Register(mux)
	mux.HandleFunc("GET /ws", HandleWebSocket(hub))

	return mux
}
