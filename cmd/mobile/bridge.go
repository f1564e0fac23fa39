// Package main is the shared library loaded by the mobile shells. Every call
// takes and returns JSON strings; ffi.go exposes them over the C ABI.
package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"sync"

	"github.com/kimhsiao/petstock/internal/app"
	"github.com/kimhsiao/petstock/internal/config"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/models"
)

// bridge owns the single App instance behind the exported functions.
type bridge struct {
	mu     sync.Mutex
	app    *app.App
	cancel context.CancelFunc

	errMu   sync.Mutex
	lastErr string
}

var core bridge

type response struct {
	Data    interface{}    `json:"data,omitempty"`
	Warning string         `json:"warning,omitempty"`
	Error   *responseError `json:"error,omitempty"`
}

type responseError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type productRequest struct {
	Code     string  `json:"codigo"`
	Name     *string `json:"nombre"`
	Quantity *int    `json:"cantidad"`
	MinStock *int    `json:"stockMinimo"`
	Photo    *string `json:"foto"`
}

type appointmentRequest struct {
	UserID              string `json:"userId"`
	SpecialistID        string `json:"specialistId"`
	SpecialistName      string `json:"specialistName"`
	SpecialistSpecialty string `json:"specialistSpecialty"`
	PetID               string `json:"petId"`
	PetName             string `json:"petName"`
	Date                string `json:"date"`
	Time                string `json:"time"`
	Reason              string `json:"reason"`
}

type appointmentPatchRequest struct {
	Date   *string `json:"date"`
	Time   *string `json:"time"`
	Reason *string `json:"reason"`
	Status *string `json:"status"`
}

// init opens the App and starts background sync. A second call is a no-op.
func (b *bridge) init(configPath string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app != nil {
		return b.encode(nil, nil)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return b.encode(nil, err)
	}
	logging.SetGlobal(logging.New(os.Stderr, logging.ParseLevel(cfg.LogLevel)))

	ctx, cancel := context.WithCancel(context.Background())
	a, err := app.New(ctx, cfg)
	if err != nil {
		cancel()
		return b.encode(nil, err)
	}
	if err := a.Start(ctx); err != nil {
		cancel()
		a.Close()
		return b.encode(nil, err)
	}

	b.app = a
	b.cancel = cancel
	return b.encode(map[string]interface{}{"userId": cfg.UserID, "online": a.Service.IsOnline()}, nil)
}

func (b *bridge) cleanup() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.app == nil {
		return
	}
	b.cancel()
	if err := b.app.Close(); err != nil {
		logging.Error("failed to close app", err)
	}
	b.app = nil
}

// call runs fn against the open App and encodes its result.
func (b *bridge) call(fn func(ctx context.Context, a *app.App) (interface{}, error)) string {
	b.mu.Lock()
	a := b.app
	b.mu.Unlock()
	if a == nil {
		return b.encode(nil, errors.New(errors.ErrInternal, "core not initialized"))
	}
	return b.encode(fn(context.Background(), a))
}

// encode builds the JSON envelope. A failed remote write that was queued
// carries its data with a warning.
func (b *bridge) encode(data interface{}, err error) string {
	resp := response{Data: data}
	if err != nil {
		if errors.Is(err, errors.ErrRemoteWrite) && data != nil {
			resp.Warning = err.Error()
		} else {
			resp.Data = nil
			resp.Error = &responseError{Code: string(errors.CodeOf(err)), Message: err.Error()}
			var appErr *errors.AppError
			if stderrors.As(err, &appErr) {
				resp.Error.Message = appErr.Message
			}
		}
		b.setLastError(err.Error())
	}

	out, mErr := json.Marshal(resp)
	if mErr != nil {
		b.setLastError(mErr.Error())
		return `{"error":{"code":"INTERNAL_ERROR","message":"failed to encode response"}}`
	}
	return string(out)
}

func (b *bridge) setLastError(msg string) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	b.lastErr = msg
}

func (b *bridge) lastError() string {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	return b.lastErr
}

func decode(raw string, v interface{}) error {
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.Wrap(errors.ErrInvalid, "invalid request body", err)
	}
	return nil
}

func (b *bridge) networkChanged(reachable bool) string {
	return b.call(func(_ context.Context, a *app.App) (interface{}, error) {
		a.Monitor.Observe(reachable)
		return map[string]interface{}{"online": a.Service.IsOnline()}, nil
	})
}

func (b *bridge) setOnlineMode(online bool) string {
	return b.call(func(_ context.Context, a *app.App) (interface{}, error) {
		a.Service.SetOnlineMode(online)
		return map[string]interface{}{"online": a.Service.IsOnline()}, nil
	})
}

func (b *bridge) productAdd(raw string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var req productRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		in := models.ProductInput{Code: req.Code}
		if req.Name != nil {
			in.Name = *req.Name
		}
		if req.Quantity != nil {
			in.Quantity = *req.Quantity
		}
		if req.MinStock != nil {
			in.MinStock = *req.MinStock
		}
		if req.Photo != nil {
			in.Photo = *req.Photo
		}
		p, err := a.Service.AddProduct(ctx, in)
		if p == nil {
			return nil, err
		}
		return p, err
	})
}

func (b *bridge) productEdit(id, raw string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var req productRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		p, err := a.Service.EditProduct(ctx, id, models.ProductPatch{
			Name:     req.Name,
			Quantity: req.Quantity,
			MinStock: req.MinStock,
			Photo:    req.Photo,
		})
		if p == nil {
			return nil, err
		}
		return p, err
	})
}

func (b *bridge) productDelete(id string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		err := a.Service.DeleteProduct(ctx, id)
		if err != nil && !errors.Is(err, errors.ErrRemoteWrite) {
			return nil, err
		}
		return map[string]interface{}{"id": id, "deleted": true}, err
	})
}

func (b *bridge) productList() string {
	return b.call(func(_ context.Context, a *app.App) (interface{}, error) {
		return a.Service.Products(), nil
	})
}

func (b *bridge) movementList() string {
	return b.call(func(_ context.Context, a *app.App) (interface{}, error) {
		return a.Service.Movements(), nil
	})
}

func (b *bridge) appointmentCreate(raw string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var req appointmentRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		appt, err := a.Service.CreateAppointment(ctx, models.AppointmentInput(req))
		if appt == nil {
			return nil, err
		}
		return appt, err
	})
}

func (b *bridge) appointmentUpdate(id, raw string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		var req appointmentPatchRequest
		if err := decode(raw, &req); err != nil {
			return nil, err
		}
		appt, err := a.Service.UpdateAppointment(ctx, id, models.AppointmentPatch(req))
		if appt == nil {
			return nil, err
		}
		return appt, err
	})
}

func (b *bridge) appointmentCancel(id string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		err := a.Service.CancelAppointment(ctx, id)
		if err != nil && !errors.Is(err, errors.ErrRemoteWrite) {
			return nil, err
		}
		return map[string]interface{}{"id": id, "cancelled": true}, err
	})
}

// A failed remote read still returns the cached items, marked stale.
func (b *bridge) appointmentList(userID string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		list, err := a.Service.Appointments(ctx, userID)
		return listResult(list, err)
	})
}

func (b *bridge) specialistList() string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		list, err := a.Service.Specialists(ctx)
		return listResult(list, err)
	})
}

func (b *bridge) petList(userID string) string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		list, err := a.Service.Pets(ctx, userID)
		return listResult(list, err)
	})
}

func listResult[T any](list []T, err error) (interface{}, error) {
	if list == nil {
		list = []T{}
	}
	result := map[string]interface{}{
		"items": list,
		"total": len(list),
	}
	if err != nil {
		result["stale"] = true
		result["warning"] = err.Error()
	}
	return result, nil
}

func (b *bridge) syncNow() string {
	return b.call(func(ctx context.Context, a *app.App) (interface{}, error) {
		return a.Scheduler.SyncNow(ctx)
	})
}

func (b *bridge) syncStatus() string {
	return b.call(func(_ context.Context, a *app.App) (interface{}, error) {
		return map[string]interface{}{
			"scheduler":     a.Scheduler.GetStatus(),
			"pending":       a.Service.PendingActions(),
			"failures":      a.Service.PendingFailures(),
			"recent_errors": a.Service.RecentErrors(),
		}, nil
	})
}

func (b *bridge) pendingCount() int {
	b.mu.Lock()
	a := b.app
	b.mu.Unlock()
	if a == nil {
		return -1
	}
	return a.Service.PendingCount()
}

func main() {}
