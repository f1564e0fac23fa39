package services

import (
	"context"
	"strings"

	"github.com/kimhsiao/petstock/internal/docstore"
	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
	"github.com/kimhsiao/petstock/internal/models"
	"github.com/kimhsiao/petstock/internal/uuid"
)

// Cached collection names that are not remote collections.
const cachePets = "pets"

// CreateAppointment books an appointment. Offline, the booking is queued and
// cached under a temp id with the offline flag set. A failed online write
// caches and returns the same offline booking together with the error.
func (s *Service) CreateAppointment(ctx context.Context, in models.AppointmentInput) (*models.Appointment, error) {
	if in.UserID == "" {
		in.UserID = s.currentUser()
	}
	if err := validateAppointment(in); err != nil {
		return nil, err
	}

	now := s.now()
	appt := models.Appointment{
		UserID:              in.UserID,
		SpecialistID:        in.SpecialistID,
		SpecialistName:      in.SpecialistName,
		SpecialistSpecialty: in.SpecialistSpecialty,
		PetID:               in.PetID,
		PetName:             in.PetName,
		Date:                in.Date,
		Time:                in.Time,
		Reason:              strings.TrimSpace(in.Reason),
		Status:              models.AppointmentStatusPending,
		CreatedAt:           now,
	}

	action, err := models.NewPendingAction(models.ActionAddAppointment, "", appt.RemoteFields())
	if err != nil {
		return nil, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	// writes still waiting for the worker go first
	s.wg.Wait()

	var writeErr error
	if s.conn.IsOnline() {
		id, err := s.engine.Apply(ctx, action)
		if err == nil {
			appt.ID = id
			s.cacheAppointment(appt)
			logging.Info("appointment created", map[string]interface{}{"appointment_id": id})
			return &appt, nil
		}
		writeErr = errors.Wrap(errors.ErrRemoteWrite, "create_appointment: remote write failed", err)
		s.recordError("create_appointment", writeErr)
	}

	s.enqueue("create_appointment", []models.PendingAction{action})
	appt.ID = uuid.NewTempID(now)
	appt.Offline = true
	s.cacheAppointment(appt)

	logging.Info("appointment queued", map[string]interface{}{"appointment_id": appt.ID})
	return &appt, writeErr
}

// UpdateAppointment applies patch to an appointment. Updates aimed at an
// offline booking stay queued until it exists remotely.
func (s *Service) UpdateAppointment(ctx context.Context, id string, patch models.AppointmentPatch) (*models.Appointment, error) {
	if id == "" {
		return nil, errors.New(errors.ErrInvalid, "appointment id is required")
	}
	fields := patch.Fields()
	if len(fields) == 0 {
		return nil, errors.New(errors.ErrInvalid, "nothing to update")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	var updated *models.Appointment
	s.editCachedAppointments(func(list []models.Appointment) []models.Appointment {
		for i := range list {
			if list[i].ID != id {
				continue
			}
			applyPatch(&list[i], patch)
			a := list[i]
			updated = &a
		}
		return list
	})
	if updated == nil {
		updated = &models.Appointment{ID: id}
		applyPatch(updated, patch)
	}

	action, err := models.NewPendingAction(models.ActionUpdateAppointment, id, fields)
	if err != nil {
		return nil, err
	}
	if uuid.IsTempID(id) || updated.Offline {
		s.deferWrites("update_appointment", []models.PendingAction{action})
		return updated, nil
	}
	return updated, s.write(ctx, "update_appointment", []models.PendingAction{action})
}

// CancelAppointment deletes an appointment. Offline bookings and cancels
// made while offline are queued and removed from the cache at once.
func (s *Service) CancelAppointment(ctx context.Context, id string) error {
	if id == "" {
		return errors.New(errors.ErrInvalid, "appointment id is required")
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	offline := uuid.IsTempID(id)
	s.editCachedAppointments(func(list []models.Appointment) []models.Appointment {
		out := list[:0]
		for _, a := range list {
			if a.ID == id {
				offline = offline || a.Offline
				continue
			}
			out = append(out, a)
		}
		return out
	})

	action := models.PendingAction{Type: models.ActionDeleteAppointment, DocID: id}
	if offline {
		s.deferWrites("cancel_appointment", []models.PendingAction{action})
		return nil
	}
	return s.write(ctx, "cancel_appointment", []models.PendingAction{action})
}

// Appointments returns the appointments of userID (the session user when
// empty). Online reads refresh the cache and keep offline bookings that are
// still queued; offline reads serve the cache.
func (s *Service) Appointments(ctx context.Context, userID string) ([]models.Appointment, error) {
	if userID == "" {
		userID = s.currentUser()
	}
	filter := &docstore.Filter{Field: "userId", Value: userID}

	remote, err := listRemote[models.Appointment](ctx, s, models.CollectionAppointments, filter)
	if err != nil || remote == nil {
		var cached []models.Appointment
		if _, cacheErr := s.cache.Get(models.CollectionAppointments, &cached); cacheErr != nil {
			logging.Error("failed to read appointment cache", cacheErr)
		}
		return filterAppointments(cached, userID), err
	}

	var merged []models.Appointment
	s.editCachedAppointments(func(cached []models.Appointment) []models.Appointment {
		merged = remote
		for _, a := range cached {
			if a.Offline && a.UserID == userID {
				merged = append(merged, a)
			}
		}
		return merged
	})
	return merged, nil
}

// Specialists returns the bookable specialists.
func (s *Service) Specialists(ctx context.Context) ([]models.Specialist, error) {
	return readThrough[models.Specialist](ctx, s, models.CollectionSpecialists, models.CollectionSpecialists, nil)
}

// Pets returns the pets of userID (the session user when empty).
func (s *Service) Pets(ctx context.Context, userID string) ([]models.Pet, error) {
	if userID == "" {
		userID = s.currentUser()
	}
	return readThrough[models.Pet](ctx, s, models.CollectionPets, cachePets, &docstore.Filter{Field: "userId", Value: userID})
}

// readThrough lists a remote collection and caches it when online, and serves
// the cache when offline or when the remote read fails.
func readThrough[T any](ctx context.Context, s *Service, collection, cacheName string, filter *docstore.Filter) ([]T, error) {
	remote, err := listRemote[T](ctx, s, collection, filter)
	if err == nil && remote != nil {
		if err := s.cache.Put(cacheName, remote); err != nil {
			logging.Error("failed to cache collection", err, map[string]interface{}{"name": cacheName})
		}
		return remote, nil
	}

	var cached []T
	if _, cacheErr := s.cache.Get(cacheName, &cached); cacheErr != nil {
		logging.Error("failed to read collection cache", cacheErr, map[string]interface{}{"name": cacheName})
	}
	return cached, err
}

// listRemote returns nil without error when offline.
func listRemote[T any](ctx context.Context, s *Service, collection string, filter *docstore.Filter) ([]T, error) {
	if !s.conn.IsOnline() {
		return nil, nil
	}
	docs, err := s.store.ListDocs(ctx, collection, filter)
	if err != nil {
		logging.Error("failed to list remote collection", err, map[string]interface{}{"collection": collection})
		return nil, errors.Wrap(errors.ErrSyncFailed, "list "+collection, err)
	}

	out := make([]T, 0, len(docs))
	for _, doc := range docs {
		var item T
		if err := docstore.DecodeInto(doc, &item); err != nil {
			logging.Warn("skipping undecodable document", map[string]interface{}{
				"collection": collection,
				"doc_id":     doc.ID,
			})
			continue
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Service) cacheAppointment(a models.Appointment) {
	s.editCachedAppointments(func(list []models.Appointment) []models.Appointment {
		return append(list, a)
	})
}

// editCachedAppointments rewrites cache:appointments under the service lock.
func (s *Service) editCachedAppointments(fn func([]models.Appointment) []models.Appointment) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var list []models.Appointment
	err := s.cache.Update(models.CollectionAppointments, &list, func() interface{} {
		return fn(list)
	})
	if err != nil {
		logging.Error("failed to update appointment cache", err)
	}
}

func (s *Service) currentUser() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

func validateAppointment(in models.AppointmentInput) error {
	var missing []string
	if in.UserID == "" {
		missing = append(missing, "userId")
	}
	if in.SpecialistID == "" {
		missing = append(missing, "specialistId")
	}
	if in.PetID == "" {
		missing = append(missing, "petId")
	}
	if in.Date == "" {
		missing = append(missing, "date")
	}
	if in.Time == "" {
		missing = append(missing, "time")
	}
	if len(missing) > 0 {
		return errors.New(errors.ErrInvalid, "missing appointment fields: "+strings.Join(missing, ", "))
	}
	return nil
}

func applyPatch(a *models.Appointment, p models.AppointmentPatch) {
	if p.Date != nil {
		a.Date = *p.Date
	}
	if p.Time != nil {
		a.Time = *p.Time
	}
	if p.Reason != nil {
		a.Reason = *p.Reason
	}
	if p.Status != nil {
		a.Status = *p.Status
	}
}

func filterAppointments(list []models.Appointment, userID string) []models.Appointment {
	var out []models.Appointment
	for _, a := range list {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out
}
