package handlers

import (
	"context"
	"net/http"

	"github.com/kimhsiao/petstock/internal/models"
)

// AppointmentService is the appointment part of the service layer.
type AppointmentService interface {
	CreateAppointment(ctx context.Context, in models.AppointmentInput) (*models.Appointment, error)
	UpdateAppointment(ctx context.Context, id string, patch models.AppointmentPatch) (*models.Appointment, error)
	CancelAppointment(ctx context.Context, id string) error
	Appointments(ctx context.Context, userID string) ([]models.Appointment, error)
	Specialists(ctx context.Context) ([]models.Specialist, error)
	Pets(ctx context.Context, userID string) ([]models.Pet, error)
}

// AppointmentHandler handles appointment operations.
type AppointmentHandler struct {
	service AppointmentService
}

// NewAppointmentHandler creates a new AppointmentHandler.
func NewAppointmentHandler(service AppointmentService) *AppointmentHandler {
	return &AppointmentHandler{service: service}
}

// Register adds the appointment routes to mux.
func (h *AppointmentHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/appointments", h.ListAppointments)
	mux.HandleFunc("POST /api/appointments", h.CreateAppointment)
	mux.HandleFunc("PATCH /api/appointments/{id}", h.UpdateAppointment)
	mux.HandleFunc("DELETE /api/appointments/{id}", h.CancelAppointment)
	mux.HandleFunc("GET /api/specialists", h.ListSpecialists)
	mux.HandleFunc("GET /api/pets", h.ListPets)
}

// ListAppointments handles GET /api/appointments?user=
// A failed remote read still answers with the cached list and a warning.
func (h *AppointmentHandler) ListAppointments(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Appointments(r.Context(), r.URL.Query().Get("user"))
	writeList(w, list, err)
}

// CreateAppointment handles POST /api/appointments
func (h *AppointmentHandler) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var request struct {
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
	if !decodeBody(w, r, &request) {
		return
	}

	appt, err := h.service.CreateAppointment(r.Context(), models.AppointmentInput(request))
	if appt == nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusCreated, appt, err)
}

// UpdateAppointment handles PATCH /api/appointments/{id}
func (h *AppointmentHandler) UpdateAppointment(w http.ResponseWriter, r *http.Request) {
	var request struct {
		Date   *string `json:"date"`
		Time   *string `json:"time"`
		Reason *string `json:"reason"`
		Status *string `json:"status"`
	}
	if !decodeBody(w, r, &request) {
		return
	}

	appt, err := h.service.UpdateAppointment(r.Context(), r.PathValue("id"), models.AppointmentPatch(request))
	if appt == nil {
		writeError(w, err)
		return
	}
	writeResult(w, http.StatusOK, appt, err)
}

// CancelAppointment handles DELETE /api/appointments/{id}
func (h *AppointmentHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	err := h.service.CancelAppointment(r.Context(), id)
	writeResult(w, http.StatusOK, map[string]string{"cancelled": id}, err)
}

// ListSpecialists handles GET /api/specialists
func (h *AppointmentHandler) ListSpecialists(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Specialists(r.Context())
	writeList(w, list, err)
}

// ListPets handles GET /api/pets?user=
func (h *AppointmentHandler) ListPets(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.Pets(r.Context(), r.URL.Query().Get("user"))
	writeList(w, list, err)
}

func writeList[T any](w http.ResponseWriter, list []T, err error) {
	if list == nil {
		list = []T{}
	}
	response := map[string]interface{}{
		"items": list,
		"total": len(list),
	}
	if err != nil {
		response["stale"] = true
		response["warning"] = err.Error()
	}
	writeJSON(w, http.StatusOK, response)
}
