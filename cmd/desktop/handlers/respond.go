package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/kimhsiao/petstock/internal/errors"
	"github.com/kimhsiao/petstock/internal/logging"
)

// writeJSON encodes v with status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Error("failed to encode response", err)
	}
}

// writeError maps err onto an HTTP status by its error code.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errors.ErrInvalid), errors.Is(err, errors.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, errors.ErrProductNotFound),
		errors.Is(err, errors.ErrAppointmentNotFound),
		errors.Is(err, errors.ErrNotFound):
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":    string(errors.CodeOf(err)),
			"message": err.Error(),
		},
	})
}

// writeResult writes a write operation's result. A failed remote write that
// was queued answers 202 with a warning.
func writeResult(w http.ResponseWriter, status int, data interface{}, err error) {
	switch {
	case err == nil:
		writeJSON(w, status, data)
	case errors.Is(err, errors.ErrRemoteWrite) && data != nil:
		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"data":    data,
			"queued":  true,
			"warning": err.Error(),
		})
	default:
		writeError(w, err)
	}
}

// decodeBody decodes the JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}
