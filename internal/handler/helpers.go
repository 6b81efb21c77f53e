package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/madisonstylee/thetidytoad-sub000/internal/ledger"
	"github.com/madisonstylee/thetidytoad-sub000/internal/task"
)

func parseIDParam(r *http.Request, name string) (int64, error) {
	return strconv.ParseInt(r.PathValue(name), 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError maps the domain error taxonomy onto HTTP statuses. Concurrency
// conflicts come back 503 because the caller may retry; everything else is a
// caller error or a 500.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, task.ErrNotFound) || errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, task.ErrPermissionDenied) || errors.Is(err, ledger.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, task.ErrInvalidTransition) || errors.Is(err, ledger.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientBalance):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, task.ErrValidation) || errors.Is(err, ledger.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, ledger.ErrConcurrencyConflict):
		status = http.StatusServiceUnavailable
	default:
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
