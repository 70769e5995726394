package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, errorResponse{Error: kind, Message: msg})
}

// statusFor maps an admission error kind onto its HTTP status.
func statusFor(err error) int {
	if errors.Is(err, storage.ErrNotFound) {
		return http.StatusNotFound
	}
	switch booking.KindOf(err) {
	case booking.KindValidation:
		return http.StatusBadRequest
	case booking.KindOutOfWindow:
		return http.StatusUnprocessableEntity
	case booking.KindLocked:
		return http.StatusLocked
	case booking.KindBlocked:
		return http.StatusForbidden
	case booking.KindLimitExceeded:
		return http.StatusTooManyRequests
	case booking.KindSlotUnavailable:
		return http.StatusConflict
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(w http.ResponseWriter, err error) {
	kind := booking.KindOf(err)
	status := statusFor(err)
	resp := errorResponse{Error: string(kind), Message: err.Error()}
	switch {
	case status == http.StatusNotFound:
		resp.Error, resp.Message = "not_found", "appointment not found"
	case kind.Retryable():
		resp.Message = "storage temporarily unavailable"
		resp.Retryable = true
		w.Header().Set("Retry-After", "1")
	}
	writeJSON(w, status, resp)
}
