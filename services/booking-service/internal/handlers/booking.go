package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/md-rashed-zaman/slotdesk/libs/httpx"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

// BookingService is the part of booking.Service the HTTP layer drives.
type BookingService interface {
	ComputeAvailability(ctx context.Context, q booking.AvailabilityQuery) ([]availability.Day, error)
	SubmitBooking(ctx context.Context, req booking.Request) (booking.Admission, error)
	TransitionStatus(ctx context.Context, appointmentID string, to model.Status) (model.Appointment, error)
	BlockIdentity(ctx context.Context, req booking.BlockRequest) (int, error)
	ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
}

type BookingHandler struct {
	svc    BookingService
	logger *slog.Logger
}

func NewBookingHandler(svc BookingService, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger}
}

type slotItem struct {
	Start string `json:"start"`
	End   string `json:"end"`
	Class string `json:"class"`
}

type dayItem struct {
	Date  string     `json:"date"`
	Slots []slotItem `json:"slots"`
}

type availabilityResponse struct {
	DurationMinutes int       `json:"duration_minutes"`
	Days            []dayItem `json:"days"`
}

func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := model.ParseDate(strings.TrimSpace(q.Get("from")))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "from must be YYYY-MM-DD")
		return
	}
	to := from
	if raw := strings.TrimSpace(q.Get("to")); raw != "" {
		if to, err = model.ParseDate(raw); err != nil {
			writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "to must be YYYY-MM-DD")
			return
		}
	}
	duration := 0
	if raw := strings.TrimSpace(q.Get("duration")); raw != "" {
		if duration, err = strconv.Atoi(raw); err != nil {
			writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "duration must be 30 or 60")
			return
		}
	}

	days, err := h.svc.ComputeAvailability(r.Context(), booking.AvailabilityQuery{
		From:            from,
		To:              to,
		DurationMinutes: duration,
		Identity: model.Identity{
			UserID:    strings.TrimSpace(q.Get("user_id")),
			Email:     strings.TrimSpace(q.Get("email")),
			IPAddress: httpx.ClientIP(r),
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	resp := availabilityResponse{DurationMinutes: slotMinutes(days, duration), Days: make([]dayItem, 0, len(days))}
	for _, d := range days {
		item := dayItem{Date: model.FormatDate(d.Date), Slots: make([]slotItem, 0, len(d.Slots))}
		for _, s := range d.Slots {
			item.Slots = append(item.Slots, slotItem{Start: s.Start.String(), End: s.End.String(), Class: string(s.Class)})
		}
		resp.Days = append(resp.Days, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

// slotMinutes reports the duration the slots were computed for when the caller left it to the settings.
func slotMinutes(days []availability.Day, requested int) int {
	if requested > 0 {
		return requested
	}
	for _, d := range days {
		for _, s := range d.Slots {
			return int(s.End - s.Start)
		}
	}
	return 0
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

// Create admits a booking. The client address is taken from the connection, never from the body.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req booking.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "invalid json body")
		return
	}
	req.Identity.IPAddress = httpx.ClientIP(r)
	req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))

	res, err := h.svc.SubmitBooking(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusCreated
	if res.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, createBookingResponse{AppointmentID: res.AppointmentID, Status: string(res.Status)})
}

type appointmentItem struct {
	AppointmentID   string         `json:"appointment_id"`
	Date            string         `json:"date"`
	Start           string         `json:"start"`
	End             string         `json:"end"`
	DurationMinutes int            `json:"duration_minutes"`
	Status          string         `json:"status"`
	Identity        model.Identity `json:"identity"`
	AppointmentType string         `json:"appointment_type,omitempty"`
	CreatedAt       string         `json:"created_at"`
	UpdatedAt       string         `json:"updated_at"`
}

func toItem(a model.Appointment) appointmentItem {
	return appointmentItem{
		AppointmentID:   a.ID,
		Date:            model.FormatDate(a.Date),
		Start:           a.Start.String(),
		End:             a.End.String(),
		DurationMinutes: a.DurationMinutes(),
		Status:          string(a.Status),
		Identity:        a.Identity,
		AppointmentType: a.AppointmentType,
		CreatedAt:       a.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       a.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	from, err := model.ParseDate(strings.TrimSpace(q.Get("from")))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "from must be YYYY-MM-DD")
		return
	}
	to, err := model.ParseDate(strings.TrimSpace(q.Get("to")))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "to must be YYYY-MM-DD")
		return
	}

	appts, err := h.svc.ListAppointments(r.Context(), from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	items := make([]appointmentItem, 0, len(appts))
	for _, a := range appts {
		items = append(items, toItem(a))
	}
	writeJSON(w, http.StatusOK, items)
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "invalid json body")
		return
	}
	to, err := model.ParseStatus(strings.TrimSpace(req.Status))
	if err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), err.Error())
		return
	}

	appt, err := h.svc.TransitionStatus(r.Context(), chi.URLParam(r, "id"), to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toItem(appt))
}

type blockResponse struct {
	AppointmentsAffected int `json:"appointments_affected"`
}

func (h *BookingHandler) Block(w http.ResponseWriter, r *http.Request) {
	var req booking.BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, string(booking.KindValidation), "invalid json body")
		return
	}
	n, err := h.svc.BlockIdentity(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, blockResponse{AppointmentsAffected: n})
}
