package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

// TransitionStatus moves one appointment along the status table. Unknown ids and
// disallowed transitions are validation errors.
func (s *Service) TransitionStatus(ctx context.Context, appointmentID string, to model.Status) (model.Appointment, error) {
	ctx, span := s.tracer.Start(ctx, "booking.TransitionStatus")
	defer span.End()
	span.SetAttributes(attribute.String("booking.appointment_id", appointmentID), attribute.String("booking.to", string(to)))

	if _, err := model.ParseStatus(string(to)); err != nil {
		return model.Appointment{}, reject(KindValidation, "%v", err)
	}

	var updated model.Appointment
	err := s.retryOnce(ctx, func(ctx context.Context, tx storage.Tx) error {
		appt, err := tx.GetAppointmentForUpdate(ctx, strings.TrimSpace(appointmentID))
		if errors.Is(err, storage.ErrNotFound) {
			return &AdmissionError{Kind: KindValidation, Detail: "unknown appointment", Err: err}
		}
		if err != nil {
			return err
		}
		if !appt.Status.CanTransitionTo(to) {
			return reject(KindValidation, "cannot move appointment from %s to %s", appt.Status, to)
		}
		if err := tx.LockDates(ctx, appt.Date); err != nil {
			return err
		}
		at := s.now().UTC()
		if err := tx.UpdateStatus(ctx, appt.ID, to, at); err != nil {
			return err
		}
		prev := appt.Status
		appt.Status, appt.UpdatedAt = to, at
		if err := enqueueAppointmentEvent(ctx, tx, EventAppointmentStatusChanged, appt, prev, at); err != nil {
			return err
		}
		updated = appt
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		s.logger.Info("status transition rejected", "appointment_id", appointmentID, "to", to, "kind", KindOf(err), "err", err)
		return model.Appointment{}, err
	}
	s.metrics.StatusTransition(string(to))
	s.logger.Info("status transition", "appointment_id", updated.ID, "date", model.FormatDate(updated.Date), "to", to)
	return updated, nil
}

type BlockRequest struct {
	UserID    string `json:"user_id,omitempty"`
	Email     string `json:"email,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
	Reason    string `json:"reason"`
}

// BlockIdentity records a block entry and moves every pending or confirmed appointment
// of the identity dated today or later to blocked, all in one transaction. It returns
// the number of appointments affected.
func (s *Service) BlockIdentity(ctx context.Context, req BlockRequest) (int, error) {
	ctx, span := s.tracer.Start(ctx, "booking.BlockIdentity")
	defer span.End()

	id := model.Identity{
		UserID:    strings.TrimSpace(req.UserID),
		Email:     strings.TrimSpace(req.Email),
		IPAddress: strings.TrimSpace(req.IPAddress),
	}
	if !id.HasKey() {
		return 0, reject(KindValidation, "one of user id, email or ip address is required")
	}
	reason := sanitize(req.Reason)

	affected := 0
	err := s.retryOnce(ctx, func(ctx context.Context, tx storage.Tx) error {
		at := s.now().UTC()
		entry := model.BlockEntry{
			ID:        uuid.NewString(),
			UserID:    id.UserID,
			Email:     id.NormalizedEmail(),
			IPAddress: id.IPAddress,
			Reason:    reason,
			CreatedAt: at,
		}
		if err := tx.InsertBlockEntry(ctx, entry); err != nil {
			return err
		}

		appts, err := tx.ListIdentityAppointments(ctx, id, model.DateOf(s.wallNow()))
		if err != nil {
			return err
		}
		dates := make([]time.Time, 0, len(appts))
		for _, a := range appts {
			dates = append(dates, a.Date)
		}
		if err := tx.LockDates(ctx, dates...); err != nil {
			return err
		}
		for _, a := range appts {
			if err := tx.UpdateStatus(ctx, a.ID, model.StatusBlocked, at); err != nil {
				return err
			}
			prev := a.Status
			a.Status, a.UpdatedAt = model.StatusBlocked, at
			if err := enqueueAppointmentEvent(ctx, tx, EventAppointmentStatusChanged, a, prev, at); err != nil {
				return err
			}
		}

		payload, err := json.Marshal(map[string]any{
			"block_entry_id":        entry.ID,
			"user_id":               entry.UserID,
			"email":                 entry.Email,
			"ip_address":            entry.IPAddress,
			"reason":                entry.Reason,
			"appointments_affected": len(appts),
			"occurred_at":           at.Format(time.RFC3339),
		})
		if err != nil {
			return err
		}
		if err := tx.EnqueueEvent(ctx, storage.OutboxEvent{
			AggregateType: "block_entry",
			AggregateID:   entry.ID,
			EventType:     EventIdentityBlocked,
			Payload:       payload,
		}); err != nil {
			return err
		}
		affected = len(appts)
		return nil
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	for i := 0; i < affected; i++ {
		s.metrics.StatusTransition(string(model.StatusBlocked))
	}
	span.SetAttributes(attribute.Int("booking.appointments_affected", affected))
	s.logger.Info("identity blocked", "appointments_affected", affected, "has_user_id", id.UserID != "", "has_email", id.Email != "", "has_ip", id.IPAddress != "")
	return affected, nil
}

// ListAppointments returns every appointment dated within [from, to] for the admin dashboard.
func (s *Service) ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	from, to = model.DateOf(from), model.DateOf(to)
	if to.Before(from) {
		return nil, reject(KindValidation, "to is before from")
	}
	if to.Sub(from) > MaxListDays*24*time.Hour {
		return nil, reject(KindValidation, "range exceeds %d days", MaxListDays)
	}
	appts, err := s.store.ListAppointments(ctx, from, to)
	if err != nil {
		return nil, storageError("list appointments", err)
	}
	return appts, nil
}

// retryOnce runs fn in a transaction and repeats it once after a write conflict.
func (s *Service) retryOnce(ctx context.Context, fn func(ctx context.Context, tx storage.Tx) error) error {
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		err = s.store.WithinTx(ctx, nil, fn)
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
		s.metrics.ConflictRetry()
	}
	if err == nil {
		return nil
	}
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae
	}
	return storageError("transaction", err)
}

func enqueueAppointmentEvent(ctx context.Context, tx storage.Tx, eventType string, a model.Appointment, prev model.Status, at time.Time) error {
	payload, err := json.Marshal(appointmentEvent{
		AppointmentID:   a.ID,
		Date:            model.FormatDate(a.Date),
		Start:           a.Start.String(),
		End:             a.End.String(),
		Status:          string(a.Status),
		PreviousStatus:  string(prev),
		Name:            a.Identity.Name,
		Surname:         a.Identity.Surname,
		Email:           a.Identity.Email,
		Phone:           a.Identity.Phone,
		AppointmentType: a.AppointmentType,
		OccurredAt:      at.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("build %s payload: %w", eventType, err)
	}
	return tx.EnqueueEvent(ctx, storage.OutboxEvent{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     eventType,
		Payload:       payload,
	})
}
