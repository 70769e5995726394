package booking

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/md-rashed-zaman/slotdesk/libs/metrics"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/blocklist"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/policy"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

const (
	EventAppointmentRequested     = "booking.appointment.requested.v1"
	EventAppointmentStatusChanged = "booking.appointment.status_changed.v1"
	EventIdentityBlocked          = "booking.identity.blocked.v1"

	// MaxListDays bounds admin listings.
	MaxListDays = 366
)

type Options struct {
	// Location is the business timezone used to read "now". Defaults to UTC.
	Location *time.Location
	Now      func() time.Time
	Metrics  metrics.Recorder
}

type Service struct {
	store     storage.Store
	settings  settings.Provider
	blocklist blocklist.Oracle
	logger    *slog.Logger
	loc       *time.Location
	now       func() time.Time
	metrics   metrics.Recorder
	tracer    trace.Tracer
}

func NewService(store storage.Store, provider settings.Provider, oracle blocklist.Oracle, logger *slog.Logger, opts Options) *Service {
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:     store,
		settings:  provider,
		blocklist: oracle,
		logger:    logger,
		loc:       opts.Location,
		now:       opts.Now,
		metrics:   opts.Metrics,
		tracer:    otel.Tracer("slotdesk/booking"),
	}
}

// wallNow is the naive business-local reading of the clock.
func (s *Service) wallNow() time.Time {
	return model.WallClock(s.now(), s.loc)
}

// config loads the settings with the lock bound expressed in business wall-clock time.
func (s *Service) config(ctx context.Context) (model.AvailabilityConfig, error) {
	cfg, err := s.settings.Get(ctx)
	if err != nil {
		return model.AvailabilityConfig{}, storageError("load settings", err)
	}
	return cfg.InLocation(s.loc), nil
}

type AvailabilityQuery struct {
	From time.Time
	To   time.Time
	// DurationMinutes defaults to the configured slot granularity when zero.
	DurationMinutes int
	// Identity is optional; a blocked identity sees every open slot as locked.
	Identity model.Identity
}

// ComputeAvailability renders the classification of every slot in the range from a
// committed snapshot. It takes no locks.
func (s *Service) ComputeAvailability(ctx context.Context, q AvailabilityQuery) ([]availability.Day, error) {
	started := time.Now()
	ctx, span := s.tracer.Start(ctx, "booking.ComputeAvailability")
	defer span.End()

	cfg, err := s.config(ctx)
	if err != nil {
		return nil, err
	}
	appts, err := s.store.ListAppointments(ctx, q.From, q.To)
	if err != nil {
		return nil, storageError("list appointments", err)
	}
	if q.DurationMinutes == 0 {
		q.DurationMinutes = cfg.Granularity()
	}
	hit := false
	if q.Identity.HasKey() {
		if hit, err = s.blocklist.IsBlocked(ctx, q.Identity); err != nil {
			return nil, storageError("blocklist lookup", err)
		}
	}

	days, err := availability.Compute(availability.Input{
		From:            q.From,
		To:              q.To,
		DurationMinutes: q.DurationMinutes,
		Config:          cfg,
		Appointments:    appts,
		BlocklistHit:    hit,
		Now:             s.wallNow(),
	})
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, &AdmissionError{Kind: KindValidation, Err: err}
	}
	s.metrics.AvailabilityComputed(time.Since(started))
	return days, nil
}

type Admission struct {
	AppointmentID string
	Status        model.Status
	// Replayed is set when an earlier submission with the same idempotency key was returned.
	Replayed bool
}

type appointmentEvent struct {
	AppointmentID   string `json:"appointment_id"`
	Date            string `json:"date"`
	Start           string `json:"start"`
	End             string `json:"end"`
	Status          string `json:"status"`
	PreviousStatus  string `json:"previous_status,omitempty"`
	Name            string `json:"name"`
	Surname         string `json:"surname"`
	Email           string `json:"email"`
	Phone           string `json:"phone,omitempty"`
	AppointmentType string `json:"appointment_type,omitempty"`
	OccurredAt      string `json:"occurred_at"`
}

// SubmitBooking admits a pending appointment. The checks run in this order and the first
// failure wins: validation, window, lock, blocklist, limits, slot availability. All checks
// after validation run inside one transaction that holds the date's write lock, and a
// write conflict is retried once before reporting the slot as unavailable.
func (s *Service) SubmitBooking(ctx context.Context, req Request) (Admission, error) {
	ctx, span := s.tracer.Start(ctx, "booking.SubmitBooking")
	defer span.End()

	res, err := s.submit(ctx, req)
	kind := "admitted"
	if err != nil {
		kind = string(KindOf(err))
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("booking.outcome", kind), attribute.String("booking.date", req.Date))
	s.metrics.AdmissionOutcome(kind)

	switch {
	case err == nil:
		s.logger.Info("booking admitted", "appointment_id", res.AppointmentID, "date", req.Date, "start", req.Start, "kind", kind, "replayed", res.Replayed)
	case KindOf(err) == KindStorage:
		s.logger.Error("booking failed", "date", req.Date, "start", req.Start, "kind", kind, "err", err)
	default:
		s.logger.Info("booking rejected", "date", req.Date, "start", req.Start, "kind", kind, "reason", err.Error())
	}
	return res, err
}

func (s *Service) submit(ctx context.Context, req Request) (Admission, error) {
	cfg, err := s.config(ctx)
	if err != nil {
		return Admission{}, err
	}
	p, err := req.parse(cfg)
	if err != nil {
		return Admission{}, err
	}

	var res Admission
	for attempt := 0; ; attempt++ {
		err = s.store.WithinTx(ctx, []time.Time{p.date}, func(ctx context.Context, tx storage.Tx) error {
			var err error
			res, err = s.admit(ctx, tx, cfg, p)
			return err
		})
		if !errors.Is(err, storage.ErrConflict) {
			break
		}
		if attempt == 1 {
			return Admission{}, &AdmissionError{Kind: KindSlotUnavailable, Detail: "slot was taken concurrently", Err: err}
		}
		s.metrics.ConflictRetry()
		s.logger.Debug("booking write conflict, retrying", "date", req.Date, "start", req.Start)
	}
	if err != nil {
		var ae *AdmissionError
		if errors.As(err, &ae) {
			return Admission{}, ae
		}
		return Admission{}, storageError("commit booking", err)
	}
	return res, nil
}

// admit runs inside the write transaction.
func (s *Service) admit(ctx context.Context, tx storage.Tx, cfg model.AvailabilityConfig, p parsedRequest) (Admission, error) {
	if p.idemKey != "" {
		id, found, err := tx.LookupIdempotencyKey(ctx, p.idemKey)
		if err != nil {
			return Admission{}, err
		}
		if found {
			return Admission{AppointmentID: id, Status: model.StatusPending, Replayed: true}, nil
		}
	}

	now := s.wallNow()
	startAt := model.At(p.date, p.start)
	switch {
	case startAt.Before(now):
		return Admission{}, reject(KindOutOfWindow, "%s %s is in the past", model.FormatDate(p.date), p.start)
	case cfg.BeyondHorizon(p.date, model.DateOf(now)):
		return Admission{}, reject(KindOutOfWindow, "%s is beyond the %d-week booking horizon", model.FormatDate(p.date), cfg.DisplayHorizonWeeks)
	case cfg.LockedAt(startAt):
		return Admission{}, reject(KindLocked, "availability is locked")
	}

	entries, err := tx.FindBlockEntries(ctx, p.identity)
	if err != nil {
		return Admission{}, err
	}
	if _, blocked := policy.IsBlocked(p.identity, entries); blocked {
		return Admission{}, reject(KindBlocked, "identity is blocked")
	}

	monday, sunday := model.ISOWeekBounds(p.date)
	week, err := tx.ListAppointments(ctx, monday, sunday)
	if err != nil {
		return Admission{}, err
	}
	if v := policy.CheckLimits(p.identity, p.date, week, cfg); v != nil {
		return Admission{}, reject(KindLimitExceeded, "%s", v)
	}

	class, offered, err := availability.Classify(availability.Input{
		From:            p.date,
		To:              p.date,
		DurationMinutes: p.duration,
		Config:          cfg,
		Appointments:    week,
		Now:             now,
	}, p.date, p.start)
	if err != nil {
		return Admission{}, reject(KindValidation, "%v", err)
	}
	if !offered || class != availability.ClassAvailable {
		return Admission{}, reject(KindSlotUnavailable, "%s %s-%s is not available", model.FormatDate(p.date), p.start, p.end)
	}

	created := s.now().UTC()
	appt := model.Appointment{
		ID:              uuid.NewString(),
		Date:            p.date,
		Start:           p.start,
		End:             p.end,
		Status:          model.StatusPending,
		Identity:        p.identity,
		AppointmentType: p.apptType,
		CreatedAt:       created,
		UpdatedAt:       created,
	}
	if err := tx.InsertAppointment(ctx, appt); err != nil {
		return Admission{}, err
	}
	if p.idemKey != "" {
		if err := tx.SaveIdempotencyKey(ctx, p.idemKey, appt.ID); err != nil {
			return Admission{}, err
		}
	}
	if err := enqueueAppointmentEvent(ctx, tx, EventAppointmentRequested, appt, "", created); err != nil {
		return Admission{}, err
	}
	return Admission{AppointmentID: appt.ID, Status: appt.Status}, nil
}
