package storage

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict means a concurrent transaction won; the unit of work may be retried.
	ErrConflict = errors.New("write conflict")
)

// OutboxEvent is the domain event envelope written in the same transaction as the state change.
// The broker topic equals EventType.
type OutboxEvent struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

type OutboxRecord struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

// Store is the appointment store. Reads outside WithinTx see committed data only.
type Store interface {
	ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error)
	// GetAvailabilityConfig reports false when no configuration was ever saved.
	GetAvailabilityConfig(ctx context.Context) (model.AvailabilityConfig, bool, error)
	SaveAvailabilityConfig(ctx context.Context, cfg model.AvailabilityConfig) error
	// WithinTx runs fn in one serializable transaction holding the write lock of every date.
	// Write conflicts surface as ErrConflict.
	WithinTx(ctx context.Context, dates []time.Time, fn func(ctx context.Context, tx Tx) error) error
	// DrainOutbox hands up to limit unpublished events to send in id order and marks
	// the ones sent before the first failure as published.
	DrainOutbox(ctx context.Context, limit int, send func(context.Context, OutboxRecord) error) (int, error)
	// RecordInbox reports false when eventID was already recorded.
	RecordInbox(ctx context.Context, eventID, eventType string) (bool, error)
	Ping(ctx context.Context) error
	Close() error
}

type Tx interface {
	ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error)
	// ListIdentityAppointments returns pending/confirmed appointments matching any key of id on or after from.
	ListIdentityAppointments(ctx context.Context, id model.Identity, from time.Time) ([]model.Appointment, error)
	FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error)
	InsertAppointment(ctx context.Context, appt model.Appointment) error
	GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error)
	UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error
	// LockDates takes the per-date write lock, held until the transaction ends.
	LockDates(ctx context.Context, dates ...time.Time) error
	InsertBlockEntry(ctx context.Context, e model.BlockEntry) error
	LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error)
	SaveIdempotencyKey(ctx context.Context, key, appointmentID string) error
	EnqueueEvent(ctx context.Context, evt OutboxEvent) error
}

// lockOrder dedupes dates and sorts them so every writer acquires locks in the same order.
func lockOrder(dates []time.Time) []time.Time {
	seen := make(map[time.Time]struct{}, len(dates))
	out := make([]time.Time, 0, len(dates))
	for _, d := range dates {
		d = model.DateOf(d)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

// dateLockKey maps a civil date to a stable advisory lock key (days since epoch).
func dateLockKey(d time.Time) int64 {
	return model.DateOf(d).Unix() / 86400
}
