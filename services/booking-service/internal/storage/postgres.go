package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/slotdesk/libs/db"
	otelx "github.com/md-rashed-zaman/slotdesk/libs/otel"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

const appointmentColumns = `id::text, appt_date, start_minute, end_minute, status, user_id, name, surname,
	email, phone, ip_address, appointment_type, created_at, updated_at`

// identityFilter matches rows sharing any non-empty key with the identity bound to $1..$3.
const identityFilter = `(($1 <> '' AND user_id = $1) OR ($2 <> '' AND lower(email) = $2) OR ($3 <> '' AND ip_address = $3))`

// querier is the subset of pgxpool.Pool and pgx.Tx the queries need.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *db.Pool
}

func NewPostgresStore(pool *db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return listAppointmentsPG(ctx, s.pool, from, to)
}

func (s *PostgresStore) FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error) {
	return findBlockEntriesPG(ctx, s.pool, id)
}

func (s *PostgresStore) GetAvailabilityConfig(ctx context.Context) (model.AvailabilityConfig, bool, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT config FROM availability_settings WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AvailabilityConfig{}, false, nil
	}
	if err != nil {
		return model.AvailabilityConfig{}, false, err
	}
	var cfg model.AvailabilityConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return model.AvailabilityConfig{}, false, fmt.Errorf("decode availability settings: %w", err)
	}
	return cfg, true, nil
}

func (s *PostgresStore) SaveAvailabilityConfig(ctx context.Context, cfg model.AvailabilityConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO availability_settings (id, config, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET config = EXCLUDED.config, updated_at = now()
	`, raw)
	return err
}

func (s *PostgresStore) WithinTx(ctx context.Context, dates []time.Time, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.pool.BeginSerializable(ctx)
	if err != nil {
		return pgError(err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ptx := &postgresTx{tx: tx}
	if err := ptx.LockDates(ctx, dates...); err != nil {
		return err
	}
	if err := fn(ctx, ptx); err != nil {
		return err
	}
	return pgError(tx.Commit(ctx))
}

func (s *PostgresStore) DrainOutbox(ctx context.Context, limit int, send func(context.Context, OutboxRecord) error) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, err
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (OutboxRecord, error) {
		var rcd OutboxRecord
		err := row.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType,
			&rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt)
		return rcd, err
	})
	if err != nil {
		return 0, err
	}

	var ids []int64
	var sendErr error
	for _, r := range records {
		if sendErr = send(ctx, r); sendErr != nil {
			break
		}
		ids = append(ids, r.ID)
	}
	if len(ids) > 0 {
		if _, err := tx.Exec(ctx, `UPDATE outbox_events SET published_at = now() WHERE id = ANY($1)`, ids); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return len(ids), sendErr
}

func (s *PostgresStore) RecordInbox(ctx context.Context, eventID, eventType string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO inbox_events (event_id, event_type)
		VALUES ($1, $2)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return db.ReadyCheck(s.pool)(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	appts, err := listAppointmentsPG(ctx, t.tx, from, to)
	return appts, pgError(err)
}

func (t *postgresTx) ListIdentityAppointments(ctx context.Context, id model.Identity, from time.Time) ([]model.Appointment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE `+identityFilter+`
			AND status IN ('pending', 'confirmed')
			AND appt_date >= $4
		ORDER BY appt_date, start_minute
		FOR UPDATE
	`, identityArgs(id, model.DateOf(from))...)
	if err != nil {
		return nil, pgError(err)
	}
	appts, err := pgx.CollectRows(rows, scanAppointmentPG)
	return appts, pgError(err)
}

func (t *postgresTx) FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error) {
	entries, err := findBlockEntriesPG(ctx, t.tx, id)
	return entries, pgError(err)
}

func (t *postgresTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO appointments
			(id, appt_date, start_minute, end_minute, status, user_id, name, surname, email, phone,
			 ip_address, appointment_type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
	`, a.ID, model.DateOf(a.Date), int(a.Start), int(a.End), string(a.Status), a.Identity.UserID,
		a.Identity.Name, a.Identity.Surname, a.Identity.Email, a.Identity.Phone, a.Identity.IPAddress,
		a.AppointmentType, a.CreatedAt)
	return pgError(err)
}

func (t *postgresTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	if _, err := uuid.Parse(id); err != nil {
		return model.Appointment{}, fmt.Errorf("appointment %q: %w", id, ErrNotFound)
	}
	rows, err := t.tx.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
		FOR UPDATE
	`, id)
	if err != nil {
		return model.Appointment{}, pgError(err)
	}
	appt, err := pgx.CollectExactlyOneRow(rows, scanAppointmentPG)
	if err != nil {
		return model.Appointment{}, fmt.Errorf("appointment %q: %w", id, pgError(err))
	}
	return appt, nil
}

func (t *postgresTx) UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE appointments
		SET status = $2, updated_at = $3
		WHERE id = $1
	`, id, string(status), at)
	if err != nil {
		return pgError(err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("appointment %q: %w", id, ErrNotFound)
	}
	return nil
}

func (t *postgresTx) LockDates(ctx context.Context, dates ...time.Time) error {
	for _, d := range lockOrder(dates) {
		if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, dateLockKey(d)); err != nil {
			return pgError(err)
		}
	}
	return nil
}

func (t *postgresTx) InsertBlockEntry(ctx context.Context, e model.BlockEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO block_entries (id, user_id, email, ip_address, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, e.ID, e.UserID, strings.ToLower(e.Email), e.IPAddress, e.Reason, e.CreatedAt)
	return pgError(err)
}

func (t *postgresTx) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	var appointmentID string
	err := t.tx.QueryRow(ctx, `
		SELECT appointment_id::text FROM booking_idempotency_keys WHERE idempotency_key = $1
	`, key).Scan(&appointmentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, pgError(err)
	}
	return appointmentID, true, nil
}

func (t *postgresTx) SaveIdempotencyKey(ctx context.Context, key, appointmentID string) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key, appointment_id)
		VALUES ($1, $2)
	`, key, appointmentID)
	return pgError(err)
}

func (t *postgresTx) EnqueueEvent(ctx context.Context, evt OutboxEvent) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Traceparent, tc.Tracestate)
	return pgError(err)
}

func listAppointmentsPG(ctx context.Context, q querier, from, to time.Time) ([]model.Appointment, error) {
	rows, err := q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE appt_date BETWEEN $1 AND $2
		ORDER BY appt_date, start_minute, created_at
	`, model.DateOf(from), model.DateOf(to))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, scanAppointmentPG)
}

func findBlockEntriesPG(ctx context.Context, q querier, id model.Identity) ([]model.BlockEntry, error) {
	rows, err := q.Query(ctx, `
		SELECT id::text, user_id, email, ip_address, reason, created_at
		FROM block_entries
		WHERE `+identityFilter+`
		ORDER BY created_at
	`, identityArgs(id)...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.BlockEntry, error) {
		var e model.BlockEntry
		err := row.Scan(&e.ID, &e.UserID, &e.Email, &e.IPAddress, &e.Reason, &e.CreatedAt)
		return e, err
	})
}

func scanAppointmentPG(row pgx.CollectableRow) (model.Appointment, error) {
	var a model.Appointment
	var start, end int16
	var status string
	err := row.Scan(
		&a.ID,
		&a.Date,
		&start,
		&end,
		&status,
		&a.Identity.UserID,
		&a.Identity.Name,
		&a.Identity.Surname,
		&a.Identity.Email,
		&a.Identity.Phone,
		&a.Identity.IPAddress,
		&a.AppointmentType,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	a.Date = model.DateOf(a.Date)
	a.Start, a.End = model.Clock(start), model.Clock(end)
	a.Status = model.Status(status)
	return a, nil
}

func identityArgs(id model.Identity, extra ...any) []any {
	args := []any{strings.TrimSpace(id.UserID), id.NormalizedEmail(), strings.TrimSpace(id.IPAddress)}
	return append(args, extra...)
}

// pgError maps driver errors onto the store's sentinel errors.
func pgError(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsNotFound(err):
		return ErrNotFound
	case db.IsWriteConflict(err):
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
