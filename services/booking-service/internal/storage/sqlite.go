package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	otelx "github.com/md-rashed-zaman/slotdesk/libs/otel"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage/migrations"
)

const sqliteTimeLayout = time.RFC3339Nano

const sqliteAppointmentColumns = `id, appt_date, start_minute, end_minute, status, user_id, name, surname,
	email, phone, ip_address, appointment_type, created_at, updated_at`

const sqliteIdentityFilter = `((?1 <> '' AND user_id = ?1) OR (?2 <> '' AND lower(email) = ?2) OR (?3 <> '' AND ip_address = ?3))`

// SQLiteStore is the single-node backend. One connection serializes every
// transaction, which makes LockDates a no-op.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the embedded schema.
// Use ":memory:" for a throwaway database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?"
	} else {
		dsn += "&"
	}
	dsn += "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	if path != ":memory:" {
		dsn += "&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	if err := applySQLiteSchema(ctx, sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &SQLiteStore{db: sqlDB, now: time.Now}, nil
}

func applySQLiteSchema(ctx context.Context, sqlDB *sql.DB) error {
	names, err := fs.Glob(migrations.SQLite, "sqlite/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := fs.ReadFile(migrations.SQLite, name)
		if err != nil {
			return err
		}
		if _, err := sqlDB.ExecContext(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *SQLiteStore) ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	return listAppointmentsSQLite(ctx, s.db, from, to)
}

func (s *SQLiteStore) FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error) {
	return findBlockEntriesSQLite(ctx, s.db, id)
}

func (s *SQLiteStore) GetAvailabilityConfig(ctx context.Context) (model.AvailabilityConfig, bool, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT config FROM availability_settings WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AvailabilityConfig{}, false, nil
	}
	if err != nil {
		return model.AvailabilityConfig{}, false, err
	}
	var cfg model.AvailabilityConfig
	if err := json.Unmarshal([]byte(raw), &cfg); err != nil {
		return model.AvailabilityConfig{}, false, fmt.Errorf("decode availability settings: %w", err)
	}
	return cfg, true, nil
}

func (s *SQLiteStore) SaveAvailabilityConfig(ctx context.Context, cfg model.AvailabilityConfig) error {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO availability_settings (id, config, updated_at)
		VALUES (1, ?1, ?2)
		ON CONFLICT (id) DO UPDATE SET config = excluded.config, updated_at = excluded.updated_at
	`, string(raw), s.now().UTC().Format(sqliteTimeLayout))
	return err
}

func (s *SQLiteStore) WithinTx(ctx context.Context, dates []time.Time, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return sqliteError(err)
	}
	defer func() { _ = tx.Rollback() }()

	stx := &sqliteTx{tx: tx, now: s.now}
	if err := stx.LockDates(ctx, dates...); err != nil {
		return err
	}
	if err := fn(ctx, stx); err != nil {
		return err
	}
	return sqliteError(tx.Commit())
}

// DrainOutbox reads the batch and marks it in separate short statements so the single
// connection is never held while send talks to the broker. A crash between the two
// republishes the batch; consumers de-duplicate by event id.
func (s *SQLiteStore) DrainOutbox(ctx context.Context, limit int, send func(context.Context, OutboxRecord) error) (int, error) {
	records, err := s.pendingOutbox(ctx, limit)
	if err != nil {
		return 0, err
	}

	var sent []int64
	var sendErr error
	for _, r := range records {
		if sendErr = send(ctx, r); sendErr != nil {
			break
		}
		sent = append(sent, r.ID)
	}
	if err := s.markPublished(ctx, sent); err != nil {
		return 0, err
	}
	return len(sent), sendErr
}

func (s *SQLiteStore) pendingOutbox(ctx context.Context, limit int) ([]OutboxRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT ?1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rcd OutboxRecord
		var createdAt string
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType,
			&rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &createdAt); err != nil {
			return nil, err
		}
		rcd.CreatedAt = parseSQLiteTime(createdAt)
		records = append(records, rcd)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) markPublished(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stamp := s.now().UTC().Format(sqliteTimeLayout)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `UPDATE outbox_events SET published_at = ?1 WHERE id = ?2`, stamp, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (s *SQLiteStore) RecordInbox(ctx context.Context, eventID, eventType string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO inbox_events (event_id, event_type, received_at)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (event_id) DO NOTHING
	`, eventID, eventType, s.now().UTC().Format(sqliteTimeLayout))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type sqliteTx struct {
	tx  *sql.Tx
	now func() time.Time
}

func (t *sqliteTx) ListAppointments(ctx context.Context, from, to time.Time) ([]model.Appointment, error) {
	appts, err := listAppointmentsSQLite(ctx, t.tx, from, to)
	return appts, sqliteError(err)
}

func (t *sqliteTx) ListIdentityAppointments(ctx context.Context, id model.Identity, from time.Time) ([]model.Appointment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sqliteAppointmentColumns+`
		FROM appointments
		WHERE `+sqliteIdentityFilter+`
			AND status IN ('pending', 'confirmed')
			AND appt_date >= ?4
		ORDER BY appt_date, start_minute
	`, identityArgs(id, model.FormatDate(from))...)
	if err != nil {
		return nil, sqliteError(err)
	}
	appts, err := collectAppointmentsSQLite(rows)
	return appts, sqliteError(err)
}

func (t *sqliteTx) FindBlockEntries(ctx context.Context, id model.Identity) ([]model.BlockEntry, error) {
	entries, err := findBlockEntriesSQLite(ctx, t.tx, id)
	return entries, sqliteError(err)
}

func (t *sqliteTx) InsertAppointment(ctx context.Context, a model.Appointment) error {
	created := a.CreatedAt.UTC().Format(sqliteTimeLayout)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO appointments
			(id, appt_date, start_minute, end_minute, status, user_id, name, surname, email, phone,
			 ip_address, appointment_type, created_at, updated_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?13)
	`, a.ID, model.FormatDate(a.Date), int(a.Start), int(a.End), string(a.Status), a.Identity.UserID,
		a.Identity.Name, a.Identity.Surname, a.Identity.Email, a.Identity.Phone, a.Identity.IPAddress,
		a.AppointmentType, created)
	return sqliteError(err)
}

func (t *sqliteTx) GetAppointmentForUpdate(ctx context.Context, id string) (model.Appointment, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+sqliteAppointmentColumns+`
		FROM appointments
		WHERE id = ?1
	`, id)
	if err != nil {
		return model.Appointment{}, sqliteError(err)
	}
	appts, err := collectAppointmentsSQLite(rows)
	if err != nil {
		return model.Appointment{}, sqliteError(err)
	}
	if len(appts) == 0 {
		return model.Appointment{}, fmt.Errorf("appointment %q: %w", id, ErrNotFound)
	}
	return appts[0], nil
}

func (t *sqliteTx) UpdateStatus(ctx context.Context, id string, status model.Status, at time.Time) error {
	res, err := t.tx.ExecContext(ctx, `
		UPDATE appointments SET status = ?2, updated_at = ?3 WHERE id = ?1
	`, id, string(status), at.UTC().Format(sqliteTimeLayout))
	if err != nil {
		return sqliteError(err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("appointment %q: %w", id, ErrNotFound)
	}
	return nil
}

func (t *sqliteTx) LockDates(context.Context, ...time.Time) error {
	return nil
}

func (t *sqliteTx) InsertBlockEntry(ctx context.Context, e model.BlockEntry) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO block_entries (id, user_id, email, ip_address, reason, created_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6)
	`, e.ID, e.UserID, strings.ToLower(e.Email), e.IPAddress, e.Reason, e.CreatedAt.UTC().Format(sqliteTimeLayout))
	return sqliteError(err)
}

func (t *sqliteTx) LookupIdempotencyKey(ctx context.Context, key string) (string, bool, error) {
	var appointmentID string
	err := t.tx.QueryRowContext(ctx, `
		SELECT appointment_id FROM booking_idempotency_keys WHERE idempotency_key = ?1
	`, key).Scan(&appointmentID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, sqliteError(err)
	}
	return appointmentID, true, nil
}

func (t *sqliteTx) SaveIdempotencyKey(ctx context.Context, key, appointmentID string) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO booking_idempotency_keys (idempotency_key, appointment_id, created_at)
		VALUES (?1, ?2, ?3)
	`, key, appointmentID, t.now().UTC().Format(sqliteTimeLayout))
	return sqliteError(err)
}

func (t *sqliteTx) EnqueueEvent(ctx context.Context, evt OutboxEvent) error {
	tc := otelx.CaptureTraceContext(ctx)
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, tc.Traceparent, tc.Tracestate,
		t.now().UTC().Format(sqliteTimeLayout))
	return sqliteError(err)
}

type sqliteQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func listAppointmentsSQLite(ctx context.Context, q sqliteQuerier, from, to time.Time) ([]model.Appointment, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+sqliteAppointmentColumns+`
		FROM appointments
		WHERE appt_date BETWEEN ?1 AND ?2
		ORDER BY appt_date, start_minute, created_at
	`, model.FormatDate(from), model.FormatDate(to))
	if err != nil {
		return nil, err
	}
	return collectAppointmentsSQLite(rows)
}

func findBlockEntriesSQLite(ctx context.Context, q sqliteQuerier, id model.Identity) ([]model.BlockEntry, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT id, user_id, email, ip_address, reason, created_at
		FROM block_entries
		WHERE `+sqliteIdentityFilter+`
		ORDER BY created_at
	`, identityArgs(id)...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.BlockEntry
	for rows.Next() {
		var e model.BlockEntry
		var createdAt string
		if err := rows.Scan(&e.ID, &e.UserID, &e.Email, &e.IPAddress, &e.Reason, &createdAt); err != nil {
			return nil, err
		}
		e.CreatedAt = parseSQLiteTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func collectAppointmentsSQLite(rows *sql.Rows) ([]model.Appointment, error) {
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		var a model.Appointment
		var date, status, createdAt, updatedAt string
		var start, end int
		if err := rows.Scan(
			&a.ID,
			&date,
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
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, err
		}
		d, err := model.ParseDate(date)
		if err != nil {
			return nil, err
		}
		a.Date = d
		a.Start, a.End = model.Clock(start), model.Clock(end)
		a.Status = model.Status(status)
		a.CreatedAt = parseSQLiteTime(createdAt)
		a.UpdatedAt = parseSQLiteTime(updatedAt)
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func parseSQLiteTime(raw string) time.Time {
	t, err := time.Parse(sqliteTimeLayout, raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

// sqliteError maps busy and uniqueness failures to ErrConflict.
func sqliteError(err error) error {
	if err == nil {
		return nil
	}
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return err
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", ErrConflict, err)
	}
	return err
}
