package storage

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotdesk/libs/db"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage/migrations"
)

// Postgres tests need a disposable database: TEST_DATABASE_URL=postgres://... go test ./...
func newPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	require.NoError(t, db.Migrate(url, migrations.Postgres, "postgres"))

	pool, err := db.Open(t.Context(), url, db.Options{})
	require.NoError(t, err)
	_, err = pool.Exec(t.Context(), `TRUNCATE appointments, block_entries, availability_settings,
		booking_idempotency_keys, outbox_events, inbox_events`)
	require.NoError(t, err)

	s := NewPostgresStore(pool)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestPostgres_ExclusionConstraint(t *testing.T) {
	s := newPostgresStore(t)
	insert(t, s, newAppointment(day, model.ClockAt(9, 0), model.ClockAt(10, 0), model.Identity{Email: "a@x.io", IPAddress: "1"}))

	err := s.WithinTx(t.Context(), []time.Time{day}, func(ctx context.Context, tx Tx) error {
		return tx.InsertAppointment(ctx, newAppointment(day, model.ClockAt(9, 30), model.ClockAt(10, 0), model.Identity{Email: "b@x.io", IPAddress: "2"}))
	})
	require.ErrorIs(t, err, ErrConflict)

	cancelled := newAppointment(day, model.ClockAt(10, 0), model.ClockAt(10, 30), model.Identity{Email: "c@x.io", IPAddress: "3"})
	cancelled.Status = model.StatusCancelled
	insert(t, s, cancelled, newAppointment(day, model.ClockAt(10, 0), model.ClockAt(10, 30), model.Identity{Email: "d@x.io", IPAddress: "4"}))
}

func TestPostgres_AdvisoryLockSerializesDate(t *testing.T) {
	s := newPostgresStore(t)

	var wg sync.WaitGroup
	results := make([]error, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = s.WithinTx(t.Context(), []time.Time{day}, func(ctx context.Context, tx Tx) error {
				existing, err := tx.ListAppointments(ctx, day, day)
				if err != nil {
					return err
				}
				for _, a := range existing {
					if a.Status.Occupies() && a.Overlaps(day, model.ClockAt(9, 0), model.ClockAt(9, 30)) {
						return ErrConflict
					}
				}
				return tx.InsertAppointment(ctx, newAppointment(day, model.ClockAt(9, 0), model.ClockAt(9, 30), model.Identity{Email: "r@x.io", IPAddress: "5"}))
			})
		}()
	}
	wg.Wait()

	ok := 0
	for _, err := range results {
		if err == nil {
			ok++
		} else {
			assert.ErrorIs(t, err, ErrConflict)
		}
	}
	assert.Equal(t, 1, ok)
}
