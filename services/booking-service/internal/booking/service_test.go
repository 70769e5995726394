package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/blocklist"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/storage"
)

// Monday 2026-03-02 08:00; Wednesday is 2026-03-04.
var (
	testNow   = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	wednesday = time.Date(2026, 3, 4, 0, 0, 0, 0, time.UTC)
)

type fixture struct {
	svc   *Service
	store *storage.SQLiteStore
}

func newFixture(t *testing.T, mutate func(*model.AvailabilityConfig)) *fixture {
	t.Helper()
	store, err := storage.OpenSQLite(t.Context(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := model.DefaultAvailabilityConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, store.SaveAvailabilityConfig(t.Context(), cfg))

	svc := NewService(
		store,
		settings.NewStoreProvider(store, model.DefaultAvailabilityConfig()),
		blocklist.NewStoreOracle(store),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
		Options{Now: func() time.Time { return testNow }},
	)
	return &fixture{svc: svc, store: store}
}

func ident(n int) model.Identity {
	return model.Identity{
		Name:      "Ada",
		Surname:   "Lovelace",
		Email:     fmt.Sprintf("user%d@example.com", n),
		IPAddress: fmt.Sprintf("10.0.0.%d", n),
	}
}

func request(date, start string, duration int, id model.Identity) Request {
	return Request{Date: date, Start: start, DurationMinutes: duration, Identity: id}
}

func (f *fixture) appointments(t *testing.T, from, to time.Time) []model.Appointment {
	t.Helper()
	appts, err := f.store.ListAppointments(t.Context(), from, to)
	require.NoError(t, err)
	return appts
}

func (f *fixture) eventTypes(t *testing.T) []string {
	t.Helper()
	var types []string
	_, err := f.store.DrainOutbox(t.Context(), 100, func(_ context.Context, r storage.OutboxRecord) error {
		types = append(types, r.EventType)
		return nil
	})
	require.NoError(t, err)
	return types
}

func TestSubmitBooking_Admits(t *testing.T) {
	f := newFixture(t, nil)
	id := ident(1)
	id.Name = "<b>Ada</b>"
	id.Surname = "O'Brien"

	res, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 60, id))
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, res.Status)
	assert.NotEmpty(t, res.AppointmentID)

	appts := f.appointments(t, wednesday, wednesday)
	require.Len(t, appts, 1)
	assert.Equal(t, res.AppointmentID, appts[0].ID)
	assert.Equal(t, model.ClockAt(10, 0), appts[0].End)
	assert.Equal(t, "Ada", appts[0].Identity.Name)
	assert.Equal(t, "O'Brien", appts[0].Identity.Surname)
	assert.Equal(t, []string{EventAppointmentRequested}, f.eventTypes(t))
}

func TestSubmitBooking_Validation(t *testing.T) {
	f := newFixture(t, nil)
	cases := map[string]Request{
		"bad date":      request("2026-3-4", "09:00", 30, ident(1)),
		"bad time":      request("2026-03-04", "9am", 30, ident(1)),
		"misaligned":    request("2026-03-04", "09:15", 30, ident(1)),
		"bad duration":  request("2026-03-04", "09:00", 45, ident(1)),
		"missing email": request("2026-03-04", "09:00", 30, model.Identity{Name: "a", Surname: "b", IPAddress: "10.0.0.1"}),
		"invalid email": request("2026-03-04", "09:00", 30, model.Identity{Name: "a", Surname: "b", Email: "nope", IPAddress: "10.0.0.1"}),
		"missing ip":    request("2026-03-04", "09:00", 30, model.Identity{Name: "a", Surname: "b", Email: "a@b.io"}),
		"markup name":   request("2026-03-04", "09:00", 30, model.Identity{Name: "<script>x</script>", Surname: "b", Email: "a@b.io", IPAddress: "10.0.0.1"}),
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.SubmitBooking(t.Context(), req)
			require.ErrorIs(t, err, ErrValidation)
			assert.False(t, KindOf(err).Retryable())
		})
	}
	assert.Empty(t, f.appointments(t, wednesday, wednesday))
}

func TestSubmitBooking_HalfHourDisabled(t *testing.T) {
	f := newFixture(t, func(c *model.AvailabilityConfig) { c.AllowHalfHourSlots = false })
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:30", 60, ident(1)))
	require.ErrorIs(t, err, ErrValidation)
	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "10:00", 60, ident(1)))
	require.NoError(t, err)
}

func TestSubmitBooking_OutOfWindow(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-02-27", "09:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrOutOfWindow, "past")

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-31", "09:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrOutOfWindow, "beyond four weeks")

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-30", "09:00", 30, ident(1)))
	require.NoError(t, err, "last day of the horizon")
}

func TestSubmitBooking_NotOffered(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-07", "10:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrSlotUnavailable, "saturday")

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "17:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrSlotUnavailable, "at closing time")

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "16:30", 60, ident(1)))
	require.ErrorIs(t, err, ErrSlotUnavailable, "runs past closing time")
}

func TestSubmitBooking_NoOverlap(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "10:00", 60, ident(1)))
	require.NoError(t, err)

	for _, start := range []string{"10:00", "10:30"} {
		_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", start, 30, ident(2)))
		require.ErrorIs(t, err, ErrSlotUnavailable, start)
	}
	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:30", 60, ident(3)))
	require.ErrorIs(t, err, ErrSlotUnavailable, "second granule overlaps")

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "11:00", 30, ident(4)))
	require.NoError(t, err, "adjacent half-open interval")
	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:30", 30, ident(5)))
	require.NoError(t, err)

	appts := f.appointments(t, wednesday, wednesday)
	for i := range appts {
		for j := i + 1; j < len(appts); j++ {
			assert.False(t, appts[i].Overlaps(appts[j].Date, appts[j].Start, appts[j].End), "%s overlaps %s", appts[i], appts[j])
		}
	}
}

func TestSubmitBooking_MultiGranule(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:30", 30, ident(1)))
	require.NoError(t, err)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 60, ident(2)))
	require.ErrorIs(t, err, ErrSlotUnavailable)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, ident(2)))
	require.NoError(t, err, "the first granule alone is free")
}

func TestSubmitBooking_RaceSafety(t *testing.T) {
	f := newFixture(t, nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = f.svc.SubmitBooking(context.Background(), request("2026-03-04", "14:00", 30, ident(i+1)))
		}()
	}
	wg.Wait()

	admitted := 0
	for _, err := range errs {
		if err == nil {
			admitted++
			continue
		}
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	}
	assert.Equal(t, 1, admitted)
	assert.Len(t, f.appointments(t, wednesday, wednesday), 1)
}

func TestSubmitBooking_LockBoundary(t *testing.T) {
	until := time.Date(2026, 3, 4, 12, 0, 0, 0, time.UTC)
	f := newFixture(t, func(c *model.AvailabilityConfig) { c.AvailabilityLockedUntil = &until })

	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "11:30", 30, ident(1)))
	require.ErrorIs(t, err, ErrLocked)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "12:00", 30, ident(1)))
	require.NoError(t, err)
}

func TestSubmitBooking_LockBoundaryInBusinessTimezone(t *testing.T) {
	berlin, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)

	for _, raw := range []string{"2026-03-04T12:00", "2026-03-04T12:00:00+01:00", "2026-03-04T11:00:00Z"} {
		t.Run(raw, func(t *testing.T) {
			store, err := storage.OpenSQLite(t.Context(), ":memory:")
			require.NoError(t, err)
			t.Cleanup(func() { _ = store.Close() })

			var cfg model.AvailabilityConfig
			require.NoError(t, json.Unmarshal([]byte(`{"start_hour":9,"end_hour":17,"allow_half_hour_slots":true,"availability_locked_until":"`+raw+`"}`), &cfg))
			provider := settings.NewStoreProvider(store, model.DefaultAvailabilityConfig())
			require.NoError(t, provider.Save(t.Context(), cfg))

			svc := NewService(store, provider, blocklist.NewStoreOracle(store), slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
				Location: berlin,
				Now:      func() time.Time { return testNow },
			})

			_, err = svc.SubmitBooking(t.Context(), request("2026-03-04", "11:30", 30, ident(1)))
			require.ErrorIs(t, err, ErrLocked)

			days, err := svc.ComputeAvailability(t.Context(), AvailabilityQuery{From: wednesday, To: wednesday, DurationMinutes: 30})
			require.NoError(t, err)
			classes := map[string]availability.Class{}
			for _, slot := range days[0].Slots {
				classes[slot.Start.String()] = slot.Class
			}
			assert.Equal(t, availability.ClassLocked, classes["11:30"])
			assert.Equal(t, availability.ClassAvailable, classes["12:00"])

			_, err = svc.SubmitBooking(t.Context(), request("2026-03-04", "12:00", 30, ident(1)))
			require.NoError(t, err)
		})
	}
}

func TestSubmitBooking_GlobalLock(t *testing.T) {
	f := newFixture(t, func(c *model.AvailabilityConfig) { c.AvailabilityLocked = true })
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "12:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrLocked)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-02-27", "12:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrOutOfWindow, "window outranks lock")
}

func TestSubmitBooking_DailyLimit(t *testing.T) {
	f := newFixture(t, nil)
	id := ident(1)
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, id))
	require.NoError(t, err)

	sameEmail := ident(2)
	sameEmail.Email = "USER1@example.com"
	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "10:00", 30, sameEmail))
	require.ErrorIs(t, err, ErrLimitExceeded)

	sameIP := ident(3)
	sameIP.IPAddress = id.IPAddress
	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "11:00", 30, sameIP))
	require.ErrorIs(t, err, ErrLimitExceeded)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-05", "09:00", 30, id))
	require.NoError(t, err, "next day")
}

func TestSubmitBooking_WeeklyLimit(t *testing.T) {
	f := newFixture(t, func(c *model.AvailabilityConfig) {
		c.MaxAppointmentsPerDayPerIdentity = 0
		c.MaxAppointmentsPerWeekPerIdentity = 2
	})
	id := ident(1)
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-03", "09:00", 30, id))
	require.NoError(t, err)
	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-03", "10:00", 30, id))
	require.NoError(t, err)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-06", "09:00", 30, id))
	require.ErrorIs(t, err, ErrLimitExceeded)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-09", "09:00", 30, id))
	require.NoError(t, err, "next ISO week")
}

func TestSubmitBooking_ConflictRetriedOnce(t *testing.T) {
	f := newFixture(t, nil)
	cs := &conflictingStore{Store: f.store}
	svc := NewService(cs, settings.NewStoreProvider(f.store, model.DefaultAvailabilityConfig()), blocklist.NewStoreOracle(f.store), nil, Options{Now: func() time.Time { return testNow }})

	_, err := svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrSlotUnavailable)
	require.ErrorIs(t, err, storage.ErrConflict)
	assert.Equal(t, 2, cs.calls)
}

type conflictingStore struct {
	storage.Store
	calls int
}

func (c *conflictingStore) WithinTx(context.Context, []time.Time, func(context.Context, storage.Tx) error) error {
	c.calls++
	return fmt.Errorf("%w: simulated serialization failure", storage.ErrConflict)
}

func TestSubmitBooking_Idempotent(t *testing.T) {
	f := newFixture(t, nil)
	req := request("2026-03-04", "09:00", 30, ident(1))
	req.IdempotencyKey = "req-42"

	first, err := f.svc.SubmitBooking(t.Context(), req)
	require.NoError(t, err)
	second, err := f.svc.SubmitBooking(t.Context(), req)
	require.NoError(t, err)

	assert.Equal(t, first.AppointmentID, second.AppointmentID)
	assert.False(t, first.Replayed)
	assert.True(t, second.Replayed)
	assert.Len(t, f.appointments(t, wednesday, wednesday), 1)
}

func TestBlockIdentity_Bulk(t *testing.T) {
	f := newFixture(t, nil)
	id := ident(1)
	for _, date := range []string{"2026-03-03", "2026-03-04", "2026-03-05"} {
		_, err := f.svc.SubmitBooking(t.Context(), request(date, "09:00", 30, id))
		require.NoError(t, err)
	}
	other, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "10:00", 30, ident(2)))
	require.NoError(t, err)

	past := model.Appointment{
		ID: "00000000-0000-0000-0000-000000000001", Date: time.Date(2026, 2, 27, 0, 0, 0, 0, time.UTC),
		Start: model.ClockAt(9, 0), End: model.ClockAt(9, 30), Status: model.StatusConfirmed, Identity: id, CreatedAt: testNow,
	}
	require.NoError(t, f.store.WithinTx(t.Context(), nil, func(ctx context.Context, tx storage.Tx) error {
		return tx.InsertAppointment(ctx, past)
	}))
	f.eventTypes(t)

	affected, err := f.svc.BlockIdentity(t.Context(), BlockRequest{Email: "USER1@example.com", Reason: "no-shows"})
	require.NoError(t, err)
	assert.Equal(t, 3, affected)

	for _, a := range f.appointments(t, past.Date, wednesday.AddDate(0, 0, 7)) {
		switch {
		case a.ID == other.AppointmentID:
			assert.Equal(t, model.StatusPending, a.Status)
		case a.ID == past.ID:
			assert.Equal(t, model.StatusConfirmed, a.Status, "past appointments are left alone")
		default:
			assert.Equal(t, model.StatusBlocked, a.Status)
		}
	}

	types := f.eventTypes(t)
	assert.Len(t, types, 4)
	assert.Contains(t, types, EventIdentityBlocked)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-06", "09:00", 30, id))
	require.ErrorIs(t, err, ErrBlocked)

	days, err := f.svc.ComputeAvailability(t.Context(), AvailabilityQuery{From: wednesday, To: wednesday, DurationMinutes: 30, Identity: model.Identity{Email: "user1@example.com"}})
	require.NoError(t, err)
	assert.Empty(t, availability.Available(days))
}

func TestBlockIdentity_RequiresKey(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.BlockIdentity(t.Context(), BlockRequest{Reason: "spam"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestSubmitBooking_LockedOutranksBlocked(t *testing.T) {
	f := newFixture(t, func(c *model.AvailabilityConfig) { c.AvailabilityLocked = true })
	_, err := f.svc.BlockIdentity(t.Context(), BlockRequest{IPAddress: "10.0.0.1"})
	require.NoError(t, err)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, ident(1)))
	require.ErrorIs(t, err, ErrLocked)
}

func TestTransitionStatus(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, ident(1)))
	require.NoError(t, err)

	appt, err := f.svc.TransitionStatus(t.Context(), res.AppointmentID, model.StatusConfirmed)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfirmed, appt.Status)

	_, err = f.svc.TransitionStatus(t.Context(), res.AppointmentID, model.StatusPending)
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.TransitionStatus(t.Context(), res.AppointmentID, model.StatusCancelled)
	require.NoError(t, err)

	_, err = f.svc.TransitionStatus(t.Context(), res.AppointmentID, model.StatusBlocked)
	require.ErrorIs(t, err, ErrValidation, "cancelled is terminal")

	_, err = f.svc.TransitionStatus(t.Context(), "00000000-0000-0000-0000-00000000ffff", model.StatusConfirmed)
	require.ErrorIs(t, err, ErrValidation)
	require.ErrorIs(t, err, storage.ErrNotFound)

	_, err = f.svc.TransitionStatus(t.Context(), res.AppointmentID, model.Status("archived"))
	require.ErrorIs(t, err, ErrValidation)

	_, err = f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, ident(2)))
	require.NoError(t, err, "a cancelled appointment frees its slot")

	types := f.eventTypes(t)
	assert.Equal(t, []string{
		EventAppointmentRequested,
		EventAppointmentStatusChanged,
		EventAppointmentStatusChanged,
		EventAppointmentRequested,
	}, types)
}

func TestComputeAvailability(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "13:00", 60, ident(1)))
	require.NoError(t, err)

	days, err := f.svc.ComputeAvailability(t.Context(), AvailabilityQuery{From: wednesday, To: wednesday.AddDate(0, 0, 4), DurationMinutes: 30})
	require.NoError(t, err)
	require.Len(t, days, 3, "the weekend is skipped")
	require.Len(t, days[0].Slots, 16)
	assert.Len(t, availability.Available(days), 46)

	_, err = f.svc.ComputeAvailability(t.Context(), AvailabilityQuery{From: wednesday, To: wednesday, DurationMinutes: 45})
	require.ErrorIs(t, err, ErrValidation)
}

func TestAdmissionEventPayload(t *testing.T) {
	f := newFixture(t, nil)
	res, err := f.svc.SubmitBooking(t.Context(), request("2026-03-04", "09:00", 30, ident(1)))
	require.NoError(t, err)

	var payload appointmentEvent
	_, err = f.store.DrainOutbox(t.Context(), 10, func(_ context.Context, r storage.OutboxRecord) error {
		assert.Equal(t, res.AppointmentID, r.AggregateID)
		return json.Unmarshal(r.Payload, &payload)
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04", payload.Date)
	assert.Equal(t, "09:00", payload.Start)
	assert.Equal(t, "09:30", payload.End)
	assert.Equal(t, "pending", payload.Status)
	assert.Equal(t, "user1@example.com", payload.Email)
}

func TestErrorKinds(t *testing.T) {
	err := fmt.Errorf("wrapped: %w", reject(KindLocked, "frozen"))
	assert.ErrorIs(t, err, ErrLocked)
	assert.NotErrorIs(t, err, ErrBlocked)
	assert.Equal(t, KindLocked, KindOf(err))
	assert.Equal(t, KindStorage, KindOf(io.EOF))
	assert.True(t, KindStorage.Retryable())
	assert.Equal(t, "locked: frozen", reject(KindLocked, "frozen").Error())
}
