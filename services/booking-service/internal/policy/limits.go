package policy

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

type Scope string

const (
	ScopeDay  Scope = "day"
	ScopeWeek Scope = "week"
)

type LimitViolation struct {
	Scope Scope
	Limit int
	Count int
}

func (v LimitViolation) String() string {
	return fmt.Sprintf("%d of %d appointments per %s already booked", v.Count, v.Limit, v.Scope)
}

// CountSameDay counts pending/confirmed appointments of id on date.
func CountSameDay(id model.Identity, date time.Time, appts []model.Appointment) int {
	n := 0
	for _, a := range appts {
		if a.Status.Occupies() && model.SameDate(a.Date, date) && SameIdentity(id, a.Identity) {
			n++
		}
	}
	return n
}

// CountSameISOWeek counts pending/confirmed appointments of id in the Monday-Sunday week of date.
func CountSameISOWeek(id model.Identity, date time.Time, appts []model.Appointment) int {
	monday, sunday := model.ISOWeekBounds(date)
	n := 0
	for _, a := range appts {
		d := model.DateOf(a.Date)
		if d.Before(monday) || d.After(sunday) {
			continue
		}
		if a.Status.Occupies() && SameIdentity(id, a.Identity) {
			n++
		}
	}
	return n
}

// CheckLimits returns the first violated limit for one more booking on date, or nil.
// A limit of zero disables that check.
func CheckLimits(id model.Identity, date time.Time, appts []model.Appointment, cfg model.AvailabilityConfig) *LimitViolation {
	if limit := cfg.MaxAppointmentsPerDayPerIdentity; limit > 0 {
		if n := CountSameDay(id, date, appts); n >= limit {
			return &LimitViolation{Scope: ScopeDay, Limit: limit, Count: n}
		}
	}
	if limit := cfg.MaxAppointmentsPerWeekPerIdentity; limit > 0 {
		if n := CountSameISOWeek(id, date, appts); n >= limit {
			return &LimitViolation{Scope: ScopeWeek, Limit: limit, Count: n}
		}
	}
	return nil
}
