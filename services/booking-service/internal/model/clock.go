package model

import (
	"fmt"
	"time"
)

const (
	DateLayout      = "2006-01-02"
	TimestampLayout = "2006-01-02T15:04"
)

// Clock is a time of day in minutes after midnight, local to the business.
type Clock int

func ClockAt(hour, minute int) Clock {
	return Clock(hour*60 + minute)
}

// ParseClock accepts zero-padded 24-hour HH:MM. 24:00 is allowed as an end-of-day bound.
func ParseClock(raw string) (Clock, error) {
	if len(raw) != 5 || raw[2] != ':' {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", raw)
	}
	h, okH := twoDigits(raw[0:2])
	m, okM := twoDigits(raw[3:5])
	if !okH || !okM || m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid time %q: want HH:MM", raw)
	}
	return ClockAt(h, m), nil
}

func twoDigits(s string) (int, bool) {
	if s[0] < '0' || s[0] > '9' || s[1] < '0' || s[1] > '9' {
		return 0, false
	}
	return int(s[0]-'0')*10 + int(s[1]-'0'), true
}

func (c Clock) Hour() int   { return int(c) / 60 }
func (c Clock) Minute() int { return int(c) % 60 }

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour(), c.Minute())
}

func (c Clock) Add(minutes int) Clock {
	return c + Clock(minutes)
}

// Dates are civil dates carried as time.Time at 00:00 UTC. Instants built from a date
// and a Clock are naive wall-clock values in the same UTC frame; the business
// timezone is only applied when reading "now" (see WallClock).

func ParseDate(raw string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, raw, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: want YYYY-MM-DD", raw)
	}
	return t, nil
}

func FormatDate(d time.Time) string {
	return d.Format(DateLayout)
}

// DateOf truncates a naive instant to its civil date.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func At(date time.Time, c Clock) time.Time {
	return DateOf(date).Add(time.Duration(c) * time.Minute)
}

func SameDate(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// WallClock re-expresses t as the naive wall-clock reading in loc.
func WallClock(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	w := t.In(loc)
	return time.Date(w.Year(), w.Month(), w.Day(), w.Hour(), w.Minute(), w.Second(), w.Nanosecond(), time.UTC)
}

// Naive drops the zone of t and keeps its wall-clock reading.
func Naive(t time.Time) time.Time {
	return WallClock(t, t.Location())
}

// ParseTimestamp reads a business-local timestamp. Naive forms (YYYY-MM-DDTHH:MM with
// optional seconds) stay in the UTC frame; RFC 3339 values keep their offset so they
// can later be re-expressed in the business timezone.
func ParseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{TimestampLayout, TimestampLayout + ":05"} {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t, nil
		}
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: want YYYY-MM-DDTHH:MM", raw)
	}
	if t.Location() == time.UTC {
		t = t.In(time.FixedZone("UTC", 0))
	}
	return t, nil
}

func FormatTimestamp(t time.Time) string {
	if t.Location() != time.UTC {
		return t.Format(time.RFC3339)
	}
	if t.Second() != 0 {
		return t.Format(TimestampLayout + ":05")
	}
	return t.Format(TimestampLayout)
}

// ISOWeekBounds returns the Monday and Sunday of the ISO week containing date.
func ISOWeekBounds(date time.Time) (time.Time, time.Time) {
	d := DateOf(date)
	offset := (int(d.Weekday()) + 6) % 7
	monday := d.AddDate(0, 0, -offset)
	return monday, monday.AddDate(0, 0, 6)
}

func IsWeekend(date time.Time) bool {
	wd := date.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}
