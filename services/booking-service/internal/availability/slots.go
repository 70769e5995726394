package availability

import (
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/slotdesk/services/booking-service/internal/model"
)

// MaxRangeDays bounds a single computation.
const MaxRangeDays = 92

var (
	ErrInvalidRange    = errors.New("invalid date range")
	ErrInvalidDuration = errors.New("duration not offered")
)

type Class string

const (
	ClassAvailable   Class = "available"
	ClassBooked      Class = "booked"
	ClassLocked      Class = "locked"
	ClassPast        Class = "past"
	ClassOutOfWindow Class = "out_of_window"
)

type Slot struct {
	Start model.Clock
	End   model.Clock
	Class Class
}

type Day struct {
	Date  time.Time
	Slots []Slot
}

// Interval is a busy half-open [Start,End) span within one date.
type Interval struct {
	Start model.Clock
	End   model.Clock
}

// Input is an immutable snapshot; Compute never mutates it.
type Input struct {
	From            time.Time
	To              time.Time
	DurationMinutes int
	Config          model.AvailabilityConfig
	Appointments    []model.Appointment
	// BlocklistHit freezes every slot that is not already past or out of window.
	BlocklistHit bool
	// Now is the naive business wall-clock reading.
	Now time.Time
}

// Compute classifies every slot start of every offered day in [From, To].
func Compute(in Input) ([]Day, error) {
	from, to := model.DateOf(in.From), model.DateOf(in.To)
	if to.Before(from) {
		return nil, fmt.Errorf("%w: %s is before %s", ErrInvalidRange, model.FormatDate(to), model.FormatDate(from))
	}
	if to.Sub(from) > MaxRangeDays*24*time.Hour {
		return nil, fmt.Errorf("%w: at most %d days", ErrInvalidRange, MaxRangeDays)
	}
	c, err := newClassifier(in)
	if err != nil {
		return nil, err
	}

	var days []Day
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		if !in.Config.OffersDay(d) {
			continue
		}
		day := Day{Date: d}
		for start := in.Config.OpenAt(); start < in.Config.CloseAt(); start = start.Add(c.step) {
			day.Slots = append(day.Slots, Slot{
				Start: start,
				End:   start.Add(in.DurationMinutes),
				Class: c.slot(d, start),
			})
		}
		days = append(days, day)
	}
	return days, nil
}

// Classify returns the class of one slot start. ok is false when date/start is not a
// slot the configuration offers at all (closed day, outside hours, off the grid).
func Classify(in Input, date time.Time, start model.Clock) (Class, bool, error) {
	c, err := newClassifier(in)
	if err != nil {
		return "", false, err
	}
	date = model.DateOf(date)
	if !in.Config.OffersDay(date) || start < in.Config.OpenAt() || start >= in.Config.CloseAt() {
		return "", false, nil
	}
	if int(start-in.Config.OpenAt())%c.step != 0 {
		return "", false, nil
	}
	return c.slot(date, start), true, nil
}

type classifier struct {
	in    Input
	step  int
	today time.Time
	busy  map[time.Time][]Interval
}

func newClassifier(in Input) (*classifier, error) {
	if err := in.Config.Validate(); err != nil {
		return nil, err
	}
	if !in.Config.AllowsDuration(in.DurationMinutes) {
		return nil, fmt.Errorf("%w: %d minutes", ErrInvalidDuration, in.DurationMinutes)
	}
	busy := make(map[time.Time][]Interval)
	for _, a := range in.Appointments {
		if !a.Status.Occupies() {
			continue
		}
		d := model.DateOf(a.Date)
		busy[d] = append(busy[d], Interval{Start: a.Start, End: a.End})
	}
	return &classifier{
		in:    in,
		step:  in.Config.Granularity(),
		today: model.DateOf(in.Now),
		busy:  busy,
	}, nil
}

// slot combines the granules a request of DurationMinutes would cover.
func (c *classifier) slot(date time.Time, start model.Clock) Class {
	first := c.granule(date, start)
	if first != ClassAvailable {
		return first
	}
	end := start.Add(c.in.DurationMinutes)
	if end > c.in.Config.CloseAt() {
		return ClassOutOfWindow
	}
	for g := start.Add(c.step); g < end; g = g.Add(c.step) {
		if cl := c.granule(date, g); cl != ClassAvailable {
			return cl
		}
	}
	return ClassAvailable
}

func (c *classifier) granule(date time.Time, start model.Clock) Class {
	cfg := c.in.Config
	instant := model.At(date, start)
	switch {
	case instant.Before(c.in.Now):
		return ClassPast
	case cfg.BeyondHorizon(date, c.today):
		return ClassOutOfWindow
	case c.in.BlocklistHit || cfg.LockedAt(instant):
		return ClassLocked
	case overlapsAny(start, start.Add(c.step), c.busy[date]):
		return ClassBooked
	}
	return ClassAvailable
}

func overlapsAny(start, end model.Clock, busy []Interval) bool {
	for _, b := range busy {
		// Half-open intervals: [start,end) overlaps [b.Start,b.End) iff start < b.End && b.Start < end.
		if start < b.End && b.Start < end {
			return true
		}
	}
	return false
}

// Available returns only the bookable slot starts of days, in order.
func Available(days []Day) []Slot {
	var out []Slot
	for _, d := range days {
		for _, s := range d.Slots {
			if s.Class == ClassAvailable {
				out = append(out, s)
			}
		}
	}
	return out
}
