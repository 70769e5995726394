package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// AvailabilityConfig is the business-hours and limit configuration set by an admin.
type AvailabilityConfig struct {
	StartHour                         int        `json:"start_hour"`
	EndHour                           int        `json:"end_hour"`
	IncludeWeekend                    bool       `json:"include_weekend"`
	AllowHalfHourSlots                bool       `json:"allow_half_hour_slots"`
	DisplayHorizonWeeks               int        `json:"display_horizon_weeks"`
	MaxAppointmentsPerDayPerIdentity  int        `json:"max_appointments_per_day_per_identity"`
	MaxAppointmentsPerWeekPerIdentity int        `json:"max_appointments_per_week_per_identity"`
	AvailabilityLocked                bool       `json:"availability_locked"`
	AvailabilityLockedUntil           *time.Time `json:"availability_locked_until,omitempty"`
}

func DefaultAvailabilityConfig() AvailabilityConfig {
	return AvailabilityConfig{
		StartHour:                         9,
		EndHour:                           17,
		AllowHalfHourSlots:                true,
		DisplayHorizonWeeks:               4,
		MaxAppointmentsPerDayPerIdentity:  1,
		MaxAppointmentsPerWeekPerIdentity: 3,
	}
}

func (c AvailabilityConfig) Validate() error {
	if c.StartHour < 0 || c.EndHour > 24 || c.StartHour >= c.EndHour {
		return fmt.Errorf("invalid business hours %d-%d: want 0 <= start < end <= 24", c.StartHour, c.EndHour)
	}
	if c.DisplayHorizonWeeks < 0 {
		return errors.New("display horizon weeks must not be negative")
	}
	if c.MaxAppointmentsPerDayPerIdentity < 0 || c.MaxAppointmentsPerWeekPerIdentity < 0 {
		return errors.New("appointment limits must not be negative")
	}
	return nil
}

// Granularity is the slot step in minutes.
func (c AvailabilityConfig) Granularity() int {
	if c.AllowHalfHourSlots {
		return 30
	}
	return 60
}

func (c AvailabilityConfig) AllowsDuration(minutes int) bool {
	switch minutes {
	case 60:
		return true
	case 30:
		return c.AllowHalfHourSlots
	}
	return false
}

func (c AvailabilityConfig) OpenAt() Clock  { return ClockAt(c.StartHour, 0) }
func (c AvailabilityConfig) CloseAt() Clock { return ClockAt(c.EndHour, 0) }

// LockedAt applies the lock window to a naive start instant. A bounded lock
// takes precedence over the open-ended flag.
func (c AvailabilityConfig) LockedAt(start time.Time) bool {
	if c.AvailabilityLockedUntil != nil {
		return start.Before(Naive(*c.AvailabilityLockedUntil))
	}
	return c.AvailabilityLocked
}

// InLocation re-expresses an offset-bearing lock bound as business wall-clock time in
// loc. Naive bounds are already wall-clock time and are left alone.
func (c AvailabilityConfig) InLocation(loc *time.Location) AvailabilityConfig {
	if c.AvailabilityLockedUntil != nil && c.AvailabilityLockedUntil.Location() != time.UTC {
		until := WallClock(*c.AvailabilityLockedUntil, loc)
		c.AvailabilityLockedUntil = &until
	}
	return c
}

type availabilityConfigJSON AvailabilityConfig

type availabilityConfigWire struct {
	availabilityConfigJSON
	AvailabilityLockedUntil *string `json:"availability_locked_until,omitempty"`
}

func (c AvailabilityConfig) MarshalJSON() ([]byte, error) {
	w := availabilityConfigWire{availabilityConfigJSON: availabilityConfigJSON(c)}
	if c.AvailabilityLockedUntil != nil {
		raw := FormatTimestamp(*c.AvailabilityLockedUntil)
		w.AvailabilityLockedUntil = &raw
	}
	return json.Marshal(w)
}

func (c *AvailabilityConfig) UnmarshalJSON(data []byte) error {
	var w availabilityConfigWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = AvailabilityConfig(w.availabilityConfigJSON)
	c.AvailabilityLockedUntil = nil
	if w.AvailabilityLockedUntil != nil && *w.AvailabilityLockedUntil != "" {
		until, err := ParseTimestamp(*w.AvailabilityLockedUntil)
		if err != nil {
			return err
		}
		c.AvailabilityLockedUntil = &until
	}
	return nil
}

// BeyondHorizon reports whether date lies after today + horizon weeks. A zero horizon is unbounded.
func (c AvailabilityConfig) BeyondHorizon(date, today time.Time) bool {
	if c.DisplayHorizonWeeks <= 0 {
		return false
	}
	last := DateOf(today).AddDate(0, 0, 7*c.DisplayHorizonWeeks)
	return DateOf(date).After(last)
}

// OffersDay reports whether slots are generated for date at all.
func (c AvailabilityConfig) OffersDay(date time.Time) bool {
	return c.IncludeWeekend || !IsWeekend(date)
}
