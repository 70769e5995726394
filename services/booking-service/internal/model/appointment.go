package model

import (
	"fmt"
	"strings"
	"time"
)

// Identity attributes a booking to a real-world customer for limiting and blocking.
type Identity struct {
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name"`
	Surname   string `json:"surname"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	IPAddress string `json:"ip_address"`
}

// NormalizedEmail is the form used for blocklist and limit matching.
func (i Identity) NormalizedEmail() string {
	return strings.ToLower(strings.TrimSpace(i.Email))
}

// HasKey reports whether at least one of user id, email or ip is present.
func (i Identity) HasKey() bool {
	return strings.TrimSpace(i.UserID) != "" || i.NormalizedEmail() != "" || strings.TrimSpace(i.IPAddress) != ""
}

type Appointment struct {
	ID              string
	Date            time.Time
	Start           Clock
	End             Clock
	Status          Status
	Identity        Identity
	AppointmentType string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (a Appointment) DurationMinutes() int {
	return int(a.End - a.Start)
}

// Overlaps uses half-open intervals: [a.Start,a.End) and [start,end) on the same date.
func (a Appointment) Overlaps(date time.Time, start, end Clock) bool {
	if !SameDate(a.Date, date) {
		return false
	}
	return a.Start < end && start < a.End
}

func (a Appointment) String() string {
	return fmt.Sprintf("%s %s %s-%s (%s)", a.ID, FormatDate(a.Date), a.Start, a.End, a.Status)
}

type BlockEntry struct {
	ID        string
	UserID    string
	Email     string
	IPAddress string
	Reason    string
	CreatedAt time.Time
}
