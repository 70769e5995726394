package model

import "fmt"

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusBlocked   Status = "blocked"
)

var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled, StatusBlocked},
	StatusConfirmed: {StatusCancelled, StatusBlocked},
}

func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusBlocked:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}

// Occupies reports whether an appointment in this status holds its time slot.
func (s Status) Occupies() bool {
	return s == StatusPending || s == StatusConfirmed
}

func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}
