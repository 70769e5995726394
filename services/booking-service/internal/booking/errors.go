package booking

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation was rejected. Only KindStorage is worth retrying.
type Kind string

const (
	KindValidation      Kind = "validation_error"
	KindOutOfWindow     Kind = "out_of_window"
	KindLocked          Kind = "locked"
	KindBlocked         Kind = "blocked"
	KindLimitExceeded   Kind = "limit_exceeded"
	KindSlotUnavailable Kind = "slot_unavailable"
	KindStorage         Kind = "storage_error"
)

func (k Kind) Retryable() bool { return k == KindStorage }

type AdmissionError struct {
	Kind   Kind
	Detail string
	Err    error
}

var (
	ErrValidation      = &AdmissionError{Kind: KindValidation}
	ErrOutOfWindow     = &AdmissionError{Kind: KindOutOfWindow}
	ErrLocked          = &AdmissionError{Kind: KindLocked}
	ErrBlocked         = &AdmissionError{Kind: KindBlocked}
	ErrLimitExceeded   = &AdmissionError{Kind: KindLimitExceeded}
	ErrSlotUnavailable = &AdmissionError{Kind: KindSlotUnavailable}
	ErrStorage         = &AdmissionError{Kind: KindStorage}
)

func (e *AdmissionError) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AdmissionError) Unwrap() error { return e.Err }

// Is matches any AdmissionError of the same kind, so errors.Is(err, ErrLocked) works.
func (e *AdmissionError) Is(target error) bool {
	t, ok := target.(*AdmissionError)
	return ok && t.Kind == e.Kind
}

func reject(kind Kind, format string, args ...any) *AdmissionError {
	return &AdmissionError{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

func storageError(op string, err error) *AdmissionError {
	return &AdmissionError{Kind: KindStorage, Detail: op, Err: err}
}

// KindOf reports the kind of err, or KindStorage for anything unclassified.
func KindOf(err error) Kind {
	var ae *AdmissionError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindStorage
}
