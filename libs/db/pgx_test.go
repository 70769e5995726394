package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsWriteConflict(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "40001"}, true},
		{&pgconn.PgError{Code: "40P01"}, true},
		{&pgconn.PgError{Code: "23505"}, true},
		{fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23P01"}), true},
		{&pgconn.PgError{Code: "42P01"}, false},
		{errors.New("boom"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := IsWriteConflict(tc.err); got != tc.want {
			t.Fatalf("IsWriteConflict(%v) = %v, want %v", tc.err, got, tc.want)
		}
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("load: %w", pgx.ErrNoRows)) {
		t.Fatal("expected wrapped ErrNoRows to be not found")
	}
	if IsNotFound(errors.New("other")) {
		t.Fatal("unexpected not found")
	}
}

func TestReadyCheck_Unconfigured(t *testing.T) {
	if err := ReadyCheck(nil)(t.Context()); err == nil {
		t.Fatal("expected error for nil pool")
	}
}
