package errors

import (
	"context"
	stderrs "errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestDBErrorCode(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want ErrorCode
		ok   bool
	}{
		{"no rows", pgx.ErrNoRows, ErrorCodeNotFound, true},
		{"unique", &pgconn.PgError{Code: pgErrUniqueViolation}, ErrorCodeConflict, true},
		{"not null", &pgconn.PgError{Code: pgErrNotNullViolation}, ErrorCodeValidation, true},
		{"conn", &pgconn.PgError{Code: "08006"}, ErrorCodeUnavailable, true},
		{"other pg", &pgconn.PgError{Code: "42P01"}, ErrorCodeDB, true},
		{"foreign", stderrs.New("x"), ErrorCodeUnknown, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := DBErrorCode(fmt.Errorf("wrapped: %w", tc.err))
			if got != tc.want || ok != tc.ok {
				t.Fatalf("DBErrorCode = (%s, %v), want (%s, %v)", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestFromPostgres(t *testing.T) {
	if FromPostgres(nil, "x") != nil {
		t.Fatalf("nil should stay nil")
	}
	err := FromPostgres(stderrs.New("boom"), "insert job")
	if CodeOf(err) != ErrorCodeDB {
		t.Fatalf("foreign db error should map to DB, got %s", CodeOf(err))
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(&pgconn.PgError{Code: pgErrSerializationFailure}) {
		t.Fatalf("serialization failure should retry")
	}
	if IsRetryable(&pgconn.PgError{Code: pgErrUniqueViolation}) {
		t.Fatalf("unique violation should not retry")
	}
	if IsRetryable(context.Canceled) {
		t.Fatalf("cancellation should not retry")
	}
	if !IsRetryable(stderrs.New("commit unexpectedly resulted in rollback")) {
		t.Fatalf("rollback text should retry")
	}
	if !Retryable(Wrap(&pgconn.PgError{Code: pgErrDeadlockDetected}, ErrorCodeDB, "x")) {
		t.Fatalf("Retryable should defer DB codes to IsRetryable")
	}
}
