package errors

// Postgres mapping for the pg job store

import (
	"context"
	stderrs "errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const (
	pgErrUniqueViolation         = "23505"
	pgErrForeignKeyViolation     = "23503"
	pgErrNotNullViolation        = "23502"
	pgErrCheckViolation          = "23514"
	pgErrInvalidTextRepr         = "22P02"
	pgErrSerializationFailure    = "40001"
	pgErrDeadlockDetected        = "40P01"
	pgErrLockNotAvailable        = "55P03"
	pgErrCannotConnectNow        = "57P03"
	pgErrAdminShutdown           = "57P01"
	pgErrConnectionFailureClass  = "08"
	pgErrInsufficientResourceCls = "53"
)

// ExtractPgError returns the *pgconn.PgError at the root of err
func ExtractPgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if stderrs.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

// DBErrorCode maps a Postgres error to an ErrorCode; ok is false for non pg errors
func DBErrorCode(err error) (ErrorCode, bool) {
	if stderrs.Is(err, pgx.ErrNoRows) {
		return ErrorCodeNotFound, true
	}
	pgErr, ok := ExtractPgError(err)
	if !ok {
		return ErrorCodeUnknown, false
	}
	switch {
	case pgErr.Code == pgErrUniqueViolation:
		return ErrorCodeConflict, true
	case pgErr.Code == pgErrForeignKeyViolation, pgErr.Code == pgErrInvalidTextRepr:
		return ErrorCodeInvalidArgument, true
	case pgErr.Code == pgErrNotNullViolation, pgErr.Code == pgErrCheckViolation:
		return ErrorCodeValidation, true
	case pgErr.Code == pgErrCannotConnectNow, pgErr.Code == pgErrAdminShutdown,
		strings.HasPrefix(pgErr.Code, pgErrConnectionFailureClass),
		strings.HasPrefix(pgErr.Code, pgErrInsufficientResourceCls):
		return ErrorCodeUnavailable, true
	}
	return ErrorCodeDB, true
}

// FromPostgres wraps err with its mapped code; nil stays nil
func FromPostgres(err error, msg string) error {
	if err == nil {
		return nil
	}
	code, ok := DBErrorCode(err)
	if !ok {
		code = ErrorCodeDB
	}
	return Wrap(err, code, msg)
}

// IsRetryable reports whether a database error is transient contention or a
// dropped connection. Local cancellations are never retried here
func IsRetryable(err error) bool {
	if err == nil || stderrs.Is(err, context.Canceled) || stderrs.Is(err, context.DeadlineExceeded) {
		return false
	}
	if pgErr, ok := ExtractPgError(err); ok {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected, pgErrLockNotAvailable,
			pgErrCannotConnectNow, pgErrAdminShutdown:
			return true
		}
		return strings.HasPrefix(pgErr.Code, pgErrConnectionFailureClass)
	}
	s := strings.ToLower(Root(err).Error())
	return strings.Contains(s, "commit unexpectedly resulted in rollback") ||
		strings.Contains(s, "deadlock detected") ||
		strings.Contains(s, "could not serialize access")
}
