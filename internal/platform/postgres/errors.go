package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/casequeue/internal/store"
)

// PostgreSQL SQLSTATE codes the stores react to.
const (
	uniqueViolationCode      = "23505"
	foreignKeyViolationCode  = "23503"
	checkViolationCode       = "23514"
	notNullViolationCode     = "23502"
	serializationFailureCode = "40001"
	deadlockDetectedCode     = "40P01"
	lockNotAvailableCode     = "55P03"
)

// pgErrorMapping turns one SQLSTATE into a store sentinel. detail picks
// the part of the error worth naming in the message, if any.
type pgErrorMapping struct {
	sentinel error
	label    string
	detail   func(*pgconn.PgError) string
}

func constraintName(e *pgconn.PgError) string { return e.ConstraintName }
func columnName(e *pgconn.PgError) string     { return e.ColumnName }

var pgErrorMappings = map[string]pgErrorMapping{
	uniqueViolationCode:      {sentinel: store.ErrDuplicate},
	foreignKeyViolationCode:  {store.ErrInvalidEntity, "foreign key violation", constraintName},
	checkViolationCode:       {store.ErrInvalidEntity, "check constraint violation", constraintName},
	notNullViolationCode:     {store.ErrInvalidEntity, "not null violation", columnName},
	serializationFailureCode: {sentinel: store.ErrConflict},
	deadlockDetectedCode:     {sentinel: store.ErrConflict, label: "deadlock detected"},
	lockNotAvailableCode:     {sentinel: store.ErrConflict, label: "lock not available"},
}

// MapError maps a database error to a store sentinel, keeping the original
// error text for the logs. Unknown errors are returned unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", store.ErrNotFound, err)
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}

	m, ok := pgErrorMappings[pgErr.Code]
	if !ok {
		return err
	}

	switch {
	case m.label != "" && m.detail != nil:
		return fmt.Errorf("%w: %s (%s): %v", m.sentinel, m.label, m.detail(pgErr), err)
	case m.label != "":
		return fmt.Errorf("%w: %s: %v", m.sentinel, m.label, err)
	default:
		return fmt.Errorf("%w: %v", m.sentinel, err)
	}
}

func hasCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// IsUniqueViolation reports whether err is a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return hasCode(err, uniqueViolationCode)
}

// IsCheckConstraintViolation reports whether err is a check constraint
// violation, such as a reservation on a task that is not RESERVED.
func IsCheckConstraintViolation(err error) bool {
	return hasCode(err, checkViolationCode)
}

// CheckRowsAffected returns notFound (store.ErrNotFound when nil) if the
// statement touched no rows.
func CheckRowsAffected(result sql.Result, notFound error) error {
	if result == nil {
		return errors.New("nil result provided to CheckRowsAffected")
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	if notFound == nil {
		return store.ErrNotFound
	}
	return notFound
}
