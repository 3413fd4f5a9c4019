// Package sqlgraph classifies errors returned by the SQL drivers and turns
// the known ones into short hints for the caller.
package sqlgraph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

// errorCoder is an interface for database errors that provide string error codes.
// Implemented by pgx; lib/pq exposes its code as a field and is matched directly.
type errorCoder interface {
	Code() string
}

// sqlStateError is an interface for errors that provide SQLSTATE codes.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgNotNullViolation    = "23502"
	pgSerialization       = "40001"
	pgDeadlock            = "40P01"
	pgUndefinedTable      = "42P01"
	pgQueryCanceled       = "57014"
)

// MySQL error numbers.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
	mysqlColumnCannotBeNull     = 1048
	mysqlNoSuchTable            = 1146
	mysqlLockWaitTimeout        = 1205
	mysqlDeadlock               = 1213
)

// codes extracts the PostgreSQL SQLSTATE and the MySQL error number from the
// error chain, whichever are present.
func codes(err error) (state string, number uint16) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		state = string(pqErr.Code)
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		number = myErr.Number
	}
	if state == "" {
		if e, ok := asError[sqlStateError](err); ok {
			state = e.SQLState()
		} else if e, ok := asError[errorCoder](err); ok {
			state = e.Code()
		}
	}
	return state, number
}

// IsConstraintError returns true if the error resulted from a database constraint violation.
func IsConstraintError(err error) bool {
	return IsUniqueConstraintError(err) ||
		IsForeignKeyConstraintError(err) ||
		IsCheckConstraintError(err) ||
		IsNotNullConstraintError(err)
}

// IsUniqueConstraintError reports if the error resulted from a DB uniqueness constraint violation.
// e.g. duplicate value in unique index.
func IsUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	state, number := codes(err)
	if state == pgUniqueViolation || number == mysqlDuplicateEntry {
		return true
	}
	return containsAny(err.Error(),
		"Error 1062",                 // MySQL (string fallback)
		"violates unique constraint", // Postgres (string fallback)
		"UNIQUE constraint failed",   // SQLite
	)
}

// IsForeignKeyConstraintError reports if the error resulted from a database foreign-key constraint violation.
// e.g. parent row does not exist.
func IsForeignKeyConstraintError(err error) bool {
	if err == nil {
		return false
	}
	state, number := codes(err)
	if state == pgForeignKeyViolation || number == mysqlForeignKeyParent || number == mysqlForeignKeyChild {
		return true
	}
	return containsAny(err.Error(),
		"Error 1451",                      // MySQL (Cannot delete or update a parent row)
		"Error 1452",                      // MySQL (Cannot add or update a child row)
		"violates foreign key constraint", // Postgres
		"FOREIGN KEY constraint failed",   // SQLite
	)
}

// IsCheckConstraintError reports if the error resulted from a database check constraint violation.
func IsCheckConstraintError(err error) bool {
	if err == nil {
		return false
	}
	state, number := codes(err)
	if state == pgCheckViolation || number == mysqlCheckConstraintViolate {
		return true
	}
	return containsAny(err.Error(),
		"Error 3819",                // MySQL
		"violates check constraint", // Postgres
		"CHECK constraint failed",   // SQLite
	)
}

// IsNotNullConstraintError reports if the error resulted from writing NULL
// into a NOT NULL column.
func IsNotNullConstraintError(err error) bool {
	if err == nil {
		return false
	}
	state, number := codes(err)
	if state == pgNotNullViolation || number == mysqlColumnCannotBeNull {
		return true
	}
	return containsAny(err.Error(),
		"Error 1048",
		"violates not-null constraint",
		"NOT NULL constraint failed",
	)
}

// Hint returns a short explanation for errors with a known code, or an
// empty string.
func Hint(err error) string {
	if err == nil {
		return ""
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUniqueViolation:
			return with("duplicate value violates unique constraint", pqErr.Constraint)
		case pgForeignKeyViolation:
			return with("referenced row is missing or still referenced", pqErr.Constraint)
		case pgCheckViolation:
			return with("value violates check constraint", pqErr.Constraint)
		case pgNotNullViolation:
			return with("column cannot be null", pqErr.Column)
		case pgUndefinedTable:
			return "table does not exist; run the migration first"
		case pgSerialization, pgDeadlock:
			return "transaction conflicted with a concurrent one; retry it"
		case pgQueryCanceled:
			return "statement was canceled or timed out"
		}
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDuplicateEntry:
			return "duplicate value violates unique constraint"
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return "referenced row is missing or still referenced"
		case mysqlCheckConstraintViolate:
			return "value violates check constraint"
		case mysqlColumnCannotBeNull:
			return "column cannot be null"
		case mysqlNoSuchTable:
			return "table does not exist; run the migration first"
		case mysqlDeadlock, mysqlLockWaitTimeout:
			return "transaction conflicted with a concurrent one; retry it"
		}
	}
	msg := err.Error()
	switch {
	case IsUniqueConstraintError(err):
		return "duplicate value violates unique constraint"
	case IsForeignKeyConstraintError(err):
		return "referenced row is missing or still referenced"
	case IsCheckConstraintError(err):
		return "value violates check constraint"
	case IsNotNullConstraintError(err):
		return "column cannot be null"
	case strings.Contains(msg, "no such table"):
		return "table does not exist; run the migration first"
	case strings.Contains(msg, "database is locked"):
		return "database is locked by another connection; retry it"
	}
	return ""
}

func with(hint, name string) string {
	if name == "" {
		return hint
	}
	return fmt.Sprintf("%s %q", hint, name)
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
