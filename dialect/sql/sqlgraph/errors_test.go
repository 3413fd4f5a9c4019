package sqlgraph

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
)

type stateErr string

func (e stateErr) Error() string    { return "state " + string(e) }
func (e stateErr) SQLState() string { return string(e) }

func TestIsConstraintError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		unique bool
		fk     bool
		check  bool
		null   bool
	}{
		{name: "nil"},
		{name: "plain", err: errors.New("boom")},
		{name: "pq unique", err: &pq.Error{Code: "23505"}, unique: true},
		{name: "pq fk wrapped", err: fmt.Errorf("exec: %w", &pq.Error{Code: "23503"}), fk: true},
		{name: "pq check", err: &pq.Error{Code: "23514"}, check: true},
		{name: "pq not null", err: &pq.Error{Code: "23502"}, null: true},
		{name: "mysql duplicate", err: &mysql.MySQLError{Number: 1062}, unique: true},
		{name: "mysql child row", err: &mysql.MySQLError{Number: 1452}, fk: true},
		{name: "mysql check", err: &mysql.MySQLError{Number: 3819}, check: true},
		{name: "mysql null", err: &mysql.MySQLError{Number: 1048}, null: true},
		{name: "sqlstate", err: stateErr("23505"), unique: true},
		{name: "sqlite unique", err: errors.New("constraint failed: UNIQUE constraint failed: users.email (2067)"), unique: true},
		{name: "sqlite fk", err: errors.New("FOREIGN KEY constraint failed"), fk: true},
		{name: "sqlite not null", err: errors.New("NOT NULL constraint failed: users.name"), null: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.unique, IsUniqueConstraintError(tt.err))
			assert.Equal(t, tt.fk, IsForeignKeyConstraintError(tt.err))
			assert.Equal(t, tt.check, IsCheckConstraintError(tt.err))
			assert.Equal(t, tt.null, IsNotNullConstraintError(tt.err))
			assert.Equal(t, tt.unique || tt.fk || tt.check || tt.null, IsConstraintError(tt.err))
		})
	}
}

func TestHint(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: nil, want: ""},
		{err: errors.New("boom"), want: ""},
		{err: &pq.Error{Code: "23505", Constraint: "users_email_key"}, want: `duplicate value violates unique constraint "users_email_key"`},
		{err: &pq.Error{Code: "23502", Column: "name"}, want: `column cannot be null "name"`},
		{err: &pq.Error{Code: "42P01"}, want: "table does not exist; run the migration first"},
		{err: &pq.Error{Code: "40001"}, want: "transaction conflicted with a concurrent one; retry it"},
		{err: &mysql.MySQLError{Number: 1451}, want: "referenced row is missing or still referenced"},
		{err: &mysql.MySQLError{Number: 1213}, want: "transaction conflicted with a concurrent one; retry it"},
		{err: &mysql.MySQLError{Number: 1146}, want: "table does not exist; run the migration first"},
		{err: errors.New("SQL logic error: no such table: users (1)"), want: "table does not exist; run the migration first"},
		{err: errors.New("database is locked (5) (SQLITE_BUSY)"), want: "database is locked by another connection; retry it"},
		{err: errors.New("CHECK constraint failed: age"), want: "value violates check constraint"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Hint(tt.err))
	}
}
