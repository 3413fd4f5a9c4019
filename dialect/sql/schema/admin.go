package schema

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
)

// listTables returns the query listing the user tables of the connected database.
func listTables(name string) (string, error) {
	switch name {
	case dialect.SQLite:
		return "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%'", nil
	case dialect.Postgres:
		return "SELECT tablename AS name FROM pg_tables WHERE schemaname = current_schema()", nil
	case dialect.MySQL:
		return "SELECT table_name AS name FROM information_schema.tables WHERE table_schema = DATABASE() AND table_type = 'BASE TABLE'", nil
	}
	return "", fmt.Errorf("sql/schema: unsupported dialect %q", name)
}

// Tables returns the names of the user tables in the connected database.
func Tables(ctx context.Context, drv dialect.Driver) ([]string, error) {
	query, err := listTables(drv.Dialect())
	if err != nil {
		return nil, err
	}
	rows, err := sql.ScanMaps(ctx, drv, query, []any{})
	if err != nil {
		return nil, fmt.Errorf("sql/schema: list tables: %w", err)
	}
	names := make([]string, 0, len(rows))
	for _, r := range rows {
		switch v := r["name"].(type) {
		case string:
			names = append(names, v)
		case []byte:
			names = append(names, string(v))
		}
	}
	return names, nil
}

// DropTables drops every user table of the connected database.
func DropTables(ctx context.Context, drv dialect.Driver) error {
	names, err := Tables(ctx, drv)
	if err != nil {
		return err
	}
	for _, n := range names {
		b := sql.Dialect(drv.Dialect()).Builder()
		b.WriteString("DROP TABLE IF EXISTS ").Ident(n)
		if drv.Dialect() == dialect.Postgres {
			b.WriteString(" CASCADE")
		}
		if err := drv.Exec(ctx, b.String(), []any{}, nil); err != nil {
			return fmt.Errorf("sql/schema: drop table %q: %w", n, err)
		}
	}
	return nil
}

// CreateDatabase creates the database db through an administrative
// connection. SQLite databases are files created on first open, so nothing
// is executed for them.
func CreateDatabase(ctx context.Context, admin dialect.ExecQuerier, name, db string) error {
	b := sql.Dialect(name).Builder()
	switch name {
	case dialect.SQLite:
		return nil
	case dialect.Postgres:
		b.WriteString("CREATE DATABASE ").Ident(db)
	case dialect.MySQL:
		b.WriteString("CREATE DATABASE IF NOT EXISTS ").Ident(db)
	default:
		return fmt.Errorf("sql/schema: unsupported dialect %q", name)
	}
	if err := admin.Exec(ctx, b.String(), []any{}, nil); err != nil {
		return fmt.Errorf("sql/schema: create database %q: %w", db, err)
	}
	return nil
}

// DropDatabase drops the database db. On PostgreSQL the other sessions
// connected to it are terminated first. For SQLite, db is the database file
// and admin may be nil; the file and its journals are removed.
func DropDatabase(ctx context.Context, admin dialect.ExecQuerier, name, db string) error {
	switch name {
	case dialect.SQLite:
		return removeFiles(db)
	case dialect.Postgres:
		rows := &sql.Rows{}
		if err := admin.Query(ctx, "SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()", []any{db}, rows); err != nil {
			return fmt.Errorf("sql/schema: terminate connections to %q: %w", db, err)
		}
		if err := rows.Close(); err != nil {
			return err
		}
	case dialect.MySQL:
	default:
		return fmt.Errorf("sql/schema: unsupported dialect %q", name)
	}
	b := sql.Dialect(name).Builder()
	b.WriteString("DROP DATABASE IF EXISTS ").Ident(db)
	if err := admin.Exec(ctx, b.String(), []any{}, nil); err != nil {
		return fmt.Errorf("sql/schema: drop database %q: %w", db, err)
	}
	return nil
}

func removeFiles(path string) error {
	if path == "" || path == ":memory:" {
		return nil
	}
	var errs []error
	for _, p := range []string{path, path + "-wal", path + "-shm", path + "-journal"} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
