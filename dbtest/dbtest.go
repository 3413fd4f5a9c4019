// Package dbtest creates throwaway databases for tests.
//
//	func TestCustomers(t *testing.T) {
//		db := dbtest.New(t, dbtest.WithModels(&Customer{}))
//		s := db.Session()
//		...
//	}
//
// New uses an SQLite file under t.TempDir(). NewServer creates a randomly
// named database on a PostgreSQL or MySQL server and drops it when the test
// ends.
package dbtest

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
	sqlschema "github.com/syssam/datakit/dialect/sql/schema"
	"github.com/syssam/datakit/schema"
	"github.com/syssam/datakit/session"
)

// pragmas applied to every SQLite test database.
const pragmas = "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"

// Option configures a test database.
type Option func(*options)

type options struct {
	models []any
	log    *slog.Logger
}

// WithModels registers the entity types whose tables are created.
func WithModels(models ...any) Option {
	return func(o *options) {
		o.models = append(o.models, models...)
	}
}

// WithLogger sets the logger handed to sessions.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.log = l
	}
}

// DB is a migrated test database.
type DB struct {
	t      testing.TB
	conn   datakit.Connection
	drv    *sql.Driver
	models []any
	log    *slog.Logger
}

// New creates an SQLite database with a random name under t.TempDir() and
// migrates the registered models. It is closed and removed when the test
// ends.
func New(t testing.TB, opts ...Option) *DB {
	t.Helper()
	base := datakit.Connection{
		Name:       "dbtest",
		Dialect:    dialect.SQLite,
		DataSource: "file:" + filepath.Join(t.TempDir(), "datakit.db") + pragmas,
	}
	conn := RandomConnection(t, base)
	db := open(t, conn, opts)
	path, err := conn.Database()
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.drv.Close())
		require.NoError(t, sqlschema.DropDatabase(context.Background(), nil, dialect.SQLite, path))
	})
	return db
}

// NewServer creates a randomly named database next to the one conn points
// at, migrates the registered models, and drops the database when the test
// ends.
func NewServer(t testing.TB, conn datakit.Connection, opts ...Option) *DB {
	t.Helper()
	require.NoError(t, conn.Validate())
	conn = RandomConnection(t, conn)
	name, err := conn.Database()
	require.NoError(t, err)
	ac, err := conn.Admin()
	require.NoError(t, err)
	admin, err := sql.Open(ac.Dialect, ac.DataSource)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, sqlschema.CreateDatabase(ctx, admin, conn.Dialect, name))
	db := open(t, conn, opts)
	t.Cleanup(func() {
		require.NoError(t, db.drv.Close())
		require.NoError(t, sqlschema.DropDatabase(ctx, admin, conn.Dialect, name))
		require.NoError(t, admin.Close())
	})
	return db
}

func open(t testing.TB, conn datakit.Connection, opts []Option) *DB {
	t.Helper()
	o := &options{log: slog.Default()}
	for _, opt := range opts {
		opt(o)
	}
	drv, err := sql.Open(conn.Dialect, conn.DataSource)
	require.NoError(t, err)
	tables := make([]*schema.Table, 0, len(o.models))
	for _, m := range o.models {
		tbl, err := schema.Of(m)
		require.NoError(t, err)
		tables = append(tables, tbl)
	}
	require.NoError(t, sqlschema.Migrate(context.Background(), drv, tables...))
	return &DB{t: t, conn: conn, drv: drv, models: o.models, log: o.log}
}

// RandomConnection returns conn with a random database name.
func RandomConnection(t testing.TB, conn datakit.Connection) datakit.Connection {
	t.Helper()
	rc, err := conn.Randomized()
	require.NoError(t, err)
	return rc
}

// Session returns a new session on the database. Sessions share the
// driver, so several of them can race on the same rows.
func (db *DB) Session(opts ...session.Option) *session.Session {
	base := []session.Option{
		session.WithConnection(db.conn),
		session.WithModels(db.models...),
		session.WithLogger(db.log),
	}
	return session.New(db.drv, append(base, opts...)...)
}

// Driver returns the shared driver.
func (db *DB) Driver() *sql.Driver { return db.drv }

// Connection returns the connection of the database.
func (db *DB) Connection() datakit.Connection { return db.conn }

// Rows runs query and returns its rows as column maps.
func (db *DB) Rows(query string, args ...any) []map[string]any {
	db.t.Helper()
	rows, err := sql.ScanMaps(context.Background(), db.drv, query, args)
	require.NoError(db.t, err)
	return rows
}

// Count returns the number of rows in table.
func (db *DB) Count(table string) int {
	db.t.Helper()
	b := sql.Dialect(db.drv.Dialect()).Builder()
	b.WriteString("SELECT COUNT(*) AS n FROM ").Ident(table)
	rows := db.Rows(b.String())
	require.Len(db.t, rows, 1)
	switch n := rows[0]["n"].(type) {
	case int64:
		return int(n)
	case []byte:
		v, err := strconv.Atoi(string(n))
		require.NoError(db.t, err)
		return v
	default:
		db.t.Fatalf("dbtest: unexpected count type %T", n)
		return 0
	}
}
