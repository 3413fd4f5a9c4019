// Package dialect provides database dialect abstraction for datakit.
//
// This package defines the interfaces and types used for database-specific
// operations, allowing sessions to run against multiple database backends
// including PostgreSQL, MySQL, and SQLite.
//
// # Supported Dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// The dialect names double as the database/sql driver names registered by
// github.com/lib/pq, github.com/go-sql-driver/mysql and modernc.org/sqlite.
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
//	type Tx interface {
//	    ExecQuerier
//	    Commit() error
//	    Rollback() error
//	}
//
// # Usage
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
//	s := session.New(drv)
//
// # Sub-packages
//
//   - dialect/sql: statement builders and driver implementation
//   - dialect/sql/schema: table migration and administrative commands
//   - dialect/sql/sqlgraph: driver error classification
package dialect
