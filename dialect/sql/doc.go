// Package sql provides SQL statement building primitives and the database/sql
// backed driver used by sessions.
//
// # Builder Types
//
//   - Builder: Low-level SQL string builder with identifier quoting
//   - Selector: SELECT query builder with predicates, ordering and pagination
//   - InsertBuilder: INSERT statement builder with RETURNING support
//   - UpdateBuilder: UPDATE statement builder with SET and WHERE clauses
//   - DeleteBuilder: DELETE statement builder with WHERE predicates
//
// # Dialect Support
//
// SQL generation adapts to different database dialects:
//
//	// PostgreSQL: "users", $1
//	b := sql.Dialect(dialect.Postgres)
//	b.Select("id", "name").From("users").Where(sql.EQ("status", "active"))
//
//	// MySQL: `users`, ?
//	b := sql.Dialect(dialect.MySQL)
//
// # Predicates
//
//	sql.EQ("name", "john")           // name = 'john'
//	sql.NEQ("status", "deleted")     // status <> 'deleted'
//	sql.GT("age", 18)                // age > 18
//	sql.In("id", 1, 2, 3)            // id IN (1, 2, 3)
//	sql.And(p1, p2), sql.Or(p1, p2), sql.Not(p)
//
// Typed fields give compile-time checked predicates:
//
//	var Age = sql.Field[int]("age")
//	Age.GT(18)
//
// # Drivers
//
// Driver wraps *sql.DB; StatsDriver and DebugDriver decorate any
// dialect.Driver with statistics collection and statement logging.
package sql
