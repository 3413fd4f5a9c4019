// Package schema maps Go structs to database tables.
//
// An entity is any struct. Exported fields become columns unless tagged
// `db:"-"`. The tag's first element names the column; the remaining
// elements are options:
//
//	type Customer struct {
//	    ID      int64  `db:"id,pk,auto"`
//	    Email   string `db:"email,unique"`
//	    Name    string
//	    Version int64  `db:"version,version"`
//	}
//
// # Options
//
//   - pk: primary key. Without it, a field named ID (or column "id") is the key.
//   - auto: the database generates the key when the field holds its zero value.
//     Integer keys found by the ID convention are auto by default.
//   - version: row version used for optimistic concurrency. Must be an integer.
//   - unique: adds a UNIQUE constraint on migration.
//
// Untagged fields map to snake_case column names. Embedded structs without a
// tag are flattened, which is how audit.Record adds its columns to audit
// entities.
//
// # Table names
//
// The default table name is the pluralized snake_case type name
// (CustomerAudit becomes customer_audits). Implement TableNamer to override:
//
//	func (Customer) TableName() string { return "crm.customers" }
//
// Descriptions are built once per type and cached; Of is safe for
// concurrent use.
package schema
