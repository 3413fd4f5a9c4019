// Package schema creates and drops the tables and databases behind mapped
// entities.
package schema

import (
	"context"
	dsql "database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"
	"time"

	"ariga.io/atlas/sql/migrate"
	"ariga.io/atlas/sql/mysql"
	"ariga.io/atlas/sql/postgres"
	"ariga.io/atlas/sql/schema"
	"ariga.io/atlas/sql/sqlite"

	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
	entity "github.com/syssam/datakit/schema"
)

var (
	timeType  = reflect.TypeFor[time.Time]()
	bytesType = reflect.TypeFor[[]byte]()
	nullTypes = map[reflect.Type]reflect.Type{
		reflect.TypeFor[dsql.NullString]():  reflect.TypeFor[string](),
		reflect.TypeFor[dsql.NullInt64]():   reflect.TypeFor[int64](),
		reflect.TypeFor[dsql.NullInt32]():   reflect.TypeFor[int32](),
		reflect.TypeFor[dsql.NullInt16]():   reflect.TypeFor[int16](),
		reflect.TypeFor[dsql.NullFloat64](): reflect.TypeFor[float64](),
		reflect.TypeFor[dsql.NullBool]():    reflect.TypeFor[bool](),
		reflect.TypeFor[dsql.NullTime]():    timeType,
	}
)

// Migrate brings the database in line with tables: missing tables are
// created, and missing columns and unique indexes are added to existing
// ones. Columns are never altered or dropped.
func Migrate(ctx context.Context, drv dialect.Driver, tables ...*entity.Table) error {
	m, err := NewMigrate(drv)
	if err != nil {
		return err
	}
	return m.Create(ctx, tables...)
}

type (
	// Differ computes the changes that turn the current schema into the
	// desired one.
	Differ interface {
		Diff(current, desired *schema.Schema) ([]schema.Change, error)
	}

	// DiffFunc allows using an ordinary function as a Differ.
	DiffFunc func(current, desired *schema.Schema) ([]schema.Change, error)

	// DiffHook wraps a Differ, for example to drop or add changes.
	DiffHook func(Differ) Differ

	// MigrateOption configures an Atlas migration.
	MigrateOption func(*Atlas)
)

// Diff calls f(current, desired).
func (f DiffFunc) Diff(current, desired *schema.Schema) ([]schema.Change, error) {
	return f(current, desired)
}

// WithSchemaName sets the database schema of unqualified table names. The
// default is the schema of the connection.
func WithSchemaName(name string) MigrateOption {
	return func(a *Atlas) {
		a.schema = name
	}
}

// WithDiffHook appends hooks around the computed diff. The first hook is
// the outermost.
func WithDiffHook(hooks ...DiffHook) MigrateOption {
	return func(a *Atlas) {
		a.hooks = append(a.hooks, hooks...)
	}
}

// Atlas migrates mapped tables by inspecting the database and applying the
// additive part of the diff against the desired schema.
type Atlas struct {
	drv     dialect.Driver
	dialect string
	schema  string
	hooks   []DiffHook
}

// NewMigrate returns an Atlas migration over drv.
func NewMigrate(drv dialect.Driver, opts ...MigrateOption) (*Atlas, error) {
	a := &Atlas{drv: drv, dialect: drv.Dialect()}
	switch a.dialect {
	case dialect.MySQL, dialect.Postgres, dialect.SQLite:
	default:
		return nil, fmt.Errorf("sql/schema: unsupported dialect %q", a.dialect)
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.schema == "" && a.dialect == dialect.SQLite {
		a.schema = "main"
	}
	return a, nil
}

// Create validates tables and applies the missing tables, columns and
// unique indexes in one transaction.
func (a *Atlas) Create(ctx context.Context, tables ...*entity.Table) (err error) {
	if res := ValidateSchema(tables); res.HasErrors() {
		return fmt.Errorf("sql/schema: invalid schema:\n%s", res)
	}
	tx, err := a.drv.Tx(ctx)
	if err != nil {
		return fmt.Errorf("sql/schema: begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				err = fmt.Errorf("%w: %w", err, rerr)
			}
		}
	}()
	drv, changes, err := a.changes(ctx, tx, tables)
	if err != nil {
		return err
	}
	if len(changes) > 0 {
		if err := drv.ApplyChanges(ctx, changes); err != nil {
			return fmt.Errorf("sql/schema: apply changes: %w", err)
		}
	}
	return tx.Commit()
}

// Plan returns the statements Create would run, without running them.
func (a *Atlas) Plan(ctx context.Context, tables ...*entity.Table) ([]string, error) {
	if res := ValidateSchema(tables); res.HasErrors() {
		return nil, fmt.Errorf("sql/schema: invalid schema:\n%s", res)
	}
	drv, changes, err := a.changes(ctx, a.drv, tables)
	if err != nil || len(changes) == 0 {
		return nil, err
	}
	return plan(ctx, drv, changes)
}

// changes inspects the schemas holding tables and returns the filtered diff.
func (a *Atlas) changes(ctx context.Context, ex dialect.ExecQuerier, tables []*entity.Table) (migrate.Driver, []schema.Change, error) {
	drv, err := open(a.dialect, &conn{ExecQuerier: ex})
	if err != nil {
		return nil, nil, fmt.Errorf("sql/schema: open %s driver: %w", a.dialect, err)
	}
	var differ Differ = DiffFunc(func(current, desired *schema.Schema) ([]schema.Change, error) {
		changes, err := drv.SchemaDiff(current, desired)
		if err != nil {
			return nil, err
		}
		return additive(changes, a.dialect), nil
	})
	for i := len(a.hooks) - 1; i >= 0; i-- {
		differ = a.hooks[i](differ)
	}
	var changes []schema.Change
	for _, g := range a.group(tables) {
		current, err := drv.InspectSchema(ctx, g.schema, &schema.InspectOptions{Tables: g.names()})
		if err != nil {
			return nil, nil, fmt.Errorf("sql/schema: inspect schema %q: %w", g.schema, err)
		}
		desired := schema.New(current.Name)
		for _, t := range g.tables {
			desired.AddTables(Table(a.dialect, g.base[t], t))
		}
		cs, err := differ.Diff(current, desired)
		if err != nil {
			return nil, nil, fmt.Errorf("sql/schema: diff schema %q: %w", current.Name, err)
		}
		changes = append(changes, cs...)
	}
	return drv, changes, nil
}

type group struct {
	schema string
	tables []*entity.Table
	base   map[*entity.Table]string
}

func (g *group) names() []string {
	names := make([]string, 0, len(g.tables))
	for _, t := range g.tables {
		names = append(names, g.base[t])
	}
	return names
}

// group splits tables by schema qualifier, keeping their order.
func (a *Atlas) group(tables []*entity.Table) []*group {
	var groups []*group
	for _, t := range tables {
		qual, name := a.schema, t.Name
		if q, n, ok := strings.Cut(t.Name, "."); ok {
			qual, name = q, n
		}
		i := slices.IndexFunc(groups, func(g *group) bool { return g.schema == qual })
		if i == -1 {
			groups = append(groups, &group{schema: qual, base: make(map[*entity.Table]string)})
			i = len(groups) - 1
		}
		groups[i].tables = append(groups[i].tables, t)
		groups[i].base[t] = name
	}
	return groups
}

// additive keeps the changes that add tables, columns and indexes. A NOT
// NULL column added to an existing table defaults to the zero value of its
// type, or is made nullable when no literal zero exists.
func additive(changes []schema.Change, name string) []schema.Change {
	var out []schema.Change
	for _, c := range changes {
		switch c := c.(type) {
		case *schema.AddTable:
			out = append(out, c)
		case *schema.ModifyTable:
			var keep []schema.Change
			for _, mc := range c.Changes {
				switch mc := mc.(type) {
				case *schema.AddColumn:
					backfill(mc.C, name)
					keep = append(keep, mc)
				case *schema.AddIndex:
					keep = append(keep, mc)
				}
			}
			if len(keep) > 0 {
				out = append(out, &schema.ModifyTable{T: c.T, Changes: keep})
			}
		}
	}
	return out
}

func backfill(c *schema.Column, name string) {
	if c.Type.Null || c.Default != nil {
		return
	}
	switch c.Type.Type.(type) {
	case *schema.IntegerType, *schema.FloatType:
		c.Default = &schema.Literal{V: "0"}
	case *schema.StringType:
		c.Default = &schema.Literal{V: "''"}
	case *schema.BoolType:
		c.Default = &schema.Literal{V: "false"}
		if name == dialect.SQLite {
			c.Default = &schema.Literal{V: "0"}
		}
	default:
		c.Type.Null = true
	}
}

// CreateTable returns the statements that create t in the given dialect,
// without a database connection.
func CreateTable(name string, t *entity.Table) ([]string, error) {
	var pa migrate.PlanApplier
	switch name {
	case dialect.MySQL:
		pa = mysql.DefaultPlan
	case dialect.Postgres:
		pa = postgres.DefaultPlan
	case dialect.SQLite:
		pa = sqlite.DefaultPlan
	default:
		return nil, fmt.Errorf("sql/schema: unsupported dialect %q", name)
	}
	qual, base := "", t.Name
	if q, n, ok := strings.Cut(t.Name, "."); ok {
		qual, base = q, n
	}
	tbl := Table(name, base, t)
	schema.New(qual).AddTables(tbl)
	return plan(context.Background(), pa, []schema.Change{&schema.AddTable{T: tbl}})
}

func plan(ctx context.Context, pa migrate.PlanApplier, changes []schema.Change) ([]string, error) {
	p, err := pa.PlanChanges(ctx, "datakit", changes)
	if err != nil {
		return nil, fmt.Errorf("sql/schema: plan changes: %w", err)
	}
	stmts := make([]string, 0, len(p.Changes))
	for _, c := range p.Changes {
		stmts = append(stmts, c.Cmd)
	}
	return stmts, nil
}

// Table returns the Atlas definition of t, named tableName, in the given
// dialect. Unique columns get an index named <table>_<column>_key.
func Table(name, tableName string, t *entity.Table) *schema.Table {
	tbl := schema.NewTable(tableName)
	for _, c := range t.Columns {
		col := &schema.Column{
			Name: c.Name,
			Type: &schema.ColumnType{Type: columnType(name, c.Type), Null: c.Nullable && !c.Key},
		}
		switch {
		case c.Key && c.Auto:
			autoIncrement(name, tbl, col)
		case c.Version:
			col.Type.Null = false
			col.Default = &schema.Literal{V: "1"}
		}
		tbl.AddColumns(col)
		switch {
		case c.Key:
			tbl.SetPrimaryKey(schema.NewPrimaryKey(col))
		case c.Unique:
			tbl.AddIndexes(schema.NewUniqueIndex(fmt.Sprintf("%s_%s_key", tableName, c.Name)).AddColumns(col))
		}
	}
	return tbl
}

func autoIncrement(name string, tbl *schema.Table, col *schema.Column) {
	switch name {
	case dialect.MySQL:
		col.AddAttrs(&mysql.AutoIncrement{})
	case dialect.Postgres:
		serial := "bigserial"
		if it, ok := col.Type.Type.(*schema.IntegerType); ok && it.T == "integer" {
			serial = "serial"
		}
		col.Type.Type = &postgres.SerialType{T: serial}
	case dialect.SQLite:
		col.Type.Type = &schema.IntegerType{T: "integer"}
		tbl.AddAttrs(&sqlite.AutoIncrement{})
	}
}

func columnType(name string, t reflect.Type) schema.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if v, ok := nullTypes[t]; ok {
		t = v
	}
	switch name {
	case dialect.SQLite:
		return sqliteType(t)
	case dialect.Postgres:
		return postgresType(t)
	default:
		return mysqlType(t)
	}
}

func sqliteType(t reflect.Type) schema.Type {
	switch {
	case t == timeType:
		return &schema.TimeType{T: "datetime"}
	case t == bytesType:
		return &schema.BinaryType{T: "blob"}
	}
	switch t.Kind() {
	case reflect.Bool:
		return &schema.BoolType{T: "bool"}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return &schema.IntegerType{T: "integer"}
	case reflect.Float32, reflect.Float64:
		return &schema.FloatType{T: "real"}
	default:
		return &schema.StringType{T: "text"}
	}
}

func postgresType(t reflect.Type) schema.Type {
	switch {
	case t == timeType:
		return &schema.TimeType{T: "timestamp with time zone"}
	case t == bytesType:
		return &schema.BinaryType{T: "bytea"}
	}
	switch t.Kind() {
	case reflect.Bool:
		return &schema.BoolType{T: "boolean"}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return &schema.IntegerType{T: "integer"}
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return &schema.IntegerType{T: "bigint"}
	case reflect.Float32, reflect.Float64:
		return &schema.FloatType{T: "double precision"}
	default:
		return &schema.StringType{T: "text"}
	}
}

func mysqlType(t reflect.Type) schema.Type {
	switch {
	case t == timeType:
		p := 6
		return &schema.TimeType{T: "datetime", Precision: &p}
	case t == bytesType:
		return &schema.BinaryType{T: "blob"}
	}
	switch t.Kind() {
	case reflect.Bool:
		return &schema.BoolType{T: "bool"}
	case reflect.Int8, reflect.Int16, reflect.Int32, reflect.Uint8, reflect.Uint16:
		return &schema.IntegerType{T: "int"}
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return &schema.IntegerType{T: "bigint"}
	case reflect.Float32, reflect.Float64:
		return &schema.FloatType{T: "double"}
	case reflect.String:
		return &schema.StringType{T: "varchar", Size: 255}
	default:
		return &schema.StringType{T: "text"}
	}
}

func open(name string, c *conn) (migrate.Driver, error) {
	switch name {
	case dialect.MySQL:
		return mysql.Open(c)
	case dialect.Postgres:
		return postgres.Open(c)
	case dialect.SQLite:
		return sqlite.Open(c)
	}
	return nil, fmt.Errorf("unsupported dialect %q", name)
}

// conn exposes a dialect.ExecQuerier as the database/sql style interface
// the Atlas drivers inspect and apply through.
type conn struct {
	dialect.ExecQuerier
}

func (c *conn) QueryContext(ctx context.Context, query string, args ...any) (*dsql.Rows, error) {
	rows := &sql.Rows{}
	if err := c.ExecQuerier.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	r, ok := rows.ColumnScanner.(*dsql.Rows)
	if !ok {
		_ = rows.Close()
		return nil, errors.New("sql/schema: driver does not return *sql.Rows")
	}
	return r, nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args ...any) (dsql.Result, error) {
	var res dsql.Result
	if err := c.ExecQuerier.Exec(ctx, query, args, &res); err != nil {
		return nil, err
	}
	return res, nil
}
