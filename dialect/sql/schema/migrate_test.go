package schema

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	atlas "ariga.io/atlas/sql/schema"

	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
	entity "github.com/syssam/datakit/schema"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

type Product struct {
	ID       int64  `db:"id,pk,auto"`
	SKU      string `db:"sku,unique"`
	Price    float64
	Note     *string
	Active   bool
	Added    time.Time
	Version  int64 `db:"version,version"`
	Checksum []byte
}

type Tag struct {
	Name  string `db:"name,pk"`
	Count int32
}

func TestCreateTable(t *testing.T) {
	product := entity.MustOf(&Product{})
	tests := []struct {
		dialect string
		want    []string
	}{
		{dialect: dialect.SQLite, want: []string{"CREATE TABLE", "products", "PRIMARY KEY", "products_sku_key"}},
		{dialect: dialect.Postgres, want: []string{"CREATE TABLE", "products", "bigserial", "products_sku_key"}},
		{dialect: dialect.MySQL, want: []string{"CREATE TABLE", "products", "AUTO_INCREMENT", "varchar(255)", "products_sku_key"}},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			stmts, err := CreateTable(tt.dialect, product)
			require.NoError(t, err)
			require.NotEmpty(t, stmts)
			all := strings.Join(stmts, ";\n")
			for _, w := range tt.want {
				assert.Contains(t, all, w)
			}
		})
	}
	_, err := CreateTable("oracle", product)
	assert.Error(t, err)
}

func TestTable(t *testing.T) {
	tbl := Table(dialect.Postgres, "products", entity.MustOf(&Product{}))
	require.NotNil(t, tbl.PrimaryKey)
	require.Len(t, tbl.PrimaryKey.Parts, 1)
	assert.Equal(t, "id", tbl.PrimaryKey.Parts[0].C.Name)

	note, ok := tbl.Column("note")
	require.True(t, ok)
	assert.True(t, note.Type.Null)
	version, ok := tbl.Column("version")
	require.True(t, ok)
	assert.False(t, version.Type.Null)
	assert.Equal(t, &atlas.Literal{V: "1"}, version.Default)

	idx, ok := tbl.Index("products_sku_key")
	require.True(t, ok)
	assert.True(t, idx.Unique)
}

func TestValidateSchema(t *testing.T) {
	product, tag := entity.MustOf(&Product{}), entity.MustOf(&Tag{})
	res := ValidateSchema([]*entity.Table{product, tag})
	assert.False(t, res.HasErrors())
	require.True(t, res.HasWarnings())
	assert.Contains(t, res.String(), "tags: table has no version column")

	res = ValidateSchema([]*entity.Table{product, product, nil})
	require.Len(t, res.Errors, 2)
	assert.Contains(t, res.String(), "products: duplicate table name")

	assert.Equal(t, "No issues found", (&ValidationResult{}).String())
}

func TestMigrateSQLite(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "migrate.db")
	drv, err := sql.Open(dialect.SQLite, path)
	require.NoError(t, err)
	defer drv.Close()

	tables := []*entity.Table{entity.MustOf(&Product{}), entity.MustOf(&Tag{})}
	require.NoError(t, Migrate(ctx, drv, tables...))
	require.NoError(t, Migrate(ctx, drv, tables...), "migrating twice is a no-op")

	names, err := Tables(ctx, drv)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"products", "tags"}, names)

	require.NoError(t, drv.Exec(ctx, `INSERT INTO "tags" ("name", "count") VALUES (?, ?)`, []any{"go", 1}, nil))
	require.NoError(t, DropTables(ctx, drv))
	names, err = Tables(ctx, drv)
	require.NoError(t, err)
	assert.Empty(t, names)

	err = Migrate(ctx, drv, tables[0], tables[0])
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate table name")
}

func TestDropDatabasePostgres(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()")).
		WithArgs("shop_test").
		WillReturnRows(sqlmock.NewRows([]string{"pg_terminate_backend"}).AddRow(true))
	mock.ExpectExec(regexp.QuoteMeta(`DROP DATABASE IF EXISTS "shop_test"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta(`CREATE DATABASE "shop_test"`)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	admin := sql.OpenDB(dialect.Postgres, db)
	require.NoError(t, DropDatabase(context.Background(), admin, dialect.Postgres, "shop_test"))
	require.NoError(t, CreateDatabase(context.Background(), admin, dialect.Postgres, "shop_test"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDropDatabaseMySQL(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(regexp.QuoteMeta("DROP DATABASE IF EXISTS `shop_test`")).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE DATABASE IF NOT EXISTS `shop_test`")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	admin := sql.OpenDB(dialect.MySQL, db)
	require.NoError(t, DropDatabase(context.Background(), admin, dialect.MySQL, "shop_test"))
	require.NoError(t, CreateDatabase(context.Background(), admin, dialect.MySQL, "shop_test"))
	require.NoError(t, mock.ExpectationsWereMet())
	require.Error(t, DropDatabase(context.Background(), admin, "oracle", "x"))
}

func TestDropDatabaseSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gone.db")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path+"-wal", []byte("x"), 0o600))

	require.NoError(t, DropDatabase(context.Background(), nil, dialect.SQLite, path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(path + "-wal")
	assert.True(t, os.IsNotExist(err))
	require.NoError(t, DropDatabase(context.Background(), nil, dialect.SQLite, path), "missing files are ignored")
	require.NoError(t, CreateDatabase(context.Background(), nil, dialect.SQLite, path))
}

type NoteV1 struct {
	ID    int64
	Title string
}

func (NoteV1) TableName() string { return "notes" }

type NoteV2 struct {
	ID      int64
	Title   string
	Body    *string
	Views   int
	Pinned  bool
	Slug    string `db:"slug,unique"`
	Created time.Time
}

func (NoteV2) TableName() string { return "notes" }

func TestMigrateAddsColumns(t *testing.T) {
	ctx := context.Background()
	drv, err := sql.Open(dialect.SQLite, filepath.Join(t.TempDir(), "notes.db"))
	require.NoError(t, err)
	defer drv.Close()

	require.NoError(t, Migrate(ctx, drv, entity.MustOf(&NoteV1{})))
	require.NoError(t, drv.Exec(ctx, `INSERT INTO "notes" ("title") VALUES (?)`, []any{"first"}, nil))

	v2 := entity.MustOf(&NoteV2{})
	m, err := NewMigrate(drv)
	require.NoError(t, err)
	stmts, err := m.Plan(ctx, v2)
	require.NoError(t, err)
	all := strings.Join(stmts, ";\n")
	for _, c := range []string{"body", "views", "pinned", "slug", "created", "notes_slug_key"} {
		assert.Contains(t, all, c)
	}

	require.NoError(t, m.Create(ctx, v2))
	stmts, err = m.Plan(ctx, v2)
	require.NoError(t, err)
	assert.Empty(t, stmts, "nothing left to add")

	rows, err := sql.ScanMaps(ctx, drv, `SELECT "title", "body", "views", "pinned", "slug" FROM "notes"`, []any{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "first", rows[0]["title"])
	assert.Nil(t, rows[0]["body"])
	assert.EqualValues(t, 0, rows[0]["views"])
	assert.Equal(t, "", rows[0]["slug"])

	require.NoError(t, drv.Exec(ctx, `INSERT INTO "notes" ("title", "views", "pinned", "slug") VALUES (?, ?, ?, ?)`,
		[]any{"second", 3, true, "second"}, nil))
	err = drv.Exec(ctx, `INSERT INTO "notes" ("title", "slug") VALUES (?, ?)`, []any{"third", "second"}, nil)
	require.Error(t, err, "unique index was added")

	require.NoError(t, Migrate(ctx, drv, entity.MustOf(&NoteV1{})), "removed fields keep their columns")
	rows, err = sql.ScanMaps(ctx, drv, `SELECT "slug" FROM "notes" ORDER BY "id"`, []any{})
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestMigrateDiffHook(t *testing.T) {
	ctx := context.Background()
	drv, err := sql.Open(dialect.SQLite, filepath.Join(t.TempDir(), "hook.db"))
	require.NoError(t, err)
	defer drv.Close()

	var seen []string
	m, err := NewMigrate(drv, WithDiffHook(func(next Differ) Differ {
		return DiffFunc(func(current, desired *atlas.Schema) ([]atlas.Change, error) {
			changes, err := next.Diff(current, desired)
			if err != nil {
				return nil, err
			}
			var keep []atlas.Change
			for _, c := range changes {
				if add, ok := c.(*atlas.AddTable); ok {
					seen = append(seen, add.T.Name)
					if add.T.Name == "tags" {
						continue
					}
				}
				keep = append(keep, c)
			}
			return keep, nil
		})
	}))
	require.NoError(t, err)
	require.NoError(t, m.Create(ctx, entity.MustOf(&Product{}), entity.MustOf(&Tag{})))
	assert.Equal(t, []string{"products", "tags"}, seen)

	names, err := Tables(ctx, drv)
	require.NoError(t, err)
	assert.Equal(t, []string{"products"}, names)

	_, err = NewMigrate(sql.OpenDB("oracle", nil))
	assert.Error(t, err)
}
