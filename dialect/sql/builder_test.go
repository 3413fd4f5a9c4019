package sql

import (
	"testing"

	"github.com/syssam/datakit/dialect"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilder(t *testing.T) {
	tests := []struct {
		input     Querier
		wantQuery string
		wantArgs  []any
	}{
		{
			input:     Dialect(dialect.Postgres).Insert("users").Columns("name", "age").Values("a8m", 10).Returning("id"),
			wantQuery: `INSERT INTO "users" ("name", "age") VALUES ($1, $2) RETURNING "id"`,
			wantArgs:  []any{"a8m", 10},
		},
		{
			input:     Dialect(dialect.MySQL).Insert("users").Columns("name", "age").Values("a8m", 10).Values("foo", 20).Returning("id"),
			wantQuery: "INSERT INTO `users` (`name`, `age`) VALUES (?, ?), (?, ?)",
			wantArgs:  []any{"a8m", 10, "foo", 20},
		},
		{
			input:     Dialect(dialect.SQLite).Insert("users"),
			wantQuery: `INSERT INTO "users" DEFAULT VALUES`,
		},
		{
			input:     Dialect(dialect.MySQL).Insert("users"),
			wantQuery: "INSERT INTO `users` VALUES ()",
		},
		{
			input: Dialect(dialect.Postgres).Update("users").
				Set("name", "foo").
				Add("version", 1).
				Where(EQ("id", 1)).
				Where(EQ("version", 3)),
			wantQuery: `UPDATE "users" SET "name" = $1, "version" = "version" + $2 WHERE ("id" = $3 AND "version" = $4)`,
			wantArgs:  []any{"foo", 1, 1, 3},
		},
		{
			input:     Dialect(dialect.SQLite).Delete("users").Where(In("id", 1, 2)),
			wantQuery: `DELETE FROM "users" WHERE "id" IN (?, ?)`,
			wantArgs:  []any{1, 2},
		},
		{
			input:     Dialect(dialect.SQLite).Delete("users").Where(In("id")),
			wantQuery: `DELETE FROM "users" WHERE 1 = 0`,
		},
		{
			input:     Dialect(dialect.Postgres).Select().From("users"),
			wantQuery: `SELECT * FROM "users"`,
		},
		{
			input: Dialect(dialect.Postgres).Select("id", "name").
				From("public.users").
				Where(Or(EQ("name", "a"), And(GT("age", 1), Not(IsNull("email"))))).
				OrderBy("-age", "name").
				Limit(10).
				Offset(5),
			wantQuery: `SELECT "id", "name" FROM "public"."users" WHERE ("name" = $1 OR ("age" > $2 AND NOT ("email" IS NULL))) ORDER BY "age" DESC, "name" LIMIT 10 OFFSET 5`,
			wantArgs:  []any{"a", 1},
		},
		{
			input:     Dialect(dialect.MySQL).Select("id").From("users").Where(Contains("name", "bar")),
			wantQuery: "SELECT `id` FROM `users` WHERE `name` LIKE ?",
			wantArgs:  []any{"%bar%"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.wantQuery, func(t *testing.T) {
			query, args := tt.input.Query()
			assert.Equal(t, tt.wantQuery, query)
			assert.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestQuote(t *testing.T) {
	b := &Builder{dialect: dialect.Postgres}
	assert.Equal(t, `"a""b"`, b.Quote(`a"b`))
	assert.Equal(t, `"already"`, b.Quote(`"already"`))
	assert.Equal(t, "*", b.Quote("*"))

	b = &Builder{dialect: dialect.MySQL}
	assert.Equal(t, "`s`.`t`", b.Quote("s.t"))
}

func TestTypedFields(t *testing.T) {
	var (
		age  = Field[int]("age")
		name = StringField("name")
	)
	query, args := Dialect(dialect.Postgres).Select("id").From("users").
		Where(age.GTE(18)).
		Where(age.In(18, 21)).
		Where(name.HasPrefix("a")).
		Query()
	require.Equal(t, `SELECT "id" FROM "users" WHERE ("age" >= $1 AND "age" IN ($2, $3) AND "name" LIKE $4)`, query)
	require.Equal(t, []any{18, 18, 21, "a%"}, args)
	assert.Equal(t, "age", age.Name())
}
