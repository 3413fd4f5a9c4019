package schema_test

import (
	"database/sql"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/syssam/datakit/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type Customer struct {
	ID      int64  `db:"id,pk,auto"`
	Email   string `db:"email,unique"`
	Name    string
	Nick    *string
	Notes   sql.NullString
	Version int64 `db:"version,version"`
	secret  string
}

type stamp struct {
	CreatedBy string
	CreatedAt time.Time
}

type OrderLine struct {
	stamp
	ID       int
	OrderID  int64
	Quantity int
	Ignored  string `db:"-"`
}

type Country struct {
	Code string `db:"code,pk"`
	Name string
}

func (Country) TableName() string { return "geo.countries" }

func TestOf(t *testing.T) {
	tbl, err := schema.Of(&Customer{})
	require.NoError(t, err)
	assert.Equal(t, "customers", tbl.Name)
	assert.Equal(t, reflect.TypeFor[Customer](), tbl.Type)
	assert.Equal(t, []string{"id", "email", "name", "nick", "notes", "version"}, tbl.ColumnNames())
	require.NotNil(t, tbl.Key)
	assert.Equal(t, "ID", tbl.Key.Field)
	assert.True(t, tbl.Key.Auto)
	require.NotNil(t, tbl.Version)
	assert.Equal(t, "version", tbl.Version.Name)

	email, ok := tbl.Lookup("Email")
	require.True(t, ok)
	assert.True(t, email.Unique)
	nick, ok := tbl.Lookup("nick")
	require.True(t, ok)
	assert.True(t, nick.Nullable)
	notes, _ := tbl.Lookup("Notes")
	assert.True(t, notes.Nullable)
	_, ok = tbl.Lookup("secret")
	assert.False(t, ok)

	again, err := schema.Of(Customer{})
	require.NoError(t, err)
	assert.Same(t, tbl, again)
}

func TestOfEmbedded(t *testing.T) {
	tbl, err := schema.For[OrderLine]()
	require.NoError(t, err)
	assert.Equal(t, "order_lines", tbl.Name)
	assert.Equal(t, []string{"created_by", "created_at", "id", "order_id", "quantity"}, tbl.ColumnNames())
	assert.True(t, tbl.Key.Auto, "integer ID keys are generated")
	assert.Nil(t, tbl.Version)

	line := &OrderLine{Quantity: 3}
	line.CreatedBy = "ops"
	values := tbl.Values(line)
	assert.Equal(t, "ops", values["created_by"])
	assert.Equal(t, 3, values["quantity"])
}

func TestTableNamer(t *testing.T) {
	tbl, err := schema.Of(reflect.TypeFor[*Country]())
	require.NoError(t, err)
	assert.Equal(t, "geo.countries", tbl.Name)
	assert.False(t, tbl.Key.Auto)
}

func TestOfErrors(t *testing.T) {
	type noKey struct{ Name string }
	type NoKey struct{ Name string }
	type TwoVersions struct {
		ID int
		A  int `db:"a,version"`
		B  int `db:"b,version"`
	}
	type BadOption struct {
		ID int `db:"id,primary"`
	}
	type StringVersion struct {
		ID int
		V  string `db:"v,version"`
	}
	for _, v := range []any{nil, 1, struct{ ID int }{}, noKey{}, NoKey{}, TwoVersions{}, BadOption{}, StringVersion{}} {
		_, err := schema.Of(v)
		assert.Error(t, err, "%T", v)
	}
}

func TestConcurrentOf(t *testing.T) {
	type Parallel struct {
		ID   int64
		Name string
	}
	var (
		wg  sync.WaitGroup
		got = make([]*schema.Table, 8)
	)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got[i] = schema.MustOf(&Parallel{})
		}()
	}
	wg.Wait()
	for _, tbl := range got[1:] {
		assert.Same(t, got[0], tbl)
	}
}

func TestValues(t *testing.T) {
	tbl := schema.MustOf(&Customer{})
	nick := "al"
	c := &Customer{ID: 7, Email: "a@b.c", Name: "Al", Nick: &nick, Version: 2}

	values := tbl.Values(c)
	assert.Equal(t, int64(7), values["id"])
	assert.Equal(t, "Al", values["name"])
	nick = "changed"
	assert.Equal(t, "al", *values["nick"].(*string), "snapshots do not alias the entity")

	require.NoError(t, tbl.Set(c, map[string]any{"Name": "Bob", "version": 3, "nick": "b"}))
	assert.Equal(t, "Bob", c.Name)
	assert.Equal(t, int64(3), c.Version)
	require.NotNil(t, c.Nick)
	assert.Equal(t, "b", *c.Nick)

	require.NoError(t, tbl.Set(c, map[string]any{"nick": nil}))
	assert.Nil(t, c.Nick)
	assert.Error(t, tbl.Set(c, map[string]any{"missing": 1}))
	assert.Error(t, tbl.Set(c, map[string]any{"name": 1}))
	assert.Error(t, tbl.Set(Customer{}, nil))

	dst := tbl.New().(*Customer)
	tbl.Copy(dst, c)
	assert.Equal(t, c.Name, dst.Name)
	assert.Equal(t, c.Version, dst.Version)

	dest := tbl.Dest(dst, tbl.Columns[:2])
	require.Len(t, dest, 2)
	assert.Same(t, &dst.ID, dest[0])
}

func TestKeyOf(t *testing.T) {
	k, err := schema.KeyOf(&Country{Code: "NZ"})
	require.NoError(t, err)
	assert.Equal(t, "code", k.Column.Name)
	assert.Equal(t, "NZ", k.Value)
	assert.False(t, k.IsZero())
	assert.Equal(t, "code=NZ", k.String())

	k, err = schema.KeyOf(&Customer{})
	require.NoError(t, err)
	assert.True(t, k.IsZero())

	_, err = schema.MustOf(&Customer{}).KeyOf(&Country{})
	assert.Error(t, err)

	id, err := k.Column.Convert(5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
}
