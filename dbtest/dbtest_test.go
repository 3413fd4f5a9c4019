package dbtest_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dbtest"
	"github.com/syssam/datakit/dialect"
)

type Item struct {
	ID   int64
	Name string
}

func TestNew(t *testing.T) {
	var path string
	t.Run("db", func(t *testing.T) {
		db := dbtest.New(t, dbtest.WithModels(&Item{}))
		assert.Equal(t, dialect.SQLite, db.Driver().Dialect())
		var err error
		path, err = db.Connection().Database()
		require.NoError(t, err)
		assert.FileExists(t, path)

		s := db.Session()
		require.NoError(t, s.Add(&Item{Name: "a"}))
		_, err = s.SaveChanges(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, db.Count("items"))
		rows := db.Rows("SELECT name FROM items WHERE id = ?", 1)
		require.Len(t, rows, 1)
		assert.Equal(t, "a", rows[0]["name"])
	})
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}

func TestSeparateDatabases(t *testing.T) {
	a := dbtest.New(t, dbtest.WithModels(&Item{}))
	b := dbtest.New(t, dbtest.WithModels(&Item{}))
	pa, err := a.Connection().Database()
	require.NoError(t, err)
	pb, err := b.Connection().Database()
	require.NoError(t, err)
	assert.NotEqual(t, pa, pb)
}

func TestRandomConnection(t *testing.T) {
	conn := datakit.Connection{Name: "main", Dialect: dialect.Postgres, DataSource: "postgres://app@localhost/shop"}
	first := dbtest.RandomConnection(t, conn)
	second := dbtest.RandomConnection(t, conn)
	assert.NotEqual(t, first.DataSource, second.DataSource)
	db, err := first.Database()
	require.NoError(t, err)
	assert.Contains(t, db, "shop")
}
