package session_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect/sql"
	"github.com/syssam/datakit/session"
)

func TestScopeComplete(t *testing.T) {
	db := newDB(t)
	ctx, sc, err := session.BeginScope(context.Background(), db.Driver())
	require.NoError(t, err)
	require.Same(t, sc, session.ScopeFromContext(ctx))

	customers, products := db.Session(), db.Session()
	c := &Customer{Name: "Ada", Email: "ada@example.com"}
	require.NoError(t, customers.Add(c))
	_, err = customers.SaveChanges(ctx)
	require.NoError(t, err)
	require.NoError(t, products.Add(&Product{SKU: "p-1", Price: 3}))
	_, err = products.SaveChanges(ctx)
	require.NoError(t, err)

	assert.NotZero(t, c.ID)
	assert.Equal(t, 0, db.Count("customers"))

	found, err := session.Find[Customer](ctx, db.Session(), c.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", found.Name)

	committed := false
	sc.OnCommit(func() { committed = true })
	require.NoError(t, sc.Complete())
	assert.True(t, committed)
	assert.True(t, sc.Done())
	assert.Equal(t, 1, db.Count("customers"))
	assert.Equal(t, 1, db.Count("products"))
	assert.Equal(t, datakit.Unchanged, customers.Entry(c).State())

	_, err = sql.ExecResult(ctx, sc, "DELETE FROM customers", nil)
	assert.Error(t, err)
}

func TestScopeRollback(t *testing.T) {
	db := newDB(t)
	seeded := seedCustomer(t, db)
	ctx, sc, err := session.BeginScope(context.Background(), db.Driver())
	require.NoError(t, err)

	s := db.Session()
	added := &Customer{Name: "Grace", Email: "grace@example.com"}
	require.NoError(t, s.Add(added))
	existing, err := session.Find[Customer](ctx, s, seeded.ID)
	require.NoError(t, err)
	existing.Credit = 50
	_, err = s.SaveChanges(ctx)
	require.NoError(t, err)
	assert.NotZero(t, added.ID)
	assert.Equal(t, int64(2), existing.Version)

	rolled := false
	sc.OnRollback(func() { rolled = true })
	require.NoError(t, sc.Rollback())
	assert.True(t, rolled)
	require.NoError(t, sc.Rollback())

	assert.Zero(t, added.ID)
	assert.Equal(t, datakit.Added, s.Entry(added).State())
	assert.Equal(t, datakit.Modified, s.Entry(existing).State())
	assert.Equal(t, int64(1), existing.Version)
	assert.Equal(t, 1, db.Count("customers"))

	_, err = s.SaveChanges(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, db.Count("customers"))
}

func TestScopeNested(t *testing.T) {
	db := newDB(t)
	ctx, sc, err := session.BeginScope(context.Background(), db.Driver())
	require.NoError(t, err)
	defer sc.Rollback()
	_, _, err = session.BeginScope(ctx, db.Driver())
	assert.ErrorIs(t, err, datakit.ErrTxStarted)
}

func TestScopeOtherDriver(t *testing.T) {
	db, other := newDB(t), newDB(t)
	ctx, sc, err := session.BeginScope(context.Background(), db.Driver())
	require.NoError(t, err)
	defer sc.Rollback()

	s := other.Session()
	require.NoError(t, s.Add(&Customer{Name: "Ada", Email: "ada@example.com"}))
	_, err = s.SaveChanges(ctx)
	assert.ErrorContains(t, err, "different driver")
}

func TestWithScope(t *testing.T) {
	db := newDB(t)
	s := db.Session()
	c := &Customer{Name: "Ada", Email: "ada@example.com"}

	err := session.WithScope(context.Background(), db.Driver(), func(ctx context.Context) error {
		require.NoError(t, s.Add(c))
		if _, err := s.SaveChanges(ctx); err != nil {
			return err
		}
		return errors.New("abort")
	})
	require.EqualError(t, err, "abort")
	assert.Equal(t, 0, db.Count("customers"))
	assert.Zero(t, c.ID)

	err = session.WithScope(context.Background(), db.Driver(), func(ctx context.Context) error {
		_, err := s.SaveChanges(ctx)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, 1, db.Count("customers"))

	assert.Panics(t, func() {
		_ = session.WithScope(context.Background(), db.Driver(), func(ctx context.Context) error {
			c.Name = "Grace"
			_, err := s.SaveChanges(ctx)
			require.NoError(t, err)
			panic("boom")
		})
	})
	rows := db.Rows("SELECT name FROM customers")
	require.Len(t, rows, 1)
	assert.Equal(t, "Ada", rows[0]["name"])
}
