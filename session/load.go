package session

import (
	"context"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
	"github.com/syssam/datakit/schema"
)

// Find returns the entity of type T with the given key. An entity already
// tracked by s is returned without a query. A missing row, or an entity
// pending deletion, is a *datakit.NotFoundError.
func Find[T any](ctx context.Context, s *Session, id any) (*T, error) {
	t, err := schema.For[T]()
	if err != nil {
		return nil, err
	}
	key, err := t.Key.Convert(id)
	if err != nil {
		return nil, err
	}
	if e, ok := s.byKey[identity{t, key}]; ok {
		if e.state == datakit.Deleted {
			return nil, datakit.NewNotFoundErrorWithID(t.Type.Name(), key)
		}
		return e.entity.(*T), nil
	}
	list, err := s.load(ctx, t, "find", sql.EQ(t.Key.Name, key))
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, datakit.NewNotFoundErrorWithID(t.Type.Name(), key)
	}
	return list[0].(*T), nil
}

// Select returns the entities of type T matching every predicate, ordered by
// key. Rows whose key is already tracked resolve to the tracked instance;
// entities pending deletion are left out.
func Select[T any](ctx context.Context, s *Session, preds ...sql.Predicate) ([]*T, error) {
	t, err := schema.For[T]()
	if err != nil {
		return nil, err
	}
	list, err := s.load(ctx, t, "select", preds...)
	if err != nil {
		return nil, err
	}
	out := make([]*T, 0, len(list))
	for _, v := range list {
		out = append(out, v.(*T))
	}
	return out, nil
}

// reader returns the ambient scope when it runs on the session's driver.
func (s *Session) reader(ctx context.Context) dialect.ExecQuerier {
	if sc := ScopeFromContext(ctx); sc != nil && !sc.Done() && sc.drv == s.base {
		return sc
	}
	return s.drv
}

func (s *Session) load(ctx context.Context, t *schema.Table, op string, preds ...sql.Predicate) ([]any, error) {
	sel := sql.Dialect(s.Dialect()).Select(t.ColumnNames()...).From(t.Name).OrderBy(t.Key.Name)
	for _, p := range preds {
		sel.Where(p)
	}
	rows, err := s.scan(ctx, s.reader(ctx), t, sel)
	if err != nil {
		return nil, datakit.NewQueryError(t.Type.Name(), op, err)
	}
	out := make([]any, 0, len(rows))
	for _, v := range rows {
		key, _ := t.KeyOf(v)
		if e, ok := s.byKey[identity{t, key.Value}]; ok {
			if e.state != datakit.Deleted {
				out = append(out, e.entity)
			}
			continue
		}
		if _, err := s.track(v, datakit.Unchanged); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// scan runs sel and returns one new entity per row.
func (s *Session) scan(ctx context.Context, ex dialect.ExecQuerier, t *schema.Table, sel *sql.Selector) ([]any, error) {
	query, args := sel.Query()
	rows := &sql.Rows{}
	if err := ex.Query(ctx, query, args, rows); err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []any
	for rows.Next() {
		v := t.New()
		if err := rows.Scan(t.Dest(v, t.Columns)...); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// fetch reads the current database row of e, or nil when it is gone.
func (s *Session) fetch(ctx context.Context, ex dialect.ExecQuerier, e *Entry) (any, error) {
	t := e.table
	sel := sql.Dialect(s.Dialect()).Select(t.ColumnNames()...).From(t.Name).
		Where(sql.EQ(t.Key.Name, e.Key().Value))
	rows, err := s.scan(ctx, ex, t, sel)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}
