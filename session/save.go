package session

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
	"github.com/syssam/datakit/dialect/sql/sqlgraph"
	"github.com/syssam/datakit/schema"
)

// op is the pending write of one entry.
type op struct {
	entry    *Entry
	state    datakit.State
	version  any  // version value the write stores
	assigned bool // key generated by the insert
	written  bool
	resolved bool // reconciled with the database, nothing written
}

func (o *op) initVersion() error {
	t := o.entry.table
	if t.Version == nil {
		return nil
	}
	v, err := t.Version.Convert(1)
	if err != nil {
		return err
	}
	o.version = v
	return nil
}

// SaveChanges writes every pending change in one transaction and returns
// what was written. When ctx carries an open Scope on the session's driver
// the writes join it, and the changes are accepted when the scope commits.
//
// A panic in a hook rolls back the transaction the save began before it
// propagates.
//
// Entities implementing Validator are validated first; failures are
// reported together in a *datakit.ValidationError. A stale version is
// handed to the session's Strategy and the write is retried at most
// WithMaxConflictRetries times.
func (s *Session) SaveChanges(ctx context.Context) (*datakit.ChangeSet, error) {
	s.DetectChanges()
	ops, err := s.pending()
	if err != nil {
		return nil, err
	}
	if err := s.validate(ops); err != nil {
		return nil, err
	}
	if len(ops) == 0 {
		return datakit.NewChangeSet(s.Name(), nil), nil
	}
	sc, own, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	if own {
		ctx = context.WithValue(ctx, scopeKey{}, sc)
	}
	defer func() {
		if v := recover(); v != nil {
			s.revertKeys(ops)
			if own {
				_ = sc.Rollback()
			}
			panic(v)
		}
	}()
	w := &SaveContext{sess: s, scope: sc, ops: ops, changes: s.changeSet(ops)}
	if err := s.saver().Save(ctx, w); err != nil {
		s.revertKeys(ops)
		if own {
			if rerr := sc.Rollback(); rerr != nil {
				err = fmt.Errorf("%w: %w", err, rerr)
			}
		}
		return nil, err
	}
	cs := s.changeSet(ops)
	if own {
		if err := sc.Complete(); err != nil {
			s.revertKeys(ops)
			return nil, err
		}
		s.accept(ops)
	} else {
		sc.OnRollback(s.accept(ops))
	}
	s.log.DebugContext(ctx, "changes saved", "session", s.Name(),
		"added", len(cs.Added()), "modified", len(cs.Modified()), "deleted", len(cs.Deleted()))
	return cs, nil
}

// ChangeSet returns the changes a save would write now.
func (s *Session) ChangeSet() (*datakit.ChangeSet, error) {
	s.DetectChanges()
	ops, err := s.pending()
	if err != nil {
		return nil, err
	}
	return s.changeSet(ops), nil
}

// pending returns the writes in save order: inserts, updates, deletes, each
// in tracking order.
func (s *Session) pending() ([]*op, error) {
	var added, modified, deleted []*op
	for _, e := range s.entries {
		o := &op{entry: e, state: e.state}
		switch e.state {
		case datakit.Added:
			if err := o.initVersion(); err != nil {
				return nil, err
			}
			added = append(added, o)
		case datakit.Modified:
			modified = append(modified, o)
		case datakit.Deleted:
			deleted = append(deleted, o)
		}
	}
	return append(append(added, modified...), deleted...), nil
}

func (s *Session) changeSet(ops []*op) *datakit.ChangeSet {
	changes := make([]datakit.Change, 0, len(ops))
	for _, o := range ops {
		if o.resolved {
			continue
		}
		e, t := o.entry, o.entry.table
		var props []datakit.PropertyValue
		for _, c := range t.Columns {
			switch {
			case o.state == datakit.Added && c.Version && o.version != nil:
				props = append(props, datakit.PropertyValue{Name: c.Field, Value: o.version})
			case o.state == datakit.Added, o.state == datakit.Modified && e.modified[c.Name]:
				props = append(props, datakit.PropertyValue{Name: c.Field, Value: t.Get(e.entity, c)})
			case o.state == datakit.Deleted:
				props = append(props, datakit.PropertyValue{Name: c.Field, Value: e.original[c.Name]})
			}
		}
		changes = append(changes, datakit.NewChange(e.entity, o.state, props))
	}
	return datakit.NewChangeSet(s.Name(), changes)
}

func (s *Session) validate(ops []*op) error {
	var errs []*datakit.FieldError
	for _, o := range ops {
		if !o.state.Is(datakit.Added | datakit.Modified) {
			continue
		}
		v, ok := o.entry.entity.(Validator)
		if !ok {
			continue
		}
		if err := v.Validate(); err != nil {
			errs = append(errs, fieldErrors(o.entry.table.Type.Name(), err)...)
		}
	}
	if len(errs) > 0 {
		return &datakit.ValidationError{Errors: errs}
	}
	return nil
}

func fieldErrors(entity string, err error) []*datakit.FieldError {
	var out []*datakit.FieldError
	switch e := err.(type) {
	case *datakit.ValidationError:
		for _, fe := range e.Errors {
			out = append(out, withEntity(entity, fe))
		}
	case *datakit.FieldError:
		out = append(out, withEntity(entity, e))
	case interface{ Unwrap() []error }:
		for _, err := range e.Unwrap() {
			out = append(out, fieldErrors(entity, err)...)
		}
	default:
		out = append(out, &datakit.FieldError{Entity: entity, Err: err})
	}
	return out
}

func withEntity(entity string, fe *datakit.FieldError) *datakit.FieldError {
	c := *fe
	if c.Entity == "" {
		c.Entity = entity
	}
	return &c
}

func (s *Session) begin(ctx context.Context) (*Scope, bool, error) {
	if sc := ScopeFromContext(ctx); sc != nil && !sc.Done() {
		if sc.drv != s.base {
			return nil, false, fmt.Errorf("session %q: ambient scope runs on a different driver", s.Name())
		}
		return sc, false, nil
	}
	tx, err := s.drv.Tx(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("session %q: begin transaction: %w", s.Name(), err)
	}
	return &Scope{drv: s.base, tx: tx}, true, nil
}

func (s *Session) saver() Saver {
	var sv Saver = SaverFunc(s.write)
	for i := len(s.hooks) - 1; i >= 0; i-- {
		sv = s.hooks[i](sv)
	}
	return sv
}

// write is the innermost saver.
func (s *Session) write(ctx context.Context, w *SaveContext) error {
	for _, o := range w.ops {
		var err error
		switch o.state {
		case datakit.Added:
			err = s.insert(ctx, w.scope, o)
		case datakit.Modified:
			err = s.resolve(ctx, w.scope, o, s.update)
		case datakit.Deleted:
			err = s.resolve(ctx, w.scope, o, s.delete)
		}
		if err != nil {
			return err
		}
		o.written = true
	}
	return nil
}

func (s *Session) insert(ctx context.Context, ex dialect.ExecQuerier, o *op) error {
	e, t := o.entry, o.entry.table
	gen := t.Key.Auto && e.Key().IsZero()
	var (
		cols []string
		vals []any
	)
	for _, c := range t.Columns {
		v := t.Get(e.entity, c)
		switch {
		case c.Key && gen:
			continue
		case c.Version:
			v = o.version
		}
		cols = append(cols, c.Name)
		vals = append(vals, v)
	}
	ib := sql.Dialect(s.Dialect()).Insert(t.Name).Columns(cols...).Values(vals...)
	if !gen {
		query, args := ib.Query()
		if _, err := sql.ExecResult(ctx, ex, query, args); err != nil {
			return writeError(t, "insert", err)
		}
		return nil
	}
	var id int64
	if s.Dialect() == dialect.Postgres {
		query, args := ib.Returning(t.Key.Name).Query()
		rows := &sql.Rows{}
		if err := ex.Query(ctx, query, args, rows); err != nil {
			return writeError(t, "insert", err)
		}
		defer rows.Close()
		if !rows.Next() {
			err := rows.Err()
			if err == nil {
				err = errors.New("no key returned")
			}
			return writeError(t, "insert", err)
		}
		if err := rows.Scan(&id); err != nil {
			return writeError(t, "insert", err)
		}
	} else {
		query, args := ib.Query()
		res, err := sql.ExecResult(ctx, ex, query, args)
		if err != nil {
			return writeError(t, "insert", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return writeError(t, "insert", err)
		}
	}
	if err := t.SetValue(e.entity, t.Key, id); err != nil {
		return err
	}
	o.assigned = true
	return nil
}

// match selects the row of e as it was loaded: same key and, when the
// entity has one, same version.
func match(e *Entry) []sql.Predicate {
	t := e.table
	ps := []sql.Predicate{sql.EQ(t.Key.Name, e.Key().Value)}
	if t.Version != nil {
		ps = append(ps, sql.EQ(t.Version.Name, e.original[t.Version.Name]))
	}
	return ps
}

func (s *Session) update(ctx context.Context, ex dialect.ExecQuerier, o *op) (int64, error) {
	e, t := o.entry, o.entry.table
	ub := sql.Dialect(s.Dialect()).Update(t.Name)
	for _, c := range t.Columns {
		if c.Mutable() && e.modified[c.Name] {
			ub.Set(c.Name, t.Get(e.entity, c))
		}
	}
	if ub.Empty() {
		return 1, nil
	}
	if t.Version != nil {
		next, err := nextVersion(t.Version, e.original[t.Version.Name])
		if err != nil {
			return 0, err
		}
		ub.Add(t.Version.Name, 1)
		o.version = next
	}
	for _, p := range match(e) {
		ub.Where(p)
	}
	query, args := ub.Query()
	return affected(ctx, ex, query, args)
}

func (s *Session) delete(ctx context.Context, ex dialect.ExecQuerier, o *op) (int64, error) {
	db := sql.Dialect(s.Dialect()).Delete(o.entry.table.Name)
	for _, p := range match(o.entry) {
		db.Where(p)
	}
	query, args := db.Query()
	return affected(ctx, ex, query, args)
}

func affected(ctx context.Context, ex dialect.ExecQuerier, query string, args []any) (int64, error) {
	res, err := sql.ExecResult(ctx, ex, query, args)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func nextVersion(c *schema.Column, v any) (any, error) {
	var n int64
	switch rv := reflect.ValueOf(v); {
	case rv.CanInt():
		n = rv.Int()
	case rv.CanUint():
		n = int64(rv.Uint())
	}
	return c.Convert(n + 1)
}

// resolve runs a guarded update or delete. When no row matched, the row is
// read back: a missing row is reported as deleted, an unversioned update of
// an existing row is done, otherwise the strategy picks a resolution and the
// write is retried while attempts remain.
func (s *Session) resolve(ctx context.Context, ex dialect.ExecQuerier, o *op, do func(context.Context, dialect.ExecQuerier, *op) (int64, error)) error {
	e, t := o.entry, o.entry.table
	name := t.Type.Name()
	for attempt := 0; ; attempt++ {
		n, err := do(ctx, ex, o)
		if err != nil {
			return writeError(t, opName(o.state), err)
		}
		if n > 0 {
			return nil
		}
		key := e.Key().Value
		db, err := s.fetch(ctx, ex, e)
		if err != nil {
			return datakit.NewQueryError(name, "reload", err)
		}
		if db == nil {
			return &datakit.ConcurrencyError{Entity: name, Key: key, Deleted: true}
		}
		// Without a version the update matched on the key alone, so the row
		// holds the written values and drivers such as MySQL only count it
		// as unaffected.
		if t.Version == nil && o.state == datakit.Modified {
			return nil
		}
		if attempt >= s.retries {
			return &datakit.ConcurrencyError{Entity: name, Key: key}
		}
		dbv := t.Values(db)
		res := s.strategy.Resolve(&Conflict{
			Entity:         e.entity,
			State:          o.state,
			ClientValues:   e.CurrentValues(),
			DatabaseValues: byField(t, dbv),
		})
		s.log.WarnContext(ctx, "concurrency conflict", "session", s.Name(), "entity", name,
			"key", key, "resolution", res.String(), "attempt", attempt+1)
		switch res {
		case ClientWins:
			if o.state == datakit.Modified {
				for _, c := range t.Columns {
					if c.Mutable() && !reflect.DeepEqual(dbv[c.Name], t.Get(e.entity, c)) {
						e.modified[c.Name] = true
					}
				}
			}
			e.original = dbv
		case DatabaseWins:
			t.Copy(e.entity, db)
			e.snapshot()
			e.state = datakit.Unchanged
			o.resolved = true
			return nil
		default:
			return &datakit.ConcurrencyError{Entity: name, Key: key}
		}
	}
}

func opName(s datakit.State) string {
	switch s {
	case datakit.Added:
		return "insert"
	case datakit.Deleted:
		return "delete"
	}
	return "update"
}

func writeError(t *schema.Table, op string, err error) error {
	return datakit.NewUpdateError(t.Type.Name(), op, sqlgraph.Hint(err), err)
}

// accept makes the saved values the new original values and returns a
// function that undoes it.
func (s *Session) accept(ops []*op) func() {
	undo := make([]func(), 0, len(ops))
	for _, o := range ops {
		e, t := o.entry, o.entry.table
		state, original, modified := e.state, e.original, e.modified
		var version any
		if t.Version != nil {
			version = t.Get(e.entity, t.Version)
		}
		switch {
		case o.resolved:
		case o.state == datakit.Deleted:
			s.detach(e)
		default:
			if o.version != nil {
				_ = t.SetValue(e.entity, t.Version, o.version)
			}
			e.snapshot()
			e.state = datakit.Unchanged
			s.register(e)
		}
		undo = append(undo, func() {
			if o.state == datakit.Deleted && !o.resolved {
				s.restore(e)
			}
			if t.Version != nil {
				_ = t.SetValue(e.entity, t.Version, version)
			}
			s.revertKeys([]*op{o})
			e.state, e.original, e.modified = state, original, modified
		})
	}
	return func() { runReverse(undo) }
}

// revertKeys clears the keys generated by inserts that did not commit.
func (s *Session) revertKeys(ops []*op) {
	for _, o := range ops {
		if !o.assigned {
			continue
		}
		e := o.entry
		id := identity{e.table, e.Key().Value}
		if s.byKey[id] == e {
			delete(s.byKey, id)
		}
		_ = e.table.SetValue(e.entity, e.table.Key, nil)
		o.assigned = false
	}
}
