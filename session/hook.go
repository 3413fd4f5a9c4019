package session

import (
	"context"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect/sql"
	"github.com/syssam/datakit/schema"
)

// Validator is implemented by entities that check themselves before they
// are inserted or updated. Returning a *datakit.FieldError, a
// *datakit.ValidationError or several of them joined with errors.Join names
// the failing properties.
type Validator interface {
	Validate() error
}

// Saver writes the pending changes of one save.
type Saver interface {
	Save(context.Context, *SaveContext) error
}

// The SaverFunc type is an adapter to allow the use of ordinary
// functions as Saver.
type SaverFunc func(context.Context, *SaveContext) error

// Save calls f(ctx, w).
func (f SaverFunc) Save(ctx context.Context, w *SaveContext) error {
	return f(ctx, w)
}

// Hook defines the "save middleware". A function that gets a Saver
// and returns a Saver. For example:
//
//	hook := func(next session.Saver) session.Saver {
//		return session.SaverFunc(func(ctx context.Context, w *session.SaveContext) error {
//			fmt.Printf("saving %d changes\n", w.ChangeSet().Len())
//			return next.Save(ctx, w)
//		})
//	}
type Hook func(Saver) Saver

// SaveContext is the state of one save, handed to hooks. Statements run
// through it join the save transaction.
type SaveContext struct {
	sess    *Session
	scope   *Scope
	ops     []*op
	changes *datakit.ChangeSet
}

// Session returns the saving session.
func (w *SaveContext) Session() *Session { return w.sess }

// ChangeSet returns the changes being saved.
func (w *SaveContext) ChangeSet() *datakit.ChangeSet { return w.changes }

// Entries returns the entries being saved, inserts first, then updates,
// then deletes.
func (w *SaveContext) Entries() []*Entry {
	entries := make([]*Entry, len(w.ops))
	for i, o := range w.ops {
		entries[i] = o.entry
	}
	return entries
}

// State returns the state e is saved with. It does not change while the
// save runs, unlike e.State().
func (w *SaveContext) State(e *Entry) datakit.State {
	if o := w.op(e); o != nil {
		return o.state
	}
	return e.State()
}

// Written reports whether the change of e reached the database. It is false
// before the inner saver runs and for changes discarded by a DatabaseWins
// resolution.
func (w *SaveContext) Written(e *Entry) bool {
	o := w.op(e)
	return o != nil && o.written && !o.resolved
}

func (w *SaveContext) op(e *Entry) *op {
	for _, o := range w.ops {
		if o.entry == e {
			return o
		}
	}
	return nil
}

// Exec executes a statement in the save transaction.
func (w *SaveContext) Exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return sql.ExecResult(ctx, w.scope, query, args)
}

// Insert writes entity in the save transaction without tracking it. A
// generated key and the initial version are set on entity immediately.
func (w *SaveContext) Insert(ctx context.Context, entity any) error {
	t, err := schema.Of(entity)
	if err != nil {
		return err
	}
	if err := t.Check(entity); err != nil {
		return err
	}
	o := &op{entry: &Entry{entity: entity, table: t, state: datakit.Added}, state: datakit.Added}
	if err := o.initVersion(); err != nil {
		return err
	}
	if err := w.sess.insert(ctx, w.scope, o); err != nil {
		return err
	}
	if o.version != nil {
		return t.SetValue(entity, t.Version, o.version)
	}
	return nil
}
