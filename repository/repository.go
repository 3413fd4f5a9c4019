// Package repository provides a typed CRUD facade over a session for one
// entity type.
//
//	customers := repository.New[Customer](s)
//	c, err := customers.FindByID(ctx, 42)
//	...
//	c.Name = "Ada"
//	cs, err := customers.Save(ctx)
package repository

import (
	"context"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect/sql"
	"github.com/syssam/datakit/schema"
	"github.com/syssam/datakit/session"
)

// Repository is a client for the entities of type T tracked by a session.
// Writes are staged in the session until Save.
type Repository[T any] struct {
	sess *session.Session
}

// New returns a new Repository over s.
func New[T any](s *session.Session) *Repository[T] {
	return &Repository[T]{sess: s}
}

// Session returns the underlying session.
func (r *Repository[T]) Session() *session.Session { return r.sess }

// Table returns the mapping of T.
func (r *Repository[T]) Table() (*schema.Table, error) { return schema.For[T]() }

// Add stages e for insertion.
func (r *Repository[T]) Add(e *T) error {
	return r.sess.Add(e)
}

// AddRange stages every entity for insertion.
func (r *Repository[T]) AddRange(es ...*T) error {
	for _, e := range es {
		if err := r.sess.Add(e); err != nil {
			return err
		}
	}
	return nil
}

// Remove stages e for deletion.
func (r *Repository[T]) Remove(e *T) error {
	return r.sess.Remove(e)
}

// RemoveRange stages every entity for deletion.
func (r *Repository[T]) RemoveRange(es ...*T) error {
	for _, e := range es {
		if err := r.sess.Remove(e); err != nil {
			return err
		}
	}
	return nil
}

// RemoveAll loads every entity of type T and stages it for deletion.
func (r *Repository[T]) RemoveAll(ctx context.Context) error {
	all, err := r.GetAll(ctx)
	if err != nil {
		return err
	}
	return r.RemoveRange(all...)
}

// Update marks every property of e as modified. An entity that was not
// loaded by the session is attached first, so its key and version must be
// set.
func (r *Repository[T]) Update(e *T) error {
	return r.sess.MarkModified(e)
}

// UpdateProperty marks one property of e as modified.
func (r *Repository[T]) UpdateProperty(e *T, prop string) error {
	return r.sess.MarkModified(e, prop)
}

// UpdateProperties marks the named properties of e as modified.
func (r *Repository[T]) UpdateProperties(e *T, props ...string) error {
	if len(props) == 0 {
		return nil
	}
	return r.sess.MarkModified(e, props...)
}

// FindByID returns a T entity by its id. A tracked entity is returned
// without a query; a missing row is a *datakit.NotFoundError.
func (r *Repository[T]) FindByID(ctx context.Context, id any) (*T, error) {
	return session.Find[T](ctx, r.sess, id)
}

// Find is like FindByID, but a missing row returns nil and no error.
func (r *Repository[T]) Find(ctx context.Context, id any) (*T, error) {
	e, err := r.FindByID(ctx, id)
	if datakit.IsNotFound(err) {
		return nil, nil
	}
	return e, err
}

// FindByIDX is like FindByID, but panics if an error occurs.
func (r *Repository[T]) FindByIDX(ctx context.Context, id any) *T {
	e, err := r.FindByID(ctx, id)
	if err != nil {
		panic(err)
	}
	return e
}

// FindByIDs loads the entities with the given ids in one query. The result
// has one element per id, in the order of ids; a missing id leaves a nil
// element and contributes a *datakit.NotFoundError to the returned error.
func (r *Repository[T]) FindByIDs(ctx context.Context, ids ...any) ([]*T, error) {
	t, err := schema.For[T]()
	if err != nil {
		return nil, err
	}
	keys := make([]any, len(ids))
	for i, id := range ids {
		if keys[i], err = t.Key.Convert(id); err != nil {
			return nil, err
		}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	list, err := session.Select[T](ctx, r.sess, sql.In(t.Key.Name, keys...))
	if err != nil {
		return nil, err
	}
	lookup := make(map[any]*T, len(list))
	for _, e := range list {
		lookup[t.Get(e, t.Key)] = e
	}
	result := make([]*T, len(keys))
	var errs []error
	for i, key := range keys {
		if e, ok := lookup[key]; ok {
			result[i] = e
			continue
		}
		errs = append(errs, datakit.NewNotFoundErrorWithID(t.Type.Name(), key))
	}
	return result, datakit.NewAggregateError(errs...)
}

// FindBy returns the entities matching every predicate.
func (r *Repository[T]) FindBy(ctx context.Context, preds ...sql.Predicate) ([]*T, error) {
	return session.Select[T](ctx, r.sess, preds...)
}

// Only returns the single entity matching the predicates. No match is a
// *datakit.NotFoundError, several are a *datakit.NotSingularError.
func (r *Repository[T]) Only(ctx context.Context, preds ...sql.Predicate) (*T, error) {
	list, err := r.FindBy(ctx, preds...)
	if err != nil {
		return nil, err
	}
	switch len(list) {
	case 1:
		return list[0], nil
	case 0:
		return nil, datakit.NewNotFoundError(r.label())
	default:
		return nil, datakit.NewNotSingularErrorWithCount(r.label(), len(list))
	}
}

// GetAll returns every entity of type T.
func (r *Repository[T]) GetAll(ctx context.Context) ([]*T, error) {
	return session.Select[T](ctx, r.sess)
}

// Save writes the pending changes of the session, not only those of T.
func (r *Repository[T]) Save(ctx context.Context) (*datakit.ChangeSet, error) {
	return r.sess.SaveChanges(ctx)
}

func (r *Repository[T]) label() string {
	t, err := schema.For[T]()
	if err != nil {
		return "entity"
	}
	return t.Type.Name()
}
