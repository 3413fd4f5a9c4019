// Package uow commits several sessions as one unit: every registered
// context is saved inside a single ambient scope, so either all of their
// changes are committed or none are.
package uow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/session"
)

// Context is a unit that can be saved. *session.Session and *audit.Context
// implement it.
type Context interface {
	Name() string
	Driver() dialect.Driver
	SaveChanges(context.Context) (*datakit.ChangeSet, error)
}

// UnitOfWork holds contexts saved together by Commit. Contexts are saved in
// registration order.
type UnitOfWork struct {
	mu       sync.Mutex
	contexts []Context
	log      *slog.Logger
}

// Option configures a UnitOfWork.
type Option func(*UnitOfWork)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *UnitOfWork) {
		if l != nil {
			u.log = l
		}
	}
}

// New returns an empty UnitOfWork.
func New(opts ...Option) *UnitOfWork {
	u := &UnitOfWork{log: slog.Default()}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Register adds c. Context names are unique within a unit of work.
func (u *UnitOfWork) Register(c Context) error {
	if c == nil {
		return errors.New("uow: nil context")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, x := range u.contexts {
		if x.Name() == c.Name() {
			return fmt.Errorf("uow: context %q is already registered", c.Name())
		}
	}
	u.contexts = append(u.contexts, c)
	return nil
}

// Context returns the registered context with the given name.
func (u *UnitOfWork) Context(name string) (Context, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	for _, c := range u.contexts {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// Contexts returns the registered contexts in registration order.
func (u *UnitOfWork) Contexts() []Context {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]Context(nil), u.contexts...)
}

// Commit saves every context in one scope and returns their change sets in
// registration order. Any failure rolls the scope back and is returned as a
// *datakit.UnitOfWorkError naming the context being saved. All contexts
// must share one driver.
//
// When ctx carries an open scope on that driver, Commit joins it instead:
// the changes are committed, or rolled back, by whoever began the scope.
func (u *UnitOfWork) Commit(ctx context.Context) ([]*datakit.ChangeSet, error) {
	contexts := u.Contexts()
	if len(contexts) == 0 {
		return nil, nil
	}
	drv := contexts[0].Driver()
	for _, c := range contexts[1:] {
		if c.Driver() != drv {
			return nil, &datakit.UnitOfWorkError{
				Context: c.Name(),
				Err:     fmt.Errorf("uow: driver differs from context %q", contexts[0].Name()),
			}
		}
	}
	sc := session.ScopeFromContext(ctx)
	own := sc == nil || sc.Done()
	if !own && sc.Driver() != drv {
		return nil, &datakit.UnitOfWorkError{
			Context: contexts[0].Name(),
			Err:     errors.New("uow: ambient scope runs on a different driver"),
		}
	}
	if own {
		var err error
		if ctx, sc, err = session.BeginScope(ctx, drv); err != nil {
			return nil, &datakit.UnitOfWorkError{Context: contexts[0].Name(), Err: err}
		}
		defer func() {
			if v := recover(); v != nil {
				_ = sc.Rollback()
				u.log.ErrorContext(ctx, "unit of work rolled back after panic", "panic", v)
				panic(v)
			}
		}()
	}
	sets := make([]*datakit.ChangeSet, 0, len(contexts))
	for _, c := range contexts {
		cs, err := c.SaveChanges(ctx)
		if err != nil {
			if own {
				if rerr := sc.Rollback(); rerr != nil {
					err = errors.Join(err, rerr)
				}
				u.log.DebugContext(ctx, "unit of work rolled back", "context", c.Name())
			}
			return nil, &datakit.UnitOfWorkError{Context: c.Name(), Err: err}
		}
		sets = append(sets, cs)
	}
	if !own {
		u.log.DebugContext(ctx, "unit of work saved in ambient scope", "contexts", len(contexts))
		return sets, nil
	}
	last := contexts[len(contexts)-1].Name()
	if err := sc.Complete(); err != nil {
		return nil, &datakit.UnitOfWorkError{Context: last, Err: err}
	}
	u.log.DebugContext(ctx, "unit of work committed", "contexts", len(contexts))
	return sets, nil
}

// CommitResult is the outcome of CommitAsync.
type CommitResult struct {
	ChangeSets []*datakit.ChangeSet
	Err        error
}

// CommitAsync runs Commit on a new goroutine. The returned channel receives
// one result and is closed.
func (u *UnitOfWork) CommitAsync(ctx context.Context) <-chan CommitResult {
	ch := make(chan CommitResult, 1)
	go func() {
		defer close(ch)
		sets, err := u.Commit(ctx)
		ch <- CommitResult{ChangeSets: sets, Err: err}
	}()
	return ch
}
