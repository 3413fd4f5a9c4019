package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect"
)

// Scope is an ambient transaction carried by a context. Sessions over the
// scope's driver that save with that context write through its transaction
// instead of opening their own, and accept their changes only when the scope
// commits.
type Scope struct {
	drv dialect.Driver
	tx  dialect.Tx

	mu         sync.Mutex
	done       bool
	onCommit   []func()
	onRollback []func()
}

type scopeKey struct{}

// BeginScope starts a transaction on drv and returns a context carrying it.
// Nested scopes are not supported: beginning a scope inside an open one
// returns datakit.ErrTxStarted.
func BeginScope(ctx context.Context, drv dialect.Driver) (context.Context, *Scope, error) {
	if sc := ScopeFromContext(ctx); sc != nil && !sc.Done() {
		return ctx, nil, datakit.ErrTxStarted
	}
	tx, err := drv.Tx(ctx)
	if err != nil {
		return ctx, nil, fmt.Errorf("session: begin scope: %w", err)
	}
	sc := &Scope{drv: drv, tx: tx}
	return context.WithValue(ctx, scopeKey{}, sc), sc, nil
}

// ScopeFromContext returns the scope carried by ctx, or nil.
func ScopeFromContext(ctx context.Context) *Scope {
	sc, _ := ctx.Value(scopeKey{}).(*Scope)
	return sc
}

// WithScope runs fn inside a new scope and completes it when fn returns nil.
// The scope is rolled back when fn fails or panics.
func WithScope(ctx context.Context, drv dialect.Driver, fn func(ctx context.Context) error) (err error) {
	ctx, sc, err := BeginScope(ctx, drv)
	if err != nil {
		return err
	}
	defer func() {
		if v := recover(); v != nil {
			_ = sc.Rollback()
			panic(v)
		}
	}()
	if err := fn(ctx); err != nil {
		if rerr := sc.Rollback(); rerr != nil {
			err = fmt.Errorf("%w: %w", err, &datakit.RollbackError{Err: rerr})
		}
		return err
	}
	return sc.Complete()
}

// Driver returns the driver the scope was begun on.
func (sc *Scope) Driver() dialect.Driver { return sc.drv }

// Done reports whether the scope was completed or rolled back.
func (sc *Scope) Done() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.done
}

var errScopeDone = errors.New("session: scope is already completed or rolled back")

// Exec executes a statement in the scope's transaction.
func (sc *Scope) Exec(ctx context.Context, query string, args, v any) error {
	if sc.Done() {
		return errScopeDone
	}
	return sc.tx.Exec(ctx, query, args, v)
}

// Query executes a query in the scope's transaction.
func (sc *Scope) Query(ctx context.Context, query string, args, v any) error {
	if sc.Done() {
		return errScopeDone
	}
	return sc.tx.Query(ctx, query, args, v)
}

// OnCommit registers f to run after the scope commits. Functions run in
// registration order.
func (sc *Scope) OnCommit(f func()) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.onCommit = append(sc.onCommit, f)
}

// OnRollback registers f to run after the scope rolls back, or after a
// failed commit. Functions run in reverse registration order.
func (sc *Scope) OnRollback(f func()) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	sc.onRollback = append(sc.onRollback, f)
}

// Complete commits the scope.
func (sc *Scope) Complete() error {
	commit, rollback, err := sc.finish()
	if err != nil {
		return err
	}
	if err := sc.tx.Commit(); err != nil {
		runReverse(rollback)
		return fmt.Errorf("session: commit scope: %w", err)
	}
	for _, f := range commit {
		f()
	}
	return nil
}

// Rollback rolls the scope back. Rolling back a finished scope is a no-op.
func (sc *Scope) Rollback() error {
	_, rollback, err := sc.finish()
	if err != nil {
		return nil
	}
	defer runReverse(rollback)
	if err := sc.tx.Rollback(); err != nil {
		return &datakit.RollbackError{Err: err}
	}
	return nil
}

func (sc *Scope) finish() (commit, rollback []func(), err error) {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	if sc.done {
		return nil, nil, errScopeDone
	}
	sc.done = true
	commit, rollback = sc.onCommit, sc.onRollback
	sc.onCommit, sc.onRollback = nil, nil
	return commit, rollback, nil
}

func runReverse(fs []func()) {
	for i := len(fs) - 1; i >= 0; i-- {
		fs[i]()
	}
}

var _ dialect.ExecQuerier = (*Scope)(nil)
