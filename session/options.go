package session

import (
	"log/slog"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
)

// Option configures a Session.
type Option func(*options)

type options struct {
	name     string
	log      *slog.Logger
	strategy Strategy
	retries  int
	hooks    []Hook
	models   []any
	conn     *datakit.Connection
	admin    dialect.Driver
	debug    bool
	stats    []sql.StatsOption
	counted  bool
}

func defaultOptions() *options {
	return &options{
		log:      slog.Default(),
		strategy: RethrowStrategy,
		retries:  1,
	}
}

// WithName sets the name the session reports in change sets and errors.
func WithName(name string) Option {
	return func(o *options) {
		o.name = name
	}
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithStrategy sets the concurrency resolution strategy. The default is
// RethrowStrategy.
func WithStrategy(s Strategy) Option {
	return func(o *options) {
		if s != nil {
			o.strategy = s
		}
	}
}

// WithMaxConflictRetries bounds how many times one entity is rewritten after
// a resolved conflict before the save fails. The default is 1.
func WithMaxConflictRetries(n int) Option {
	return func(o *options) {
		if n >= 0 {
			o.retries = n
		}
	}
}

// WithHooks appends save hooks. The first hook is the outermost.
func WithHooks(hooks ...Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithModels registers the entity types created by Migrate. Pass a pointer
// or value of each struct type.
func WithModels(models ...any) Option {
	return func(o *options) {
		o.models = append(o.models, models...)
	}
}

// WithConnection records the connection the driver was opened from, needed
// by DropDatabase.
func WithConnection(c datakit.Connection) Option {
	return func(o *options) {
		o.conn = &c
	}
}

// WithAdmin sets the driver used for database-level commands. Without it,
// DropDatabase opens one from Connection.Admin.
func WithAdmin(drv dialect.Driver) Option {
	return func(o *options) {
		o.admin = drv
	}
}

// WithDebug logs every statement at debug level.
func WithDebug() Option {
	return func(o *options) {
		o.debug = true
	}
}

// WithStats counts the statements the session runs; read them with
// Session.Stats. Statements run through an ambient scope are counted by the
// scope's driver instead.
func WithStats(opts ...sql.StatsOption) Option {
	return func(o *options) {
		o.counted = true
		o.stats = append(o.stats, opts...)
	}
}
