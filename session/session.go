package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect"
	"github.com/syssam/datakit/dialect/sql"
	sqlschema "github.com/syssam/datakit/dialect/sql/schema"
	"github.com/syssam/datakit/schema"
)

// Session tracks entities loaded from or added to one database and writes
// their changes back in a transaction. A Session is not safe for concurrent
// use.
type Session struct {
	name     string
	drv      dialect.Driver // executes statements
	base     dialect.Driver // identity compared against ambient scopes
	owned    bool
	conn     *datakit.Connection
	admin    dialect.Driver
	log      *slog.Logger
	strategy Strategy
	retries  int
	hooks    []Hook
	models   []any
	stats    *sql.StatsDriver

	entries  []*Entry
	byEntity map[any]*Entry
	byKey    map[identity]*Entry
}

type identity struct {
	table *schema.Table
	key   any
}

// New returns a session over drv. The caller keeps ownership of drv.
func New(drv dialect.Driver, opts ...Option) *Session {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	s := &Session{
		name:     o.name,
		drv:      drv,
		base:     drv,
		conn:     o.conn,
		admin:    o.admin,
		log:      o.log,
		strategy: o.strategy,
		retries:  o.retries,
		hooks:    o.hooks,
		models:   o.models,
		byEntity: make(map[any]*Entry),
		byKey:    make(map[identity]*Entry),
	}
	if o.debug {
		s.drv = sql.Debug(s.drv, o.log)
	}
	if o.counted {
		s.stats = sql.NewStatsDriver(s.drv, o.stats...)
		s.drv = s.stats
	}
	return s
}

// Open opens the database described by conn and returns a session that owns
// the driver. Close releases it.
func Open(conn datakit.Connection, opts ...Option) (*Session, error) {
	if err := conn.Validate(); err != nil {
		return nil, err
	}
	drv, err := sql.Open(conn.Dialect, conn.DataSource)
	if err != nil {
		return nil, fmt.Errorf("session: open %q: %w", conn.Name, err)
	}
	s := New(drv, append([]Option{WithConnection(conn)}, opts...)...)
	s.owned = true
	return s, nil
}

// Name returns the session name: the WithName option, else the connection
// name, else "session".
func (s *Session) Name() string {
	switch {
	case s.name != "":
		return s.name
	case s.conn != nil && s.conn.Name != "":
		return s.conn.Name
	}
	return "session"
}

// Driver returns the driver the session was created with.
func (s *Session) Driver() dialect.Driver { return s.base }

// Stats returns the statement counters of a session created WithStats, or
// nil.
func (s *Session) Stats() *sql.QueryStats {
	if s.stats == nil {
		return nil
	}
	return s.stats.QueryStats()
}

// Dialect returns the dialect name of the driver.
func (s *Session) Dialect() string { return s.drv.Dialect() }

// Use appends save hooks. The first hook is the outermost.
func (s *Session) Use(hooks ...Hook) {
	s.hooks = append(s.hooks, hooks...)
}

// Tables returns the mapped tables of the registered models.
func (s *Session) Tables() ([]*schema.Table, error) {
	var (
		tables []*schema.Table
		seen   = make(map[*schema.Table]bool)
	)
	for _, m := range s.models {
		t, err := schema.Of(m)
		if err != nil {
			return nil, err
		}
		if !seen[t] {
			seen[t] = true
			tables = append(tables, t)
		}
	}
	return tables, nil
}

// Migrate creates the tables of the registered models.
func (s *Session) Migrate(ctx context.Context) error {
	tables, err := s.Tables()
	if err != nil {
		return err
	}
	return sqlschema.Migrate(ctx, s.drv, tables...)
}

// ResetDatabase drops every table in the database, recreates the tables of
// the registered models and clears the tracker.
func (s *Session) ResetDatabase(ctx context.Context) error {
	if err := sqlschema.DropTables(ctx, s.drv); err != nil {
		return err
	}
	s.Clear()
	return s.Migrate(ctx)
}

// DropDatabase drops the database the session is connected to. Owned
// drivers are closed first. For server dialects other connections to the
// database are terminated where the dialect allows it.
func (s *Session) DropDatabase(ctx context.Context) error {
	if s.conn == nil {
		return errors.New("session: DropDatabase requires a connection")
	}
	db, err := s.conn.Database()
	if err != nil {
		return err
	}
	if db == "" {
		return fmt.Errorf("session: connection %q names no database", s.conn.Name)
	}
	s.Clear()
	if s.owned {
		if err := s.drv.Close(); err != nil {
			return err
		}
		s.owned = false
	}
	admin := dialect.ExecQuerier(s.admin)
	if admin == nil && s.conn.Dialect != dialect.SQLite {
		ac, err := s.conn.Admin()
		if err != nil {
			return err
		}
		drv, err := sql.Open(ac.Dialect, ac.DataSource)
		if err != nil {
			return err
		}
		defer drv.Close()
		admin = drv
	}
	s.log.InfoContext(ctx, "dropping database", "session", s.Name(), "database", db)
	return sqlschema.DropDatabase(ctx, admin, s.conn.Dialect, db)
}

// Close clears the tracker and closes the driver if the session owns it.
func (s *Session) Close() error {
	s.Clear()
	if !s.owned {
		return nil
	}
	s.owned = false
	return s.drv.Close()
}
