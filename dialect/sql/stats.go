package sql

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/syssam/datakit/dialect"
)

// QueryStats counts the statements and transactions that went through a
// StatsDriver. The zero value is ready to use.
type QueryStats struct {
	queries   atomic.Int64
	execs     atomic.Int64
	failed    atomic.Int64
	slow      atomic.Int64
	commits   atomic.Int64
	rollbacks atomic.Int64
	elapsed   atomic.Int64 // nanoseconds
	verbs     sync.Map     // string => *atomic.Int64
}

// Stats returns a snapshot of the counters.
func (s *QueryStats) Stats() StatsSnapshot {
	snap := StatsSnapshot{
		Queries:   s.queries.Load(),
		Execs:     s.execs.Load(),
		Errors:    s.failed.Load(),
		Slow:      s.slow.Load(),
		Commits:   s.commits.Load(),
		Rollbacks: s.rollbacks.Load(),
		Duration:  time.Duration(s.elapsed.Load()),
		ByVerb:    make(map[string]int64),
	}
	s.verbs.Range(func(k, v any) bool {
		snap.ByVerb[k.(string)] = v.(*atomic.Int64).Load()
		return true
	})
	return snap
}

// Reset zeroes every counter.
func (s *QueryStats) Reset() {
	for _, c := range []*atomic.Int64{&s.queries, &s.execs, &s.failed, &s.slow, &s.commits, &s.rollbacks, &s.elapsed} {
		c.Store(0)
	}
	s.verbs.Clear()
}

func (s *QueryStats) count(verb string) {
	c, ok := s.verbs.Load(verb)
	if !ok {
		c, _ = s.verbs.LoadOrStore(verb, new(atomic.Int64))
	}
	c.(*atomic.Int64).Add(1)
}

// StatsSnapshot is a point-in-time copy of QueryStats. ByVerb counts
// statements by their leading keyword, such as "INSERT" or "SELECT".
type StatsSnapshot struct {
	Queries   int64
	Execs     int64
	Errors    int64
	Slow      int64
	Commits   int64
	Rollbacks int64
	Duration  time.Duration
	ByVerb    map[string]int64
}

// Statements returns the number of queries and execs.
func (s StatsSnapshot) Statements() int64 { return s.Queries + s.Execs }

// AvgDuration returns the mean statement duration.
func (s StatsSnapshot) AvgDuration() time.Duration {
	if n := s.Statements(); n > 0 {
		return s.Duration / time.Duration(n)
	}
	return 0
}

func (s StatsSnapshot) String() string {
	return fmt.Sprintf("queries=%d execs=%d errors=%d slow=%d commits=%d rollbacks=%d avg=%s",
		s.Queries, s.Execs, s.Errors, s.Slow, s.Commits, s.Rollbacks, s.AvgDuration())
}

// SlowQueryHook is called with every statement slower than the threshold.
type SlowQueryHook func(ctx context.Context, query string, args []any, duration time.Duration)

// StatsDriver is a driver that records QueryStats for every statement it and
// its transactions run.
type StatsDriver struct {
	dialect.Driver
	stats *QueryStats

	mu        sync.RWMutex
	threshold time.Duration
	hook      SlowQueryHook
}

// StatsOption configures a StatsDriver.
type StatsOption func(*StatsDriver)

// WithSlowThreshold sets the duration above which a statement counts as
// slow. The default is 100ms.
func WithSlowThreshold(d time.Duration) StatsOption {
	return func(s *StatsDriver) {
		s.threshold = d
	}
}

// WithSlowQueryHook sets the function called for slow statements.
func WithSlowQueryHook(hook SlowQueryHook) StatsOption {
	return func(s *StatsDriver) {
		s.hook = hook
	}
}

// WithSlowQueryLog logs slow statements at warn level on l, or on
// slog.Default when l is nil.
func WithSlowQueryLog(l *slog.Logger) StatsOption {
	if l == nil {
		l = slog.Default()
	}
	return WithSlowQueryHook(func(ctx context.Context, query string, args []any, duration time.Duration) {
		l.WarnContext(ctx, "slow statement", "duration", duration, "sql", query, "args", args)
	})
}

// NewStatsDriver wraps drv. Sessions enable it with session.WithStats:
//
//	s := session.New(drv, session.WithStats(
//		sql.WithSlowThreshold(200*time.Millisecond),
//		sql.WithSlowQueryLog(nil),
//	))
//	...
//	fmt.Println(s.Stats().Stats())
func NewStatsDriver(drv dialect.Driver, opts ...StatsOption) *StatsDriver {
	d := &StatsDriver{Driver: drv, stats: &QueryStats{}, threshold: 100 * time.Millisecond}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// QueryStats returns the live counters.
func (d *StatsDriver) QueryStats() *QueryStats { return d.stats }

// SlowThreshold returns the slow statement threshold.
func (d *StatsDriver) SlowThreshold() time.Duration {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.threshold
}

// SetSlowThreshold changes the slow statement threshold.
func (d *StatsDriver) SetSlowThreshold(threshold time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.threshold = threshold
}

// Query runs a query and records it.
func (d *StatsDriver) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Query(ctx, query, args, v)
	d.record(ctx, &d.stats.queries, query, args, start, err)
	return err
}

// Exec runs a statement and records it.
func (d *StatsDriver) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := d.Driver.Exec(ctx, query, args, v)
	d.record(ctx, &d.stats.execs, query, args, start, err)
	return err
}

func (d *StatsDriver) record(ctx context.Context, kind *atomic.Int64, query string, args any, start time.Time, err error) {
	took := time.Since(start)
	kind.Add(1)
	d.stats.elapsed.Add(int64(took))
	d.stats.count(verb(query))
	if err != nil {
		d.stats.failed.Add(1)
	}
	d.mu.RLock()
	threshold, hook := d.threshold, d.hook
	d.mu.RUnlock()
	if took <= threshold {
		return
	}
	d.stats.slow.Add(1)
	if hook != nil {
		argv, _ := args.([]any)
		hook(ctx, query, argv, took)
	}
}

// verb returns the upper-cased first word of query.
func verb(query string) string {
	query = strings.TrimSpace(query)
	if i := strings.IndexAny(query, " \t\n("); i > 0 {
		query = query[:i]
	}
	return strings.ToUpper(query)
}

// Tx starts a transaction whose statements, commit and rollback are recorded.
func (d *StatsDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &StatsTx{Tx: tx, drv: d}, nil
}

// StatsTx is a transaction started by a StatsDriver.
type StatsTx struct {
	dialect.Tx
	drv *StatsDriver
}

// Query runs a query in the transaction and records it.
func (tx *StatsTx) Query(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Query(ctx, query, args, v)
	tx.drv.record(ctx, &tx.drv.stats.queries, query, args, start, err)
	return err
}

// Exec runs a statement in the transaction and records it.
func (tx *StatsTx) Exec(ctx context.Context, query string, args, v any) error {
	start := time.Now()
	err := tx.Tx.Exec(ctx, query, args, v)
	tx.drv.record(ctx, &tx.drv.stats.execs, query, args, start, err)
	return err
}

// Commit commits the transaction and counts it.
func (tx *StatsTx) Commit() error {
	err := tx.Tx.Commit()
	if err == nil {
		tx.drv.stats.commits.Add(1)
	}
	return err
}

// Rollback rolls the transaction back and counts it.
func (tx *StatsTx) Rollback() error {
	tx.drv.stats.rollbacks.Add(1)
	return tx.Tx.Rollback()
}

// DebugDriver wraps a driver with statement logging.
type DebugDriver struct {
	dialect.Driver
	log *slog.Logger
}

// Debug wraps drv so that every statement is logged at debug level on l.
// A nil logger falls back to slog.Default.
func Debug(drv dialect.Driver, l *slog.Logger) *DebugDriver {
	if l == nil {
		l = slog.Default()
	}
	return &DebugDriver{Driver: drv, log: l}
}

// Query executes a query and logs it.
func (d *DebugDriver) Query(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "query", "sql", query, "args", args)
	return d.Driver.Query(ctx, query, args, v)
}

// Exec executes a statement and logs it.
func (d *DebugDriver) Exec(ctx context.Context, query string, args, v any) error {
	d.log.DebugContext(ctx, "exec", "sql", query, "args", args)
	return d.Driver.Exec(ctx, query, args, v)
}

// Tx starts a transaction with debug logging.
func (d *DebugDriver) Tx(ctx context.Context) (dialect.Tx, error) {
	d.log.DebugContext(ctx, "begin transaction")
	tx, err := d.Driver.Tx(ctx)
	if err != nil {
		return nil, err
	}
	return &DebugTx{Tx: tx, ctx: ctx, log: d.log}, nil
}

// DebugTx wraps a transaction with statement logging.
type DebugTx struct {
	dialect.Tx
	ctx context.Context
	log *slog.Logger
}

// Query executes a query within the transaction and logs it.
func (tx *DebugTx) Query(ctx context.Context, query string, args, v any) error {
	tx.log.DebugContext(ctx, "tx query", "sql", query, "args", args)
	return tx.Tx.Query(ctx, query, args, v)
}

// Exec executes a statement within the transaction and logs it.
func (tx *DebugTx) Exec(ctx context.Context, query string, args, v any) error {
	tx.log.DebugContext(ctx, "tx exec", "sql", query, "args", args)
	return tx.Tx.Exec(ctx, query, args, v)
}

// Commit commits the transaction and logs it.
func (tx *DebugTx) Commit() error {
	tx.log.DebugContext(tx.ctx, "commit transaction")
	return tx.Tx.Commit()
}

// Rollback rolls back the transaction and logs it.
func (tx *DebugTx) Rollback() error {
	tx.log.DebugContext(tx.ctx, "rollback transaction")
	return tx.Tx.Rollback()
}

var (
	_ dialect.Driver = (*StatsDriver)(nil)
	_ dialect.Tx     = (*StatsTx)(nil)
	_ dialect.Driver = (*DebugDriver)(nil)
	_ dialect.Tx     = (*DebugTx)(nil)
)
