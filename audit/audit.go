// Package audit writes a shadow row for every saved change of a registered
// entity type, inside the transaction of the save.
//
// An audit type embeds Record and carries copies of the audited properties
// plus its own key:
//
//	type CustomerAudit struct {
//		AuditID int64 `db:"audit_id,pk,auto"`
//		ID      int64
//		Name    string
//		audit.Record
//	}
//
//	reg := audit.NewRegistry()
//	audit.Register[Customer, CustomerAudit](reg)
//	ac := audit.New(s, reg)
//	ctx = audit.WithUser(ctx, "ada")
//	cs, err := ac.SaveChanges(ctx)
//
// Added entities are audited with the values they were inserted with,
// modified and deleted entities with the values they had before the save.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/session"
)

// Record is embedded in audit types.
type Record struct {
	AuditUser string    `db:"audit_user"`
	AuditDate time.Time `db:"audit_date"`
	AuditType string    `db:"audit_type"`
}

// SetAudit stamps the record.
func (r *Record) SetAudit(user string, at time.Time, kind datakit.State) {
	r.AuditUser = user
	r.AuditDate = at
	r.AuditType = kind.String()
}

// Auditor is implemented by audit entities.
type Auditor interface {
	SetAudit(user string, at time.Time, kind datakit.State)
}

type userKey struct{}

// WithUser returns a context whose saves are audited as user.
func WithUser(ctx context.Context, user string) context.Context {
	return context.WithValue(ctx, userKey{}, user)
}

// UserFromContext returns the user set by WithUser.
func UserFromContext(ctx context.Context) (string, bool) {
	u, ok := ctx.Value(userKey{}).(string)
	return u, ok
}

// Context is a session whose saves also write audit rows.
type Context struct {
	*session.Session
	reg     *Registry
	enabled bool
	user    string
	now     func() time.Time
	loc     *time.Location
	log     *slog.Logger
}

// Option configures a Context.
type Option func(*Context)

// WithConfig applies the enabled flag and the date-time kind of cfg.
func WithConfig(cfg Config) Option {
	return func(c *Context) {
		c.enabled = cfg.Enabled
		c.loc = cfg.Location()
	}
}

// WithDefaultUser sets the user recorded when the save context carries none.
func WithDefaultUser(user string) Option {
	return func(c *Context) {
		c.user = user
	}
}

// WithClock sets the clock used for audit dates.
func WithClock(now func() time.Time) Option {
	return func(c *Context) {
		c.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Context) {
		c.log = l
	}
}

// New wraps s so that its saves write audit rows for the types in reg.
func New(s *session.Session, reg *Registry, opts ...Option) *Context {
	c := &Context{
		Session: s,
		reg:     reg,
		enabled: true,
		now:     time.Now,
		loc:     time.UTC,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	s.Use(c.hook)
	return c
}

// Registry returns the audited types.
func (c *Context) Registry() *Registry { return c.reg }

// Enabled reports whether saves write audit rows.
func (c *Context) Enabled() bool { return c.enabled }

type pending struct {
	entry  *session.Entry
	info   *TypeInfo
	state  datakit.State
	values map[string]any
}

func (c *Context) hook(next session.Saver) session.Saver {
	return session.SaverFunc(func(ctx context.Context, w *session.SaveContext) error {
		if !c.enabled {
			return next.Save(ctx, w)
		}
		var audits []pending
		for _, e := range w.Entries() {
			info, ok := c.reg.Lookup(e.Table().Type)
			if !ok {
				continue
			}
			p := pending{entry: e, info: info, state: w.State(e)}
			if p.state != datakit.Added {
				p.values = e.OriginalValues()
			}
			audits = append(audits, p)
		}
		if err := next.Save(ctx, w); err != nil || len(audits) == 0 {
			return err
		}
		user, ok := UserFromContext(ctx)
		if !ok {
			user = c.user
		}
		at := c.now().In(c.loc)
		written := 0
		for _, p := range audits {
			if !w.Written(p.entry) {
				continue
			}
			if p.state == datakit.Added {
				p.values = p.entry.CurrentValues()
			}
			a := p.info.factory()
			values := make(map[string]any, len(p.info.Properties))
			for _, name := range p.info.Properties {
				values[name] = p.values[name]
			}
			if err := p.info.audit.Set(a, values); err != nil {
				return fmt.Errorf("audit: %s: %w", p.info.Source.Name(), err)
			}
			a.SetAudit(user, at, p.state)
			if err := w.Insert(ctx, a); err != nil {
				return fmt.Errorf("audit: %s: %w", p.info.Source.Name(), err)
			}
			written++
		}
		c.log.DebugContext(ctx, "audit rows written", "session", w.Session().Name(), "count", written)
		return nil
	})
}
