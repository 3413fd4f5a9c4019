// Package seed applies fixed sets of rows to a database, adding rows that
// are missing and updating rows that exist, matched by an upsert key.
//
//	countries := seed.New([]string{"Code"},
//		Country{Code: "NZ", Name: "New Zealand"},
//		Country{Code: "SE", Name: "Sweden"},
//	)
//	cs, err := seed.Run(ctx, s, countries)
package seed

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/dialect/sql"
	sqlschema "github.com/syssam/datakit/dialect/sql/schema"
	"github.com/syssam/datakit/schema"
	"github.com/syssam/datakit/session"
)

// Applier is implemented by every Seed.
type Applier interface {
	Table() (*schema.Table, error)
	Apply(context.Context, *session.Session) error
}

// Seed holds the rows of one entity type. Key names the properties that
// identify a row; the primary key is used when Key is empty, in which case
// rows of a table with a generated key must set it.
type Seed[T any] struct {
	Key  []string
	Rows []T
}

// New returns a seed of rows keyed by the given property names.
func New[T any](key []string, rows ...T) *Seed[T] {
	return &Seed[T]{Key: key, Rows: rows}
}

// Table returns the table of T.
func (sd *Seed[T]) Table() (*schema.Table, error) {
	return schema.For[T]()
}

// Apply tracks the seed rows in s: a row whose key matches no stored row is
// added, a row matching one stored row updates its mutable properties. A key
// matching several rows is a *datakit.NotSingularError. Changes are written
// by the next SaveChanges.
func (sd *Seed[T]) Apply(ctx context.Context, s *session.Session) error {
	t, err := sd.Table()
	if err != nil {
		return err
	}
	keys, err := sd.columns(t)
	if err != nil {
		return err
	}
	for i := range sd.Rows {
		row := &sd.Rows[i]
		preds := make([]sql.Predicate, 0, len(keys))
		for _, c := range keys {
			preds = append(preds, match(c, t.Get(row, c)))
		}
		found, err := session.Select[T](ctx, s, preds...)
		if err != nil {
			return err
		}
		switch len(found) {
		case 0:
			v := *row
			if err := s.Add(&v); err != nil {
				return err
			}
		case 1:
			if err := update(t, found[0], row, keys); err != nil {
				return err
			}
		default:
			return datakit.NewNotSingularErrorWithCount(t.Type.Name(), len(found))
		}
	}
	return nil
}

func (sd *Seed[T]) columns(t *schema.Table) ([]*schema.Column, error) {
	if len(sd.Key) == 0 {
		if t.Key.Auto {
			for i := range sd.Rows {
				if v := reflect.ValueOf(t.Get(&sd.Rows[i], t.Key)); !v.IsValid() || v.IsZero() {
					return nil, fmt.Errorf("seed: %s: key %s is generated by the database; name the properties that identify a row", t.Type.Name(), t.Key.Field)
				}
			}
		}
		return []*schema.Column{t.Key}, nil
	}
	keys := make([]*schema.Column, 0, len(sd.Key))
	for _, name := range sd.Key {
		c, ok := t.Lookup(name)
		if !ok {
			return nil, fmt.Errorf("seed: %s has no property %q", t.Type.Name(), name)
		}
		keys = append(keys, c)
	}
	return keys, nil
}

func match(c *schema.Column, v any) sql.Predicate {
	if rv := reflect.ValueOf(v); !rv.IsValid() || (rv.Kind() == reflect.Pointer && rv.IsNil()) {
		return sql.IsNull(c.Name)
	}
	return sql.EQ(c.Name, v)
}

func update(t *schema.Table, dst, src any, keys []*schema.Column) error {
	skip := make(map[*schema.Column]bool, len(keys))
	for _, c := range keys {
		skip[c] = true
	}
	for _, c := range t.Columns {
		if !c.Mutable() || skip[c] {
			continue
		}
		if err := t.SetValue(dst, c, t.Get(src, c)); err != nil {
			return err
		}
	}
	return nil
}

// Run creates the tables of the session's models and of the seeds, applies
// every seed in order and saves the result.
func Run(ctx context.Context, s *session.Session, seeds ...Applier) (*datakit.ChangeSet, error) {
	if err := s.Migrate(ctx); err != nil {
		return nil, err
	}
	tables := make([]*schema.Table, 0, len(seeds))
	for _, sd := range seeds {
		t, err := sd.Table()
		if err != nil {
			return nil, err
		}
		if !slices.Contains(tables, t) {
			tables = append(tables, t)
		}
	}
	if err := sqlschema.Migrate(ctx, s.Driver(), tables...); err != nil {
		return nil, err
	}
	for _, sd := range seeds {
		if err := sd.Apply(ctx, s); err != nil {
			return nil, err
		}
	}
	return s.SaveChanges(ctx)
}
