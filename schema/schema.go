package schema

import (
	"database/sql"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/go-openapi/inflect"
	"golang.org/x/sync/singleflight"
)

// TableNamer provides a custom table name for an entity.
type TableNamer interface {
	TableName() string
}

var (
	tables sync.Map // reflect.Type => *Table
	group  singleflight.Group

	tableNamerType = reflect.TypeFor[TableNamer]()
	timeType       = reflect.TypeFor[time.Time]()
	scannerType    = reflect.TypeFor[sql.Scanner]()
)

// Of returns the table description of v's type. v may be a struct, a pointer
// to a struct, or a reflect.Type of either.
func Of(v any) (*Table, error) {
	var t reflect.Type
	switch v := v.(type) {
	case nil:
		return nil, fmt.Errorf("schema: nil entity")
	case reflect.Type:
		t = v
	default:
		t = reflect.TypeOf(v)
	}
	return TypeOf(t)
}

// For returns the table description of T.
func For[T any]() (*Table, error) {
	return TypeOf(reflect.TypeFor[T]())
}

// TypeOf returns the table description of the struct type t (or *t).
func TypeOf(t reflect.Type) (*Table, error) {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if tbl, ok := tables.Load(t); ok {
		return tbl.(*Table), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("schema: %v is not a struct", t)
	}
	if t.Name() == "" {
		return nil, fmt.Errorf("schema: cannot map anonymous struct %v", t)
	}
	v, err, _ := group.Do(t.PkgPath()+"."+t.Name(), func() (any, error) {
		if tbl, ok := tables.Load(t); ok {
			return tbl, nil
		}
		tbl, err := parse(t)
		if err != nil {
			return nil, err
		}
		tables.Store(t, tbl)
		return tbl, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Table), nil
}

// MustOf is like Of but panics on error.
func MustOf(v any) *Table {
	t, err := Of(v)
	if err != nil {
		panic(err)
	}
	return t
}

func parse(t reflect.Type) (*Table, error) {
	tbl := &Table{
		Name:     tableName(t),
		Type:     t,
		byColumn: make(map[string]*Column),
		byField:  make(map[string]*Column),
	}
	if err := tbl.addFields(t, nil); err != nil {
		return nil, err
	}
	if len(tbl.Columns) == 0 {
		return nil, fmt.Errorf("schema: %v has no exported fields", t)
	}
	if tbl.Key == nil {
		for _, c := range tbl.Columns {
			if c.Field == "ID" || c.Name == "id" {
				c.Key = true
				c.Auto = c.Auto || isInteger(c.Type)
				tbl.Key = c
				break
			}
		}
	}
	if tbl.Key == nil {
		return nil, fmt.Errorf("schema: %v has no primary key; tag a field with pk", t)
	}
	if !tbl.Key.Type.Comparable() {
		return nil, fmt.Errorf("schema: key %s of %v is not comparable", tbl.Key.Field, t)
	}
	if tbl.Key.Auto && !isInteger(tbl.Key.Type) {
		return nil, fmt.Errorf("schema: auto key %s of %v must be an integer", tbl.Key.Field, t)
	}
	return tbl, nil
}

func (t *Table) addFields(typ reflect.Type, index []int) error {
	for i := range typ.NumField() {
		f := typ.Field(i)
		tag, tagged := f.Tag.Lookup("db")
		if tag == "-" {
			continue
		}
		idx := append(append([]int(nil), index...), i)
		if f.Anonymous && !tagged {
			ft := f.Type
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := t.addFields(ft, idx); err != nil {
					return err
				}
				continue
			}
		}
		if !f.IsExported() {
			continue
		}
		c := &Column{
			Name:     snake(f.Name),
			Field:    f.Name,
			Index:    idx,
			Type:     f.Type,
			Nullable: f.Type.Kind() == reflect.Pointer || (f.Type != timeType && reflect.PointerTo(f.Type).Implements(scannerType)),
		}
		name, opts, _ := strings.Cut(tag, ",")
		if name != "" {
			c.Name = name
		}
		for _, opt := range strings.Split(opts, ",") {
			switch strings.TrimSpace(opt) {
			case "":
			case "pk":
				if t.Key != nil {
					return fmt.Errorf("schema: %v has more than one pk field", typ)
				}
				c.Key = true
				t.Key = c
			case "auto":
				c.Auto = true
			case "version":
				if !isInteger(c.Type) {
					return fmt.Errorf("schema: version field %s must be an integer", f.Name)
				}
				if t.Version != nil {
					return fmt.Errorf("schema: %v has more than one version field", t.Type)
				}
				c.Version = true
				t.Version = c
			case "unique":
				c.Unique = true
			default:
				return fmt.Errorf("schema: unknown option %q on field %s", opt, f.Name)
			}
		}
		if _, ok := t.byColumn[c.Name]; ok {
			return fmt.Errorf("schema: duplicate column %q in %v", c.Name, t.Type)
		}
		if _, ok := t.byField[c.Field]; ok {
			return fmt.Errorf("schema: duplicate field %s in %v", c.Field, t.Type)
		}
		t.Columns = append(t.Columns, c)
		t.byColumn[c.Name] = c
		t.byField[c.Field] = c
	}
	return nil
}

func tableName(t reflect.Type) string {
	if t.Implements(tableNamerType) {
		if n := strings.TrimSpace(reflect.Zero(t).Interface().(TableNamer).TableName()); n != "" {
			return n
		}
	}
	if reflect.PointerTo(t).Implements(tableNamerType) {
		if n := strings.TrimSpace(reflect.New(t).Interface().(TableNamer).TableName()); n != "" {
			return n
		}
	}
	return inflect.Pluralize(snake(t.Name()))
}

// snake converts a Go identifier to snake_case, keeping acronyms together
// (CustomerID becomes customer_id).
func snake(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || (i+1 < len(runes) && unicode.IsLower(runes[i+1]))) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isInteger(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}
