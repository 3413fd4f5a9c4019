package schema

import (
	"fmt"
	"reflect"
)

// Column describes a mapped struct field.
type Column struct {
	Name     string       // column name
	Field    string       // Go field name
	Index    []int        // field index path, for embedded structs
	Type     reflect.Type // Go type of the field
	Key      bool         // primary key
	Auto     bool         // key generated by the database
	Version  bool         // optimistic concurrency token
	Unique   bool         // unique constraint
	Nullable bool         // pointer or sql.Scanner field
}

// Mutable reports whether the column is written by updates.
func (c *Column) Mutable() bool {
	return !c.Key && !c.Version
}

// Convert converts v to the column's Go type.
func (c *Column) Convert(v any) (any, error) {
	dst := reflect.New(c.Type).Elem()
	if err := assign(dst, v); err != nil {
		return nil, fmt.Errorf("schema: column %s: %w", c.Name, err)
	}
	return dst.Interface(), nil
}

// Table describes a mapped struct type.
type Table struct {
	Name    string
	Type    reflect.Type // struct type
	Columns []*Column    // in field order
	Key     *Column
	Version *Column // nil when the entity has no version field

	byColumn map[string]*Column
	byField  map[string]*Column
}

// Lookup returns the column with the given Go field name or column name.
func (t *Table) Lookup(name string) (*Column, bool) {
	if c, ok := t.byField[name]; ok {
		return c, true
	}
	c, ok := t.byColumn[name]
	return c, ok
}

// ColumnNames returns the column names in field order.
func (t *Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

// New returns a pointer to a new zero entity.
func (t *Table) New() any {
	return reflect.New(t.Type).Interface()
}

// Check verifies that entity is a non-nil pointer to the table's struct type.
func (t *Table) Check(entity any) error {
	_, err := t.elem(entity)
	return err
}

func (t *Table) elem(entity any) (reflect.Value, error) {
	rv := reflect.ValueOf(entity)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return reflect.Value{}, fmt.Errorf("schema: expect non-nil *%s, got %T", t.Type.Name(), entity)
	}
	if rv.Elem().Type() != t.Type {
		return reflect.Value{}, fmt.Errorf("schema: expect *%s, got %T", t.Type.Name(), entity)
	}
	return rv.Elem(), nil
}

func (t *Table) field(entity any, c *Column) reflect.Value {
	return reflect.ValueOf(entity).Elem().FieldByIndex(c.Index)
}

// Get returns the value of column c in entity.
func (t *Table) Get(entity any, c *Column) any {
	return clone(t.field(entity, c).Interface())
}

// Values returns the column values of entity keyed by column name.
func (t *Table) Values(entity any) map[string]any {
	v := reflect.ValueOf(entity).Elem()
	values := make(map[string]any, len(t.Columns))
	for _, c := range t.Columns {
		values[c.Name] = clone(v.FieldByIndex(c.Index).Interface())
	}
	return values
}

// SetValue sets column c of entity to v, converting v when needed.
func (t *Table) SetValue(entity any, c *Column, v any) error {
	if err := assign(t.field(entity, c), v); err != nil {
		return fmt.Errorf("schema: set %s.%s: %w", t.Type.Name(), c.Field, err)
	}
	return nil
}

// Set sets the given values on entity. Keys are column or field names.
func (t *Table) Set(entity any, values map[string]any) error {
	if _, err := t.elem(entity); err != nil {
		return err
	}
	for name, v := range values {
		c, ok := t.Lookup(name)
		if !ok {
			return fmt.Errorf("schema: %s has no column %q", t.Type.Name(), name)
		}
		if err := t.SetValue(entity, c, v); err != nil {
			return err
		}
	}
	return nil
}

// Copy copies every column value from src to dst.
func (t *Table) Copy(dst, src any) {
	d, s := reflect.ValueOf(dst).Elem(), reflect.ValueOf(src).Elem()
	for _, c := range t.Columns {
		d.FieldByIndex(c.Index).Set(s.FieldByIndex(c.Index))
	}
}

// Dest returns pointers to the fields of entity for the given columns, in
// order, to be passed to Rows.Scan.
func (t *Table) Dest(entity any, columns []*Column) []any {
	v := reflect.ValueOf(entity).Elem()
	dest := make([]any, len(columns))
	for i, c := range columns {
		dest[i] = v.FieldByIndex(c.Index).Addr().Interface()
	}
	return dest
}

// PrimaryKey describes the key of one entity.
type PrimaryKey struct {
	Column *Column
	Value  any
}

// IsZero reports whether the key holds its zero value, as an unsaved auto
// key does.
func (k PrimaryKey) IsZero() bool {
	return k.Value == nil || reflect.ValueOf(k.Value).IsZero()
}

func (k PrimaryKey) String() string {
	return fmt.Sprintf("%s=%v", k.Column.Name, k.Value)
}

// KeyOf returns the primary key of entity.
func (t *Table) KeyOf(entity any) (PrimaryKey, error) {
	if _, err := t.elem(entity); err != nil {
		return PrimaryKey{}, err
	}
	return PrimaryKey{Column: t.Key, Value: t.Get(entity, t.Key)}, nil
}

// KeyOf returns the primary key of entity without naming its key field.
func KeyOf(entity any) (PrimaryKey, error) {
	t, err := Of(entity)
	if err != nil {
		return PrimaryKey{}, err
	}
	return t.KeyOf(entity)
}

func assign(dst reflect.Value, v any) error {
	if v == nil {
		dst.SetZero()
		return nil
	}
	rv := reflect.ValueOf(v)
	dt := dst.Type()
	switch {
	case rv.Type().AssignableTo(dt):
		dst.Set(rv)
	case dt.Kind() == reflect.Pointer && rv.Type().AssignableTo(dt.Elem()):
		p := reflect.New(dt.Elem())
		p.Elem().Set(rv)
		dst.Set(p)
	case rv.Kind() == reflect.Pointer && !rv.IsNil() && rv.Elem().Type().AssignableTo(dt):
		dst.Set(rv.Elem())
	case dt.Kind() == reflect.String && rv.Kind() != reflect.String && rv.Kind() != reflect.Slice:
		return fmt.Errorf("cannot assign %T to %v", v, dt)
	case rv.Type().ConvertibleTo(dt):
		dst.Set(rv.Convert(dt))
	default:
		return fmt.Errorf("cannot assign %T to %v", v, dt)
	}
	return nil
}

// clone copies byte slices and pointed-to values so snapshots do not alias
// the entity.
func clone(v any) any {
	if b, ok := v.([]byte); ok && b != nil {
		return append([]byte(nil), b...)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer && !rv.IsNil() {
		p := reflect.New(rv.Type().Elem())
		p.Elem().Set(rv.Elem())
		return p.Interface()
	}
	return v
}
