package audit

import (
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/syssam/datakit/schema"
)

// ErrDuplicateType is matched by *DuplicateTypeError.
var ErrDuplicateType = errors.New("audit: type already registered")

// DuplicateTypeError is returned when a source type is registered twice.
type DuplicateTypeError struct {
	Type reflect.Type
}

// Error returns the error string.
func (e *DuplicateTypeError) Error() string {
	return fmt.Sprintf("audit: type %s is already registered", e.Type)
}

// Is reports whether the target error matches DuplicateTypeError.
func (e *DuplicateTypeError) Is(err error) bool {
	return err == ErrDuplicateType
}

// TypeInfo links an audited entity type to the type its audit rows are
// written as.
type TypeInfo struct {
	Source     reflect.Type
	Audit      reflect.Type
	Properties []string // Go field names copied into the audit entity

	source  *schema.Table
	audit   *schema.Table
	factory func() Auditor
}

// Registry holds the audited types. It is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	types map[reflect.Type]*TypeInfo
	order []*TypeInfo
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{types: make(map[reflect.Type]*TypeInfo)}
}

// Register audits the entity type of source. factory returns a new audit
// entity; the named properties are copied into it. Without props, every
// property present in both types is copied, except the audit entity's key.
func (r *Registry) Register(source any, factory func() Auditor, props ...string) error {
	st, err := schema.Of(source)
	if err != nil {
		return err
	}
	if factory == nil {
		return fmt.Errorf("audit: nil factory for %s", st.Type)
	}
	sample := factory()
	at, err := schema.Of(sample)
	if err != nil {
		return err
	}
	if err := at.Check(sample); err != nil {
		return fmt.Errorf("audit: factory for %s: %w", st.Type, err)
	}
	if at == st {
		return fmt.Errorf("audit: %s cannot audit itself", st.Type)
	}
	if len(props) == 0 {
		props = shared(st, at)
	}
	for _, p := range props {
		sc, ok := st.Lookup(p)
		if !ok {
			return fmt.Errorf("audit: %s has no property %q", st.Type, p)
		}
		if _, ok := at.Lookup(sc.Field); !ok {
			return fmt.Errorf("audit: %s has no property %q", at.Type, sc.Field)
		}
	}
	names := make([]string, len(props))
	for i, p := range props {
		c, _ := st.Lookup(p)
		names[i] = c.Field
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[st.Type]; ok {
		return &DuplicateTypeError{Type: st.Type}
	}
	info := &TypeInfo{
		Source:     st.Type,
		Audit:      at.Type,
		Properties: names,
		source:     st,
		audit:      at,
		factory:    factory,
	}
	r.types[st.Type] = info
	r.order = append(r.order, info)
	return nil
}

// Register audits entity type S with audit entity type A.
//
//	audit.Register[Customer, CustomerAudit](reg)
func Register[S any, A any, PA interface {
	*A
	Auditor
}](r *Registry, props ...string) error {
	return r.Register(new(S), func() Auditor { return PA(new(A)) }, props...)
}

// Lookup returns the registration of the type of v, which is an entity, a
// pointer to one, or a reflect.Type.
func (r *Registry) Lookup(v any) (*TypeInfo, bool) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.types[t]
	return info, ok
}

// Types returns the registrations in registration order.
func (r *Registry) Types() []*TypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]*TypeInfo(nil), r.order...)
}

// Catalog maps the type names used in a Config to a value or pointer of
// each type.
type Catalog map[string]any

// ApplyConfig registers the type pairs of cfg, resolving names through
// catalog. Audit types must implement Auditor through a pointer receiver,
// as embedding Record does.
func (r *Registry) ApplyConfig(cfg Config, catalog Catalog) error {
	for _, p := range cfg.Types {
		src, ok := catalog[p.Entity]
		if !ok {
			return fmt.Errorf("audit: unknown entity type %q", p.Entity)
		}
		proto, ok := catalog[p.Audit]
		if !ok {
			return fmt.Errorf("audit: unknown audit type %q", p.Audit)
		}
		at := reflect.TypeOf(proto)
		for at.Kind() == reflect.Pointer {
			at = at.Elem()
		}
		if !reflect.PointerTo(at).Implements(reflect.TypeOf((*Auditor)(nil)).Elem()) {
			return fmt.Errorf("audit: %s does not implement Auditor", at)
		}
		factory := func() Auditor { return reflect.New(at).Interface().(Auditor) }
		if err := r.Register(src, factory, p.Properties...); err != nil {
			return err
		}
	}
	return nil
}

// shared returns the source properties the audit type also has, minus the
// audit type's key and audit record columns.
func shared(st, at *schema.Table) []string {
	var names []string
	for _, c := range st.Columns {
		ac, ok := at.Lookup(c.Field)
		if !ok || ac.Key || ac.Field != c.Field || isRecord(ac) {
			continue
		}
		names = append(names, c.Field)
	}
	return names
}

func isRecord(c *schema.Column) bool {
	switch c.Field {
	case "AuditUser", "AuditDate", "AuditType":
		return true
	}
	return false
}
