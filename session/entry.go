package session

import (
	"fmt"
	"reflect"

	"github.com/syssam/datakit"
	"github.com/syssam/datakit/schema"
)

// Entry is the tracking record of one entity.
type Entry struct {
	entity   any
	table    *schema.Table
	state    datakit.State
	original map[string]any  // column values when loaded or last saved
	modified map[string]bool // column names
}

// Entity returns the tracked entity pointer.
func (e *Entry) Entity() any { return e.entity }

// Table returns the mapping of the entity type.
func (e *Entry) Table() *schema.Table { return e.table }

// State returns the tracking state.
func (e *Entry) State() datakit.State { return e.state }

// Key returns the current primary key.
func (e *Entry) Key() schema.PrimaryKey {
	return schema.PrimaryKey{Column: e.table.Key, Value: e.table.Get(e.entity, e.table.Key)}
}

// OriginalValue returns the value the named property had when the entity was
// loaded or last saved. Added entities have no original values.
func (e *Entry) OriginalValue(name string) (any, bool) {
	c, ok := e.table.Lookup(name)
	if !ok || e.original == nil {
		return nil, false
	}
	return e.original[c.Name], true
}

// CurrentValue returns the current value of the named property.
func (e *Entry) CurrentValue(name string) (any, bool) {
	c, ok := e.table.Lookup(name)
	if !ok {
		return nil, false
	}
	return e.table.Get(e.entity, c), true
}

// OriginalValues returns the original values keyed by Go field name.
func (e *Entry) OriginalValues() map[string]any {
	if e.original == nil {
		return nil
	}
	return byField(e.table, e.original)
}

// CurrentValues returns the current values keyed by Go field name.
func (e *Entry) CurrentValues() map[string]any {
	return byField(e.table, e.table.Values(e.entity))
}

// IsModified reports whether the named property is flagged as modified.
func (e *Entry) IsModified(name string) bool {
	c, ok := e.table.Lookup(name)
	return ok && e.modified[c.Name]
}

// ModifiedProperties returns the Go field names of the modified properties
// in column order.
func (e *Entry) ModifiedProperties() []string {
	var names []string
	for _, c := range e.table.Columns {
		if e.modified[c.Name] {
			names = append(names, c.Field)
		}
	}
	return names
}

func (e *Entry) snapshot() {
	e.original = e.table.Values(e.entity)
	e.modified = make(map[string]bool)
}

// detect flags the mutable columns whose value differs from the snapshot.
func (e *Entry) detect() {
	if !e.state.Is(datakit.Unchanged|datakit.Modified) || e.original == nil {
		return
	}
	for _, c := range e.table.Columns {
		if !c.Mutable() || e.modified[c.Name] {
			continue
		}
		if !reflect.DeepEqual(e.original[c.Name], e.table.Get(e.entity, c)) {
			e.modified[c.Name] = true
		}
	}
	if len(e.modified) > 0 {
		e.state = datakit.Modified
	}
}

func byField(t *schema.Table, values map[string]any) map[string]any {
	out := make(map[string]any, len(values))
	for _, c := range t.Columns {
		if v, ok := values[c.Name]; ok {
			out[c.Field] = v
		}
	}
	return out
}

// Entry returns the tracking record of entity, or nil if it is not tracked.
func (s *Session) Entry(entity any) *Entry {
	e, _ := s.lookup(entity)
	return e
}

// lookup guards the pointer-keyed index against non-pointer values, which
// may not be comparable.
func (s *Session) lookup(entity any) (*Entry, bool) {
	if entity == nil || reflect.ValueOf(entity).Kind() != reflect.Pointer {
		return nil, false
	}
	e, ok := s.byEntity[entity]
	return e, ok
}

// Entries returns the tracked entries in tracking order.
func (s *Session) Entries() []*Entry {
	return append([]*Entry(nil), s.entries...)
}

// Add begins tracking entity as Added. Re-adding a Deleted entity cancels
// the delete.
func (s *Session) Add(entity any) error {
	if e, ok := s.lookup(entity); ok {
		if e.state == datakit.Deleted {
			e.state = datakit.Unchanged
			e.detect()
		}
		return nil
	}
	_, err := s.track(entity, datakit.Added)
	return err
}

// Attach begins tracking entity as Unchanged, taking its current values as
// the original values. Attaching a tracked entity is a no-op.
func (s *Session) Attach(entity any) error {
	if _, ok := s.lookup(entity); ok {
		return nil
	}
	_, err := s.track(entity, datakit.Unchanged)
	return err
}

// Remove marks entity as Deleted. An Added entity is detached instead, and
// an untracked entity is attached first.
func (s *Session) Remove(entity any) error {
	e, ok := s.lookup(entity)
	if !ok {
		var err error
		if e, err = s.track(entity, datakit.Unchanged); err != nil {
			return err
		}
	}
	if e.state == datakit.Added {
		s.detach(e)
		return nil
	}
	e.state = datakit.Deleted
	return nil
}

// Detach stops tracking entity.
func (s *Session) Detach(entity any) {
	if e, ok := s.lookup(entity); ok {
		s.detach(e)
	}
}

// Clear detaches every entity.
func (s *Session) Clear() {
	for _, e := range s.entries {
		e.state = datakit.Detached
	}
	s.entries = nil
	s.byEntity = make(map[any]*Entry)
	s.byKey = make(map[identity]*Entry)
}

// MarkModified flags the named properties of entity as modified, or every
// mutable property when none are named. An untracked entity is attached
// first, which makes this the way to update an entity that was not loaded
// by the session.
func (s *Session) MarkModified(entity any, props ...string) error {
	e, ok := s.lookup(entity)
	if !ok {
		var err error
		if e, err = s.track(entity, datakit.Unchanged); err != nil {
			return err
		}
	}
	if e.state.Is(datakit.Added | datakit.Deleted) {
		return nil
	}
	var cols []*schema.Column
	if len(props) == 0 {
		for _, c := range e.table.Columns {
			if c.Mutable() {
				cols = append(cols, c)
			}
		}
	}
	for _, p := range props {
		c, ok := e.table.Lookup(p)
		if !ok {
			return fmt.Errorf("session: %s has no property %q", e.table.Type.Name(), p)
		}
		if !c.Mutable() {
			return fmt.Errorf("session: %s.%s is not updatable", e.table.Type.Name(), c.Field)
		}
		cols = append(cols, c)
	}
	for _, c := range cols {
		e.modified[c.Name] = true
	}
	if len(e.modified) > 0 {
		e.state = datakit.Modified
	}
	return nil
}

// DetectChanges compares every Unchanged or Modified entity with its
// original values and flags the properties that changed.
func (s *Session) DetectChanges() {
	for _, e := range s.entries {
		e.detect()
	}
}

// HasChanges reports whether a save would write anything.
func (s *Session) HasChanges() bool {
	s.DetectChanges()
	for _, e := range s.entries {
		if e.state.Is(datakit.Added | datakit.Modified | datakit.Deleted) {
			return true
		}
	}
	return false
}

func (s *Session) track(entity any, state datakit.State) (*Entry, error) {
	t, err := schema.Of(entity)
	if err != nil {
		return nil, err
	}
	if err := t.Check(entity); err != nil {
		return nil, err
	}
	e := &Entry{entity: entity, table: t, state: state, modified: make(map[string]bool)}
	key := e.Key()
	id := identity{t, key.Value}
	if !key.IsZero() {
		if other, ok := s.byKey[id]; ok && other.entity != entity {
			return nil, fmt.Errorf("session: another %s with %s is already tracked", t.Type.Name(), key)
		}
	}
	if state != datakit.Added {
		e.snapshot()
	}
	s.entries = append(s.entries, e)
	s.byEntity[entity] = e
	if !key.IsZero() {
		s.byKey[id] = e
	}
	return e, nil
}

// register indexes e under its current key.
func (s *Session) register(e *Entry) {
	if key := e.Key(); !key.IsZero() {
		s.byKey[identity{e.table, key.Value}] = e
	}
}

func (s *Session) detach(e *Entry) {
	e.state = datakit.Detached
	delete(s.byEntity, e.entity)
	if key := e.Key(); !key.IsZero() {
		id := identity{e.table, key.Value}
		if s.byKey[id] == e {
			delete(s.byKey, id)
		}
	}
	for i, x := range s.entries {
		if x == e {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			break
		}
	}
}

// restore re-tracks a detached entry, as a rollback of a save that
// detached it.
func (s *Session) restore(e *Entry) {
	if _, ok := s.byEntity[e.entity]; ok {
		return
	}
	s.entries = append(s.entries, e)
	s.byEntity[e.entity] = e
	s.register(e)
}
