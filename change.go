package datakit

import "strings"

// State is the tracking state of an entity. States are bit flags so a
// filter can name several at once:
//
//	cs.Filter(datakit.Added | datakit.Modified)
type State uint

// Tracking states.
const (
	Detached State = 1 << iota
	Unchanged
	Added
	Deleted
	Modified
)

// Is reports whether s has any of the flags in o.
func (s State) Is(o State) bool { return s&o != 0 }

// String returns the state name.
func (s State) String() string {
	var names []string
	for _, st := range []State{Detached, Unchanged, Added, Deleted, Modified} {
		if s&st == 0 {
			continue
		}
		switch st {
		case Detached:
			names = append(names, "Detached")
		case Unchanged:
			names = append(names, "Unchanged")
		case Added:
			names = append(names, "Added")
		case Deleted:
			names = append(names, "Deleted")
		case Modified:
			names = append(names, "Modified")
		}
	}
	if len(names) == 0 {
		return "State(0)"
	}
	return strings.Join(names, "|")
}

// PropertyValue is the name and value of one entity property.
type PropertyValue struct {
	Name  string // Go field name
	Value any
}

// Change describes one entity written by a save.
type Change struct {
	entity     any
	state      State
	properties []PropertyValue
}

// NewChange returns a Change. It is called by the session while scanning
// its tracked entities.
func NewChange(entity any, state State, props []PropertyValue) Change {
	return Change{entity: entity, state: state, properties: props}
}

// Entity returns the changed entity.
func (c Change) Entity() any { return c.entity }

// State returns Added, Modified or Deleted.
func (c Change) State() State { return c.state }

// Properties returns the recorded properties in column order. Added
// changes carry every property, Modified changes only the modified ones,
// Deleted changes the values the entity was loaded with.
func (c Change) Properties() []PropertyValue {
	return append([]PropertyValue(nil), c.properties...)
}

// Names returns the recorded property names.
func (c Change) Names() []string {
	names := make([]string, len(c.properties))
	for i, p := range c.properties {
		names[i] = p.Name
	}
	return names
}

// Value returns the recorded value of the named property.
func (c Change) Value(name string) (any, bool) {
	for _, p := range c.properties {
		if p.Name == name {
			return p.Value, true
		}
	}
	return nil, false
}

// ChangeSet is the list of changes produced by one save of one context.
type ChangeSet struct {
	context string
	changes []Change
}

// NewChangeSet returns a ChangeSet for the named context.
func NewChangeSet(context string, changes []Change) *ChangeSet {
	return &ChangeSet{context: context, changes: changes}
}

// Context returns the name of the context that produced the set.
func (cs *ChangeSet) Context() string { return cs.context }

// Changes returns all changes in save order.
func (cs *ChangeSet) Changes() []Change {
	return append([]Change(nil), cs.changes...)
}

// Filter returns the changes whose state has any of the given flags.
func (cs *ChangeSet) Filter(s State) []Change {
	var out []Change
	for _, c := range cs.changes {
		if c.state.Is(s) {
			out = append(out, c)
		}
	}
	return out
}

// Added returns the added changes.
func (cs *ChangeSet) Added() []Change { return cs.Filter(Added) }

// Modified returns the modified changes.
func (cs *ChangeSet) Modified() []Change { return cs.Filter(Modified) }

// Deleted returns the deleted changes.
func (cs *ChangeSet) Deleted() []Change { return cs.Filter(Deleted) }

// Len returns the number of changes.
func (cs *ChangeSet) Len() int { return len(cs.changes) }

// Empty reports whether the set has no changes.
func (cs *ChangeSet) Empty() bool { return len(cs.changes) == 0 }
