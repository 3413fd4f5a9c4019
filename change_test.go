package datakit_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/syssam/datakit"
)

func TestStateIs(t *testing.T) {
	tests := []struct {
		name     string
		state    datakit.State
		check    datakit.State
		expected bool
	}{
		{"Added is Added", datakit.Added, datakit.Added, true},
		{"Added is not Modified", datakit.Added, datakit.Modified, false},
		{"Deleted in Added|Deleted", datakit.Deleted, datakit.Added | datakit.Deleted, true},
		{"Unchanged not in writes", datakit.Unchanged, datakit.Added | datakit.Modified | datakit.Deleted, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.Is(tt.check))
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "Added", datakit.Added.String())
	assert.Equal(t, "Detached", datakit.Detached.String())
	assert.Equal(t, "Added|Modified", (datakit.Added | datakit.Modified).String())
	assert.Equal(t, "State(0)", datakit.State(0).String())
}

func TestChangeSet(t *testing.T) {
	type item struct{ Name string }
	a, b, c := &item{"a"}, &item{"b"}, &item{"c"}
	cs := datakit.NewChangeSet("catalog", []datakit.Change{
		datakit.NewChange(a, datakit.Added, []datakit.PropertyValue{{Name: "Name", Value: "a"}}),
		datakit.NewChange(b, datakit.Modified, []datakit.PropertyValue{{Name: "Name", Value: "b"}}),
		datakit.NewChange(c, datakit.Deleted, nil),
	})
	assert.Equal(t, "catalog", cs.Context())
	assert.Equal(t, 3, cs.Len())
	assert.False(t, cs.Empty())
	assert.Len(t, cs.Added(), 1)
	assert.Len(t, cs.Filter(datakit.Added|datakit.Deleted), 2)
	assert.Same(t, b, cs.Modified()[0].Entity())
	assert.Same(t, c, cs.Deleted()[0].Entity())

	mod := cs.Modified()[0]
	assert.Equal(t, []string{"Name"}, mod.Names())
	v, ok := mod.Value("Name")
	assert.True(t, ok)
	assert.Equal(t, "b", v)
	_, ok = mod.Value("Missing")
	assert.False(t, ok)

	props := mod.Properties()
	props[0].Value = "mutated"
	v, _ = mod.Value("Name")
	assert.Equal(t, "b", v, "returned slices are copies")

	assert.True(t, datakit.NewChangeSet("empty", nil).Empty())
}
