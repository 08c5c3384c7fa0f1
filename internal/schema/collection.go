// Package schema holds the immutable field collection of a designed domain
// and the key-field binding rules that operate on it.
package schema

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/pitabwire/designer/model"
)

// Collection is an ordered, immutable sequence of fields. Every edit returns
// a new Collection; a Collection handed out earlier never changes, so it can
// be kept for comparison or undo.
type Collection struct {
	fields []model.Field
}

// NewCollection builds a Collection from a copy of fields.
func NewCollection(fields ...model.Field) Collection {
	return Collection{fields: slices.Clone(fields)}
}

// Len returns the number of fields.
func (c Collection) Len() int {
	return len(c.fields)
}

// At returns the field at index i. It panics if i is out of range.
func (c Collection) At(i int) model.Field {
	return c.fields[i]
}

// Fields returns a copy of the fields in order.
func (c Collection) Fields() []model.Field {
	out := slices.Clone(c.fields)
	if out == nil {
		out = []model.Field{}
	}
	return out
}

// InRange reports whether i addresses a field.
func (c Collection) InRange(i int) bool {
	return i >= 0 && i < len(c.fields)
}

// WithFieldReplaced returns a collection in which the field at index has
// patch applied. It panics if index is out of range.
func (c Collection) WithFieldReplaced(index int, patch Patch) Collection {
	if !c.InRange(index) {
		panic(fmt.Sprintf("schema: field index %d out of range [0,%d)", index, len(c.fields)))
	}
	out := slices.Clone(c.fields)
	out[index] = patch.Apply(out[index])
	return Collection{fields: out}
}

// WithFieldAppended returns a collection with f added at the end.
func (c Collection) WithFieldAppended(f model.Field) Collection {
	out := make([]model.Field, len(c.fields), len(c.fields)+1)
	copy(out, c.fields)
	return Collection{fields: append(out, f)}
}

// WithFieldRemoved returns a collection without the fields matching pred.
func (c Collection) WithFieldRemoved(pred func(model.Field) bool) Collection {
	out := make([]model.Field, 0, len(c.fields))
	for _, f := range c.fields {
		if !pred(f) {
			out = append(out, f)
		}
	}
	return Collection{fields: out}
}

// WithFieldRemovedAt returns a collection without the field at index. It
// panics if index is out of range.
func (c Collection) WithFieldRemovedAt(index int) Collection {
	if !c.InRange(index) {
		panic(fmt.Sprintf("schema: field index %d out of range [0,%d)", index, len(c.fields)))
	}
	return Collection{fields: slices.Delete(slices.Clone(c.fields), index, index+1)}
}

// WithFieldMoved returns a collection in which the field at from now sits at
// to. It panics if either index is out of range.
func (c Collection) WithFieldMoved(from, to int) Collection {
	if !c.InRange(from) || !c.InRange(to) {
		panic(fmt.Sprintf("schema: move %d->%d out of range [0,%d)", from, to, len(c.fields)))
	}
	f := c.fields[from]
	out := slices.Delete(slices.Clone(c.fields), from, from+1)
	return Collection{fields: slices.Insert(out, to, f)}
}

// KeyIndexes returns the indexes of every field flagged as primary key,
// placeholder included.
func (c Collection) KeyIndexes() []int {
	var idx []int
	for i, f := range c.fields {
		if f.IsPrimaryKey {
			idx = append(idx, i)
		}
	}
	return idx
}

// PlaceholderIndex returns the index of the auto-increment placeholder, or
// -1 when there is none.
func (c Collection) PlaceholderIndex() int {
	return slices.IndexFunc(c.fields, func(f model.Field) bool { return f.Synthetic })
}

// IndexOf returns the index of the first non-synthetic field named name, or
// -1.
func (c Collection) IndexOf(name string) int {
	return slices.IndexFunc(c.fields, func(f model.Field) bool {
		return !f.Synthetic && f.Name == name
	})
}

// Equal reports whether both collections hold the same fields in the same
// order.
func (c Collection) Equal(o Collection) bool {
	return slices.Equal(c.fields, o.fields)
}

// MarshalJSON encodes the collection as a JSON array.
func (c Collection) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.Fields())
}

// UnmarshalJSON decodes a JSON array of fields.
func (c *Collection) UnmarshalJSON(data []byte) error {
	var fields []model.Field
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	c.fields = fields
	return nil
}
