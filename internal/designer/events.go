package designer

import (
	"errors"
	"fmt"
	"maps"
	"strings"

	"github.com/pitabwire/designer/internal/schema"
	"github.com/pitabwire/designer/model"
)

// apply changes the draft according to e. The event must already be
// well-formed.
func (s *Session) apply(e model.DesignerEvent) error {
	p := panelForEvent(s.def, e)

	switch e.Type {
	case model.EventSetName:
		s.draft.Name = e.Value
	case model.EventSetDescription:
		s.draft.Description = e.Value
	case model.EventSetProperty:
		props := maps.Clone(s.draft.Properties)
		if props == nil {
			props = make(map[string]string)
		}
		if e.Value == "" {
			delete(props, e.Property)
		} else {
			props[e.Property] = e.Value
		}
		s.draft.Properties = props
	default:
		if p < 0 {
			return model.NewBadRequestError(fmt.Sprintf("designer %q has no fields panel", s.def.Kind))
		}
		next, err := applyFieldEvent(s.draft.Fields, e)
		if err != nil {
			return err
		}
		s.draft.Fields = next
	}

	s.edited(p)
	return nil
}

// applyFieldEvent performs a fields-panel edit. It never changes key-ness
// or lock type; those belong to key selection.
func applyFieldEvent(c schema.Collection, e model.DesignerEvent) (schema.Collection, error) {
	if e.Type == model.EventAddField {
		f := *e.Field
		f.IsPrimaryKey = false
		f.LockType = model.LockNone
		f.Synthetic = false
		if f.DataType == "" {
			f.DataType = model.DataTypeString
		}
		if !f.DataType.Known() {
			return c, model.NewBadRequestError(fmt.Sprintf("unknown data type %q", f.DataType))
		}
		return c.WithFieldAppended(f), nil
	}

	if !c.InRange(e.FieldIndex) {
		return c, fieldOutOfRange(e.FieldIndex, c.Len())
	}
	f := c.At(e.FieldIndex)

	switch e.Type {
	case model.EventRemoveField:
		if f.LockType == model.LockedAsKey {
			return c, model.NewKeyLockedError(fmt.Sprintf("field %q is the key of a saved entity and cannot be removed", f.Name))
		}
		return c.WithFieldRemovedAt(e.FieldIndex), nil

	case model.EventReorderField:
		if !c.InRange(e.ToIndex) {
			return c, fieldOutOfRange(e.ToIndex, c.Len())
		}
		return c.WithFieldMoved(e.FieldIndex, e.ToIndex), nil

	case model.EventUpdateField:
		if f.Synthetic {
			return c, model.NewBadRequestError("the auto-increment key is managed by key selection")
		}
		var change schema.Change
		switch e.Attribute {
		case model.FieldAttrName:
			if f.LockType == model.LockedAsKey {
				return c, model.NewKeyLockedError(fmt.Sprintf("field %q is the key of a saved entity and cannot be renamed", f.Name))
			}
			change = schema.SetName(e.Value)
		case model.FieldAttrDataType:
			if f.LockType == model.LockedAsKey {
				return c, model.NewKeyLockedError(fmt.Sprintf("field %q is the key of a saved entity and cannot change type", f.Name))
			}
			change = schema.SetDataType(model.DataType(e.Value))
		case model.FieldAttrRequired:
			if f.IsPrimaryKey && !e.Flag {
				return c, model.NewBadRequestError(fmt.Sprintf("key field %q is always required", f.Name))
			}
			change = schema.SetRequired(e.Flag)
		}
		return c.WithFieldReplaced(e.FieldIndex, schema.Of(change)), nil
	}

	return c, model.NewBadRequestError(fmt.Sprintf("unknown event type %q", e.Type))
}

// selectKey moves the key through the key-field binder.
func (s *Session) selectKey(target model.KeySelection) error {
	p := s.def.FieldsPanelIndex()
	if p < 0 {
		return model.NewBadRequestError(fmt.Sprintf("designer %q has no fields panel", s.def.Kind))
	}
	c := s.draft.Fields

	switch target.Kind {
	case model.KeyAutoIncrement:
		if !s.def.Key.AllowAutoIncrement {
			return model.NewBadRequestError(fmt.Sprintf("designer %q does not offer an auto-increment key", s.def.Kind))
		}
	case model.KeyField:
		if c.InRange(target.FieldIndex) {
			f := c.At(target.FieldIndex)
			if !f.Synthetic && (strings.TrimSpace(f.Name) == "" || !f.DataType.KeyEligible()) {
				return model.NewBadRequestError(fmt.Sprintf("field %d cannot be the key: it needs a name and an int or string type", target.FieldIndex))
			}
		}
	}

	next, err := schema.SelectKey(c, target)
	switch {
	case errors.Is(err, schema.ErrKeyLocked):
		return model.NewKeyLockedError(err.Error())
	case errors.Is(err, schema.ErrFieldIndexOutOfRange):
		return model.NewFieldOutOfRangeError(err.Error())
	case err != nil:
		return err
	}

	if next.Equal(c) {
		return nil
	}
	s.draft.Fields = next
	s.edited(p)
	return nil
}

func fieldOutOfRange(i, n int) error {
	return model.NewFieldOutOfRangeError(fmt.Sprintf("field index %d out of range [0,%d)", i, n))
}
