package schema

import (
	"github.com/pitabwire/designer/model"
)

// FromDesign binds a loaded design's key name and key type onto its fields.
// Key flags already present on the wire fields are ignored; keyName and
// keyType are authoritative. When the design has been persisted the key
// field is locked.
func FromDesign(d model.DomainDesign) Collection {
	fields := make([]model.Field, len(d.Fields))
	for i, f := range d.Fields {
		f.IsPrimaryKey = false
		f.Synthetic = false
		f.LockType = model.LockNone
		fields[i] = f
	}
	c := Collection{fields: fields}

	keyIdx := -1
	switch d.KeyType {
	case model.KeyTypeAutoIncrement:
		name := d.KeyName
		if name == "" {
			name = model.AutoIncrementKeyName
		}
		keyIdx = c.IndexOf(name)
		if keyIdx < 0 {
			p := Placeholder()
			p.Name = name
			c = c.WithFieldAppended(p)
			keyIdx = c.Len() - 1
		} else {
			c.fields[keyIdx].Synthetic = true
			c.fields[keyIdx].DataType = model.DataTypeInteger
		}
	case model.KeyTypeInteger, model.KeyTypeVarchar:
		keyIdx = c.IndexOf(d.KeyName)
	}

	if keyIdx < 0 {
		return c
	}
	changes := Of(SetPrimaryKey(true), SetRequired(true))
	if d.Persisted() {
		changes = append(changes, SetLockType(model.LockedAsKey))
	}
	return c.WithFieldReplaced(keyIdx, changes)
}

// KeyWire returns the wire key name and key type for the collection.
func KeyWire(c Collection) (keyName, keyType string) {
	sel := SelectionOf(c)
	switch sel.Kind {
	case model.KeyAutoIncrement:
		return c.At(c.PlaceholderIndex()).Name, model.KeyTypeAutoIncrement
	case model.KeyField:
		f := c.At(sel.FieldIndex)
		if f.DataType == model.DataTypeInteger {
			return f.Name, model.KeyTypeInteger
		}
		return f.Name, model.KeyTypeVarchar
	default:
		return "", ""
	}
}

// RestoreKey puts the key of a saved design back onto c and locks it,
// replacing whatever key c carries. A key field c no longer has is taken
// from the saved fields and appended.
func RestoreKey(c Collection, saved model.DomainDesign) Collection {
	next, _ := clearKey(c)
	if i := LockedKeyIndex(next); i >= 0 {
		next = next.WithFieldReplaced(i, Of(SetLockType(model.LockNone)))
	}

	switch saved.KeyType {
	case model.KeyTypeAutoIncrement:
		p := Placeholder()
		if saved.KeyName != "" {
			p.Name = saved.KeyName
		}
		p.LockType = model.LockedAsKey
		return next.WithFieldAppended(p)
	case model.KeyTypeInteger, model.KeyTypeVarchar:
		want := model.Field{Name: saved.KeyName, DataType: model.DataTypeString}
		if saved.KeyType == model.KeyTypeInteger {
			want.DataType = model.DataTypeInteger
		}
		for _, f := range saved.Fields {
			if f.Name == saved.KeyName {
				want = f
				break
			}
		}
		i := next.IndexOf(saved.KeyName)
		if i < 0 {
			want.IsPrimaryKey = false
			want.Synthetic = false
			want.LockType = model.LockNone
			next = next.WithFieldAppended(want)
			i = next.Len() - 1
		}
		return next.WithFieldReplaced(i, Of(
			SetDataType(want.DataType),
			SetPrimaryKey(true),
			SetRequired(true),
			SetLockType(model.LockedAsKey),
		))
	default:
		return next
	}
}
