package schema

import "github.com/pitabwire/designer/model"

// attribute tags a Change with the field attribute it sets.
type attribute int

const (
	attrName attribute = iota
	attrDataType
	attrRequired
	attrPrimaryKey
	attrLockType
)

// Change sets exactly one attribute of a field. Build one with SetName,
// SetDataType, SetRequired, SetPrimaryKey or SetLockType.
type Change struct {
	attr     attribute
	name     string
	dataType model.DataType
	flag     bool
	lock     model.LockType
}

// SetName changes the field name.
func SetName(name string) Change { return Change{attr: attrName, name: name} }

// SetDataType changes the field data type.
func SetDataType(dt model.DataType) Change { return Change{attr: attrDataType, dataType: dt} }

// SetRequired changes whether a value is required.
func SetRequired(required bool) Change { return Change{attr: attrRequired, flag: required} }

// SetPrimaryKey changes whether the field is the key.
func SetPrimaryKey(isKey bool) Change { return Change{attr: attrPrimaryKey, flag: isKey} }

// SetLockType changes the field lock.
func SetLockType(lock model.LockType) Change { return Change{attr: attrLockType, lock: lock} }

func (c Change) apply(f model.Field) model.Field {
	switch c.attr {
	case attrName:
		f.Name = c.name
	case attrDataType:
		f.DataType = c.dataType
	case attrRequired:
		f.Required = c.flag
	case attrPrimaryKey:
		f.IsPrimaryKey = c.flag
	case attrLockType:
		f.LockType = c.lock
	}
	return f
}

// Patch is an ordered list of changes applied to a single field.
type Patch []Change

// Apply returns f with every change applied in order.
func (p Patch) Apply(f model.Field) model.Field {
	for _, c := range p {
		f = c.apply(f)
	}
	return f
}

// Of is shorthand for building a Patch.
func Of(changes ...Change) Patch {
	return Patch(changes)
}
