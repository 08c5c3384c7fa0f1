package model

import "fmt"

// DataType is the storage type of a designed field.
type DataType string

// Field data types offered by the fields editor.
const (
	DataTypeInteger    DataType = "int"
	DataTypeString     DataType = "string"
	DataTypeMultiLine  DataType = "multiLine"
	DataTypeDate       DataType = "date"
	DataTypeBoolean    DataType = "boolean"
	DataTypeDouble     DataType = "double"
	DataTypeFileLink   DataType = "fileLink"
	DataTypeAttachment DataType = "attachment"
)

// Known reports whether d is one of the supported data types.
func (d DataType) Known() bool {
	switch d {
	case DataTypeInteger, DataTypeString, DataTypeMultiLine, DataTypeDate,
		DataTypeBoolean, DataTypeDouble, DataTypeFileLink, DataTypeAttachment:
		return true
	}
	return false
}

// KeyEligible reports whether a field of this type may be an entity key.
// Only integer and text columns can identify a row.
func (d DataType) KeyEligible() bool {
	return d == DataTypeInteger || d == DataTypeString
}

// LockType restricts edits to a field.
type LockType string

const (
	// LockNone places no restriction on the field.
	LockNone LockType = ""
	// LockedAsKey marks the key field of an entity that has already been
	// persisted. Its key-ness can no longer change.
	LockedAsKey LockType = "locked_as_key"
)

// Field is one schema column being designed.
type Field struct {
	Name         string   `json:"name"`
	DataType     DataType `json:"data_type"`
	IsPrimaryKey bool     `json:"is_primary_key"`
	Required     bool     `json:"required"`
	LockType     LockType `json:"lock_type,omitempty"`

	// Synthetic marks the auto-increment key placeholder. It is never set on
	// a user-created field.
	Synthetic bool `json:"synthetic,omitempty"`
}

// KeyKind discriminates the KeySelection variants.
type KeyKind int

const (
	KeyNone KeyKind = iota
	KeyAutoIncrement
	KeyField
)

// String implements fmt.Stringer.
func (k KeyKind) String() string {
	switch k {
	case KeyNone:
		return "none"
	case KeyAutoIncrement:
		return "auto_increment"
	case KeyField:
		return "field"
	default:
		return fmt.Sprintf("KeyKind(%d)", int(k))
	}
}

// KeySelection says how an entity is keyed. FieldIndex is only meaningful
// when Kind is KeyField. The zero value is NoKey.
type KeySelection struct {
	Kind       KeyKind `json:"kind"`
	FieldIndex int     `json:"field_index,omitempty"`
}

// NoKey is the selection for an entity without a key.
func NoKey() KeySelection {
	return KeySelection{Kind: KeyNone}
}

// AutoIncrementKey is the selection for a server-generated key.
func AutoIncrementKey() KeySelection {
	return KeySelection{Kind: KeyAutoIncrement}
}

// FieldKey is the selection for a user field acting as the key.
func FieldKey(index int) KeySelection {
	return KeySelection{Kind: KeyField, FieldIndex: index}
}

// String implements fmt.Stringer.
func (s KeySelection) String() string {
	if s.Kind == KeyField {
		return fmt.Sprintf("field(%d)", s.FieldIndex)
	}
	return s.Kind.String()
}
