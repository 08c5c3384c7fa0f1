package model

import "fmt"

// EventType discriminates DesignerEvent variants.
type EventType string

// Designer edit events.
const (
	EventSetName        EventType = "set_name"
	EventSetDescription EventType = "set_description"
	EventSetProperty    EventType = "set_property"
	EventAddField       EventType = "add_field"
	EventRemoveField    EventType = "remove_field"
	EventUpdateField    EventType = "update_field"
	EventReorderField   EventType = "reorder_field"
)

// FieldAttribute names which attribute an update_field event changes.
type FieldAttribute string

// Field attributes editable through update_field. Key-ness and lock type
// are deliberately absent: only key selection may change them.
const (
	FieldAttrName     FieldAttribute = "name"
	FieldAttrDataType FieldAttribute = "data_type"
	FieldAttrRequired FieldAttribute = "required"
)

// DesignerEvent is a single user edit applied to a designer session.
// Which members are read depends on Type. The panel an event belongs to is
// derived from its type, not supplied by the client.
type DesignerEvent struct {
	Type       EventType      `json:"type"`
	Value      string         `json:"value,omitempty"`
	Property   string         `json:"property,omitempty"`
	Field      *Field         `json:"field,omitempty"`
	FieldIndex int            `json:"field_index"`
	ToIndex    int            `json:"to_index"`
	Attribute  FieldAttribute `json:"attribute,omitempty"`
	Flag       bool           `json:"flag,omitempty"`
}

// Validate checks the event is well-formed for its type. It does not check
// indexes against a session.
func (e DesignerEvent) Validate() error {
	switch e.Type {
	case EventSetName, EventSetDescription:
		return nil
	case EventSetProperty:
		if e.Property == "" {
			return fmt.Errorf("set_property requires a property name")
		}
		return nil
	case EventAddField:
		if e.Field == nil {
			return fmt.Errorf("add_field requires a field")
		}
		return nil
	case EventRemoveField, EventReorderField:
		return nil
	case EventUpdateField:
		switch e.Attribute {
		case FieldAttrName, FieldAttrRequired:
			return nil
		case FieldAttrDataType:
			if !DataType(e.Value).Known() {
				return fmt.Errorf("unknown data type %q", e.Value)
			}
			return nil
		default:
			return fmt.Errorf("attribute %q cannot be edited", e.Attribute)
		}
	default:
		return fmt.Errorf("unknown event type %q", e.Type)
	}
}
