package designer

import (
	"slices"
	"strings"

	"github.com/pitabwire/designer/internal/schema"
	"github.com/pitabwire/designer/model"
)

const propertyPrefix = "properties."

// panelValid is the panel-local validity of panel i. Errors reported by the
// domain store count against the panel until it is edited.
func (s *Session) panelValid(i int) bool {
	if len(s.serverErrs[i]) > 0 {
		return false
	}
	p := s.def.Panels[i]
	for _, prop := range p.RequiredProperties {
		if strings.TrimSpace(s.propertyValue(prop)) == "" {
			return false
		}
	}
	if p.Kind == model.PanelKindFields {
		return fieldsValid(s.draft.Fields, s.def.Key.Required)
	}
	return true
}

// propertyValue resolves a required_properties entry against the draft.
func (s *Session) propertyValue(prop string) string {
	switch {
	case prop == "name":
		return s.draft.Name
	case prop == "description":
		return s.draft.Description
	case strings.HasPrefix(prop, propertyPrefix):
		return s.draft.Properties[strings.TrimPrefix(prop, propertyPrefix)]
	default:
		return ""
	}
}

// fieldsValid checks every field is named, uniquely, with a known type, and
// that the key is sound. A key is only demanded when keyRequired is set,
// but a key that is present must always be valid.
func fieldsValid(c schema.Collection, keyRequired bool) bool {
	seen := make(map[string]bool, c.Len())
	for _, f := range c.Fields() {
		name := strings.ToLower(strings.TrimSpace(f.Name))
		if name == "" || seen[name] || !f.DataType.Known() {
			return false
		}
		seen[name] = true
	}
	if keyRequired || len(c.KeyIndexes()) > 0 {
		return schema.IsKeyValid(c)
	}
	return true
}

// panelForEvent returns the panel an edit event belongs to, or -1.
func panelForEvent(def model.DesignerDefinition, e model.DesignerEvent) int {
	switch e.Type {
	case model.EventSetName:
		return panelForProperty(def, "name")
	case model.EventSetDescription:
		return panelForProperty(def, "description")
	case model.EventSetProperty:
		return panelForProperty(def, propertyPrefix+e.Property)
	default:
		return def.FieldsPanelIndex()
	}
}

// panelForProperty returns the panel that requires prop, falling back to
// the properties panel.
func panelForProperty(def model.DesignerDefinition, prop string) int {
	for i, p := range def.Panels {
		if slices.Contains(p.RequiredProperties, prop) {
			return i
		}
	}
	return def.PropertiesPanelIndex()
}

// mapServerErrors assigns each error returned by the domain store to the
// panel that owns it. An explicit panel index wins, then a field index
// (fields panel), then the property path; anything else lands on the first
// panel.
func mapServerErrors(def model.DesignerDefinition, details []model.FieldError) map[int][]model.FieldError {
	out := make(map[int][]model.FieldError)
	if len(def.Panels) == 0 {
		return out
	}
	fieldsPanel := def.FieldsPanelIndex()

	for _, fe := range details {
		p := -1
		switch {
		case fe.PanelIndex != nil && *fe.PanelIndex >= 0 && *fe.PanelIndex < len(def.Panels):
			p = *fe.PanelIndex
		case fe.FieldIndex != nil && fieldsPanel >= 0:
			p = fieldsPanel
		case strings.HasPrefix(fe.Field, "fields[") || strings.HasPrefix(fe.Field, "key_"):
			p = fieldsPanel
		case fe.Field != "":
			p = panelForProperty(def, fe.Field)
		}
		if p < 0 {
			p = 0
		}
		fe.PanelIndex = model.IntPtr(p)
		out[p] = append(out[p], fe)
	}
	return out
}
