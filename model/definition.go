package model

// Panel kinds understood by the designer.
const (
	PanelKindProperties = "properties"
	PanelKindFields     = "fields"
	PanelKindAdvanced   = "advanced"
)

// DesignerDefinition is the root structure of a designer definition file.
// Each file declares one designer kind and its ordered panels.
type DesignerDefinition struct {
	Kind    string            `yaml:"kind"    json:"kind"`
	Title   string            `yaml:"title"   json:"title"`
	Version string            `yaml:"version" json:"version"`
	Key     KeyDefinition     `yaml:"key"     json:"key"`
	Panels  []PanelDefinition `yaml:"panels"  json:"panels"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// KeyDefinition configures key-field selection for a designer kind.
type KeyDefinition struct {
	Required           bool `yaml:"required"             json:"required"`
	AllowAutoIncrement bool `yaml:"allow_auto_increment" json:"allow_auto_increment"`
}

// PanelDefinition describes one collapsible configuration panel.
type PanelDefinition struct {
	ID                 string   `yaml:"id"                  json:"id"`
	Title              string   `yaml:"title"               json:"title"`
	Kind               string   `yaml:"kind"                json:"kind"`
	RequiredProperties []string `yaml:"required_properties" json:"required_properties,omitempty"`
}

// FieldsPanelIndex returns the index of the fields panel, or -1.
func (d DesignerDefinition) FieldsPanelIndex() int {
	return d.panelIndexOfKind(PanelKindFields)
}

// PropertiesPanelIndex returns the index of the properties panel, or -1.
func (d DesignerDefinition) PropertiesPanelIndex() int {
	return d.panelIndexOfKind(PanelKindProperties)
}

func (d DesignerDefinition) panelIndexOfKind(kind string) int {
	for i, p := range d.Panels {
		if p.Kind == kind {
			return i
		}
	}
	return -1
}
