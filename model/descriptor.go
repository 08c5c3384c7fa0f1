package model

// DesignerDescriptor is the resolved designer session sent to the frontend.
// Everything a UI needs to render the designer is here; the UI holds no
// state of its own.
type DesignerDescriptor struct {
	SessionID    string            `json:"session_id"`
	Kind         string            `json:"kind"`
	Title        string            `json:"title"`
	DomainID     string            `json:"domain_id,omitempty"`
	Name         string            `json:"name"`
	Description  string            `json:"description,omitempty"`
	Properties   map[string]string `json:"properties,omitempty"`
	Fields       []Field           `json:"fields"`
	Key          KeySelection      `json:"key"`
	KeyOptions   []KeyOption       `json:"key_options"`
	KeyValid     bool              `json:"key_valid"`
	Panels       []PanelDescriptor `json:"panels"`
	CurrentPanel int               `json:"current_panel"`
	Submitting   bool              `json:"submitting"`
	CanSave      bool              `json:"can_save"`
	Persisted    bool              `json:"persisted"`
	Version      int               `json:"version"`
	LastError    *ErrorEnvelope    `json:"last_error,omitempty"`
}

// PanelDescriptor is one configuration section as rendered by the UI.
type PanelDescriptor struct {
	Index     int          `json:"index"`
	ID        string       `json:"id"`
	Title     string       `json:"title"`
	Kind      string       `json:"kind"`
	Status    string       `json:"status"`
	IsValid   bool         `json:"is_valid"`
	Collapsed bool         `json:"collapsed"`
	Validate  bool         `json:"validate"`
	Errors    []FieldError `json:"errors,omitempty"`
}

// KeyOption is one entry offered by the key-field selector.
type KeyOption struct {
	Label     string       `json:"label"`
	Selection KeySelection `json:"selection"`
	Selected  bool         `json:"selected"`
}
