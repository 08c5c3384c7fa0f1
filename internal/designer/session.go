package designer

import (
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/pitabwire/designer/internal/panel"
	"github.com/pitabwire/designer/internal/schema"
	"github.com/pitabwire/designer/model"
)

// draft is the entity being designed.
type draft struct {
	ID          string
	Name        string
	Description string
	Properties  map[string]string
	Fields      schema.Collection
	Version     int
}

func (d draft) persisted() bool {
	return d.ID != "" && d.Version > 0
}

// design converts the draft to the shape the domain store accepts.
func (d draft) design(kind string) model.DomainDesign {
	keyName, keyType := schema.KeyWire(d.Fields)
	return model.DomainDesign{
		ID:          d.ID,
		Kind:        kind,
		Name:        strings.TrimSpace(d.Name),
		Description: d.Description,
		Properties:  maps.Clone(d.Properties),
		Fields:      d.Fields.Fields(),
		KeyName:     keyName,
		KeyType:     keyType,
		Version:     d.Version,
	}
}

func draftFromDesign(d model.DomainDesign) draft {
	return draft{
		ID:          d.ID,
		Name:        d.Name,
		Description: d.Description,
		Properties:  maps.Clone(d.Properties),
		Fields:      schema.FromDesign(d),
		Version:     d.Version,
	}
}

// Session is one open designer. All fields are guarded by mu.
type Session struct {
	mu sync.Mutex

	id        string
	tenantID  string
	subjectID string
	def       model.DesignerDefinition

	state     panel.State
	collapsed []bool
	draft     draft

	// serverErrs holds the errors the domain store reported, by panel. A
	// panel's entry is dropped once that panel is edited.
	serverErrs map[int][]model.FieldError
	lastError  *model.ErrorEnvelope

	// generation counts edits. A save result is only applied to the draft
	// if no edit happened while it was in flight.
	generation uint64
	closed     bool
	lastUsed   time.Time
}

func newSession(id string, rctx *model.RequestContext, def model.DesignerDefinition, d draft, now time.Time) *Session {
	collapsed := make([]bool, len(def.Panels))
	for i := range collapsed {
		collapsed[i] = true
	}
	return &Session{
		id:         id,
		tenantID:   rctx.TenantID,
		subjectID:  rctx.SubjectID,
		def:        def,
		state:      panel.NewState(len(def.Panels)),
		collapsed:  collapsed,
		draft:      d,
		serverErrs: make(map[int][]model.FieldError),
		lastUsed:   now,
	}
}

// ownedBy reports whether rctx may use the session.
func (s *Session) ownedBy(rctx *model.RequestContext) bool {
	return rctx != nil && s.tenantID == rctx.TenantID && s.subjectID == rctx.SubjectID
}

// edited records a change to the draft made from panel p.
func (s *Session) edited(p int) {
	s.generation++
	if p >= 0 {
		delete(s.serverErrs, p)
	}
}

// canSave is the gate on the save control.
func (s *Session) canSave() bool {
	if s.closed || s.state.Submitting {
		return false
	}
	if strings.TrimSpace(s.draft.Name) == "" {
		return false
	}
	for i := range s.def.Panels {
		if !s.panelValid(i) {
			return false
		}
	}
	return true
}

func (s *Session) descriptor() model.DesignerDescriptor {
	panels := make([]model.PanelDescriptor, len(s.def.Panels))
	for i, p := range s.def.Panels {
		valid := s.panelValid(i)
		panels[i] = model.PanelDescriptor{
			Index:     i,
			ID:        p.ID,
			Title:     p.Title,
			Kind:      p.Kind,
			Status:    string(panel.ComputeStatus(i, s.state, valid)),
			IsValid:   valid,
			Collapsed: s.collapsed[i],
			Validate:  s.state.IsVisited(i),
			Errors:    s.serverErrs[i],
		}
	}

	fields := s.draft.Fields
	return model.DesignerDescriptor{
		SessionID:    s.id,
		Kind:         s.def.Kind,
		Title:        s.def.Title,
		DomainID:     s.draft.ID,
		Name:         s.draft.Name,
		Description:  s.draft.Description,
		Properties:   maps.Clone(s.draft.Properties),
		Fields:       fields.Fields(),
		Key:          schema.SelectionOf(fields),
		KeyOptions:   schema.KeyOptions(fields, s.def.Key.AllowAutoIncrement),
		KeyValid:     schema.IsKeyValid(fields),
		Panels:       panels,
		CurrentPanel: s.state.CurrentPanelIndex,
		Submitting:   s.state.Submitting,
		CanSave:      s.canSave(),
		Persisted:    s.draft.persisted(),
		Version:      s.draft.Version,
		LastError:    s.lastError,
	}
}
