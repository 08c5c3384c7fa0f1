package integration

import (
	"net/http"
	"testing"
	"time"

	"github.com/pitabwire/designer/model"
)

// openSaveableList opens a list designer with a name, one integer field
// and that field as key.
func openSaveableList(t *testing.T, h *TestHarness, token, name string) model.DesignerDescriptor {
	t.Helper()
	d := h.Open(t, token, "list", "")
	h.Event(t, token, d.SessionID, model.DesignerEvent{Type: model.EventSetName, Value: name})
	h.Event(t, token, d.SessionID, model.DesignerEvent{
		Type:  model.EventAddField,
		Field: &model.Field{Name: "SampleId", DataType: model.DataTypeInteger},
	})
	d = h.SelectKey(t, token, d.SessionID, map[string]any{"target": "field", "index": 0})
	if !d.CanSave {
		t.Fatalf("list is not saveable: %s", FormatJSON(d))
	}
	return d
}

// designSamplesList saves a "Samples" list and returns its domain ID.
func designSamplesList(t *testing.T, h *TestHarness, token string) string {
	t.Helper()
	d := openSaveableList(t, h, token, "Samples")
	var saved model.DesignerDescriptor
	h.AssertJSON(t, h.Submit(d.SessionID, token, ""), http.StatusOK, &saved)
	if saved.DomainID == "" {
		t.Fatalf("submit returned no domain ID: %s", FormatJSON(saved))
	}
	return saved.DomainID
}

func panelStatuses(d model.DesignerDescriptor) []string {
	out := make([]string, len(d.Panels))
	for i, p := range d.Panels {
		out[i] = p.Status
	}
	return out
}

func assertPanelStatuses(t *testing.T, d model.DesignerDescriptor, want ...string) {
	t.Helper()
	got := panelStatuses(d)
	if len(got) != len(want) {
		t.Fatalf("panel statuses = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("panel statuses = %v, want %v", got, want)
		}
	}
}

func TestDesigner_ListKinds(t *testing.T) {
	h := NewTestHarness(t)

	var body struct {
		Kinds []struct {
			Kind   string `json:"kind"`
			Panels []struct {
				ID string `json:"id"`
			} `json:"panels"`
		} `json:"kinds"`
	}
	h.AssertJSON(t, h.GET("/designer/kinds", h.GenerateToken(AdminClaims())), http.StatusOK, &body)

	got := make(map[string]int, len(body.Kinds))
	for _, k := range body.Kinds {
		got[k.Kind] = len(k.Panels)
	}
	want := map[string]int{"list": 3, "dataset": 2, "issues": 3, "assay": 2}
	for kind, panels := range want {
		if got[kind] != panels {
			t.Errorf("kind %s has %d panels, want %d (all: %v)", kind, got[kind], panels, got)
		}
	}
}

func TestDesigner_ListLifecycle(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())

	d := h.Open(t, token, "list", "")
	assertPanelStatuses(t, d, "NONE", "NONE", "NONE")
	if d.CanSave || d.CurrentPanel != -1 {
		t.Fatalf("fresh designer: can_save %v, current %d", d.CanSave, d.CurrentPanel)
	}

	// Open the properties panel and name the list.
	d = h.Toggle(t, token, d.SessionID, 0, false)
	assertPanelStatuses(t, d, "INPROGRESS", "NONE", "NONE")
	h.Event(t, token, d.SessionID, model.DesignerEvent{Type: model.EventSetName, Value: "Samples"})

	// Move to the fields panel; the properties panel is now complete.
	d = h.Toggle(t, token, d.SessionID, 1, false)
	assertPanelStatuses(t, d, "COMPLETE", "INPROGRESS", "NONE")

	h.Event(t, token, d.SessionID, model.DesignerEvent{
		Type:  model.EventAddField,
		Field: &model.Field{Name: "SampleId", DataType: model.DataTypeInteger},
	})
	h.Event(t, token, d.SessionID, model.DesignerEvent{
		Type:  model.EventAddField,
		Field: &model.Field{Name: "Collected", DataType: model.DataTypeDate},
	})
	d = h.SelectKey(t, token, d.SessionID, map[string]any{"target": "field", "index": 0})
	if !d.KeyValid || !d.CanSave || !d.Fields[0].IsPrimaryKey {
		t.Fatalf("after key selection: %s", FormatJSON(d))
	}

	// Visit the advanced panel, then collapse it again.
	d = h.Toggle(t, token, d.SessionID, 2, false)
	d = h.Toggle(t, token, d.SessionID, 2, true)
	assertPanelStatuses(t, d, "COMPLETE", "COMPLETE", "INPROGRESS")
	if !d.Panels[2].Collapsed {
		t.Error("advanced panel should be collapsed")
	}

	var saved model.DesignerDescriptor
	h.AssertJSON(t, h.Submit(d.SessionID, token, "lifecycle-1"), http.StatusOK, &saved)
	if !saved.Persisted || saved.Version != 1 || saved.Submitting {
		t.Fatalf("after submit: %s", FormatJSON(saved))
	}
	if saved.Fields[0].LockType != model.LockedAsKey {
		t.Errorf("key field lock = %q, want %q", saved.Fields[0].LockType, model.LockedAsKey)
	}

	stored, err := h.Store.LoadDomain(t.Context(), "acme-labs", saved.DomainID)
	if err != nil {
		t.Fatalf("load saved domain: %v", err)
	}
	if stored.Name != "Samples" || len(stored.Fields) != 2 || stored.KeyName != "SampleId" {
		t.Errorf("stored domain = %+v", stored)
	}

	h.AssertStatus(t, h.DELETE(sessionPath(d.SessionID, ""), token), http.StatusNoContent)
	h.AssertError(t, h.GET(sessionPath(d.SessionID, ""), token), http.StatusNotFound, model.ErrSessionNotFound)
}

func TestDesigner_ReopenLocksKey(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	id := designSamplesList(t, h, token)

	d := h.Open(t, token, "list", id)
	if !d.Persisted || d.DomainID != id || d.Name != "Samples" {
		t.Fatalf("reopened designer: %s", FormatJSON(d))
	}
	if d.Fields[0].LockType != model.LockedAsKey {
		t.Fatalf("key field not locked: %+v", d.Fields[0])
	}

	resp := h.POST(sessionPath(d.SessionID, "/key"), map[string]string{"target": "auto"}, token)
	h.AssertError(t, resp, http.StatusConflict, model.ErrKeyLocked)

	// Other edits still go through and save as version 2.
	h.Event(t, token, d.SessionID, model.DesignerEvent{
		Type:  model.EventAddField,
		Field: &model.Field{Name: "Volume", DataType: model.DataTypeDouble},
	})
	var saved model.DesignerDescriptor
	h.AssertJSON(t, h.Submit(d.SessionID, token, ""), http.StatusOK, &saved)
	if saved.Version != 2 || len(saved.Fields) != 2 {
		t.Errorf("second save: version %d, fields %d", saved.Version, len(saved.Fields))
	}
}

func TestDesigner_ListDomainsToReopen(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	id := designSamplesList(t, h, token)

	var body struct {
		Domains []model.DomainSummary `json:"domains"`
	}
	h.AssertJSON(t, h.GET("/designer/domains?kind=list", token), http.StatusOK, &body)
	if len(body.Domains) != 1 || body.Domains[0].ID != id || body.Domains[0].Name != "Samples" {
		t.Fatalf("domains = %s", FormatJSON(body.Domains))
	}

	d := h.Open(t, token, body.Domains[0].Kind, body.Domains[0].ID)
	if !d.Persisted || d.Version != body.Domains[0].Version {
		t.Errorf("reopened from listing: %s", FormatJSON(d))
	}

	h.AssertJSON(t, h.GET("/designer/domains?kind=dataset", token), http.StatusOK, &body)
	if len(body.Domains) != 0 {
		t.Errorf("dataset domains = %s", FormatJSON(body.Domains))
	}

	other := h.GenerateToken(OtherTenantAdminClaims())
	h.AssertJSON(t, h.GET("/designer/domains", other), http.StatusOK, &body)
	if len(body.Domains) != 0 {
		t.Errorf("other tenant sees %s", FormatJSON(body.Domains))
	}
}

func TestDesigner_ServerValidationMapsToPanels(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	designSamplesList(t, h, token)

	// A second list with the same name is rejected by the store.
	d := openSaveableList(t, h, token, "samples")
	h.AssertError(t, h.Submit(d.SessionID, token, ""), http.StatusUnprocessableEntity, model.ErrValidationError)

	var got model.DesignerDescriptor
	h.AssertJSON(t, h.GET(sessionPath(d.SessionID, ""), token), http.StatusOK, &got)
	if got.CanSave || got.Panels[0].IsValid || got.Panels[0].Status != "TODO" {
		t.Fatalf("after rejected save: %s", FormatJSON(got))
	}
	if len(got.Panels[0].Errors) != 1 || got.Panels[0].Errors[0].Field != "name" {
		t.Errorf("properties panel errors = %+v", got.Panels[0].Errors)
	}
	if got.LastError == nil || got.LastError.Code != model.ErrValidationError {
		t.Errorf("last_error = %+v", got.LastError)
	}

	// Editing the panel clears its server error.
	got = h.Event(t, token, d.SessionID, model.DesignerEvent{Type: model.EventSetName, Value: "Samples (archive)"})
	if !got.CanSave || len(got.Panels[0].Errors) != 0 {
		t.Fatalf("after rename: %s", FormatJSON(got))
	}
	h.AssertStatus(t, h.Submit(d.SessionID, token, ""), http.StatusOK)
}

func TestDesigner_IssuesAutoIncrementKey(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())

	d := h.Open(t, token, "issues", "")
	h.Event(t, token, d.SessionID, model.DesignerEvent{Type: model.EventSetName, Value: "Bugs"})
	d = h.Event(t, token, d.SessionID, model.DesignerEvent{
		Type:  model.EventAddField,
		Field: &model.Field{Name: "Title", DataType: model.DataTypeString},
	})

	// The workflow panel requires an initial status.
	if d.CanSave || d.Panels[2].IsValid {
		t.Fatalf("saveable without initial status: %s", FormatJSON(d))
	}
	d = h.Event(t, token, d.SessionID, model.DesignerEvent{Type: model.EventSetProperty, Property: "initial_status", Value: "Open"})
	if !d.CanSave {
		t.Fatalf("not saveable with initial status: %s", FormatJSON(d))
	}

	d = h.SelectKey(t, token, d.SessionID, map[string]any{"target": "auto"})
	if d.Key.Kind != model.KeyAutoIncrement {
		t.Fatalf("key = %+v, want auto increment", d.Key)
	}
	placeholders := 0
	for _, f := range d.Fields {
		if f.Synthetic {
			placeholders++
			if !f.IsPrimaryKey || f.DataType != model.DataTypeInteger {
				t.Errorf("placeholder = %+v", f)
			}
		}
	}
	if placeholders != 1 {
		t.Fatalf("placeholders = %d, want 1", placeholders)
	}

	var saved model.DesignerDescriptor
	h.AssertJSON(t, h.Submit(d.SessionID, token, ""), http.StatusOK, &saved)
	stored, err := h.Store.LoadDomain(t.Context(), "acme-labs", saved.DomainID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if stored.KeyType != model.KeyTypeAutoIncrement || stored.Properties["initial_status"] != "Open" {
		t.Errorf("stored = %+v", stored)
	}

	// Going back to no key drops the placeholder.
	d = h.Open(t, token, "issues", "")
	h.SelectKey(t, token, d.SessionID, map[string]any{"target": "auto"})
	d = h.SelectKey(t, token, d.SessionID, map[string]any{"target": "none"})
	for _, f := range d.Fields {
		if f.Synthetic {
			t.Errorf("placeholder left behind: %+v", f)
		}
	}
}

func TestDesigner_DatasetRequiresDescription(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())

	d := h.Open(t, token, "dataset", "")
	h.Event(t, token, d.SessionID, model.DesignerEvent{Type: model.EventSetName, Value: "Plate reads"})
	d = h.Event(t, token, d.SessionID, model.DesignerEvent{
		Type:  model.EventAddField,
		Field: &model.Field{Name: "Well", DataType: model.DataTypeString},
	})
	if d.CanSave {
		t.Fatal("dataset saveable without description")
	}
	h.AssertError(t, h.Submit(d.SessionID, token, ""), http.StatusConflict, model.ErrCannotSave)

	d = h.Event(t, token, d.SessionID, model.DesignerEvent{Type: model.EventSetDescription, Value: "Raw plate reader output"})
	if !d.CanSave {
		t.Fatalf("dataset not saveable: %s", FormatJSON(d))
	}
}

func TestDesigner_StoreOutage(t *testing.T) {
	h := NewTestHarness(t)
	token := h.GenerateToken(AdminClaims())
	d := openSaveableList(t, h, token, "Samples")

	h.FailSaves(true)
	h.AssertError(t, h.Submit(d.SessionID, token, ""), http.StatusServiceUnavailable, model.ErrStoreUnavailable)

	var got model.DesignerDescriptor
	h.AssertJSON(t, h.GET(sessionPath(d.SessionID, ""), token), http.StatusOK, &got)
	if got.Submitting || !got.CanSave || got.Persisted {
		t.Fatalf("after outage: %s", FormatJSON(got))
	}
	if got.LastError == nil || got.LastError.Code != model.ErrStoreUnavailable {
		t.Errorf("last_error = %+v", got.LastError)
	}

	h.FailSaves(false)
	h.AssertJSON(t, h.Submit(d.SessionID, token, ""), http.StatusOK, &got)
	if !got.Persisted || got.LastError != nil {
		t.Errorf("after recovery: %s", FormatJSON(got))
	}
}

func TestDesigner_RedisIdempotentSubmit(t *testing.T) {
	h := NewTestHarness(t, WithRedisIdempotency())
	token := h.GenerateToken(AdminClaims())
	d := openSaveableList(t, h, token, "Samples")

	for range 3 {
		var got model.DesignerDescriptor
		h.AssertJSON(t, h.Submit(d.SessionID, token, "retry-abc"), http.StatusOK, &got)
		if got.Version != 1 {
			t.Fatalf("version = %d, want 1", got.Version)
		}
	}
	if calls := h.SaveCalls(); calls != 1 {
		t.Errorf("save calls = %d, want 1", calls)
	}
	if !h.Redis.Exists("idem:designer:acme-labs:retry-abc") {
		t.Errorf("idempotency key missing; keys = %v", h.Redis.Keys())
	}
	if ttl := h.Redis.TTL("idem:designer:acme-labs:retry-abc"); ttl <= 0 || ttl > time.Hour {
		t.Errorf("ttl = %v", ttl)
	}

	// Another caller in the tenant cannot reuse the key.
	colleague := h.GenerateToken(TestClaims{SubjectID: "user-colleague", TenantID: "acme-labs", Roles: []string{AdminRole}})
	other := openSaveableList(t, h, colleague, "Reagents")
	h.AssertError(t, h.Submit(other.SessionID, colleague, "retry-abc"), http.StatusConflict, model.ErrConflict)
}

func TestDesigner_SessionLimit(t *testing.T) {
	h := NewTestHarness(t, WithMaxSessions(1))
	token := h.GenerateToken(AdminClaims())

	h.Open(t, token, "list", "")
	resp := h.POST("/designer/sessions", map[string]string{"kind": "dataset"}, token)
	h.AssertError(t, resp, http.StatusServiceUnavailable, model.ErrTooManySessions)
}

func TestDesigner_UnknownKind(t *testing.T) {
	h := NewTestHarness(t)
	resp := h.POST("/designer/sessions", map[string]string{"kind": "spreadsheet"}, h.GenerateToken(AdminClaims()))
	h.AssertError(t, resp, http.StatusNotFound, model.ErrDesignerNotDefined)
}
