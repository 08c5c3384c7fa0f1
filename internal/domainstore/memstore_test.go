package domainstore

import (
	"context"
	"errors"
	"testing"

	"github.com/pitabwire/designer/model"
)

func testDesign(name string) model.DomainDesign {
	return model.DomainDesign{
		Kind:        "list",
		Name:        name,
		Description: "reagent inventory",
		Properties:  map[string]string{"category": "lab"},
		Fields: []model.Field{
			{Name: "Id", DataType: model.DataTypeInteger, Required: true},
			{Name: "Reagent", DataType: model.DataTypeString},
		},
		KeyName: "Id",
		KeyType: model.KeyTypeInteger,
	}
}

func envelopeCode(t *testing.T, err error) string {
	t.Helper()
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) {
		t.Fatalf("error type = %T, want *model.ErrorEnvelope", err)
	}
	return env.Code
}

// --- Save ---

func TestMemoryStore_SaveDomain_create(t *testing.T) {
	store := NewMemoryStore()

	saved, err := store.SaveDomain(context.Background(), "tenant-1", testDesign("Reagents"))
	if err != nil {
		t.Fatalf("SaveDomain error: %v", err)
	}
	if saved.ID == "" {
		t.Error("ID not assigned")
	}
	if saved.Version != 1 {
		t.Errorf("Version = %d, want 1", saved.Version)
	}
	if saved.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q", saved.TenantID)
	}
	if !saved.Persisted() {
		t.Error("Persisted() = false")
	}
	if store.Len() != 1 {
		t.Errorf("Len() = %d, want 1", store.Len())
	}
}

func TestMemoryStore_SaveDomain_update(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	saved, _ := store.SaveDomain(ctx, "tenant-1", testDesign("Reagents"))

	saved.Description = "updated"
	saved.Fields = append(saved.Fields, model.Field{Name: "Lot", DataType: model.DataTypeString})
	updated, err := store.SaveDomain(ctx, "tenant-1", saved)
	if err != nil {
		t.Fatalf("SaveDomain error: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("Version = %d, want 2", updated.Version)
	}
	if !updated.CreatedAt.Equal(saved.CreatedAt) {
		t.Error("CreatedAt changed on update")
	}

	loaded, err := store.LoadDomain(ctx, "tenant-1", saved.ID)
	if err != nil {
		t.Fatalf("LoadDomain error: %v", err)
	}
	if len(loaded.Fields) != 3 || loaded.Fields[2].Name != "Lot" {
		t.Errorf("Fields = %+v", loaded.Fields)
	}
}

func TestMemoryStore_SaveDomain_versionConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	saved, _ := store.SaveDomain(ctx, "tenant-1", testDesign("Reagents"))
	_, _ = store.SaveDomain(ctx, "tenant-1", saved)

	_, err := store.SaveDomain(ctx, "tenant-1", saved)
	if code := envelopeCode(t, err); code != model.ErrConflict {
		t.Errorf("code = %s, want %s", code, model.ErrConflict)
	}
}

func TestMemoryStore_SaveDomain_validation(t *testing.T) {
	store := NewMemoryStore()
	d := testDesign("")
	d.Fields[1].Name = ""

	_, err := store.SaveDomain(context.Background(), "tenant-1", d)
	if code := envelopeCode(t, err); code != model.ErrValidationError {
		t.Fatalf("code = %s, want %s", code, model.ErrValidationError)
	}
	var env *model.ErrorEnvelope
	errors.As(err, &env)
	if len(env.Details) != 2 {
		t.Fatalf("details = %+v, want 2", env.Details)
	}
	if env.Details[1].FieldIndex == nil || *env.Details[1].FieldIndex != 1 {
		t.Errorf("field detail = %+v, want field index 1", env.Details[1])
	}
	if store.Len() != 0 {
		t.Error("invalid design was stored")
	}
}

func TestMemoryStore_SaveDomain_duplicateName(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.SaveDomain(ctx, "tenant-1", testDesign("Reagents"))

	_, err := store.SaveDomain(ctx, "tenant-1", testDesign("reagents"))
	if code := envelopeCode(t, err); code != model.ErrValidationError {
		t.Errorf("code = %s, want %s", code, model.ErrValidationError)
	}

	// Different tenant may reuse the name.
	if _, err := store.SaveDomain(ctx, "tenant-2", testDesign("Reagents")); err != nil {
		t.Errorf("other tenant SaveDomain error: %v", err)
	}
}

func TestMemoryStore_SaveDomain_keyCannotChange(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	saved, _ := store.SaveDomain(ctx, "tenant-1", testDesign("Reagents"))

	saved.KeyName = "Reagent"
	saved.KeyType = model.KeyTypeVarchar
	_, err := store.SaveDomain(ctx, "tenant-1", saved)
	var env *model.ErrorEnvelope
	if !errors.As(err, &env) || env.Code != model.ErrValidationError {
		t.Fatalf("err = %v, want validation error", err)
	}
	if env.Details[0].Code != CodeKeyChanged {
		t.Errorf("detail code = %s, want %s", env.Details[0].Code, CodeKeyChanged)
	}
}

func TestMemoryStore_SaveDomain_doesNotAlias(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	d := testDesign("Reagents")
	saved, _ := store.SaveDomain(ctx, "tenant-1", d)

	d.Fields[0].Name = "mutated"
	saved.Properties["category"] = "mutated"

	loaded, _ := store.LoadDomain(ctx, "tenant-1", saved.ID)
	if loaded.Fields[0].Name != "Id" || loaded.Properties["category"] != "lab" {
		t.Errorf("stored design aliased caller data: %+v", loaded)
	}
}

// --- Load ---

func TestMemoryStore_LoadDomain_wrongTenant(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	saved, _ := store.SaveDomain(ctx, "tenant-1", testDesign("Reagents"))

	_, err := store.LoadDomain(ctx, "tenant-2", saved.ID)
	if code := envelopeCode(t, err); code != model.ErrNotFound {
		t.Errorf("code = %s, want %s", code, model.ErrNotFound)
	}
}

// --- List ---

func TestMemoryStore_ListDomains(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	_, _ = store.SaveDomain(ctx, "tenant-1", testDesign("Buffers"))
	_, _ = store.SaveDomain(ctx, "tenant-1", testDesign("Antibodies"))
	other := testDesign("Runs")
	other.Kind = "dataset"
	_, _ = store.SaveDomain(ctx, "tenant-1", other)

	all, _ := store.ListDomains(ctx, "tenant-1", "")
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].Name != "Antibodies" {
		t.Errorf("first = %q, want Antibodies", all[0].Name)
	}

	lists, _ := store.ListDomains(ctx, "tenant-1", "list")
	if len(lists) != 2 {
		t.Errorf("list kind len = %d, want 2", len(lists))
	}

	none, _ := store.ListDomains(ctx, "tenant-9", "")
	if none == nil || len(none) != 0 {
		t.Errorf("other tenant = %v, want empty", none)
	}
}
