package model

import (
	"context"
	"testing"
)

func TestRequestContext_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rc      *RequestContext
		wantErr bool
	}{
		{name: "valid", rc: &RequestContext{SubjectID: "admin-1", TenantID: "lab-1"}},
		{name: "missing subject", rc: &RequestContext{TenantID: "lab-1"}, wantErr: true},
		{name: "missing tenant", rc: &RequestContext{SubjectID: "admin-1"}, wantErr: true},
		{name: "empty", rc: &RequestContext{}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRequestContext_HasRole(t *testing.T) {
	rc := &RequestContext{Roles: []string{"designer:admin", "reader"}}
	if !rc.HasRole("designer:admin") {
		t.Error("HasRole(designer:admin) = false, want true")
	}
	if rc.HasRole("owner") {
		t.Error("HasRole(owner) = true, want false")
	}
}

func TestRequestContext_roundTrip(t *testing.T) {
	rc := &RequestContext{SubjectID: "admin-1", TenantID: "lab-1"}
	ctx := WithRequestContext(context.Background(), rc)
	if got := RequestContextFrom(ctx); got != rc {
		t.Errorf("RequestContextFrom() = %p, want %p", got, rc)
	}
	if got := RequestContextFrom(context.Background()); got != nil {
		t.Errorf("RequestContextFrom(empty) = %v, want nil", got)
	}
}
