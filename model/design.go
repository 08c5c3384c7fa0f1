package model

import "time"

// Wire key types exchanged with the domain store.
const (
	KeyTypeAutoIncrement = "AutoIncrementInteger"
	KeyTypeInteger       = "Integer"
	KeyTypeVarchar       = "Varchar"
)

// AutoIncrementKeyName is the reserved name given to the auto-increment
// placeholder field.
const AutoIncrementKeyName = "Key"

// DomainDesign is a persisted (or about to be persisted) entity definition:
// its properties and its ordered field list.
type DomainDesign struct {
	ID          string            `json:"id"`
	TenantID    string            `json:"tenant_id"`
	Kind        string            `json:"kind"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Properties  map[string]string `json:"properties,omitempty"`
	Fields      []Field           `json:"fields"`
	KeyName     string            `json:"key_name,omitempty"`
	KeyType     string            `json:"key_type,omitempty"`
	Version     int               `json:"version"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

// Persisted reports whether the design has been saved before.
func (d DomainDesign) Persisted() bool {
	return d.ID != "" && d.Version > 0
}

// DomainSummary is one saved domain as listed for opening in a designer.
type DomainSummary struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	KeyName   string    `json:"key_name,omitempty"`
	KeyType   string    `json:"key_type,omitempty"`
	Version   int       `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}
