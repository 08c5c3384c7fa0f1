// Package domainstore persists designed domains. The designer loads a domain
// when a session opens on an existing entity and saves it on submit.
package domainstore

import (
	"context"

	"github.com/pitabwire/designer/model"
)

// Loader supplies the initial field collection and key binding of a domain.
type Loader interface {
	// LoadDomain retrieves a domain by ID, scoped to a tenant. Returns
	// NOT_FOUND if the domain doesn't exist or belongs to a different tenant.
	LoadDomain(ctx context.Context, tenantID, id string) (model.DomainDesign, error)
}

// Saver persists a domain atomically: either the whole design is accepted
// or nothing changes.
type Saver interface {
	// SaveDomain creates the domain when design.ID is empty and updates it
	// otherwise. Updates use optimistic locking on Version and return
	// CONFLICT when the stored version has moved on. Server-side validation
	// failures are returned as a VALIDATION_ERROR envelope whose details
	// carry field indexes or property names.
	SaveDomain(ctx context.Context, tenantID string, design model.DomainDesign) (model.DomainDesign, error)
}

// Lister enumerates saved domains.
type Lister interface {
	// ListDomains returns the domains of a tenant, optionally filtered by
	// kind, ordered by name. Fields may be left empty.
	ListDomains(ctx context.Context, tenantID, kind string) ([]model.DomainDesign, error)
}

// Store is a Loader, Saver and Lister that can also report its health.
type Store interface {
	Loader
	Saver
	Lister

	// HealthCheck verifies the store is reachable.
	HealthCheck(ctx context.Context) error
}
