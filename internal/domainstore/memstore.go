package domainstore

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pitabwire/designer/model"
)

// MemoryStore is an in-memory Store for tests and single-node development.
type MemoryStore struct {
	mu      sync.RWMutex
	domains map[string]model.DomainDesign // key: domain ID
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory domain store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		domains: make(map[string]model.DomainDesign),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// LoadDomain retrieves a domain by ID, scoped to tenant.
func (s *MemoryStore) LoadDomain(_ context.Context, tenantID, id string) (model.DomainDesign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, exists := s.domains[id]
	if !exists || d.TenantID != tenantID {
		return model.DomainDesign{}, model.NewNotFoundError(fmt.Sprintf("domain %q not found", id))
	}
	return cloneDesign(d), nil
}

// SaveDomain validates and stores the design.
func (s *MemoryStore) SaveDomain(_ context.Context, tenantID string, design model.DomainDesign) (model.DomainDesign, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	design = cloneDesign(design)
	design.TenantID = tenantID
	details := Validate(design)

	var stored model.DomainDesign
	if design.ID != "" {
		existing, exists := s.domains[design.ID]
		if !exists || existing.TenantID != tenantID {
			return model.DomainDesign{}, model.NewNotFoundError(fmt.Sprintf("domain %q not found", design.ID))
		}
		// Optimistic lock check.
		if existing.Version != design.Version {
			return model.DomainDesign{}, model.NewConflictError(
				fmt.Sprintf("domain %q version conflict (expected %d, got %d)", design.ID, design.Version, existing.Version),
			)
		}
		details = append(details, checkKeyUnchanged(existing, design)...)
		stored = existing
	}

	if s.nameTaken(design) {
		details = append(details, model.FieldError{
			Field: "name", Code: CodeDuplicate,
			Message: fmt.Sprintf("a %s named %q already exists", design.Kind, design.Name),
		})
	}
	if len(details) > 0 {
		return model.DomainDesign{}, model.NewValidationError(details)
	}

	now := s.now()
	if design.ID == "" {
		design.ID = uuid.New().String()
		design.CreatedAt = now
		design.Version = 1
	} else {
		design.CreatedAt = stored.CreatedAt
		design.Version++
	}
	design.UpdatedAt = now
	s.domains[design.ID] = design
	return cloneDesign(design), nil
}

// nameTaken reports whether another domain of the same tenant and kind
// already uses the design's name. Caller holds the lock.
func (s *MemoryStore) nameTaken(design model.DomainDesign) bool {
	name := strings.TrimSpace(design.Name)
	for id, d := range s.domains {
		if id == design.ID || d.TenantID != design.TenantID || d.Kind != design.Kind {
			continue
		}
		if strings.EqualFold(d.Name, name) {
			return true
		}
	}
	return false
}

// ListDomains returns the tenant's domains ordered by name.
func (s *MemoryStore) ListDomains(_ context.Context, tenantID, kind string) ([]model.DomainDesign, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := []model.DomainDesign{}
	for _, d := range s.domains {
		if d.TenantID != tenantID {
			continue
		}
		if kind != "" && d.Kind != kind {
			continue
		}
		result = append(result, cloneDesign(d))
	}
	slices.SortFunc(result, func(a, b model.DomainDesign) int {
		return strings.Compare(a.Name, b.Name)
	})
	return result, nil
}

// HealthCheck always succeeds for the in-memory store.
func (s *MemoryStore) HealthCheck(context.Context) error {
	return nil
}

// Len returns the total number of domains. For testing.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.domains)
}

func cloneDesign(d model.DomainDesign) model.DomainDesign {
	d.Fields = slices.Clone(d.Fields)
	d.Properties = maps.Clone(d.Properties)
	return d
}
