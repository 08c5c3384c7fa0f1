package definition

import (
	"crypto/sha256"
	"fmt"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/designer/model"
)

// snapshot is an immutable collection of designer definitions indexed by
// kind.
type snapshot struct {
	designers map[string]model.DesignerDefinition
	checksum  string
}

// Registry is a read-optimized, thread-safe store of all loaded designer
// definitions. It uses atomic pointer swap for lock-free concurrent reads.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from the given definitions.
func NewRegistry(defs []model.DesignerDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents with a new snapshot built
// from the given definitions. A later definition of the same kind wins.
func (r *Registry) Replace(defs []model.DesignerDefinition) {
	s := &snapshot{
		designers: make(map[string]model.DesignerDefinition, len(defs)),
	}

	checksumParts := make([]string, 0, len(defs))
	for _, def := range defs {
		s.designers[def.Kind] = def
		checksumParts = append(checksumParts, def.Checksum)
	}

	slices.Sort(checksumParts)
	combined := strings.Join(checksumParts, ":")
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(combined)))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// GetDesigner returns the designer definition for kind.
func (r *Registry) GetDesigner(kind string) (model.DesignerDefinition, bool) {
	d, ok := r.current().designers[kind]
	return d, ok
}

// AllDesigners returns every designer definition ordered by kind.
func (r *Registry) AllDesigners() []model.DesignerDefinition {
	s := r.current()
	defs := make([]model.DesignerDefinition, 0, len(s.designers))
	for _, d := range s.designers {
		defs = append(defs, d)
	}
	slices.SortFunc(defs, func(a, b model.DesignerDefinition) int {
		return strings.Compare(a.Kind, b.Kind)
	})
	return defs
}

// Len returns the number of designer kinds.
func (r *Registry) Len() int {
	return len(r.current().designers)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
