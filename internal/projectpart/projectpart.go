package projectpart

import (
	"slices"
	"sort"
	"sync"
	"time"
)

// ProjectPart is one build configuration: the compiler arguments shared by a
// group of translation units. LastChange records when the arguments last
// changed; documents compare their own sync time against it to detect that
// they were parsed with an outdated configuration.
type ProjectPart struct {
	ID         string
	Arguments  []string
	LastChange time.Time
}

// Registry holds the known project parts. Safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	parts map[string]ProjectPart
}

func NewRegistry() *Registry {
	return &Registry{parts: make(map[string]ProjectPart)}
}

// Update inserts or replaces the given parts. LastChange is bumped for new
// parts and for parts whose arguments differ from the stored ones; a part
// re-announced with identical arguments keeps its timestamp.
func (r *Registry) Update(parts []ProjectPart) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for _, part := range parts {
		stored, ok := r.parts[part.ID]
		if ok && slices.Equal(stored.Arguments, part.Arguments) {
			continue
		}
		part.LastChange = now
		r.parts[part.ID] = part
	}
}

// Remove drops the parts with the given IDs. Unknown IDs are a no-op.
func (r *Registry) Remove(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.parts, id)
	}
}

// Get returns the part with the given ID.
func (r *Registry) Get(id string) (ProjectPart, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	part, ok := r.parts[id]
	return part, ok
}

// LastChangeTimePoint returns when the part's arguments last changed, or the
// zero time for unknown parts.
func (r *Registry) LastChangeTimePoint(id string) time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.parts[id].LastChange
}

// IDs returns the registered part IDs, sorted.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]string, 0, len(r.parts))
	for id := range r.parts {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
