package presence

import (
	"sync"

	"github.com/google/uuid"
)

type principal struct {
	name        string
	permissions map[string]struct{}
}

// Registry is the in-process view of currently connected principals, fed by
// the host system's connect/disconnect events. It backs both the cache's
// presence checks and permission-node lookups.
type Registry struct {
	mu         sync.RWMutex
	principals map[uuid.UUID]principal
}

func NewRegistry() *Registry {
	return &Registry{principals: make(map[uuid.UUID]principal)}
}

// Connect registers a principal with its display name and permission nodes.
// A reconnect replaces the previous registration.
func (r *Registry) Connect(identity uuid.UUID, name string, permissions []string) {
	nodes := make(map[string]struct{}, len(permissions))
	for _, p := range permissions {
		nodes[p] = struct{}{}
	}
	r.mu.Lock()
	r.principals[identity] = principal{name: name, permissions: nodes}
	r.mu.Unlock()
}

func (r *Registry) Disconnect(identity uuid.UUID) {
	r.mu.Lock()
	delete(r.principals, identity)
	r.mu.Unlock()
}

// Lookup returns the display name of a connected principal.
func (r *Registry) Lookup(identity uuid.UUID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.principals[identity]
	return p.name, ok
}

// Connected snapshots the identities currently registered.
func (r *Registry) Connected() []uuid.UUID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]uuid.UUID, 0, len(r.principals))
	for id := range r.principals {
		ids = append(ids, id)
	}
	return ids
}

// Has reports whether a connected principal carries the permission node.
func (r *Registry) Has(identity uuid.UUID, node string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.principals[identity]
	if !ok {
		return false
	}
	_, has := p.permissions[node]
	return has
}
