package service

import (
	"fmt"
	"slices"
	"sync"
)

// Registry maps service type names to constructors. The manager resolves
// each configured service block through this table, so a name registered
// here is exactly what operators write in the services configuration.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Constructor
}

// NewServiceRegistry returns an empty registry.
func NewServiceRegistry() *Registry {
	return &Registry{byName: make(map[string]Constructor)}
}

// Register adds a constructor under name. Names are final: a second
// registration fails instead of silently replacing the first, so two
// packages cannot fight over a service type.
func (r *Registry) Register(name string, constructor Constructor) error {
	if name == "" {
		return fmt.Errorf("service name cannot be empty")
	}
	if constructor == nil {
		return fmt.Errorf("nil constructor for service %q", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.byName[name]; taken {
		return fmt.Errorf("service %q already registered", name)
	}
	r.byName[name] = constructor
	return nil
}

// Constructor looks up the constructor for a service type.
func (r *Registry) Constructor(name string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.byName[name]
	return c, ok
}

// Services returns the registered service types, sorted so listings and
// logs come out in a stable order.
func (r *Registry) Services() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Constructors returns a snapshot of the registration table. Mutating the
// snapshot does not affect the registry.
func (r *Registry) Constructors() map[string]Constructor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := make(map[string]Constructor, len(r.byName))
	for name, c := range r.byName {
		snapshot[name] = c
	}
	return snapshot
}
