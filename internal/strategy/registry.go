package strategy

import (
	"fmt"
	"sync"
)

// Registry is a thread-safe strategy lookup, adapted from the teacher's
// libs/strategies/registry.go: same sync.RWMutex shape, keyed by strategy
// name instead of a separate ID/metadata pair since Strategy.GetMetadata
// already carries identity.
type Registry struct {
	mu         sync.RWMutex
	strategies map[string]Strategy
}

// NewRegistry constructs an empty Registry.
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// Register adds a strategy under its metadata's Name. Fails if a strategy
// is already registered under that name.
func (r *Registry) Register(s Strategy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s == nil {
		return fmt.Errorf("cannot register nil strategy")
	}
	name := s.GetMetadata().Name
	if name == "" {
		return fmt.Errorf("strategy name cannot be empty")
	}
	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %q already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Get retrieves a strategy by name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, exists := r.strategies[name]
	if !exists {
		return nil, fmt.Errorf("strategy %q not found", name)
	}
	return s, nil
}

// List returns all registered strategy names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	return names
}
