package plugin

import (
	"sort"
	"sync"

	"golang.org/x/xerrors"
)

// Registry binds retention policy names to their factories
type Registry struct {
	factories map[string]Factory
	mutex     sync.RWMutex
}

// NewRegistry creates an empty Registry
func NewRegistry() *Registry {
	return &Registry{
		factories: map[string]Factory{},
	}
}

// NewDefaultRegistry creates a Registry with built-in policies registered
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()
	registry.Register(ExpiryPolicyName, NewExpiryPolicy)
	registry.Register(CheckfilePolicyName, NewCheckfilePolicy)
	return registry
}

// Register binds a factory to the name, replacing the previous one
func (registry *Registry) Register(name string, factory Factory) {
	registry.mutex.Lock()
	defer registry.mutex.Unlock()

	registry.factories[name] = factory
}

// Names returns registered names in sorted order
func (registry *Registry) Names() []string {
	registry.mutex.RLock()
	defer registry.mutex.RUnlock()

	names := make([]string, 0, len(registry.factories))
	for name := range registry.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create creates the policy registered under the name
func (registry *Registry) Create(name string, params map[string]string) (RetentionPolicy, error) {
	registry.mutex.RLock()
	factory, ok := registry.factories[name]
	registry.mutex.RUnlock()

	if !ok {
		return nil, xerrors.Errorf("unknown retention plugin %q", name)
	}

	if params == nil {
		params = map[string]string{}
	}

	policy, err := factory(params)
	if err != nil {
		return nil, xerrors.Errorf("failed to create retention plugin %q: %w", name, err)
	}
	return policy, nil
}
