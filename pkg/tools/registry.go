package tools

import (
	"sync"

	"github.com/mb0/glob"
	"github.com/pkg/errors"
)

// Registry manages the tools available to an agent.
type Registry interface {
	Register(def *Definition) error
	Get(name string) (*Definition, error)
	List() []*Definition
	Unregister(name string) error
	Has(name string) bool
	Count() int
	Filter(patterns []string) ([]*Definition, error)
}

// InMemoryRegistry is a thread-safe Registry. List returns tools in
// registration order so the advertised tool list stays stable across
// turns and the provider can reuse cached prompt prefixes.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]*Definition
	order []string
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]*Definition),
	}
}

var _ Registry = (*InMemoryRegistry)(nil)

func (r *InMemoryRegistry) Register(def *Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def == nil || def.Name == "" {
		return errors.New("tool name cannot be empty")
	}
	if _, exists := r.tools[def.Name]; !exists {
		r.order = append(r.order, def.Name)
	}
	r.tools[def.Name] = def
	return nil
}

func (r *InMemoryRegistry) Get(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	def, exists := r.tools[name]
	if !exists {
		return nil, errors.Errorf("tool not found: %s", name)
	}
	return def, nil
}

func (r *InMemoryRegistry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Definition, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

func (r *InMemoryRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return errors.Errorf("tool not found: %s", name)
	}
	delete(r.tools, name)
	for i, n := range r.order {
		if n == name {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, exists := r.tools[name]
	return exists
}

func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.tools)
}

// Filter returns the tools whose names match any of the glob patterns, in
// registration order.
func (r *InMemoryRegistry) Filter(patterns []string) ([]*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []*Definition
	for _, name := range r.order {
		for _, pattern := range patterns {
			matching, err := glob.Match(pattern, name)
			if err != nil {
				return nil, errors.Wrapf(err, "invalid tool pattern %q", pattern)
			}
			if matching {
				result = append(result, r.tools[name])
				break
			}
		}
	}
	return result, nil
}
