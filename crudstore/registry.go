package crudstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ministore/crudstore/crudstore/storage"
)

// Registry holds the controllers of an application by collection name.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]*Controller
}

func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]*Controller)}
}

// Bind creates a controller for schema on store and registers it.
func (r *Registry) Bind(ctx context.Context, store storage.Store, schema *Schema, opts Options) (*Controller, error) {
	if schema != nil {
		r.mu.RLock()
		_, exists := r.controllers[schema.Name()]
		r.mu.RUnlock()
		if exists {
			return nil, SchemaError(fmt.Sprintf("model %q already registered", schema.Name()))
		}
	}
	c, err := NewController(ctx, store, schema, opts)
	if err != nil {
		return nil, err
	}
	if err := r.Add(c); err != nil {
		return nil, err
	}
	return c, nil
}

// Add registers an existing controller.
func (r *Registry) Add(c *Controller) error {
	if c == nil {
		return ModelNotLoadedError("")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	name := c.schema.Name()
	if _, exists := r.controllers[name]; exists {
		return SchemaError(fmt.Sprintf("model %q already registered", name))
	}
	r.controllers[name] = c
	return nil
}

// Controller returns the controller bound to name.
func (r *Registry) Controller(name string) (*Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[name]
	if !ok {
		return nil, ModelNotLoadedError(name)
	}
	return c, nil
}

// Names returns the registered collection names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.controllers))
	for name := range r.controllers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Describe returns the description of every registered model.
func (r *Registry) Describe() []Description {
	names := r.Names()
	out := make([]Description, 0, len(names))
	for _, name := range names {
		if c, err := r.Controller(name); err == nil {
			out = append(out, c.Describe())
		}
	}
	return out
}
