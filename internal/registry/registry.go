// Package registry is the catalog of component types a host can build.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rdeforest/ClodWeave/internal/component"
)

var ErrUnknownType = errors.New("unknown component type")

// Factory builds a fresh connector of one type.
type Factory func() component.Connector

type entry struct {
	desc    component.Descriptor
	factory Factory
}

// Registry maps a type name to its descriptor and factory. Descriptors are
// fixed at registration.
type Registry struct {
	mu    sync.RWMutex
	types map[string]entry
}

func New() *Registry {
	return &Registry{types: make(map[string]entry)}
}

func (r *Registry) Register(desc component.Descriptor, f Factory) error {
	if desc.Type == "" {
		return errors.New("descriptor type is required")
	}
	if f == nil {
		return fmt.Errorf("register %s: nil factory", desc.Type)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[desc.Type]; ok {
		return fmt.Errorf("component type %s already registered", desc.Type)
	}
	r.types[desc.Type] = entry{desc: desc, factory: f}
	return nil
}

// Build returns a new connector of the given type.
func (r *Registry) Build(typ string) (component.Connector, error) {
	r.mu.RLock()
	e, ok := r.types[typ]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, typ)
	}
	return e.factory(), nil
}

func (r *Registry) Get(typ string) (component.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.types[typ]
	return e.desc, ok
}

// Descriptors returns every registered descriptor sorted by type.
func (r *Registry) Descriptors() []component.Descriptor {
	r.mu.RLock()
	out := make([]component.Descriptor, 0, len(r.types))
	for _, e := range r.types {
		out = append(out, e.desc)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// FindByCapability returns the types that declare capability, sorted.
func (r *Registry) FindByCapability(capability string) []string {
	var out []string
	for _, d := range r.Descriptors() {
		if d.Capabilities.Has(capability) {
			out = append(out, d.Type)
		}
	}
	return out
}

// Compatible reports whether provider's capabilities cover every
// requirement of consumer, and lists the requirements left uncovered.
func Compatible(provider, consumer component.Descriptor) (bool, []string) {
	missing := consumer.Requirements.Missing(provider.Capabilities)
	return len(missing) == 0, missing
}

// Descriptions maps type names to their descriptions.
func (r *Registry) Descriptions() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.types))
	for typ, e := range r.types {
		out[typ] = e.desc.Description
	}
	return out
}
