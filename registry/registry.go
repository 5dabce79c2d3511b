// Package registry implements a closed name -> executor constructor map.
// Entries are fixed at construction time from configuration, not mutable at
// runtime; see executor.Kind for the closed variant set.
package registry

import (
	"fmt"

	"github.com/justapithecus/oneshot/executor"
)

// Constructor builds one named executor. Entries are added via New, not
// registered imperatively, so the set of available executors is closed
// once a Registry is built.
type Constructor func() (executor.Executor, error)

// Registry is a closed name -> executor lookup.
type Registry struct {
	constructors map[string]Constructor
	instances    map[string]executor.Executor
}

// New builds a Registry from a fixed set of named constructors.
func New(constructors map[string]Constructor) *Registry {
	return &Registry{
		constructors: constructors,
		instances:    make(map[string]executor.Executor, len(constructors)),
	}
}

// Get returns the named executor, constructing and caching it on first
// use. Returns an error if name is not in the closed set.
func (r *Registry) Get(name string) (executor.Executor, error) {
	if inst, ok := r.instances[name]; ok {
		return inst, nil
	}
	ctor, ok := r.constructors[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown executor %q (available: %v)", name, r.Names())
	}
	inst, err := ctor()
	if err != nil {
		return nil, fmt.Errorf("registry: construct executor %q: %w", name, err)
	}
	r.instances[name] = inst
	return inst, nil
}

// Names returns the registered executor names in no particular order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.constructors))
	for name := range r.constructors {
		names = append(names, name)
	}
	return names
}

// Describe returns the metadata for one named executor, constructing it
// if necessary.
func (r *Registry) Describe(name string) (executor.Metadata, error) {
	ex, err := r.Get(name)
	if err != nil {
		return executor.Metadata{}, err
	}
	return ex.Metadata(), nil
}

// DescribeAll returns metadata for every registered executor, skipping
// (not failing on) any that fail to construct.
func (r *Registry) DescribeAll() map[string]executor.Metadata {
	out := make(map[string]executor.Metadata, len(r.constructors))
	for name := range r.constructors {
		meta, err := r.Describe(name)
		if err != nil {
			continue
		}
		out[name] = meta
	}
	return out
}
