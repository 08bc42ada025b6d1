package plan

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
)

// ComputeFunc is the opaque user computation behind a task. It receives the
// resolved argument values in declaration order and returns the task's value.
// The engine treats it as a black box: it may block, perform I/O, or fail.
// Purity is a recommendation to the author, not an enforced property.
type ComputeFunc func(ctx context.Context, args []cty.Value) (cty.Value, error)

// Computation pairs a compute function with its cache identity. Version is
// the author's declaration that the function body changed; bumping it
// invalidates every node built with the previous version.
type Computation struct {
	Name    string
	Version string
	Fn      ComputeFunc
}

// Registry maps computation names to their implementations. It is populated
// once before a plan is declared and read-only afterwards.
type Registry struct {
	byName map[string]*Computation
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*Computation)}
}

// Register adds a computation. Re-registering a name is an error: silently
// replacing a computation would corrupt cache identity mid-process.
func (r *Registry) Register(c *Computation) error {
	if c == nil || c.Name == "" || c.Fn == nil {
		return fmt.Errorf("registry: computation must have a name and a function")
	}
	if _, exists := r.byName[c.Name]; exists {
		return fmt.Errorf("registry: computation %q already registered", c.Name)
	}
	r.byName[c.Name] = c
	return nil
}

// MustRegister is Register for static initialization paths.
func (r *Registry) MustRegister(c *Computation) {
	if err := r.Register(c); err != nil {
		panic(err)
	}
}

// Lookup returns the named computation.
func (r *Registry) Lookup(name string) (*Computation, error) {
	c, ok := r.byName[name]
	if !ok {
		return nil, fmt.Errorf("registry: unknown computation %q", name)
	}
	return c, nil
}
