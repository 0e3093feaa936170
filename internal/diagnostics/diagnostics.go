// Package diagnostics turns shots into results. A diagnostic is a Filter
// applied to a shot; filters are chained so that each one refines the output
// of the previous one, e.g. load an image, remove its background, sum it along
// an axis and fit a gaussian. Diagnostics are registered by name in a
// Registry.
package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/postexperiment/internal/shot"
)

var (
	// ErrUnknownDiagnostic is returned when evaluating an unregistered name.
	ErrUnknownDiagnostic = errors.New("diagnostics: unknown diagnostic")
	// ErrInputType is returned when a filter receives a value it cannot
	// handle.
	ErrInputType = errors.New("diagnostics: unexpected input type")
)

// Context is the scratch space of one diagnostic evaluation. It carries the
// shot being evaluated and intermediate results recorded by filters, such as
// the initial guess of a fit.
//
// Contexts created by the Registry are default contexts. Explicit contexts
// are created by callers that want to inspect intermediate results; memoizing
// filters bypass their caches for them.
type Context struct {
	context.Context
	Shot *shot.Shot

	explicit bool
	mu       sync.Mutex
	values   map[string]any
}

// NewContext returns a default context for evaluating s.
func NewContext(parent context.Context, s *shot.Shot) *Context {
	return &Context{Context: parent, Shot: s, values: make(map[string]any)}
}

// NewExplicitContext returns a context that bypasses in-memory caches.
func NewExplicitContext(parent context.Context, s *shot.Shot) *Context {
	c := NewContext(parent, s)
	c.explicit = true
	return c
}

// Explicit reports whether the context was created explicitly by the caller.
func (c *Context) Explicit() bool { return c.explicit }

// Set records an intermediate value. It implements fit.Recorder.
func (c *Context) Set(key string, v any) {
	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
}

// Get returns a recorded value.
func (c *Context) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}

// Keys returns the recorded keys in sorted order.
func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Filter transforms a value. The first filter of a diagnostic receives the
// *shot.Shot itself.
type Filter func(c *Context, v any) (any, error)

// Chain feeds the output of each filter into the next.
func Chain(filters ...Filter) Filter {
	return func(c *Context, v any) (any, error) {
		var err error
		for i, f := range filters {
			if v, err = f(c, v); err != nil {
				return nil, fmt.Errorf("chain step %d: %w", i, err)
			}
		}
		return v, nil
	}
}

// Registry maps diagnostic names to filters.
type Registry struct {
	mu    sync.RWMutex
	diags map[string]Filter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{diags: make(map[string]Filter)}
}

// Default is the registry used by the command line tool.
var Default = NewRegistry()

// Register adds or replaces the diagnostic name.
func (r *Registry) Register(name string, f Filter) {
	r.mu.Lock()
	r.diags[name] = f
	r.mu.Unlock()
}

// Lookup returns the diagnostic registered as name.
func (r *Registry) Lookup(name string) (Filter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.diags[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDiagnostic, name)
	}
	return f, nil
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.diags))
	for name := range r.diags {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Eval evaluates the diagnostic name on s in a fresh default context.
func (r *Registry) Eval(ctx context.Context, s *shot.Shot, name string) (any, error) {
	return r.EvalContext(NewContext(ctx, s), name)
}

// EvalContext evaluates the diagnostic name on c.Shot using c.
func (r *Registry) EvalContext(c *Context, name string) (any, error) {
	f, err := r.Lookup(name)
	if err != nil {
		return nil, err
	}
	v, err := f(c, c.Shot)
	if err != nil {
		return nil, fmt.Errorf("diagnostic %q: %w", name, err)
	}
	return v, nil
}

// Ref returns a filter that evaluates the diagnostic name on the context's
// shot, ignoring its input. The name is resolved at evaluation time, so
// diagnostics may refer to ones registered later.
func (r *Registry) Ref(name string) Filter {
	return func(c *Context, _ any) (any, error) {
		return r.EvalContext(c, name)
	}
}

// Evaluator adapts the diagnostic name for Series.Mean and friends.
func (r *Registry) Evaluator(name string) shot.Evaluator {
	return func(ctx context.Context, s *shot.Shot) (any, error) {
		return r.Eval(ctx, s, name)
	}
}
