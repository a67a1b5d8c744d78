// Package transform resolves string-keyed column transforms ("trim",
// "int", "date:02.01.2006", ...) into functions once, at table construction,
// so the per-row path only calls precompiled closures.
package transform

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Func converts one column value. Nil means absent and is passed through by
// every built-in that works on scalars.
type Func func(v any) (any, error)

// Factory builds a Func from the optional argument after ':' in a spec.
type Factory func(arg string) (Func, error)

var (
	// ErrUnknown is returned when a spec names no registered transform.
	ErrUnknown = errors.New("transform: unknown")
	// ErrInvalid is wrapped by transforms that cannot convert a value.
	ErrInvalid = errors.New("transform: invalid value")
)

// Registry maps transform names to factories. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns a registry preloaded with the built-ins.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory, len(builtins))}
	for k, f := range builtins {
		r.factories[k] = f
	}
	return r
}

// Register adds or replaces name.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[strings.ToLower(name)] = f
}

// Names lists registered transform names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for k := range r.factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Resolve turns "name" or "name:arg" into a Func.
func (r *Registry) Resolve(spec string) (Func, error) {
	name, arg, _ := strings.Cut(strings.TrimSpace(spec), ":")
	name = strings.ToLower(name)

	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknown, spec)
	}
	fn, err := f(arg)
	if err != nil {
		return nil, fmt.Errorf("transform %q: %w", spec, err)
	}
	return fn, nil
}

// ResolveChain resolves specs in order and composes them. An empty list
// yields nil.
func (r *Registry) ResolveChain(specs []string) (Func, error) {
	if len(specs) == 0 {
		return nil, nil
	}
	fns := make([]Func, 0, len(specs))
	for _, s := range specs {
		fn, err := r.Resolve(s)
		if err != nil {
			return nil, err
		}
		fns = append(fns, fn)
	}
	return Chain(fns...), nil
}

// Chain applies fns left to right and stops at the first error.
func Chain(fns ...Func) Func {
	if len(fns) == 1 {
		return fns[0]
	}
	return func(v any) (any, error) {
		var err error
		for _, fn := range fns {
			if v, err = fn(v); err != nil {
				return nil, err
			}
		}
		return v, nil
	}
}

var defaultRegistry = NewRegistry()

// Default is the process-wide registry used when none is supplied.
func Default() *Registry { return defaultRegistry }
