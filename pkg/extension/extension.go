// Package extension loads named kernel extensions. Extensions register
// magics, comm targets and renderers against a Host at startup.
package extension

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"gokernel/pkg/comm"
	"gokernel/pkg/display"
	"gokernel/pkg/magic"
	"gokernel/pkg/workspace"
)

// Host is what the kernel exposes to extensions while they load.
type Host interface {
	Magics() *magic.RegistryBuilder
	// MagicPrefixes returns the configured line and cell magic prefixes.
	MagicPrefixes() (line string, cell string)
	Comms() *comm.Manager
	Renderer() *display.Renderer
	Files() *workspace.Files
	Logger() *slog.Logger
}

// Extension is one loadable unit.
type Extension interface {
	Load(ctx context.Context, host Host) error
}

// Func adapts a function to Extension.
type Func func(ctx context.Context, host Host) error

func (f Func) Load(ctx context.Context, host Host) error { return f(ctx, host) }

// Factory builds a fresh Extension.
type Factory func() Extension

// Registry maps names to factories and remembers which names were loaded.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	loaded    map[string]bool
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory), loaded: make(map[string]bool)}
}

// Register makes name loadable. Registering a name twice is an error.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("extension name and factory are required")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("extension %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Names lists registered extensions.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Loaded reports whether name has been loaded.
func (r *Registry) Loaded(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loaded[name]
}

// LoadAll loads names in order. A name already loaded by this registry is
// skipped. Loading stops at the first unknown name or failing extension.
func (r *Registry) LoadAll(ctx context.Context, host Host, names []string) ([]string, error) {
	var loaded []string
	for _, name := range names {
		r.mu.Lock()
		factory, ok := r.factories[name]
		seen := r.loaded[name]
		if ok && !seen {
			r.loaded[name] = true
		}
		r.mu.Unlock()

		if !ok {
			return loaded, fmt.Errorf("unknown extension %q", name)
		}
		if seen {
			continue
		}

		if err := factory().Load(ctx, host); err != nil {
			r.mu.Lock()
			delete(r.loaded, name)
			r.mu.Unlock()
			return loaded, fmt.Errorf("load extension %q: %w", name, err)
		}
		host.Logger().Info("Extension loaded", "extension", name)
		loaded = append(loaded, name)
	}
	return loaded, nil
}

var defaultRegistry = NewRegistry()

// Register adds factory to the process-wide registry.
func Register(name string, factory Factory) error {
	return defaultRegistry.Register(name, factory)
}

// LoadAll loads names through the process-wide registry.
func LoadAll(ctx context.Context, host Host, names []string) ([]string, error) {
	return defaultRegistry.LoadAll(ctx, host, names)
}

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}
