package magic

import (
	"context"
	"fmt"
	"slices"
	"sort"
)

// LineMagic handles a line magic invocation.
type LineMagic func(ctx context.Context, args []string) (any, error)

// CellMagic handles a cell magic invocation with the rest of the cell as body.
type CellMagic func(ctx context.Context, args []string, body string) (any, error)

// Kind distinguishes line from cell lookups.
type Kind string

const (
	KindLine Kind = "line"
	KindCell Kind = "cell"
)

// UndefinedError reports a lookup of a magic name that is not registered.
type UndefinedError struct {
	Kind Kind
	Name string
}

func (e *UndefinedError) Error() string {
	return fmt.Sprintf("%s magic %q is not defined", e.Kind, e.Name)
}

func (e *UndefinedError) ErrorName() string { return "UsageError" }

// Registry is an immutable set of line and cell magics.
type Registry struct {
	line map[string]LineMagic
	cell map[string]CellMagic
}

// RegistryBuilder collects magics before freezing them into a Registry.
type RegistryBuilder struct {
	line map[string]LineMagic
	cell map[string]CellMagic
	errs []error
}

func NewRegistryBuilder() *RegistryBuilder {
	return &RegistryBuilder{line: map[string]LineMagic{}, cell: map[string]CellMagic{}}
}

// Line adds a line magic. Duplicate names are reported by Build.
func (b *RegistryBuilder) Line(name string, fn LineMagic) *RegistryBuilder {
	if _, exists := b.line[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("line magic %q registered twice", name))
		return b
	}
	b.line[name] = fn
	return b
}

// Cell adds a cell magic. Duplicate names are reported by Build.
func (b *RegistryBuilder) Cell(name string, fn CellMagic) *RegistryBuilder {
	if _, exists := b.cell[name]; exists {
		b.errs = append(b.errs, fmt.Errorf("cell magic %q registered twice", name))
		return b
	}
	b.cell[name] = fn
	return b
}

// Build freezes the registry. Later builder calls do not affect it.
func (b *RegistryBuilder) Build() (*Registry, error) {
	if len(b.errs) > 0 {
		return nil, b.errs[0]
	}

	r := &Registry{line: make(map[string]LineMagic, len(b.line)), cell: make(map[string]CellMagic, len(b.cell))}
	for name, fn := range b.line {
		r.line[name] = fn
	}
	for name, fn := range b.cell {
		r.cell[name] = fn
	}
	return r, nil
}

// EvalLine runs the named line magic.
func (r *Registry) EvalLine(ctx context.Context, name string, args []string) (any, error) {
	var fn LineMagic
	if r != nil {
		fn = r.line[name]
	}
	if fn == nil {
		return nil, &UndefinedError{Kind: KindLine, Name: name}
	}
	return fn(WithRegistry(ctx, r), slices.Clone(args))
}

// EvalCell runs the named cell magic.
func (r *Registry) EvalCell(ctx context.Context, name string, args []string, body string) (any, error) {
	var fn CellMagic
	if r != nil {
		fn = r.cell[name]
	}
	if fn == nil {
		return nil, &UndefinedError{Kind: KindCell, Name: name}
	}
	return fn(WithRegistry(ctx, r), slices.Clone(args), body)
}

type registryKey struct{}

// WithRegistry returns a context carrying r. Magics run by a Registry see it
// through RegistryFromContext.
func WithRegistry(ctx context.Context, r *Registry) context.Context {
	return context.WithValue(ctx, registryKey{}, r)
}

// RegistryFromContext returns the registry running the current magic.
func RegistryFromContext(ctx context.Context) (*Registry, bool) {
	r, ok := ctx.Value(registryKey{}).(*Registry)
	return r, ok && r != nil
}

// LineNames returns the registered line magic names, sorted.
func (r *Registry) LineNames() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.line)
}

// CellNames returns the registered cell magic names, sorted.
func (r *Registry) CellNames() []string {
	if r == nil {
		return nil
	}
	return sortedKeys(r.cell)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
