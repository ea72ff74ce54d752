package sim

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
)

// Factory describes a module type and constructs its instances.
//
// Unique factories are instantiated exactly once with an empty target name.
// Per-target factories are instantiated once per selected detector.
// Options lists the configuration keys the type recognizes; the reserved keys
// (log_level, log_format and, for per-target types, name and type) are always
// accepted.
type Factory struct {
	Name    string
	Unique  bool
	Options []string
	New     func(s Setup) (Module, error)
}

// Registry maps module type names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]*Factory
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]*Factory)}
}

// DefaultRegistry is populated by init() functions of module packages
// (see sim/modules/register.go).
var DefaultRegistry = NewRegistry()

// Register adds a factory. Registering a name twice is a programming error.
func (r *Registry) Register(f *Factory) {
	if f == nil || f.Name == "" || f.New == nil {
		panic("Registry.Register: factory must have a name and a constructor")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[f.Name]; exists {
		panic(fmt.Sprintf("module type '%s' already registered", f.Name))
	}
	logrus.Debugf("Registering module type %s (unique=%v)", f.Name, f.Unique)
	r.factories[f.Name] = f
}

// Lookup returns the factory registered under name.
func (r *Registry) Lookup(name string) (*Factory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Names returns all registered type names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Library is a resolved module type, ready to be instantiated.
type Library struct {
	Name    string
	Source  string // "static" or the plugin path
	Factory *Factory
}

// LibraryResolver turns a module type name into a Library.
// Implementations return an error wrapping ErrUnresolvedModule when the
// name is unknown.
type LibraryResolver interface {
	Resolve(name string) (*Library, error)
}

// StaticResolver resolves names against a Registry of compiled-in types.
type StaticResolver struct {
	Registry *Registry
}

// Resolve implements LibraryResolver.
func (s StaticResolver) Resolve(name string) (*Library, error) {
	f, ok := s.Registry.Lookup(name)
	if !ok {
		return nil, &LoadError{Kind: LoadUnresolved, Module: name,
			Cause: fmt.Errorf("no registered module type (known: %v)", s.Registry.Names())}
	}
	return &Library{Name: name, Source: "static", Factory: f}, nil
}

// ChainResolver tries each resolver in turn and returns the first match.
type ChainResolver []LibraryResolver

// Resolve implements LibraryResolver.
func (c ChainResolver) Resolve(name string) (*Library, error) {
	for _, r := range c {
		lib, err := r.Resolve(name)
		if err == nil {
			return lib, nil
		}
		var le *LoadError
		if !errors.As(err, &le) || le.Kind != LoadUnresolved {
			return nil, err
		}
	}
	return nil, &LoadError{Kind: LoadUnresolved, Module: name}
}
