package sim

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"plugin"
)

// PluginSymbol is the exported variable a module plugin must provide:
//
//	var Factory = &sim.Factory{Name: "MyModule", ...}
const PluginSymbol = "Factory"

// PluginResolver loads module types from Go plugins named <Dir>/<name>.so.
type PluginResolver struct {
	Dir string
}

// Resolve implements LibraryResolver.
func (p PluginResolver) Resolve(name string) (*Library, error) {
	path := filepath.Join(p.Dir, name+".so")
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &LoadError{Kind: LoadUnresolved, Module: name, Cause: fmt.Errorf("no plugin at %s", path)}
		}
		return nil, fmt.Errorf("plugin %s: %w", path, err)
	}
	plug, err := plugin.Open(path)
	if err != nil {
		return nil, &LoadError{Kind: LoadUnresolved, Module: name, Cause: err}
	}
	sym, err := plug.Lookup(PluginSymbol)
	if err != nil {
		return nil, &LoadError{Kind: LoadUnresolved, Module: name, Cause: err}
	}
	f, ok := sym.(**Factory)
	if !ok || *f == nil {
		return nil, &LoadError{Kind: LoadUnresolved, Module: name,
			Cause: fmt.Errorf("symbol %s in %s has type %T, want *sim.Factory", PluginSymbol, path, sym)}
	}
	if (*f).Name != name {
		return nil, &LoadError{Kind: LoadUnresolved, Module: name,
			Cause: fmt.Errorf("plugin %s provides module type %q", path, (*f).Name)}
	}
	return &Library{Name: name, Source: path, Factory: *f}, nil
}
