package sim

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := newTestRegistry(
		probeFactory("Zeta", true, &callLog{}, nil),
		probeFactory("Alpha", false, &callLog{}, nil),
	)

	f, ok := reg.Lookup("Alpha")
	require.True(t, ok)
	assert.False(t, f.Unique)
	_, ok = reg.Lookup("Beta")
	assert.False(t, ok)
	assert.Equal(t, []string{"Alpha", "Zeta"}, reg.Names())
}

func TestRegistry_RegisterPanics(t *testing.T) {
	reg := newTestRegistry(probeFactory("Alpha", true, &callLog{}, nil))

	assert.Panics(t, func() { reg.Register(probeFactory("Alpha", true, &callLog{}, nil)) }, "duplicate name")
	assert.Panics(t, func() { reg.Register(&Factory{Name: "NoCtor"}) }, "missing constructor")
	assert.Panics(t, func() { reg.Register(nil) }, "nil factory")
}

func TestStaticResolver_Unresolved(t *testing.T) {
	res := StaticResolver{Registry: newTestRegistry(probeFactory("Alpha", true, &callLog{}, nil))}

	lib, err := res.Resolve("Alpha")
	require.NoError(t, err)
	assert.Equal(t, "static", lib.Source)

	_, err = res.Resolve("Beta")
	assert.ErrorIs(t, err, ErrUnresolvedModule)
	assert.Contains(t, err.Error(), "Alpha", "error lists the known types")
}

type failingResolver struct{ err error }

func (f failingResolver) Resolve(string) (*Library, error) { return nil, f.err }

func TestChainResolver(t *testing.T) {
	first := StaticResolver{Registry: newTestRegistry(probeFactory("Alpha", true, &callLog{}, nil))}
	second := StaticResolver{Registry: newTestRegistry(probeFactory("Beta", true, &callLog{}, nil))}
	chain := ChainResolver{first, second}

	lib, err := chain.Resolve("Beta")
	require.NoError(t, err)
	assert.Equal(t, "Beta", lib.Name)

	_, err = chain.Resolve("Gamma")
	assert.ErrorIs(t, err, ErrUnresolvedModule)

	broken := errors.New("permission denied")
	_, err = ChainResolver{failingResolver{err: broken}, second}.Resolve("Beta")
	assert.ErrorIs(t, err, broken, "non-resolution errors stop the chain")
}

func TestPluginResolver_MissingFileIsUnresolved(t *testing.T) {
	res := PluginResolver{Dir: t.TempDir()}

	_, err := res.Resolve("DepositionGeant4")

	assert.ErrorIs(t, err, ErrUnresolvedModule)
	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.Equal(t, LoadUnresolved, le.Kind)
}

func TestPluginResolver_UnloadableFileIsUnresolved(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Broken.so"), []byte("not an ELF object"), 0o644))

	_, err := PluginResolver{Dir: dir}.Resolve("Broken")

	assert.ErrorIs(t, err, ErrUnresolvedModule)
}
