package steering

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsim/pixelsim/sim"
)

const yamlSteering = `
global:
  number_of_events: 500
  random_seed: 42
  workers: 4
  log_level: warning
detectors:
  - name: plane0
    type: timepix
  - name: plane1
    type: timepix
  - name: dut
    type: cmos
modules:
  - module: DepositionRandom
    particles: 3
    charge_mean: 8000.5
  - module: SimpleTransfer
    name: [plane0, plane1]
    log_level: debug
  - module: DetectorHistogrammer
    type: cmos
`

const tomlSteering = `
[global]
number_of_events = 500
random_seed = 42
workers = 4
log_level = "warning"

[[detectors]]
name = "plane0"
type = "timepix"

[[detectors]]
name = "plane1"
type = "timepix"

[[detectors]]
name = "dut"
type = "cmos"

[[modules]]
module = "DepositionRandom"
particles = 3
charge_mean = 8000.5

[[modules]]
module = "SimpleTransfer"
name = ["plane0", "plane1"]
log_level = "debug"

[[modules]]
module = "DetectorHistogrammer"
type = "cmos"
`

func assertStandardFile(t *testing.T, f *File) {
	t.Helper()
	assert.Equal(t, sim.DetectorList{
		{Name: "plane0", Type: "timepix"},
		{Name: "plane1", Type: "timepix"},
		{Name: "dut", Type: "cmos"},
	}, f.Detectors)

	require.Len(t, f.Modules, 3)
	assert.Equal(t, "DepositionRandom", f.Modules[0].Name())
	assert.Equal(t, "3", f.Modules[0].String("particles", ""))
	assert.Equal(t, "8000.5", f.Modules[0].String("charge_mean", ""))
	assert.Equal(t, []string{"plane0", "plane1"}, f.Modules[1].List(sim.KeyName))
	assert.Equal(t, "debug", f.Modules[1].String(sim.KeyLogLevel, ""))
	assert.Equal(t, []string{sim.KeyType}, f.Modules[2].Keys())

	s, err := f.Settings()
	require.NoError(t, err)
	assert.Equal(t, Settings{Events: 500, Seed: 42, Workers: 4, LogLevel: "warning", LogFormat: "default"}, s)
}

func TestParseYAML(t *testing.T) {
	f, err := ParseYAML(strings.NewReader(yamlSteering))
	require.NoError(t, err)
	assertStandardFile(t, f)
}

func TestParseTOML(t *testing.T) {
	f, err := ParseTOML(strings.NewReader(tomlSteering))
	require.NoError(t, err)
	assertStandardFile(t, f)
}

func TestLoad_ChoosesFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	yamlPath := filepath.Join(dir, "run.yml")
	tomlPath := filepath.Join(dir, "run.toml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(yamlSteering), 0o644))
	require.NoError(t, os.WriteFile(tomlPath, []byte(tomlSteering), 0o644))

	fromYAML, err := Load(yamlPath)
	require.NoError(t, err)
	fromTOML, err := Load(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, fromYAML, fromTOML)

	_, err = Load(filepath.Join(dir, "run.ini"))
	assert.Error(t, err)
}

func TestParse_EmptyDocumentUsesDefaults(t *testing.T) {
	f, err := ParseYAML(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, f.Modules)

	s, err := f.Settings()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Events)
	assert.Equal(t, 0, s.Workers, "zero selects one worker per CPU")
	assert.Equal(t, "info", s.LogLevel)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown top-level section", "geometry: {}\n"},
		{"unknown global key", "global:\n  number_of_event: 5\n"},
		{"unknown detector field", "detectors:\n  - name: d\n    orientation: 90\n"},
		{"detector without name", "detectors:\n  - type: timepix\n"},
		{"duplicate detector", "detectors:\n  - name: d\n  - name: d\n"},
		{"reserved detector name", "detectors:\n  - name: all\n"},
		{"module without type", "modules:\n  - particles: 3\n"},
		{"nested module value", "modules:\n  - module: X\n    opts: {a: 1}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseYAML(strings.NewReader(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestParse_UnknownGlobalKeyIsUnknownOption(t *testing.T) {
	_, err := ParseYAML(strings.NewReader("global:\n  seed: 5\n"))
	assert.ErrorIs(t, err, sim.ErrUnknownOption)
}

func TestParseTOML_UnknownTableRejected(t *testing.T) {
	_, err := ParseTOML(strings.NewReader("[geometry]\nfile = \"x\"\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "geometry")
}

func TestSettings_RejectsBadValues(t *testing.T) {
	for _, doc := range []string{
		"global:\n  number_of_events: -1\n",
		"global:\n  number_of_events: many\n",
		"global:\n  workers: two\n",
	} {
		f, err := ParseYAML(strings.NewReader(doc))
		require.NoError(t, err)
		_, err = f.Settings()
		assert.Error(t, err, doc)
	}
}
