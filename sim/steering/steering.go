// Package steering reads simulation steering files.
//
// A steering file has three sections:
//
//	global     framework settings (number_of_events, random_seed, workers,
//	           log_level, log_format)
//	detectors  the geometry: an ordered list of {name, type}
//	modules    an ordered list of module sections; the "module" key names the
//	           module type, every other key is passed to the module verbatim
//
// YAML (.yaml, .yml) and TOML (.toml) files are accepted. Parsing is strict:
// unknown top-level sections, unknown global keys and unknown detector fields
// are errors. Module keys are validated later against the module type.
package steering

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/pixelsim/pixelsim/sim"
)

// GlobalSection is the name of the global configuration section.
const GlobalSection = "global"

// ModuleKey names the module type inside a module section.
const ModuleKey = "module"

// globalKeys are the keys accepted in the global section.
var globalKeys = []string{
	sim.KeyNumberOfEvents,
	sim.KeyRandomSeed,
	sim.KeyWorkers,
	sim.KeyLogLevel,
	sim.KeyLogFormat,
}

// File is a parsed steering file.
type File struct {
	Global    *sim.Configuration
	Detectors sim.DetectorList
	Modules   []*sim.Configuration
}

// document is the on-disk layout shared by both formats.
// All top-level sections must be listed to satisfy strict parsing.
type document struct {
	Global    map[string]any   `yaml:"global" toml:"global"`
	Detectors []detectorEntry  `yaml:"detectors" toml:"detectors"`
	Modules   []map[string]any `yaml:"modules" toml:"modules"`
}

type detectorEntry struct {
	Name string `yaml:"name" toml:"name"`
	Type string `yaml:"type" toml:"type"`
}

// Load reads a steering file, choosing the format by extension.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading steering file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(bytes.NewReader(data))
	case ".toml":
		return ParseTOML(bytes.NewReader(data))
	default:
		return nil, fmt.Errorf("steering file %s: unsupported extension (want .yaml, .yml or .toml)", path)
	}
}

// ParseYAML parses a YAML steering document.
func ParseYAML(r io.Reader) (*File, error) {
	var doc document
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing steering YAML: %w", err)
	}
	return doc.build()
}

// ParseTOML parses a TOML steering document.
func ParseTOML(r io.Reader) (*File, error) {
	var doc document
	md, err := toml.NewDecoder(r).Decode(&doc)
	if err != nil {
		return nil, fmt.Errorf("parsing steering TOML: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("parsing steering TOML: unknown keys %q", keys)
	}
	return doc.build()
}

func (d *document) build() (*File, error) {
	f := &File{Global: sim.NewConfiguration(GlobalSection)}

	for k, v := range d.Global {
		if !slices.Contains(globalKeys, k) {
			return nil, fmt.Errorf("section %s: %w %q (valid: %s)",
				GlobalSection, sim.ErrUnknownOption, k, strings.Join(globalKeys, ", "))
		}
		s, err := stringify(v)
		if err != nil {
			return nil, fmt.Errorf("section %s: key %q: %w", GlobalSection, k, err)
		}
		f.Global.Set(k, s)
	}

	seen := make(map[string]bool, len(d.Detectors))
	for i, det := range d.Detectors {
		if det.Name == "" {
			return nil, fmt.Errorf("detectors[%d]: name is required", i)
		}
		if det.Name == sim.AllTargets {
			return nil, fmt.Errorf("detectors[%d]: %q is reserved", i, sim.AllTargets)
		}
		if seen[det.Name] {
			return nil, fmt.Errorf("detectors[%d]: duplicate detector %q", i, det.Name)
		}
		seen[det.Name] = true
		f.Detectors = append(f.Detectors, sim.Detector{Name: det.Name, Type: det.Type})
	}

	for i, entry := range d.Modules {
		cfg, err := moduleSection(entry)
		if err != nil {
			return nil, fmt.Errorf("modules[%d]: %w", i, err)
		}
		f.Modules = append(f.Modules, cfg)
	}
	return f, nil
}

func moduleSection(entry map[string]any) (*sim.Configuration, error) {
	raw, ok := entry[ModuleKey]
	if !ok {
		return nil, fmt.Errorf("missing %q key", ModuleKey)
	}
	name, ok := raw.(string)
	if !ok || strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%q must be a non-empty string", ModuleKey)
	}
	cfg := sim.NewConfiguration(strings.TrimSpace(name))
	for k, v := range entry {
		if k == ModuleKey {
			continue
		}
		s, err := stringify(v)
		if err != nil {
			return nil, fmt.Errorf("module %s: key %q: %w", name, k, err)
		}
		cfg.Set(k, s)
	}
	return cfg, nil
}

// stringify renders a decoded scalar, or a list of scalars, in the textual
// form sim.Configuration stores. Lists become comma-separated values.
func stringify(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case bool:
		return strconv.FormatBool(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case uint64:
		return strconv.FormatUint(x, 10), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			if _, nested := e.([]any); nested {
				return "", fmt.Errorf("nested lists are not supported")
			}
			s, err := stringify(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return strings.Join(parts, ","), nil
	case nil:
		return "", nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}

// Settings are the framework parameters read from the global section.
type Settings struct {
	Events    uint64
	Seed      int64
	Workers   int
	LogLevel  string
	LogFormat string
}

// Settings converts the global section, applying defaults for absent keys.
func (f *File) Settings() (Settings, error) {
	events, err := f.Global.Int64(sim.KeyNumberOfEvents, 1)
	if err != nil {
		return Settings{}, err
	}
	if events < 0 {
		return Settings{}, fmt.Errorf("%s must be non-negative, got %d", sim.KeyNumberOfEvents, events)
	}
	seed, err := f.Global.Int64(sim.KeyRandomSeed, 0)
	if err != nil {
		return Settings{}, err
	}
	workers, err := f.Global.Int(sim.KeyWorkers, 0)
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Events:    uint64(events),
		Seed:      seed,
		Workers:   workers,
		LogLevel:  f.Global.String(sim.KeyLogLevel, "info"),
		LogFormat: f.Global.String(sim.KeyLogFormat, string(sim.LogFormatDefault)),
	}, nil
}
