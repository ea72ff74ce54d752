package sim

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"

	"github.com/golobby/cast"
)

// Reserved option keys understood by the framework itself.
const (
	KeyLogLevel  = "log_level"
	KeyLogFormat = "log_format"
	KeyName      = "name" // per-target modules: target names or "all"
	KeyType      = "type" // per-target modules: detector types

	// AllTargets selects every known target in the name key.
	AllTargets = "all"
)

// Global section keys.
const (
	KeyNumberOfEvents = "number_of_events"
	KeyRandomSeed     = "random_seed"
	KeyWorkers        = "workers"
)

// Configuration is one steering section: a name (the module type for module
// sections) and a flat key to string store. Values are converted on access.
type Configuration struct {
	name   string
	values map[string]string
}

// NewConfiguration creates an empty section.
func NewConfiguration(name string) *Configuration {
	return &Configuration{name: name, values: make(map[string]string)}
}

// NewConfigurationFrom creates a section holding the given key-value pairs.
func NewConfigurationFrom(name string, kv map[string]string) *Configuration {
	c := NewConfiguration(name)
	for k, v := range kv {
		c.Set(k, v)
	}
	return c
}

// Name returns the section name.
func (c *Configuration) Name() string { return c.name }

// Set stores a value, replacing any previous one.
func (c *Configuration) Set(key, value string) {
	c.values[key] = value
}

// SetDefault stores a value only if the key is not already present.
func (c *Configuration) SetDefault(key, value string) {
	if _, ok := c.values[key]; !ok {
		c.values[key] = value
	}
}

// Has reports whether key is present.
func (c *Configuration) Has(key string) bool {
	_, ok := c.values[key]
	return ok
}

// Keys returns all keys in sorted order.
func (c *Configuration) Keys() []string {
	return slices.Sorted(maps.Keys(c.values))
}

// Clone returns an independent copy of the section.
func (c *Configuration) Clone() *Configuration {
	return &Configuration{name: c.name, values: maps.Clone(c.values)}
}

// String returns the raw value for key, or def if absent.
func (c *Configuration) String(key, def string) string {
	if v, ok := c.values[key]; ok {
		return strings.TrimSpace(v)
	}
	return def
}

// List splits the value for key on commas and whitespace. Absent keys yield nil.
func (c *Configuration) List(key string) []string {
	v, ok := c.values[key]
	if !ok {
		return nil
	}
	return strings.FieldsFunc(v, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
}

// Int returns the value for key as an int, or def if absent.
func (c *Configuration) Int(key string, def int) (int, error) {
	return typed(c, key, def)
}

// Int64 returns the value for key as an int64, or def if absent.
func (c *Configuration) Int64(key string, def int64) (int64, error) {
	return typed(c, key, def)
}

// Float returns the value for key as a float64, or def if absent.
func (c *Configuration) Float(key string, def float64) (float64, error) {
	return typed(c, key, def)
}

// Bool returns the value for key as a bool, or def if absent.
func (c *Configuration) Bool(key string, def bool) (bool, error) {
	return typed(c, key, def)
}

func typed[T any](c *Configuration, key string, def T) (T, error) {
	raw, ok := c.values[key]
	if !ok {
		return def, nil
	}
	typ := reflect.TypeOf(def)
	v, err := cast.FromType(strings.TrimSpace(raw), typ)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("section %s: option %q: cannot convert %q to %s: %w", c.name, key, raw, typ, err)
	}
	return reflect.ValueOf(v).Convert(typ).Interface().(T), nil
}
