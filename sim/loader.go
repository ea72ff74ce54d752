package sim

import (
	"fmt"
	"io"
	"slices"

	"github.com/sirupsen/logrus"
)

// Environment holds the collaborators shared by every instantiation.
type Environment struct {
	Geometry Geometry
	Global   *Configuration
}

// Instance is one constructed module with the options it was configured with.
type Instance struct {
	Identifier ModuleIdentifier
	Module     Module
	Config     *Configuration
	Options    map[string]struct{}
}

// Instantiate creates the module instances a configuration section asks for.
// Options are validated before any constructor runs; if a constructor fails,
// the instances already built by this call are destroyed before returning.
func Instantiate(lib *Library, cfg *Configuration, env Environment) ([]Instance, error) {
	f := lib.Factory
	options, err := validateOptions(f, cfg)
	if err != nil {
		return nil, err
	}

	if f.Unique {
		id := ModuleIdentifier{TypeName: f.Name, Priority: PriorityNamed}
		inst, err := construct(f, id, cfg, env, nil, options)
		if err != nil {
			return nil, err
		}
		return []Instance{inst}, nil
	}

	targets, err := selectTargets(f.Name, cfg, env.Geometry)
	if err != nil {
		return nil, err
	}
	if len(targets) == 0 {
		logrus.Warnf("Module %s matches no detectors; no instance created", f.Name)
		return nil, nil
	}

	instances := make([]Instance, 0, len(targets))
	for _, t := range targets {
		id := ModuleIdentifier{TypeName: f.Name, TargetName: t.detector.Name, Priority: t.priority}
		instCfg := cfg.Clone()
		instCfg.Set(KeyName, t.detector.Name)
		det := t.detector
		inst, err := construct(f, id, instCfg, env, &det, options)
		if err != nil {
			destroyInstances(instances)
			return nil, err
		}
		instances = append(instances, inst)
	}
	return instances, nil
}

func construct(f *Factory, id ModuleIdentifier, cfg *Configuration, env Environment,
	det *Detector, options map[string]struct{}) (Instance, error) {
	m, err := f.New(Setup{
		Identifier: id,
		Config:     cfg,
		Global:     env.Global,
		Geometry:   env.Geometry,
		Detector:   det,
	})
	if err != nil {
		return Instance{}, &ModuleError{Phase: PhaseConstruct, Module: id, Worker: -1, Cause: err}
	}
	if m == nil {
		return Instance{}, &ModuleError{Phase: PhaseConstruct, Module: id, Worker: -1,
			Cause: fmt.Errorf("factory returned a nil module")}
	}
	logrus.Debugf("Constructed module %s", id)
	return Instance{Identifier: id, Module: m, Config: cfg, Options: options}, nil
}

// validateOptions rejects every key the module type does not declare.
func validateOptions(f *Factory, cfg *Configuration) (map[string]struct{}, error) {
	known := map[string]struct{}{KeyLogLevel: {}, KeyLogFormat: {}}
	if !f.Unique {
		known[KeyName] = struct{}{}
		known[KeyType] = struct{}{}
	}
	for _, o := range f.Options {
		known[o] = struct{}{}
	}
	var unknown []string
	for _, k := range cfg.Keys() {
		if _, ok := known[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return nil, &LoadError{Kind: LoadUnknownOption, Module: f.Name, Names: unknown}
	}
	return known, nil
}

type target struct {
	detector Detector
	priority int
}

// selectTargets resolves the name and type keys against the geometry.
// Explicit names win; otherwise types filter; otherwise every detector is used.
func selectTargets(module string, cfg *Configuration, g Geometry) ([]target, error) {
	if g == nil {
		g = DetectorList(nil)
	}
	names := cfg.List(KeyName)
	types := cfg.List(KeyType)

	if len(names) > 1 && slices.Contains(names, AllTargets) {
		return nil, &LoadError{Kind: LoadUnknownOption, Module: module, Names: []string{KeyName},
			Cause: fmt.Errorf("%q selects every detector and cannot be combined with other names", AllTargets)}
	}
	if len(names) > 0 && !(len(names) == 1 && names[0] == AllTargets) {
		if len(types) > 0 {
			return nil, &LoadError{Kind: LoadUnknownOption, Module: module, Names: []string{KeyType},
				Cause: fmt.Errorf("%s and %s are mutually exclusive", KeyName, KeyType)}
		}
		var (
			out     []target
			missing []string
		)
		for _, n := range names {
			d, ok := findDetector(g, n)
			if !ok {
				missing = append(missing, n)
				continue
			}
			out = append(out, target{detector: d, priority: PriorityNamed})
		}
		if len(missing) > 0 {
			return nil, &LoadError{Kind: LoadUnknownTarget, Module: module, Names: missing}
		}
		return out, nil
	}

	var out []target
	for _, d := range g.Detectors() {
		switch {
		case len(types) == 0:
			out = append(out, target{detector: d, priority: PriorityAll})
		case slices.Contains(types, d.Type):
			out = append(out, target{detector: d, priority: PriorityByType})
		}
	}
	return out, nil
}

// destroyInstances releases modules that will never be initialized.
func destroyInstances(instances []Instance) {
	for i := len(instances) - 1; i >= 0; i-- {
		if c, ok := instances[i].Module.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logrus.Warnf("Destroying module %s: %v", instances[i].Identifier, err)
			}
		}
	}
}
