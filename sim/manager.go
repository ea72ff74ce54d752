package sim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"slices"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixelsim/pixelsim/sim/trace"
)

// State is the manager's lifecycle position. Transitions only move forward.
type State int

const (
	StateCreated State = iota
	StateLoaded
	StateInitialized
	StateRunning
	StateFinalized
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateLoaded:
		return "loaded"
	case StateInitialized:
		return "initialized"
	case StateRunning:
		return "running"
	case StateFinalized:
		return "finalized"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// ManagerConfig configures a ModuleManager. Zero values select defaults.
type ManagerConfig struct {
	Resolver LibraryResolver        // default: StaticResolver over DefaultRegistry
	Output   io.Writer              // module log destination, default os.Stderr
	Ambient  LogContext             // ambient module log context, default info/default
	Seed     int64                  // global random seed
	Trace    *trace.SimulationTrace // optional execution trace
}

// record is one owned module in the collection.
type record struct {
	id      ModuleIdentifier
	module  Module
	config  *Configuration
	options map[string]struct{}
	level   string
	format  string
}

// ModuleManager loads modules from configuration and drives them through
// load, initialize, run and finalize.
//
// Load, Initialize, Run and Finalize must be called in that order, once each,
// from a single goroutine; Run fans out to its own worker pool internally.
type ModuleManager struct {
	resolver LibraryResolver
	out      io.Writer
	ambient  LogContext
	key      SimulationKey
	rng      *PartitionedRNG
	trace    *trace.SimulationTrace

	state     State
	records   []*record
	index     map[identity]int
	libraries map[string]*Library
	scope     *LogScope
	report    *RunReport
}

// NewModuleManager creates a manager in StateCreated.
func NewModuleManager(cfg ManagerConfig) *ModuleManager {
	if cfg.Resolver == nil {
		cfg.Resolver = StaticResolver{Registry: DefaultRegistry}
	}
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}
	if cfg.Ambient.Format == "" && cfg.Ambient.Level == 0 {
		cfg.Ambient = LogContext{Level: logrus.InfoLevel, Format: LogFormatDefault}
	}
	out := &lockedWriter{w: cfg.Output}
	key := NewSimulationKey(cfg.Seed)
	return &ModuleManager{
		resolver:  cfg.Resolver,
		out:       out,
		ambient:   cfg.Ambient,
		key:       key,
		rng:       NewPartitionedRNG(key),
		trace:     cfg.Trace,
		index:     make(map[identity]int),
		libraries: make(map[string]*Library),
		scope:     NewLogScope(out, cfg.Ambient),
		report:    newRunReport(cfg.Seed),
	}
}

// State returns the current lifecycle state.
func (m *ModuleManager) State() State { return m.state }

// Report returns the aggregate report. It is updated by every phase.
func (m *ModuleManager) Report() *RunReport { return m.report }

// Identifiers returns the module identifiers in execution order.
func (m *ModuleManager) Identifiers() []ModuleIdentifier {
	ids := make([]ModuleIdentifier, len(m.records))
	for i, r := range m.records {
		ids[i] = r.id
	}
	return ids
}

// SortedIdentifiers returns the module identifiers in identifier order.
func (m *ModuleManager) SortedIdentifiers() []ModuleIdentifier {
	ids := m.Identifiers()
	slices.SortFunc(ids, Compare)
	return ids
}

// Module returns the module registered under id.
func (m *ModuleManager) Module(id ModuleIdentifier) (Module, bool) {
	pos, ok := m.index[id.identity()]
	if !ok {
		return nil, false
	}
	return m.records[pos].module, true
}

// ModulesForTarget returns the identifiers of modules bound to target, in
// execution order.
func (m *ModuleManager) ModulesForTarget(target string) []ModuleIdentifier {
	var ids []ModuleIdentifier
	for _, r := range m.records {
		if r.id.TargetName == target {
			ids = append(ids, r.id)
		}
	}
	return ids
}

func (m *ModuleManager) expect(op string, allowed ...State) error {
	if !slices.Contains(allowed, m.state) {
		return &LifecycleError{Op: op, State: m.state}
	}
	return nil
}

// Load instantiates every configured module section in order.
// Either every section loads and the collection grows, or nothing changes:
// on failure the modules built by this call are destroyed and the error from
// the offending section is returned. A failed load also marks the run report
// aborted.
func (m *ModuleManager) Load(configs []*Configuration, env Environment) error {
	if err := m.expect("load", StateCreated); err != nil {
		return err
	}
	err := m.load(configs, env)
	m.report.AbortError = err
	return err
}

func (m *ModuleManager) load(configs []*Configuration, env Environment) error {
	if env.Global == nil {
		env.Global = NewConfiguration("global")
	}

	var built []Instance
	pending := make(map[identity]ModuleIdentifier)
	for _, cfg := range configs {
		lib, err := m.library(cfg.Name())
		if err != nil {
			destroyInstances(built)
			return err
		}
		instances, err := Instantiate(lib, cfg, env)
		if err != nil {
			destroyInstances(built)
			return err
		}
		built = append(built, instances...)
		for _, inst := range instances {
			key := inst.Identifier.identity()
			_, existing := m.index[key]
			_, repeated := pending[key]
			if existing || repeated {
				destroyInstances(built)
				return &LoadError{Kind: LoadDuplicate, Module: inst.Identifier.String()}
			}
			pending[key] = inst.Identifier
		}
	}

	for _, inst := range built {
		m.index[inst.Identifier.identity()] = len(m.records)
		m.records = append(m.records, &record{
			id:      inst.Identifier,
			module:  inst.Module,
			config:  inst.Config,
			options: inst.Options,
			level:   inst.Config.String(KeyLogLevel, ""),
			format:  inst.Config.String(KeyLogFormat, ""),
		})
	}
	m.state = StateLoaded
	logrus.Infof("Loaded %d module instances from %d sections", len(built), len(configs))
	return nil
}

// library resolves a module type once and caches it by name.
func (m *ModuleManager) library(name string) (*Library, error) {
	if lib, ok := m.libraries[name]; ok {
		return lib, nil
	}
	lib, err := m.resolver.Resolve(name)
	if err != nil {
		return nil, err
	}
	logrus.Debugf("Resolved module library %s from %s", name, lib.Source)
	m.libraries[name] = lib
	return lib, nil
}

// Initialize calls every module's Initialize hook in execution order.
// The first failure is fatal: modules initialized before it are finalized,
// the manager moves to StateFinalized and the failure is returned.
func (m *ModuleManager) Initialize() error {
	if err := m.expect("initialize", StateLoaded); err != nil {
		return err
	}
	for i, r := range m.records {
		logrus.Debugf("Initializing %s", r.id)
		err := m.callSingle(r, PhaseInitialize, func(ctx *Context) error {
			return r.module.Initialize(ctx)
		})
		if err != nil {
			logrus.Errorf("Initialization of %s failed: %v", r.id, err)
			m.report.AbortError = err
			m.finalizeRecords(m.records[:i])
			m.state = StateFinalized
			return err
		}
	}
	m.state = StateInitialized
	logrus.Infof("Initialized %d modules", len(m.records))
	return nil
}

// Run processes events [0, events) on a pool of workers (<= 0 means one per
// CPU; never more workers than events). Per-event failures are recorded in the
// returned report and do not stop the run. Cancelling ctx stops workers from
// claiming further events; thread finalization still happens.
func (m *ModuleManager) Run(ctx context.Context, events uint64, workers int) (*RunReport, error) {
	if err := m.expect("run", StateInitialized); err != nil {
		return nil, err
	}
	m.state = StateRunning

	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if uint64(workers) > events {
		workers = int(events)
	}
	m.report.Requested = events
	m.report.Workers = workers

	start := time.Now()
	s := newScheduler(m, events, workers)
	s.run(ctx)
	m.report.Elapsed = time.Since(start)
	m.report.sortEventErrors()

	logrus.Infof("Processed %d of %d events on %d workers (%d failed) in %v",
		m.report.Processed, events, workers, m.report.Failed, m.report.Elapsed)
	return m.report, nil
}

// Finalize calls every module's Finalize hook in execution order. All modules
// are finalized even if some fail; the failures are joined and returned.
func (m *ModuleManager) Finalize() error {
	if err := m.expect("finalize", StateInitialized, StateRunning); err != nil {
		return err
	}
	errs := m.finalizeRecords(m.records)
	m.state = StateFinalized
	return errs
}

func (m *ModuleManager) finalizeRecords(records []*record) error {
	var errs []error
	for _, r := range records {
		logrus.Debugf("Finalizing %s", r.id)
		err := m.callSingle(r, PhaseFinalize, func(ctx *Context) error {
			return r.module.Finalize(ctx)
		})
		if err != nil {
			logrus.Errorf("Finalization of %s failed: %v", r.id, err)
			var me *ModuleError
			if errors.As(err, &me) {
				m.report.FinalizeErrors = append(m.report.FinalizeErrors, me)
			}
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// callSingle runs a single-threaded hook inside the module's log scope.
func (m *ModuleManager) callSingle(r *record, phase Phase, fn func(*Context) error) error {
	prior, err := m.scope.Enter(r.level, r.format)
	if err != nil {
		return &ModuleError{Phase: phase, Module: r.id, Worker: -1, Cause: err}
	}
	defer m.scope.Exit(prior)

	ctx := &Context{
		Log: m.scope.Logger().WithField("module", r.id.String()),
		RNG: m.rng.ForSubsystem(SubsystemModule(r.id)),
	}
	start := time.Now()
	err = guard(phase, r.id, -1, func() error { return fn(ctx) })
	if m.trace.RecordsModules() {
		m.trace.RecordExecution(executionRecord(r.id, phase, 0, -1, time.Since(start), err))
	}
	return err
}

// guard converts a hook's error or panic into a *ModuleError.
func guard(phase Phase, id ModuleIdentifier, worker int, fn func() error) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &ModuleError{Phase: phase, Module: id, Worker: worker, Cause: fmt.Errorf("panic: %v", p)}
		}
	}()
	if e := fn(); e != nil {
		return &ModuleError{Phase: phase, Module: id, Worker: worker, Cause: e}
	}
	return nil
}

func executionRecord(id ModuleIdentifier, phase Phase, event uint64, worker int, d time.Duration, err error) trace.ExecutionRecord {
	rec := trace.ExecutionRecord{
		Event:    event,
		Worker:   worker,
		Module:   id.String(),
		Phase:    string(phase),
		Duration: d,
	}
	if err != nil {
		rec.Failed = true
		rec.Error = err.Error()
	}
	return rec
}
