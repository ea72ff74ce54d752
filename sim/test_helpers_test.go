package sim

import (
	"fmt"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// call is one hook invocation observed by a probe module.
type call struct {
	Module string
	Phase  Phase
	Worker int
	Event  uint64
}

// callLog collects hook invocations from every probe (goroutine-safe).
type callLog struct {
	mu    sync.Mutex
	calls []call
}

func (l *callLog) add(c call) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) all() []call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]call(nil), l.calls...)
}

// count returns how many times module ran phase.
func (l *callLog) count(module string, phase Phase) int {
	n := 0
	for _, c := range l.all() {
		if c.Module == module && c.Phase == phase {
			n++
		}
	}
	return n
}

// phases returns the hook sequence of module in call order.
func (l *callLog) phases(module string) []Phase {
	var out []Phase
	for _, c := range l.all() {
		if c.Module == module {
			out = append(out, c.Phase)
		}
	}
	return out
}

// probeHooks lets a test inject behavior into each lifecycle hook.
type probeHooks struct {
	initialize       func(id ModuleIdentifier, ctx *Context) error
	initializeThread func(id ModuleIdentifier, tc *ThreadContext) error
	run              func(id ModuleIdentifier, ev *Event) error
	finalizeThread   func(id ModuleIdentifier, tc *ThreadContext) error
	finalize         func(id ModuleIdentifier, ctx *Context) error
}

// probe is a module that logs every hook call and defers to probeHooks.
type probe struct {
	id     ModuleIdentifier
	hooks  *probeHooks
	log    *callLog
	closed *int
}

func (p *probe) Initialize(ctx *Context) error {
	p.log.add(call{Module: p.id.String(), Phase: PhaseInitialize, Worker: -1})
	if p.hooks.initialize != nil {
		return p.hooks.initialize(p.id, ctx)
	}
	return nil
}

func (p *probe) InitializeThread(tc *ThreadContext) error {
	p.log.add(call{Module: p.id.String(), Phase: PhaseInitializeThread, Worker: tc.Worker})
	if p.hooks.initializeThread != nil {
		return p.hooks.initializeThread(p.id, tc)
	}
	return nil
}

func (p *probe) Run(ev *Event) error {
	p.log.add(call{Module: p.id.String(), Phase: PhaseRun, Worker: ev.Worker, Event: ev.Number})
	if p.hooks.run != nil {
		return p.hooks.run(p.id, ev)
	}
	return nil
}

func (p *probe) FinalizeThread(tc *ThreadContext) error {
	p.log.add(call{Module: p.id.String(), Phase: PhaseFinalizeThread, Worker: tc.Worker})
	if p.hooks.finalizeThread != nil {
		return p.hooks.finalizeThread(p.id, tc)
	}
	return nil
}

func (p *probe) Finalize(ctx *Context) error {
	p.log.add(call{Module: p.id.String(), Phase: PhaseFinalize, Worker: -1})
	if p.hooks.finalize != nil {
		return p.hooks.finalize(p.id, ctx)
	}
	return nil
}

// Close counts destruction of modules that were never initialized.
func (p *probe) Close() error {
	if p.closed != nil {
		*p.closed++
	}
	return nil
}

// probeFactory builds a factory producing probes that share log and hooks.
func probeFactory(name string, unique bool, log *callLog, hooks *probeHooks, options ...string) *Factory {
	if hooks == nil {
		hooks = &probeHooks{}
	}
	return &Factory{
		Name:    name,
		Unique:  unique,
		Options: options,
		New: func(s Setup) (Module, error) {
			return &probe{id: s.Identifier, hooks: hooks, log: log}, nil
		},
	}
}

func newTestRegistry(factories ...*Factory) *Registry {
	reg := NewRegistry()
	for _, f := range factories {
		reg.Register(f)
	}
	return reg
}

func newTestManager(reg *Registry, seed int64) *ModuleManager {
	return NewModuleManager(ManagerConfig{
		Resolver: StaticResolver{Registry: reg},
		Output:   io.Discard,
		Seed:     seed,
	})
}

// testGeometry has two detectors of type "pixel" and one of type "strip".
func testGeometry() Geometry {
	return DetectorList{
		{Name: "det1", Type: "pixel"},
		{Name: "det2", Type: "pixel"},
		{Name: "tel0", Type: "strip"},
	}
}

func section(name string, kv ...string) *Configuration {
	if len(kv)%2 != 0 {
		panic(fmt.Sprintf("section %s: odd number of key-value arguments", name))
	}
	c := NewConfiguration(name)
	for i := 0; i < len(kv); i += 2 {
		c.Set(kv[i], kv[i+1])
	}
	return c
}

// mustInitialize loads and initializes sections against the test geometry.
func mustInitialize(t *testing.T, m *ModuleManager, sections ...*Configuration) {
	t.Helper()
	require.NoError(t, m.Load(sections, Environment{Geometry: testGeometry()}))
	require.NoError(t, m.Initialize())
}
