package sim

import (
	"math/rand"

	"github.com/sirupsen/logrus"
)

// Module is a pluggable processing unit driven through five lifecycle hooks.
//
// Initialize and Finalize run once, on the manager's goroutine. InitializeThread
// and FinalizeThread run once per worker that processes events, on that worker.
// Run is called once per event from whichever worker owns the event; a module
// never sees two events concurrently through the same ThreadContext local.
// A Run failure fails only that event, and the modules after the failing one
// are not run for it. Only an Initialize failure aborts the run.
type Module interface {
	Initialize(ctx *Context) error
	InitializeThread(tc *ThreadContext) error
	Run(ev *Event) error
	FinalizeThread(tc *ThreadContext) error
	Finalize(ctx *Context) error
}

// BaseModule provides no-op hooks; embed it and override what is needed.
type BaseModule struct{}

func (BaseModule) Initialize(*Context) error             { return nil }
func (BaseModule) InitializeThread(*ThreadContext) error { return nil }
func (BaseModule) Run(*Event) error                      { return nil }
func (BaseModule) FinalizeThread(*ThreadContext) error   { return nil }
func (BaseModule) Finalize(*Context) error               { return nil }

// Setup is everything a factory receives to construct one instance.
// Detector is nil for unique modules.
type Setup struct {
	Identifier ModuleIdentifier
	Config     *Configuration
	Global     *Configuration
	Geometry   Geometry
	Detector   *Detector
}

// Context is passed to the single-threaded Initialize and Finalize hooks.
// RNG is the module's own core-derived random source; it must not be handed to
// worker goroutines.
type Context struct {
	Log *logrus.Entry
	RNG *rand.Rand
}

// ThreadContext is passed to InitializeThread and FinalizeThread. The local
// slot belongs to one (worker, module) pair; whatever InitializeThread stores
// there is handed back through Event.Local and to FinalizeThread on the same
// worker only.
type ThreadContext struct {
	Worker int
	Log    *logrus.Entry
	slot   *any
}

// SetLocal stores the module's per-worker state.
func (tc *ThreadContext) SetLocal(v any) { *tc.slot = v }

// Local returns the module's per-worker state.
func (tc *ThreadContext) Local() any { return *tc.slot }

// Event is one unit of work as seen by a module's Run hook.
type Event struct {
	Number uint64
	Seed   int64
	Worker int

	rng  *rand.Rand
	bus  *Bus
	log  *logrus.Entry
	slot *any
}

// RNG returns the event's random source, seeded with Seed. Modules draw from it
// in registration order, which keeps every event reproducible.
func (ev *Event) RNG() *rand.Rand { return ev.rng }

// Bus returns the event's data bus.
func (ev *Event) Bus() *Bus { return ev.bus }

// Log returns the logger scoped to the module currently being run.
func (ev *Event) Log() *logrus.Entry { return ev.log }

// Local returns what the current module stored in InitializeThread on this worker.
func (ev *Event) Local() any {
	if ev.slot == nil {
		return nil
	}
	return *ev.slot
}
