// Package sim provides the module orchestration engine of pixelsim.
//
// # Reading Guide
//
// Start with these files to understand the engine:
//   - module.go: the five-hook Module interface and what each hook receives
//   - manager.go: the load → initialize → run → finalize state machine
//   - scheduler.go: the worker pool, per-worker module state and event seeding
//
// # Architecture
//
// The sim package owns the interfaces and the engine; module types live in
// sub-packages and register themselves with DefaultRegistry from init()
// functions (see sim/modules/register.go). Other sub-packages:
//   - sim/steering/: steering file loading (YAML, TOML)
//   - sim/trace/: optional execution trace recording
//
// # Determinism
//
// Every event n gets Seed = EventSeed(key, n), a pure function of the global
// seed and n, and modules run in registration order within an event. Results
// therefore do not depend on the number of workers or on which worker ran an
// event; only cross-event aggregation order varies, so aggregates must be
// commutative.
//
// # Logging
//
// Every hook call is wrapped in a LogScope that applies the module's
// log_level / log_format overrides and restores the ambient context when the
// hook returns, fails or panics. Each worker owns its own scope.
package sim
