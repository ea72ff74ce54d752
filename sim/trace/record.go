// Package trace provides execution-trace recording for module pipelines.
// This package has no dependencies on sim/; it stores pure data types.
package trace

import "time"

// ExecutionRecord captures one module hook invocation.
// Event is meaningful only for run records.
type ExecutionRecord struct {
	Event    uint64
	Worker   int
	Module   string
	Phase    string
	Duration time.Duration
	Failed   bool
	Error    string
}

// EventRecord captures the completion of one event by a worker.
type EventRecord struct {
	Event   uint64
	Worker  int
	Seed    int64
	Failed  bool
	Modules int // number of module Run hooks invoked for the event
}
