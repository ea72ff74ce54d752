package trace

import (
	"slices"
	"sync"
)

// TraceLevel controls the verbosity of execution tracing.
type TraceLevel string

const (
	// TraceLevelNone disables tracing (zero overhead).
	TraceLevelNone TraceLevel = "none"
	// TraceLevelEvents captures one record per completed event.
	TraceLevelEvents TraceLevel = "events"
	// TraceLevelModules additionally captures every module hook invocation.
	TraceLevelModules TraceLevel = "modules"
)

// validTraceLevels maps accepted trace level strings.
var validTraceLevels = map[TraceLevel]bool{
	TraceLevelNone:    true,
	TraceLevelEvents:  true,
	TraceLevelModules: true,
	"":                true, // empty defaults to none
}

// IsValidTraceLevel returns true if the given level string is a recognized trace level.
func IsValidTraceLevel(level string) bool {
	return validTraceLevels[TraceLevel(level)]
}

// TraceConfig controls trace collection behavior.
type TraceConfig struct {
	Level TraceLevel
}

// SimulationTrace collects execution records during a run (goroutine-safe).
type SimulationTrace struct {
	Config TraceConfig

	mu         sync.Mutex
	executions []ExecutionRecord
	events     []EventRecord
}

// NewSimulationTrace creates a SimulationTrace ready for recording.
func NewSimulationTrace(config TraceConfig) *SimulationTrace {
	return &SimulationTrace{
		Config:     config,
		executions: make([]ExecutionRecord, 0),
		events:     make([]EventRecord, 0),
	}
}

// RecordsModules reports whether per-hook records are kept.
func (st *SimulationTrace) RecordsModules() bool {
	return st != nil && st.Config.Level == TraceLevelModules
}

// RecordsEvents reports whether per-event records are kept.
func (st *SimulationTrace) RecordsEvents() bool {
	return st != nil && (st.Config.Level == TraceLevelEvents || st.Config.Level == TraceLevelModules)
}

// RecordExecution appends a hook invocation record.
func (st *SimulationTrace) RecordExecution(record ExecutionRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.executions = append(st.executions, record)
}

// RecordEvent appends an event completion record.
func (st *SimulationTrace) RecordEvent(record EventRecord) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.events = append(st.events, record)
}

// Executions returns a copy of all hook records in recording order.
func (st *SimulationTrace) Executions() []ExecutionRecord {
	st.mu.Lock()
	defer st.mu.Unlock()
	return slices.Clone(st.executions)
}

// Events returns a copy of all event records sorted by event number.
func (st *SimulationTrace) Events() []EventRecord {
	st.mu.Lock()
	out := slices.Clone(st.events)
	st.mu.Unlock()
	slices.SortFunc(out, func(a, b EventRecord) int {
		switch {
		case a.Event < b.Event:
			return -1
		case a.Event > b.Event:
			return 1
		}
		return 0
	})
	return out
}

// ModulesForEvent returns, in invocation order, the modules whose Run hook
// was called for event n.
func (st *SimulationTrace) ModulesForEvent(n uint64) []string {
	st.mu.Lock()
	defer st.mu.Unlock()
	var out []string
	for _, r := range st.executions {
		if r.Phase == "run" && r.Event == n {
			out = append(out, r.Module)
		}
	}
	return out
}
