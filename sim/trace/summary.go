package trace

// TraceSummary aggregates statistics from a SimulationTrace.
type TraceSummary struct {
	TotalEvents        int
	FailedEvents       int
	TotalExecutions    int
	FailedExecutions   int
	UniqueWorkers      int
	WorkerDistribution map[int]int    // worker → events processed
	ModuleInvocations  map[string]int // module → run hooks invoked
}

// Summarize computes aggregate statistics from a SimulationTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(st *SimulationTrace) *TraceSummary {
	summary := &TraceSummary{
		WorkerDistribution: make(map[int]int),
		ModuleInvocations:  make(map[string]int),
	}
	if st == nil {
		return summary
	}

	events := st.Events()
	summary.TotalEvents = len(events)
	for _, e := range events {
		summary.WorkerDistribution[e.Worker]++
		if e.Failed {
			summary.FailedEvents++
		}
	}

	executions := st.Executions()
	summary.TotalExecutions = len(executions)
	for _, r := range executions {
		if r.Failed {
			summary.FailedExecutions++
		}
		if r.Phase == "run" {
			summary.ModuleInvocations[r.Module]++
		}
	}

	summary.UniqueWorkers = len(summary.WorkerDistribution)

	return summary
}
