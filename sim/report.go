package sim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"
)

// RunStatus summarizes how a run ended.
type RunStatus string

const (
	// StatusSuccess: load and initialize succeeded and nothing failed afterwards.
	StatusSuccess RunStatus = "success"
	// StatusDegraded: the run completed but some events, workers or
	// finalizations failed.
	StatusDegraded RunStatus = "degraded"
	// StatusAborted: load or initialize failed; no events were run.
	StatusAborted RunStatus = "aborted"
)

// RunReport is the outcome of a manager's lifecycle.
type RunReport struct {
	RunID     uuid.UUID
	Seed      int64
	Workers   int
	Requested uint64 // events asked for
	Processed uint64 // events that went through every module without error
	Failed    uint64 // events with an EventError
	Cancelled bool

	AbortError     error
	EventErrors    []*EventError
	ThreadErrors   []*ModuleError
	FinalizeErrors []*ModuleError

	ModuleTimings map[string]Distribution // Run durations in microseconds
	Elapsed       time.Duration
}

func newRunReport(seed int64) *RunReport {
	return &RunReport{RunID: uuid.New(), Seed: seed, ModuleTimings: map[string]Distribution{}}
}

// Status derives the run status from the recorded errors.
func (r *RunReport) Status() RunStatus {
	switch {
	case r.AbortError != nil:
		return StatusAborted
	case len(r.EventErrors) > 0 || len(r.ThreadErrors) > 0 || len(r.FinalizeErrors) > 0:
		return StatusDegraded
	default:
		return StatusSuccess
	}
}

// Skipped returns the number of requested events that were never run,
// because of cancellation or because every worker failed to start.
func (r *RunReport) Skipped() uint64 {
	return r.Requested - r.Processed - r.Failed
}

// Err returns nil for a successful run and otherwise one error joining
// everything that went wrong.
func (r *RunReport) Err() error {
	var errs []error
	if r.AbortError != nil {
		errs = append(errs, r.AbortError)
	}
	for _, e := range r.EventErrors {
		errs = append(errs, e)
	}
	for _, e := range r.ThreadErrors {
		errs = append(errs, e)
	}
	for _, e := range r.FinalizeErrors {
		errs = append(errs, e)
	}
	return errors.Join(errs...)
}

// sortEventErrors orders event errors by event number for stable output.
func (r *RunReport) sortEventErrors() {
	slices.SortFunc(r.EventErrors, func(a, b *EventError) int {
		switch {
		case a.Event < b.Event:
			return -1
		case a.Event > b.Event:
			return 1
		}
		return Compare(a.Module, b.Module)
	})
}

type reportJSON struct {
	RunID          string                  `json:"run_id"`
	Status         RunStatus               `json:"status"`
	Seed           int64                   `json:"seed"`
	Workers        int                     `json:"workers"`
	Requested      uint64                  `json:"events_requested"`
	Processed      uint64                  `json:"events_processed"`
	Failed         uint64                  `json:"events_failed"`
	Skipped        uint64                  `json:"events_skipped"`
	Cancelled      bool                    `json:"cancelled"`
	ElapsedSec     float64                 `json:"elapsed_s"`
	AbortError     string                  `json:"abort_error,omitempty"`
	EventErrors    []string                `json:"event_errors,omitempty"`
	ThreadErrors   []string                `json:"thread_errors,omitempty"`
	FinalizeErrors []string                `json:"finalize_errors,omitempty"`
	ModuleTimings  map[string]Distribution `json:"module_run_us"`
}

// MarshalJSON renders the report with errors as strings.
func (r *RunReport) MarshalJSON() ([]byte, error) {
	out := reportJSON{
		RunID:         r.RunID.String(),
		Status:        r.Status(),
		Seed:          r.Seed,
		Workers:       r.Workers,
		Requested:     r.Requested,
		Processed:     r.Processed,
		Failed:        r.Failed,
		Skipped:       r.Skipped(),
		Cancelled:     r.Cancelled,
		ElapsedSec:    r.Elapsed.Seconds(),
		ModuleTimings: r.ModuleTimings,
	}
	if r.AbortError != nil {
		out.AbortError = r.AbortError.Error()
	}
	for _, e := range r.EventErrors {
		out.EventErrors = append(out.EventErrors, e.Error())
	}
	for _, e := range r.ThreadErrors {
		out.ThreadErrors = append(out.ThreadErrors, e.Error())
	}
	for _, e := range r.FinalizeErrors {
		out.FinalizeErrors = append(out.FinalizeErrors, e.Error())
	}
	return json.Marshal(out)
}

// Print writes a human-readable header followed by the JSON report.
func (r *RunReport) Print(w io.Writer) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run report: %w", err)
	}
	fmt.Fprintln(w, "=== Simulation Report ===")
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// SaveResults writes the JSON report to path.
func (r *RunReport) SaveResults(path string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling run report: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing run report: %w", err)
	}
	return nil
}
