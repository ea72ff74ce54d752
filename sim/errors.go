package sim

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors. Structured errors below wrap one of these so callers can
// branch with errors.Is and still get details through errors.As.
var (
	ErrUnresolvedModule      = errors.New("module type could not be resolved")
	ErrUnknownTarget         = errors.New("unknown target")
	ErrUnknownOption         = errors.New("unknown configuration option")
	ErrDuplicateModule       = errors.New("duplicate module")
	ErrInvalidLifecycleState = errors.New("invalid lifecycle state")
)

// LoadErrorKind classifies a LoadError.
type LoadErrorKind string

const (
	LoadUnresolved    LoadErrorKind = "unresolved"
	LoadUnknownTarget LoadErrorKind = "unknown-target"
	LoadUnknownOption LoadErrorKind = "unknown-option"
	LoadDuplicate     LoadErrorKind = "duplicate"
)

var loadKindSentinels = map[LoadErrorKind]error{
	LoadUnresolved:    ErrUnresolvedModule,
	LoadUnknownTarget: ErrUnknownTarget,
	LoadUnknownOption: ErrUnknownOption,
	LoadDuplicate:     ErrDuplicateModule,
}

// LoadError reports a configuration problem found while loading modules.
// Module is the type name (or full identifier for duplicates); Names lists the
// offending targets or option keys.
type LoadError struct {
	Kind   LoadErrorKind
	Module string
	Names  []string
	Cause  error
}

func (e *LoadError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "loading module %s: %v", e.Module, loadKindSentinels[e.Kind])
	if len(e.Names) > 0 {
		fmt.Fprintf(&b, " %q", e.Names)
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

// Is matches the sentinel of the error's kind.
func (e *LoadError) Is(target error) bool {
	return loadKindSentinels[e.Kind] == target
}

func (e *LoadError) Unwrap() error { return e.Cause }

// LifecycleError reports a phase called out of order.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("%s: %v (manager is %s)", e.Op, ErrInvalidLifecycleState, e.State)
}

func (e *LifecycleError) Unwrap() error { return ErrInvalidLifecycleState }

// Phase names a module lifecycle hook.
type Phase string

const (
	PhaseConstruct        Phase = "construct"
	PhaseInitialize       Phase = "initialize"
	PhaseInitializeThread Phase = "initialize_thread"
	PhaseRun              Phase = "run"
	PhaseFinalizeThread   Phase = "finalize_thread"
	PhaseFinalize         Phase = "finalize"
)

// ModuleError is a failure returned (or panicked) by a module hook.
type ModuleError struct {
	Phase  Phase
	Module ModuleIdentifier
	Worker int // -1 outside the worker pool
	Cause  error
}

func (e *ModuleError) Error() string {
	if e.Worker >= 0 {
		return fmt.Sprintf("module %s: %s on worker %d: %v", e.Module, e.Phase, e.Worker, e.Cause)
	}
	return fmt.Sprintf("module %s: %s: %v", e.Module, e.Phase, e.Cause)
}

func (e *ModuleError) Unwrap() error { return e.Cause }

// EventError is a module Run failure isolated to a single event.
type EventError struct {
	Event  uint64
	Module ModuleIdentifier
	Cause  error
}

func (e *EventError) Error() string {
	return fmt.Sprintf("event %d: module %s: %v", e.Event, e.Module, e.Cause)
}

func (e *EventError) Unwrap() error { return e.Cause }
