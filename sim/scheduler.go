package sim

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/pixelsim/pixelsim/sim/trace"
)

// scheduler hands event numbers to a fixed pool of workers.
// Each event is claimed by exactly one worker and carried through every
// module before that worker claims the next one.
type scheduler struct {
	m       *ModuleManager
	total   uint64
	workers int
	next    atomic.Uint64
	timings *timingCollector

	processed atomic.Uint64
	failed    atomic.Uint64

	mu           sync.Mutex
	eventErrors  []*EventError
	threadErrors []*ModuleError
}

func newScheduler(m *ModuleManager, total uint64, workers int) *scheduler {
	return &scheduler{
		m:       m,
		total:   total,
		workers: workers,
		timings: newTimingCollector(len(m.records)),
	}
}

func (s *scheduler) run(ctx context.Context) {
	var wg sync.WaitGroup
	for id := 0; id < s.workers; id++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			w := &worker{
				id:      id,
				s:       s,
				scope:   NewLogScope(s.m.out, s.m.ambient),
				locals:  make([]any, len(s.m.records)),
				timings: newTimingSet(len(s.m.records)),
			}
			w.loop(ctx)
		}(id)
	}
	wg.Wait()

	r := s.m.report
	r.Processed = s.processed.Load()
	r.Failed = s.failed.Load()
	r.EventErrors = append(r.EventErrors, s.eventErrors...)
	r.ThreadErrors = append(r.ThreadErrors, s.threadErrors...)
	r.ModuleTimings = s.timings.distributions(s.m.Identifiers())
	r.Cancelled = ctx.Err() != nil && r.Processed+r.Failed < s.total
}

// pending reports whether unclaimed events remain and the run is not cancelled.
func (s *scheduler) pending(ctx context.Context) bool {
	return ctx.Err() == nil && s.next.Load() < s.total
}

// claim returns the next unclaimed event number.
func (s *scheduler) claim(ctx context.Context) (uint64, bool) {
	if ctx.Err() != nil {
		return 0, false
	}
	n := s.next.Add(1) - 1
	if n >= s.total {
		return 0, false
	}
	return n, true
}

func (s *scheduler) recordEventError(e *EventError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eventErrors = append(s.eventErrors, e)
}

func (s *scheduler) recordThreadError(e *ModuleError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadErrors = append(s.threadErrors, e)
}

// worker owns a log scope and one local slot per module. Nothing in a worker
// is shared with other workers except through the scheduler's synchronized
// methods.
type worker struct {
	id      int
	s       *scheduler
	scope   *LogScope
	locals  []any
	ready   int // number of modules whose InitializeThread succeeded
	timings timingSet
}

func (w *worker) loop(ctx context.Context) {
	started := false
	defer func() {
		if started {
			w.finalizeThread()
		}
		w.s.timings.merge(w.timings)
	}()

	for {
		if !started {
			// Thread resources are only built once there is work to do.
			if !w.s.pending(ctx) {
				return
			}
			started = true
			if err := w.initializeThread(); err != nil {
				return
			}
		}
		n, ok := w.s.claim(ctx)
		if !ok {
			return
		}
		w.process(n)
	}
}

func (w *worker) initializeThread() error {
	for pos, r := range w.s.m.records {
		err := w.call(r, PhaseInitializeThread, 0, func(log *logrus.Entry) error {
			return r.module.InitializeThread(&ThreadContext{Worker: w.id, Log: log, slot: &w.locals[pos]})
		})
		if err != nil {
			logrus.Errorf("Worker %d: %v; worker stops claiming events", w.id, err)
			var me *ModuleError
			if errors.As(err, &me) {
				w.s.recordThreadError(me)
			}
			return err
		}
		w.ready = pos + 1
	}
	return nil
}

func (w *worker) finalizeThread() {
	for pos := 0; pos < w.ready; pos++ {
		r := w.s.m.records[pos]
		err := w.call(r, PhaseFinalizeThread, 0, func(log *logrus.Entry) error {
			return r.module.FinalizeThread(&ThreadContext{Worker: w.id, Log: log, slot: &w.locals[pos]})
		})
		if err != nil {
			logrus.Errorf("Worker %d: %v", w.id, err)
			var me *ModuleError
			if errors.As(err, &me) {
				w.s.recordThreadError(me)
			}
		}
		w.locals[pos] = nil
	}
}

// process runs event n through every module in execution order. The first
// failing module ends the event; later modules would only see partial data.
func (w *worker) process(n uint64) {
	seed := EventSeed(w.s.m.key, n)
	ev := &Event{
		Number: n,
		Seed:   seed,
		Worker: w.id,
		rng:    rand.New(rand.NewSource(seed)),
		bus:    newBus(),
	}
	tr := w.s.m.trace
	invoked := 0
	for pos, r := range w.s.m.records {
		ev.slot = &w.locals[pos]
		start := time.Now()
		err := w.call(r, PhaseRun, n, func(log *logrus.Entry) error {
			ev.log = log.WithField("event", n)
			return r.module.Run(ev)
		})
		w.timings.observe(pos, time.Since(start))
		invoked++
		if err != nil {
			cause := err
			var me *ModuleError
			if errors.As(err, &me) {
				cause = me.Cause
			}
			logrus.Warnf("Event %d failed in %s: %v", n, r.id, cause)
			w.s.recordEventError(&EventError{Event: n, Module: r.id, Cause: cause})
			w.s.failed.Add(1)
			if tr.RecordsEvents() {
				tr.RecordEvent(trace.EventRecord{Event: n, Worker: w.id, Seed: seed, Failed: true, Modules: invoked})
			}
			return
		}
	}
	w.s.processed.Add(1)
	if tr.RecordsEvents() {
		tr.RecordEvent(trace.EventRecord{Event: n, Worker: w.id, Seed: seed, Modules: invoked})
	}
}

// call runs one hook inside the module's log scope on this worker.
func (w *worker) call(r *record, phase Phase, event uint64, fn func(*logrus.Entry) error) error {
	prior, err := w.scope.Enter(r.level, r.format)
	if err != nil {
		return &ModuleError{Phase: phase, Module: r.id, Worker: w.id, Cause: err}
	}
	defer w.scope.Exit(prior)

	log := w.scope.Logger().WithFields(logrus.Fields{"module": r.id.String(), "worker": w.id})
	start := time.Now()
	err = guard(phase, r.id, w.id, func() error { return fn(log) })
	if tr := w.s.m.trace; tr.RecordsModules() {
		tr.RecordExecution(executionRecord(r.id, phase, event, w.id, time.Since(start), err))
	}
	return err
}
