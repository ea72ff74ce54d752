package modules

import (
	"fmt"
	"sync"

	"github.com/pixelsim/pixelsim/sim"
)

// DepositionRandomName is the registered type name of the random deposition module.
const DepositionRandomName = "DepositionRandom"

// OptParticles is the number of deposits per detector and event.
const OptParticles = "particles"

// DepositionStats counts what a deposition module produced.
type DepositionStats struct {
	Events   uint64
	Deposits uint64
	Charge   float64
}

func (s *DepositionStats) add(o DepositionStats) {
	s.Events += o.Events
	s.Deposits += o.Deposits
	s.Charge += o.Charge
}

// DepositionRandom is a unique module that scatters random charge deposits
// over every detector of the geometry. Each worker owns an engine holding
// its partial statistics; engines are merged when the worker finishes.
type DepositionRandom struct {
	sim.BaseModule

	detectors []sim.Detector
	particles int
	sampler   ChargeSampler

	mu     sync.Mutex
	totals DepositionStats
}

// depositionEngine is the per-worker state of DepositionRandom.
type depositionEngine struct {
	stats DepositionStats
}

func newDepositionRandom(s sim.Setup) (sim.Module, error) {
	particles, err := s.Config.Int(OptParticles, 1)
	if err != nil {
		return nil, err
	}
	if particles < 0 {
		return nil, fmt.Errorf("%s must be non-negative, got %d", OptParticles, particles)
	}
	sampler, err := NewChargeSampler(s.Config)
	if err != nil {
		return nil, err
	}
	var detectors []sim.Detector
	if s.Geometry != nil {
		detectors = s.Geometry.Detectors()
	}
	return &DepositionRandom{detectors: detectors, particles: particles, sampler: sampler}, nil
}

func (d *DepositionRandom) Initialize(ctx *sim.Context) error {
	if len(d.detectors) == 0 {
		ctx.Log.Warn("Geometry has no detectors; no charge will be deposited")
	}
	ctx.Log.Infof("Depositing %d particles per event in each of %d detectors", d.particles, len(d.detectors))
	return nil
}

func (d *DepositionRandom) InitializeThread(tc *sim.ThreadContext) error {
	tc.SetLocal(&depositionEngine{})
	return nil
}

// Run draws from the event RNG in geometry order, so an event's deposits do
// not depend on the worker that runs it.
func (d *DepositionRandom) Run(ev *sim.Event) error {
	eng := ev.Local().(*depositionEngine)
	rng := ev.RNG()
	for _, det := range d.detectors {
		deposits := make([]Deposit, d.particles)
		for i := range deposits {
			deposits[i] = Deposit{X: rng.Float64(), Y: rng.Float64(), Charge: d.sampler.Sample(rng)}
			eng.stats.Charge += deposits[i].Charge
		}
		eng.stats.Deposits += uint64(len(deposits))
		sim.Dispatch(ev.Bus(), det.Name, DepositedCharge{Detector: det.Name, Deposits: deposits})
	}
	eng.stats.Events++
	ev.Log().Tracef("Deposited %d particles in %d detectors", d.particles, len(d.detectors))
	return nil
}

func (d *DepositionRandom) FinalizeThread(tc *sim.ThreadContext) error {
	eng, ok := tc.Local().(*depositionEngine)
	if !ok {
		return nil
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.totals.add(eng.stats)
	tc.Log.Debugf("Worker deposited %d particles in %d events", eng.stats.Deposits, eng.stats.Events)
	return nil
}

func (d *DepositionRandom) Finalize(ctx *sim.Context) error {
	t := d.Totals()
	ctx.Log.Infof("Deposited %d particles (%.0f e total) in %d events", t.Deposits, t.Charge, t.Events)
	return nil
}

// Totals returns the statistics merged from all finished workers.
func (d *DepositionRandom) Totals() DepositionStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totals
}
