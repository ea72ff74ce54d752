// Tracks per-module execution timings across workers for the final report.

package sim

import (
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Distribution captures statistical summary of a metric.
type Distribution struct {
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Count int     `json:"count"`
}

// NewDistribution computes a Distribution from raw values.
// Returns zero-value Distribution for empty input.
func NewDistribution(values []float64) Distribution {
	if len(values) == 0 {
		return Distribution{}
	}
	sorted := slices.Clone(values)
	slices.Sort(sorted)

	quantile := func(p float64) float64 { return stat.Quantile(p, stat.LinInterp, sorted, nil) }
	return Distribution{
		Mean:  stat.Mean(sorted, nil),
		P50:   quantile(0.50),
		P95:   quantile(0.95),
		P99:   quantile(0.99),
		Min:   sorted[0],
		Max:   sorted[len(sorted)-1],
		Count: len(sorted),
	}
}

// timingSet holds Run durations (microseconds) per module position.
// Each worker fills its own set; sets are merged into the shared
// collector when the worker retires, so the hot path takes no lock.
type timingSet [][]float64

func newTimingSet(modules int) timingSet {
	return make(timingSet, modules)
}

func (t timingSet) observe(pos int, d time.Duration) {
	t[pos] = append(t[pos], float64(d.Microseconds()))
}

// timingCollector merges worker timing sets (goroutine-safe).
type timingCollector struct {
	mu     sync.Mutex
	merged timingSet
}

func newTimingCollector(modules int) *timingCollector {
	return &timingCollector{merged: newTimingSet(modules)}
}

func (c *timingCollector) merge(t timingSet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, vals := range t {
		c.merged[i] = append(c.merged[i], vals...)
	}
}

// distributions returns one Distribution per module, keyed by identifier.
func (c *timingCollector) distributions(ids []ModuleIdentifier) map[string]Distribution {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Distribution, len(ids))
	for i, id := range ids {
		out[id.String()] = NewDistribution(c.merged[i])
	}
	return out
}
