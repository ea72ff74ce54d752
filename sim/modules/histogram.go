package modules

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/pixelsim/pixelsim/sim"
)

// DetectorHistogrammerName is the registered type name of the histogramming module.
const DetectorHistogrammerName = "DetectorHistogrammer"

// Histogrammer option keys.
const (
	OptBins      = "bins"
	OptMaxCharge = "max_charge"
	OptOutputDir = "output_dir"
)

// HistogramSummary is the per-detector result of a DetectorHistogrammer.
type HistogramSummary struct {
	Detector     string    `json:"detector"`
	Events       int       `json:"events"`
	Hits         int       `json:"hits"`
	MeanHits     float64   `json:"mean_hits_per_event"`
	MeanCharge   float64   `json:"mean_pixel_charge"`
	StdCharge    float64   `json:"std_pixel_charge"`
	MedianCharge float64   `json:"median_pixel_charge"`
	BinEdges     []float64 `json:"bin_edges"`
	Counts       []float64 `json:"counts"` // last bin also holds overflow
}

// DetectorHistogrammer accumulates pixel statistics of one detector. Workers
// fill private samples; FinalizeThread merges them under the module's mutex
// and Finalize turns the merged samples into a summary.
type DetectorHistogrammer struct {
	sim.BaseModule

	detector  string
	bins      int
	maxCharge float64
	outputDir string

	mu      sync.Mutex
	hits    []float64 // pixels per event
	charges []float64 // charge per pixel
	summary *HistogramSummary
}

// histogramSamples is the per-worker state of DetectorHistogrammer.
type histogramSamples struct {
	hits    []float64
	charges []float64
}

func newDetectorHistogrammer(s sim.Setup) (sim.Module, error) {
	bins, err := s.Config.Int(OptBins, 100)
	if err != nil {
		return nil, err
	}
	if bins <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", OptBins, bins)
	}
	maxCharge, err := s.Config.Float(OptMaxCharge, 50000)
	if err != nil {
		return nil, err
	}
	if maxCharge <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %g", OptMaxCharge, maxCharge)
	}
	return &DetectorHistogrammer{
		detector:  s.Detector.Name,
		bins:      bins,
		maxCharge: maxCharge,
		outputDir: s.Config.String(OptOutputDir, ""),
	}, nil
}

func (h *DetectorHistogrammer) Initialize(ctx *sim.Context) error {
	if h.outputDir == "" {
		return nil
	}
	if err := os.MkdirAll(h.outputDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}
	ctx.Log.Debugf("Writing histogram to %s", h.outputPath())
	return nil
}

func (h *DetectorHistogrammer) InitializeThread(tc *sim.ThreadContext) error {
	tc.SetLocal(&histogramSamples{})
	return nil
}

func (h *DetectorHistogrammer) Run(ev *sim.Event) error {
	local := ev.Local().(*histogramSamples)
	pc, ok := sim.Fetch[PixelCharge](ev.Bus(), h.detector)
	if !ok {
		local.hits = append(local.hits, 0)
		return nil
	}
	local.hits = append(local.hits, float64(len(pc.Pixels)))
	for _, px := range pc.Pixels {
		local.charges = append(local.charges, px.Charge)
	}
	return nil
}

func (h *DetectorHistogrammer) FinalizeThread(tc *sim.ThreadContext) error {
	local, ok := tc.Local().(*histogramSamples)
	if !ok {
		return nil
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.hits = append(h.hits, local.hits...)
	h.charges = append(h.charges, local.charges...)
	return nil
}

func (h *DetectorHistogrammer) Finalize(ctx *sim.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.summarize()
	h.summary = s
	ctx.Log.Infof("%d events, %d hits, mean pixel charge %.0f e (median %.0f e)",
		s.Events, s.Hits, s.MeanCharge, s.MedianCharge)

	if h.outputDir == "" {
		return nil
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling histogram: %w", err)
	}
	if err := os.WriteFile(h.outputPath(), data, 0o644); err != nil {
		return fmt.Errorf("writing histogram: %w", err)
	}
	return nil
}

// summarize is called with h.mu held. Samples are sorted first so the result
// does not depend on the order in which workers were merged.
func (h *DetectorHistogrammer) summarize() *HistogramSummary {
	slices.Sort(h.hits)
	slices.Sort(h.charges)

	edges := floats.Span(make([]float64, h.bins+1), 0, h.maxCharge)
	s := &HistogramSummary{
		Detector: h.detector,
		Events:   len(h.hits),
		Hits:     len(h.charges),
		BinEdges: slices.Clone(edges),
		Counts:   make([]float64, h.bins),
	}
	if len(h.hits) > 0 {
		s.MeanHits = stat.Mean(h.hits, nil)
	}
	if len(h.charges) == 0 {
		return s
	}
	s.MeanCharge, s.StdCharge = stat.MeanStdDev(h.charges, nil)
	if len(h.charges) == 1 {
		s.StdCharge = 0
	}
	s.MedianCharge = stat.Quantile(0.5, stat.Empirical, h.charges, nil)

	// Overflow goes into the last bin.
	edges[h.bins] = math.Inf(1)
	stat.Histogram(s.Counts, edges, h.charges, nil)
	return s
}

func (h *DetectorHistogrammer) outputPath() string {
	return filepath.Join(h.outputDir, h.detector+".json")
}

// Summary returns the result computed by Finalize, or nil before that.
func (h *DetectorHistogrammer) Summary() *HistogramSummary {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.summary
}
