package modules

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pixelsim/pixelsim/sim"
)

var twoPlanes = sim.DetectorList{
	{Name: "plane0", Type: "timepix"},
	{Name: "plane1", Type: "timepix"},
}

func newRegistry(extra ...*sim.Factory) *sim.Registry {
	reg := sim.NewRegistry()
	Register(reg)
	for _, f := range extra {
		reg.Register(f)
	}
	return reg
}

func newManager(reg *sim.Registry, seed int64) *sim.ModuleManager {
	return sim.NewModuleManager(sim.ManagerConfig{
		Resolver: sim.StaticResolver{Registry: reg},
		Output:   io.Discard,
		Seed:     seed,
	})
}

// runPipeline drives a full lifecycle and returns the finalized manager.
func runPipeline(t *testing.T, reg *sim.Registry, sections []*sim.Configuration, events uint64, workers int) (*sim.ModuleManager, *sim.RunReport) {
	t.Helper()
	m := newManager(reg, 2024)
	require.NoError(t, m.Load(sections, sim.Environment{Geometry: twoPlanes}))
	require.NoError(t, m.Initialize())
	report, err := m.Run(context.Background(), events, workers)
	require.NoError(t, err)
	require.NoError(t, m.Finalize())
	require.NoError(t, report.Err())
	return m, report
}

func standardSections(kv ...map[string]string) []*sim.Configuration {
	hist := map[string]string{OptBins: "20", OptMaxCharge: "40000"}
	if len(kv) > 0 {
		for k, v := range kv[0] {
			hist[k] = v
		}
	}
	return []*sim.Configuration{
		sim.NewConfigurationFrom(DepositionRandomName, map[string]string{OptParticles: "4"}),
		sim.NewConfigurationFrom(SimpleTransferName, map[string]string{OptColumns: "16", OptRows: "16"}),
		sim.NewConfigurationFrom(DetectorHistogrammerName, hist),
	}
}

func histogrammer(t *testing.T, m *sim.ModuleManager, det string) *DetectorHistogrammer {
	t.Helper()
	mod, ok := m.Module(sim.ModuleIdentifier{TypeName: DetectorHistogrammerName, TargetName: det})
	require.True(t, ok)
	h, ok := mod.(*DetectorHistogrammer)
	require.True(t, ok)
	return h
}

func TestPipeline_ResultsIndependentOfWorkerCount(t *testing.T) {
	// GIVEN the deposition -> transfer -> histogram chain
	// WHEN it runs with one worker and with four
	serial, _ := runPipeline(t, newRegistry(), standardSections(), 200, 1)
	parallel, report := runPipeline(t, newRegistry(), standardSections(), 200, 4)

	// THEN every detector summary is identical
	assert.Equal(t, uint64(200), report.Processed)
	for _, det := range []string{"plane0", "plane1"} {
		want := histogrammer(t, serial, det).Summary()
		got := histogrammer(t, parallel, det).Summary()
		require.NotNil(t, want)
		assert.Equal(t, want, got, det)
		assert.Equal(t, 200, got.Events)
		assert.Greater(t, got.Hits, 0)
	}
}

func TestDepositionRandom_MergesWorkerTotals(t *testing.T) {
	m, _ := runPipeline(t, newRegistry(), standardSections(), 50, 3)

	mod, ok := m.Module(sim.ModuleIdentifier{TypeName: DepositionRandomName})
	require.True(t, ok)
	totals := mod.(*DepositionRandom).Totals()

	assert.Equal(t, uint64(50), totals.Events)
	assert.Equal(t, uint64(50*4*2), totals.Deposits, "four particles in each of two planes per event")
	assert.Greater(t, totals.Charge, 0.0)
}

// injector publishes fixed deposits for plane0 on every event.
type injector struct {
	sim.BaseModule
	deposits []Deposit
}

func (i *injector) Run(ev *sim.Event) error {
	sim.Dispatch(ev.Bus(), "plane0", DepositedCharge{Detector: "plane0", Deposits: i.deposits})
	return nil
}

// catcher records every PixelCharge published for its detector.
type catcher struct {
	sim.BaseModule
	detector string
	mu       sync.Mutex
	got      []PixelCharge
}

func (c *catcher) Run(ev *sim.Event) error {
	if pc, ok := sim.Fetch[PixelCharge](ev.Bus(), c.detector); ok {
		c.mu.Lock()
		c.got = append(c.got, pc)
		c.mu.Unlock()
	}
	return nil
}

func TestSimpleTransfer_CollectsIntoPixels(t *testing.T) {
	inj := &injector{deposits: []Deposit{
		{X: 0.15, Y: 0.15, Charge: 100},
		{X: 0.19, Y: 0.11, Charge: 50}, // same pixel as above
		{X: 0.05, Y: 0.95, Charge: 300},
		{X: 0.95, Y: 0.55, Charge: 10}, // below threshold
	}}
	catchers := map[string]*catcher{}
	reg := newRegistry(
		&sim.Factory{Name: "Injector", Unique: true, New: func(sim.Setup) (sim.Module, error) { return inj, nil }},
		&sim.Factory{Name: "Catcher", New: func(s sim.Setup) (sim.Module, error) {
			c := &catcher{detector: s.Detector.Name}
			catchers[s.Detector.Name] = c
			return c, nil
		}},
	)

	runPipeline(t, reg, []*sim.Configuration{
		sim.NewConfiguration("Injector"),
		sim.NewConfigurationFrom(SimpleTransferName, map[string]string{OptColumns: "10", OptRows: "10", OptThreshold: "20"}),
		sim.NewConfiguration("Catcher"),
	}, 1, 1)

	require.Len(t, catchers["plane0"].got, 1)
	pc := catchers["plane0"].got[0]
	assert.Equal(t, []Pixel{
		{Col: 0, Row: 9, Charge: 300},
		{Col: 1, Row: 1, Charge: 150},
	}, pc.Pixels)
	assert.Equal(t, 450.0, pc.TotalCharge())
	assert.Empty(t, catchers["plane1"].got, "no deposits means no pixel message")
}

func TestSimpleTransfer_RejectsDepositOutsideSensor(t *testing.T) {
	inj := &injector{deposits: []Deposit{{X: 1.5, Y: 0.5, Charge: 1}}}
	reg := newRegistry(&sim.Factory{Name: "Injector", Unique: true, New: func(sim.Setup) (sim.Module, error) { return inj, nil }})
	m := newManager(reg, 1)
	require.NoError(t, m.Load([]*sim.Configuration{
		sim.NewConfiguration("Injector"),
		sim.NewConfigurationFrom(SimpleTransferName, map[string]string{sim.KeyName: "plane0"}),
	}, sim.Environment{Geometry: twoPlanes}))
	require.NoError(t, m.Initialize())

	report, err := m.Run(context.Background(), 3, 1)
	require.NoError(t, err)

	assert.Len(t, report.EventErrors, 3)
	assert.Equal(t, sim.StatusDegraded, report.Status())
}

func TestDetectorHistogrammer_WritesSummary(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "histograms")
	m, _ := runPipeline(t, newRegistry(), standardSections(map[string]string{OptOutputDir: dir}), 20, 2)

	data, err := os.ReadFile(filepath.Join(dir, "plane1.json"))
	require.NoError(t, err)
	var got HistogramSummary
	require.NoError(t, json.Unmarshal(data, &got))

	want := histogrammer(t, m, "plane1").Summary()
	assert.Equal(t, want.Events, got.Events)
	assert.Equal(t, want.Counts, got.Counts)
	assert.Len(t, got.BinEdges, 21)
	total := 0.0
	for _, c := range got.Counts {
		total += c
	}
	assert.Equal(t, float64(got.Hits), total, "every hit lands in a bin")
}

func TestDetectorHistogrammer_NoHits(t *testing.T) {
	m, _ := runPipeline(t, newRegistry(), []*sim.Configuration{
		sim.NewConfigurationFrom(DetectorHistogrammerName, map[string]string{sim.KeyName: "plane0"}),
	}, 5, 2)

	s := histogrammer(t, m, "plane0").Summary()
	assert.Equal(t, 5, s.Events)
	assert.Equal(t, 0, s.Hits)
	assert.Zero(t, s.MeanCharge)
}

func TestFactories_RejectBadOptions(t *testing.T) {
	tests := []struct {
		name    string
		section *sim.Configuration
	}{
		{"negative particles", sim.NewConfigurationFrom(DepositionRandomName, map[string]string{OptParticles: "-1"})},
		{"unknown charge model", sim.NewConfigurationFrom(DepositionRandomName, map[string]string{OptChargeModel: "landau"})},
		{"empty matrix", sim.NewConfigurationFrom(SimpleTransferName, map[string]string{OptColumns: "0"})},
		{"zero bins", sim.NewConfigurationFrom(DetectorHistogrammerName, map[string]string{OptBins: "0"})},
		{"negative range", sim.NewConfigurationFrom(DetectorHistogrammerName, map[string]string{OptMaxCharge: "-5"})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newManager(newRegistry(), 1)
			err := m.Load([]*sim.Configuration{tt.section}, sim.Environment{Geometry: twoPlanes})

			var me *sim.ModuleError
			require.ErrorAs(t, err, &me)
			assert.Equal(t, sim.PhaseConstruct, me.Phase)
			assert.Empty(t, m.Identifiers())
		})
	}
}

func TestRegister_DefaultRegistryHasBuiltins(t *testing.T) {
	for _, name := range []string{DepositionRandomName, SimpleTransferName, DetectorHistogrammerName} {
		_, ok := sim.DefaultRegistry.Lookup(name)
		assert.True(t, ok, name)
	}
}
