package modules

import (
	"cmp"
	"fmt"
	"math"
	"slices"

	"github.com/pixelsim/pixelsim/sim"
)

// SimpleTransferName is the registered type name of the charge transfer module.
const SimpleTransferName = "SimpleTransfer"

// Transfer option keys.
const (
	OptColumns   = "columns"
	OptRows      = "rows"
	OptThreshold = "threshold"
)

// SimpleTransfer collects the deposits of its detector into pixels of a
// regular matrix and drops pixels below threshold. It keeps no state between
// events and needs no per-worker resources.
type SimpleTransfer struct {
	sim.BaseModule

	detector  string
	columns   int
	rows      int
	threshold float64
}

func newSimpleTransfer(s sim.Setup) (sim.Module, error) {
	columns, err := s.Config.Int(OptColumns, 256)
	if err != nil {
		return nil, err
	}
	rows, err := s.Config.Int(OptRows, 256)
	if err != nil {
		return nil, err
	}
	if columns <= 0 || rows <= 0 {
		return nil, fmt.Errorf("pixel matrix must be positive, got %dx%d", columns, rows)
	}
	threshold, err := s.Config.Float(OptThreshold, 0)
	if err != nil {
		return nil, err
	}
	return &SimpleTransfer{detector: s.Detector.Name, columns: columns, rows: rows, threshold: threshold}, nil
}

func (t *SimpleTransfer) Initialize(ctx *sim.Context) error {
	ctx.Log.Debugf("Pixel matrix %dx%d, threshold %.0f e", t.columns, t.rows, t.threshold)
	return nil
}

func (t *SimpleTransfer) Run(ev *sim.Event) error {
	dep, ok := sim.Fetch[DepositedCharge](ev.Bus(), t.detector)
	if !ok {
		ev.Log().Debug("No deposited charge")
		return nil
	}

	type cell struct{ col, row int }
	collected := make(map[cell]float64)
	for _, d := range dep.Deposits {
		if d.X < 0 || d.X >= 1 || d.Y < 0 || d.Y >= 1 {
			return fmt.Errorf("deposit at (%g, %g) outside the sensor", d.X, d.Y)
		}
		c := cell{col: int(math.Floor(d.X * float64(t.columns))), row: int(math.Floor(d.Y * float64(t.rows)))}
		collected[c] += d.Charge
	}

	pixels := make([]Pixel, 0, len(collected))
	for c, q := range collected {
		if q < t.threshold {
			continue
		}
		pixels = append(pixels, Pixel{Col: c.col, Row: c.row, Charge: q})
	}
	slices.SortFunc(pixels, func(a, b Pixel) int {
		if a.Col != b.Col {
			return cmp.Compare(a.Col, b.Col)
		}
		return cmp.Compare(a.Row, b.Row)
	})

	sim.Dispatch(ev.Bus(), t.detector, PixelCharge{Detector: t.detector, Pixels: pixels})
	ev.Log().Tracef("Transferred %d deposits into %d pixels", len(dep.Deposits), len(pixels))
	return nil
}
