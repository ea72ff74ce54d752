// register.go wires the built-in module types into sim.DefaultRegistry. The
// init() runs when any package imports sim/modules; cmd imports it for its
// side effect so that steering files can name these types.
package modules

import (
	"slices"

	"github.com/pixelsim/pixelsim/sim"
)

func init() {
	Register(sim.DefaultRegistry)
}

// Register adds the built-in module types to reg.
func Register(reg *sim.Registry) {
	reg.Register(&sim.Factory{
		Name:    DepositionRandomName,
		Unique:  true,
		Options: slices.Concat([]string{OptParticles}, chargeOptions),
		New:     newDepositionRandom,
	})
	reg.Register(&sim.Factory{
		Name:    SimpleTransferName,
		Options: []string{OptColumns, OptRows, OptThreshold},
		New:     newSimpleTransfer,
	})
	reg.Register(&sim.Factory{
		Name:    DetectorHistogrammerName,
		Options: []string{OptBins, OptMaxCharge, OptOutputDir},
		New:     newDetectorHistogrammer,
	})
}
