package modules

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/pixelsim/pixelsim/sim"
)

// ChargeSampler draws the charge (in electrons) of one deposit.
type ChargeSampler interface {
	// Sample returns a non-negative charge.
	Sample(rng *rand.Rand) float64
}

// GaussianSampler produces Gaussian charges clamped to [min, max].
type GaussianSampler struct {
	mean, sigma float64
	min, max    float64
}

func (s *GaussianSampler) Sample(rng *rand.Rand) float64 {
	val := rng.NormFloat64()*s.sigma + s.mean
	return math.Min(s.max, math.Max(s.min, val))
}

// ExponentialSampler produces exponentially-distributed charges.
type ExponentialSampler struct {
	mean float64
}

func (s *ExponentialSampler) Sample(rng *rand.Rand) float64 {
	return rng.ExpFloat64() * s.mean
}

// GammaSampler produces Gamma-distributed charges. A coefficient of variation
// above 1 gives the long high-charge tail of thin sensors.
type GammaSampler struct {
	shape float64 // 1/CV²
	scale float64 // mean·CV²
}

func (s *GammaSampler) Sample(rng *rand.Rand) float64 {
	return gammaRand(rng, s.shape, s.scale)
}

// gammaRand samples from Gamma(shape, scale) using Marsaglia-Tsang's method.
// For shape < 1: Gamma(shape) = Gamma(shape+1) * U^(1/shape).
func gammaRand(rng *rand.Rand, shape, scale float64) float64 {
	if shape < 1.0 {
		u := rng.Float64()
		return gammaRand(rng, shape+1.0, scale) * math.Pow(u, 1.0/shape)
	}

	d := shape - 1.0/3.0
	c := 1.0 / math.Sqrt(9.0*d)

	for {
		var x, v float64
		for {
			x = rng.NormFloat64()
			v = 1.0 + c*x
			if v > 0 {
				break
			}
		}
		v = v * v * v
		u := rng.Float64()

		// Squeeze test
		if u < 1.0-0.0331*(x*x)*(x*x) {
			return d * v * scale
		}
		if math.Log(u) < 0.5*x*x+d*(1.0-v+math.Log(v)) {
			return d * v * scale
		}
	}
}

// ConstantSampler always returns the same charge. It draws nothing from the
// RNG, so downstream draws are unaffected by switching to it.
type ConstantSampler struct {
	value float64
}

func (s *ConstantSampler) Sample(_ *rand.Rand) float64 {
	return s.value
}

// Charge model option keys.
const (
	OptChargeModel = "charge_model"
	OptChargeMean  = "charge_mean"
	OptChargeSigma = "charge_sigma"
	OptChargeCV    = "charge_cv"
	OptChargeMax   = "charge_max"
)

// chargeOptions are the keys NewChargeSampler reads.
var chargeOptions = []string{OptChargeModel, OptChargeMean, OptChargeSigma, OptChargeCV, OptChargeMax}

// Defaults approximate a minimum ionizing particle crossing 100 µm of silicon.
const (
	defaultChargeModel = "gaussian"
	defaultChargeMean  = 8000.0
	defaultChargeSigma = 1000.0
)

// NewChargeSampler creates a ChargeSampler from a module configuration.
func NewChargeSampler(cfg *sim.Configuration) (ChargeSampler, error) {
	model := cfg.String(OptChargeModel, defaultChargeModel)
	mean, err := cfg.Float(OptChargeMean, defaultChargeMean)
	if err != nil {
		return nil, err
	}
	if mean <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %g", OptChargeMean, mean)
	}

	switch model {
	case "gaussian":
		sigma, err := cfg.Float(OptChargeSigma, defaultChargeSigma)
		if err != nil {
			return nil, err
		}
		if sigma < 0 {
			return nil, fmt.Errorf("%s must be non-negative, got %g", OptChargeSigma, sigma)
		}
		upper, err := cfg.Float(OptChargeMax, math.Inf(1))
		if err != nil {
			return nil, err
		}
		return &GaussianSampler{mean: mean, sigma: sigma, min: 0, max: upper}, nil

	case "exponential":
		return &ExponentialSampler{mean: mean}, nil

	case "gamma":
		cv, err := cfg.Float(OptChargeCV, 1.0)
		if err != nil {
			return nil, err
		}
		if cv <= 0 {
			cv = 1.0
		}
		shape := 1.0 / (cv * cv)
		if shape < 0.01 {
			logrus.Warnf("Gamma shape %.4f (CV=%.1f) is very small; falling back to exponential", shape, cv)
			return &ExponentialSampler{mean: mean}, nil
		}
		return &GammaSampler{shape: shape, scale: mean * cv * cv}, nil

	case "constant":
		return &ConstantSampler{value: mean}, nil

	default:
		return nil, fmt.Errorf("unknown %s %q (valid: gaussian, exponential, gamma, constant)", OptChargeModel, model)
	}
}
