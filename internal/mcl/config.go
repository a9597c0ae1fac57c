package mcl

import (
	"fmt"
	"math"
)

// ResamplePolicy selects when the particle set is resampled
type ResamplePolicy string

const (
	// ResampleAlways resamples after every weighted cycle
	ResampleAlways ResamplePolicy = "always"
	// ResampleESS resamples when the effective sample size drops below ESSThreshold*N
	ResampleESS ResamplePolicy = "ess"
)

// Config configures the localization engine
type Config struct {
	Particles int
	Seed      uint64 // 0 seeds from the clock

	InitialSigma InitialSigma
	Motion       MotionConfig
	Sensor       SensorConfig
	Resample     ResampleConfig
}

// InitialSigma is the standard deviation used to scatter particles around the initial pose
type InitialSigma struct {
	X       float64
	Y       float64
	Heading float64
}

// MotionConfig configures the odometry motion model
type MotionConfig struct {
	TranslationNoise float64 // stddev as a fraction of |translation|
	RotationNoise    float64 // stddev as a fraction of |rotation|
	MinTranslation   float64 // meters
	MinRotation      float64 // radians
}

// SensorConfig configures the beam sensor model
type SensorConfig struct {
	BeamStride         int     // score every n-th beam
	RangeSigma         float64 // meters
	OutlierWeight      float64 // likelihood floor mixed into every beam, in [0, 1)
	NoReturnLikelihood float64 // fixed likelihood for no-return beams
	MaxRange           float64 // caps ray casting; 0 uses the scan's max range
	Workers            int     // 0 uses GOMAXPROCS
}

// ResampleConfig configures the resampling trigger
type ResampleConfig struct {
	Policy       ResamplePolicy
	ESSThreshold float64 // fraction of N
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Particles: 100,
		InitialSigma: InitialSigma{
			X:       0.01,
			Y:       0.01,
			Heading: 0.01,
		},
		Motion: MotionConfig{
			TranslationNoise: 0.05,
			RotationNoise:    0.05,
			MinTranslation:   0.005,
			MinRotation:      0.005,
		},
		Sensor: SensorConfig{
			BeamStride:         5,
			RangeSigma:         0.2,
			OutlierWeight:      0.05,
			NoReturnLikelihood: 0.5,
		},
		Resample: ResampleConfig{
			Policy:       ResampleESS,
			ESSThreshold: 0.5,
		},
	}
}

// Validate validates the configuration
func (c Config) Validate() error {
	if c.Particles < 1 {
		return fmt.Errorf("%w: got %d", ErrInvalidParticleCount, c.Particles)
	}

	for name, v := range map[string]float64{
		"initial sigma x":       c.InitialSigma.X,
		"initial sigma y":       c.InitialSigma.Y,
		"initial sigma heading": c.InitialSigma.Heading,
		"translation noise":     c.Motion.TranslationNoise,
		"rotation noise":        c.Motion.RotationNoise,
		"min translation":       c.Motion.MinTranslation,
		"min rotation":          c.Motion.MinRotation,
		"max range":             c.Sensor.MaxRange,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s must be a non-negative number, got %f", ErrInvalidConfig, name, v)
		}
	}

	if c.Sensor.BeamStride < 1 {
		return fmt.Errorf("%w: beam stride must be at least 1, got %d", ErrInvalidConfig, c.Sensor.BeamStride)
	}
	if !(c.Sensor.RangeSigma > 0) {
		return fmt.Errorf("%w: range sigma must be positive, got %f", ErrInvalidConfig, c.Sensor.RangeSigma)
	}
	if c.Sensor.OutlierWeight < 0 || c.Sensor.OutlierWeight >= 1 {
		return fmt.Errorf("%w: outlier weight must be in [0, 1), got %f", ErrInvalidConfig, c.Sensor.OutlierWeight)
	}
	if !(c.Sensor.NoReturnLikelihood > 0) || c.Sensor.NoReturnLikelihood > 1 {
		return fmt.Errorf("%w: no-return likelihood must be in (0, 1], got %f", ErrInvalidConfig, c.Sensor.NoReturnLikelihood)
	}
	if c.Sensor.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidConfig, c.Sensor.Workers)
	}

	switch c.Resample.Policy {
	case ResampleAlways, ResampleESS:
	default:
		return fmt.Errorf("%w: unknown resample policy %q", ErrInvalidConfig, c.Resample.Policy)
	}
	if !(c.Resample.ESSThreshold > 0) || c.Resample.ESSThreshold > 1 {
		return fmt.Errorf("%w: ess threshold must be in (0, 1], got %f", ErrInvalidConfig, c.Resample.ESSThreshold)
	}

	return nil
}
