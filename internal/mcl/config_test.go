package mcl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, 100, cfg.Particles)
	assert.Equal(t, 0.01, cfg.InitialSigma.X)
	assert.Equal(t, 0.05, cfg.Motion.TranslationNoise)
	assert.Equal(t, 0.005, cfg.Motion.MinRotation)
	assert.Equal(t, ResampleESS, cfg.Resample.Policy)
	assert.Equal(t, 0.5, cfg.Resample.ESSThreshold)
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		modify func(*Config)
		target error
	}{
		{"zero particles", func(c *Config) { c.Particles = 0 }, ErrInvalidParticleCount},
		{"negative particles", func(c *Config) { c.Particles = -3 }, ErrInvalidParticleCount},
		{"negative sigma", func(c *Config) { c.InitialSigma.Y = -1 }, ErrInvalidConfig},
		{"nan noise", func(c *Config) { c.Motion.RotationNoise = math.NaN() }, ErrInvalidConfig},
		{"zero stride", func(c *Config) { c.Sensor.BeamStride = 0 }, ErrInvalidConfig},
		{"zero range sigma", func(c *Config) { c.Sensor.RangeSigma = 0 }, ErrInvalidConfig},
		{"outlier weight one", func(c *Config) { c.Sensor.OutlierWeight = 1 }, ErrInvalidConfig},
		{"zero no-return likelihood", func(c *Config) { c.Sensor.NoReturnLikelihood = 0 }, ErrInvalidConfig},
		{"negative workers", func(c *Config) { c.Sensor.Workers = -1 }, ErrInvalidConfig},
		{"unknown policy", func(c *Config) { c.Resample.Policy = "sometimes" }, ErrInvalidConfig},
		{"zero ess threshold", func(c *Config) { c.Resample.ESSThreshold = 0 }, ErrInvalidConfig},
		{"ess threshold above one", func(c *Config) { c.Resample.ESSThreshold = 1.5 }, ErrInvalidConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.modify(&cfg)

			err := cfg.Validate()
			assert.ErrorIs(t, err, tt.target)
			assert.ErrorIs(t, err, ErrPrecondition)
		})
	}
}
