package mcl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-mcl/internal/pose"
)

func TestSystematic_SizeAndWeights(t *testing.T) {
	t.Parallel()

	src := make([]Particle, 50)
	for i := range src {
		src[i] = Particle{Pose: pose.New(float64(i), 0, 0), Weight: float64(i%7 + 1)}
	}
	require.True(t, Normalize(src))

	for _, u := range []float64{0, 0.3, 0.999999} {
		dst := make([]Particle, len(src))
		Systematic(src, dst, u)

		sum := 0.0
		for _, p := range dst {
			assert.InDelta(t, 1.0/50, p.Weight, 1e-15)
			sum += p.Weight
		}
		assert.InDelta(t, 1, sum, 1e-9)
	}
}

func TestSystematic_PicksOnlyWeightedAncestors(t *testing.T) {
	t.Parallel()

	src := []Particle{
		{Pose: pose.New(0, 0, 0), Weight: 0},
		{Pose: pose.New(1, 0, 0), Weight: 0},
		{Pose: pose.New(2, 0, 0), Weight: 1},
		{Pose: pose.New(3, 0, 0), Weight: 0},
	}

	for _, u := range []float64{0, 0.5, 0.99} {
		dst := make([]Particle, len(src))
		Systematic(src, dst, u)
		for _, p := range dst {
			assert.Equal(t, 2.0, p.Pose.X)
		}
	}
}

func TestSystematic_ProportionalCopies(t *testing.T) {
	t.Parallel()

	src := []Particle{
		{Pose: pose.New(0, 0, 0), Weight: 0.5},
		{Pose: pose.New(1, 0, 0), Weight: 0.25},
		{Pose: pose.New(2, 0, 0), Weight: 0.25},
		{Pose: pose.New(3, 0, 0), Weight: 0},
	}

	dst := make([]Particle, len(src))
	Systematic(src, dst, 0.5)

	counts := map[float64]int{}
	for _, p := range dst {
		counts[p.Pose.X]++
	}
	assert.Equal(t, map[float64]int{0: 2, 1: 1, 2: 1}, counts)
}

func TestSystematic_Empty(t *testing.T) {
	t.Parallel()
	Systematic(nil, nil, 0.5)
}

func TestResampler_ShouldResample(t *testing.T) {
	t.Parallel()

	ess := NewResampler(ResampleConfig{Policy: ResampleESS, ESSThreshold: 0.5})
	assert.True(t, ess.ShouldResample(49, 100))
	assert.False(t, ess.ShouldResample(50, 100))
	assert.False(t, ess.ShouldResample(90, 100))

	always := NewResampler(ResampleConfig{Policy: ResampleAlways, ESSThreshold: 0.5})
	assert.True(t, always.ShouldResample(100, 100))
}
