package mcl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/scan"
)

func TestSensorModel_BeamLikelihood(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig().Sensor
	m := NewSensorModel(cfg)

	assert.InDelta(t, 1, m.BeamLikelihood(0), 1e-12)
	assert.Greater(t, m.BeamLikelihood(0.1), m.BeamLikelihood(0.5))
	assert.InDelta(t, cfg.OutlierWeight, m.BeamLikelihood(100), 1e-12, "outliers hit the floor, not zero")
	assert.Equal(t, m.BeamLikelihood(0.3), m.BeamLikelihood(-0.3))
}

func TestSensorModel_TruePoseScoresHigher(t *testing.T) {
	t.Parallel()

	room := testRoom(t)
	truth := pose.New(1, 0.5, 0.2)
	s := scanFrom(room, truth, 90, 10)

	cfg := DefaultConfig().Sensor
	cfg.RangeSigma = 0.05
	m := NewSensorModel(cfg)

	atTruth := m.LogLikelihood(room, truth, s)
	farOff := m.LogLikelihood(room, pose.New(5.5, -1.5, -2.0), s)
	nearby := m.LogLikelihood(room, pose.New(1.3, 0.5, 0.2), s)

	assert.Greater(t, atTruth, farOff)
	assert.Greater(t, atTruth, nearby)
	assert.Greater(t, nearby, farOff)
}

func TestSensorModel_NoReturnIsUninformative(t *testing.T) {
	t.Parallel()

	room := testRoom(t)
	s := &scan.Scan{
		Angles:   []float64{0, 1, 2},
		Ranges:   []float64{math.Inf(1), math.NaN(), 12},
		MaxRange: 10,
	}

	cfg := DefaultConfig().Sensor
	cfg.BeamStride = 1
	m := NewSensorModel(cfg)

	a := m.LogLikelihood(room, pose.New(0, 0, 0), s)
	b := m.LogLikelihood(room, pose.New(4, 2, 3), s)
	assert.Equal(t, a, b)
	assert.InDelta(t, 3*math.Log(cfg.NoReturnLikelihood), a, 1e-12)
}

func TestSensorModel_BeamStride(t *testing.T) {
	t.Parallel()

	s := &scan.Scan{
		Angles:   scan.Uniform(0, 1, 10),
		Ranges:   []float64{0, 0, 0, 0, 0, 0, 0, 0, 0, 0},
		MaxRange: 5,
	}

	cfg := DefaultConfig().Sensor
	cfg.BeamStride = 3
	m := NewSensorModel(cfg)

	// beams 0, 3, 6 and 9 are scored
	got := m.LogLikelihood(testRoom(t), pose.Zero, s)
	assert.InDelta(t, 4*math.Log(cfg.NoReturnLikelihood), got, 1e-12)
}

func TestSensorModel_ConfigMaxRangeCapsRays(t *testing.T) {
	t.Parallel()

	room := testRoom(t)
	// the right wall is 7m ahead, beyond the 3m cap
	s := &scan.Scan{Angles: []float64{0}, Ranges: []float64{7}, MaxRange: 20}

	cfg := DefaultConfig().Sensor
	cfg.MaxRange = 3
	m := NewSensorModel(cfg)

	assert.InDelta(t, math.Log(cfg.NoReturnLikelihood), m.LogLikelihood(room, pose.Zero, s), 1e-12)
}

func TestSensorModel_WeighMatchesSequential(t *testing.T) {
	t.Parallel()

	room := testRoom(t)
	s := scanFrom(room, pose.New(0, 0, 0), 60, 10)

	ps := make([]Particle, 37)
	for i := range ps {
		ps[i] = Particle{Pose: pose.New(float64(i)*0.1-1, float64(i%5)*0.2-0.5, float64(i)*0.05), Weight: 1}
	}

	cfg := DefaultConfig().Sensor
	cfg.BeamStride = 1
	cfg.Workers = 4
	m := NewSensorModel(cfg)

	parallel := Copy(ps)
	require.NoError(t, m.Weigh(room, parallel, s))

	// reference: plain likelihoods rescaled by the best one
	lls := make([]float64, len(ps))
	best := math.Inf(-1)
	for i, p := range ps {
		lls[i] = m.LogLikelihood(room, p.Pose, s)
		best = math.Max(best, lls[i])
	}
	for i := range ps {
		assert.InDelta(t, math.Exp(lls[i]-best), parallel[i].Weight, 1e-12, "particle %d", i)
		assert.Equal(t, ps[i].Pose, parallel[i].Pose)
	}
}

func TestSensorModel_WeighKeepsPrior(t *testing.T) {
	t.Parallel()

	room := testRoom(t)
	s := scanFrom(room, pose.Zero, 30, 10)

	m := NewSensorModel(DefaultConfig().Sensor)
	ps := []Particle{{Pose: pose.Zero, Weight: 0.25}, {Pose: pose.Zero, Weight: 0.75}}
	require.NoError(t, m.Weigh(room, ps, s))

	assert.InDelta(t, 3, ps[1].Weight/ps[0].Weight, 1e-9)
}

func TestSensorModel_WeighLongScanDoesNotUnderflow(t *testing.T) {
	t.Parallel()

	room := testRoom(t)
	// every beam is badly off for both particles
	s := scanFrom(room, pose.Zero, 720, 10)
	for i := range s.Ranges {
		s.Ranges[i] = 0.05
	}

	cfg := DefaultConfig().Sensor
	cfg.BeamStride = 1
	m := NewSensorModel(cfg)

	ps := []Particle{{Pose: pose.Zero, Weight: 0.5}, {Pose: pose.New(2, 0, 0), Weight: 0.5}}
	require.NoError(t, m.Weigh(room, ps, s))

	total := ps[0].Weight + ps[1].Weight
	assert.Greater(t, total, 0.0)
	for _, p := range ps {
		assert.False(t, math.IsNaN(p.Weight) || math.IsInf(p.Weight, 0))
	}
}

func TestSensorModel_WeighAllImpossible(t *testing.T) {
	t.Parallel()

	room := testRoom(t)
	s := &scan.Scan{Angles: []float64{0, 1}, Ranges: []float64{0.5, 0.5}, MaxRange: 10}

	cfg := DefaultConfig().Sensor
	cfg.BeamStride = 1
	cfg.OutlierWeight = 0
	cfg.RangeSigma = 1e-6
	m := NewSensorModel(cfg)

	ps := []Particle{{Pose: pose.Zero, Weight: 0.5}, {Pose: pose.New(1, 0, 0), Weight: 0.5}}
	require.NoError(t, m.Weigh(room, ps, s))

	for _, p := range ps {
		assert.Equal(t, 0.0, p.Weight)
	}
}
