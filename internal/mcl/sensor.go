package mcl

import (
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-mcl/internal/gridmap"
	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/scan"
)

// SensorModel scores pose hypotheses by casting the scan's beams into the map
type SensorModel struct {
	cfg     SensorConfig
	workers int

	logNoReturn float64
}

// NewSensorModel creates a beam sensor model
func NewSensorModel(cfg SensorConfig) *SensorModel {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	return &SensorModel{
		cfg:         cfg,
		workers:     workers,
		logNoReturn: math.Log(cfg.NoReturnLikelihood),
	}
}

// maxRange returns the ray casting limit for s
func (m *SensorModel) maxRange(s *scan.Scan) float64 {
	if m.cfg.MaxRange > 0 && m.cfg.MaxRange < s.MaxRange {
		return m.cfg.MaxRange
	}
	return s.MaxRange
}

// BeamLikelihood scores the gap between a predicted and an observed range.
// The outlier weight keeps a single wild beam from zeroing the product.
func (m *SensorModel) BeamLikelihood(residual float64) float64 {
	z := residual / m.cfg.RangeSigma
	return (1-m.cfg.OutlierWeight)*math.Exp(-0.5*z*z) + m.cfg.OutlierWeight
}

// LogLikelihood returns log p(scan | p, map) summed over the subsampled beams
func (m *SensorModel) LogLikelihood(grid gridmap.Map, p pose.Pose, s *scan.Scan) float64 {
	limit := m.maxRange(s)

	ll := 0.0
	for i := 0; i < s.Len(); i += m.cfg.BeamStride {
		observed := s.Ranges[i]
		if s.NoReturn(i) || observed >= limit {
			ll += m.logNoReturn
			continue
		}

		predicted := gridmap.Raycast(grid, p, s.Angles[i], limit)
		ll += math.Log(m.BeamLikelihood(predicted - observed))
	}
	return ll
}

// Weigh multiplies every particle's weight by its scan likelihood. Particles are scored
// concurrently; Weigh returns once all of them are done. The result is not normalized.
func (m *SensorModel) Weigh(grid gridmap.Map, particles []Particle, s *scan.Scan) error {
	n := len(particles)
	if n == 0 {
		return nil
	}

	logs := make([]float64, n)
	chunk := (n + m.workers - 1) / m.workers

	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				logs[i] = math.Log(particles[i].Weight) + m.LogLikelihood(grid, particles[i].Pose, s)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	// rescale by the best hypothesis so long beam products cannot underflow
	best := math.Inf(-1)
	for _, l := range logs {
		if l > best {
			best = l
		}
	}

	for i := range particles {
		if math.IsInf(best, -1) || math.IsNaN(best) || math.IsNaN(logs[i]) {
			particles[i].Weight = 0
			continue
		}
		particles[i].Weight = math.Exp(logs[i] - best)
	}
	return nil
}
