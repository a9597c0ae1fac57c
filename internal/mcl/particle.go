// Package mcl implements Monte-Carlo localization against an occupancy grid map
package mcl

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/teslashibe/go-mcl/internal/pose"
)

// Particle is one weighted pose hypothesis
type Particle struct {
	Pose   pose.Pose `json:"pose"`
	Weight float64   `json:"weight"`
}

// Copy returns an independent copy of a particle set
func Copy(particles []Particle) []Particle {
	if particles == nil {
		return nil
	}
	out := make([]Particle, len(particles))
	copy(out, particles)
	return out
}

// Weights extracts the weights into dst, growing it as needed
func Weights(particles []Particle, dst []float64) []float64 {
	dst = dst[:0]
	for _, p := range particles {
		dst = append(dst, p.Weight)
	}
	return dst
}

// Normalize scales the weights to sum to one. It returns false without touching the set
// when the total weight is zero or not finite.
func Normalize(particles []Particle) bool {
	total := 0.0
	for _, p := range particles {
		total += p.Weight
	}
	if !(total > 0) || math.IsInf(total, 0) {
		return false
	}
	for i := range particles {
		particles[i].Weight /= total
	}
	return true
}

// Uniform resets every weight to 1/N
func Uniform(particles []Particle) {
	if len(particles) == 0 {
		return
	}
	w := 1 / float64(len(particles))
	for i := range particles {
		particles[i].Weight = w
	}
}

// EffectiveSampleSize returns 1/Σw² over the normalized weights
func EffectiveSampleSize(particles []Particle) float64 {
	w := Weights(particles, nil)
	total := floats.Sum(w)
	if !(total > 0) {
		return 0
	}
	floats.Scale(1/total, w)
	return 1 / floats.Dot(w, w)
}

// WeightedMean returns the weighted average pose. Heading is the circular mean of the
// particle headings, so hypotheses on both sides of ±π average to ±π rather than zero.
// Weights are normalized on a copy; the set itself is not modified.
func WeightedMean(particles []Particle) pose.Pose {
	n := len(particles)
	if n == 0 {
		return pose.Zero
	}

	xs := make([]float64, n)
	ys := make([]float64, n)
	hs := make([]float64, n)
	ws := Weights(particles, make([]float64, 0, n))
	for i, p := range particles {
		xs[i] = p.Pose.X
		ys[i] = p.Pose.Y
		hs[i] = p.Pose.Heading
	}

	total := floats.Sum(ws)
	if !(total > 0) || math.IsInf(total, 0) {
		for i := range ws {
			ws[i] = 1
		}
		total = float64(n)
	}
	floats.Scale(1/total, ws)

	return pose.New(
		stat.Mean(xs, ws),
		stat.Mean(ys, ws),
		stat.CircularMean(hs, ws),
	)
}
