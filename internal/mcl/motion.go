package mcl

import (
	"math"
)

// MotionModel propagates particles by an odometry increment with noise proportional
// to the size of the motion
type MotionModel struct {
	cfg MotionConfig
}

// NewMotionModel creates a motion model
func NewMotionModel(cfg MotionConfig) *MotionModel {
	return &MotionModel{cfg: cfg}
}

// Stationary reports whether the increment is below both minimum-motion thresholds
func (m *MotionModel) Stationary(rotation, translation float64) bool {
	return math.Abs(rotation) < m.cfg.MinRotation && math.Abs(translation) < m.cfg.MinTranslation
}

// Apply rotates then translates every particle in place. normal draws from N(0, 1).
// Weights are left alone.
func (m *MotionModel) Apply(particles []Particle, rotation, translation float64, normal func() float64) {
	sigmaRot := m.cfg.RotationNoise * math.Abs(rotation)
	sigmaTrans := m.cfg.TranslationNoise * math.Abs(translation)

	for i := range particles {
		phi := rotation + sigmaRot*normal()
		tr := translation + sigmaTrans*normal()
		particles[i].Pose = particles[i].Pose.Turn(phi).Move(tr)
	}
}
