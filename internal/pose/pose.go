// Package pose provides the planar robot pose used throughout go-mcl
package pose

import (
	"math"
)

// Pose is an immutable planar pose. Heading is in radians, wrapped to (-π, π].
type Pose struct {
	X       float64 `json:"x"`
	Y       float64 `json:"y"`
	Heading float64 `json:"heading"`
}

// Zero is the pose at the world origin facing +x
var Zero = Pose{}

// New creates a pose with a wrapped heading
func New(x, y, heading float64) Pose {
	return Pose{X: x, Y: y, Heading: NormalizeAngle(heading)}
}

// Turn returns the pose rotated in place by delta radians
func (p Pose) Turn(delta float64) Pose {
	return New(p.X, p.Y, p.Heading+delta)
}

// Move returns the pose advanced by distance along its current heading.
// Negative distances move backwards.
func (p Pose) Move(distance float64) Pose {
	return Pose{
		X:       p.X + distance*math.Cos(p.Heading),
		Y:       p.Y + distance*math.Sin(p.Heading),
		Heading: p.Heading,
	}
}

// DifferenceTo returns other expressed in the frame of p
func (p Pose) DifferenceTo(other Pose) Pose {
	dx := other.X - p.X
	dy := other.Y - p.Y
	cos, sin := math.Cos(p.Heading), math.Sin(p.Heading)
	return New(
		cos*dx+sin*dy,
		-sin*dx+cos*dy,
		other.Heading-p.Heading,
	)
}

// DistanceToOrigin returns the euclidean norm of the position
func (p Pose) DistanceToOrigin() float64 {
	return math.Hypot(p.X, p.Y)
}

// Motion returns the relative rotation and signed translation that take prev to cur.
// The translation is negative when the displacement points behind prev's heading.
func Motion(prev, cur Pose) (rotation, translation float64) {
	d := prev.DifferenceTo(cur)
	rotation = d.Heading

	switch {
	case d.X > 0:
		translation = d.DistanceToOrigin()
	case d.X < 0:
		translation = -d.DistanceToOrigin()
	}
	return rotation, translation
}

// NormalizeAngle wraps an angle to (-π, π]
func NormalizeAngle(angle float64) float64 {
	if math.IsNaN(angle) || math.IsInf(angle, 0) {
		return angle
	}
	angle = math.Remainder(angle, 2*math.Pi)
	if angle <= -math.Pi {
		angle += 2 * math.Pi
	}
	return angle
}

// Degrees converts radians to degrees
func Degrees(rad float64) float64 {
	return rad * 180 / math.Pi
}

// Radians converts degrees to radians
func Radians(deg float64) float64 {
	return deg * math.Pi / 180
}
