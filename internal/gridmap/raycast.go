package gridmap

import (
	"math"

	"github.com/teslashibe/go-mcl/internal/pose"
)

// Raycast marches from origin along origin.Heading+bearing in resolution-sized steps and
// returns the distance to the first occupied cell. It returns maxRange when nothing is hit.
func Raycast(m Map, origin pose.Pose, bearing, maxRange float64) float64 {
	if maxRange <= 0 {
		return 0
	}

	step := m.Resolution()
	if step <= 0 || step > maxRange {
		step = maxRange
	}

	angle := origin.Heading + bearing
	dx, dy := math.Cos(angle), math.Sin(angle)

	steps := int(math.Ceil(maxRange / step))
	for i := 0; i <= steps; i++ {
		d := float64(i) * step
		if d > maxRange {
			d = maxRange
		}
		if m.At(origin.X+d*dx, origin.Y+d*dy) == Occupied {
			return d
		}
	}

	return maxRange
}
