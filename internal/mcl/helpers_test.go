package mcl

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-mcl/internal/gridmap"
	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/scan"
)

// testRoom is a 10m x 6m walled room spanning x in [-3, 7], y in [-3, 3], with a pillar
// near the right wall so the room is not symmetric.
func testRoom(t *testing.T) *gridmap.Grid {
	t.Helper()

	g, err := gridmap.NewGrid(120, 80, 0.1, -4, -4, gridmap.Free)
	require.NoError(t, err)

	g.FillRect(-3.1, -3.1, 7.1, -2.95, gridmap.Occupied)
	g.FillRect(-3.1, 2.95, 7.1, 3.1, gridmap.Occupied)
	g.FillRect(-3.1, -3.1, -2.95, 3.1, gridmap.Occupied)
	g.FillRect(6.95, -3.1, 7.1, 3.1, gridmap.Occupied)
	g.FillRect(4.5, 1.0, 5.0, 1.5, gridmap.Occupied)
	return g
}

// scanFrom synthesizes a noise-free scan as seen from p
func scanFrom(m gridmap.Map, p pose.Pose, beams int, maxRange float64) *scan.Scan {
	angles := scan.Uniform(-math.Pi, math.Pi*(1-2/float64(beams)), beams)
	ranges := make([]float64, len(angles))
	for i, a := range angles {
		ranges[i] = gridmap.Raycast(m, p, a, maxRange)
	}
	return &scan.Scan{Angles: angles, Ranges: ranges, MaxRange: maxRange}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Seed = 42
	cfg.Sensor.BeamStride = 1
	return cfg
}

func newTestEngine(t *testing.T, cfg Config) *Engine {
	t.Helper()
	e, err := NewEngine(cfg, nil)
	require.NoError(t, err)
	return e
}
