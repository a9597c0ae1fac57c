// Package gridmap provides the occupancy grid map the localizer scores scans against
package gridmap

import (
	"fmt"
	"math"
)

// Cell is the occupancy state of a single grid cell
type Cell uint8

const (
	Unknown Cell = iota
	Free
	Occupied
)

func (c Cell) String() string {
	switch c {
	case Free:
		return "free"
	case Occupied:
		return "occupied"
	default:
		return "unknown"
	}
}

// Map is a read-only occupancy map queried in world coordinates (meters).
// Implementations must be safe for concurrent readers.
type Map interface {
	// At returns the state of the cell containing (x, y). Points outside the map are Unknown.
	At(x, y float64) Cell

	// Resolution returns the edge length of one cell in meters
	Resolution() float64
}

// Grid is a row-major occupancy grid. Row 0 is the bottom row, so world y grows with row.
type Grid struct {
	width      int
	height     int
	resolution float64
	originX    float64 // world x of the lower-left corner of cell (0, 0)
	originY    float64 // world y of the lower-left corner of cell (0, 0)
	cells      []Cell
}

// NewGrid creates a grid with every cell set to fill
func NewGrid(width, height int, resolution, originX, originY float64, fill Cell) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid grid size: %dx%d", width, height)
	}
	if resolution <= 0 || math.IsNaN(resolution) || math.IsInf(resolution, 0) {
		return nil, fmt.Errorf("invalid grid resolution: %f", resolution)
	}

	cells := make([]Cell, width*height)
	if fill != Unknown {
		for i := range cells {
			cells[i] = fill
		}
	}

	return &Grid{
		width:      width,
		height:     height,
		resolution: resolution,
		originX:    originX,
		originY:    originY,
		cells:      cells,
	}, nil
}

// Size returns the grid dimensions in cells
func (g *Grid) Size() (width, height int) {
	return g.width, g.height
}

// Resolution returns the cell size in meters
func (g *Grid) Resolution() float64 {
	return g.resolution
}

// Bounds returns the world rectangle covered by the grid
func (g *Grid) Bounds() (minX, minY, maxX, maxY float64) {
	return g.originX,
		g.originY,
		g.originX + float64(g.width)*g.resolution,
		g.originY + float64(g.height)*g.resolution
}

// Cell returns the cell index containing the world point
func (g *Grid) Cell(x, y float64) (col, row int, ok bool) {
	fx := math.Floor((x - g.originX) / g.resolution)
	fy := math.Floor((y - g.originY) / g.resolution)
	if fx < 0 || fy < 0 || fx >= float64(g.width) || fy >= float64(g.height) {
		return 0, 0, false
	}
	return int(fx), int(fy), true
}

// At returns the state of the cell containing (x, y)
func (g *Grid) At(x, y float64) Cell {
	col, row, ok := g.Cell(x, y)
	if !ok {
		return Unknown
	}
	return g.cells[row*g.width+col]
}

// Get returns the state of a cell by index
func (g *Grid) Get(col, row int) Cell {
	if col < 0 || row < 0 || col >= g.width || row >= g.height {
		return Unknown
	}
	return g.cells[row*g.width+col]
}

// Set updates a cell by index. Out of range indices are ignored.
// Grids must not be mutated once handed to a localizer.
func (g *Grid) Set(col, row int, c Cell) {
	if col < 0 || row < 0 || col >= g.width || row >= g.height {
		return
	}
	g.cells[row*g.width+col] = c
}

// SetWorld updates the cell containing a world point
func (g *Grid) SetWorld(x, y float64, c Cell) {
	if col, row, ok := g.Cell(x, y); ok {
		g.cells[row*g.width+col] = c
	}
}

// FillRect sets every cell whose center lies inside the world rectangle
func (g *Grid) FillRect(x0, y0, x1, y1 float64, c Cell) {
	if x0 > x1 {
		x0, x1 = x1, x0
	}
	if y0 > y1 {
		y0, y1 = y1, y0
	}

	for row := 0; row < g.height; row++ {
		cy := g.originY + (float64(row)+0.5)*g.resolution
		if cy < y0 || cy > y1 {
			continue
		}
		for col := 0; col < g.width; col++ {
			cx := g.originX + (float64(col)+0.5)*g.resolution
			if cx < x0 || cx > x1 {
				continue
			}
			g.cells[row*g.width+col] = c
		}
	}
}

// Count returns the number of cells in state c
func (g *Grid) Count(c Cell) int {
	n := 0
	for _, v := range g.cells {
		if v == c {
			n++
		}
	}
	return n
}
