package gridmap

import (
	"fmt"
	"image"
	"image/color"
	_ "image/png" // PNG map files
	"io"
	"os"

	_ "golang.org/x/image/bmp" // BMP map files
)

// ImageOptions describes how map image pixels translate to cells
type ImageOptions struct {
	Resolution float64 // meters per pixel

	// Pixel that contains the world origin. Image rows grow downward, world y grows upward.
	OriginPx int
	OriginPy int

	// Brightness thresholds in [0, 1]: darker than Occupied is an obstacle,
	// brighter than Free is free space, anything between is unknown.
	OccupiedThreshold float64
	FreeThreshold     float64
}

// DefaultImageOptions returns thresholds suited to black-on-white floor plans
func DefaultImageOptions() ImageOptions {
	return ImageOptions{
		Resolution:        0.1,
		OccupiedThreshold: 0.35,
		FreeThreshold:     0.65,
	}
}

// LoadImage reads a PNG or BMP occupancy image from disk
func LoadImage(path string, opts ImageOptions) (*Grid, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open map: %w", err)
	}
	defer f.Close()

	return DecodeImage(f, opts)
}

// DecodeImage decodes an occupancy image from r
func DecodeImage(r io.Reader, opts ImageOptions) (*Grid, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decode map image: %w", err)
	}

	g, err := FromImage(img, opts)
	if err != nil {
		return nil, fmt.Errorf("%s map: %w", format, err)
	}
	return g, nil
}

// FromImage converts an already decoded image to a grid
func FromImage(img image.Image, opts ImageOptions) (*Grid, error) {
	if opts.OccupiedThreshold > opts.FreeThreshold {
		return nil, fmt.Errorf("occupied threshold %f above free threshold %f",
			opts.OccupiedThreshold, opts.FreeThreshold)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	// world (0, 0) sits at the center of the origin pixel
	originX := -(float64(opts.OriginPx) + 0.5) * opts.Resolution
	originY := -(float64(h-1-opts.OriginPy) + 0.5) * opts.Resolution

	g, err := NewGrid(w, h, opts.Resolution, originX, originY, Unknown)
	if err != nil {
		return nil, err
	}

	for py := 0; py < h; py++ {
		row := h - 1 - py
		for px := 0; px < w; px++ {
			gray := color.GrayModel.Convert(img.At(b.Min.X+px, b.Min.Y+py)).(color.Gray)
			v := float64(gray.Y) / 255

			switch {
			case v < opts.OccupiedThreshold:
				g.Set(px, row, Occupied)
			case v > opts.FreeThreshold:
				g.Set(px, row, Free)
			}
		}
	}

	return g, nil
}
