// Package scan provides laser range scans as delivered by the range sensor
package scan

import (
	"errors"
	"fmt"
	"math"
)

// ErrMalformed is returned for scans whose readings cannot be interpreted
var ErrMalformed = errors.New("malformed laser scan")

// Scan is one sweep of bearing/range readings in the sensor frame.
// Ranges that are NaN, infinite, non-positive or at least MaxRange mean "no return".
type Scan struct {
	Angles   []float64 `json:"angles"`   // radians, 0 = robot heading, +left
	Ranges   []float64 `json:"ranges"`   // meters
	MaxRange float64   `json:"max_range"` // sensor range limit in meters
}

// Validate checks that the scan can be scored
func (s *Scan) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: nil scan", ErrMalformed)
	}
	if len(s.Angles) != len(s.Ranges) {
		return fmt.Errorf("%w: %d angles, %d ranges", ErrMalformed, len(s.Angles), len(s.Ranges))
	}
	if len(s.Ranges) == 0 {
		return fmt.Errorf("%w: no readings", ErrMalformed)
	}
	if !(s.MaxRange > 0) || math.IsInf(s.MaxRange, 0) {
		return fmt.Errorf("%w: max range %f", ErrMalformed, s.MaxRange)
	}
	for i, a := range s.Angles {
		if math.IsNaN(a) || math.IsInf(a, 0) {
			return fmt.Errorf("%w: angle %d is not finite", ErrMalformed, i)
		}
	}
	return nil
}

// Len returns the number of readings
func (s *Scan) Len() int {
	return len(s.Ranges)
}

// NoReturn reports whether reading i carries no usable distance
func (s *Scan) NoReturn(i int) bool {
	r := s.Ranges[i]
	return math.IsNaN(r) || math.IsInf(r, 0) || r <= 0 || r >= s.MaxRange
}

// Returns counts the readings that hit something
func (s *Scan) Returns() int {
	n := 0
	for i := range s.Ranges {
		if !s.NoReturn(i) {
			n++
		}
	}
	return n
}

// Clone returns a deep copy
func (s *Scan) Clone() *Scan {
	if s == nil {
		return nil
	}
	return &Scan{
		Angles:   append([]float64(nil), s.Angles...),
		Ranges:   append([]float64(nil), s.Ranges...),
		MaxRange: s.MaxRange,
	}
}

// Uniform builds angles spread evenly over [min, max] with n readings
func Uniform(min, max float64, n int) []float64 {
	if n <= 0 {
		return nil
	}
	if n == 1 {
		return []float64{min}
	}
	angles := make([]float64, n)
	step := (max - min) / float64(n-1)
	for i := range angles {
		angles[i] = min + float64(i)*step
	}
	return angles
}
