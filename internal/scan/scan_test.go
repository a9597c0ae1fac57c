package scan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		scan    *Scan
		wantErr bool
	}{
		{"nil", nil, true},
		{"mismatched", &Scan{Angles: []float64{0, 1}, Ranges: []float64{1}, MaxRange: 5}, true},
		{"empty", &Scan{MaxRange: 5}, true},
		{"zero max range", &Scan{Angles: []float64{0}, Ranges: []float64{1}}, true},
		{"nan angle", &Scan{Angles: []float64{math.NaN()}, Ranges: []float64{1}, MaxRange: 5}, true},
		{"infinite max range", &Scan{Angles: []float64{0}, Ranges: []float64{1}, MaxRange: math.Inf(1)}, true},
		{"valid", &Scan{Angles: []float64{0, 1}, Ranges: []float64{1, math.Inf(1)}, MaxRange: 5}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := tt.scan.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMalformed)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNoReturn(t *testing.T) {
	t.Parallel()

	s := &Scan{
		Angles:   Uniform(-1, 1, 6),
		Ranges:   []float64{1.5, math.NaN(), math.Inf(1), 0, 8, 7.99},
		MaxRange: 8,
	}
	require.NoError(t, s.Validate())

	want := []bool{false, true, true, true, true, false}
	for i, w := range want {
		assert.Equal(t, w, s.NoReturn(i), "reading %d", i)
	}
	assert.Equal(t, 2, s.Returns())
	assert.Equal(t, 6, s.Len())
}

func TestClone(t *testing.T) {
	t.Parallel()

	s := &Scan{Angles: []float64{0}, Ranges: []float64{1}, MaxRange: 4}
	c := s.Clone()
	c.Ranges[0] = 3

	assert.Equal(t, 1.0, s.Ranges[0])
	assert.Nil(t, (*Scan)(nil).Clone())
}

func TestUniform(t *testing.T) {
	t.Parallel()

	assert.Nil(t, Uniform(0, 1, 0))
	assert.Equal(t, []float64{0.5}, Uniform(0.5, 1, 1))

	a := Uniform(-math.Pi/2, math.Pi/2, 5)
	require.Len(t, a, 5)
	assert.InDelta(t, -math.Pi/2, a[0], 1e-12)
	assert.InDelta(t, 0, a[2], 1e-12)
	assert.InDelta(t, math.Pi/2, a[4], 1e-12)
}
