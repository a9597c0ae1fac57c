package mcl

// Resampler decides when to resample and draws the new set
type Resampler struct {
	cfg ResampleConfig
}

// NewResampler creates a resampler
func NewResampler(cfg ResampleConfig) *Resampler {
	return &Resampler{cfg: cfg}
}

// ShouldResample applies the configured trigger to a set of n particles with the given ESS
func (r *Resampler) ShouldResample(ess float64, n int) bool {
	if r.cfg.Policy == ResampleAlways {
		return true
	}
	return ess < r.cfg.ESSThreshold*float64(n)
}

// Systematic performs low-variance resampling of normalized particles into dst, which must
// have the same length. u is a uniform draw in [0, 1). Every drawn particle gets weight 1/N.
func Systematic(src, dst []Particle, u float64) {
	n := len(src)
	if n == 0 {
		return
	}

	step := 1 / float64(n)
	offset := u * step

	i := 0
	cumulative := src[0].Weight
	for j := 0; j < n; j++ {
		threshold := offset + float64(j)*step
		for i < n-1 && threshold >= cumulative {
			i++
			cumulative += src[i].Weight
		}
		dst[j] = Particle{Pose: src[i].Pose, Weight: step}
	}
}
