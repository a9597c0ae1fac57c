package mcl

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/teslashibe/go-mcl/internal/gridmap"
	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/scan"
)

// State is the lifecycle state of the engine
type State int

const (
	Uninitialized State = iota
	Initialized
	Running
)

func (s State) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Running:
		return "running"
	default:
		return "uninitialized"
	}
}

// Cycle describes what the last Update did
type Cycle struct {
	Skipped    bool          `json:"skipped"`    // below the minimum-motion thresholds
	Weighted   bool          `json:"weighted"`   // a scan was scored
	Degenerate bool          `json:"degenerate"` // every weight collapsed; reset to uniform
	Resampled  bool          `json:"resampled"`
	ESS        float64       `json:"ess"`
	Estimate   pose.Pose     `json:"estimate"`
	Duration   time.Duration `json:"duration"`
}

// Engine is a particle filter over a fixed-size particle set. All methods are safe for
// concurrent use; Init and Update calls are serialized.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	motion    *MotionModel
	sensor    *SensorModel
	resampler *Resampler

	mu        sync.Mutex
	rng       *rand.Rand
	normal    distuv.Normal
	state     State
	grid      gridmap.Map
	particles []Particle
	scratch   []Particle
	estimate  pose.Pose
	last      Cycle
}

// NewEngine creates an engine. The particle set is allocated here and keeps its size forever.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		motion:    NewMotionModel(cfg.Motion),
		sensor:    NewSensorModel(cfg.Sensor),
		resampler: NewResampler(cfg.Resample),
		rng:       rng,
		normal:    distuv.Normal{Mu: 0, Sigma: 1, Src: rng},
		particles: make([]Particle, cfg.Particles),
		scratch:   make([]Particle, cfg.Particles),
	}
	Uniform(e.particles)

	return e, nil
}

// Config returns the engine configuration
func (e *Engine) Config() Config {
	return e.cfg
}

// Init stores the map and scatters the particle set around initial. It may be called
// again at any time to restart localization.
func (e *Engine) Init(m gridmap.Map, initial pose.Pose) error {
	if m == nil {
		return ErrMapRequired
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.grid = m
	e.estimate = initial

	w := 1 / float64(len(e.particles))
	sigma := e.cfg.InitialSigma
	for i := range e.particles {
		e.particles[i] = Particle{
			Pose: pose.New(
				initial.X+sigma.X*e.normal.Rand(),
				initial.Y+sigma.Y*e.normal.Rand(),
				initial.Heading+sigma.Heading*e.normal.Rand(),
			),
			Weight: w,
		}
	}

	e.state = Initialized
	e.last = Cycle{Estimate: initial}

	e.logger.Debug("localization initialized",
		"particles", len(e.particles),
		"x", initial.X,
		"y", initial.Y,
		"heading", initial.Heading,
	)
	return nil
}

// Update runs one predict/weight/resample cycle and returns the new estimate.
// rotation is in radians, translation in meters along the direction of travel.
// A nil scan skips the weighting step. When the motion is below the minimum-motion
// thresholds nothing is touched and the previous estimate is returned.
func (e *Engine) Update(rotation, translation float64, s *scan.Scan) (pose.Pose, error) {
	start := time.Now()

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state == Uninitialized {
		return pose.Pose{}, ErrNotInitialized
	}
	if s != nil {
		if err := s.Validate(); err != nil {
			return pose.Pose{}, fmt.Errorf("%w: %w", ErrMalformedScan, err)
		}
	}

	e.state = Running

	if e.motion.Stationary(rotation, translation) {
		e.last = Cycle{
			Skipped:  true,
			ESS:      EffectiveSampleSize(e.particles),
			Estimate: e.estimate,
			Duration: time.Since(start),
		}
		return e.estimate, nil
	}

	e.motion.Apply(e.particles, rotation, translation, e.normal.Rand)

	cycle := Cycle{}
	if s != nil {
		if err := e.sensor.Weigh(e.grid, e.particles, s); err != nil {
			return e.estimate, fmt.Errorf("weigh particles: %w", err)
		}
		cycle.Weighted = true
	}

	if !Normalize(e.particles) {
		cycle.Degenerate = true
		Uniform(e.particles)
		e.logger.Warn("particle weights collapsed, resetting to uniform",
			"particles", len(e.particles),
			"weighted", cycle.Weighted,
		)
	}

	cycle.ESS = EffectiveSampleSize(e.particles)
	if cycle.Weighted && !cycle.Degenerate && e.resampler.ShouldResample(cycle.ESS, len(e.particles)) {
		Systematic(e.particles, e.scratch, e.rng.Float64())
		e.particles, e.scratch = e.scratch, e.particles
		cycle.Resampled = true
	}

	e.estimate = WeightedMean(e.particles)
	cycle.Estimate = e.estimate
	cycle.Duration = time.Since(start)
	e.last = cycle

	e.logger.Debug("localization cycle",
		"rotation", rotation,
		"translation", translation,
		"ess", cycle.ESS,
		"resampled", cycle.Resampled,
		"x", e.estimate.X,
		"y", e.estimate.Y,
		"heading", e.estimate.Heading,
		"duration", cycle.Duration,
	)

	return e.estimate, nil
}

// Particles returns an independent copy of the particle set
func (e *Engine) Particles() []Particle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Copy(e.particles)
}

// Estimate returns the most recent pose estimate
func (e *Engine) Estimate() pose.Pose {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.estimate
}

// State returns the lifecycle state
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastCycle returns diagnostics for the most recent Init or Update
func (e *Engine) LastCycle() Cycle {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}
