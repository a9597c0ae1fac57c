// Package localizer drives the particle filter from two asynchronous input streams:
// odometry poses and laser scans. Every scan is paired with the most recent odometry
// sample and fed through the engine exactly once.
package localizer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-mcl/internal/gridmap"
	"github.com/teslashibe/go-mcl/internal/mcl"
	"github.com/teslashibe/go-mcl/internal/pose"
	"github.com/teslashibe/go-mcl/internal/scan"
)

var (
	// ErrMapUnavailable is returned by Run when the map cannot be resolved at start
	ErrMapUnavailable = errors.New("occupancy map unavailable")

	// ErrNoOdometry is returned by HandleScan when no odometry has been seen yet
	ErrNoOdometry = errors.New("no odometry received yet")
)

// Engine is the particle filter the localizer drives
type Engine interface {
	Init(m gridmap.Map, initial pose.Pose) error
	Update(rotation, translation float64, s *scan.Scan) (pose.Pose, error)
	Particles() []mcl.Particle
	LastCycle() mcl.Cycle
}

// Config configures the localizer
type Config struct {
	QueueSize        int // pending scan/odometry pairs
	SubscriberBuffer int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		QueueSize:        8,
		SubscriberBuffer: 10,
	}
}

// OdometrySample is a pose derived from raw odometry
type OdometrySample struct {
	Time time.Time
	Pose pose.Pose
}

// ScanSample is a laser scan with its capture time
type ScanSample struct {
	Time time.Time
	Scan *scan.Scan
}

// Estimate is one corrected pose emitted by the localizer
type Estimate struct {
	RunID   string    `json:"run_id"`
	Seq     uint64    `json:"seq"`
	Time    time.Time `json:"ts"`
	Pose    pose.Pose `json:"pose"`
	Initial bool      `json:"initial"` // emitted by init, not by a filter cycle
	Cycle   mcl.Cycle `json:"cycle"`
}

// ParticleSet is the particle snapshot that accompanies an Estimate
type ParticleSet struct {
	RunID     string         `json:"run_id"`
	Seq       uint64         `json:"seq"`
	Time      time.Time      `json:"ts"`
	Particles []mcl.Particle `json:"particles"`
}

type pair struct {
	odom OdometrySample
	scan ScanSample
}

// Localizer pairs scans with odometry and runs the engine once per scan
type Localizer struct {
	engine   Engine
	provider gridmap.Provider
	cfg      Config
	logger   *slog.Logger

	queue chan pair
	qmu   sync.Mutex

	mu              sync.RWMutex
	initial         pose.Pose
	odom            OdometrySample
	hasOdom         bool
	initialized     bool
	resetPending    bool
	prevOdom        pose.Pose
	runID           string
	seq             uint64
	latest          Estimate
	latestParticles ParticleSet

	// Metrics
	odomCount     int64
	scanCount     int64
	noOdomCount   int64
	rejectedCount int64
	droppedCount  int64
	cycleCount    int64
	skippedCount  int64
	resampleCount int64
	degenerateCnt int64
	initCount     int64
	totalCycleDur time.Duration

	// Lifecycle
	cancel  context.CancelFunc
	done    chan struct{}
	running bool

	subsMu       sync.RWMutex
	poseSubs     map[chan Estimate]struct{}
	particleSubs map[chan ParticleSet]struct{}
}

// NewLocalizer creates a localizer that starts from initial
func NewLocalizer(engine Engine, provider gridmap.Provider, initial pose.Pose, cfg Config, logger *slog.Logger) *Localizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 1
	}

	return &Localizer{
		engine:       engine,
		provider:     provider,
		cfg:          cfg,
		logger:       logger,
		queue:        make(chan pair, cfg.QueueSize),
		initial:      initial,
		done:         make(chan struct{}),
		poseSubs:     make(map[chan Estimate]struct{}),
		particleSubs: make(map[chan ParticleSet]struct{}),
	}
}

// HandleOdometry records the latest odometry pose
func (l *Localizer) HandleOdometry(s OdometrySample) {
	if s.Time.IsZero() {
		s.Time = time.Now()
	}

	l.mu.Lock()
	l.odom = s
	l.hasOdom = true
	l.odomCount++
	l.mu.Unlock()
}

// HandleScan validates the scan, pairs it with the latest odometry and queues it.
// When the queue is full the oldest pending pair is dropped.
func (l *Localizer) HandleScan(s ScanSample) error {
	if err := s.Scan.Validate(); err != nil {
		l.mu.Lock()
		l.rejectedCount++
		l.mu.Unlock()
		return fmt.Errorf("%w: %w", mcl.ErrMalformedScan, err)
	}
	if s.Time.IsZero() {
		s.Time = time.Now()
	}

	l.mu.Lock()
	l.scanCount++
	if !l.hasOdom {
		l.noOdomCount++
		l.mu.Unlock()
		return ErrNoOdometry
	}
	p := pair{odom: l.odom, scan: s}
	l.mu.Unlock()

	l.qmu.Lock()
	defer l.qmu.Unlock()

	select {
	case l.queue <- p:
		return nil
	default:
	}

	select {
	case <-l.queue:
		l.mu.Lock()
		l.droppedCount++
		l.mu.Unlock()
		l.logger.Warn("localizer backlogged, dropping oldest scan")
	default:
	}

	select {
	case l.queue <- p:
	default:
	}
	return nil
}

// Reset re-initializes the filter at initial on the next scan
func (l *Localizer) Reset(initial pose.Pose) {
	l.mu.Lock()
	l.initial = initial
	l.resetPending = true
	l.mu.Unlock()

	l.logger.Info("relocalization requested",
		"x", initial.X,
		"y", initial.Y,
		"heading", initial.Heading,
	)
}

// Run resolves the map and processes queued pairs until ctx is done (blocking, use goroutine)
func (l *Localizer) Run(ctx context.Context) error {
	l.mu.Lock()
	ctx, l.cancel = context.WithCancel(ctx)
	l.running = true
	l.mu.Unlock()
	defer close(l.done)

	m, err := l.provider.Map()
	if err == nil && m == nil {
		err = gridmap.ErrNoMap
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMapUnavailable, err)
	}

	l.logger.Info("localizer started",
		"queue_size", l.cfg.QueueSize,
		"resolution", m.Resolution(),
	)

	for {
		select {
		case <-ctx.Done():
			st := l.Stats()
			l.logger.Info("localizer stopped",
				"cycles", st.CycleCount,
				"dropped", st.DroppedCount,
			)
			return ctx.Err()
		case p := <-l.queue:
			if err := l.process(m, p); err != nil {
				l.logger.Error("localization failed", "error", err)
				return err
			}
		}
	}
}

func (l *Localizer) process(m gridmap.Map, p pair) error {
	l.mu.RLock()
	needInit := !l.initialized || l.resetPending
	initial := l.initial
	prev := l.prevOdom
	l.mu.RUnlock()

	if needInit {
		return l.initialize(m, initial, p)
	}

	start := time.Now()
	rotation, translation := pose.Motion(prev, p.odom.Pose)

	corrected, err := l.engine.Update(rotation, translation, p.scan.Scan)
	if err != nil {
		return fmt.Errorf("update: %w", err)
	}
	cycle := l.engine.LastCycle()
	particles := l.engine.Particles()

	l.mu.Lock()
	// sub-threshold motion accumulates until it is large enough to apply
	if !cycle.Skipped {
		l.prevOdom = p.odom.Pose
	}
	l.seq++
	l.cycleCount++
	l.totalCycleDur += time.Since(start)
	if cycle.Skipped {
		l.skippedCount++
	}
	if cycle.Resampled {
		l.resampleCount++
	}
	if cycle.Degenerate {
		l.degenerateCnt++
	}
	est := Estimate{
		RunID: l.runID,
		Seq:   l.seq,
		Time:  p.scan.Time,
		Pose:  corrected,
		Cycle: cycle,
	}
	set := ParticleSet{RunID: l.runID, Seq: l.seq, Time: p.scan.Time, Particles: particles}
	l.latest = est
	l.latestParticles = set
	l.mu.Unlock()

	l.publish(est, set)
	return nil
}

func (l *Localizer) initialize(m gridmap.Map, initial pose.Pose, p pair) error {
	if err := l.engine.Init(m, initial); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	particles := l.engine.Particles()
	runID := uuid.NewString()

	l.mu.Lock()
	l.initialized = true
	l.resetPending = false
	l.prevOdom = p.odom.Pose
	l.runID = runID
	l.seq++
	l.initCount++
	est := Estimate{
		RunID:   runID,
		Seq:     l.seq,
		Time:    p.scan.Time,
		Pose:    initial,
		Initial: true,
		Cycle:   mcl.Cycle{Estimate: initial},
	}
	set := ParticleSet{RunID: runID, Seq: l.seq, Time: p.scan.Time, Particles: particles}
	l.latest = est
	l.latestParticles = set
	l.mu.Unlock()

	l.logger.Info("localization initialized",
		"run_id", runID,
		"x", initial.X,
		"y", initial.Y,
		"heading", initial.Heading,
		"particles", len(particles),
	)

	l.publish(est, set)
	return nil
}

func (l *Localizer) publish(est Estimate, set ParticleSet) {
	l.subsMu.RLock()
	defer l.subsMu.RUnlock()

	for ch := range l.poseSubs {
		select {
		case ch <- est:
		default:
			// Drop if subscriber is slow
		}
	}

	for ch := range l.particleSubs {
		own := set
		own.Particles = mcl.Copy(set.Particles)
		select {
		case ch <- own:
		default:
		}
	}
}

// SubscribePoses returns a channel that receives every corrected pose
func (l *Localizer) SubscribePoses() chan Estimate {
	ch := make(chan Estimate, l.cfg.SubscriberBuffer)

	l.subsMu.Lock()
	l.poseSubs[ch] = struct{}{}
	l.subsMu.Unlock()

	return ch
}

// UnsubscribePoses removes a pose subscriber
func (l *Localizer) UnsubscribePoses(ch chan Estimate) {
	l.subsMu.Lock()
	if _, exists := l.poseSubs[ch]; exists {
		delete(l.poseSubs, ch)
		close(ch)
	}
	l.subsMu.Unlock()
}

// SubscribeParticles returns a channel that receives a private copy of every particle set
func (l *Localizer) SubscribeParticles() chan ParticleSet {
	ch := make(chan ParticleSet, l.cfg.SubscriberBuffer)

	l.subsMu.Lock()
	l.particleSubs[ch] = struct{}{}
	l.subsMu.Unlock()

	return ch
}

// UnsubscribeParticles removes a particle subscriber
func (l *Localizer) UnsubscribeParticles(ch chan ParticleSet) {
	l.subsMu.Lock()
	if _, exists := l.particleSubs[ch]; exists {
		delete(l.particleSubs, ch)
		close(ch)
	}
	l.subsMu.Unlock()
}

// LatestPose returns the most recent estimate; ok is false before the first scan
func (l *Localizer) LatestPose() (Estimate, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.latest, l.initialized
}

// LatestParticles returns a copy of the most recent particle set
func (l *Localizer) LatestParticles() (ParticleSet, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	set := l.latestParticles
	set.Particles = mcl.Copy(set.Particles)
	return set, l.initialized
}

// Initialized reports whether the filter has been initialized
func (l *Localizer) Initialized() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.initialized
}

// Stats returns localizer statistics
func (l *Localizer) Stats() Stats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	avg := float64(0)
	if l.cycleCount > 0 {
		avg = float64(l.totalCycleDur.Microseconds()) / 1000 / float64(l.cycleCount)
	}

	l.subsMu.RLock()
	subs := len(l.poseSubs) + len(l.particleSubs)
	l.subsMu.RUnlock()

	return Stats{
		RunID:           l.runID,
		Initialized:     l.initialized,
		OdometryCount:   l.odomCount,
		ScanCount:       l.scanCount,
		NoOdometryCount: l.noOdomCount,
		RejectedCount:   l.rejectedCount,
		DroppedCount:    l.droppedCount,
		InitCount:       l.initCount,
		CycleCount:      l.cycleCount,
		SkippedCount:    l.skippedCount,
		ResampleCount:   l.resampleCount,
		DegenerateCount: l.degenerateCnt,
		AvgCycleMs:      avg,
		QueueDepth:      len(l.queue),
		SubscriberCount: subs,
		ESS:             l.latest.Cycle.ESS,
		Pose:            l.latest.Pose,
	}
}

// Stats contains localizer statistics
type Stats struct {
	RunID           string    `json:"run_id"`
	Initialized     bool      `json:"initialized"`
	OdometryCount   int64     `json:"odometry_count"`
	ScanCount       int64     `json:"scan_count"`
	NoOdometryCount int64     `json:"no_odometry_count"`
	RejectedCount   int64     `json:"rejected_count"`
	DroppedCount    int64     `json:"dropped_count"`
	InitCount       int64     `json:"init_count"`
	CycleCount      int64     `json:"cycle_count"`
	SkippedCount    int64     `json:"skipped_count"`
	ResampleCount   int64     `json:"resample_count"`
	DegenerateCount int64     `json:"degenerate_count"`
	AvgCycleMs      float64   `json:"avg_cycle_ms"`
	QueueDepth      int       `json:"queue_depth"`
	SubscriberCount int       `json:"subscriber_count"`
	ESS             float64   `json:"ess"`
	Pose            pose.Pose `json:"pose"`
}

// Stop stops the localizer gracefully
func (l *Localizer) Stop() {
	l.mu.RLock()
	cancel, running := l.cancel, l.running
	l.mu.RUnlock()

	if running {
		cancel()
		<-l.done
	}

	l.subsMu.Lock()
	for ch := range l.poseSubs {
		close(ch)
		delete(l.poseSubs, ch)
	}
	for ch := range l.particleSubs {
		close(ch)
		delete(l.particleSubs, ch)
	}
	l.subsMu.Unlock()
}
