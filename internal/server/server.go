// Package server provides the HTTP server for go-mcl
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/teslashibe/go-mcl/internal/config"
	"github.com/teslashibe/go-mcl/internal/health"
	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/mcl"
	"github.com/teslashibe/go-mcl/internal/protocol"
)

// Server is the HTTP server for go-mcl
type Server struct {
	app       *fiber.App
	cfg       *config.Config
	loc       *localizer.Localizer
	health    *health.Checker
	logger    *slog.Logger
	wsHub     *WSHub
	startTime time.Time
	version   string
}

// New creates a new HTTP server
func New(cfg *config.Config, loc *localizer.Localizer, checker *health.Checker, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if checker == nil {
		checker = health.NewChecker(version)
	}

	app := fiber.New(fiber.Config{
		AppName:               "go-mcl",
		DisableStartupMessage: true,
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
	})

	// Middleware
	app.Use(recover.New())
	app.Use(cors.New())
	app.Use(LoggingMiddleware(logger))

	s := &Server{
		app:       app,
		cfg:       cfg,
		loc:       loc,
		health:    checker,
		logger:    logger,
		wsHub:     NewWSHub(loc, logger),
		startTime: time.Now(),
		version:   version,
	}

	// Register routes
	s.registerRoutes()

	return s
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	// Health check
	s.app.Get("/health", s.healthHandler)

	// Metrics endpoint
	s.app.Get("/metrics", s.metricsHandler)

	api := s.app.Group("/api")

	// Localization output
	api.Get("/pose", s.poseHandler)
	api.Get("/pose/stream", s.wsHub.UpgradeHandler())
	api.Get("/particles", s.particlesHandler)

	// Sensor input
	api.Post("/odometry", s.odometryHandler)
	api.Post("/scan", s.scanHandler)
	api.Post("/localization/reset", s.resetHandler)

	// Config endpoint
	api.Get("/config", s.configHandler)

	// Stats endpoint
	api.Get("/stats", s.statsHandler)
}

// healthHandler returns service health
func (s *Server) healthHandler(c *fiber.Ctx) error {
	return c.JSON(s.health.GetStatus())
}

func (s *Server) unavailable(c *fiber.Ctx) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"error": "localizer not available",
	})
}

// poseHandler returns the latest corrected pose
func (s *Server) poseHandler(c *fiber.Ctx) error {
	if s.loc == nil {
		return s.unavailable(c)
	}

	est, ok := s.loc.LatestPose()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "localization not initialized",
		})
	}

	return c.JSON(protocol.FromEstimate(est))
}

// particlesHandler returns the latest particle set
func (s *Server) particlesHandler(c *fiber.Ctx) error {
	if s.loc == nil {
		return s.unavailable(c)
	}

	set, ok := s.loc.LatestParticles()
	if !ok {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": "localization not initialized",
		})
	}

	return c.JSON(protocol.FromParticleSet(set))
}

// odometryHandler accepts an odometry pose
func (s *Server) odometryHandler(c *fiber.Ctx) error {
	if s.loc == nil {
		return s.unavailable(c)
	}

	var data protocol.OdometryData
	if err := c.BodyParser(&data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid odometry: %v", err),
		})
	}

	s.loc.HandleOdometry(data.Sample())
	return c.SendStatus(fiber.StatusAccepted)
}

// scanHandler accepts a laser scan
func (s *Server) scanHandler(c *fiber.Ctx) error {
	if s.loc == nil {
		return s.unavailable(c)
	}

	var data protocol.ScanData
	if err := c.BodyParser(&data); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid scan: %v", err),
		})
	}

	err := s.loc.HandleScan(data.Sample())
	switch {
	case err == nil:
		return c.SendStatus(fiber.StatusAccepted)
	case errors.Is(err, localizer.ErrNoOdometry):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	case errors.Is(err, mcl.ErrMalformedScan):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
}

// resetHandler restarts localization at the posted pose
func (s *Server) resetHandler(c *fiber.Ctx) error {
	if s.loc == nil {
		return s.unavailable(c)
	}

	var cmd protocol.RelocalizeCommand
	if err := c.BodyParser(&cmd); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("invalid pose: %v", err),
		})
	}

	p := cmd.Pose()
	s.loc.Reset(p)
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"x":       p.X,
		"y":       p.Y,
		"heading": p.Heading,
	})
}

// configHandler returns current configuration
func (s *Server) configHandler(c *fiber.Ctx) error {
	l := s.cfg.Localization
	return c.JSON(fiber.Map{
		"server": fiber.Map{
			"port":             s.cfg.Server.Port,
			"read_timeout_ms":  s.cfg.Server.ReadTimeout.Milliseconds(),
			"write_timeout_ms": s.cfg.Server.WriteTimeout.Milliseconds(),
		},
		"map": fiber.Map{
			"path":       s.cfg.Map.Path,
			"resolution": s.cfg.Map.Resolution,
		},
		"localization": fiber.Map{
			"particles":       l.Particles,
			"initial":         l.InitialPose(),
			"beam_stride":     l.Sensor.BeamStride,
			"range_sigma":     l.Sensor.RangeSigma,
			"outlier_weight":  l.Sensor.OutlierWeight,
			"resample_policy": l.Resample.Policy,
			"ess_threshold":   l.Resample.ESSThreshold,
			"queue_size":      l.QueueSize,
		},
		"mqtt": fiber.Map{
			"enabled": s.cfg.MQTT.Enabled,
			"broker":  s.cfg.MQTT.Broker,
		},
		"cloud": fiber.Map{
			"enabled": s.cfg.Cloud.Enabled,
		},
	})
}

// statsHandler returns localizer statistics
func (s *Server) statsHandler(c *fiber.Ctx) error {
	if s.loc == nil {
		return s.unavailable(c)
	}

	return c.JSON(s.loc.Stats())
}

// metricsHandler returns Prometheus-format metrics
func (s *Server) metricsHandler(c *fiber.Ctx) error {
	if s.loc == nil {
		return c.Status(503).SendString("# no localizer available\n")
	}

	stats := s.loc.Stats()

	metrics := fmt.Sprintf(`# HELP go_mcl_initialized Localization initialized (1=yes, 0=no)
# TYPE go_mcl_initialized gauge
go_mcl_initialized %d

# HELP go_mcl_pose_x_meters Corrected pose x
# TYPE go_mcl_pose_x_meters gauge
go_mcl_pose_x_meters %f

# HELP go_mcl_pose_y_meters Corrected pose y
# TYPE go_mcl_pose_y_meters gauge
go_mcl_pose_y_meters %f

# HELP go_mcl_pose_heading_radians Corrected pose heading
# TYPE go_mcl_pose_heading_radians gauge
go_mcl_pose_heading_radians %f

# HELP go_mcl_effective_sample_size Effective sample size after the last cycle
# TYPE go_mcl_effective_sample_size gauge
go_mcl_effective_sample_size %f

# HELP go_mcl_cycles_total Filter cycles run
# TYPE go_mcl_cycles_total counter
go_mcl_cycles_total %d

# HELP go_mcl_cycles_skipped_total Cycles skipped for insufficient motion
# TYPE go_mcl_cycles_skipped_total counter
go_mcl_cycles_skipped_total %d

# HELP go_mcl_resamples_total Resampling steps
# TYPE go_mcl_resamples_total counter
go_mcl_resamples_total %d

# HELP go_mcl_degenerate_total Cycles whose weights collapsed
# TYPE go_mcl_degenerate_total counter
go_mcl_degenerate_total %d

# HELP go_mcl_scans_total Scans received
# TYPE go_mcl_scans_total counter
go_mcl_scans_total %d

# HELP go_mcl_scans_dropped_total Scans dropped from a full queue
# TYPE go_mcl_scans_dropped_total counter
go_mcl_scans_dropped_total %d

# HELP go_mcl_scans_rejected_total Malformed scans rejected
# TYPE go_mcl_scans_rejected_total counter
go_mcl_scans_rejected_total %d

# HELP go_mcl_odometry_total Odometry samples received
# TYPE go_mcl_odometry_total counter
go_mcl_odometry_total %d

# HELP go_mcl_avg_cycle_ms Average cycle duration in milliseconds
# TYPE go_mcl_avg_cycle_ms gauge
go_mcl_avg_cycle_ms %f

# HELP go_mcl_uptime_seconds Server uptime in seconds
# TYPE go_mcl_uptime_seconds gauge
go_mcl_uptime_seconds %d

# HELP go_mcl_websocket_clients Current WebSocket client count
# TYPE go_mcl_websocket_clients gauge
go_mcl_websocket_clients %d
`,
		boolToInt(stats.Initialized),
		stats.Pose.X,
		stats.Pose.Y,
		stats.Pose.Heading,
		stats.ESS,
		stats.CycleCount,
		stats.SkippedCount,
		stats.ResampleCount,
		stats.DegenerateCount,
		stats.ScanCount,
		stats.DroppedCount,
		stats.RejectedCount,
		stats.OdometryCount,
		stats.AvgCycleMs,
		int64(time.Since(s.startTime).Seconds()),
		s.wsHub.ClientCount(),
	)

	c.Set("Content-Type", "text/plain; charset=utf-8")
	return c.SendString(metrics)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting HTTP server",
		"port", s.cfg.Server.Port,
	)

	return s.app.Listen(fmt.Sprintf(":%d", s.cfg.Server.Port))
}

// WSHub returns the WebSocket hub for external control
func (s *Server) WSHub() *WSHub {
	return s.wsHub
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")

	// Close WebSocket hub
	s.wsHub.Close()

	// Shutdown Fiber with timeout from context
	done := make(chan error, 1)
	go func() {
		done <- s.app.Shutdown()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
