// go-mcl: Monte-Carlo localization daemon
// Fuses odometry and laser scans against an occupancy map into a corrected pose
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/teslashibe/go-mcl/internal/broker"
	"github.com/teslashibe/go-mcl/internal/cloud"
	"github.com/teslashibe/go-mcl/internal/config"
	"github.com/teslashibe/go-mcl/internal/gridmap"
	"github.com/teslashibe/go-mcl/internal/health"
	"github.com/teslashibe/go-mcl/internal/localizer"
	"github.com/teslashibe/go-mcl/internal/mcl"
	"github.com/teslashibe/go-mcl/internal/server"
)

var (
	version     = "0.1.0"
	configPath  = flag.String("config", "/etc/go-mcl/config.yaml", "config file path")
	mapPath     = flag.String("map", "", "occupancy map image (overrides map.path)")
	showVersion = flag.Bool("version", false, "print version and exit")
	debug       = flag.Bool("debug", false, "enable debug logging")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("go-mcl %s\n", version)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to load config from %s: %v\n", *configPath, err)
		cfg = config.Default()
	}

	if *mapPath != "" {
		cfg.Map.Path = *mapPath
	}

	// Override log level if debug flag is set
	if *debug {
		cfg.Logging.Level = "debug"
	}

	// Setup logging
	logger := setupLogger(cfg.Logging)

	logger.Info("starting go-mcl",
		"version", version,
		"config", *configPath,
		"port", cfg.Server.Port,
	)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// The map must resolve before anything starts
	provider := gridmap.NewFileProvider(cfg.Map.Path, cfg.Map.ImageOptions())
	m, err := provider.Map()
	if err != nil {
		logger.Error("occupancy map unavailable", "path", cfg.Map.Path, "error", err)
		os.Exit(1)
	}

	checker := health.NewChecker(version)
	if g, ok := m.(*gridmap.Grid); ok {
		w, h := g.Size()
		checker.SetComponent("map", true, fmt.Sprintf("%dx%d cells at %.3fm", w, h, g.Resolution()))
		logger.Info("map loaded",
			"path", provider.Path(),
			"width", w,
			"height", h,
			"resolution", g.Resolution(),
			"occupied", g.Count(gridmap.Occupied),
		)
	}

	// Create root context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine, err := mcl.NewEngine(cfg.Localization.Engine(), logger)
	if err != nil {
		logger.Error("invalid localization config", "error", err)
		os.Exit(1)
	}

	loc := localizer.NewLocalizer(engine, provider, cfg.Localization.InitialPose(), cfg.Localization.Driver(), logger)

	checker.Register("localizer", func() (bool, string) {
		if loc.Initialized() {
			return true, "running"
		}
		return true, "waiting for first scan"
	})

	// Start localizer in background
	go func() {
		if err := loc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("localizer error", "error", err)
			cancel()
		}
	}()

	// MQTT bridge
	var bridge *broker.Bridge
	if cfg.MQTT.Enabled {
		bridge = broker.New(cfg.MQTT.Bridge(), loc, logger)
		checker.Register("mqtt", func() (bool, string) {
			if bridge.Connected() {
				return true, "connected"
			}
			return false, "disconnected"
		})

		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("mqtt bridge error", "error", err)
			}
		}()
	}

	// Cloud uplink
	var uplink *cloud.Client
	if cfg.Cloud.Enabled {
		uplink = cloud.NewClient(cfg.Cloud.Client(), logger)
		uplink.OnRelocalize(loc.Reset)
		uplink.OnStatsRequest(loc.Stats)
		checker.Register("cloud", func() (bool, string) {
			if uplink.IsConnected() {
				return true, "connected"
			}
			return false, "disconnected"
		})

		if err := uplink.Connect(ctx); err != nil {
			logger.Warn("cloud connect failed", "error", err)
		}
		go uplink.Stream(ctx, loc)
	}

	// Create server
	srv := server.New(cfg, loc, checker, logger, version)

	// Start WebSocket hub in background
	go srv.WSHub().Run(ctx)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	// Print startup info
	printStartupBanner(cfg, version)

	// Wait for shutdown signal or a fatal component error
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		logger.Warn("shutting down after component failure")
	}

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		cfg.Server.GracefulTimeout,
	)
	defer shutdownCancel()

	// Stop in order: server -> transports -> localizer
	logger.Info("shutting down server...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown error", "error", err)
	}

	cancel()
	if uplink != nil {
		uplink.Close()
	}

	logger.Info("stopping localizer...")
	loc.Stop()

	logger.Info("go-mcl stopped")
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var handler slog.Handler

	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}

func printStartupBanner(cfg *config.Config, version string) {
	fmt.Println()
	fmt.Println("🧭 go-mcl v" + version)
	fmt.Println("   Monte-Carlo localization daemon")
	fmt.Println()
	fmt.Printf("🚀 Running at http://0.0.0.0:%d\n", cfg.Server.Port)
	fmt.Printf("🗺️  Map: %s\n", cfg.Map.Path)
	fmt.Println()
	fmt.Println("   Endpoints:")
	fmt.Println("   GET  /health                   - Health check")
	fmt.Println("   GET  /api/pose                 - Corrected pose")
	fmt.Println("   GET  /api/particles            - Particle set")
	fmt.Println("   WS   /api/pose/stream          - Real-time pose stream")
	fmt.Println("   POST /api/odometry             - Odometry input")
	fmt.Println("   POST /api/scan                 - Laser scan input")
	fmt.Println("   POST /api/localization/reset   - Relocalize")
	fmt.Println("   GET  /api/stats                - Localizer statistics")
	fmt.Println("   GET  /metrics                  - Prometheus metrics")
	if cfg.MQTT.Enabled {
		fmt.Printf("   MQTT %s (%s, %s)\n", cfg.MQTT.Broker, cfg.MQTT.OdometryTopic, cfg.MQTT.ScanTopic)
	}
	fmt.Println()
	fmt.Println("   Press Ctrl+C to stop")
	fmt.Println()
}
