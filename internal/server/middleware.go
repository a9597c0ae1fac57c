package server

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
)

// quietPaths are polled or streamed at sensor rate and only logged at debug level
var quietPaths = map[string]bool{
	"/metrics":      true,
	"/health":       true,
	"/api/odometry": true,
	"/api/scan":     true,
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(logger *slog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		path := c.Path()
		status := c.Response().StatusCode()

		level := slog.LevelInfo
		switch {
		case status >= fiber.StatusInternalServerError:
			level = slog.LevelWarn
		case quietPaths[path]:
			level = slog.LevelDebug
		}

		logger.Log(c.UserContext(), level, "http request",
			"method", c.Method(),
			"path", path,
			"status", status,
			"bytes_in", len(c.Body()),
			"latency_ms", time.Since(start).Milliseconds(),
			"ip", c.IP(),
		)

		return err
	}
}
