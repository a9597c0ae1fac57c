package server

import (
	"bytes"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
)

func TestLoggingMiddleware_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	app := fiber.New()
	app.Use(LoggingMiddleware(logger))
	app.Post("/api/scan", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusAccepted) })
	app.Get("/api/pose", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/api/boom", func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusInternalServerError) })

	for _, path := range []string{"/api/pose", "/api/boom"} {
		resp, err := app.Test(httptest.NewRequest("GET", path, nil))
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		resp.Body.Close()
	}
	resp, err := app.Test(httptest.NewRequest("POST", "/api/scan", strings.NewReader("{}")))
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	resp.Body.Close()

	out := buf.String()
	if !strings.Contains(out, "path=/api/pose") {
		t.Errorf("expected pose request logged, got %q", out)
	}
	if !strings.Contains(out, "level=WARN") || !strings.Contains(out, "path=/api/boom") {
		t.Errorf("expected 5xx logged at warn, got %q", out)
	}
	if strings.Contains(out, "path=/api/scan") {
		t.Errorf("expected scan ingestion below info, got %q", out)
	}
}
