// Package server assembles the fiber application of the entity service.
package server

import (
	"time"

	"github.com/ansrivas/fiberprometheus/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	swagger "github.com/gofiber/swagger"
	"github.com/prometheus/client_golang/prometheus"

	_ "github.com/localnerve/jam-build-entitygraph/internal/apidocs" // Swagger docs
	"github.com/localnerve/jam-build-entitygraph/internal/config"
	"github.com/localnerve/jam-build-entitygraph/internal/handlers"
	"github.com/localnerve/jam-build-entitygraph/internal/metrics"
	"github.com/localnerve/jam-build-entitygraph/internal/middleware"
	"github.com/localnerve/jam-build-entitygraph/internal/services"
	"github.com/localnerve/jam-build-entitygraph/internal/utils"
)

// Options tune the application.
type Options struct {
	// Quiet drops the request log, for tests
	Quiet bool
}

// New builds the application serving svc. HTTP and change metrics are registered
// with reg and served at /metrics.
func New(cfg *config.Config, svc *services.EntityService, reg *prometheus.Registry, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		ErrorHandler: utils.ErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	if !opts.Quiet {
		app.Use(logger.New())
	}
	app.Use(compress.New())

	// Prometheus metrics
	prom := fiberprometheus.NewWithRegistry(reg, "entitygraph", "entitygraph", "http", nil)
	prom.RegisterAt(app, "/metrics")
	app.Use(prom.Middleware)
	svc.SetObserver(metrics.New(reg))

	// Swagger documentation
	app.Get("/swagger/*", swagger.HandlerDefault)

	// API routes under /api
	api := app.Group("/api")
	api.Use(middleware.VersionMiddleware())

	entities := &handlers.EntityHandler{Service: svc}
	health := &handlers.HealthHandler{Config: cfg, Service: svc}

	api.Post("/instances", entities.Instances)
	api.Post("/lists", entities.Lists)
	api.Get("/types", entities.Types)
	api.Get("/health", health.Health)

	// Change submission is authenticated when the Authorizer is configured
	auth := middleware.AuthUser(cfg)
	api.Post("/changes", auth, entities.Changes)
	api.Get("/changes", auth, entities.History)

	// 404 handler
	app.Use(func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"status":    fiber.StatusNotFound,
			"message":   "[404] Resource Not Found",
			"ok":        false,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"url":       c.OriginalURL(),
		})
	})

	return app
}
