package api

import (
	"context"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Checker-Finance/agent-connections/internal/metrics"
)

// Options configures the HTTP surface.
type Options struct {
	Prefix          string
	SigningSecret   string
	RateLimitMax    int
	RateLimitWindow time.Duration
}

// RegisterRoutes registers all HTTP routes on the Fiber app.
func RegisterRoutes(app *fiber.App, opts Options, logger *zap.Logger, conns *ConnectionsHandler, admin *AdminHandler) {
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(Metrics())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		healthCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		st := conns.service.Status(healthCtx)
		status, code := "ok", fiber.StatusOK
		if st.Enabled && !st.Reachable {
			status, code = "degraded", fiber.StatusServiceUnavailable
		}
		return c.Status(code).JSON(fiber.Map{
			"status":  status,
			"backend": st,
		})
	})

	// API routes
	v1 := app.Group(opts.Prefix, Identity(opts.SigningSecret, logger))
	if opts.RateLimitMax > 0 {
		v1.Use(limiter.New(limiter.Config{
			Max:        opts.RateLimitMax,
			Expiration: opts.RateLimitWindow,
			KeyGenerator: func(c *fiber.Ctx) string {
				return actorFrom(c).ID
			},
			LimitReached: func(c *fiber.Ctx) error {
				return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "rate limit exceeded"})
			},
		}))
	}

	v1.Post("/", conns.Create)
	v1.Get("/", conns.List)
	v1.Get("/status", conns.Status)
	v1.Get("/admin/all", conns.ListAll)
	v1.Get("/admin/backend", admin.Backend)
	v1.Post("/admin/backend/test", admin.TestVault)
	v1.Get("/:key_id", conns.Get)
	v1.Put("/:key_id", conns.Update)
	v1.Delete("/:key_id", conns.Delete)
}

// Metrics counts responses by matched route, method and status.
func Metrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		metrics.IncHTTPRequest(c.Route().Path, c.Method(), strconv.Itoa(status))
		return err
	}
}
