package router

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/storepulse/pulsegate/internal/auth"
	"github.com/storepulse/pulsegate/internal/config"
	"github.com/storepulse/pulsegate/internal/handlers"
	"github.com/storepulse/pulsegate/internal/logging"
	"github.com/storepulse/pulsegate/internal/metrics"
	"github.com/storepulse/pulsegate/internal/middleware"
)

// Dependencies are the collaborators the routes are built from
type Dependencies struct {
	Config   config.Config
	Keys     *auth.Keyring
	Handlers handlers.Options
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer // nil uses the default registry
}

// Setup configures all routes and middlewares
func Setup(app *fiber.App, logger *logging.Logger, deps Dependencies) *handlers.Handler {
	cfg := deps.Config
	h := handlers.New(logger, deps.Handlers)

	// Global middlewares
	app.Use(recover.New())
	app.Use(helmet.New())
	if len(cfg.Server.CORSOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:  strings.Join(cfg.Server.CORSOrigins, ","),
			AllowMethods:  "GET,POST,OPTIONS",
			AllowHeaders:  "Origin,Content-Type,Accept,Authorization,If-None-Match,X-Request-ID",
			ExposeHeaders: "ETag,X-Request-ID",
		}))
	}
	app.Use(logging.FiberMiddleware(logger, logging.DefaultMiddlewareConfig()))

	// Health and metrics (no auth required)
	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	app.Get("/healthz", h.Health)
	app.Get("/readyz", h.Ready)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// Share validation needs no session: the token is the credential
	app.Get("/share/validate", h.ValidateShare)

	session := middleware.SessionAuth(logger, deps.Keys, middleware.SessionAuthConfig{})
	shareOrSession := middleware.SessionAuth(logger, deps.Keys, middleware.SessionAuthConfig{AllowShareToken: true})
	analyticsRoles := middleware.RequireRoles(logger, middleware.AnalyticsRoles...)

	limit := func(c *fiber.Ctx) error { return c.Next() }
	if cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		limit = middleware.RateLimit(logger, limiter, deps.Metrics)
	}

	app.Get("/auth/me", session, h.Me)

	// Analytics routes; a share token stands in for the session
	app.Get("/analytics", shareOrSession, analyticsRoles, limit, h.Analytics)
	app.Post("/analytics", shareOrSession, analyticsRoles, limit, h.AnalyticsPost)
	app.Get("/analytics/catalog", session, analyticsRoles, h.Catalog)
	app.Get("/analytics/meta", session, middleware.RequireRoles(logger, "admin"), limit, h.Meta)

	// Share issuance
	app.Post("/share", session, analyticsRoles, limit, h.CreateShare)

	// 404 handler
	app.Use(h.NotFound)

	return h
}

// New creates a new Fiber app with configuration
func New(logger *logging.Logger, deps Dependencies) *fiber.App {
	appName := deps.Config.Server.AppName
	if appName == "" {
		appName = "PulseGate"
	}
	app := fiber.New(fiber.Config{
		AppName:               appName,
		DisableStartupMessage: true,
		ErrorHandler:          middleware.ErrorHandler(logger),
	})

	Setup(app, logger, deps)

	return app
}
