package main

import (
	"context"
	"strings"
	"time"

	"note-sync/cmd/server/handlers"
	docsHandlers "note-sync/cmd/server/handlers/docs"
	"note-sync/cmd/server/handlers/httperr"
	"note-sync/cmd/server/middlewares"
	"note-sync/internal/clients/mongo"
	"note-sync/internal/config"
	"note-sync/internal/logger"
	docsServices "note-sync/internal/services/docs"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

const (
	RateLimitExpiration = 1 * time.Minute
)

// setupRouter configures and returns a Fiber app with all routes
func setupRouter(ctx context.Context, cfg config.Config) *fiber.App {

	v := validator.New()

	// Validate JWT algorithm at boot
	alg := strings.ToUpper(cfg.JWTAlgorithm)
	switch alg {
	case "HS256":
		// Valid algorithm
	default:
		logger.L().Error("unsupported JWT algorithm", "algorithm", cfg.JWTAlgorithm)
		panic("unsupported JWT algorithm: " + cfg.JWTAlgorithm)
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: httperr.Handler,
		Immutable:    true, // make Fiber copy all request-derived strings
	})

	// Global middlewares
	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Content-Type, Authorization",
	}))

	// Documents wiring: one registry of live rooms shared by the REST
	// surface (broadcasts) and the collaboration socket.
	docsRepo, err := mongo.NewDocsRepo(ctx, mongo.DB())
	if err != nil {
		logger.L().Error(docsServices.ErrCreateDocumentsRepo.Error(), "error", err)
		panic(err)
	}
	registry := docsServices.NewRegistry(cfg.WSOutboxBuffer)
	manager := docsServices.NewManager(docsRepo, registry, logger.L())
	docsSvc := docsServices.NewService(docsRepo, registry, logger.L())
	docsH := docsHandlers.NewHandlers(docsSvc, v)

	if cfg.RouteMetricsEnabled {
		middlewares.AttachMetrics(app, registry)
	}

	// Health check endpoint, outside versioned API to appease scanners and to avoid logging
	app.Get("/healthz", handlers.Healthz)

	var v1 fiber.Router
	if cfg.RequestLoggingEnabled {
		v1 = app.Group("/api/v1", fiberlogger.New())
		logger.L().Info("request logging enabled")
	} else {
		v1 = app.Group("/api/v1")
		logger.L().Info("request logging disabled")
	}

	jwtMiddleware := middlewares.JWT(cfg)

	docsGrp := v1.Group("/documents", jwtMiddleware)
	docsGrp.Post("/", docsH.Create)
	docsGrp.Get("/", docsH.List)
	docsGrp.Get("/:id", docsH.Get)
	docsGrp.Patch("/:id", docsH.Update)
	docsGrp.Delete("/:id", docsH.Delete)
	docsGrp.Put("/:id/share", docsH.Share)
	docsGrp.Delete("/:id/share/:userId", docsH.Unshare)
	docsGrp.Put("/:id/publish", docsH.Publish)

	// WebSocket routes. Joins are rate-limited per IP so a reconnect
	// loop cannot hammer the access evaluator.
	wsHandlers := docsHandlers.NewWebSocketHandlers(manager, cfg.JWTSecret, cfg.WSMaxSessionSec, cfg.WSOutboxBuffer)
	app.Use("/ws", docsHandlers.LogWSConnections(cfg.JWTSecret))
	app.Get("/ws/docs/stream",
		middlewares.BuildRateLimiter(cfg.JoinRatePerMin, RateLimitExpiration),
		wsHandlers.WSUpgrade,
		websocket.New(wsHandlers.WSCollabStream),
	)

	// User profile endpoint (for testing JWT middleware and for future use)
	v1.Get("/me", jwtMiddleware, handlers.Me)

	return app
}
