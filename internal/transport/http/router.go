package http

import (
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/core/ports"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	"github.com/storyreel/jobsync/internal/transport/http/handlers"
	httpmw "github.com/storyreel/jobsync/internal/transport/http/middleware"
)

type RouterConfig struct {
	Simulator ports.JobSimulator
	Logger    *logger.Logger
	Config    *config.Config
}

func SetupRoutes(app *fiber.App, cfg RouterConfig) {
	jobHandler := handlers.NewJobHandler(cfg.Simulator, cfg.Logger)
	streamHandler := handlers.NewStreamHandler(cfg.Simulator, cfg.Logger)

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Job event streams
	ws := app.Group("/ws", httpmw.BearerAuth(cfg.Config))
	ws.Get("/jobs/:id", streamHandler.Guard, websocket.New(streamHandler.Handle))

	// API v1 routes
	api := app.Group("/api/v1", httpmw.BearerAuth(cfg.Config))
	jobs := api.Group("/jobs")
	jobs.Post("/", jobHandler.CreateJob)
	jobs.Get("/:id/status", jobHandler.GetStatus)
}
