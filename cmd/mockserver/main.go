package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/storyreel/jobsync/internal/config"
	"github.com/storyreel/jobsync/internal/core/services"
	"github.com/storyreel/jobsync/internal/domain"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
	transporthttp "github.com/storyreel/jobsync/internal/transport/http"
	httpmw "github.com/storyreel/jobsync/internal/transport/http/middleware"
)

func main() {
	configPath := os.Getenv("JOBSYNC_CONFIG")
	if configPath == "" {
		configPath = "config/config.yaml"
		if _, err := os.Stat(configPath); os.IsNotExist(err) {
			configPath = ""
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(cfg.Logger)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer log.Sync()

	var scenarios map[domain.JobKind]domain.Scenario
	if cfg.Simulator.ScenarioPath != "" {
		scenarios, err = config.LoadScenarios(cfg.Simulator.ScenarioPath)
		if err != nil {
			log.Fatalf("failed to load scenarios: %v", err)
		}
		log.Infow("scenarios loaded", "path", cfg.Simulator.ScenarioPath, "count", len(scenarios))
	}
	simulator, err := services.NewJobSimulator(scenarios, cfg.Simulator.Speed, log)
	if err != nil {
		log.Fatalf("failed to create simulator: %v", err)
	}

	app := fiber.New(fiber.Config{
		ReadTimeout:           cfg.Server.ReadTimeout,
		WriteTimeout:          cfg.Server.WriteTimeout,
		IdleTimeout:           cfg.Server.IdleTimeout,
		ErrorHandler:          globalErrorHandler(log),
		DisableStartupMessage: true,
	})

	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	allowedOrigins := "http://localhost:3000"
	if len(cfg.Auth.AllowedOrigins) > 0 {
		allowedOrigins = strings.Join(cfg.Auth.AllowedOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + cfg.Features.RequestIDHeader,
		AllowMethods: "GET, POST, HEAD",
	}))

	app.Use(httpmw.RequestID(cfg.Features.RequestIDHeader))
	if cfg.Features.EnableRequestLogging {
		app.Use(httpmw.AccessLog(log))
	}

	transporthttp.SetupRoutes(app, transporthttp.RouterConfig{
		Simulator: simulator,
		Logger:    log,
		Config:    cfg,
	})

	addr := cfg.Server.Address()
	go func() {
		if err := app.Listen(addr); err != nil {
			log.Fatalf("server failed to start: %v", err)
		}
	}()
	log.Infof("mock job backend started on %s", addr)

	gracefulShutdown(app, simulator, log)
}

func globalErrorHandler(log *logger.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		if e, ok := err.(*fiber.Error); ok {
			code = e.Code
		}

		fields := []interface{}{
			"method", c.Method(),
			"path", c.Path(),
			"status", code,
			"error", err.Error(),
			"request_id", c.Locals(httpmw.RequestIDKey),
		}
		if code < fiber.StatusInternalServerError {
			log.Warnw("request failed", fields...)
		} else {
			log.Errorw("request error", fields...)
		}

		return c.Status(code).JSON(fiber.Map{
			"error": err.Error(),
		})
	}
}

func gracefulShutdown(app *fiber.App, simulator *services.JobSimulator, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	log.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	simulator.Close()
	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Errorf("server forced to shutdown: %v", err)
	}

	log.Info("server exited gracefully")
}
