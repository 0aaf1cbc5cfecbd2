package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/storyreel/jobsync/internal/infrastructure/logger"
)

const RequestIDKey = "request_id"

// RequestID propagates the caller's request id or assigns a new one.
func RequestID(header string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var reqID string
		if header != "" {
			reqID = c.Get(header)
		}
		if reqID == "" {
			reqID = uuid.New().String()
		}
		c.Locals(RequestIDKey, reqID)
		if header != "" {
			c.Set(header, reqID)
		}
		return c.Next()
	}
}

// AccessLog writes one line per request.
func AccessLog(log *logger.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()
		routePath := ""
		if c.Route() != nil {
			routePath = c.Route().Path
		}
		log.Infow("http_access",
			"method", c.Method(),
			"path", c.Path(),
			"route", routePath,
			"status", c.Response().StatusCode(),
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.IP(),
			"user_agent", string(c.Request().Header.UserAgent()),
			"request_id", c.Locals(RequestIDKey),
			"resp_bytes", len(c.Response().Body()),
		)
		return err
	}
}
