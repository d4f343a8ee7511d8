package logger

import (
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const HeaderRequestID = "X-Request-ID"

// FiberMiddleware tags every request with an id (reusing an inbound
// X-Request-ID), stores a request-scoped logger in the user context and logs
// the outcome once the handler chain returns.
func FiberMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		requestID := c.Get(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(HeaderRequestID, requestID)

		ctx := WithRequestID(c.UserContext(), requestID)
		c.SetUserContext(IntoContext(ctx, Default()))

		err := c.Next()
		latency := time.Since(start)

		route := ""
		if r := c.Route(); r != nil {
			route = r.Path
		}

		attrs := []any{
			"request_id", requestID,
			"status", c.Response().StatusCode(),
			"method", c.Method(),
			"path", c.OriginalURL(),
			"route", route,
			"ip", c.IP(),
			"user_agent", c.Get(fiber.HeaderUserAgent),
			"latency_ms", float64(latency.Microseconds()) / 1000.0,
		}

		if err != nil {
			slog.Error("http request", append(attrs, "err", err.Error())...)
			return err
		}
		slog.Info("http request", attrs...)
		return nil
	}
}
