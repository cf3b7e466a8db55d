package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Audit emits one structured log line per request.
func Audit(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		fields := []zap.Field{
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Duration("duration", time.Since(start)),
		}
		if id := RequestIDFrom(c); id != "" {
			fields = append(fields, zap.String("request_id", id))
		}
		if uid := UserID(c); uid != "" {
			fields = append(fields, zap.String("user_id", uid))
		}
		if err != nil {
			logger.Error("request completed", append(fields, zap.Error(err))...)
			return err
		}
		if c.Response().StatusCode() >= fiber.StatusInternalServerError {
			logger.Warn("request completed", fields...)
			return nil
		}
		logger.Info("request completed", fields...)
		return nil
	}
}
