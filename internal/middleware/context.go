package middleware

import "github.com/gofiber/fiber/v2"

const (
	localUserID         = "user_id"
	localIdempotencyKey = "idempotency_key"
	localRequestID      = "request_id"
)

// UserID returns the authenticated actor id set by JWTAuth.
func UserID(c *fiber.Ctx) string {
	id, _ := c.Locals(localUserID).(string)
	return id
}

// IdempotencyKey returns the caller's Idempotency-Key, scoped to the actor, as
// validated by Idempotency.
func IdempotencyKey(c *fiber.Ctx) string {
	key, _ := c.Locals(localIdempotencyKey).(string)
	return key
}

// RequestIDFrom returns the request id assigned by RequestID.
func RequestIDFrom(c *fiber.Ctx) string {
	id, _ := c.Locals(localRequestID).(string)
	return id
}
