package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/auth"
	"github.com/lendwallet/walletd/internal/identity"
	"github.com/lendwallet/walletd/internal/respond"
)

// UserLookup confirms the token subject still exists.
type UserLookup interface {
	User(ctx context.Context, id string) (identity.User, error)
}

// JWTAuth returns a middleware that validates bearer access tokens and
// stores the subject as the request's actor id.
func JWTAuth(tokens *auth.TokenService, users UserLookup) fiber.Handler {
	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
			return respond.Error(c, fiber.NewError(http.StatusUnauthorized, "missing bearer token"))
		}
		claims, err := tokens.Parse(strings.TrimSpace(authz[len("Bearer "):]))
		if err != nil {
			return respond.Error(c, fiber.NewError(http.StatusUnauthorized, "invalid token"))
		}
		if users != nil {
			if _, err := users.User(c.UserContext(), claims.Subject); err != nil {
				return respond.Error(c, fiber.NewError(http.StatusUnauthorized, "invalid token"))
			}
		}
		c.Locals(localUserID, claims.Subject)
		return c.Next()
	}
}
