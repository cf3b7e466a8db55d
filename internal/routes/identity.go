package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/identity"
)

// RegisterIdentityRoutes wires sign-up. Registration opens the user's first wallet.
func RegisterIdentityRoutes(r fiber.Router, h *identity.Handler) {
	r.Post("/identity/register", h.Register)
}
