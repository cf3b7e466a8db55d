package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/funding"
)

// RegisterFundingRoutes wires payout endpoints.
func RegisterFundingRoutes(r fiber.Router, h *funding.Handler) {
	r.Post("/withdrawals", h.Withdraw)
}
