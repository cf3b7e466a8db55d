package routes

import (
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/identity"
	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/middleware"
	"github.com/lendwallet/walletd/internal/respond"
)

// RegisterMeRoute exposes the caller's profile together with their wallets.
func RegisterMeRoute(r fiber.Router, ids *identity.Service, wallets *ledger.Service) {
	r.Get("/me", func(c *fiber.Ctx) error {
		uid := middleware.UserID(c)
		user, err := ids.User(c.UserContext(), uid)
		if err != nil {
			return respond.Error(c, fiber.NewError(http.StatusUnauthorized, "user not found"))
		}
		owned, err := wallets.WalletsByOwner(c.UserContext(), uid)
		if err != nil {
			return respond.Error(c, err)
		}
		if owned == nil {
			owned = []ledger.Wallet{}
		}
		return c.Status(http.StatusOK).JSON(fiber.Map{"user": user, "wallets": owned})
	})
}
