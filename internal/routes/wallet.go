package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	r.Post("/wallets", h.Create)
	r.Get("/wallets", h.List)
	r.Get("/wallets/:walletId/balance", h.Balance)
	r.Get("/wallets/:walletId/transactions", h.Transactions)
	r.Post("/wallets/:walletId/deposit", h.Deposit)
	r.Post("/wallets/:walletId/deposit/verify", h.VerifyDeposit)
	r.Get("/transactions/:id", h.Transaction)
}
