package payments

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/middleware"
	"github.com/lendwallet/walletd/internal/respond"
)

// Handler exposes the wallet-to-wallet transfer endpoint.
type Handler struct {
	ledger *ledger.Service
}

// NewHandler constructs a payment handler.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{ledger: svc}
}

type transferRequest struct {
	SourceWalletID      string          `json:"source_wallet_id"`
	DestinationWalletID string          `json:"destination_wallet_id"`
	Amount              decimal.Decimal `json:"amount"`
}

type transferResponse struct {
	Transaction ledger.Transaction `json:"transaction"`
	Wallet      ledger.Wallet      `json:"wallet"`
}

// Transfer moves funds from one of the caller's wallets to any wallet in the
// same currency. Only the source wallet is returned; the destination belongs
// to someone else.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	if req.SourceWalletID == "" || req.DestinationWalletID == "" {
		return respond.BadRequest(c, "source_wallet_id and destination_wallet_id are required")
	}

	res, err := h.ledger.Transfer(c.UserContext(), ledger.TransferRequest{
		SourceWalletID:      req.SourceWalletID,
		DestinationWalletID: req.DestinationWalletID,
		Amount:              req.Amount,
		ActorID:             middleware.UserID(c),
		IdempotencyKey:      middleware.IdempotencyKey(c),
	})
	if err != nil {
		return respond.Error(c, err)
	}
	return c.Status(http.StatusCreated).JSON(transferResponse{Transaction: res.Transaction, Wallet: res.Wallet})
}
