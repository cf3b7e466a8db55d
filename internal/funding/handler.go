package funding

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/middleware"
	"github.com/lendwallet/walletd/internal/respond"
)

// Handler exposes the withdrawal endpoint.
type Handler struct {
	ledger *ledger.Service
	logger *zap.Logger
}

// NewHandler constructs a funding handler.
func NewHandler(svc *ledger.Service, logger *zap.Logger) *Handler {
	return &Handler{ledger: svc, logger: logger}
}

// Withdraw debits the caller's wallet and pays the amount out to a bank account.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	var req WithdrawRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	if strings.TrimSpace(req.AccountNumber) == "" || strings.TrimSpace(req.BankCode) == "" {
		return respond.BadRequest(c, "account_number and bank_code are required")
	}

	res, err := h.ledger.Withdraw(c.UserContext(), ledger.WithdrawRequest{
		WalletID:       req.WalletID,
		Amount:         req.Amount,
		ActorID:        middleware.UserID(c),
		IdempotencyKey: middleware.IdempotencyKey(c),
		Details: ledger.PayoutDetails{
			AccountNumber: strings.TrimSpace(req.AccountNumber),
			BankCode:      strings.TrimSpace(req.BankCode),
		},
	})
	if err != nil {
		if errors.Is(err, ledger.ErrExternalDependency) && res.Reversal != nil {
			return c.Status(respond.Status(ledger.KindExternalDependency)).JSON(fiber.Map{
				"error":       respond.ErrorDetail{Kind: string(ledger.KindExternalDependency), Message: "payout failed, withdrawal reversed"},
				"transaction": res.Transaction,
				"reversal":    res.Reversal,
				"wallet":      res.Wallet,
			})
		}
		return respond.Error(c, err)
	}

	return c.Status(http.StatusCreated).JSON(WithdrawResponse{Transaction: res.Transaction, Wallet: res.Wallet})
}
