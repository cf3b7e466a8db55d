package wallet

import (
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/middleware"
	"github.com/lendwallet/walletd/internal/respond"
)

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	ledger *ledger.Service
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(svc *ledger.Service) *Handler {
	return &Handler{ledger: svc}
}

type createRequest struct {
	Currency string `json:"currency"`
}

type depositRequest struct {
	Amount    decimal.Decimal `json:"amount"`
	Reference string          `json:"reference"`
}

type verifyDepositRequest struct {
	Reference string `json:"reference"`
}

type mutationResponse struct {
	Transaction ledger.Transaction `json:"transaction"`
	Wallet      ledger.Wallet      `json:"wallet"`
}

type transactionsResponse struct {
	WalletID     string               `json:"wallet_id"`
	Transactions []ledger.Transaction `json:"transactions"`
}

// Create provisions a wallet for the authenticated caller.
func (h *Handler) Create(c *fiber.Ctx) error {
	var req createRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return respond.BadRequest(c, "invalid request body")
		}
	}
	w, err := h.ledger.CreateWallet(c.UserContext(), middleware.UserID(c), req.Currency)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.Status(http.StatusCreated).JSON(w)
}

// List returns the caller's wallets.
func (h *Handler) List(c *fiber.Ctx) error {
	wallets, err := h.ledger.WalletsByOwner(c.UserContext(), middleware.UserID(c))
	if err != nil {
		return respond.Error(c, err)
	}
	if wallets == nil {
		wallets = []ledger.Wallet{}
	}
	return c.Status(http.StatusOK).JSON(fiber.Map{"wallets": wallets})
}

// Balance returns the balance of one of the caller's wallets.
func (h *Handler) Balance(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	if _, err := h.ledger.OwnedWallet(c.UserContext(), walletID, middleware.UserID(c)); err != nil {
		return respond.Error(c, err)
	}
	balance, err := h.ledger.Balance(c.UserContext(), walletID)
	if err != nil {
		return respond.Error(c, err)
	}
	return c.Status(http.StatusOK).JSON(balance)
}

// Transactions pages through the history of one of the caller's wallets.
func (h *Handler) Transactions(c *fiber.Ctx) error {
	walletID := c.Params("walletId")
	if _, err := h.ledger.OwnedWallet(c.UserContext(), walletID, middleware.UserID(c)); err != nil {
		return respond.Error(c, err)
	}
	txs, err := h.ledger.Transactions(c.UserContext(), walletID, ledger.ListOptions{
		Limit:  c.QueryInt("limit", 0),
		Offset: c.QueryInt("offset", 0),
	})
	if err != nil {
		return respond.Error(c, err)
	}
	if txs == nil {
		txs = []ledger.Transaction{}
	}
	return c.Status(http.StatusOK).JSON(transactionsResponse{
		WalletID:     walletID,
		Transactions: txs,
	})
}

// Transaction returns a single record the caller took part in.
func (h *Handler) Transaction(c *fiber.Ctx) error {
	tx, err := h.ledger.Transaction(c.UserContext(), c.Params("id"), middleware.UserID(c))
	if err != nil {
		return respond.Error(c, err)
	}
	return c.Status(http.StatusOK).JSON(tx)
}

// Deposit credits one of the caller's wallets with the amount in the request.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	var req depositRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	res, err := h.ledger.Fund(c.UserContext(), ledger.FundRequest{
		WalletID:       c.Params("walletId"),
		Amount:         req.Amount,
		ActorID:        middleware.UserID(c),
		IdempotencyKey: middleware.IdempotencyKey(c),
		Reference:      req.Reference,
	})
	if err != nil {
		return respond.Error(c, err)
	}
	return c.Status(http.StatusCreated).JSON(mutationResponse{Transaction: res.Transaction, Wallet: res.Wallet})
}

// VerifyDeposit credits one of the caller's wallets with a payment confirmed by
// the deposit provider. The provider reference, not the request's idempotency
// key, deduplicates the credit.
func (h *Handler) VerifyDeposit(c *fiber.Ctx) error {
	var req verifyDepositRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	if req.Reference == "" {
		return respond.BadRequest(c, "reference is required")
	}
	res, err := h.ledger.FundVerified(c.UserContext(), ledger.VerifiedDepositRequest{
		WalletID:  c.Params("walletId"),
		Reference: req.Reference,
		ActorID:   middleware.UserID(c),
	})
	if err != nil {
		return respond.Error(c, err)
	}
	return c.Status(http.StatusCreated).JSON(mutationResponse{Transaction: res.Transaction, Wallet: res.Wallet})
}
