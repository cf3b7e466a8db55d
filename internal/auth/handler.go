package auth

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/lendwallet/walletd/internal/identity"
	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/respond"
)

// Handler exposes the login endpoint.
type Handler struct {
	ids     *identity.Service
	tokens  *TokenService
	wallets *ledger.Service
	logger  *zap.Logger
}

func NewHandler(ids *identity.Service, tokens *TokenService, wallets *ledger.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{ids: ids, tokens: tokens, wallets: wallets, logger: logger}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken
	User    identity.User   `json:"user"`
	Wallets []ledger.Wallet `json:"wallets"`
}

// Login validates credentials and returns an access token with the caller's wallets.
func (h *Handler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	if req.Email == "" || req.Password == "" {
		return respond.BadRequest(c, "email and password are required")
	}

	user, err := h.ids.Authenticate(c.UserContext(), identity.Credentials{Email: req.Email, Password: req.Password})
	if errors.Is(err, identity.ErrInvalidCredentials) {
		return respond.Error(c, fiber.NewError(http.StatusUnauthorized, err.Error()))
	}
	if err != nil {
		h.logger.Error("authenticate", zap.Error(err))
		return respond.Error(c, err)
	}

	token, err := h.tokens.Issue(user)
	if err != nil {
		h.logger.Error("issue token", zap.String("user_id", user.ID), zap.Error(err))
		return respond.Error(c, err)
	}

	wallets, err := h.wallets.WalletsByOwner(c.UserContext(), user.ID)
	if err != nil {
		return respond.Error(c, err)
	}
	if wallets == nil {
		wallets = []ledger.Wallet{}
	}
	return c.Status(http.StatusOK).JSON(loginResponse{AccessToken: token, User: user, Wallets: wallets})
}
