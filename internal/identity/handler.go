package identity

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/respond"
)

// Handler exposes identity endpoints.
type Handler struct {
	service *Service
}

// NewHandler constructs an identity HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type registerRequest struct {
	UserName    string `json:"user_name"`
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phone_number"`
}

type registerResponse struct {
	User   User          `json:"user"`
	Wallet ledger.Wallet `json:"wallet"`
}

// Register handles user onboarding.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return respond.BadRequest(c, "invalid request body")
	}
	user, wallet, err := h.service.Register(c.UserContext(), Registration{
		UserName:    req.UserName,
		Email:       req.Email,
		Password:    req.Password,
		PhoneNumber: req.PhoneNumber,
	})
	switch {
	case err == nil:
		return c.Status(http.StatusCreated).JSON(registerResponse{User: user, Wallet: wallet})
	case errors.Is(err, ErrEmailTaken):
		return respond.Error(c, fiber.NewError(http.StatusConflict, err.Error()))
	case isValidationError(err):
		return respond.BadRequest(c, err.Error())
	default:
		return respond.Error(c, err)
	}
}

func isValidationError(err error) bool {
	for _, target := range []error{ErrWeakPassword, ErrInvalidUserName, ErrInvalidEmail, ErrInvalidPhoneNumber} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
