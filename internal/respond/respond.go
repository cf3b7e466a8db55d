// Package respond translates ledger outcomes into HTTP responses.
package respond

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/lendwallet/walletd/internal/ledger"
)

// RetryAfterSeconds is advertised on contention responses.
const RetryAfterSeconds = "1"

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a stable machine-readable kind and a human message.
type ErrorDetail struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Status maps a ledger error kind to an HTTP status code.
func Status(kind ledger.Kind) int {
	switch kind {
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindUnauthorized:
		return http.StatusForbidden
	case ledger.KindInvalidAmount,
		ledger.KindSameWalletTransfer,
		ledger.KindCurrencyMismatch,
		ledger.KindUnsupportedCurrency,
		ledger.KindIdempotencyConflict,
		ledger.KindPaymentNotVerified,
		ledger.KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case ledger.KindContention:
		return http.StatusServiceUnavailable
	case ledger.KindExternalDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error writes err as a JSON error response. fiber errors keep their code;
// ledger errors are mapped by kind; anything else is a 500 without details.
func Error(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(ErrorBody{Error: ErrorDetail{Kind: kindForStatus(fe.Code), Message: fe.Message}})
	}

	var le *ledger.Error
	if !errors.As(err, &le) {
		return c.Status(http.StatusInternalServerError).JSON(ErrorBody{Error: ErrorDetail{
			Kind:    string(ledger.KindPersistence),
			Message: ledger.ErrPersistence.Message,
		}})
	}

	if le.Kind == ledger.KindContention {
		c.Set(fiber.HeaderRetryAfter, RetryAfterSeconds)
	}
	return c.Status(Status(le.Kind)).JSON(ErrorBody{Error: ErrorDetail{Kind: string(le.Kind), Message: le.Message}})
}

// BadRequest reports malformed input that never reached the ledger.
func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(http.StatusBadRequest).JSON(ErrorBody{Error: ErrorDetail{Kind: "bad_request", Message: message}})
}

func kindForStatus(code int) string {
	switch code {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthenticated"
	case http.StatusNotFound:
		return string(ledger.KindNotFound)
	case http.StatusConflict:
		return "conflict"
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusMethodNotAllowed:
		return "method_not_allowed"
	default:
		if code >= 500 {
			return "internal"
		}
		return "request_error"
	}
}
