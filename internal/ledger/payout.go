package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// PayoutDetails identifies the external bank account receiving a withdrawal.
type PayoutDetails struct {
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
}

// PayoutRequest is handed to the gateway after the withdrawal debit commits.
type PayoutRequest struct {
	// WithdrawalID doubles as the gateway idempotency key.
	WithdrawalID string
	WalletID     string
	Amount       decimal.Decimal
	Currency     string
	Details      PayoutDetails
}

// PayoutResult is the gateway's answer for an accepted payout.
type PayoutResult struct {
	ProviderReference string
	Status            string
}

// PayoutGateway disburses withdrawn funds to an external account. A returned
// error means the payout did not happen and the wallet must be re-credited.
type PayoutGateway interface {
	Disburse(ctx context.Context, req PayoutRequest) (PayoutResult, error)
}

// DepositVerification is the deposit provider's view of an inbound payment.
type DepositVerification struct {
	Reference string
	// WalletID is the wallet the payment was made for, taken from provider metadata.
	WalletID  string
	Amount    decimal.Decimal
	Currency  string
	Succeeded bool
	// Message explains an unsuccessful payment.
	Message string
}

// DepositVerifier confirms inbound payments by provider reference. An error
// means the provider could not be asked; a payment it rejected is reported
// with Succeeded false.
type DepositVerifier interface {
	VerifyDeposit(ctx context.Context, reference string) (DepositVerification, error)
}
