package funding

import (
	"github.com/shopspring/decimal"

	"github.com/lendwallet/walletd/internal/ledger"
)

// WithdrawRequest captures the payload of POST /withdrawals.
type WithdrawRequest struct {
	WalletID      string          `json:"wallet_id"`
	Amount        decimal.Decimal `json:"amount"`
	AccountNumber string          `json:"account_number"`
	BankCode      string          `json:"bank_code"`
}

// WithdrawResponse is returned for committed withdrawals.
type WithdrawResponse struct {
	Transaction ledger.Transaction  `json:"transaction"`
	Wallet      ledger.Wallet       `json:"wallet"`
	Reversal    *ledger.Transaction `json:"reversal,omitempty"`
}
