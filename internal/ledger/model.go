package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionKind classifies a money movement.
type TransactionKind string

const (
	KindDeposit    TransactionKind = "deposit"
	KindWithdrawal TransactionKind = "withdrawal"
	KindTransfer   TransactionKind = "transfer"
	// KindReversal re-credits a wallet after a withdrawal payout failed.
	KindReversal TransactionKind = "reversal"
)

// Status is the outcome recorded on a transaction.
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Wallet is a currency-denominated balance owned by exactly one user.
type Wallet struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Currency  string          `json:"currency"`
	Balance   decimal.Decimal `json:"balance"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Transaction is an immutable audit record of a money movement.
type Transaction struct {
	ID                      string              `json:"id"`
	SourceWalletID          string              `json:"source_wallet_id,omitempty"`
	DestinationWalletID     string              `json:"destination_wallet_id,omitempty"`
	Amount                  decimal.Decimal     `json:"amount"`
	Kind                    TransactionKind     `json:"kind"`
	Status                  Status              `json:"status"`
	IdempotencyKey          string              `json:"-"`
	Reference               string              `json:"reference,omitempty"`
	SourceBalanceAfter      decimal.NullDecimal `json:"-"`
	DestinationBalanceAfter decimal.NullDecimal `json:"-"`
	CreatedAt               time.Time           `json:"created_at"`
}

// Balance is the read-only view returned by Service.Balance.
type Balance struct {
	WalletID string          `json:"wallet_id"`
	Currency string          `json:"currency"`
	Amount   decimal.Decimal `json:"balance"`
	AsOf     time.Time       `json:"as_of"`
}

// Result is the outcome of a committed balance mutation.
type Result struct {
	Transaction Transaction `json:"transaction"`
	// Wallet is the source (debited or credited) wallet as of the commit.
	Wallet Wallet `json:"wallet"`
	// Counterparty is the credited wallet of a transfer.
	Counterparty *Wallet `json:"counterparty,omitempty"`
	// Reversal is the compensating re-credit written when a withdrawal payout failed.
	Reversal *Transaction `json:"reversal,omitempty"`
	// Replayed is set when the result was served from an earlier commit with the same idempotency key.
	Replayed bool `json:"-"`
}

// Event is written to the outbox in the same unit of work as a success record.
type Event struct {
	ID                  string          `json:"id"`
	Type                string          `json:"type"`
	TransactionID       string          `json:"transaction_id"`
	Kind                TransactionKind `json:"kind"`
	SourceWalletID      string          `json:"source_wallet_id,omitempty"`
	DestinationWalletID string          `json:"destination_wallet_id,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Currency            string          `json:"currency"`
	OccurredAt          time.Time       `json:"occurred_at"`
}

// EventTransactionCommitted is the outbox event type for committed mutations.
const EventTransactionCommitted = "ledger.transaction.committed"

// ListOptions paginates transaction history.
type ListOptions struct {
	Limit  int
	Offset int
}

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

func (o ListOptions) normalize() ListOptions {
	if o.Limit <= 0 {
		o.Limit = defaultListLimit
	}
	if o.Limit > maxListLimit {
		o.Limit = maxListLimit
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
	return o
}
