package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// WalletStore holds wallet records. Plain reads never back a mutation decision.
type WalletStore interface {
	CreateWallet(ctx context.Context, w Wallet) (Wallet, error)
	Wallet(ctx context.Context, id string) (Wallet, error)
	WalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error)
}

// TransactionLog is the read side of the append-only transaction log.
type TransactionLog interface {
	Transaction(ctx context.Context, id string) (Transaction, error)
	TransactionByIdempotencyKey(ctx context.Context, key string) (Transaction, error)
	TransactionsForWallet(ctx context.Context, walletID string, opts ListOptions) ([]Transaction, error)
}

// Store is implemented by ledger backends (Postgres, in-memory).
type Store interface {
	WalletStore
	TransactionLog
	// Begin opens a unit of work. Every balance write goes through one.
	Begin(ctx context.Context) (UnitOfWork, error)
}

// UnitOfWork is a single all-or-nothing boundary holding row locks until Commit or Rollback.
type UnitOfWork interface {
	// GetForUpdate locks the wallet row until the unit of work ends.
	GetForUpdate(ctx context.Context, id string) (Wallet, error)
	// WriteBalance persists a new balance for a wallet locked by this unit of work.
	WriteBalance(ctx context.Context, id string, balance decimal.Decimal) (Wallet, error)
	// Append persists a transaction record and returns it with id and timestamp set.
	Append(ctx context.Context, t Transaction) (Transaction, error)
	FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error)
	Enqueue(ctx context.Context, e Event) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
