package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	pgUniqueViolation      = "23505"
	pgLockNotAvailable     = "55P03"
	pgDeadlockDetected     = "40P01"
	pgSerializationFailure = "40001"
	pgInvalidTextRepr      = "22P02"

	idempotencyKeyConstraint = "transactions_idempotency_key_key"
)

// PostgresStore persists wallets and transactions in PostgreSQL and serializes
// mutations with SELECT ... FOR UPDATE row locks.
type PostgresStore struct {
	db          *pgxpool.Pool
	lockTimeout time.Duration
}

// NewPostgresStore constructs a Postgres-backed ledger store. lockTimeout bounds
// how long a unit of work waits for a row lock before failing with Contention.
func NewPostgresStore(db *pgxpool.Pool, lockTimeout time.Duration) *PostgresStore {
	return &PostgresStore{db: db, lockTimeout: lockTimeout}
}

const walletColumns = `id::text, owner_id::text, currency, balance::text, created_at, updated_at`

const transactionColumns = `id::text, COALESCE(source_wallet_id::text, ''), COALESCE(destination_wallet_id::text, ''),
        amount::text, kind, status, COALESCE(idempotency_key, ''), COALESCE(reference, ''),
        source_balance_after::text, destination_balance_after::text, created_at`

// CreateWallet inserts a new wallet row.
func (s *PostgresStore) CreateWallet(ctx context.Context, w Wallet) (Wallet, error) {
	if _, err := uuid.Parse(w.OwnerID); err != nil {
		return Wallet{}, ErrUnauthorized
	}
	query := `INSERT INTO wallets (id, owner_id, currency, balance) VALUES ($1, $2, $3, $4::numeric)
        RETURNING ` + walletColumns
	row := s.db.QueryRow(ctx, query, uuid.New(), w.OwnerID, w.Currency, w.Balance.String())
	return scanWallet(row)
}

// Wallet is a plain, non-locking read.
func (s *PostgresStore) Wallet(ctx context.Context, id string) (Wallet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	w, err := scanWallet(s.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil {
		return Wallet{}, mapPgError(err, ErrWalletNotFound)
	}
	return w, nil
}

// WalletsByOwner lists an owner's wallets, oldest first.
func (s *PostgresStore) WalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	if _, err := uuid.Parse(ownerID); err != nil {
		return []Wallet{}, nil
	}
	rows, err := s.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, mapPgError(err, nil)
	}
	defer rows.Close()

	wallets := []Wallet{}
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// Transaction loads a single transaction record.
func (s *PostgresStore) Transaction(ctx context.Context, id string) (Transaction, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Transaction{}, ErrTransactionNotFound
	}
	t, err := scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1`, id))
	if err != nil {
		return Transaction{}, mapPgError(err, ErrTransactionNotFound)
	}
	return t, nil
}

// TransactionByIdempotencyKey loads the record committed under key.
func (s *PostgresStore) TransactionByIdempotencyKey(ctx context.Context, key string) (Transaction, error) {
	t, err := scanTransaction(s.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if err != nil {
		return Transaction{}, mapPgError(err, ErrTransactionNotFound)
	}
	return t, nil
}

// TransactionsForWallet lists records touching the wallet, newest first.
func (s *PostgresStore) TransactionsForWallet(ctx context.Context, walletID string, opts ListOptions) ([]Transaction, error) {
	if _, err := uuid.Parse(walletID); err != nil {
		return []Transaction{}, nil
	}
	query := `SELECT ` + transactionColumns + ` FROM transactions
        WHERE source_wallet_id = $1 OR destination_wallet_id = $1
        ORDER BY created_at DESC, id DESC
        LIMIT $2 OFFSET $3`
	rows, err := s.db.Query(ctx, query, walletID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, mapPgError(err, nil)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// Begin opens a READ COMMITTED transaction with a bounded lock wait.
func (s *PostgresStore) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, mapPgError(err, nil)
	}
	if s.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", s.lockTimeout.Milliseconds())
		if _, err := tx.Exec(ctx, stmt); err != nil {
			_ = tx.Rollback(ctx)
			return nil, mapPgError(err, nil)
		}
	}
	return &pgUnitOfWork{tx: tx, locked: make(map[string]bool, 2)}, nil
}

type pgUnitOfWork struct {
	tx     pgx.Tx
	locked map[string]bool
}

func (u *pgUnitOfWork) GetForUpdate(ctx context.Context, id string) (Wallet, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Wallet{}, ErrWalletNotFound
	}
	w, err := scanWallet(u.tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return Wallet{}, mapPgError(err, ErrWalletNotFound)
	}
	u.locked[w.ID] = true
	return w, nil
}

func (u *pgUnitOfWork) WriteBalance(ctx context.Context, id string, balance decimal.Decimal) (Wallet, error) {
	if !u.locked[id] {
		return Wallet{}, fmt.Errorf("write balance: wallet %s is not locked by this unit of work", id)
	}
	if balance.IsNegative() {
		return Wallet{}, fmt.Errorf("write balance: negative balance %s for wallet %s", balance.String(), id)
	}
	query := `UPDATE wallets SET balance = $2::numeric, updated_at = now() WHERE id = $1 RETURNING ` + walletColumns
	w, err := scanWallet(u.tx.QueryRow(ctx, query, id, balance.String()))
	if err != nil {
		return Wallet{}, mapPgError(err, ErrWalletNotFound)
	}
	return w, nil
}

func (u *pgUnitOfWork) Append(ctx context.Context, t Transaction) (Transaction, error) {
	query := `INSERT INTO transactions (id, source_wallet_id, destination_wallet_id, amount, kind, status,
            idempotency_key, reference, source_balance_after, destination_balance_after)
        VALUES ($1, NULLIF($2, '')::uuid, NULLIF($3, '')::uuid, $4::numeric, $5, $6, NULLIF($7, ''), NULLIF($8, ''), $9::numeric, $10::numeric)
        RETURNING ` + transactionColumns
	row := u.tx.QueryRow(ctx, query,
		uuid.New(),
		t.SourceWalletID,
		t.DestinationWalletID,
		t.Amount.String(),
		string(t.Kind),
		string(t.Status),
		t.IdempotencyKey,
		t.Reference,
		nullDecimalText(t.SourceBalanceAfter),
		nullDecimalText(t.DestinationBalanceAfter),
	)
	out, err := scanTransaction(row)
	if err != nil {
		return Transaction{}, mapPgError(err, nil)
	}
	return out, nil
}

func (u *pgUnitOfWork) FindByIdempotencyKey(ctx context.Context, key string) (Transaction, bool, error) {
	t, err := scanTransaction(u.tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, key))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, false, nil
	}
	if err != nil {
		return Transaction{}, false, mapPgError(err, nil)
	}
	return t, true, nil
}

func (u *pgUnitOfWork) Enqueue(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode outbox event: %w", err)
	}
	key := e.SourceWalletID
	_, err = u.tx.Exec(ctx, `INSERT INTO outbox_messages (id, event_type, key, payload, status) VALUES ($1, $2, $3, $4, 'pending')`,
		e.ID, e.Type, key, payload)
	if err != nil {
		return mapPgError(err, nil)
	}
	return nil
}

func (u *pgUnitOfWork) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return mapPgError(err, nil)
	}
	return nil
}

// Rollback is a no-op once the transaction has ended; pgx closes a failed
// commit's transaction and the server discards it.
func (u *pgUnitOfWork) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

// mapPgError translates driver errors. notFound is returned for pgx.ErrNoRows when non-nil.
func mapPgError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) && notFound != nil {
		return notFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgLockNotAvailable, pgDeadlockDetected, pgSerializationFailure:
			return newError(KindContention, ErrContention.Message, err)
		case pgUniqueViolation:
			if pgErr.ConstraintName == idempotencyKeyConstraint {
				return fmt.Errorf("%w: %s", errDuplicateIdempotencyKey, pgErr.Message)
			}
		case pgInvalidTextRepr:
			if notFound != nil {
				return notFound
			}
		}
	}
	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanWallet(row scanner) (Wallet, error) {
	var (
		w       Wallet
		balance string
	)
	if err := row.Scan(&w.ID, &w.OwnerID, &w.Currency, &balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		return Wallet{}, err
	}
	d, err := decimal.NewFromString(balance)
	if err != nil {
		return Wallet{}, fmt.Errorf("decode wallet balance: %w", err)
	}
	w.Balance = d
	w.CreatedAt = w.CreatedAt.UTC()
	w.UpdatedAt = w.UpdatedAt.UTC()
	return w, nil
}

func scanTransaction(row scanner) (Transaction, error) {
	var (
		t                    Transaction
		amount, kind, status string
		srcAfter, dstAfter   *string
	)
	err := row.Scan(&t.ID, &t.SourceWalletID, &t.DestinationWalletID, &amount, &kind, &status,
		&t.IdempotencyKey, &t.Reference, &srcAfter, &dstAfter, &t.CreatedAt)
	if err != nil {
		return Transaction{}, err
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return Transaction{}, fmt.Errorf("decode transaction amount: %w", err)
	}
	if t.SourceBalanceAfter, err = parseNullDecimal(srcAfter); err != nil {
		return Transaction{}, err
	}
	if t.DestinationBalanceAfter, err = parseNullDecimal(dstAfter); err != nil {
		return Transaction{}, err
	}
	t.Kind = TransactionKind(kind)
	t.Status = Status(status)
	t.CreatedAt = t.CreatedAt.UTC()
	return t, nil
}

func parseNullDecimal(s *string) (decimal.NullDecimal, error) {
	if s == nil {
		return decimal.NullDecimal{}, nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}, fmt.Errorf("decode balance after: %w", err)
	}
	return decimal.NewNullDecimal(d), nil
}

func nullDecimalText(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}
