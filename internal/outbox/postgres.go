package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lendwallet/walletd/internal/ledger"
)

// PostgresStore reads outbox_messages rows. Concurrent relays skip each
// other's locked rows.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore builds an outbox store on the shared pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

type pendingMessage struct {
	id    string
	event ledger.Event
}

// Deliver locks up to limit pending rows, sends them in order and marks the
// sent ones within the same transaction.
func (s *PostgresStore) Deliver(ctx context.Context, limit int, send func(context.Context, ledger.Event) error) (delivered int, err error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("begin outbox tx: %w", err)
	}
	defer func() {
		if err != nil && delivered == 0 {
			_ = tx.Rollback(context.WithoutCancel(ctx))
			return
		}
		if cerr := tx.Commit(context.WithoutCancel(ctx)); cerr != nil && !errors.Is(cerr, pgx.ErrTxClosed) {
			err = errors.Join(err, fmt.Errorf("commit outbox tx: %w", cerr))
			delivered = 0
		}
	}()

	pending, err := lockPending(ctx, tx, limit)
	if err != nil {
		return 0, err
	}

	for _, msg := range pending {
		if err := send(ctx, msg.event); err != nil {
			return delivered, err
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox_messages SET status = 'sent', sent_at = now() WHERE id = $1`, msg.id); err != nil {
			return delivered, fmt.Errorf("mark outbox message %s sent: %w", msg.id, err)
		}
		delivered++
	}
	return delivered, nil
}

func lockPending(ctx context.Context, tx pgx.Tx, limit int) ([]pendingMessage, error) {
	rows, err := tx.Query(ctx, `SELECT id::text, payload FROM outbox_messages
        WHERE status = 'pending'
        ORDER BY created_at, id
        LIMIT $1
        FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pending outbox messages: %w", err)
	}
	defer rows.Close()

	var pending []pendingMessage
	for rows.Next() {
		var (
			msg     pendingMessage
			payload []byte
		)
		if err := rows.Scan(&msg.id, &payload); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		if err := json.Unmarshal(payload, &msg.event); err != nil {
			return nil, fmt.Errorf("decode outbox message %s: %w", msg.id, err)
		}
		pending = append(pending, msg)
	}
	return pending, rows.Err()
}
