package ledger

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const rollbackTimeout = 5 * time.Second

// movement describes one balance mutation. Deposits and reversals only credit,
// withdrawals only debit, transfers do both.
type movement struct {
	kind      TransactionKind
	debit     string
	credit    string
	amount    decimal.Decimal
	actorID   string
	owned     string // wallet that must belong to actorID; empty skips the check
	key       string
	reference string
}

func (mv movement) walletIDs() []string {
	ids := make([]string, 0, 2)
	if mv.debit != "" {
		ids = append(ids, mv.debit)
	}
	if mv.credit != "" && mv.credit != mv.debit {
		ids = append(ids, mv.credit)
	}
	sort.Strings(ids)
	return ids
}

// source and destination follow the record layout: single-wallet movements
// reference their wallet as source, transfers reference both.
func (mv movement) source() string {
	if mv.debit != "" {
		return mv.debit
	}
	return mv.credit
}

func (mv movement) destination() string {
	if mv.debit != "" {
		return mv.credit
	}
	return ""
}

func (mv movement) matches(t Transaction) bool {
	return t.Kind == mv.kind &&
		t.Amount.Equal(mv.amount) &&
		t.SourceWalletID == mv.source() &&
		t.DestinationWalletID == mv.destination()
}

// mutator runs the lock, validate, write, log sequence inside one unit of work.
type mutator struct {
	store   Store
	log     *zap.Logger
	timeout time.Duration
}

func (m *mutator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if m.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, m.timeout)
}

// apply commits mv or rolls it back entirely. A caller cancelling ctx does not
// interrupt a unit of work that has already begun.
func (m *mutator) apply(ctx context.Context, mv movement) (Result, error) {
	ctx, cancel := m.detach(ctx)
	defer cancel()

	log := m.log.With(
		zap.String("kind", string(mv.kind)),
		zap.String("source_wallet_id", mv.source()),
		zap.String("destination_wallet_id", mv.destination()),
		zap.String("amount", mv.amount.String()),
	)

	// A duplicate key raised by the store means a concurrent request with the
	// same key committed first; the second pass replays it.
	for attempt := 0; ; attempt++ {
		res, err := m.attempt(ctx, log, mv)
		if errors.Is(err, errDuplicateIdempotencyKey) && attempt == 0 {
			log.Debug("idempotency key raced, replaying", zap.String("idempotency_key", mv.key))
			continue
		}
		if errors.Is(err, errDuplicateIdempotencyKey) {
			return Result{}, newError(KindPersistence, ErrPersistence.Message, err)
		}
		if errors.Is(err, ErrInsufficientFunds) {
			m.recordFailure(ctx, log, mv)
		}
		return res, err
	}
}

func (m *mutator) attempt(ctx context.Context, log *zap.Logger, mv movement) (Result, error) {
	log.Debug("mutation state", zap.String("state", "STARTED"))

	var res Result
	err := m.within(ctx, log, func(uow UnitOfWork) error {
		locked := make(map[string]Wallet, 2)
		for _, id := range mv.walletIDs() {
			w, err := uow.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			locked[id] = w
		}
		log.Debug("mutation state", zap.String("state", "LOCKED"))

		if mv.owned != "" {
			if err := authorize(locked[mv.owned], mv.actorID); err != nil {
				return err
			}
		}

		if mv.key != "" {
			prior, found, err := uow.FindByIdempotencyKey(ctx, mv.key)
			if err != nil {
				return err
			}
			if found {
				if !mv.matches(prior) {
					return ErrIdempotencyConflict
				}
				res = resultFor(prior, locked)
				res.Replayed = true
				return nil
			}
		}

		if mv.debit != "" && mv.credit != "" && locked[mv.debit].Currency != locked[mv.credit].Currency {
			return ErrCurrencyMismatch
		}

		balances := make(map[string]decimal.Decimal, 2)
		for id, w := range locked {
			balances[id] = w.Balance
		}
		if mv.debit != "" {
			balances[mv.debit] = balances[mv.debit].Sub(mv.amount)
			if balances[mv.debit].IsNegative() {
				log.Debug("mutation state", zap.String("state", "REJECTED"))
				return ErrInsufficientFunds
			}
		}
		if mv.credit != "" {
			balances[mv.credit] = balances[mv.credit].Add(mv.amount)
		}
		log.Debug("mutation state", zap.String("state", "VALIDATED"))

		for _, id := range mv.walletIDs() {
			w, err := uow.WriteBalance(ctx, id, balances[id])
			if err != nil {
				return err
			}
			locked[id] = w
		}

		record := Transaction{
			SourceWalletID:      mv.source(),
			DestinationWalletID: mv.destination(),
			Amount:              mv.amount,
			Kind:                mv.kind,
			Status:              StatusSuccess,
			IdempotencyKey:      mv.key,
			Reference:           mv.reference,
			SourceBalanceAfter:  decimal.NewNullDecimal(balances[mv.source()]),
		}
		if dst := mv.destination(); dst != "" {
			record.DestinationBalanceAfter = decimal.NewNullDecimal(balances[dst])
		}
		record, err := uow.Append(ctx, record)
		if err != nil {
			return err
		}

		if err := uow.Enqueue(ctx, eventFor(record, locked[mv.source()].Currency)); err != nil {
			return err
		}
		res = resultFor(record, locked)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	log.Debug("mutation state",
		zap.String("state", "COMMITTED"),
		zap.String("transaction_id", res.Transaction.ID),
		zap.Bool("replayed", res.Replayed),
	)
	return res, nil
}

// within begins a unit of work, runs fn and commits. Every failure path rolls
// back before returning; a failed rollback is Fatal.
func (m *mutator) within(ctx context.Context, log *zap.Logger, fn func(UnitOfWork) error) error {
	uow, err := m.store.Begin(ctx)
	if err != nil {
		return classify(err)
	}

	if err := fn(uow); err != nil {
		if rbErr := m.rollback(ctx, uow); rbErr != nil {
			log.Error("rollback failed, manual reconciliation required", zap.Error(rbErr), zap.NamedError("cause", err))
			return newError(KindFatal, ErrFatal.Message, errors.Join(err, rbErr))
		}
		log.Debug("mutation state", zap.String("state", "ROLLED_BACK"), zap.String("reason", string(KindOf(err))))
		return classify(err)
	}

	if err := uow.Commit(ctx); err != nil {
		if rbErr := m.rollback(ctx, uow); rbErr != nil {
			log.Error("rollback after failed commit failed, manual reconciliation required", zap.Error(rbErr), zap.NamedError("cause", err))
			return newError(KindFatal, ErrFatal.Message, errors.Join(err, rbErr))
		}
		log.Warn("commit failed, rolled back", zap.Error(err))
		return classify(err)
	}
	return nil
}

func (m *mutator) rollback(ctx context.Context, uow UnitOfWork) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rollbackTimeout)
	defer cancel()
	return uow.Rollback(ctx)
}

// recordFailure writes a keyless failure record after a rejected debit. It
// never claims a balance change and its own failure is only logged.
func (m *mutator) recordFailure(ctx context.Context, log *zap.Logger, mv movement) {
	err := m.within(ctx, log, func(uow UnitOfWork) error {
		_, err := uow.Append(ctx, Transaction{
			SourceWalletID:      mv.source(),
			DestinationWalletID: mv.destination(),
			Amount:              mv.amount,
			Kind:                mv.kind,
			Status:              StatusFailure,
			Reference:           mv.reference,
		})
		return err
	})
	if err != nil {
		log.Warn("failed to record failed transaction", zap.Error(err))
	}
}

func classify(err error) error {
	if errors.Is(err, errDuplicateIdempotencyKey) {
		return err
	}
	return persistence(err)
}

// resultFor rebuilds the wallet snapshots from the balances stored on the
// record, so a replay returns the same payload as the original commit.
func resultFor(t Transaction, locked map[string]Wallet) Result {
	res := Result{
		Transaction: t,
		Wallet:      snapshot(locked[t.SourceWalletID], t.SourceBalanceAfter, t.CreatedAt),
	}
	if t.DestinationWalletID != "" {
		cp := snapshot(locked[t.DestinationWalletID], t.DestinationBalanceAfter, t.CreatedAt)
		res.Counterparty = &cp
	}
	return res
}

func snapshot(w Wallet, after decimal.NullDecimal, at time.Time) Wallet {
	if after.Valid {
		w.Balance = after.Decimal
	}
	w.UpdatedAt = at
	return w
}

func eventFor(t Transaction, currency string) Event {
	return Event{
		ID:                  uuid.NewString(),
		Type:                EventTransactionCommitted,
		TransactionID:       t.ID,
		Kind:                t.Kind,
		SourceWalletID:      t.SourceWalletID,
		DestinationWalletID: t.DestinationWalletID,
		Amount:              t.Amount,
		Currency:            currency,
		OccurredAt:          t.CreatedAt,
	}
}
