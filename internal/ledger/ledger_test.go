package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGateway struct {
	mu    sync.Mutex
	calls []PayoutRequest
	err   error
}

func (g *fakeGateway) Disburse(_ context.Context, req PayoutRequest) (PayoutResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, req)
	if g.err != nil {
		return PayoutResult{}, g.err
	}
	return PayoutResult{ProviderReference: "po_" + req.WithdrawalID, Status: "pending"}, nil
}

func (g *fakeGateway) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

type fixture struct {
	svc     *Service
	store   *MemoryStore
	gateway *fakeGateway
}

func newFixture(t *testing.T, opts Options) fixture {
	t.Helper()
	store := NewMemoryStore(5 * time.Second)
	gw := &fakeGateway{}
	return fixture{
		svc:     NewService(store, gw, zap.NewNop(), opts),
		store:   store,
		gateway: gw,
	}
}

func (f fixture) wallet(t *testing.T, owner string, balance int64) Wallet {
	t.Helper()
	w, err := f.svc.CreateWallet(context.Background(), owner, "NGN")
	require.NoError(t, err)
	if balance > 0 {
		_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(balance)})
		require.NoError(t, err)
	}
	return w
}

func (f fixture) balance(t *testing.T, walletID string) decimal.Decimal {
	t.Helper()
	b, err := f.svc.Balance(context.Background(), walletID)
	require.NoError(t, err)
	return b.Amount
}

func (f fixture) records(kind TransactionKind, status Status) int {
	f.store.mu.RLock()
	defer f.store.mu.RUnlock()
	n := 0
	for _, t := range f.store.transactions {
		if t.Kind == kind && t.Status == status {
			n++
		}
	}
	return n
}

func requireBalance(t *testing.T, f fixture, walletID string, want int64) {
	t.Helper()
	got := f.balance(t, walletID)
	require.Truef(t, got.Equal(decimal.NewFromInt(want)), "balance of %s: want %d, got %s", walletID, want, got)
}

func TestFund_CreditsWalletAndLogsDeposit(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 0)

	res, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(2500), ActorID: owner})
	require.NoError(t, err)

	assert.Equal(t, KindDeposit, res.Transaction.Kind)
	assert.Equal(t, StatusSuccess, res.Transaction.Status)
	assert.Equal(t, w.ID, res.Transaction.SourceWalletID)
	assert.Empty(t, res.Transaction.DestinationWalletID)
	assert.True(t, res.Wallet.Balance.Equal(decimal.NewFromInt(2500)))
	assert.Nil(t, res.Counterparty)
	requireBalance(t, f, w.ID, 2500)
	assert.Len(t, f.store.PendingEvents(), 1)
}

func TestFund_NegativeAmountRejectedWithoutRecord(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.wallet(t, uuid.NewString(), 0)

	_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(-5)})
	require.ErrorIs(t, err, ErrInvalidAmount)
	assert.Equal(t, KindInvalidAmount, KindOf(err))
	assert.Zero(t, f.records(KindDeposit, StatusSuccess))
	assert.Zero(t, f.records(KindDeposit, StatusFailure))
	requireBalance(t, f, w.ID, 0)
}

func TestFund_UnknownWallet(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: uuid.NewString(), Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestFund_ForeignActorRejected(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.wallet(t, uuid.NewString(), 0)

	_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(10), ActorID: uuid.NewString()})
	require.ErrorIs(t, err, ErrUnauthorized)
	requireBalance(t, f, w.ID, 0)
}

func TestFund_EnforcesLimits(t *testing.T) {
	f := newFixture(t, Options{Limits: Limits{Min: decimal.NewFromInt(1000), Max: decimal.NewFromInt(10_000_000)}})
	w := f.wallet(t, uuid.NewString(), 0)

	for _, amount := range []string{"999", "10000001", "1000.001", "0"} {
		_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.RequireFromString(amount)})
		require.ErrorIsf(t, err, ErrInvalidAmount, "amount %s", amount)
	}

	_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.RequireFromString("1000.50")})
	require.NoError(t, err)
}

func TestTransfer_MovesFundsAtomically(t *testing.T) {
	f := newFixture(t, Options{})
	alice, bob := uuid.NewString(), uuid.NewString()
	a := f.wallet(t, alice, 10_000)
	b := f.wallet(t, bob, 0)

	res, err := f.svc.Transfer(context.Background(), TransferRequest{
		SourceWalletID:      a.ID,
		DestinationWalletID: b.ID,
		Amount:              decimal.NewFromInt(1_500),
		ActorID:             alice,
	})
	require.NoError(t, err)

	assert.Equal(t, KindTransfer, res.Transaction.Kind)
	assert.Equal(t, a.ID, res.Transaction.SourceWalletID)
	assert.Equal(t, b.ID, res.Transaction.DestinationWalletID)
	require.NotNil(t, res.Counterparty)
	assert.True(t, res.Wallet.Balance.Equal(decimal.NewFromInt(8_500)))
	assert.True(t, res.Counterparty.Balance.Equal(decimal.NewFromInt(1_500)))
	requireBalance(t, f, a.ID, 8_500)
	requireBalance(t, f, b.ID, 1_500)
}

func TestTransfer_SameWalletRejectedBeforeLocking(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	a := f.wallet(t, owner, 1_000)

	// Holding the wallet's lock proves the rejection never waits on it.
	uow, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	_, err = uow.GetForUpdate(context.Background(), a.ID)
	require.NoError(t, err)
	defer uow.Rollback(context.Background()) //nolint:errcheck

	_, err = f.svc.Transfer(context.Background(), TransferRequest{
		SourceWalletID:      a.ID,
		DestinationWalletID: a.ID,
		Amount:              decimal.NewFromInt(100),
		ActorID:             owner,
	})
	require.ErrorIs(t, err, ErrSameWalletTransfer)
}

func TestTransfer_UnauthorizedRegardlessOfDestination(t *testing.T) {
	f := newFixture(t, Options{})
	a := f.wallet(t, uuid.NewString(), 1_000)
	b := f.wallet(t, uuid.NewString(), 0)
	stranger := uuid.NewString()

	cases := map[string]TransferRequest{
		"existing destination": {SourceWalletID: a.ID, DestinationWalletID: b.ID},
		"missing destination":  {SourceWalletID: a.ID, DestinationWalletID: uuid.NewString()},
		"missing source":       {SourceWalletID: uuid.NewString(), DestinationWalletID: b.ID},
	}
	var messages []string
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			req.Amount = decimal.NewFromInt(100)
			req.ActorID = stranger
			_, err := f.svc.Transfer(context.Background(), req)
			require.ErrorIs(t, err, ErrUnauthorized)
			messages = append(messages, err.Error())
		})
	}
	for _, msg := range messages {
		assert.Equal(t, messages[0], msg, "authorization failures must not reveal whether a wallet exists")
	}
	requireBalance(t, f, a.ID, 1_000)
	requireBalance(t, f, b.ID, 0)
}

func TestTransfer_MissingDestination(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	a := f.wallet(t, owner, 1_000)

	_, err := f.svc.Transfer(context.Background(), TransferRequest{
		SourceWalletID:      a.ID,
		DestinationWalletID: uuid.NewString(),
		Amount:              decimal.NewFromInt(100),
		ActorID:             owner,
	})
	require.ErrorIs(t, err, ErrWalletNotFound)
}

func TestTransfer_CurrencyMismatch(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	a := f.wallet(t, owner, 1_000)
	usd, err := f.svc.CreateWallet(context.Background(), uuid.NewString(), "usd")
	require.NoError(t, err)
	assert.Equal(t, "USD", usd.Currency)

	_, err = f.svc.Transfer(context.Background(), TransferRequest{
		SourceWalletID:      a.ID,
		DestinationWalletID: usd.ID,
		Amount:              decimal.NewFromInt(100),
		ActorID:             owner,
	})
	require.ErrorIs(t, err, ErrCurrencyMismatch)
}

func TestTransfer_InsufficientFundsLogsFailureOnly(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	a := f.wallet(t, owner, 500)
	b := f.wallet(t, uuid.NewString(), 0)

	_, err := f.svc.Transfer(context.Background(), TransferRequest{
		SourceWalletID:      a.ID,
		DestinationWalletID: b.ID,
		Amount:              decimal.NewFromInt(501),
		ActorID:             owner,
	})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	requireBalance(t, f, a.ID, 500)
	requireBalance(t, f, b.ID, 0)
	assert.Zero(t, f.records(KindTransfer, StatusSuccess))
	assert.Equal(t, 1, f.records(KindTransfer, StatusFailure))

	txs, err := f.svc.Transactions(context.Background(), a.ID, ListOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, txs)
	assert.Equal(t, StatusFailure, txs[0].Status)
	assert.False(t, txs[0].SourceBalanceAfter.Valid)
}

func TestTransfer_ConcurrentFullBalanceOnlyOneSucceeds(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	a := f.wallet(t, owner, 100_000)
	b := f.wallet(t, uuid.NewString(), 0)

	const workers = 10
	var (
		wg           sync.WaitGroup
		succeeded    atomic.Int32
		insufficient atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transfer(context.Background(), TransferRequest{
				SourceWalletID:      a.ID,
				DestinationWalletID: b.ID,
				Amount:              decimal.NewFromInt(100_000),
				ActorID:             owner,
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case errors.Is(err, ErrInsufficientFunds):
				insufficient.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 1, succeeded.Load())
	assert.EqualValues(t, workers-1, insufficient.Load())
	requireBalance(t, f, a.ID, 0)
	requireBalance(t, f, b.ID, 100_000)
	assert.Equal(t, 1, f.records(KindTransfer, StatusSuccess))
}

func TestTransfer_ConcurrentPartialAmounts(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	a := f.wallet(t, owner, 100_000)
	b := f.wallet(t, uuid.NewString(), 0)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transfer(context.Background(), TransferRequest{
				SourceWalletID:      a.ID,
				DestinationWalletID: b.ID,
				Amount:              decimal.NewFromInt(40_000),
				ActorID:             owner,
			})
			if err == nil {
				succeeded.Add(1)
			} else if !errors.Is(err, ErrInsufficientFunds) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 2, succeeded.Load())
	requireBalance(t, f, a.ID, 20_000)
	requireBalance(t, f, b.ID, 80_000)
}

func TestTransfer_OppositeDirectionsDoNotDeadlock(t *testing.T) {
	f := newFixture(t, Options{})
	alice, bob := uuid.NewString(), uuid.NewString()
	a := f.wallet(t, alice, 50_000)
	b := f.wallet(t, bob, 50_000)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.Transfer(context.Background(), TransferRequest{SourceWalletID: a.ID, DestinationWalletID: b.ID, Amount: decimal.NewFromInt(100), ActorID: alice})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.Transfer(context.Background(), TransferRequest{SourceWalletID: b.ID, DestinationWalletID: a.ID, Amount: decimal.NewFromInt(100), ActorID: bob})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	requireBalance(t, f, a.ID, 50_000)
	requireBalance(t, f, b.ID, 50_000)
	assert.Equal(t, 100, f.records(KindTransfer, StatusSuccess))
}

func TestTransfer_ConcurrentReadersNeverSeePartialState(t *testing.T) {
	f := newFixture(t, Options{})
	alice, bob := uuid.NewString(), uuid.NewString()
	a := f.wallet(t, alice, 1_000)
	b := f.wallet(t, bob, 1_000)
	total := decimal.NewFromInt(2_000)

	var (
		done      = make(chan struct{})
		readers   sync.WaitGroup
		negatives atomic.Int64
		torn      atomic.Int64
		reads     atomic.Int64
	)
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				for _, id := range []string{a.ID, b.ID} {
					bal, err := f.svc.Balance(context.Background(), id)
					if err != nil || bal.Amount.IsNegative() {
						negatives.Add(1)
					}
				}
				// Both rows under one read lock: a commit is either fully visible or not at all.
				f.store.mu.RLock()
				sum := f.store.wallets[a.ID].Balance.Add(f.store.wallets[b.ID].Balance)
				f.store.mu.RUnlock()
				if !sum.Equal(total) {
					torn.Add(1)
				}
				reads.Add(1)

				select {
				case <-done:
					return
				default:
				}
			}
		}()
	}

	var writers sync.WaitGroup
	for i := 0; i < 40; i++ {
		writers.Add(2)
		go func() {
			defer writers.Done()
			_, err := f.svc.Transfer(context.Background(), TransferRequest{SourceWalletID: a.ID, DestinationWalletID: b.ID, Amount: decimal.NewFromInt(700), ActorID: alice})
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}()
		go func() {
			defer writers.Done()
			_, err := f.svc.Transfer(context.Background(), TransferRequest{SourceWalletID: b.ID, DestinationWalletID: a.ID, Amount: decimal.NewFromInt(700), ActorID: bob})
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}()
	}
	writers.Wait()
	close(done)
	readers.Wait()

	assert.Positive(t, reads.Load())
	assert.Zero(t, negatives.Load(), "observed a negative or unreadable balance")
	assert.Zero(t, torn.Load(), "observed a transfer with only one side applied")
	assert.True(t, f.balance(t, a.ID).Add(f.balance(t, b.ID)).Equal(total))
}

func TestConcurrentMutations_RecordsMatchBalanceChanges(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 0)

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(300)})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{WalletID: w.ID, Amount: decimal.NewFromInt(200), ActorID: owner})
			if err != nil {
				assert.ErrorIs(t, err, ErrInsufficientFunds)
			}
		}()
	}
	wg.Wait()

	deposits := f.records(KindDeposit, StatusSuccess)
	withdrawals := f.records(KindWithdrawal, StatusSuccess)
	assert.Equal(t, 40, deposits)
	assert.Equal(t, withdrawals, f.gateway.callCount())

	want := decimal.NewFromInt(int64(300*deposits - 200*withdrawals))
	got := f.balance(t, w.ID)
	assert.Truef(t, got.Equal(want), "balance %s does not match committed records (%s)", got, want)
	assert.False(t, got.IsNegative())
}

func TestIdempotency_ReplayReturnsIdenticalResult(t *testing.T) {
	f := newFixture(t, Options{})
	alice := uuid.NewString()
	a := f.wallet(t, alice, 10_000)
	b := f.wallet(t, uuid.NewString(), 0)

	req := TransferRequest{SourceWalletID: a.ID, DestinationWalletID: b.ID, Amount: decimal.NewFromInt(1_000), ActorID: alice, IdempotencyKey: "retry-1"}
	first, err := f.svc.Transfer(context.Background(), req)
	require.NoError(t, err)

	// A later movement must not change what the replay reports.
	_, err = f.svc.Fund(context.Background(), FundRequest{WalletID: a.ID, Amount: decimal.NewFromInt(5)})
	require.NoError(t, err)

	second, err := f.svc.Transfer(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, second.Replayed)

	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)
	secondJSON, err := json.Marshal(second)
	require.NoError(t, err)
	assert.JSONEq(t, string(firstJSON), string(secondJSON))

	requireBalance(t, f, a.ID, 9_005)
	requireBalance(t, f, b.ID, 1_000)
	assert.Equal(t, 1, f.records(KindTransfer, StatusSuccess))
}

func TestIdempotency_ConcurrentDuplicatesApplyOnce(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 0)

	var (
		wg  sync.WaitGroup
		ids sync.Map
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(700), IdempotencyKey: "dup-deposit"})
			if assert.NoError(t, err) {
				ids.Store(res.Transaction.ID, struct{}{})
			}
		}()
	}
	wg.Wait()

	distinct := 0
	ids.Range(func(_, _ any) bool { distinct++; return true })
	assert.Equal(t, 1, distinct)
	requireBalance(t, f, w.ID, 700)
	assert.Equal(t, 1, f.records(KindDeposit, StatusSuccess))
}

func TestIdempotency_KeyReusedForDifferentOperation(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.wallet(t, uuid.NewString(), 0)

	_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(100), IdempotencyKey: "k"})
	require.NoError(t, err)

	_, err = f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(200), IdempotencyKey: "k"})
	require.ErrorIs(t, err, ErrIdempotencyConflict)
	requireBalance(t, f, w.ID, 100)
}

func TestContention_LockWaitTimesOut(t *testing.T) {
	store := NewMemoryStore(50 * time.Millisecond)
	svc := NewService(store, &fakeGateway{}, zap.NewNop(), Options{})
	owner := uuid.NewString()
	a, err := svc.CreateWallet(context.Background(), owner, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultCurrency, a.Currency)
	b, err := svc.CreateWallet(context.Background(), uuid.NewString(), "")
	require.NoError(t, err)
	_, err = svc.Fund(context.Background(), FundRequest{WalletID: a.ID, Amount: decimal.NewFromInt(100)})
	require.NoError(t, err)

	holder, err := store.Begin(context.Background())
	require.NoError(t, err)
	_, err = holder.GetForUpdate(context.Background(), b.ID)
	require.NoError(t, err)

	_, err = svc.Transfer(context.Background(), TransferRequest{SourceWalletID: a.ID, DestinationWalletID: b.ID, Amount: decimal.NewFromInt(10), ActorID: owner})
	require.ErrorIs(t, err, ErrContention)
	assert.True(t, IsRetryable(err))
	require.NoError(t, holder.Rollback(context.Background()))

	// The aborted attempt released the source lock and changed nothing.
	_, err = svc.Transfer(context.Background(), TransferRequest{SourceWalletID: a.ID, DestinationWalletID: b.ID, Amount: decimal.NewFromInt(10), ActorID: owner})
	require.NoError(t, err)
}

func TestCancellation_UnitOfWorkRunsToCompletion(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.wallet(t, uuid.NewString(), 0)

	holder, err := f.store.Begin(context.Background())
	require.NoError(t, err)
	_, err = holder.GetForUpdate(context.Background(), w.ID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.svc.Fund(ctx, FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(250)})
		done <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()
	require.NoError(t, holder.Rollback(context.Background()))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("fund did not complete after the lock was released")
	}
	requireBalance(t, f, w.ID, 250)
}

func TestWithdraw_PaysOutAfterCommit(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 5_000)

	req := WithdrawRequest{
		WalletID:       w.ID,
		Amount:         decimal.NewFromInt(1_500),
		ActorID:        owner,
		Details:        PayoutDetails{AccountNumber: "0123456789", BankCode: "058"},
		IdempotencyKey: "wd-1",
	}
	res, err := f.svc.Withdraw(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, KindWithdrawal, res.Transaction.Kind)
	assert.Nil(t, res.Reversal)
	requireBalance(t, f, w.ID, 3_500)

	require.Equal(t, 1, f.gateway.callCount())
	call := f.gateway.calls[0]
	assert.Equal(t, res.Transaction.ID, call.WithdrawalID)
	assert.Equal(t, "NGN", call.Currency)
	assert.Equal(t, "058", call.Details.BankCode)

	replay, err := f.svc.Withdraw(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Transaction.ID, replay.Transaction.ID)
	assert.Equal(t, 1, f.gateway.callCount(), "replay must not pay out twice")
	requireBalance(t, f, w.ID, 3_500)
}

func TestWithdraw_FailedPayoutIsReversed(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 5_000)
	f.gateway.err = errors.New("bank unreachable")

	req := WithdrawRequest{WalletID: w.ID, Amount: decimal.NewFromInt(2_000), ActorID: owner, IdempotencyKey: "wd-2"}
	res, err := f.svc.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, ErrExternalDependency)
	require.NotNil(t, res.Reversal)
	assert.Equal(t, KindReversal, res.Reversal.Kind)
	assert.Equal(t, res.Transaction.ID, res.Reversal.Reference)
	assert.True(t, res.Wallet.Balance.Equal(decimal.NewFromInt(5_000)))
	requireBalance(t, f, w.ID, 5_000)
	assert.Equal(t, 1, f.records(KindWithdrawal, StatusSuccess))
	assert.Equal(t, 1, f.records(KindReversal, StatusSuccess))

	replay, err := f.svc.Withdraw(context.Background(), req)
	require.ErrorIs(t, err, ErrExternalDependency)
	require.NotNil(t, replay.Reversal)
	assert.Equal(t, res.Reversal.ID, replay.Reversal.ID)
	assert.True(t, replay.Wallet.Balance.Equal(res.Wallet.Balance))
	assert.Equal(t, 1, f.gateway.callCount())
	requireBalance(t, f, w.ID, 5_000)
}

func TestWithdraw_InsufficientFundsSkipsGateway(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 100)

	_, err := f.svc.Withdraw(context.Background(), WithdrawRequest{WalletID: w.ID, Amount: decimal.NewFromInt(101), ActorID: owner})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Zero(t, f.gateway.callCount())
	assert.Equal(t, 1, f.records(KindWithdrawal, StatusFailure))
}

func TestTransaction_VisibleToParticipantsOnly(t *testing.T) {
	f := newFixture(t, Options{})
	alice, bob := uuid.NewString(), uuid.NewString()
	a := f.wallet(t, alice, 1_000)
	b := f.wallet(t, bob, 0)

	res, err := f.svc.Transfer(context.Background(), TransferRequest{SourceWalletID: a.ID, DestinationWalletID: b.ID, Amount: decimal.NewFromInt(10), ActorID: alice})
	require.NoError(t, err)

	for _, actor := range []string{alice, bob} {
		got, err := f.svc.Transaction(context.Background(), res.Transaction.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, res.Transaction.ID, got.ID)
	}
	_, err = f.svc.Transaction(context.Background(), res.Transaction.ID, uuid.NewString())
	require.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestTransactions_Paginates(t *testing.T) {
	f := newFixture(t, Options{})
	w := f.wallet(t, uuid.NewString(), 0)
	for i := 1; i <= 5; i++ {
		_, err := f.svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(int64(i))})
		require.NoError(t, err)
	}

	page, err := f.svc.Transactions(context.Background(), w.ID, ListOptions{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.True(t, page[0].Amount.Equal(decimal.NewFromInt(4)))
	assert.True(t, page[1].Amount.Equal(decimal.NewFromInt(3)))
}

func TestCreateWallet_RejectsUnknownCurrency(t *testing.T) {
	f := newFixture(t, Options{})
	_, err := f.svc.CreateWallet(context.Background(), uuid.NewString(), "GBP")
	require.ErrorIs(t, err, ErrUnsupportedCurrency)
}

// brokenStore fails commits and, optionally, rollbacks.
type brokenStore struct {
	Store
	rollbackErr error
}

func (s brokenStore) Begin(ctx context.Context) (UnitOfWork, error) {
	uow, err := s.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return brokenUnitOfWork{UnitOfWork: uow, rollbackErr: s.rollbackErr}, nil
}

type brokenUnitOfWork struct {
	UnitOfWork
	rollbackErr error
}

func (u brokenUnitOfWork) Commit(context.Context) error {
	return errors.New("connection reset during commit")
}

func (u brokenUnitOfWork) Rollback(ctx context.Context) error {
	if err := u.UnitOfWork.Rollback(ctx); err != nil {
		return err
	}
	return u.rollbackErr
}

func TestCommitFailure_RollsBack(t *testing.T) {
	mem := NewMemoryStore(time.Second)
	w, err := mem.CreateWallet(context.Background(), Wallet{OwnerID: uuid.NewString(), Currency: "NGN", Balance: decimal.Zero})
	require.NoError(t, err)

	svc := NewService(brokenStore{Store: mem}, &fakeGateway{}, zap.NewNop(), Options{})
	_, err = svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrPersistence)
	assert.False(t, IsRetryable(err))

	got, err := mem.Wallet(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.IsZero())
}

func TestCommitFailure_FailedRollbackIsFatal(t *testing.T) {
	mem := NewMemoryStore(time.Second)
	w, err := mem.CreateWallet(context.Background(), Wallet{OwnerID: uuid.NewString(), Currency: "NGN", Balance: decimal.Zero})
	require.NoError(t, err)

	svc := NewService(brokenStore{Store: mem, rollbackErr: fmt.Errorf("rollback: connection lost")}, &fakeGateway{}, zap.NewNop(), Options{})
	_, err = svc.Fund(context.Background(), FundRequest{WalletID: w.ID, Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, err, ErrFatal)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.False(t, IsRetryable(err))
}

type fakeVerifier struct {
	payments map[string]DepositVerification
	err      error
	calls    atomic.Int64
}

func (v *fakeVerifier) VerifyDeposit(_ context.Context, reference string) (DepositVerification, error) {
	v.calls.Add(1)
	if v.err != nil {
		return DepositVerification{}, v.err
	}
	p, ok := v.payments[reference]
	if !ok {
		return DepositVerification{Reference: reference, Message: "unknown reference"}, nil
	}
	return p, nil
}

func TestFundVerified_CreditsOncePerReference(t *testing.T) {
	verifier := &fakeVerifier{payments: map[string]DepositVerification{}}
	f := newFixture(t, Options{Deposits: verifier})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 0)
	verifier.payments["pi_ok"] = DepositVerification{Reference: "pi_ok", WalletID: w.ID, Amount: decimal.NewFromInt(2_500), Currency: "NGN", Succeeded: true}

	req := VerifiedDepositRequest{WalletID: w.ID, Reference: "pi_ok", ActorID: owner}
	res, err := f.svc.FundVerified(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, KindDeposit, res.Transaction.Kind)
	assert.Equal(t, "pi_ok", res.Transaction.Reference)
	requireBalance(t, f, w.ID, 2_500)

	replay, err := f.svc.FundVerified(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, replay.Replayed)
	assert.Equal(t, res.Transaction.ID, replay.Transaction.ID)
	requireBalance(t, f, w.ID, 2_500)
	assert.Equal(t, 1, f.records(KindDeposit, StatusSuccess))
}

func TestFundVerified_RejectedPaymentLogsFailure(t *testing.T) {
	verifier := &fakeVerifier{payments: map[string]DepositVerification{}}
	f := newFixture(t, Options{Deposits: verifier})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 100)
	verifier.payments["pi_declined"] = DepositVerification{Reference: "pi_declined", WalletID: w.ID, Amount: decimal.NewFromInt(500), Currency: "NGN", Message: "card declined"}

	_, err := f.svc.FundVerified(context.Background(), VerifiedDepositRequest{WalletID: w.ID, Reference: "pi_declined", ActorID: owner})
	require.ErrorIs(t, err, ErrPaymentNotVerified)
	assert.Contains(t, err.Error(), "card declined")
	requireBalance(t, f, w.ID, 100)

	failed, err := f.svc.Transactions(context.Background(), w.ID, ListOptions{})
	require.NoError(t, err)
	require.NotEmpty(t, failed)
	assert.Equal(t, StatusFailure, failed[0].Status)
	assert.Equal(t, KindDeposit, failed[0].Kind)
	assert.Equal(t, "pi_declined", failed[0].Reference)
	assert.Empty(t, failed[0].IdempotencyKey)
	assert.False(t, failed[0].SourceBalanceAfter.Valid)
}

func TestFundVerified_Rejections(t *testing.T) {
	verifier := &fakeVerifier{payments: map[string]DepositVerification{}}
	f := newFixture(t, Options{Deposits: verifier})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 0)
	other := f.wallet(t, uuid.NewString(), 0)
	verifier.payments["pi_other"] = DepositVerification{Reference: "pi_other", WalletID: other.ID, Amount: decimal.NewFromInt(900), Currency: "NGN", Succeeded: true}
	verifier.payments["pi_usd"] = DepositVerification{Reference: "pi_usd", WalletID: w.ID, Amount: decimal.NewFromInt(900), Currency: "USD", Succeeded: true}

	_, err := f.svc.FundVerified(context.Background(), VerifiedDepositRequest{WalletID: w.ID, Reference: "pi_other", ActorID: owner})
	require.ErrorIs(t, err, ErrPaymentNotVerified)

	_, err = f.svc.FundVerified(context.Background(), VerifiedDepositRequest{WalletID: w.ID, Reference: "pi_usd", ActorID: owner})
	require.ErrorIs(t, err, ErrCurrencyMismatch)

	_, err = f.svc.FundVerified(context.Background(), VerifiedDepositRequest{WalletID: w.ID, Reference: "  ", ActorID: owner})
	require.ErrorIs(t, err, ErrPaymentNotVerified)

	calls := verifier.calls.Load()
	_, err = f.svc.FundVerified(context.Background(), VerifiedDepositRequest{WalletID: w.ID, Reference: "pi_other", ActorID: uuid.NewString()})
	require.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, calls, verifier.calls.Load(), "ownership is checked before the provider is asked")

	verifier.err = errors.New("provider timeout")
	_, err = f.svc.FundVerified(context.Background(), VerifiedDepositRequest{WalletID: w.ID, Reference: "pi_other", ActorID: owner})
	require.ErrorIs(t, err, ErrExternalDependency)

	requireBalance(t, f, w.ID, 0)
	requireBalance(t, f, other.ID, 0)
	assert.Zero(t, f.records(KindDeposit, StatusFailure))
}

func TestFundVerified_WithoutVerifier(t *testing.T) {
	f := newFixture(t, Options{})
	owner := uuid.NewString()
	w := f.wallet(t, owner, 0)
	_, err := f.svc.FundVerified(context.Background(), VerifiedDepositRequest{WalletID: w.ID, Reference: "pi_1", ActorID: owner})
	require.ErrorIs(t, err, ErrExternalDependency)
}
