package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	// reversalKeyPrefix namespaces the idempotency key of a withdrawal's compensating re-credit.
	reversalKeyPrefix = "reversal:"
	// depositKeyPrefix namespaces provider references used as deposit idempotency keys.
	depositKeyPrefix = "deposit:"
)

// Options tunes the ledger service.
type Options struct {
	Limits           Limits
	OperationTimeout time.Duration
	PayoutTimeout    time.Duration
	DefaultCurrency  string
	// Deposits verifies provider-backed deposits. Without it FundVerified
	// reports an external dependency failure.
	Deposits DepositVerifier
}

// Service is the ledger facade used by HTTP handlers and other collaborators.
type Service struct {
	store           Store
	payouts         PayoutGateway
	deposits        DepositVerifier
	guard           guard
	mutator         *mutator
	limits          Limits
	payoutTimeout   time.Duration
	defaultCurrency string
	log             *zap.Logger
}

// NewService wires a ledger service over the given store and payout gateway.
func NewService(store Store, payouts PayoutGateway, logger *zap.Logger, opts Options) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "ledger"))
	currency, ok := NormalizeCurrency(opts.DefaultCurrency)
	if !ok {
		currency = DefaultCurrency
	}
	return &Service{
		store:           store,
		payouts:         payouts,
		deposits:        opts.Deposits,
		guard:           guard{wallets: store},
		mutator:         &mutator{store: store, log: logger, timeout: opts.OperationTimeout},
		limits:          opts.Limits,
		payoutTimeout:   opts.PayoutTimeout,
		defaultCurrency: currency,
		log:             logger,
	}
}

// FundRequest credits a wallet from an external source.
type FundRequest struct {
	WalletID string
	Amount   decimal.Decimal
	// ActorID, when set, must own the funded wallet.
	ActorID        string
	IdempotencyKey string
	Reference      string
}

// VerifiedDepositRequest credits a wallet with a payment confirmed by the deposit provider.
type VerifiedDepositRequest struct {
	WalletID  string
	Reference string
	ActorID   string
}

// TransferRequest moves funds between two wallets. Only the source is ownership-checked.
type TransferRequest struct {
	SourceWalletID      string
	DestinationWalletID string
	Amount              decimal.Decimal
	ActorID             string
	IdempotencyKey      string
}

// WithdrawRequest debits a wallet and pays the funds out to an external account.
type WithdrawRequest struct {
	WalletID       string
	Amount         decimal.Decimal
	ActorID        string
	Details        PayoutDetails
	IdempotencyKey string
}

// CreateWallet opens an empty wallet for owner. An empty currency uses the default.
func (s *Service) CreateWallet(ctx context.Context, ownerID, currency string) (Wallet, error) {
	if ownerID == "" {
		return Wallet{}, ErrUnauthorized
	}
	if strings.TrimSpace(currency) == "" {
		currency = s.defaultCurrency
	}
	code, ok := NormalizeCurrency(currency)
	if !ok {
		return Wallet{}, ErrUnsupportedCurrency
	}
	w, err := s.store.CreateWallet(ctx, Wallet{OwnerID: ownerID, Currency: code, Balance: decimal.Zero})
	if err != nil {
		return Wallet{}, persistence(err)
	}
	s.log.Info("wallet created", zap.String("wallet_id", w.ID), zap.String("owner_id", ownerID), zap.String("currency", code))
	return w, nil
}

// Fund credits a wallet.
func (s *Service) Fund(ctx context.Context, req FundRequest) (Result, error) {
	if err := s.limits.ValidateAmount(req.Amount, ""); err != nil {
		return Result{}, err
	}

	var (
		w   Wallet
		err error
	)
	if req.ActorID != "" {
		w, err = s.guard.precheck(ctx, req.WalletID, req.ActorID)
	} else {
		w, err = s.wallet(ctx, req.WalletID)
	}
	if err != nil {
		return Result{}, err
	}
	if err := s.limits.ValidateAmount(req.Amount, w.Currency); err != nil {
		return Result{}, err
	}

	mv := movement{
		kind:      KindDeposit,
		credit:    w.ID,
		amount:    req.Amount,
		actorID:   req.ActorID,
		key:       req.IdempotencyKey,
		reference: req.Reference,
	}
	if req.ActorID != "" {
		mv.owned = w.ID
	}
	return s.mutator.apply(ctx, mv)
}

// FundVerified asks the deposit provider about reference and credits the
// verified amount to the actor's wallet. The reference is the idempotency key,
// so a payment is credited at most once. A payment the provider rejected is
// logged as a failed deposit and ErrPaymentNotVerified is returned.
func (s *Service) FundVerified(ctx context.Context, req VerifiedDepositRequest) (Result, error) {
	reference := strings.TrimSpace(req.Reference)
	if reference == "" {
		return Result{}, newError(KindPaymentNotVerified, "payment reference is required", nil)
	}
	w, err := s.guard.precheck(ctx, req.WalletID, req.ActorID)
	if err != nil {
		return Result{}, err
	}
	if s.deposits == nil {
		return Result{}, newError(KindExternalDependency, "deposit verification is not configured", nil)
	}

	log := s.log.With(zap.String("wallet_id", w.ID), zap.String("reference", reference))

	verifyCtx, cancel := s.externalContext(ctx)
	v, err := s.deposits.VerifyDeposit(verifyCtx, reference)
	cancel()
	if err != nil {
		log.Warn("deposit verification unavailable", zap.Error(err))
		return Result{}, newError(KindExternalDependency, "deposit verification failed", err)
	}
	if v.WalletID != w.ID {
		log.Warn("verified payment belongs to another wallet", zap.String("payment_wallet_id", v.WalletID))
		return Result{}, newError(KindPaymentNotVerified, "payment was not made to this wallet", nil)
	}
	if v.Currency != "" && v.Currency != w.Currency {
		return Result{}, ErrCurrencyMismatch
	}
	amountErr := s.limits.ValidateAmount(v.Amount, w.Currency)

	mv := movement{
		kind:      KindDeposit,
		credit:    w.ID,
		amount:    v.Amount,
		actorID:   req.ActorID,
		owned:     w.ID,
		key:       depositKeyPrefix + reference,
		reference: reference,
	}
	if !v.Succeeded {
		if amountErr == nil {
			recordCtx, cancel := s.mutator.detach(ctx)
			s.mutator.recordFailure(recordCtx, log, mv)
			cancel()
		}
		message := v.Message
		if message == "" {
			message = ErrPaymentNotVerified.Message
		}
		log.Info("deposit not verified", zap.String("reason", message))
		return Result{}, newError(KindPaymentNotVerified, message, nil)
	}
	if amountErr != nil {
		return Result{}, amountErr
	}
	return s.mutator.apply(ctx, mv)
}

// Transfer moves funds from a wallet owned by the actor to any other wallet.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) (Result, error) {
	if req.SourceWalletID == req.DestinationWalletID {
		return Result{}, ErrSameWalletTransfer
	}
	if err := s.limits.ValidateAmount(req.Amount, ""); err != nil {
		return Result{}, err
	}
	src, err := s.guard.precheck(ctx, req.SourceWalletID, req.ActorID)
	if err != nil {
		return Result{}, err
	}
	dst, err := s.wallet(ctx, req.DestinationWalletID)
	if err != nil {
		return Result{}, err
	}
	if src.Currency != dst.Currency {
		return Result{}, ErrCurrencyMismatch
	}
	if err := s.limits.ValidateAmount(req.Amount, src.Currency); err != nil {
		return Result{}, err
	}

	return s.mutator.apply(ctx, movement{
		kind:    KindTransfer,
		debit:   src.ID,
		credit:  dst.ID,
		amount:  req.Amount,
		actorID: req.ActorID,
		owned:   src.ID,
		key:     req.IdempotencyKey,
	})
}

// Withdraw debits the wallet, commits, then asks the payout gateway to disburse.
// No wallet lock is held while the gateway is called. When the payout fails the
// wallet is re-credited by a reversal record and ErrExternalDependency is
// returned together with both records.
func (s *Service) Withdraw(ctx context.Context, req WithdrawRequest) (Result, error) {
	if err := s.limits.ValidateAmount(req.Amount, ""); err != nil {
		return Result{}, err
	}
	w, err := s.guard.precheck(ctx, req.WalletID, req.ActorID)
	if err != nil {
		return Result{}, err
	}
	if err := s.limits.ValidateAmount(req.Amount, w.Currency); err != nil {
		return Result{}, err
	}

	res, err := s.mutator.apply(ctx, movement{
		kind:    KindWithdrawal,
		debit:   w.ID,
		amount:  req.Amount,
		actorID: req.ActorID,
		owned:   w.ID,
		key:     req.IdempotencyKey,
	})
	if err != nil {
		return Result{}, err
	}
	if res.Replayed {
		return s.replayWithdrawal(ctx, res)
	}

	log := s.log.With(zap.String("withdrawal_id", res.Transaction.ID), zap.String("wallet_id", w.ID))

	payoutCtx, cancel := s.externalContext(ctx)
	payout, payoutErr := s.payouts.Disburse(payoutCtx, PayoutRequest{
		WithdrawalID: res.Transaction.ID,
		WalletID:     w.ID,
		Amount:       req.Amount,
		Currency:     w.Currency,
		Details:      req.Details,
	})
	cancel()
	if payoutErr == nil {
		log.Info("payout accepted", zap.String("provider_reference", payout.ProviderReference), zap.String("status", payout.Status))
		return res, nil
	}

	log.Warn("payout failed, reversing withdrawal", zap.Error(payoutErr))
	reversal, err := s.mutator.apply(ctx, movement{
		kind:      KindReversal,
		credit:    w.ID,
		amount:    req.Amount,
		key:       reversalKeyPrefix + res.Transaction.ID,
		reference: res.Transaction.ID,
	})
	if err != nil {
		log.Error("withdrawal reversal failed, manual reconciliation required", zap.Error(err), zap.NamedError("payout_error", payoutErr))
		return res, newError(KindFatal, ErrFatal.Message, errors.Join(payoutErr, err))
	}

	res.Wallet = reversal.Wallet
	res.Reversal = &reversal.Transaction
	return res, newError(KindExternalDependency, "payout failed, withdrawal reversed", payoutErr)
}

// replayWithdrawal reproduces the outcome of an already committed withdrawal
// without contacting the gateway again.
func (s *Service) replayWithdrawal(ctx context.Context, res Result) (Result, error) {
	reversal, err := s.store.TransactionByIdempotencyKey(ctx, reversalKeyPrefix+res.Transaction.ID)
	if errors.Is(err, ErrTransactionNotFound) {
		return res, nil
	}
	if err != nil {
		return Result{}, persistence(err)
	}
	res.Wallet = snapshot(res.Wallet, reversal.SourceBalanceAfter, reversal.CreatedAt)
	res.Reversal = &reversal
	return res, newError(KindExternalDependency, "payout failed, withdrawal reversed", nil)
}

// externalContext bounds a call to a provider. It survives the caller going away.
func (s *Service) externalContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx = context.WithoutCancel(ctx)
	if s.payoutTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.payoutTimeout)
}

// Balance returns the current balance from a plain, non-locking read.
func (s *Service) Balance(ctx context.Context, walletID string) (Balance, error) {
	w, err := s.wallet(ctx, walletID)
	if err != nil {
		return Balance{}, err
	}
	return Balance{WalletID: w.ID, Currency: w.Currency, Amount: w.Balance, AsOf: w.UpdatedAt}, nil
}

// OwnedWallet returns the wallet when actorID owns it and ErrUnauthorized otherwise,
// including when the wallet does not exist.
func (s *Service) OwnedWallet(ctx context.Context, walletID, actorID string) (Wallet, error) {
	return s.guard.precheck(ctx, walletID, actorID)
}

// WalletsByOwner lists the wallets held by owner.
func (s *Service) WalletsByOwner(ctx context.Context, ownerID string) ([]Wallet, error) {
	wallets, err := s.store.WalletsByOwner(ctx, ownerID)
	if err != nil {
		return nil, persistence(err)
	}
	return wallets, nil
}

// Transactions returns the wallet's history, newest first.
func (s *Service) Transactions(ctx context.Context, walletID string, opts ListOptions) ([]Transaction, error) {
	txs, err := s.store.TransactionsForWallet(ctx, walletID, opts.normalize())
	if err != nil {
		return nil, persistence(err)
	}
	return txs, nil
}

// Transaction returns a single record. actorID must own one of the wallets it references.
func (s *Service) Transaction(ctx context.Context, id, actorID string) (Transaction, error) {
	t, err := s.store.Transaction(ctx, id)
	if err != nil {
		return Transaction{}, persistence(err)
	}
	for _, walletID := range []string{t.SourceWalletID, t.DestinationWalletID} {
		if walletID == "" {
			continue
		}
		_, err := s.guard.precheck(ctx, walletID, actorID)
		if err == nil {
			return t, nil
		}
		if !errors.Is(err, ErrUnauthorized) {
			return Transaction{}, err
		}
	}
	return Transaction{}, ErrTransactionNotFound
}

func (s *Service) wallet(ctx context.Context, id string) (Wallet, error) {
	if id == "" {
		return Wallet{}, ErrWalletNotFound
	}
	w, err := s.store.Wallet(ctx, id)
	if err != nil {
		return Wallet{}, persistence(err)
	}
	return w, nil
}
