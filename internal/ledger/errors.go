package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable category of a ledger failure.
type Kind string

const (
	KindNotFound            Kind = "not_found"
	KindUnauthorized        Kind = "unauthorized"
	KindInvalidAmount       Kind = "invalid_amount"
	KindInsufficientFunds   Kind = "insufficient_funds"
	KindSameWalletTransfer  Kind = "same_wallet_transfer"
	KindCurrencyMismatch    Kind = "currency_mismatch"
	KindUnsupportedCurrency Kind = "unsupported_currency"
	KindIdempotencyConflict Kind = "idempotency_conflict"
	KindPaymentNotVerified  Kind = "payment_not_verified"
	KindContention          Kind = "contention"
	KindExternalDependency  Kind = "external_dependency_failure"
	KindPersistence         Kind = "persistence_failure"
	KindFatal               Kind = "fatal"
)

// Error is the typed failure returned by every ledger operation.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	// ErrWalletNotFound is returned when a referenced wallet or transaction does not exist.
	ErrWalletNotFound = &Error{Kind: KindNotFound, Message: "wallet not found"}

	// ErrTransactionNotFound is returned by transaction log lookups.
	ErrTransactionNotFound = &Error{Kind: KindNotFound, Message: "transaction not found"}

	// ErrUnauthorized is returned when the actor does not own the debited wallet.
	// The message is identical whether or not the wallet exists.
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "wallet is not accessible to the caller"}

	// ErrInvalidAmount is returned for non-positive, malformed or out-of-range amounts.
	ErrInvalidAmount = &Error{Kind: KindInvalidAmount, Message: "invalid amount"}

	// ErrInsufficientFunds is returned when the locked balance cannot cover a debit.
	ErrInsufficientFunds = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}

	// ErrSameWalletTransfer is returned when source and destination are the same wallet.
	ErrSameWalletTransfer = &Error{Kind: KindSameWalletTransfer, Message: "source and destination wallet must differ"}

	// ErrCurrencyMismatch is returned when a transfer crosses currencies.
	ErrCurrencyMismatch = &Error{Kind: KindCurrencyMismatch, Message: "wallet currencies differ"}

	// ErrUnsupportedCurrency is returned when a wallet is opened in an unknown currency.
	ErrUnsupportedCurrency = &Error{Kind: KindUnsupportedCurrency, Message: "currency is not supported"}

	// ErrIdempotencyConflict is returned when an idempotency key is reused for a different operation.
	ErrIdempotencyConflict = &Error{Kind: KindIdempotencyConflict, Message: "idempotency key already used for a different operation"}

	// ErrPaymentNotVerified is returned when the deposit provider does not confirm a payment.
	ErrPaymentNotVerified = &Error{Kind: KindPaymentNotVerified, Message: "payment verification failed"}

	// ErrContention is returned when a row lock could not be acquired in time. Safe to retry.
	ErrContention = &Error{Kind: KindContention, Message: "wallet is busy, retry later"}

	// ErrExternalDependency is returned when the payout gateway or deposit verifier fails.
	ErrExternalDependency = &Error{Kind: KindExternalDependency, Message: "external dependency failed"}

	// ErrPersistence is returned for unexpected storage failures.
	ErrPersistence = &Error{Kind: KindPersistence, Message: "storage failure"}

	// ErrFatal marks a failure that left state requiring manual reconciliation.
	ErrFatal = &Error{Kind: KindFatal, Message: "manual reconciliation required"}
)

// errDuplicateIdempotencyKey is raised by stores when the unique key constraint fires.
var errDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func invalidAmount(format string, args ...any) *Error {
	return newError(KindInvalidAmount, fmt.Sprintf(format, args...), nil)
}

// persistence wraps an unclassified storage error. Already-typed errors pass through.
func persistence(err error) error {
	if err == nil {
		return nil
	}
	var typed *Error
	if errors.As(err, &typed) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return newError(KindContention, ErrContention.Message, err)
	}
	return newError(KindPersistence, ErrPersistence.Message, err)
}

// KindOf returns the Kind carried by err, or KindPersistence for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return KindPersistence
}

// IsRetryable reports whether the caller may safely resubmit the operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrContention)
}
