package funding

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v72"
	"github.com/stripe/stripe-go/v72/client"

	"github.com/lendwallet/walletd/internal/ledger"
)

// StaticGateway simulates a payout provider that accepts every request.
type StaticGateway struct{}

// Disburse approves the payout with a synthetic reference.
func (StaticGateway) Disburse(_ context.Context, req ledger.PayoutRequest) (ledger.PayoutResult, error) {
	if req.WithdrawalID == "" {
		return ledger.PayoutResult{}, fmt.Errorf("withdrawal id is required")
	}
	return ledger.PayoutResult{ProviderReference: "static_" + uuid.NewString(), Status: "approved"}, nil
}

// StripeGateway pays withdrawals out through the Stripe payouts API.
type StripeGateway struct {
	api *client.API
}

// NewStripeGateway builds a gateway for key. backends may be nil to use Stripe's defaults.
func NewStripeGateway(key string, backends *stripe.Backends) (*StripeGateway, error) {
	if key == "" {
		return nil, fmt.Errorf("stripe secret key is required")
	}
	api := &client.API{}
	api.Init(key, backends)
	return &StripeGateway{api: api}, nil
}

// Disburse creates a payout for the withdrawal. The withdrawal id is the Stripe
// idempotency key, so a retried call never pays twice.
func (g *StripeGateway) Disburse(ctx context.Context, req ledger.PayoutRequest) (ledger.PayoutResult, error) {
	places, ok := ledger.MinorUnits(req.Currency)
	if !ok {
		return ledger.PayoutResult{}, fmt.Errorf("unsupported payout currency %q", req.Currency)
	}
	minor := req.Amount.Shift(places)
	if !minor.IsInteger() {
		return ledger.PayoutResult{}, fmt.Errorf("amount %s is not representable in %s minor units", req.Amount, req.Currency)
	}

	params := &stripe.PayoutParams{
		Amount:              stripe.Int64(minor.IntPart()),
		Currency:            stripe.String(strings.ToLower(req.Currency)),
		Description:         stripe.String("wallet withdrawal " + req.WithdrawalID),
		StatementDescriptor: stripe.String("WALLET PAYOUT"),
	}
	params.Context = ctx
	params.SetIdempotencyKey(req.WithdrawalID)
	params.AddMetadata("withdrawal_id", req.WithdrawalID)
	params.AddMetadata("wallet_id", req.WalletID)
	params.AddMetadata("account_last4", maskAccount(req.Details.AccountNumber))
	params.AddMetadata("bank_code", req.Details.BankCode)

	po, err := g.api.Payouts.New(params)
	if err != nil {
		return ledger.PayoutResult{}, fmt.Errorf("stripe payout: %w", err)
	}
	switch po.Status {
	case stripe.PayoutStatusFailed, stripe.PayoutStatusCanceled:
		return ledger.PayoutResult{}, fmt.Errorf("stripe payout %s ended with status %s: %s", po.ID, po.Status, po.FailureMessage)
	}
	return ledger.PayoutResult{ProviderReference: po.ID, Status: string(po.Status)}, nil
}

// maskAccount keeps the last four digits of a bank account number for reconciliation.
func maskAccount(number string) string {
	number = strings.TrimSpace(number)
	if len(number) <= 4 {
		return number
	}
	return number[len(number)-4:]
}
