package funding

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v72"

	"github.com/lendwallet/walletd/internal/ledger"
)

// StaticVerifier confirms deposits from an in-process table of payments.
// Unknown references are reported as unsuccessful.
type StaticVerifier struct {
	mu       sync.RWMutex
	payments map[string]ledger.DepositVerification
}

// NewStaticVerifier returns an empty verifier.
func NewStaticVerifier() *StaticVerifier {
	return &StaticVerifier{payments: make(map[string]ledger.DepositVerification)}
}

// Record registers the provider's answer for a reference.
func (v *StaticVerifier) Record(p ledger.DepositVerification) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.payments[p.Reference] = p
}

func (v *StaticVerifier) VerifyDeposit(_ context.Context, reference string) (ledger.DepositVerification, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.payments[reference]
	if !ok {
		return ledger.DepositVerification{Reference: reference, Message: "payment reference not found"}, nil
	}
	return p, nil
}

// VerifyDeposit looks the reference up as a Stripe PaymentIntent. The wallet
// is read from the intent's wallet_id metadata.
func (g *StripeGateway) VerifyDeposit(ctx context.Context, reference string) (ledger.DepositVerification, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(reference, params)
	if err != nil {
		return ledger.DepositVerification{}, fmt.Errorf("stripe payment intent: %w", err)
	}

	currency := strings.ToUpper(string(pi.Currency))
	places, ok := ledger.MinorUnits(currency)
	if !ok {
		return ledger.DepositVerification{}, fmt.Errorf("unsupported deposit currency %q", pi.Currency)
	}

	v := ledger.DepositVerification{
		Reference: pi.ID,
		WalletID:  pi.Metadata["wallet_id"],
		Amount:    decimal.New(pi.AmountReceived, -places),
		Currency:  currency,
		Succeeded: pi.Status == stripe.PaymentIntentStatusSucceeded,
	}
	if !v.Succeeded {
		v.Amount = decimal.New(pi.Amount, -places)
		v.Message = "payment status is " + string(pi.Status)
		if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
			v.Message = pi.LastPaymentError.Msg
		}
	}
	return v, nil
}
