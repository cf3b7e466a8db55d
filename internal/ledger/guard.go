package ledger

import (
	"context"
	"errors"
)

// guard checks that an actor owns the wallet being debited.
type guard struct {
	wallets WalletStore
}

// precheck rejects obviously foreign or missing source wallets before any lock is taken.
// A missing wallet and a foreign wallet are indistinguishable to the caller.
func (g guard) precheck(ctx context.Context, walletID, actorID string) (Wallet, error) {
	w, err := g.wallets.Wallet(ctx, walletID)
	if err != nil {
		if errors.Is(err, ErrWalletNotFound) {
			return Wallet{}, ErrUnauthorized
		}
		return Wallet{}, persistence(err)
	}
	if err := authorize(w, actorID); err != nil {
		return Wallet{}, err
	}
	return w, nil
}

// authorize re-validates ownership against a row locked by the current unit of work.
func authorize(locked Wallet, actorID string) error {
	if actorID == "" || locked.OwnerID != actorID {
		return ErrUnauthorized
	}
	return nil
}
