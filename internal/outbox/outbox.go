// Package outbox relays ledger events committed to the outbox table to a notifier.
package outbox

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/lendwallet/walletd/internal/ledger"
	"github.com/lendwallet/walletd/internal/notification"
)

const (
	defaultBatchSize    = 50
	defaultPollInterval = 2 * time.Second
	defaultSendTimeout  = 10 * time.Second
)

// Store hands pending events to send in commit order and marks each delivered
// event as sent. Delivery stops at the first send failure.
type Store interface {
	Deliver(ctx context.Context, limit int, send func(context.Context, ledger.Event) error) (int, error)
}

// Relay polls a Store and publishes events through a Notifier.
type Relay struct {
	store     Store
	notifier  notification.Notifier
	batchSize int
	interval  time.Duration
	logger    *zap.Logger
}

// NewRelay builds a relay. Zero values select defaults.
func NewRelay(store Store, notifier notification.Notifier, interval time.Duration, batchSize int, logger *zap.Logger) *Relay {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Relay{
		store:     store,
		notifier:  notifier,
		batchSize: batchSize,
		interval:  interval,
		logger:    logger.With(zap.String("component", "outbox")),
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	r.logger.Info("outbox relay started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if _, err := r.Flush(ctx); err != nil && !errors.Is(err, context.Canceled) {
				r.logger.Warn("outbox delivery incomplete", zap.Error(err))
			}
		}
	}
}

// Flush delivers pending events until the store is drained or a send fails.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	total := 0
	for {
		n, err := r.store.Deliver(ctx, r.batchSize, r.send)
		total += n
		if err != nil {
			return total, err
		}
		if n < r.batchSize {
			if total > 0 {
				r.logger.Debug("outbox events delivered", zap.Int("count", total))
			}
			return total, nil
		}
	}
}

func (r *Relay) send(ctx context.Context, e ledger.Event) error {
	sendCtx, cancel := context.WithTimeout(ctx, defaultSendTimeout)
	defer cancel()
	return r.notifier.Publish(sendCtx, e)
}
