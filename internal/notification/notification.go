// Package notification publishes committed ledger events to downstream systems.
package notification

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/lendwallet/walletd/internal/ledger"
)

// Notifier delivers ledger events to downstream systems.
type Notifier interface {
	Publish(ctx context.Context, event ledger.Event) error
}

// LoggerNotifier writes events to the structured logger. It is used when no
// broker is configured.
type LoggerNotifier struct {
	logger *zap.Logger
}

// NewLoggerNotifier constructs a logging notifier.
func NewLoggerNotifier(logger *zap.Logger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Publish writes the event to the logger.
func (n *LoggerNotifier) Publish(_ context.Context, event ledger.Event) error {
	if n == nil || n.logger == nil {
		return nil
	}
	n.logger.Info("ledger event",
		zap.String("event_id", event.ID),
		zap.String("type", event.Type),
		zap.String("transaction_id", event.TransactionID),
		zap.String("kind", string(event.Kind)),
		zap.String("source_wallet_id", event.SourceWalletID),
		zap.String("destination_wallet_id", event.DestinationWalletID),
		zap.String("amount", event.Amount.String()),
		zap.String("currency", event.Currency),
	)
	return nil
}

// MessageWriter is the subset of *kafka.Writer used by KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events as JSON messages keyed by the source wallet,
// so events of one wallet stay ordered within a partition.
type KafkaNotifier struct {
	writer MessageWriter
	logger *zap.Logger
}

// NewKafkaNotifier wraps a Kafka writer.
func NewKafkaNotifier(writer MessageWriter, logger *zap.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: writer, logger: logger}
}

// Publish writes one message and waits for the broker acknowledgement.
func (n *KafkaNotifier) Publish(ctx context.Context, event ledger.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	msg := kafka.Message{
		Key:   []byte(event.SourceWalletID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
		Time: event.OccurredAt,
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.logger.Error("failed to publish ledger event", zap.String("event_id", event.ID), zap.Error(err))
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	n.logger.Debug("ledger event published", zap.String("event_id", event.ID), zap.String("key", event.SourceWalletID))
	return nil
}

// Close flushes and closes the underlying writer.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}
