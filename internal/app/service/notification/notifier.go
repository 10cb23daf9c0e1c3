// Package notification dispatches lifecycle events to interested parties.
// Dispatch is fire-and-forget: a failure is logged and never reaches the caller.
package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/billing/pkg/config"
	"github.com/fatflowers/billing/pkg/logctx"
)

type EventType string

const (
	EventPaymentCreated          EventType = "payment.created"
	EventPaymentConfirmed        EventType = "payment.confirmed"
	EventPaymentFailed           EventType = "payment.failed"
	EventPaymentRejected         EventType = "payment.rejected"
	EventPaymentExpired          EventType = "payment.expired"
	EventLatePaymentConfirmation EventType = "payment.late_confirmation"
	EventTransactionCancelled    EventType = "transaction.cancelled"
	EventTransactionExpired      EventType = "transaction.expired"
	EventServiceActivated        EventType = "transaction.activated"
)

type Event struct {
	Type          EventType      `json:"type"`
	TransactionID string         `json:"transaction_id"`
	PaymentID     string         `json:"payment_id,omitempty"`
	CustomerID    string         `json:"customer_id,omitempty"`
	OccurredAt    time.Time      `json:"occurred_at"`
	Data          map[string]any `json:"data,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// LogNotifier writes events to the application log.
type LogNotifier struct {
	log *zap.SugaredLogger
}

func NewLogNotifier(log *zap.SugaredLogger) *LogNotifier {
	return &LogNotifier{log: log}
}

func (n *LogNotifier) Notify(ctx context.Context, e Event) {
	logctx.FromCtx(ctx, n.log).Infow("notify", "event", e.Type, "transaction_id", e.TransactionID,
		"payment_id", e.PaymentID, "customer_id", e.CustomerID)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events keyed by transaction id so one transaction's
// events stay ordered within a partition.
type KafkaNotifier struct {
	writer messageWriter
	log    *zap.SugaredLogger
}

func NewKafkaNotifier(brokers []string, topic string, log *zap.SugaredLogger) *KafkaNotifier {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireOne,
		Balancer:               &kafka.Hash{},
		Async:                  true,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warnw("kafka notify failed", "count", len(messages), "err", err)
			}
		},
	}
	return &KafkaNotifier{writer: w, log: log}
}

func (n *KafkaNotifier) Notify(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		logctx.FromCtx(ctx, n.log).Errorw("notify marshal failed", "event", e.Type, "err", err)
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.TransactionID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
			{Key: "trace_id", Value: []byte(logctx.TraceID(ctx))},
		},
	}
	// the request context may already be done; delivery must not depend on it
	if err := n.writer.WriteMessages(context.WithoutCancel(ctx), msg); err != nil {
		logctx.FromCtx(ctx, n.log).Warnw("notify failed", "event", e.Type, "transaction_id", e.TransactionID, "err", err)
	}
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// Safe wraps a notifier so a panicking implementation cannot break a state transition.
func Safe(n Notifier, log *zap.SugaredLogger) Notifier {
	return safeNotifier{next: n, log: log}
}

type safeNotifier struct {
	next Notifier
	log  *zap.SugaredLogger
}

func (s safeNotifier) Notify(ctx context.Context, e Event) {
	defer func() {
		if r := recover(); r != nil {
			logctx.FromCtx(ctx, s.log).Errorw("notifier panicked", "event", e.Type, "panic", r)
		}
	}()
	s.next.Notify(ctx, e)
}

// NewNotifier selects kafka when brokers are configured, otherwise the log notifier.
func NewNotifier(lc fx.Lifecycle, cfg *cfgpkg.Config, log *zap.SugaredLogger) Notifier {
	if len(cfg.Kafka.Brokers) == 0 {
		return Safe(NewLogNotifier(log), log)
	}
	kn := NewKafkaNotifier(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			log.Infow("closing kafka notifier")
			return kn.Close()
		},
	})
	log.Infow("kafka notifier enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	return Safe(kn, log)
}

var Module = fx.Options(
	fx.Provide(NewNotifier),
)
