package outbox

import (
	"context"
	"log/slog"
	"time"

	"avalo-ledger/internal/store"

	"github.com/IBM/sarama"
)

// Publisher abstracts the broker so the relay is testable without Kafka.
type Publisher interface {
	Publish(topic, key string, value []byte) error
}

// KafkaPublisher publishes through a sarama synchronous producer.
type KafkaPublisher struct {
	Producer sarama.SyncProducer
}

func (p KafkaPublisher) Publish(topic, key string, value []byte) error {
	_, _, err := p.Producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

// Relay drains pending outbox events to the broker. Delivery is at-least-once;
// consumers must dedupe on event id.
type Relay struct {
	db  store.Store
	pub Publisher
	log *slog.Logger

	Interval   time.Duration
	BatchSize  int
	MaxRetries int
}

func NewRelay(db store.Store, pub Publisher, log *slog.Logger) *Relay {
	return &Relay{
		db:         db,
		pub:        pub,
		log:        log,
		Interval:   200 * time.Millisecond,
		BatchSize:  100,
		MaxRetries: 5,
	}
}

// Run polls until ctx is cancelled. Intended to run as a single background
// goroutine per process.
func (r *Relay) Run(ctx context.Context) {
	r.log.Info("outbox relay started", "interval", r.Interval.String(), "batch", r.BatchSize)

	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.log.Info("outbox relay stopped")
			return
		case <-ticker.C:
			if err := r.Drain(ctx); err != nil {
				r.log.Error("outbox drain failed", "err", err)
			}
		}
	}
}

// Drain processes one batch of pending events.
func (r *Relay) Drain(ctx context.Context) error {
	var pending []store.OutboxEvent
	err := r.db.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		pending, err = tx.Outbox().ListPending(ctx, r.BatchSize)
		return err
	})
	if err != nil {
		return err
	}

	for _, e := range pending {
		r.deliver(ctx, e)
	}
	return nil
}

func (r *Relay) deliver(ctx context.Context, e store.OutboxEvent) {
	pubErr := r.pub.Publish(e.Topic, e.Key, e.Payload)

	err := r.db.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if pubErr == nil {
			return tx.Outbox().MarkSent(ctx, e.ID)
		}
		if e.RetryCount+1 >= r.MaxRetries {
			return tx.Outbox().MarkFailed(ctx, e.ID)
		}
		return tx.Outbox().IncrementRetry(ctx, e.ID)
	})
	if err != nil {
		r.log.Error("outbox status update failed", "event_id", e.ID, "err", err)
		return
	}
	if pubErr != nil {
		r.log.Warn("outbox publish failed", "event_id", e.ID, "topic", e.Topic, "retry", e.RetryCount+1, "err", pubErr)
	}
}
