// Package outbox publishes balance-affecting events to downstream consumers
// (creator analytics, supporter CRM, notification fan-out) without adding a
// second failure path to the ledger: event rows are written in the same
// storage transaction as the mutation they describe and relayed to Kafka
// asynchronously.
package outbox

import (
	"context"
	"encoding/json"
	"time"

	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"

	"github.com/google/uuid"
)

// Emitter enqueues events inside a coordinator's transaction.
type Emitter struct {
	TransactionsTopic string
	PayoutsTopic      string

	clock func() time.Time
}

func NewEmitter(transactionsTopic, payoutsTopic string) *Emitter {
	return &Emitter{
		TransactionsTopic: transactionsTopic,
		PayoutsTopic:      payoutsTopic,
		clock:             time.Now,
	}
}

// Transaction enqueues a transaction.recorded event. Keyed by user id so a
// user's events stay ordered within a partition.
func (e *Emitter) Transaction(ctx context.Context, tx store.Tx, t token.Transaction) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, store.OutboxEvent{
		ID:        uuid.NewString(),
		Topic:     e.TransactionsTopic,
		Key:       t.UserID,
		Payload:   payload,
		Status:    store.OutboxStatusPending,
		CreatedAt: e.clock().UTC(),
	})
}

// Payout enqueues a payout.updated event.
func (e *Emitter) Payout(ctx context.Context, tx store.Tx, p token.PayoutRequest) error {
	payload, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return tx.Outbox().Enqueue(ctx, store.OutboxEvent{
		ID:        uuid.NewString(),
		Topic:     e.PayoutsTopic,
		Key:       p.UserID,
		Payload:   payload,
		Status:    store.OutboxStatusPending,
		CreatedAt: e.clock().UTC(),
	})
}
