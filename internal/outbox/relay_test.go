package outbox

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"avalo-ledger/internal/store"
	"avalo-ledger/internal/store/memory"
	"avalo-ledger/internal/token"
)

type fakePublisher struct {
	published []store.OutboxEvent
	fail      bool
}

func (p *fakePublisher) Publish(topic, key string, value []byte) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.published = append(p.published, store.OutboxEvent{Topic: topic, Key: key, Payload: value})
	return nil
}

func enqueueOne(t *testing.T, db store.Store, em *Emitter) {
	t.Helper()
	err := db.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		return em.Transaction(ctx, tx, token.Transaction{TxID: "tx-1", UserID: "u1", Type: token.TxTypeSpend, Amount: 10})
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
}

func TestDrain_PublishesAndMarksSent(t *testing.T) {
	db := memory.New()
	em := NewEmitter("ledger.transactions", "ledger.payouts")
	enqueueOne(t, db, em)

	pub := &fakePublisher{}
	r := NewRelay(db, pub, slog.Default())

	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if len(pub.published) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(pub.published))
	}
	if pub.published[0].Topic != "ledger.transactions" || pub.published[0].Key != "u1" {
		t.Fatalf("unexpected event routing: %+v", pub.published[0])
	}

	// Second drain finds nothing pending.
	pub.published = nil
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("drain 2: %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatalf("event delivered twice")
	}
}

func TestDrain_RetriesThenFails(t *testing.T) {
	db := memory.New()
	em := NewEmitter("ledger.transactions", "ledger.payouts")
	enqueueOne(t, db, em)

	pub := &fakePublisher{fail: true}
	r := NewRelay(db, pub, slog.Default())
	r.MaxRetries = 3

	// Drains 1 and 2 increment the retry count; drain 3 marks it failed.
	for i := 0; i < 3; i++ {
		if err := r.Drain(context.Background()); err != nil {
			t.Fatalf("drain %d: %v", i, err)
		}
	}

	var pending []store.OutboxEvent
	_ = db.WithinTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		pending, err = tx.Outbox().ListPending(ctx, 10)
		return err
	})
	if len(pending) != 0 {
		t.Fatalf("expected event to leave the pending set, still have %d", len(pending))
	}

	// Broker recovers: the failed event stays failed (manual replay only).
	pub.fail = false
	if err := r.Drain(context.Background()); err != nil {
		t.Fatalf("drain after recovery: %v", err)
	}
	if len(pub.published) != 0 {
		t.Fatalf("failed event must not be republished automatically")
	}
}
