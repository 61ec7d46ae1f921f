package purchase

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"avalo-ledger/internal/ledger"
	"avalo-ledger/internal/outbox"
	"avalo-ledger/internal/store/memory"
	"avalo-ledger/internal/token"
	"avalo-ledger/internal/wallet"
)

func newService(t *testing.T, limiter Limiter) (*Service, *wallet.Store, *ledger.Service) {
	t.Helper()
	db := memory.New()
	if limiter == nil {
		limiter = NewMemoryLimiter(100, time.Minute)
	}
	events := outbox.NewEmitter("ledger.transactions", "ledger.payouts")
	return NewService(db, limiter, events, slog.Default(), 4), wallet.NewStore(db, 4), ledger.NewService(db)
}

func TestCredit_CreatesWalletAndLedgerEntry(t *testing.T) {
	svc, ws, ls := newService(t, nil)
	ctx := context.Background()

	res, err := svc.Credit(ctx, CreditRequest{
		UserID: "u1", PackID: "pack_100", IdempotencyKey: "pi_abc", AmountTokens: 100,
	})
	if err != nil {
		t.Fatalf("credit: %v", err)
	}
	if res.Duplicate {
		t.Fatalf("first credit flagged duplicate")
	}
	if res.NewBalance != 100 {
		t.Fatalf("expected balance 100, got %d", res.NewBalance)
	}

	b, _ := ws.GetBalance(ctx, "u1")
	if b.Balance != 100 || b.LifetimePurchased != 100 {
		t.Fatalf("wallet not credited: %+v", b)
	}

	page, _ := ls.History(ctx, ledger.HistoryRequest{UserID: "u1"})
	if len(page.Transactions) != 1 || page.Transactions[0].Type != token.TxTypePurchase {
		t.Fatalf("expected one PURCHASE row, got %+v", page.Transactions)
	}
	if page.Transactions[0].IdempotencyKey != "pi_abc" {
		t.Fatalf("ledger row missing idempotency key")
	}
}

// Scenario: the same Stripe paymentIntentId submitted twice credits once and
// returns the identical result.
func TestCredit_ReplayedKeyCreditsExactlyOnce(t *testing.T) {
	svc, ws, _ := newService(t, nil)
	ctx := context.Background()

	first, err := svc.Credit(ctx, CreditRequest{UserID: "u1", PackID: "pack_100", IdempotencyKey: "pi_dup", AmountTokens: 100})
	if err != nil {
		t.Fatalf("first: %v", err)
	}

	for i := 0; i < 3; i++ {
		again, err := svc.Credit(ctx, CreditRequest{UserID: "u1", PackID: "pack_100", IdempotencyKey: "pi_dup", AmountTokens: 100})
		if err != nil {
			t.Fatalf("replay %d: %v", i, err)
		}
		if !again.Duplicate {
			t.Fatalf("replay %d not flagged duplicate", i)
		}
		if again.TxID != first.TxID || again.NewBalance != first.NewBalance {
			t.Fatalf("replay %d returned a different result: %+v vs %+v", i, again, first)
		}
	}

	b, _ := ws.GetBalance(ctx, "u1")
	if b.Balance != 100 {
		t.Fatalf("wallet credited more than once: %+v", b)
	}
}

func TestCredit_RateLimited(t *testing.T) {
	svc, ws, _ := newService(t, NewMemoryLimiter(2, time.Minute))
	ctx := context.Background()

	for i, key := range []string{"pi_1", "pi_2"} {
		if _, err := svc.Credit(ctx, CreditRequest{UserID: "u1", IdempotencyKey: key, AmountTokens: 50}); err != nil {
			t.Fatalf("purchase %d: %v", i, err)
		}
	}

	_, err := svc.Credit(ctx, CreditRequest{UserID: "u1", IdempotencyKey: "pi_3", AmountTokens: 50})
	if !errors.Is(err, token.ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}

	// No mutation on the limited attempt.
	b, _ := ws.GetBalance(ctx, "u1")
	if b.Balance != 100 {
		t.Fatalf("limited purchase mutated the wallet: %+v", b)
	}

	// Replaying an already-processed key is still allowed while limited.
	res, err := svc.Credit(ctx, CreditRequest{UserID: "u1", IdempotencyKey: "pi_1", AmountTokens: 50})
	if err != nil {
		t.Fatalf("replay while limited: %v", err)
	}
	if !res.Duplicate {
		t.Fatalf("expected duplicate short-circuit")
	}
}

func TestCredit_RejectsInvalidInput(t *testing.T) {
	svc, _, _ := newService(t, nil)
	ctx := context.Background()

	cases := []CreditRequest{
		{UserID: "", IdempotencyKey: "k", AmountTokens: 10},
		{UserID: "u", IdempotencyKey: "", AmountTokens: 10},
		{UserID: "u", IdempotencyKey: "k", AmountTokens: 0},
		{UserID: "u", IdempotencyKey: "k", AmountTokens: -10},
	}
	for i, req := range cases {
		if _, err := svc.Credit(ctx, req); !errors.Is(err, token.ErrInvalidArgument) {
			t.Fatalf("case %d: expected ErrInvalidArgument, got %v", i, err)
		}
	}
}

func TestMemoryLimiter_WindowResets(t *testing.T) {
	l := NewMemoryLimiter(1, time.Minute)
	now := time.Unix(1700000000, 0)
	l.clock = func() time.Time { return now }

	if ok, _ := l.Allow(context.Background(), "u1"); !ok {
		t.Fatalf("first call should pass")
	}
	if ok, _ := l.Allow(context.Background(), "u1"); ok {
		t.Fatalf("second call should be limited")
	}

	now = now.Add(61 * time.Second)
	if ok, _ := l.Allow(context.Background(), "u1"); !ok {
		t.Fatalf("call after window should pass")
	}
}
