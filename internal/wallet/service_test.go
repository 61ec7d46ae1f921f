package wallet

import (
	"context"
	"errors"
	"testing"

	"avalo-ledger/internal/store/memory"
	"avalo-ledger/internal/token"
)

func TestEnsureWallet_IsIdempotent(t *testing.T) {
	s := NewStore(memory.New(), 0)
	ctx := context.Background()

	if err := s.EnsureWallet(ctx, "u1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if err := s.EnsureWallet(ctx, "u1"); err != nil {
		t.Fatalf("second ensure: %v", err)
	}

	b, err := s.GetBalance(ctx, "u1")
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if b.Balance != 0 || b.LifetimePurchased != 0 {
		t.Fatalf("expected zeroed wallet, got %+v", b)
	}
}

func TestApplyDelta_PurchaseThenSpendKeepsIdentity(t *testing.T) {
	s := NewStore(memory.New(), 0)
	ctx := context.Background()
	if err := s.EnsureWallet(ctx, "u1"); err != nil {
		t.Fatalf("ensure: %v", err)
	}

	a, err := s.ApplyDelta(ctx, "u1", 500, token.DeltaPurchase)
	if err != nil {
		t.Fatalf("purchase delta: %v", err)
	}
	if a.BeforeBalance != 0 || a.AfterBalance != 500 {
		t.Fatalf("expected 0 -> 500, got %d -> %d", a.BeforeBalance, a.AfterBalance)
	}

	a, err = s.ApplyDelta(ctx, "u1", 200, token.DeltaSpend)
	if err != nil {
		t.Fatalf("spend delta: %v", err)
	}
	if a.AfterBalance != 300 {
		t.Fatalf("expected 300, got %d", a.AfterBalance)
	}

	b, _ := s.GetBalance(ctx, "u1")
	if b.LifetimePurchased != 500 || b.LifetimeSpent != 200 {
		t.Fatalf("unexpected counters: %+v", b)
	}
	if b.Balance != b.LifetimePurchased+b.LifetimeEarned-b.LifetimeSpent-b.LifetimePaidOut {
		t.Fatalf("accounting identity violated: %+v", b)
	}
}

func TestApplyDelta_RejectsNegativeBalance(t *testing.T) {
	s := NewStore(memory.New(), 0)
	ctx := context.Background()
	_ = s.EnsureWallet(ctx, "u1")
	if _, err := s.ApplyDelta(ctx, "u1", 100, token.DeltaPurchase); err != nil {
		t.Fatalf("purchase: %v", err)
	}

	_, err := s.ApplyDelta(ctx, "u1", 101, token.DeltaSpend)
	if !errors.Is(err, token.ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}

	// Wallet untouched.
	b, _ := s.GetBalance(ctx, "u1")
	if b.Balance != 100 || b.LifetimeSpent != 0 {
		t.Fatalf("wallet mutated on rejected delta: %+v", b)
	}
}

func TestApplyDelta_RejectsInvalidArgs(t *testing.T) {
	s := NewStore(memory.New(), 0)
	ctx := context.Background()

	if _, err := s.ApplyDelta(ctx, "", 10, token.DeltaPurchase); !errors.Is(err, token.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := s.ApplyDelta(ctx, "u1", 0, token.DeltaPurchase); !errors.Is(err, token.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for zero amount, got %v", err)
	}
	if _, err := s.ApplyDelta(ctx, "u1", -5, token.DeltaPurchase); !errors.Is(err, token.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for negative amount, got %v", err)
	}

	_ = s.EnsureWallet(ctx, "u1")
	if _, err := s.ApplyDelta(ctx, "u1", 5, token.DeltaKind("bogus")); !errors.Is(err, token.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument for unknown kind, got %v", err)
	}
}

func TestApplyDelta_UnknownWallet(t *testing.T) {
	s := NewStore(memory.New(), 0)
	if _, err := s.ApplyDelta(context.Background(), "ghost", 10, token.DeltaSpend); !errors.Is(err, token.ErrWalletNotFound) {
		t.Fatalf("expected ErrWalletNotFound, got %v", err)
	}
}

func TestApplyDelta_EarnAndPayoutCounters(t *testing.T) {
	s := NewStore(memory.New(), 0)
	ctx := context.Background()
	_ = s.EnsureWallet(ctx, "creator")

	if _, err := s.ApplyDelta(ctx, "creator", 300, token.DeltaEarn); err != nil {
		t.Fatalf("earn: %v", err)
	}
	if _, err := s.ApplyDelta(ctx, "creator", 120, token.DeltaPayout); err != nil {
		t.Fatalf("payout: %v", err)
	}

	b, _ := s.GetBalance(ctx, "creator")
	if b.LifetimeEarned != 300 || b.LifetimePaidOut != 120 {
		t.Fatalf("unexpected counters: %+v", b)
	}
	if b.EarnedAvailable != 180 {
		t.Fatalf("expected 180 earned available, got %d", b.EarnedAvailable)
	}
	if b.Balance != 180 {
		t.Fatalf("expected balance 180, got %d", b.Balance)
	}
}
