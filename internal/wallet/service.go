package wallet

import (
	"context"
	"fmt"
	"time"

	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"
)

// Store owns all wallet mutations.
//
// Money invariants:
// - Balance never goes negative; a violating delta is rejected untouched.
// - The accounting identity holds after every mutation.
// - Every mutation is a single version-checked read-modify-write; conflicting
//   writers are retried by the enclosing transaction runner.
//
// Coordinators that need multi-wallet atomicity compose the Tx-scoped
// primitives (EnsureTx, ApplyDeltaTx) inside their own transaction; the
// methods on Store are the single-wallet conveniences.
type Store struct {
	db          store.Store
	maxAttempts int
	clock       func() time.Time
}

func NewStore(db store.Store, maxAttempts int) *Store {
	return &Store{db: db, maxAttempts: maxAttempts, clock: time.Now}
}

// Balance is the read-side view of a wallet, including the cash-out eligible
// earned remainder for creator dashboards.
type Balance struct {
	UserID string `json:"user_id"`

	Balance int64 `json:"balance"`

	LifetimePurchased int64 `json:"lifetime_purchased"`
	LifetimeSpent     int64 `json:"lifetime_spent"`
	LifetimeEarned    int64 `json:"lifetime_earned"`
	LifetimePaidOut   int64 `json:"lifetime_paid_out"`

	EarnedAvailable int64 `json:"earned_available"`

	UpdatedAt time.Time `json:"updated_at"`
}

// Applied reports the balance movement a delta produced.
type Applied struct {
	UserID        string
	BeforeBalance int64
	AfterBalance  int64
}

// EnsureWallet idempotently creates a zeroed wallet for the user.
func (s *Store) EnsureWallet(ctx context.Context, userID string) error {
	if userID == "" {
		return token.ErrInvalidArgument
	}
	return store.RunInTx(ctx, s.db, s.maxAttempts, func(ctx context.Context, tx store.Tx) error {
		_, err := EnsureTx(ctx, tx, userID, s.clock().UTC())
		return err
	})
}

// GetBalance returns the wallet's current balance and lifetime counters.
func (s *Store) GetBalance(ctx context.Context, userID string) (Balance, error) {
	if userID == "" {
		return Balance{}, token.ErrInvalidArgument
	}
	var out Balance
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		w, ok, err := tx.Wallets().Get(ctx, userID)
		if err != nil {
			return err
		}
		if !ok {
			return token.ErrWalletNotFound
		}
		out = toBalance(w)
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return out, nil
}

// ApplyDelta performs one single-wallet mutation as its own atomic unit,
// retrying on write conflict up to the configured budget.
func (s *Store) ApplyDelta(ctx context.Context, userID string, amount int64, kind token.DeltaKind) (Applied, error) {
	var out Applied
	err := store.RunInTx(ctx, s.db, s.maxAttempts, func(ctx context.Context, tx store.Tx) error {
		before, after, err := ApplyDeltaTx(ctx, tx, userID, amount, kind, s.clock().UTC())
		if err != nil {
			return err
		}
		out = Applied{UserID: userID, BeforeBalance: before, AfterBalance: after}
		return nil
	})
	if err != nil {
		return Applied{}, err
	}
	return out, nil
}

// EnsureTx creates a zeroed wallet inside tx if absent and returns it.
func EnsureTx(ctx context.Context, tx store.Tx, userID string, now time.Time) (token.Wallet, error) {
	if userID == "" {
		return token.Wallet{}, token.ErrInvalidArgument
	}
	w, ok, err := tx.Wallets().Get(ctx, userID)
	if err != nil {
		return token.Wallet{}, err
	}
	if ok {
		return w, nil
	}
	w = token.Wallet{UserID: userID, CreatedAt: now, UpdatedAt: now}
	if err := tx.Wallets().Create(ctx, w); err != nil {
		return token.Wallet{}, err
	}
	return w, nil
}

// ApplyDeltaTx is the only wallet mutation primitive. It moves amount through
// the balance and the counter selected by kind, rejects deltas that would
// drive the balance negative, and verifies the accounting identity before
// writing.
//
// The wallet must already exist (EnsureTx). Returns the before/after balance
// for the caller's ledger entry.
func ApplyDeltaTx(ctx context.Context, tx store.Tx, userID string, amount int64, kind token.DeltaKind, now time.Time) (before, after int64, err error) {
	if userID == "" || amount <= 0 {
		return 0, 0, token.ErrInvalidArgument
	}

	w, ok, err := tx.Wallets().Get(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	if !ok {
		return 0, 0, token.ErrWalletNotFound
	}

	before = w.Balance
	switch kind {
	case token.DeltaPurchase:
		w.Balance += amount
		w.LifetimePurchased += amount
	case token.DeltaSpend:
		w.Balance -= amount
		w.LifetimeSpent += amount
	case token.DeltaEarn:
		w.Balance += amount
		w.LifetimeEarned += amount
	case token.DeltaRefundSpend:
		w.Balance += amount
		w.LifetimeSpent -= amount
	case token.DeltaRefundEarn:
		w.Balance -= amount
		w.LifetimeEarned -= amount
	case token.DeltaPayout:
		w.Balance -= amount
		w.LifetimePaidOut += amount
	default:
		return 0, 0, token.ErrInvalidArgument
	}

	if w.Balance < 0 {
		return 0, 0, token.ErrInsufficientBalance
	}
	if !w.IdentityHolds() {
		return 0, 0, fmt.Errorf("wallet %s: accounting identity violated after %s delta", userID, kind)
	}

	w.UpdatedAt = now
	if err := tx.Wallets().Update(ctx, w); err != nil {
		return 0, 0, err
	}
	return before, w.Balance, nil
}

func toBalance(w token.Wallet) Balance {
	return Balance{
		UserID:            w.UserID,
		Balance:           w.Balance,
		LifetimePurchased: w.LifetimePurchased,
		LifetimeSpent:     w.LifetimeSpent,
		LifetimeEarned:    w.LifetimeEarned,
		LifetimePaidOut:   w.LifetimePaidOut,
		EarnedAvailable:   w.EarnedAvailable(),
		UpdatedAt:         w.UpdatedAt,
	}
}
