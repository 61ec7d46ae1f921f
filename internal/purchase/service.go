package purchase

import (
	"context"
	"log/slog"
	"time"

	"avalo-ledger/internal/outbox"
	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"
	"avalo-ledger/internal/wallet"

	"github.com/google/uuid"
)

// Service credits wallets from validated external payment events.
//
// Receipt/webhook cryptographic verification happens upstream (web checkout,
// app-store and play-store pipelines); by the time Credit is called the
// (idempotencyKey, amountTokens) pair is trusted. The idempotency key is the
// gateway's own transaction id (e.g. a Stripe paymentIntentId), which makes
// replayed webhooks a no-op rather than a double credit.
type Service struct {
	db      store.Store
	limiter Limiter
	events  *outbox.Emitter
	log     *slog.Logger

	maxAttempts int
	clock       func() time.Time
}

func NewService(db store.Store, limiter Limiter, events *outbox.Emitter, log *slog.Logger, maxAttempts int) *Service {
	return &Service{
		db:          db,
		limiter:     limiter,
		events:      events,
		log:         log,
		maxAttempts: maxAttempts,
		clock:       time.Now,
	}
}

type CreditRequest struct {
	UserID string
	// PackID identifies the purchased token pack, for audit only.
	PackID         string
	IdempotencyKey string
	AmountTokens   int64
}

type CreditResult struct {
	TxID       string `json:"tx_id"`
	NewBalance int64  `json:"new_balance"`

	// Duplicate is true when the idempotency key was already processed; the
	// result is the original one and no second credit happened.
	Duplicate bool `json:"duplicate"`
}

// Credit atomically increments the wallet and appends a PURCHASE transaction.
func (s *Service) Credit(ctx context.Context, req CreditRequest) (CreditResult, error) {
	if req.UserID == "" || req.IdempotencyKey == "" || req.AmountTokens <= 0 {
		return CreditResult{}, token.ErrInvalidArgument
	}

	// Replays short-circuit before the frequency limit: a retried webhook for
	// an already-processed payment must not burn the user's budget.
	if res, ok, err := s.findExisting(ctx, req.IdempotencyKey); err != nil {
		return CreditResult{}, err
	} else if ok {
		return res, nil
	}

	allowed, err := s.limiter.Allow(ctx, req.UserID)
	if err != nil {
		return CreditResult{}, err
	}
	if !allowed {
		s.log.Warn("purchase rate limit hit", "user_id", req.UserID, "pack_id", req.PackID)
		return CreditResult{}, token.ErrRateLimited
	}

	var out CreditResult
	err = store.RunInTx(ctx, s.db, s.maxAttempts, func(ctx context.Context, tx store.Tx) error {
		now := s.clock().UTC()

		// Re-check under the transaction: two replays can race past the read
		// above, and only one may append.
		if existing, ok, err := tx.Ledger().FindByIdempotencyKey(ctx, req.IdempotencyKey); err != nil {
			return err
		} else if ok {
			out = CreditResult{TxID: existing.TxID, NewBalance: existing.AfterBalance, Duplicate: true}
			return nil
		}

		if _, err := wallet.EnsureTx(ctx, tx, req.UserID, now); err != nil {
			return err
		}
		before, after, err := wallet.ApplyDeltaTx(ctx, tx, req.UserID, req.AmountTokens, token.DeltaPurchase, now)
		if err != nil {
			return err
		}

		row := token.Transaction{
			TxID:           uuid.NewString(),
			UserID:         req.UserID,
			Type:           token.TxTypePurchase,
			Amount:         req.AmountTokens,
			BeforeBalance:  before,
			AfterBalance:   after,
			RelatedID:      req.PackID,
			IdempotencyKey: req.IdempotencyKey,
			CreatedAt:      now,
		}
		if err := tx.Ledger().Append(ctx, row); err != nil {
			return err
		}
		if err := s.events.Transaction(ctx, tx, row); err != nil {
			return err
		}

		out = CreditResult{TxID: row.TxID, NewBalance: after}
		return nil
	})
	if err != nil {
		return CreditResult{}, err
	}
	return out, nil
}

func (s *Service) findExisting(ctx context.Context, key string) (CreditResult, bool, error) {
	var res CreditResult
	found := false
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		existing, ok, err := tx.Ledger().FindByIdempotencyKey(ctx, key)
		if err != nil {
			return err
		}
		if ok {
			res = CreditResult{TxID: existing.TxID, NewBalance: existing.AfterBalance, Duplicate: true}
			found = true
		}
		return nil
	})
	return res, found, err
}
