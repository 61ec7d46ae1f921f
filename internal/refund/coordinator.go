package refund

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"avalo-ledger/internal/outbox"
	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"
	"avalo-ledger/internal/wallet"

	"github.com/google/uuid"
)

// Coordinator reverses prior spends. Two modes:
//
//   - Payer-only: the payer gets tokens back, the creator keeps their share
//     and the platform keeps its commission (user-initiated cancellations
//     inside a partial-refund window).
//   - Full clawback: payer, creator and platform are all restored to their
//     exact pre-spend balances (the earner/host cancelled).
//
// Cumulative refunds against one original transaction never exceed its
// amount; every touched wallet gets its own REFUND ledger entry referencing
// the original.
type Coordinator struct {
	db     store.Store
	events *outbox.Emitter
	log    *slog.Logger

	platformAccountID string
	maxAttempts       int
	clock             func() time.Time
}

func NewCoordinator(db store.Store, events *outbox.Emitter, log *slog.Logger, platformAccountID string, maxAttempts int) *Coordinator {
	return &Coordinator{
		db:                db,
		events:            events,
		log:               log,
		platformAccountID: platformAccountID,
		maxAttempts:       maxAttempts,
		clock:             time.Now,
	}
}

type Request struct {
	PayerID string
	Amount  int64

	RelatedID string
	Reason    string

	OriginalTxID string

	// RefundPlatformShare selects full-clawback mode.
	RefundPlatformShare bool

	// EarnerID optionally names the creator to claw back from; it must match
	// the counterparty recorded on the original spend.
	EarnerID string
}

type Result struct {
	TxID       string `json:"tx_id"`
	NewBalance int64  `json:"new_balance"`
}

func (c *Coordinator) Refund(ctx context.Context, req Request) (Result, error) {
	if req.PayerID == "" || req.Amount <= 0 || req.OriginalTxID == "" || req.Reason == "" {
		return Result{}, token.ErrInvalidArgument
	}

	var out Result
	err := store.RunInTx(ctx, c.db, c.maxAttempts, func(ctx context.Context, tx store.Tx) error {
		now := c.clock().UTC()

		original, ok, err := tx.Ledger().Get(ctx, req.OriginalTxID)
		if err != nil {
			return err
		}
		// Only the payer's own SPEND entries are refundable.
		if !ok || original.Type != token.TxTypeSpend || original.UserID != req.PayerID {
			return token.ErrOriginalTransactionNotFound
		}

		refunded, err := tx.Ledger().SumRefunded(ctx, req.PayerID, req.OriginalTxID)
		if err != nil {
			return err
		}
		remaining := original.Amount - refunded
		if req.Amount > remaining {
			return token.ErrRefundExceedsOriginal
		}

		earnerID := original.CounterpartyID
		if req.EarnerID != "" && req.EarnerID != earnerID {
			return token.ErrInvalidArgument
		}

		muts := []mutation{{userID: req.PayerID, amount: req.Amount, kind: token.DeltaRefundSpend}}
		if req.RefundPlatformShare {
			// Clawback restores the pre-spend state exactly, so it must cover
			// the full original amount and be the first refund against it.
			if req.Amount != original.Amount || refunded != 0 {
				return token.ErrRefundExceedsOriginal
			}
			if earnerID != "" && original.CreatorShare > 0 {
				muts = append(muts, mutation{userID: earnerID, amount: original.CreatorShare, kind: token.DeltaRefundEarn})
			}
			if original.PlatformShare > 0 {
				muts = append(muts, mutation{userID: c.platformAccountID, amount: original.PlatformShare, kind: token.DeltaRefundEarn})
			}
		}
		// Same fixed wallet ordering as spends.
		sort.Slice(muts, func(i, j int) bool { return muts[i].userID < muts[j].userID })

		var rows []token.Transaction
		for _, m := range muts {
			before, after, err := wallet.ApplyDeltaTx(ctx, tx, m.userID, m.amount, m.kind, now)
			if err != nil {
				return err
			}
			row := token.Transaction{
				TxID:           uuid.NewString(),
				UserID:         m.userID,
				Type:           token.TxTypeRefund,
				Source:         original.Source,
				Amount:         m.amount,
				BeforeBalance:  before,
				AfterBalance:   after,
				RelatedID:      req.RelatedID,
				OriginalTxID:   req.OriginalTxID,
				CounterpartyID: counterpartyFor(m.userID, req.PayerID, earnerID),
				CreatedAt:      now,
			}
			rows = append(rows, row)
			if m.userID == req.PayerID {
				out = Result{TxID: row.TxID, NewBalance: after}
			}
		}

		for _, row := range rows {
			if err := tx.Ledger().Append(ctx, row); err != nil {
				return err
			}
			if err := c.events.Transaction(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	c.log.Info("refund applied",
		"payer_id", req.PayerID, "amount", req.Amount,
		"original_tx_id", req.OriginalTxID, "clawback", req.RefundPlatformShare,
		"reason", req.Reason)
	return out, nil
}

func counterpartyFor(userID, payerID, earnerID string) string {
	if userID == payerID {
		return earnerID
	}
	return payerID
}

type mutation struct {
	userID string
	amount int64
	kind   token.DeltaKind
}
