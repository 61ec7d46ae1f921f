package spend

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"avalo-ledger/internal/outbox"
	"avalo-ledger/internal/split"
	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"
	"avalo-ledger/internal/wallet"

	"github.com/google/uuid"
)

// Coordinator moves tokens from a payer to a creator and the platform in one
// atomic unit: both balance mutations and both ledger entries commit together
// or not at all.
//
// Callers are the feature modules (chat, calls, calendar, events, tips,
// media, AI sessions). They never compute splits or touch balances
// themselves.
type Coordinator struct {
	db     store.Store
	events *outbox.Emitter
	log    *slog.Logger

	// platformAccountID is the reserved wallet that accrues commissions.
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

	// Context selects the revenue split rule.
	Context token.ContextType

	// RelatedID is the caller's domain identifier (message id, booking id, ...).
	RelatedID string

	// CreatorID is empty for platform-only contexts.
	CreatorID string
}

type Result struct {
	TxID       string `json:"tx_id"`
	NewBalance int64  `json:"new_balance"`

	CreatorEarned int64 `json:"creator_earned"`
	PlatformShare int64 `json:"platform_share"`
}

// Spend debits the payer, credits the creator share (rounded down) and the
// platform remainder, and appends a SPEND entry plus a paired EARN entry per
// credited account.
func (c *Coordinator) Spend(ctx context.Context, req Request) (Result, error) {
	if req.PayerID == "" || req.Amount <= 0 || req.RelatedID == "" {
		return Result{}, token.ErrInvalidArgument
	}
	if req.CreatorID == req.PayerID && req.CreatorID != "" {
		return Result{}, token.ErrInvalidArgument
	}
	if req.CreatorID == c.platformAccountID {
		return Result{}, token.ErrInvalidArgument
	}

	rule, known := split.Resolve(req.Context)
	if !known {
		// Recovered locally with the platform-only default; never silent.
		c.log.Warn("unknown revenue context, defaulting to platform-only",
			"context", string(req.Context), "payer_id", req.PayerID, "related_id", req.RelatedID)
	}

	creatorShare, platformShare := int64(0), req.Amount
	if req.CreatorID != "" {
		creatorShare, platformShare = rule.Apply(req.Amount)
	}

	var out Result
	err := store.RunInTx(ctx, c.db, c.maxAttempts, func(ctx context.Context, tx store.Tx) error {
		now := c.clock().UTC()

		// One mutation per wallet touched, applied in lexical user id order so
		// two spends between the same parties in opposite roles cannot
		// deadlock each other.
		muts := []mutation{{userID: req.PayerID, amount: req.Amount, kind: token.DeltaSpend}}
		if creatorShare > 0 {
			muts = append(muts, mutation{userID: req.CreatorID, amount: creatorShare, kind: token.DeltaEarn})
		}
		if platformShare > 0 {
			muts = append(muts, mutation{userID: c.platformAccountID, amount: platformShare, kind: token.DeltaEarn})
		}
		sort.Slice(muts, func(i, j int) bool { return muts[i].userID < muts[j].userID })

		applied := make(map[string]walletDelta, len(muts))
		for _, m := range muts {
			if _, err := wallet.EnsureTx(ctx, tx, m.userID, now); err != nil {
				return err
			}
			before, after, err := wallet.ApplyDeltaTx(ctx, tx, m.userID, m.amount, m.kind, now)
			if err != nil {
				return err
			}
			applied[m.userID] = walletDelta{before: before, after: after}
		}

		spendTx := token.Transaction{
			TxID:           uuid.NewString(),
			UserID:         req.PayerID,
			Type:           token.TxTypeSpend,
			Source:         req.Context,
			Amount:         req.Amount,
			BeforeBalance:  applied[req.PayerID].before,
			AfterBalance:   applied[req.PayerID].after,
			RelatedID:      req.RelatedID,
			CounterpartyID: req.CreatorID,
			CreatorShare:   creatorShare,
			PlatformShare:  platformShare,
			CreatedAt:      now,
		}
		rows := []token.Transaction{spendTx}

		if creatorShare > 0 {
			rows = append(rows, token.Transaction{
				TxID:           uuid.NewString(),
				UserID:         req.CreatorID,
				Type:           token.TxTypeEarn,
				Source:         req.Context,
				Amount:         creatorShare,
				BeforeBalance:  applied[req.CreatorID].before,
				AfterBalance:   applied[req.CreatorID].after,
				RelatedID:      req.RelatedID,
				CounterpartyID: req.PayerID,
				OriginalTxID:   spendTx.TxID,
				CreatedAt:      now,
			})
		}
		if platformShare > 0 {
			rows = append(rows, token.Transaction{
				TxID:           uuid.NewString(),
				UserID:         c.platformAccountID,
				Type:           token.TxTypeEarn,
				Source:         req.Context,
				Amount:         platformShare,
				BeforeBalance:  applied[c.platformAccountID].before,
				AfterBalance:   applied[c.platformAccountID].after,
				RelatedID:      req.RelatedID,
				CounterpartyID: req.PayerID,
				OriginalTxID:   spendTx.TxID,
				CreatedAt:      now,
			})
		}

		for _, row := range rows {
			if err := tx.Ledger().Append(ctx, row); err != nil {
				return err
			}
			if err := c.events.Transaction(ctx, tx, row); err != nil {
				return err
			}
		}

		out = Result{
			TxID:          spendTx.TxID,
			NewBalance:    spendTx.AfterBalance,
			CreatorEarned: creatorShare,
			PlatformShare: platformShare,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return out, nil
}

type mutation struct {
	userID string
	amount int64
	kind   token.DeltaKind
}

type walletDelta struct {
	before, after int64
}
