package payout

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

// Manager converts earned token balances into fiat payout requests and drives
// their state machine:
//
//	PENDING -> PROCESSING -> {COMPLETED | FAILED}
//	PENDING -> CANCELLED
//
// Transitions come from the external payout processor; the manager only
// validates them. Tokens are deducted exactly once, at the transition into
// COMPLETED. A request sitting in PROCESSING holds no lock and reserves no
// balance beyond the eligibility bookkeeping.
type Manager struct {
	db     store.Store
	events *outbox.Emitter
	log    *slog.Logger
	cfg    Config

	maxAttempts int
	clock       func() time.Time
}

// Config is the payout policy. Fiat values are minor units.
type Config struct {
	// MinimumPayoutTokens is the smallest cash-out amount.
	MinimumPayoutTokens int64
	// RatePerTokenMinor is the fixed fiat value of one token.
	RatePerTokenMinor int64
	// FeePercent is the processing fee percentage taken from the fiat amount.
	FeePercent int64
}

func NewManager(db store.Store, events *outbox.Emitter, log *slog.Logger, cfg Config, maxAttempts int) *Manager {
	return &Manager{
		db:          db,
		events:      events,
		log:         log,
		cfg:         cfg,
		maxAttempts: maxAttempts,
		clock:       time.Now,
	}
}

type Request struct {
	UserID       string
	AmountTokens int64
	PayoutMethod string
	Currency     string

	// KYCVerified is the upstream identity-verification verdict; decisioning
	// is not this service's concern.
	KYCVerified bool
}

// RequestPayout validates eligibility and creates a PENDING request. No
// tokens move here.
//
// Payouts consume earned tokens only: the check runs against
// lifetimeEarned - lifetimePaidOut minus already-outstanding requests,
// independent of the spendable balance, which may be inflated by purchases
// that are not cash-out eligible.
func (m *Manager) RequestPayout(ctx context.Context, req Request) (token.PayoutRequest, error) {
	if req.UserID == "" || req.AmountTokens <= 0 || req.PayoutMethod == "" || req.Currency == "" {
		return token.PayoutRequest{}, token.ErrInvalidArgument
	}
	if !req.KYCVerified {
		return token.PayoutRequest{}, &token.PayoutIneligibleError{Reason: token.PayoutIneligibleNoKYC}
	}
	if req.AmountTokens < m.cfg.MinimumPayoutTokens {
		return token.PayoutRequest{}, &token.PayoutIneligibleError{Reason: token.PayoutIneligibleBelowMinimum}
	}

	amountFiat := req.AmountTokens * m.cfg.RatePerTokenMinor
	fee := amountFiat * m.cfg.FeePercent / 100

	var out token.PayoutRequest
	err := store.RunInTx(ctx, m.db, m.maxAttempts, func(ctx context.Context, tx store.Tx) error {
		now := m.clock().UTC()

		w, ok, err := tx.Wallets().Get(ctx, req.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return &token.PayoutIneligibleError{Reason: token.PayoutIneligibleInsufficientEarned}
		}

		outstanding, err := tx.Payouts().SumOutstanding(ctx, req.UserID)
		if err != nil {
			return err
		}
		if req.AmountTokens > w.EarnedAvailable()-outstanding {
			return &token.PayoutIneligibleError{Reason: token.PayoutIneligibleInsufficientEarned}
		}

		p := token.PayoutRequest{
			ID:                     uuid.NewString(),
			UserID:                 req.UserID,
			AmountTokens:           req.AmountTokens,
			AmountFiatMinor:        amountFiat,
			ProcessingFeeFiatMinor: fee,
			NetAmountFiatMinor:     amountFiat - fee,
			Currency:               req.Currency,
			PayoutMethod:           req.PayoutMethod,
			Status:                 token.PayoutStatusPending,
			KYCVerified:            true,
			RequestedAt:            now,
		}
		if err := tx.Payouts().Create(ctx, p); err != nil {
			return err
		}
		if err := m.events.Payout(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return token.PayoutRequest{}, err
	}

	m.log.Info("payout requested",
		"payout_id", out.ID, "user_id", out.UserID,
		"amount_tokens", out.AmountTokens, "net_fiat_minor", out.NetAmountFiatMinor)
	return out, nil
}

// Transition is the only mutation entry point for the payout state machine,
// driven by the external payout processor. The token deduction and the PAYOUT
// ledger entry happen atomically with the status write on the transition into
// COMPLETED, and nowhere else.
func (m *Manager) Transition(ctx context.Context, payoutID string, newStatus token.PayoutStatus, failureReason string) (token.PayoutRequest, error) {
	if payoutID == "" {
		return token.PayoutRequest{}, token.ErrInvalidArgument
	}

	var out token.PayoutRequest
	err := store.RunInTx(ctx, m.db, m.maxAttempts, func(ctx context.Context, tx store.Tx) error {
		now := m.clock().UTC()

		p, ok, err := tx.Payouts().Get(ctx, payoutID)
		if err != nil {
			return err
		}
		if !ok {
			return token.ErrPayoutNotFound
		}
		if !p.Status.CanTransitionTo(newStatus) {
			return token.ErrInvalidPayoutTransition
		}

		switch newStatus {
		case token.PayoutStatusProcessing:
			p.ProcessedAt = &now
		case token.PayoutStatusFailed:
			p.FailureReason = failureReason
		case token.PayoutStatusCompleted:
			before, after, err := wallet.ApplyDeltaTx(ctx, tx, p.UserID, p.AmountTokens, token.DeltaPayout, now)
			if err != nil {
				return err
			}
			row := token.Transaction{
				TxID:          uuid.NewString(),
				UserID:        p.UserID,
				Type:          token.TxTypePayout,
				Amount:        p.AmountTokens,
				BeforeBalance: before,
				AfterBalance:  after,
				RelatedID:     p.ID,
				CreatedAt:     now,
			}
			if err := tx.Ledger().Append(ctx, row); err != nil {
				return err
			}
			if err := m.events.Transaction(ctx, tx, row); err != nil {
				return err
			}
			p.CompletedAt = &now
		}

		p.Status = newStatus
		if err := tx.Payouts().Update(ctx, p); err != nil {
			return err
		}
		if err := m.events.Payout(ctx, tx, p); err != nil {
			return err
		}
		out = p
		return nil
	})
	if err != nil {
		return token.PayoutRequest{}, err
	}

	m.log.Info("payout transition",
		"payout_id", out.ID, "status", string(out.Status), "failure_reason", out.FailureReason)
	return out, nil
}

// Cancel withdraws a PENDING request. Owner-initiated; anything past PENDING
// belongs to the processor.
func (m *Manager) Cancel(ctx context.Context, payoutID, userID string) (token.PayoutRequest, error) {
	if payoutID == "" || userID == "" {
		return token.PayoutRequest{}, token.ErrInvalidArgument
	}

	// Ownership check first; the transition itself enforces PENDING-only.
	p, err := m.Get(ctx, payoutID)
	if err != nil {
		return token.PayoutRequest{}, err
	}
	if p.UserID != userID {
		return token.PayoutRequest{}, token.ErrPayoutNotFound
	}
	return m.Transition(ctx, payoutID, token.PayoutStatusCancelled, "")
}

// Get returns a payout request by id.
func (m *Manager) Get(ctx context.Context, payoutID string) (token.PayoutRequest, error) {
	var out token.PayoutRequest
	err := m.db.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		p, ok, err := tx.Payouts().Get(ctx, payoutID)
		if err != nil {
			return err
		}
		if !ok {
			return token.ErrPayoutNotFound
		}
		out = p
		return nil
	})
	if err != nil {
		return token.PayoutRequest{}, err
	}
	return out, nil
}
