package token

import "time"

// Amounts are whole tokens using int64. Tokens are indivisible; there are no
// fractional token amounts anywhere in the system.

// Wallet is the per-user balance aggregate plus lifetime counters.
//
// Accounting identity (must hold after every mutation):
//
//	Balance == LifetimePurchased + LifetimeEarned - LifetimeSpent - LifetimePaidOut
//
// Wallets are mutated only through the wallet store primitives; coordinators
// never write balances directly.
type Wallet struct {
	UserID string `json:"user_id" db:"user_id"`

	// Balance is the current spendable balance. Never negative.
	Balance int64 `json:"balance" db:"balance"`

	LifetimePurchased int64 `json:"lifetime_purchased" db:"lifetime_purchased"`
	LifetimeSpent     int64 `json:"lifetime_spent" db:"lifetime_spent"`
	LifetimeEarned    int64 `json:"lifetime_earned" db:"lifetime_earned"`
	LifetimePaidOut   int64 `json:"lifetime_paid_out" db:"lifetime_paid_out"`

	// Version is the optimistic-concurrency check; bumped on every write.
	Version int `json:"-" db:"version"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// IdentityHolds reports whether the accounting identity holds.
func (w Wallet) IdentityHolds() bool {
	return w.Balance == w.LifetimePurchased+w.LifetimeEarned-w.LifetimeSpent-w.LifetimePaidOut
}

// EarnedAvailable is the portion of the earned balance still eligible for
// cash-out. Purchased tokens never count toward payouts.
func (w Wallet) EarnedAvailable() int64 {
	return w.LifetimeEarned - w.LifetimePaidOut
}

// DeltaKind selects which lifetime counter a balance mutation moves alongside
// the spendable balance. The kind fully determines the direction of the
// balance change; amounts are always positive.
type DeltaKind string

const (
	// DeltaPurchase credits balance and lifetime_purchased.
	DeltaPurchase DeltaKind = "purchase"
	// DeltaSpend debits balance, credits lifetime_spent.
	DeltaSpend DeltaKind = "spend"
	// DeltaEarn credits balance and lifetime_earned.
	DeltaEarn DeltaKind = "earn"
	// DeltaRefundSpend reverses a spend: credits balance, debits lifetime_spent.
	DeltaRefundSpend DeltaKind = "refund_spend"
	// DeltaRefundEarn claws back an earn: debits balance and lifetime_earned.
	DeltaRefundEarn DeltaKind = "refund_earn"
	// DeltaPayout debits balance, credits lifetime_paid_out.
	DeltaPayout DeltaKind = "payout"
)

// TxType categorizes ledger transactions. Keep these stable; they are part of
// the audit contract.
type TxType string

const (
	TxTypePurchase TxType = "PURCHASE"
	TxTypeSpend    TxType = "SPEND"
	TxTypeEarn     TxType = "EARN"
	TxTypeRefund   TxType = "REFUND"
	TxTypePayout   TxType = "PAYOUT"
)

// ContextType is the business activity a spend belongs to. It determines the
// creator/platform revenue split.
type ContextType string

const (
	ContextChat           ContextType = "CHAT"
	ContextMedia          ContextType = "MEDIA"
	ContextDigitalProduct ContextType = "DIGITAL_PRODUCT"
	ContextCall           ContextType = "CALL"
	ContextCalendar       ContextType = "CALENDAR"
	ContextEvent          ContextType = "EVENT"
	ContextTip            ContextType = "TIP"
	ContextAISession      ContextType = "AI_SESSION"
	ContextAvaloOnly      ContextType = "AVALO_ONLY"
)

// Transaction is one immutable ledger entry. The ledger is append-only: no
// transaction is ever updated or deleted after commit.
type Transaction struct {
	TxID   string `json:"tx_id" db:"tx_id"`
	UserID string `json:"user_id" db:"user_id"`

	Type   TxType      `json:"type" db:"type"`
	Source ContextType `json:"source,omitempty" db:"source"`

	// Amount is always positive; Type carries the direction.
	Amount        int64 `json:"amount" db:"amount"`
	BeforeBalance int64 `json:"before_balance" db:"before_balance"`
	AfterBalance  int64 `json:"after_balance" db:"after_balance"`

	// RelatedID is the calling feature module's own identifier
	// (chat message id, booking id, event id, ...).
	RelatedID string `json:"related_id,omitempty" db:"related_id"`

	// CounterpartyID is the other wallet in a paired operation: the creator on
	// a SPEND, the payer on an EARN.
	CounterpartyID string `json:"counterparty_id,omitempty" db:"counterparty_id"`

	// Split breakdown, recorded on SPEND rows so refunds can reverse the exact
	// original distribution.
	CreatorShare  int64 `json:"creator_share,omitempty" db:"creator_share"`
	PlatformShare int64 `json:"platform_share,omitempty" db:"platform_share"`

	// OriginalTxID links REFUND rows and paired EARN rows back to the SPEND
	// that produced them.
	OriginalTxID string `json:"original_tx_id,omitempty" db:"original_tx_id"`

	// IdempotencyKey is the externally supplied duplicate-processing guard
	// (e.g. a payment gateway transaction id). Unique across the ledger.
	IdempotencyKey string `json:"idempotency_key,omitempty" db:"idempotency_key"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// PayoutStatus is the state of a cash-out request.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
	PayoutStatusCancelled  PayoutStatus = "CANCELLED"
)

var validPayoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutStatusPending:    {PayoutStatusProcessing, PayoutStatusCancelled},
	PayoutStatusProcessing: {PayoutStatusCompleted, PayoutStatusFailed},
}

// CanTransitionTo reports whether moving from s to target is a valid payout
// state transition. COMPLETED, FAILED and CANCELLED are terminal.
func (s PayoutStatus) CanTransitionTo(target PayoutStatus) bool {
	for _, allowed := range validPayoutTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

// PayoutRequest is one cash-out attempt. Tokens are deducted from the wallet
// only at the transition into COMPLETED; PENDING, PROCESSING, FAILED and
// CANCELLED requests never touch the balance.
type PayoutRequest struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	AmountTokens int64 `json:"amount_tokens" db:"amount_tokens"`

	// Fiat amounts are in minor units (e.g. cents).
	AmountFiatMinor        int64  `json:"amount_fiat_minor" db:"amount_fiat_minor"`
	ProcessingFeeFiatMinor int64  `json:"processing_fee_fiat_minor" db:"processing_fee_fiat_minor"`
	NetAmountFiatMinor     int64  `json:"net_amount_fiat_minor" db:"net_amount_fiat_minor"`
	Currency               string `json:"currency" db:"currency"`

	PayoutMethod string       `json:"payout_method" db:"payout_method"`
	Status       PayoutStatus `json:"status" db:"status"`
	KYCVerified  bool         `json:"kyc_verified" db:"kyc_verified"`

	FailureReason string `json:"failure_reason,omitempty" db:"failure_reason"`

	// Version is the optimistic-concurrency check for transition races.
	Version int `json:"-" db:"version"`

	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty" db:"processed_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}
