package token

import (
	"errors"
	"fmt"
)

// Error kinds surfaced by the ledger. All failures are synchronous: an
// operation either fully commits or fully fails, never partially.
var (
	// ErrInsufficientBalance means the requested debit would drive the
	// balance negative. The wallet is left untouched. Recoverable by the
	// caller (typically by prompting a token purchase).
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrContentionExhausted means the bounded write-conflict retry budget
	// ran out. The whole business operation may be retried by the caller.
	ErrContentionExhausted = errors.New("contention exhausted")

	// ErrRateLimited means the purchase-frequency limit was hit. No mutation
	// was performed.
	ErrRateLimited = errors.New("rate limited")

	// ErrWalletNotFound means no wallet exists for the user.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrTransactionNotFound means no ledger entry exists for the id.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrOriginalTransactionNotFound means a refund referenced a spend that
	// does not exist in the ledger.
	ErrOriginalTransactionNotFound = errors.New("original transaction not found")

	// ErrRefundExceedsOriginal means the refund amount is larger than what is
	// still refundable on the original transaction.
	ErrRefundExceedsOriginal = errors.New("refund exceeds original")

	// ErrPayoutNotFound means no payout request exists for the id.
	ErrPayoutNotFound = errors.New("payout not found")

	// ErrInvalidPayoutTransition means the requested payout status change is
	// not allowed by the state machine.
	ErrInvalidPayoutTransition = errors.New("invalid payout transition")

	// ErrInvalidArgument covers malformed inputs (empty ids, non-positive
	// amounts, unknown kinds).
	ErrInvalidArgument = errors.New("invalid argument")
)

// PayoutIneligibleReason is the specific rule a payout request failed.
type PayoutIneligibleReason string

const (
	PayoutIneligibleNoKYC              PayoutIneligibleReason = "no_kyc"
	PayoutIneligibleBelowMinimum       PayoutIneligibleReason = "below_minimum"
	PayoutIneligibleInsufficientEarned PayoutIneligibleReason = "insufficient_earned_balance"
)

// PayoutIneligibleError reports why a payout request was rejected. Callers
// match it with errors.As.
type PayoutIneligibleError struct {
	Reason PayoutIneligibleReason
}

func (e *PayoutIneligibleError) Error() string {
	return fmt.Sprintf("payout ineligible: %s", e.Reason)
}
