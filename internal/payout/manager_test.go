package payout

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"avalo-ledger/internal/ledger"
	"avalo-ledger/internal/outbox"
	"avalo-ledger/internal/store/memory"
	"avalo-ledger/internal/token"
	"avalo-ledger/internal/wallet"
)

func newFixture(t *testing.T) (*Manager, *wallet.Store, *ledger.Service) {
	t.Helper()
	db := memory.New()
	events := outbox.NewEmitter("ledger.transactions", "ledger.payouts")
	m := NewManager(db, events, slog.Default(), Config{
		MinimumPayoutTokens: 100,
		RatePerTokenMinor:   5,
		FeePercent:          10,
	}, 4)
	return m, wallet.NewStore(db, 4), ledger.NewService(db)
}

func earn(t *testing.T, ws *wallet.Store, userID string, amount int64) {
	t.Helper()
	if err := ws.EnsureWallet(context.Background(), userID); err != nil {
		t.Fatalf("ensure %s: %v", userID, err)
	}
	if _, err := ws.ApplyDelta(context.Background(), userID, amount, token.DeltaEarn); err != nil {
		t.Fatalf("earn %s: %v", userID, err)
	}
}

// Scenario: a creator with 1000 earned tokens cashes out 500. The balance is
// untouched until the processor reports completion.
func TestPayout_FullLifecycleDeductsOnlyAtCompletion(t *testing.T) {
	m, ws, ls := newFixture(t)
	earn(t, ws, "creator-x", 1000)

	p, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 500, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if p.Status != token.PayoutStatusPending {
		t.Fatalf("expected PENDING, got %s", p.Status)
	}
	if p.AmountFiatMinor != 2500 || p.ProcessingFeeFiatMinor != 250 || p.NetAmountFiatMinor != 2250 {
		t.Fatalf("fiat conversion wrong: %+v", p)
	}

	b, _ := ws.GetBalance(context.Background(), "creator-x")
	if b.Balance != 1000 || b.LifetimePaidOut != 0 {
		t.Fatalf("balance touched before completion: %+v", b)
	}

	if _, err := m.Transition(context.Background(), p.ID, token.PayoutStatusProcessing, ""); err != nil {
		t.Fatalf("to PROCESSING: %v", err)
	}
	b, _ = ws.GetBalance(context.Background(), "creator-x")
	if b.Balance != 1000 {
		t.Fatalf("balance touched in PROCESSING: %+v", b)
	}

	done, err := m.Transition(context.Background(), p.ID, token.PayoutStatusCompleted, "")
	if err != nil {
		t.Fatalf("to COMPLETED: %v", err)
	}
	if done.CompletedAt == nil || done.ProcessedAt == nil {
		t.Fatalf("timestamps not set: %+v", done)
	}

	b, _ = ws.GetBalance(context.Background(), "creator-x")
	if b.Balance != 500 || b.LifetimePaidOut != 500 {
		t.Fatalf("expected 500 deducted at completion: %+v", b)
	}

	page, err := ls.History(context.Background(), ledger.HistoryRequest{UserID: "creator-x", Types: []token.TxType{token.TxTypePayout}})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Transactions) != 1 {
		t.Fatalf("expected one PAYOUT row, got %d", len(page.Transactions))
	}
	row := page.Transactions[0]
	if row.Amount != 500 || row.RelatedID != p.ID || row.BeforeBalance != 1000 || row.AfterBalance != 500 {
		t.Fatalf("unexpected PAYOUT row: %+v", row)
	}
}

func TestPayout_FailedNeverDeducts(t *testing.T) {
	m, ws, ls := newFixture(t)
	earn(t, ws, "creator-x", 1000)

	p, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 500, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := m.Transition(context.Background(), p.ID, token.PayoutStatusProcessing, ""); err != nil {
		t.Fatalf("to PROCESSING: %v", err)
	}
	failed, err := m.Transition(context.Background(), p.ID, token.PayoutStatusFailed, "bank rejected IBAN")
	if err != nil {
		t.Fatalf("to FAILED: %v", err)
	}
	if failed.FailureReason != "bank rejected IBAN" {
		t.Fatalf("failure reason lost: %+v", failed)
	}

	b, _ := ws.GetBalance(context.Background(), "creator-x")
	if b.Balance != 1000 || b.LifetimePaidOut != 0 {
		t.Fatalf("failed payout mutated wallet: %+v", b)
	}
	page, _ := ls.History(context.Background(), ledger.HistoryRequest{UserID: "creator-x", Types: []token.TxType{token.TxTypePayout}})
	if len(page.Transactions) != 0 {
		t.Fatalf("failed payout wrote a ledger row")
	}
}

func TestPayout_EligibilityReasons(t *testing.T) {
	m, ws, _ := newFixture(t)
	earn(t, ws, "creator-x", 150)

	cases := []struct {
		name   string
		req    Request
		reason token.PayoutIneligibleReason
	}{
		{"no kyc", Request{UserID: "creator-x", AmountTokens: 150, PayoutMethod: "sepa", Currency: "EUR"}, token.PayoutIneligibleNoKYC},
		{"below minimum", Request{UserID: "creator-x", AmountTokens: 50, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true}, token.PayoutIneligibleBelowMinimum},
		{"over earned", Request{UserID: "creator-x", AmountTokens: 200, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true}, token.PayoutIneligibleInsufficientEarned},
		{"no wallet", Request{UserID: "nobody", AmountTokens: 150, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true}, token.PayoutIneligibleInsufficientEarned},
	}
	for _, tc := range cases {
		_, err := m.RequestPayout(context.Background(), tc.req)
		var ie *token.PayoutIneligibleError
		if !errors.As(err, &ie) {
			t.Fatalf("%s: expected PayoutIneligibleError, got %v", tc.name, err)
		}
		if ie.Reason != tc.reason {
			t.Fatalf("%s: expected reason %s, got %s", tc.name, tc.reason, ie.Reason)
		}
	}
}

// Purchased tokens are spendable but never cash-out eligible.
func TestPayout_PurchasedBalanceDoesNotCount(t *testing.T) {
	m, ws, _ := newFixture(t)
	if err := ws.EnsureWallet(context.Background(), "member-a"); err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if _, err := ws.ApplyDelta(context.Background(), "member-a", 5000, token.DeltaPurchase); err != nil {
		t.Fatalf("fund: %v", err)
	}

	_, err := m.RequestPayout(context.Background(), Request{
		UserID: "member-a", AmountTokens: 500, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	})
	var ie *token.PayoutIneligibleError
	if !errors.As(err, &ie) || ie.Reason != token.PayoutIneligibleInsufficientEarned {
		t.Fatalf("expected insufficient earned, got %v", err)
	}
}

// Outstanding requests reserve earned balance so it cannot be double-booked.
func TestPayout_OutstandingRequestsReserveEarnedBalance(t *testing.T) {
	m, ws, _ := newFixture(t)
	earn(t, ws, "creator-x", 1000)

	if _, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 600, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	}); err != nil {
		t.Fatalf("first request: %v", err)
	}

	_, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 600, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	})
	var ie *token.PayoutIneligibleError
	if !errors.As(err, &ie) || ie.Reason != token.PayoutIneligibleInsufficientEarned {
		t.Fatalf("expected oversubscription rejection, got %v", err)
	}

	// A non-overlapping remainder still fits.
	if _, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 400, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	}); err != nil {
		t.Fatalf("remainder request: %v", err)
	}
}

func TestPayout_CancelOnlyFromPendingAndOnlyByOwner(t *testing.T) {
	m, ws, _ := newFixture(t)
	earn(t, ws, "creator-x", 1000)

	p, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 200, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if _, err := m.Cancel(context.Background(), p.ID, "someone-else"); !errors.Is(err, token.ErrPayoutNotFound) {
		t.Fatalf("expected not found for wrong owner, got %v", err)
	}

	cancelled, err := m.Cancel(context.Background(), p.ID, "creator-x")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != token.PayoutStatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", cancelled.Status)
	}

	// Cancelled requests release their reservation.
	if _, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 1000, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	}); err != nil {
		t.Fatalf("post-cancel request: %v", err)
	}
}

func TestPayout_CancelRejectedOncePickedUp(t *testing.T) {
	m, ws, _ := newFixture(t)
	earn(t, ws, "creator-x", 1000)

	p, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 200, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if _, err := m.Transition(context.Background(), p.ID, token.PayoutStatusProcessing, ""); err != nil {
		t.Fatalf("to PROCESSING: %v", err)
	}
	if _, err := m.Cancel(context.Background(), p.ID, "creator-x"); !errors.Is(err, token.ErrInvalidPayoutTransition) {
		t.Fatalf("expected ErrInvalidPayoutTransition, got %v", err)
	}
}

func TestPayout_InvalidTransitionsRejected(t *testing.T) {
	m, ws, _ := newFixture(t)
	earn(t, ws, "creator-x", 1000)

	p, err := m.RequestPayout(context.Background(), Request{
		UserID: "creator-x", AmountTokens: 200, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true,
	})
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	// PENDING cannot jump straight to a settlement state.
	for _, target := range []token.PayoutStatus{token.PayoutStatusCompleted, token.PayoutStatusFailed, token.PayoutStatusPending} {
		if _, err := m.Transition(context.Background(), p.ID, target, ""); !errors.Is(err, token.ErrInvalidPayoutTransition) {
			t.Fatalf("PENDING -> %s: expected ErrInvalidPayoutTransition, got %v", target, err)
		}
	}

	if _, err := m.Transition(context.Background(), p.ID, token.PayoutStatusCompleted, ""); !errors.Is(err, token.ErrInvalidPayoutTransition) {
		t.Fatalf("skipping PROCESSING must be rejected, got %v", err)
	}

	done, err := m.Transition(context.Background(), p.ID, token.PayoutStatusProcessing, "")
	if err != nil {
		t.Fatalf("to PROCESSING: %v", err)
	}
	if _, err := m.Transition(context.Background(), done.ID, token.PayoutStatusCancelled, ""); !errors.Is(err, token.ErrInvalidPayoutTransition) {
		t.Fatalf("PROCESSING -> CANCELLED must be rejected, got %v", err)
	}
	if _, err := m.Transition(context.Background(), done.ID, token.PayoutStatusCompleted, ""); err != nil {
		t.Fatalf("to COMPLETED: %v", err)
	}
	// Terminal states accept nothing.
	if _, err := m.Transition(context.Background(), done.ID, token.PayoutStatusFailed, ""); !errors.Is(err, token.ErrInvalidPayoutTransition) {
		t.Fatalf("COMPLETED is terminal, got %v", err)
	}
}

func TestPayout_UnknownIDAndBadInput(t *testing.T) {
	m, _, _ := newFixture(t)

	if _, err := m.Transition(context.Background(), "nope", token.PayoutStatusProcessing, ""); !errors.Is(err, token.ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound, got %v", err)
	}
	if _, err := m.Get(context.Background(), "nope"); !errors.Is(err, token.ErrPayoutNotFound) {
		t.Fatalf("expected ErrPayoutNotFound, got %v", err)
	}
	if _, err := m.RequestPayout(context.Background(), Request{UserID: "", AmountTokens: 100, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true}); !errors.Is(err, token.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
	if _, err := m.RequestPayout(context.Background(), Request{UserID: "u", AmountTokens: -5, PayoutMethod: "sepa", Currency: "EUR", KYCVerified: true}); !errors.Is(err, token.ErrInvalidArgument) {
		t.Fatalf("expected ErrInvalidArgument, got %v", err)
	}
}
