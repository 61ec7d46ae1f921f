package store

import (
	"context"
	"errors"
	"testing"

	"avalo-ledger/internal/token"
)

// stubStore runs fn without real transactional state; conflicts are injected
// by the test via errs.
type stubStore struct {
	calls int
	errs  []error
}

func (s *stubStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.calls++
	if s.calls <= len(s.errs) {
		return s.errs[s.calls-1]
	}
	return fn(ctx, nil)
}

func TestRunInTx_RetriesWriteConflicts(t *testing.T) {
	s := &stubStore{errs: []error{ErrWriteConflict, ErrWriteConflict}}

	ran := false
	err := RunInTx(context.Background(), s, 4, func(ctx context.Context, tx Tx) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if !ran {
		t.Fatalf("expected fn to run")
	}
	if s.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", s.calls)
	}
}

func TestRunInTx_ExhaustsBudget(t *testing.T) {
	s := &stubStore{errs: []error{ErrWriteConflict, ErrWriteConflict, ErrWriteConflict, ErrWriteConflict}}

	err := RunInTx(context.Background(), s, 4, func(ctx context.Context, tx Tx) error { return nil })
	if !errors.Is(err, token.ErrContentionExhausted) {
		t.Fatalf("expected ErrContentionExhausted, got %v", err)
	}
	if s.calls != 4 {
		t.Fatalf("expected exactly 4 attempts, got %d", s.calls)
	}
}

func TestRunInTx_DoesNotRetryOtherErrors(t *testing.T) {
	boom := errors.New("boom")
	s := &stubStore{errs: []error{boom}}

	err := RunInTx(context.Background(), s, 4, func(ctx context.Context, tx Tx) error { return nil })
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if s.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", s.calls)
	}
}

func TestRunInTx_StopsOnCancelledContext(t *testing.T) {
	s := &stubStore{errs: []error{ErrWriteConflict, ErrWriteConflict, ErrWriteConflict}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunInTx(ctx, s, 4, func(ctx context.Context, tx Tx) error { return nil })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
