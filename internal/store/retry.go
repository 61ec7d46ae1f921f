package store

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"avalo-ledger/internal/token"
)

// Retry budget for write-conflict replays. The backoff is capped exponential
// with jitter; the total worst-case wait stays well under a second so callers
// never see these operations as long-running.
const (
	DefaultMaxAttempts = 4

	initialBackoff = 10 * time.Millisecond
	maxBackoff     = 160 * time.Millisecond
)

// RunInTx executes fn transactionally, replaying it on write conflicts up to
// maxAttempts times. When the budget is exhausted it returns
// token.ErrContentionExhausted; the caller owns the decision to retry the
// whole business operation. Any other error aborts immediately.
//
// fn must be safe to re-run from scratch: each attempt begins a fresh
// transaction and observes fresh state.
func RunInTx(ctx context.Context, s Store, maxAttempts int, fn func(ctx context.Context, tx Tx) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		err := s.WithinTx(ctx, fn)
		if err == nil || !errors.Is(err, ErrWriteConflict) {
			return err
		}
		if attempt >= maxAttempts {
			return token.ErrContentionExhausted
		}

		if err := sleep(ctx, jitter(backoff)); err != nil {
			return err
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// jitter spreads concurrent retriers apart: uniform in [d/2, d].
func jitter(d time.Duration) time.Duration {
	half := d / 2
	return half + time.Duration(rand.Int63n(int64(half)+1))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
