package store

import (
	"context"
	"errors"
	"time"

	"avalo-ledger/internal/token"
)

// ErrWriteConflict signals that a version-checked write lost a race with a
// concurrent mutation. The enclosing transaction must be retried as a whole
// against fresh state; RunInTx does this with a bounded backoff budget.
var ErrWriteConflict = errors.New("store: write conflict")

// Store is the transactional storage primitive the ledger runs on. The
// implementation only needs to provide atomic, isolated transactions; the
// money invariants live above this interface, which keeps the engine portable
// across ACID key/document stores.
type Store interface {
	// WithinTx runs fn as one all-or-nothing unit. Mutations become visible to
	// readers only after fn returns nil and the transaction commits.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx exposes the repositories available inside a transaction.
type Tx interface {
	Wallets() WalletRepo
	Ledger() LedgerRepo
	Payouts() PayoutRepo
	Outbox() OutboxRepo
}

// WalletRepo persists wallet aggregates.
type WalletRepo interface {
	Get(ctx context.Context, userID string) (token.Wallet, bool, error)
	Create(ctx context.Context, w token.Wallet) error

	// Update writes the wallet only if the stored version matches w.Version;
	// it bumps the version on success and returns ErrWriteConflict otherwise.
	Update(ctx context.Context, w token.Wallet) error
}

// LedgerRepo persists immutable transactions. It is append-only by contract:
// no update or delete methods exist, by design.
type LedgerRepo interface {
	Append(ctx context.Context, t token.Transaction) error
	Get(ctx context.Context, txID string) (token.Transaction, bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (token.Transaction, bool, error)

	// SumRefunded returns the total amount of REFUND entries for userID that
	// reference originalTxID. Used to cap cumulative refunds.
	SumRefunded(ctx context.Context, userID, originalTxID string) (int64, error)

	// List returns a newest-first page of a user's transactions.
	List(ctx context.Context, userID string, f HistoryFilter) ([]token.Transaction, error)
}

// HistoryFilter narrows and pages ledger history queries.
type HistoryFilter struct {
	// Types restricts by transaction type; empty means all.
	Types []token.TxType
	// Source restricts by business context; empty means all.
	Source token.ContextType

	// Cursor is the keyset position: entries strictly older than it are
	// returned. Zero values mean "from the newest".
	CursorCreatedAt time.Time
	CursorTxID      string

	Limit int
}

// PayoutRepo persists payout requests.
type PayoutRepo interface {
	Create(ctx context.Context, p token.PayoutRequest) error
	Get(ctx context.Context, id string) (token.PayoutRequest, bool, error)

	// Update is version-checked like WalletRepo.Update.
	Update(ctx context.Context, p token.PayoutRequest) error

	// SumOutstanding returns the token total of the user's PENDING and
	// PROCESSING requests, so new requests cannot oversubscribe the earned
	// balance while older ones are in flight.
	SumOutstanding(ctx context.Context, userID string) (int64, error)
}

// OutboxEvent is a pending downstream notification, written in the same
// transaction as the mutation it describes and relayed asynchronously.
type OutboxEvent struct {
	ID         string    `json:"id" db:"id"`
	Topic      string    `json:"topic" db:"topic"`
	Key        string    `json:"key" db:"key"`
	Payload    []byte    `json:"payload" db:"payload"`
	Status     string    `json:"status" db:"status"`
	RetryCount int       `json:"retry_count" db:"retry_count"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}

const (
	OutboxStatusPending = "PENDING"
	OutboxStatusSent    = "SENT"
	OutboxStatusFailed  = "FAILED"
)

// OutboxRepo persists outbox events.
type OutboxRepo interface {
	Enqueue(ctx context.Context, e OutboxEvent) error
	ListPending(ctx context.Context, limit int) ([]OutboxEvent, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string) error
	IncrementRetry(ctx context.Context, id string) error
}
