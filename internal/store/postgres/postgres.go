// Package postgres implements the transactional store over database/sql with
// the pgx stdlib driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"
	"avalo-ledger/pkg/utils"

	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: This store assumes the following tables exist:
// - wallets (PRIMARY KEY user_id, version int for optimistic locking)
// - transactions (immutable append-only; UNIQUE (idempotency_key) where not empty;
//   index on (user_id, created_at DESC, tx_id DESC) for history paging)
// - payout_requests (PRIMARY KEY id, version int)
// - outbox_events (index on (status, created_at) for relay polling)

type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	opts := &sql.TxOptions{Isolation: sql.LevelReadCommitted}
	return utils.WithTx(ctx, s.db, opts, func(ctx context.Context, tx *sql.Tx) error {
		return fn(ctx, pgTx{tx: tx})
	})
}

type pgTx struct {
	tx *sql.Tx
}

// mapInsertError converts a unique-constraint violation (SQLSTATE 23505)
// into store.ErrWriteConflict so the retry loop re-reads committed state
// instead of surfacing a driver error. Concurrent first-touch wallet creation
// and duplicate idempotency keys both race this way under READ COMMITTED.
// The memory store maps the same collisions identically.
func mapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return store.ErrWriteConflict
	}
	return err
}

func (t pgTx) Wallets() store.WalletRepo { return walletRepo{tx: t.tx} }
func (t pgTx) Ledger() store.LedgerRepo  { return ledgerRepo{tx: t.tx} }
func (t pgTx) Payouts() store.PayoutRepo { return payoutRepo{tx: t.tx} }
func (t pgTx) Outbox() store.OutboxRepo  { return outboxRepo{tx: t.tx} }

/* ===================== WALLETS ===================== */

type walletRepo struct {
	tx *sql.Tx
}

func (r walletRepo) Get(ctx context.Context, userID string) (token.Wallet, bool, error) {
	const q = `
SELECT user_id, balance, lifetime_purchased, lifetime_spent, lifetime_earned, lifetime_paid_out, version, created_at, updated_at
FROM wallets
WHERE user_id = $1
`
	var w token.Wallet
	err := r.tx.QueryRowContext(ctx, q, userID).Scan(
		&w.UserID,
		&w.Balance,
		&w.LifetimePurchased,
		&w.LifetimeSpent,
		&w.LifetimeEarned,
		&w.LifetimePaidOut,
		&w.Version,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return token.Wallet{}, false, nil
	}
	if err != nil {
		return token.Wallet{}, false, err
	}
	return w, true, nil
}

func (r walletRepo) Create(ctx context.Context, w token.Wallet) error {
	const q = `
INSERT INTO wallets (user_id, balance, lifetime_purchased, lifetime_spent, lifetime_earned, lifetime_paid_out, version, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`
	_, err := r.tx.ExecContext(ctx, q,
		w.UserID,
		w.Balance,
		w.LifetimePurchased,
		w.LifetimeSpent,
		w.LifetimeEarned,
		w.LifetimePaidOut,
		w.Version,
		w.CreatedAt,
		w.UpdatedAt,
	)
	return mapInsertError(err)
}

func (r walletRepo) Update(ctx context.Context, w token.Wallet) error {
	// Version-checked write; losing the race surfaces as ErrWriteConflict and
	// the enclosing operation retries against fresh state.
	const q = `
UPDATE wallets
SET balance = $1,
    lifetime_purchased = $2,
    lifetime_spent = $3,
    lifetime_earned = $4,
    lifetime_paid_out = $5,
    version = version + 1,
    updated_at = $6
WHERE user_id = $7 AND version = $8
`
	res, err := r.tx.ExecContext(ctx, q,
		w.Balance,
		w.LifetimePurchased,
		w.LifetimeSpent,
		w.LifetimeEarned,
		w.LifetimePaidOut,
		w.UpdatedAt,
		w.UserID,
		w.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrWriteConflict
	}
	return nil
}

/* ===================== LEDGER ===================== */

type ledgerRepo struct {
	tx *sql.Tx
}

const transactionColumns = `tx_id, user_id, type, source, amount, before_balance, after_balance, related_id, counterparty_id, creator_share, platform_share, original_tx_id, idempotency_key, created_at`

func scanTransaction(row interface{ Scan(dest ...any) error }) (token.Transaction, error) {
	var t token.Transaction
	err := row.Scan(
		&t.TxID,
		&t.UserID,
		&t.Type,
		&t.Source,
		&t.Amount,
		&t.BeforeBalance,
		&t.AfterBalance,
		&t.RelatedID,
		&t.CounterpartyID,
		&t.CreatorShare,
		&t.PlatformShare,
		&t.OriginalTxID,
		&t.IdempotencyKey,
		&t.CreatedAt,
	)
	return t, err
}

func (r ledgerRepo) Append(ctx context.Context, t token.Transaction) error {
	const q = `
INSERT INTO transactions (tx_id, user_id, type, source, amount, before_balance, after_balance, related_id, counterparty_id, creator_share, platform_share, original_tx_id, idempotency_key, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
`
	_, err := r.tx.ExecContext(ctx, q,
		t.TxID,
		t.UserID,
		t.Type,
		t.Source,
		t.Amount,
		t.BeforeBalance,
		t.AfterBalance,
		t.RelatedID,
		t.CounterpartyID,
		t.CreatorShare,
		t.PlatformShare,
		t.OriginalTxID,
		t.IdempotencyKey,
		t.CreatedAt,
	)
	return mapInsertError(err)
}

func (r ledgerRepo) Get(ctx context.Context, txID string) (token.Transaction, bool, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE tx_id = $1`
	t, err := scanTransaction(r.tx.QueryRowContext(ctx, q, txID))
	if errors.Is(err, sql.ErrNoRows) {
		return token.Transaction{}, false, nil
	}
	if err != nil {
		return token.Transaction{}, false, err
	}
	return t, true, nil
}

func (r ledgerRepo) FindByIdempotencyKey(ctx context.Context, key string) (token.Transaction, bool, error) {
	q := `SELECT ` + transactionColumns + ` FROM transactions WHERE idempotency_key = $1 LIMIT 1`
	t, err := scanTransaction(r.tx.QueryRowContext(ctx, q, key))
	if errors.Is(err, sql.ErrNoRows) {
		return token.Transaction{}, false, nil
	}
	if err != nil {
		return token.Transaction{}, false, err
	}
	return t, true, nil
}

func (r ledgerRepo) SumRefunded(ctx context.Context, userID, originalTxID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(amount), 0)
FROM transactions
WHERE user_id = $1 AND type = $2 AND original_tx_id = $3
`
	var sum int64
	if err := r.tx.QueryRowContext(ctx, q, userID, token.TxTypeRefund, originalTxID).Scan(&sum); err != nil {
		return 0, err
	}
	return sum, nil
}

func (r ledgerRepo) List(ctx context.Context, userID string, f store.HistoryFilter) ([]token.Transaction, error) {
	var b strings.Builder
	b.WriteString(`SELECT ` + transactionColumns + ` FROM transactions WHERE user_id = $1`)
	args := []any{userID}

	if len(f.Types) > 0 {
		ph := make([]string, len(f.Types))
		for i, tp := range f.Types {
			args = append(args, tp)
			ph[i] = fmt.Sprintf("$%d", len(args))
		}
		b.WriteString(" AND type IN (" + strings.Join(ph, ", ") + ")")
	}
	if f.Source != "" {
		args = append(args, f.Source)
		fmt.Fprintf(&b, " AND source = $%d", len(args))
	}
	if !f.CursorCreatedAt.IsZero() {
		// Keyset paging: strictly older than the cursor row in the
		// (created_at DESC, tx_id DESC) ordering.
		args = append(args, f.CursorCreatedAt, f.CursorTxID)
		fmt.Fprintf(&b, " AND (created_at, tx_id) < ($%d, $%d)", len(args)-1, len(args))
	}

	b.WriteString(" ORDER BY created_at DESC, tx_id DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}

	rows, err := r.tx.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []token.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

/* ===================== PAYOUTS ===================== */

type payoutRepo struct {
	tx *sql.Tx
}

const payoutColumns = `id, user_id, amount_tokens, amount_fiat_minor, processing_fee_fiat_minor, net_amount_fiat_minor, currency, payout_method, status, kyc_verified, failure_reason, version, requested_at, processed_at, completed_at`

func scanPayout(row interface{ Scan(dest ...any) error }) (token.PayoutRequest, error) {
	var p token.PayoutRequest
	err := row.Scan(
		&p.ID,
		&p.UserID,
		&p.AmountTokens,
		&p.AmountFiatMinor,
		&p.ProcessingFeeFiatMinor,
		&p.NetAmountFiatMinor,
		&p.Currency,
		&p.PayoutMethod,
		&p.Status,
		&p.KYCVerified,
		&p.FailureReason,
		&p.Version,
		&p.RequestedAt,
		&p.ProcessedAt,
		&p.CompletedAt,
	)
	return p, err
}

func (r payoutRepo) Create(ctx context.Context, p token.PayoutRequest) error {
	const q = `
INSERT INTO payout_requests (id, user_id, amount_tokens, amount_fiat_minor, processing_fee_fiat_minor, net_amount_fiat_minor, currency, payout_method, status, kyc_verified, failure_reason, version, requested_at, processed_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
`
	_, err := r.tx.ExecContext(ctx, q,
		p.ID,
		p.UserID,
		p.AmountTokens,
		p.AmountFiatMinor,
		p.ProcessingFeeFiatMinor,
		p.NetAmountFiatMinor,
		p.Currency,
		p.PayoutMethod,
		p.Status,
		p.KYCVerified,
		p.FailureReason,
		p.Version,
		p.RequestedAt,
		p.ProcessedAt,
		p.CompletedAt,
	)
	return mapInsertError(err)
}

func (r payoutRepo) Get(ctx context.Context, id string) (token.PayoutRequest, bool, error) {
	q := `SELECT ` + payoutColumns + ` FROM payout_requests WHERE id = $1`
	p, err := scanPayout(r.tx.QueryRowContext(ctx, q, id))
	if errors.Is(err, sql.ErrNoRows) {
		return token.PayoutRequest{}, false, nil
	}
	if err != nil {
		return token.PayoutRequest{}, false, err
	}
	return p, true, nil
}

func (r payoutRepo) Update(ctx context.Context, p token.PayoutRequest) error {
	const q = `
UPDATE payout_requests
SET status = $1,
    failure_reason = $2,
    version = version + 1,
    processed_at = $3,
    completed_at = $4
WHERE id = $5 AND version = $6
`
	res, err := r.tx.ExecContext(ctx, q,
		p.Status,
		p.FailureReason,
		p.ProcessedAt,
		p.CompletedAt,
		p.ID,
		p.Version,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return store.ErrWriteConflict
	}
	return nil
}

func (r payoutRepo) SumOutstanding(ctx context.Context, userID string) (int64, error) {
	const q = `
SELECT COALESCE(SUM(amount_tokens), 0)
FROM payout_requests
WHERE user_id = $1 AND status IN ($2, $3)
`
	var sum int64
	err := r.tx.QueryRowContext(ctx, q, userID, token.PayoutStatusPending, token.PayoutStatusProcessing).Scan(&sum)
	if err != nil {
		return 0, err
	}
	return sum, nil
}

/* ===================== OUTBOX ===================== */

type outboxRepo struct {
	tx *sql.Tx
}

func (r outboxRepo) Enqueue(ctx context.Context, e store.OutboxEvent) error {
	const q = `
INSERT INTO outbox_events (id, topic, key, payload, status, retry_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err := r.tx.ExecContext(ctx, q, e.ID, e.Topic, e.Key, e.Payload, e.Status, e.RetryCount, e.CreatedAt)
	return err
}

func (r outboxRepo) ListPending(ctx context.Context, limit int) ([]store.OutboxEvent, error) {
	// SKIP LOCKED lets multiple relay instances drain without stepping on
	// each other.
	const q = `
SELECT id, topic, key, payload, status, retry_count, created_at
FROM outbox_events
WHERE status = $1
ORDER BY created_at
LIMIT $2
FOR UPDATE SKIP LOCKED
`
	rows, err := r.tx.QueryContext(ctx, q, store.OutboxStatusPending, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.OutboxEvent
	for rows.Next() {
		var e store.OutboxEvent
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.Status, &e.RetryCount, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r outboxRepo) MarkSent(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, store.OutboxStatusSent)
}

func (r outboxRepo) MarkFailed(ctx context.Context, id string) error {
	return r.setStatus(ctx, id, store.OutboxStatusFailed)
}

func (r outboxRepo) setStatus(ctx context.Context, id, status string) error {
	const q = `UPDATE outbox_events SET status = $1 WHERE id = $2`
	_, err := r.tx.ExecContext(ctx, q, status, id)
	return err
}

func (r outboxRepo) IncrementRetry(ctx context.Context, id string) error {
	const q = `UPDATE outbox_events SET retry_count = retry_count + 1 WHERE id = $1`
	_, err := r.tx.ExecContext(ctx, q, id)
	return err
}
