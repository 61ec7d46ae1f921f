// Package memory is an in-memory store.Store used by tests and local
// development. Transactions are serialized by a single mutex; writes are
// staged and applied only on commit, so a failed unit leaves no trace.
//
// NOTE: not intended for production; the Postgres implementation is the real
// storage backend.
package memory

import (
	"context"
	"sort"
	"sync"

	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"
)

type Store struct {
	mu sync.Mutex

	wallets map[string]token.Wallet
	payouts map[string]token.PayoutRequest

	ledger    []token.Transaction
	ledgerIdx map[string]int // tx_id -> position in ledger
	keyIdx    map[string]int // idempotency_key -> position in ledger

	outbox    []store.OutboxEvent
	outboxIdx map[string]int // event id -> position in outbox
}

func New() *Store {
	return &Store{
		wallets:   make(map[string]token.Wallet),
		payouts:   make(map[string]token.PayoutRequest),
		ledgerIdx: make(map[string]int),
		keyIdx:    make(map[string]int),
		outboxIdx: make(map[string]int),
	}
}

func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := &memTx{
		s:             s,
		stagedWallets: make(map[string]token.Wallet),
		stagedPayouts: make(map[string]token.PayoutRequest),
		stagedOutbox:  make(map[string]store.OutboxEvent),
	}
	if err := fn(ctx, t); err != nil {
		return err
	}
	t.commit()
	return nil
}

type memTx struct {
	s *Store

	stagedWallets map[string]token.Wallet
	stagedPayouts map[string]token.PayoutRequest

	appended []token.Transaction

	stagedOutbox map[string]store.OutboxEvent
	newOutbox    []store.OutboxEvent
}

func (t *memTx) commit() {
	for id, w := range t.stagedWallets {
		t.s.wallets[id] = w
	}
	for id, p := range t.stagedPayouts {
		t.s.payouts[id] = p
	}
	for _, tr := range t.appended {
		t.s.ledgerIdx[tr.TxID] = len(t.s.ledger)
		if tr.IdempotencyKey != "" {
			t.s.keyIdx[tr.IdempotencyKey] = len(t.s.ledger)
		}
		t.s.ledger = append(t.s.ledger, tr)
	}
	for id, e := range t.stagedOutbox {
		t.s.outbox[t.s.outboxIdx[id]] = e
	}
	for _, e := range t.newOutbox {
		t.s.outboxIdx[e.ID] = len(t.s.outbox)
		t.s.outbox = append(t.s.outbox, e)
	}
}

func (t *memTx) Wallets() store.WalletRepo { return walletRepo{t} }
func (t *memTx) Ledger() store.LedgerRepo  { return ledgerRepo{t} }
func (t *memTx) Payouts() store.PayoutRepo { return payoutRepo{t} }
func (t *memTx) Outbox() store.OutboxRepo  { return outboxRepo{t} }

/* ===================== wallets ===================== */

type walletRepo struct{ t *memTx }

func (r walletRepo) Get(ctx context.Context, userID string) (token.Wallet, bool, error) {
	if w, ok := r.t.stagedWallets[userID]; ok {
		return w, true, nil
	}
	w, ok := r.t.s.wallets[userID]
	return w, ok, nil
}

func (r walletRepo) Create(ctx context.Context, w token.Wallet) error {
	if _, ok, _ := r.Get(ctx, w.UserID); ok {
		return store.ErrWriteConflict
	}
	r.t.stagedWallets[w.UserID] = w
	return nil
}

func (r walletRepo) Update(ctx context.Context, w token.Wallet) error {
	cur, ok, _ := r.Get(ctx, w.UserID)
	if !ok {
		return token.ErrWalletNotFound
	}
	if cur.Version != w.Version {
		return store.ErrWriteConflict
	}
	w.Version++
	r.t.stagedWallets[w.UserID] = w
	return nil
}

/* ===================== ledger ===================== */

type ledgerRepo struct{ t *memTx }

func (r ledgerRepo) Append(ctx context.Context, tr token.Transaction) error {
	if tr.IdempotencyKey != "" {
		if _, ok, _ := r.FindByIdempotencyKey(ctx, tr.IdempotencyKey); ok {
			return store.ErrWriteConflict
		}
	}
	r.t.appended = append(r.t.appended, tr)
	return nil
}

func (r ledgerRepo) Get(ctx context.Context, txID string) (token.Transaction, bool, error) {
	for _, tr := range r.t.appended {
		if tr.TxID == txID {
			return tr, true, nil
		}
	}
	if i, ok := r.t.s.ledgerIdx[txID]; ok {
		return r.t.s.ledger[i], true, nil
	}
	return token.Transaction{}, false, nil
}

func (r ledgerRepo) FindByIdempotencyKey(ctx context.Context, key string) (token.Transaction, bool, error) {
	for _, tr := range r.t.appended {
		if tr.IdempotencyKey == key {
			return tr, true, nil
		}
	}
	if i, ok := r.t.s.keyIdx[key]; ok {
		return r.t.s.ledger[i], true, nil
	}
	return token.Transaction{}, false, nil
}

func (r ledgerRepo) SumRefunded(ctx context.Context, userID, originalTxID string) (int64, error) {
	var sum int64
	scan := func(tr token.Transaction) {
		if tr.Type == token.TxTypeRefund && tr.UserID == userID && tr.OriginalTxID == originalTxID {
			sum += tr.Amount
		}
	}
	for _, tr := range r.t.s.ledger {
		scan(tr)
	}
	for _, tr := range r.t.appended {
		scan(tr)
	}
	return sum, nil
}

func (r ledgerRepo) List(ctx context.Context, userID string, f store.HistoryFilter) ([]token.Transaction, error) {
	// Committed entries only: List is a read-side query, coordinators never
	// page history mid-mutation.
	var rows []token.Transaction
	for i := len(r.t.s.ledger) - 1; i >= 0; i-- {
		tr := r.t.s.ledger[i]
		if tr.UserID != userID {
			continue
		}
		rows = append(rows, tr)
	}
	// Append order approximates created_at order; sort to be explicit about
	// the newest-first contract shared with the Postgres implementation.
	sort.SliceStable(rows, func(i, j int) bool {
		if !rows[i].CreatedAt.Equal(rows[j].CreatedAt) {
			return rows[i].CreatedAt.After(rows[j].CreatedAt)
		}
		return rows[i].TxID > rows[j].TxID
	})

	var out []token.Transaction
	for _, tr := range rows {
		if f.CursorTxID != "" && !beforeCursor(tr, f) {
			continue
		}
		if !matches(tr, f) {
			continue
		}
		out = append(out, tr)
		if f.Limit > 0 && len(out) >= f.Limit {
			break
		}
	}
	return out, nil
}

// beforeCursor mirrors the composite keyset predicate used by the Postgres
// backend: (created_at, tx_id) < (cursor_created_at, cursor_tx_id). Comparing
// values rather than scanning for the cursor row keeps paging stable when the
// row the cursor was taken from is filtered out or absent.
func beforeCursor(tr token.Transaction, f store.HistoryFilter) bool {
	if tr.CreatedAt.Before(f.CursorCreatedAt) {
		return true
	}
	return tr.CreatedAt.Equal(f.CursorCreatedAt) && tr.TxID < f.CursorTxID
}

func matches(tr token.Transaction, f store.HistoryFilter) bool {
	if f.Source != "" && tr.Source != f.Source {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if tr.Type == t {
			return true
		}
	}
	return false
}

/* ===================== payouts ===================== */

type payoutRepo struct{ t *memTx }

func (r payoutRepo) Create(ctx context.Context, p token.PayoutRequest) error {
	if _, ok, _ := r.Get(ctx, p.ID); ok {
		return store.ErrWriteConflict
	}
	r.t.stagedPayouts[p.ID] = p
	return nil
}

func (r payoutRepo) Get(ctx context.Context, id string) (token.PayoutRequest, bool, error) {
	if p, ok := r.t.stagedPayouts[id]; ok {
		return p, true, nil
	}
	p, ok := r.t.s.payouts[id]
	return p, ok, nil
}

func (r payoutRepo) Update(ctx context.Context, p token.PayoutRequest) error {
	cur, ok, _ := r.Get(ctx, p.ID)
	if !ok {
		return token.ErrPayoutNotFound
	}
	if cur.Version != p.Version {
		return store.ErrWriteConflict
	}
	p.Version++
	r.t.stagedPayouts[p.ID] = p
	return nil
}

func (r payoutRepo) SumOutstanding(ctx context.Context, userID string) (int64, error) {
	var sum int64
	add := func(p token.PayoutRequest) {
		if p.UserID != userID {
			return
		}
		if p.Status == token.PayoutStatusPending || p.Status == token.PayoutStatusProcessing {
			sum += p.AmountTokens
		}
	}
	seen := make(map[string]struct{}, len(r.t.stagedPayouts))
	for id, p := range r.t.stagedPayouts {
		seen[id] = struct{}{}
		add(p)
	}
	for id, p := range r.t.s.payouts {
		if _, ok := seen[id]; ok {
			continue
		}
		add(p)
	}
	return sum, nil
}

/* ===================== outbox ===================== */

type outboxRepo struct{ t *memTx }

func (r outboxRepo) Enqueue(ctx context.Context, e store.OutboxEvent) error {
	r.t.newOutbox = append(r.t.newOutbox, e)
	return nil
}

func (r outboxRepo) ListPending(ctx context.Context, limit int) ([]store.OutboxEvent, error) {
	var out []store.OutboxEvent
	for _, e := range r.t.s.outbox {
		if staged, ok := r.t.stagedOutbox[e.ID]; ok {
			e = staged
		}
		if e.Status != store.OutboxStatusPending {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (r outboxRepo) MarkSent(ctx context.Context, id string) error {
	return r.setStatus(id, store.OutboxStatusSent, false)
}

func (r outboxRepo) MarkFailed(ctx context.Context, id string) error {
	return r.setStatus(id, store.OutboxStatusFailed, true)
}

func (r outboxRepo) IncrementRetry(ctx context.Context, id string) error {
	return r.setStatus(id, "", true)
}

func (r outboxRepo) setStatus(id, status string, bumpRetry bool) error {
	e, ok := r.t.stagedOutbox[id]
	if !ok {
		i, found := r.t.s.outboxIdx[id]
		if !found {
			return token.ErrInvalidArgument
		}
		e = r.t.s.outbox[i]
	}
	if status != "" {
		e.Status = status
	}
	if bumpRetry {
		e.RetryCount++
	}
	r.t.stagedOutbox[id] = e
	return nil
}
