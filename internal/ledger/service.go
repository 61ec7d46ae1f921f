package ledger

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"avalo-ledger/internal/store"
	"avalo-ledger/internal/token"
)

// Service is the read-only surface over the transaction ledger, consumed by
// creator analytics, supporter CRM and admin tooling. The ledger itself is
// append-only; all writes happen inside the coordinators' transactions.
type Service struct {
	db store.Store
}

func NewService(db store.Store) *Service { return &Service{db: db} }

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

type HistoryRequest struct {
	UserID string

	// Optional filters.
	Types  []token.TxType
	Source token.ContextType

	// Cursor is the opaque position returned by a previous page.
	Cursor string
	Limit  int
}

type HistoryPage struct {
	Transactions []token.Transaction `json:"transactions"`

	// NextCursor is empty on the last page.
	NextCursor string `json:"next_cursor,omitempty"`
}

// History returns a newest-first page of the user's transactions.
func (s *Service) History(ctx context.Context, req HistoryRequest) (HistoryPage, error) {
	if req.UserID == "" {
		return HistoryPage{}, token.ErrInvalidArgument
	}

	limit := req.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	f := store.HistoryFilter{
		Types:  req.Types,
		Source: req.Source,
		Limit:  limit,
	}
	if req.Cursor != "" {
		at, txID, err := decodeCursor(req.Cursor)
		if err != nil {
			return HistoryPage{}, token.ErrInvalidArgument
		}
		f.CursorCreatedAt = at
		f.CursorTxID = txID
	}

	var rows []token.Transaction
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		rows, err = tx.Ledger().List(ctx, req.UserID, f)
		return err
	})
	if err != nil {
		return HistoryPage{}, err
	}

	page := HistoryPage{Transactions: rows}
	if len(rows) == limit {
		last := rows[len(rows)-1]
		page.NextCursor = encodeCursor(last.CreatedAt, last.TxID)
	}
	return page, nil
}

// Get returns a single transaction by id.
func (s *Service) Get(ctx context.Context, txID string) (token.Transaction, error) {
	if txID == "" {
		return token.Transaction{}, token.ErrInvalidArgument
	}
	var out token.Transaction
	err := s.db.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		t, ok, err := tx.Ledger().Get(ctx, txID)
		if err != nil {
			return err
		}
		if !ok {
			return token.ErrTransactionNotFound
		}
		out = t
		return nil
	})
	if err != nil {
		return token.Transaction{}, err
	}
	return out, nil
}

// Cursors are opaque to clients: base64("createdAtNano|txID"). They survive
// process restarts because they only reference immutable row attributes.

func encodeCursor(at time.Time, txID string) string {
	raw := fmt.Sprintf("%d|%s", at.UTC().UnixNano(), txID)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(c string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(c)
	if err != nil {
		return time.Time{}, "", err
	}
	parts := strings.SplitN(string(raw), "|", 2)
	if len(parts) != 2 || parts[1] == "" {
		return time.Time{}, "", fmt.Errorf("malformed cursor")
	}
	var nanos int64
	if _, err := fmt.Sscanf(parts[0], "%d", &nanos); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, nanos).UTC(), parts[1], nil
}
