package postgres

import (
	"errors"
	"fmt"
	"testing"

	"avalo-ledger/internal/store"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestMapInsertError_UniqueViolationBecomesWriteConflict(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "transactions_idempotency_key_key"}
	err := mapInsertError(fmt.Errorf("insert transaction: %w", pgErr))
	if !errors.Is(err, store.ErrWriteConflict) {
		t.Fatalf("expected ErrWriteConflict, got %v", err)
	}
}

func TestMapInsertError_PassesThroughOtherErrors(t *testing.T) {
	cases := []error{
		nil,
		errors.New("connection reset"),
		&pgconn.PgError{Code: "23503"}, // foreign key violation
	}
	for _, in := range cases {
		if got := mapInsertError(in); !errors.Is(got, in) {
			t.Fatalf("expected %v unchanged, got %v", in, got)
		}
	}
}
