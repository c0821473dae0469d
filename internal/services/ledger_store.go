package services

import (
	"context"

	"github.com/commentsense/backend/internal/models"
)

// AccountStore holds the current balance per user.
type AccountStore interface {
	// Get returns ErrAccountNotFound for an untouched user.
	Get(ctx context.Context, userID string) (*models.Account, error)
	// Create inserts a zero-balance account; created is false when it already existed.
	Create(ctx context.Context, userID string) (created bool, err error)
	// TryDecrement subtracts amount only if the balance covers it. On failure
	// the balance is unchanged and returned with ok == false.
	TryDecrement(ctx context.Context, userID string, amount int64) (newBalance int64, ok bool, err error)
	// Increment adds amount, creating the account when missing.
	Increment(ctx context.Context, userID string, amount int64) (newBalance int64, err error)
}

// TransactionLog is the append-only per-user history.
type TransactionLog interface {
	// Append is idempotent on tx.ID; a second append of the same id is a no-op.
	Append(ctx context.Context, tx *models.Transaction) (string, error)
	// ListByUser returns records newest first. An empty nextCursor means no more pages.
	ListByUser(ctx context.Context, userID, cursor string, pageSize int) ([]models.Transaction, string, error)
	// FindByReference returns nil when no record matches.
	FindByReference(ctx context.Context, userID string, txType models.TransactionType, reference string) (*models.Transaction, error)
}

// LedgerStore binds both stores to one atomic unit of work per account.
type LedgerStore interface {
	// RunInTx serializes fn against other units of work for the same user and
	// commits every write fn made, or none of them when fn returns an error.
	RunInTx(ctx context.Context, userID string, fn func(accounts AccountStore, log TransactionLog) error) error
	// Log is a non-transactional reader used by the reconciliation view.
	Log() TransactionLog
	// Erase removes the account and its current-schema history.
	Erase(ctx context.Context, userID string) error
}
