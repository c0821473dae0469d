package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/commentsense/backend/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// PostgresLedgerStore keeps accounts and transactions in Postgres. A unit of
// work is one sql.Tx holding the account row lock.
type PostgresLedgerStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresLedgerStore(db *sql.DB) *PostgresLedgerStore {
	return &PostgresLedgerStore{db: db, now: time.Now}
}

func (s *PostgresLedgerStore) RunInTx(ctx context.Context, userID string, fn func(AccountStore, TransactionLog) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin", err)
	}
	defer tx.Rollback()

	if err := s.lockAccount(ctx, tx, userID); err != nil {
		return err
	}

	if err := fn(&pgAccountStore{q: tx, now: s.now}, &pgTransactionLog{q: tx, now: s.now}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit", err)
	}
	return nil
}

func (s *PostgresLedgerStore) Log() TransactionLog {
	return &pgTransactionLog{q: s.db, now: s.now}
}

func (s *PostgresLedgerStore) Erase(ctx context.Context, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageError("begin", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM credit_transactions WHERE user_id = $1`, userID); err != nil {
		return storageError("erase transactions", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM credit_accounts WHERE user_id = $1`, userID); err != nil {
		return storageError("erase account", err)
	}

	if err := tx.Commit(); err != nil {
		return storageError("commit", err)
	}
	return nil
}

// lockAccount takes the row lock for an existing account. A missing row is
// not an error: the first write creates it and the unique keys on
// credit_accounts and credit_transactions serialize racing creators.
func (s *PostgresLedgerStore) lockAccount(ctx context.Context, tx *sql.Tx, userID string) error {
	var balance int64
	err := tx.QueryRowContext(ctx, `
		SELECT balance
		FROM credit_accounts
		WHERE user_id = $1
		FOR UPDATE`, userID).Scan(&balance)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return storageError("lock account", err)
	}
	return nil
}

type pgAccountStore struct {
	q   querier
	now func() time.Time
}

func (a *pgAccountStore) Get(ctx context.Context, userID string) (*models.Account, error) {
	var account models.Account
	err := a.q.QueryRowContext(ctx, `
		SELECT user_id, balance, created_at, updated_at
		FROM credit_accounts
		WHERE user_id = $1`, userID).Scan(&account.UserID, &account.Balance, &account.CreatedAt, &account.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, storageError("get account", err)
	}
	return &account, nil
}

func (a *pgAccountStore) Create(ctx context.Context, userID string) (bool, error) {
	now := a.now()
	result, err := a.q.ExecContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, 0, $2, $2)
		ON CONFLICT (user_id) DO NOTHING`, userID, now)
	if err != nil {
		return false, storageError("create account", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, storageError("create account", err)
	}
	return rowsAffected == 1, nil
}

func (a *pgAccountStore) TryDecrement(ctx context.Context, userID string, amount int64) (int64, bool, error) {
	var balance int64
	err := a.q.QueryRowContext(ctx, `
		UPDATE credit_accounts
		SET balance = balance - $2, updated_at = $3
		WHERE user_id = $1 AND balance >= $2
		RETURNING balance`, userID, amount, a.now()).Scan(&balance)
	if err == nil {
		return balance, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, false, storageError("decrement balance", err)
	}

	account, err := a.Get(ctx, userID)
	if errors.Is(err, ErrAccountNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return account.Balance, false, nil
}

func (a *pgAccountStore) Increment(ctx context.Context, userID string, amount int64) (int64, error) {
	var balance int64
	now := a.now()
	err := a.q.QueryRowContext(ctx, `
		INSERT INTO credit_accounts (user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (user_id) DO UPDATE
		SET balance = credit_accounts.balance + EXCLUDED.balance, updated_at = EXCLUDED.updated_at
		RETURNING balance`, userID, amount, now).Scan(&balance)
	if err != nil {
		return 0, classifyPQ("increment balance", err)
	}
	return balance, nil
}

type pgTransactionLog struct {
	q   querier
	now func() time.Time
}

const transactionColumns = `id, user_id, amount, balance_after, type, reference, created_at`

func (l *pgTransactionLog) Append(ctx context.Context, tx *models.Transaction) (string, error) {
	if !tx.Type.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownTransactionType, tx.Type)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.now()
	}
	tx.Source = models.SourceCurrent

	_, err := l.q.ExecContext(ctx, `
		INSERT INTO credit_transactions (`+transactionColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING`,
		tx.ID, tx.UserID, tx.Amount, tx.BalanceAfter, string(tx.Type), tx.Reference, tx.CreatedAt)
	if err != nil {
		return "", classifyPQ("append transaction", err)
	}
	return tx.ID, nil
}

func (l *pgTransactionLog) ListByUser(ctx context.Context, userID, cursor string, pageSize int) ([]models.Transaction, string, error) {
	if pageSize <= 0 {
		return nil, "", fmt.Errorf("page size must be greater than zero")
	}

	var (
		rows *sql.Rows
		err  error
	)
	if cursor == "" {
		rows, err = l.q.QueryContext(ctx, `
			SELECT `+transactionColumns+`
			FROM credit_transactions
			WHERE user_id = $1
			ORDER BY created_at DESC, id DESC
			LIMIT $2`, userID, pageSize+1)
	} else {
		createdAt, id, derr := decodeCursor(cursor)
		if derr != nil {
			return nil, "", derr
		}
		rows, err = l.q.QueryContext(ctx, `
			SELECT `+transactionColumns+`
			FROM credit_transactions
			WHERE user_id = $1 AND (created_at, id) < ($2, $3)
			ORDER BY created_at DESC, id DESC
			LIMIT $4`, userID, createdAt, id, pageSize+1)
	}
	if err != nil {
		return nil, "", storageError("list transactions", err)
	}
	defer rows.Close()

	records := make([]models.Transaction, 0, pageSize+1)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, "", err
		}
		records = append(records, *tx)
	}
	if err := rows.Err(); err != nil {
		return nil, "", storageError("list transactions", err)
	}

	next := ""
	if len(records) > pageSize {
		records = records[:pageSize]
		last := records[len(records)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return records, next, nil
}

func (l *pgTransactionLog) FindByReference(ctx context.Context, userID string, txType models.TransactionType, reference string) (*models.Transaction, error) {
	row := l.q.QueryRowContext(ctx, `
		SELECT `+transactionColumns+`
		FROM credit_transactions
		WHERE user_id = $1 AND type = $2 AND reference = $3
		ORDER BY created_at ASC
		LIMIT 1`, userID, string(txType), reference)

	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return tx, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*models.Transaction, error) {
	var (
		tx      models.Transaction
		rawType string
	)
	err := row.Scan(&tx.ID, &tx.UserID, &tx.Amount, &tx.BalanceAfter, &rawType, &tx.Reference, &tx.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, storageError("scan transaction", err)
	}

	tx.Type, err = models.ParseTransactionType(rawType)
	if err != nil {
		return nil, err
	}
	tx.Source = models.SourceCurrent
	return &tx, nil
}

func classifyPQ(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%s: %w", op, ErrDuplicateIdempotent)
		case "22003":
			return fmt.Errorf("%s: %w", op, ErrBalanceOverflow)
		}
	}
	return storageError(op, err)
}
