package database

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"
)

// schema is applied in order; every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS credit_accounts (
		user_id    TEXT PRIMARY KEY,
		balance    BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS credit_transactions (
		id            TEXT PRIMARY KEY,
		user_id       TEXT NOT NULL,
		amount        BIGINT NOT NULL CHECK (amount <> 0),
		balance_after BIGINT NOT NULL CHECK (balance_after >= 0),
		type          TEXT NOT NULL CHECK (type IN ('INIT', 'PURCHASE', 'TOPUP', 'BONUS', 'ANALYSIS', 'CONSUME', 'RESERVED', 'REFUND')),
		reference     TEXT NOT NULL DEFAULT '',
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_credit_transactions_user_created
		ON credit_transactions (user_id, created_at DESC, id DESC)`,
	// Credits are idempotent on (user, type, reference); debits are not.
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_credit_transactions_credit_reference
		ON credit_transactions (user_id, type, reference)
		WHERE reference <> '' AND type IN ('INIT', 'PURCHASE', 'TOPUP', 'BONUS', 'REFUND')`,
	// Legacy user rows written before the ledger tables existed.
	`CREATE TABLE IF NOT EXISTS users (
		id             TEXT PRIMARY KEY,
		email          TEXT,
		credits        BIGINT NOT NULL DEFAULT 0,
		credit_history JSONB,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

// Migrate creates the ledger schema.
func Migrate(ctx context.Context, db *sql.DB, logger *zap.Logger) error {
	for i, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration step %d: %w", i+1, err)
		}
	}
	logger.Info("Database schema up to date", zap.Int("statements", len(schema)))
	return nil
}
