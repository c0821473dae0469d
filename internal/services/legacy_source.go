package services

import (
	"context"
	"database/sql"
	"errors"

	"github.com/commentsense/backend/internal/models"
	"go.uber.org/zap"
)

// PostgresLegacySource reads the credit_history array embedded in users rows
// before the ledger moved to credit_transactions.
type PostgresLegacySource struct {
	db  *sql.DB
	log *zap.Logger
}

func NewPostgresLegacySource(db *sql.DB, logger *zap.Logger) *PostgresLegacySource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresLegacySource{db: db, log: logger.Named("legacy")}
}

func (s *PostgresLegacySource) Name() string { return models.SourceLegacy }

func (s *PostgresLegacySource) Fetch(ctx context.Context, userID string) ([]models.Transaction, error) {
	var history models.LegacyCreditHistory
	err := s.db.QueryRowContext(ctx, `
		SELECT credit_history
		FROM users
		WHERE id = $1`, userID).Scan(&history)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("fetch legacy history", err)
	}
	return normalizeLegacyHistory(userID, history, s.log), nil
}

// normalizeLegacyHistory skips entries whose type has no current equivalent;
// they were never balance-affecting in the old schema.
func normalizeLegacyHistory(userID string, history models.LegacyCreditHistory, logger *zap.Logger) []models.Transaction {
	out := make([]models.Transaction, 0, len(history))
	for i, entry := range history {
		tx, err := entry.Normalize(userID, i)
		if err != nil {
			logger.Warn("skipping legacy credit entry",
				zap.String("userID", userID),
				zap.Int("index", i),
				zap.Error(err))
			continue
		}
		out = append(out, tx)
	}
	return out
}
