package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LegacyCreditEntry is one element of the credit_history array embedded in the
// old user document.
type LegacyCreditEntry struct {
	Type         string    `json:"type" bson:"type"`
	Amount       int64     `json:"amount" bson:"amount"`
	Reference    string    `json:"reference,omitempty" bson:"reference,omitempty"`
	PaymentID    string    `json:"payment_id,omitempty" bson:"payment_id,omitempty"`
	Description  string    `json:"description,omitempty" bson:"description,omitempty"`
	BalanceAfter int64     `json:"balance_after,omitempty" bson:"balance_after,omitempty"`
	Timestamp    time.Time `json:"timestamp" bson:"timestamp"`
}

// LegacyCreditHistory is the JSONB column holding the embedded array.
type LegacyCreditHistory []LegacyCreditEntry

// Value implements driver.Valuer for LegacyCreditHistory
func (h LegacyCreditHistory) Value() (driver.Value, error) {
	if h == nil {
		return nil, nil
	}
	return json.Marshal(h)
}

// Scan implements sql.Scanner for LegacyCreditHistory
func (h *LegacyCreditHistory) Scan(value any) error {
	if value == nil {
		*h = nil
		return nil
	}

	var b []byte
	switch v := value.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return errors.New("type assertion to []byte failed")
	}

	return json.Unmarshal(b, h)
}

// NormalizeLegacyType maps the old type vocabulary onto the current one.
func NormalizeLegacyType(raw string) (TransactionType, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "INIT", "BONUS":
		return TransactionBonus, nil
	case "ADD", "TOPUP", "PURCHASE":
		return TransactionPurchase, nil
	case "ANALYSIS", "CONSUME":
		return TransactionAnalysis, nil
	case "REFUND":
		return TransactionRefund, nil
	}
	return "", fmt.Errorf("%w: legacy %q", ErrUnknownTransactionType, raw)
}

// Normalize converts a legacy entry into a read-side Transaction. The id is
// derived from the owning user and the entry's position in the array.
func (e LegacyCreditEntry) Normalize(userID string, index int) (Transaction, error) {
	t, err := NormalizeLegacyType(e.Type)
	if err != nil {
		return Transaction{}, err
	}

	amount := e.Amount
	if t.IsDebit() && amount > 0 {
		amount = -amount
	}

	ref := e.Reference
	if ref == "" {
		ref = e.PaymentID
	}

	return Transaction{
		ID:           fmt.Sprintf("legacy:%s:%d", userID, index),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: e.BalanceAfter,
		Type:         t,
		Reference:    ref,
		Source:       SourceLegacy,
		CreatedAt:    e.Timestamp,
	}, nil
}
