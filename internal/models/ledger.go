package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TransactionType is the closed set of ledger event kinds.
type TransactionType string

const (
	TransactionInit     TransactionType = "INIT"
	TransactionPurchase TransactionType = "PURCHASE"
	TransactionTopup    TransactionType = "TOPUP"
	TransactionBonus    TransactionType = "BONUS"
	TransactionAnalysis TransactionType = "ANALYSIS"
	TransactionConsume  TransactionType = "CONSUME"
	TransactionReserved TransactionType = "RESERVED"
	TransactionRefund   TransactionType = "REFUND"
)

// ErrUnknownTransactionType is returned when a type string is outside the enum.
var ErrUnknownTransactionType = errors.New("unknown transaction type")

var transactionTypes = map[TransactionType]struct{}{
	TransactionInit:     {},
	TransactionPurchase: {},
	TransactionTopup:    {},
	TransactionBonus:    {},
	TransactionAnalysis: {},
	TransactionConsume:  {},
	TransactionReserved: {},
	TransactionRefund:   {},
}

// ParseTransactionType validates a raw type string at the storage boundary.
func ParseTransactionType(raw string) (TransactionType, error) {
	t := TransactionType(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := transactionTypes[t]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownTransactionType, raw)
	}
	return t, nil
}

// Valid reports whether t is a member of the enum.
func (t TransactionType) Valid() bool {
	_, ok := transactionTypes[t]
	return ok
}

// IsCredit reports whether t increases a balance.
func (t TransactionType) IsCredit() bool {
	switch t {
	case TransactionInit, TransactionPurchase, TransactionTopup, TransactionBonus, TransactionRefund:
		return true
	}
	return false
}

// IsDebit reports whether t decreases a balance.
func (t TransactionType) IsDebit() bool {
	switch t {
	case TransactionAnalysis, TransactionConsume, TransactionReserved:
		return true
	}
	return false
}

// Category groups types for summaries.
type Category string

const (
	CategoryBonus    Category = "bonus"
	CategoryPurchase Category = "purchase"
	CategoryUsage    Category = "usage"
	CategoryRefund   Category = "refund"
)

func (t TransactionType) Category() Category {
	switch t {
	case TransactionInit, TransactionBonus:
		return CategoryBonus
	case TransactionPurchase, TransactionTopup:
		return CategoryPurchase
	case TransactionRefund:
		return CategoryRefund
	default:
		return CategoryUsage
	}
}

// Transaction sources on the read side.
const (
	SourceCurrent = "current"
	SourceLegacy  = "legacy"
)

// Account holds the current balance of a user.
type Account struct {
	UserID    string    `json:"user_id" db:"user_id"`
	Balance   int64     `json:"balance" db:"balance"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Transaction is an immutable ledger event.
type Transaction struct {
	ID           string          `json:"id" db:"id"`
	UserID       string          `json:"user_id" db:"user_id"`
	Amount       int64           `json:"amount" db:"amount"` // signed, negative for debits
	BalanceAfter int64           `json:"balance_after" db:"balance_after"`
	Type         TransactionType `json:"type" db:"type"`
	Reference    string          `json:"reference,omitempty" db:"reference"`
	Source       string          `json:"source"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Summary aggregates a user's reconciled history.
type Summary struct {
	Balance        int64 `json:"balance"`
	TotalPurchased int64 `json:"total_purchased"`
	TotalBonus     int64 `json:"total_bonus"`
	TotalUsed      int64 `json:"total_used"` // number of usage events, not credits
}

// TransactionPage is one page of the reconciled history.
type TransactionPage struct {
	Transactions []Transaction `json:"transactions"`
	Page         int           `json:"page"`
	PageSize     int           `json:"page_size"`
	Total        int           `json:"total"`
	HasMore      bool          `json:"has_more"`
}
