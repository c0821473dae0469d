package services

import (
	"errors"
	"fmt"
)

var (
	ErrInsufficientCredits    = errors.New("credits: insufficient credits")
	ErrInvalidAmount          = errors.New("credits: amount must be greater than zero")
	ErrInvalidTransactionType = errors.New("credits: transaction type not allowed for this operation")
	ErrInvalidUser            = errors.New("credits: user id is required")
	ErrStorageUnavailable     = errors.New("credits: storage unavailable")
	ErrAccountNotFound        = errors.New("credits: account not found")
	ErrBalanceOverflow        = errors.New("credits: balance out of range")

	// ErrDuplicateIdempotent marks a replayed Add. Callers treat it as success;
	// the service surfaces it only through Result.Replayed.
	ErrDuplicateIdempotent = errors.New("credits: duplicate idempotent request")
)

// InsufficientCreditsError carries the balance observed when a debit failed.
type InsufficientCreditsError struct {
	Current   int64
	Requested int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("credits: insufficient credits (current %d, requested %d)", e.Current, e.Requested)
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %v", op, ErrStorageUnavailable, err)
}
