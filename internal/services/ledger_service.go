package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/commentsense/backend/internal/audit"
	"github.com/commentsense/backend/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// signupReference keys the one-time signup bonus so it is applied at most once.
	signupReference = "signup"
	// legacyAdjustmentReference balances an imported legacy history that sums
	// below zero, since an account balance never does.
	legacyAdjustmentReference = "legacy_adjustment"
)

// Result describes the state after a mutation. Replayed is true when Add saw
// an existing (user, type, reference) and changed nothing.
type Result struct {
	Balance     int64               `json:"balance"`
	Transaction *models.Transaction `json:"transaction,omitempty"`
	Replayed    bool                `json:"replayed"`
}

type LedgerOptions struct {
	// SignupBonus is credited as INIT the first time a user touches the ledger,
	// unless the imported legacy history already holds a bonus.
	SignupBonus int64
	Cache       SummaryCacher
	Logger      *zap.Logger
	Now         func() time.Time
}

// LedgerService owns user credit balances: every debit is checked and applied
// atomically with its log record, every credit is idempotent on its reference.
type LedgerService struct {
	store       LedgerStore
	view        *ReconciliationView
	cache       SummaryCacher
	audit       *audit.Logger
	log         *zap.Logger
	signupBonus int64
	now         func() time.Time
}

func NewLedgerService(store LedgerStore, view *ReconciliationView, opts LedgerOptions) *LedgerService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	cache := opts.Cache
	if cache == nil {
		cache = noopSummaryCache{}
	}
	if view == nil {
		view = NewReconciliationView(NewCurrentSource(store.Log()), nil, ReconciliationOptions{Logger: logger})
	}
	return &LedgerService{
		store:       store,
		view:        view,
		cache:       cache,
		audit:       audit.NewLogger(logger),
		log:         logger.Named("ledger"),
		signupBonus: opts.SignupBonus,
		now:         nowFn,
	}
}

// EnsureAccount materializes the account, imports its legacy history and
// applies the signup bonus, all once. Every public operation goes through the
// same step inside its own unit of work.
func (s *LedgerService) EnsureAccount(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	var opened []*models.Transaction
	err := s.store.RunInTx(ctx, userID, func(accounts AccountStore, log TransactionLog) error {
		var err error
		opened, err = s.ensureInTx(ctx, accounts, log, userID)
		return err
	})
	if err != nil {
		return err
	}
	s.afterOpening(ctx, userID, opened)
	return nil
}

// GetBalance returns the current balance, creating the account on first touch.
func (s *LedgerService) GetBalance(ctx context.Context, userID string) (int64, error) {
	if err := validateUser(userID); err != nil {
		return 0, err
	}
	var (
		balance int64
		opened  []*models.Transaction
	)
	err := s.store.RunInTx(ctx, userID, func(accounts AccountStore, log TransactionLog) error {
		var err error
		if opened, err = s.ensureInTx(ctx, accounts, log, userID); err != nil {
			return err
		}
		account, err := accounts.Get(ctx, userID)
		if err != nil {
			return err
		}
		balance = account.Balance
		return nil
	})
	if err != nil {
		return 0, err
	}
	s.afterOpening(ctx, userID, opened)
	return balance, nil
}

// Consume debits amount if the balance covers it. It never deduplicates on
// reference: the same reference consumed twice is charged twice.
func (s *LedgerService) Consume(ctx context.Context, userID string, amount int64, txType models.TransactionType, reference string) (*Result, error) {
	if err := validateMutation(userID, amount); err != nil {
		return nil, err
	}
	if !txType.IsDebit() {
		return nil, ErrInvalidTransactionType
	}

	var (
		result Result
		opened []*models.Transaction
	)
	err := s.store.RunInTx(ctx, userID, func(accounts AccountStore, log TransactionLog) error {
		var err error
		if opened, err = s.ensureInTx(ctx, accounts, log, userID); err != nil {
			return err
		}

		balance, ok, err := accounts.TryDecrement(ctx, userID, amount)
		if err != nil {
			return err
		}
		if !ok {
			return &InsufficientCreditsError{Current: balance, Requested: amount}
		}

		tx := s.newTransaction(userID, -amount, balance, txType, reference)
		if _, err := log.Append(ctx, tx); err != nil {
			return err
		}
		result = Result{Balance: balance, Transaction: tx}
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInsufficientCredits) {
			s.log.Info("consume rejected",
				zap.String("userID", userID),
				zap.Int64("amount", amount),
				zap.String("reference", reference),
				zap.Error(err))
			return nil, err
		}
		s.audit.LogError(userID, "CONSUME", err)
		return nil, err
	}

	s.afterOpening(ctx, userID, opened)
	s.cache.Invalidate(ctx, userID)
	s.audit.LogDebit(result.Transaction.ID, userID, string(txType), reference, -amount, result.Balance)
	return &result, nil
}

// Add credits amount. A non-empty reference already recorded for the same
// user and type makes the call a no-op returning the current balance.
func (s *LedgerService) Add(ctx context.Context, userID string, amount int64, txType models.TransactionType, reference string) (*Result, error) {
	if err := validateMutation(userID, amount); err != nil {
		return nil, err
	}
	if !txType.IsCredit() {
		return nil, ErrInvalidTransactionType
	}

	var (
		result Result
		opened []*models.Transaction
	)
	err := s.store.RunInTx(ctx, userID, func(accounts AccountStore, log TransactionLog) error {
		var err error
		if opened, err = s.ensureInTx(ctx, accounts, log, userID); err != nil {
			return err
		}

		if reference != "" {
			existing, err := log.FindByReference(ctx, userID, txType, reference)
			if err != nil {
				return err
			}
			if existing != nil {
				account, err := accounts.Get(ctx, userID)
				if err != nil {
					return err
				}
				result = Result{Balance: account.Balance, Transaction: existing, Replayed: true}
				return nil
			}
		}

		balance, err := accounts.Increment(ctx, userID, amount)
		if err != nil {
			return err
		}
		tx := s.newTransaction(userID, amount, balance, txType, reference)
		if _, err := log.Append(ctx, tx); err != nil {
			return err
		}
		result = Result{Balance: balance, Transaction: tx}
		return nil
	})
	if errors.Is(err, ErrDuplicateIdempotent) {
		// Lost a race with a concurrent delivery of the same reference; the
		// unit of work rolled back, so report the winner's state.
		return s.replayAfterConflict(ctx, userID, txType, reference)
	}
	if err != nil {
		s.audit.LogError(userID, "ADD", err)
		return nil, err
	}

	s.afterOpening(ctx, userID, opened)
	if result.Replayed {
		s.audit.LogReplay(userID, string(txType), reference, result.Balance)
		return &result, nil
	}
	s.cache.Invalidate(ctx, userID)
	s.audit.LogCredit(result.Transaction.ID, userID, string(txType), reference, amount, result.Balance)
	return &result, nil
}

// Reserve tentatively consumes credits before asynchronous work starts.
func (s *LedgerService) Reserve(ctx context.Context, userID string, amount int64, reference string) (*Result, error) {
	return s.Consume(ctx, userID, amount, models.TransactionReserved, reference)
}

// RefundReserved returns a reservation whose work failed. Repeating it for the
// same reference is a no-op.
func (s *LedgerService) RefundReserved(ctx context.Context, userID string, amount int64, reference string) (*Result, error) {
	return s.Add(ctx, userID, amount, models.TransactionRefund, reference)
}

// ListTransactions returns one page of the reconciled history.
func (s *LedgerService) ListTransactions(ctx context.Context, userID string, page, pageSize int) (*models.TransactionPage, error) {
	if err := s.EnsureAccount(ctx, userID); err != nil {
		return nil, err
	}
	return s.view.List(ctx, userID, page, pageSize)
}

// Summary aggregates the reconciled history. TotalUsed counts usage events,
// not credits spent.
func (s *LedgerService) Summary(ctx context.Context, userID string) (*models.Summary, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	cached, generation, ok := s.cache.Get(ctx, userID)
	if ok {
		return cached, nil
	}

	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	history, err := s.view.All(ctx, userID)
	if err != nil {
		return nil, err
	}

	summary := summarize(balance, history)
	s.cache.Set(ctx, userID, generation, summary)
	return summary, nil
}

// EraseAccount deletes the account and its current-schema history on a
// data-erasure request from the identity subsystem.
func (s *LedgerService) EraseAccount(ctx context.Context, userID string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if err := s.store.Erase(ctx, userID); err != nil {
		s.audit.LogError(userID, "ERASE", err)
		return err
	}
	s.cache.Invalidate(ctx, userID)
	s.log.Info("account erased", zap.String("userID", userID))
	return nil
}

func (s *LedgerService) ensureInTx(ctx context.Context, accounts AccountStore, log TransactionLog, userID string) ([]*models.Transaction, error) {
	created, err := accounts.Create(ctx, userID)
	if err != nil || !created {
		return nil, err
	}

	opened, err := s.importLegacyInTx(ctx, accounts, log, userID)
	if err != nil {
		return nil, err
	}
	if s.signupBonus <= 0 || hasBonus(opened) {
		return opened, nil
	}

	existing, err := log.FindByReference(ctx, userID, models.TransactionInit, signupReference)
	if err != nil || existing != nil {
		return opened, err
	}

	balance, err := accounts.Increment(ctx, userID, s.signupBonus)
	if err != nil {
		return nil, err
	}
	tx := s.newTransaction(userID, s.signupBonus, balance, models.TransactionInit, signupReference)
	if _, err := log.Append(ctx, tx); err != nil {
		return nil, err
	}
	return append(opened, tx), nil
}

// importLegacyInTx copies the embedded legacy history of a newly opened
// account into the log, keeping each record's timestamp, amount and
// reference, and opens the balance at their sum. Every legacy original then
// has a current copy it reconciles against, so the merged history and the
// balance agree, and later credits with a legacy reference replay.
func (s *LedgerService) importLegacyInTx(ctx context.Context, accounts AccountStore, log TransactionLog, userID string) ([]*models.Transaction, error) {
	if s.view.legacy == nil {
		return nil, nil
	}
	history, err := s.view.legacy.Fetch(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("fetch legacy history: %w", err)
	}
	if len(history) == 0 {
		return nil, nil
	}
	sort.SliceStable(history, func(i, j int) bool {
		return history[i].CreatedAt.Before(history[j].CreatedAt)
	})

	var (
		imported []*models.Transaction
		running  int64
		credited = make(map[string]struct{})
	)
	for _, l := range history {
		if l.Amount == 0 {
			continue
		}
		// A credit is unique per (type, reference); a repeat is reconciled
		// away against the first copy.
		if l.Type.IsCredit() && l.Reference != "" {
			key := string(l.Type) + ":" + l.Reference
			if _, dup := credited[key]; dup {
				continue
			}
			credited[key] = struct{}{}
		}
		running += l.Amount
		imported = append(imported, &models.Transaction{
			ID:           uuid.NewString(),
			UserID:       userID,
			Amount:       l.Amount,
			BalanceAfter: max(running, 0),
			Type:         l.Type,
			Reference:    l.Reference,
			Source:       models.SourceCurrent,
			CreatedAt:    l.CreatedAt.UTC(),
		})
	}

	if running < 0 {
		s.log.Warn("legacy history sums below zero, adjusting opening balance",
			zap.String("userID", userID),
			zap.Int64("sum", running))
		imported = append(imported, s.newTransaction(userID, -running, 0, models.TransactionBonus, legacyAdjustmentReference))
		running = 0
	}
	if running > 0 {
		if _, err := accounts.Increment(ctx, userID, running); err != nil {
			return nil, err
		}
	}
	for _, tx := range imported {
		if _, err := log.Append(ctx, tx); err != nil {
			return nil, err
		}
	}

	if len(imported) > 0 {
		s.log.Info("legacy history imported",
			zap.String("userID", userID),
			zap.Int("records", len(imported)),
			zap.Int64("openingBalance", running))
	}
	return imported, nil
}

func hasBonus(txs []*models.Transaction) bool {
	for _, tx := range txs {
		if tx.Type.Category() == models.CategoryBonus {
			return true
		}
	}
	return false
}

func (s *LedgerService) afterOpening(ctx context.Context, userID string, opened []*models.Transaction) {
	if len(opened) == 0 {
		return
	}
	s.cache.Invalidate(ctx, userID)
	for _, tx := range opened {
		if tx.Amount < 0 {
			s.audit.LogDebit(tx.ID, tx.UserID, string(tx.Type), tx.Reference, tx.Amount, tx.BalanceAfter)
			continue
		}
		s.audit.LogCredit(tx.ID, tx.UserID, string(tx.Type), tx.Reference, tx.Amount, tx.BalanceAfter)
	}
}

func (s *LedgerService) replayAfterConflict(ctx context.Context, userID string, txType models.TransactionType, reference string) (*Result, error) {
	existing, err := s.store.Log().FindByReference(ctx, userID, txType, reference)
	if err != nil {
		return nil, err
	}
	balance, err := s.GetBalance(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.audit.LogReplay(userID, string(txType), reference, balance)
	return &Result{Balance: balance, Transaction: existing, Replayed: true}, nil
}

func (s *LedgerService) newTransaction(userID string, amount, balanceAfter int64, txType models.TransactionType, reference string) *models.Transaction {
	return &models.Transaction{
		ID:           uuid.NewString(),
		UserID:       userID,
		Amount:       amount,
		BalanceAfter: balanceAfter,
		Type:         txType,
		Reference:    reference,
		Source:       models.SourceCurrent,
		CreatedAt:    s.now().UTC(),
	}
}

func summarize(balance int64, history []models.Transaction) *models.Summary {
	summary := &models.Summary{Balance: balance}
	for _, tx := range history {
		switch tx.Type.Category() {
		case models.CategoryPurchase:
			summary.TotalPurchased += tx.Amount
		case models.CategoryBonus:
			summary.TotalBonus += tx.Amount
		case models.CategoryUsage:
			summary.TotalUsed++
		}
	}
	return summary
}

func validateUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return ErrInvalidUser
	}
	return nil
}

func validateMutation(userID string, amount int64) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	if amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}
