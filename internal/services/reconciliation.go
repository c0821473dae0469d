package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/commentsense/backend/internal/models"
	"go.uber.org/zap"
)

const (
	defaultDedupWindow  = time.Second
	defaultPageSize     = 20
	maxPageSize         = 100
	currentFetchPage    = 200
	defaultFetchWorkers = 2
)

// TransactionSource yields every record one storage scheme holds for a user,
// already mapped onto the current type vocabulary.
type TransactionSource interface {
	Name() string
	Fetch(ctx context.Context, userID string) ([]models.Transaction, error)
}

// CurrentSource reads the normalized credit_transactions log.
type CurrentSource struct {
	log      TransactionLog
	pageSize int
}

func NewCurrentSource(log TransactionLog) *CurrentSource {
	return &CurrentSource{log: log, pageSize: currentFetchPage}
}

func (c *CurrentSource) Name() string { return models.SourceCurrent }

func (c *CurrentSource) Fetch(ctx context.Context, userID string) ([]models.Transaction, error) {
	var (
		all    []models.Transaction
		cursor string
	)
	for {
		page, next, err := c.log.ListByUser(ctx, userID, cursor, c.pageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == "" {
			return all, nil
		}
		cursor = next
	}
}

type ReconciliationOptions struct {
	// DedupWindow is the strict upper bound on the timestamp gap for the
	// same-amount duplicate rule.
	DedupWindow     time.Duration
	DefaultPageSize int
	MaxPageSize     int
	Workers         int
	Logger          *zap.Logger
}

// ReconciliationView merges the current log with the legacy embedded history
// into one deduplicated, newest-first stream. It never writes.
type ReconciliationView struct {
	current TransactionSource
	legacy  TransactionSource
	pool    pond.Pool
	opts    ReconciliationOptions
	log     *zap.Logger
}

// NewReconciliationView builds the view; legacy may be nil for deployments
// that never had the old schema.
func NewReconciliationView(current, legacy TransactionSource, opts ReconciliationOptions) *ReconciliationView {
	if opts.DedupWindow <= 0 {
		opts.DedupWindow = defaultDedupWindow
	}
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = maxPageSize
	}
	if opts.DefaultPageSize <= 0 || opts.DefaultPageSize > opts.MaxPageSize {
		opts.DefaultPageSize = min(defaultPageSize, opts.MaxPageSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = defaultFetchWorkers
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReconciliationView{
		current: current,
		legacy:  legacy,
		pool:    pond.NewPool(opts.Workers),
		opts:    opts,
		log:     logger.Named("reconciliation"),
	}
}

// Close stops the fetch pool.
func (v *ReconciliationView) Close() {
	v.pool.StopAndWait()
}

// All returns the complete reconciled history.
func (v *ReconciliationView) All(ctx context.Context, userID string) ([]models.Transaction, error) {
	var (
		current, legacy       []models.Transaction
		currentErr, legacyErr error
	)

	group := v.pool.NewGroupContext(ctx)
	groupCtx := group.Context()

	group.Submit(func() {
		current, currentErr = v.current.Fetch(groupCtx, userID)
	})
	if v.legacy != nil {
		group.Submit(func() {
			legacy, legacyErr = v.legacy.Fetch(groupCtx, userID)
		})
	}

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) {
		return nil, fmt.Errorf("fetch transaction sources: %w", err)
	}
	if currentErr != nil {
		return nil, fmt.Errorf("fetch %s transactions: %w", v.current.Name(), currentErr)
	}
	if legacyErr != nil {
		return nil, fmt.Errorf("fetch %s transactions: %w", v.legacy.Name(), legacyErr)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	merged := Reconcile(current, legacy, v.opts.DedupWindow)
	if dropped := len(current) + len(legacy) - len(merged); dropped > 0 {
		v.log.Debug("legacy duplicates dropped",
			zap.String("userID", userID),
			zap.Int("dropped", dropped))
	}
	return merged, nil
}

// List returns page (1-based) of the reconciled history. pageSize is clamped
// to the configured maximum; zero selects the default.
func (v *ReconciliationView) List(ctx context.Context, userID string, page, pageSize int) (*models.TransactionPage, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = v.opts.DefaultPageSize
	}
	if pageSize > v.opts.MaxPageSize {
		pageSize = v.opts.MaxPageSize
	}

	all, err := v.All(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := (page - 1) * pageSize
	if start > len(all) {
		start = len(all)
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}

	return &models.TransactionPage{
		Transactions: append([]models.Transaction{}, all[start:end]...),
		Page:         page,
		PageSize:     pageSize,
		Total:        len(all),
		HasMore:      end < len(all),
	}, nil
}

// Reconcile drops every legacy record that duplicates a current one, merges
// the rest and sorts newest first. A legacy record is a duplicate when it
// shares a non-empty reference with a current record, or when both carry the
// same amount less than window apart. The result does not depend on the order
// of either input.
func Reconcile(current, legacy []models.Transaction, window time.Duration) []models.Transaction {
	refs := make(map[string]struct{}, len(current))
	for _, tx := range current {
		if tx.Reference != "" {
			refs[tx.Reference] = struct{}{}
		}
	}

	merged := make([]models.Transaction, 0, len(current)+len(legacy))
	merged = append(merged, current...)
	for _, l := range legacy {
		if isLegacyDuplicate(l, current, refs, window) {
			continue
		}
		merged = append(merged, l)
	}

	sortNewestFirst(merged)
	return merged
}

func isLegacyDuplicate(l models.Transaction, current []models.Transaction, refs map[string]struct{}, window time.Duration) bool {
	if l.Reference != "" {
		if _, ok := refs[l.Reference]; ok {
			return true
		}
	}
	for _, c := range current {
		if c.Amount != l.Amount {
			continue
		}
		gap := c.CreatedAt.Sub(l.CreatedAt)
		if gap < 0 {
			gap = -gap
		}
		if gap < window {
			return true
		}
	}
	return false
}

func sortNewestFirst(txs []models.Transaction) {
	sort.Slice(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		if a.Source != b.Source {
			return a.Source == models.SourceCurrent
		}
		return a.ID < b.ID
	})
}
