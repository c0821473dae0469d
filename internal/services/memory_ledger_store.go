package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/commentsense/backend/internal/models"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"
)

// MemoryLedgerStore is a process-local LedgerStore. Each user has its own
// mutex, so units of work for different users run in parallel.
type MemoryLedgerStore struct {
	entries *xsync.Map[string, *memEntry]
	now     func() time.Time
}

type memEntry struct {
	mu sync.Mutex
	// dead is set under mu when Erase unlinks the entry from the map; a unit
	// of work that locked a dead entry must look the user up again.
	dead    bool
	account *models.Account
	txs     []memRecord
	ids     map[string]struct{}
	seq     uint64
}

type memRecord struct {
	tx  models.Transaction
	seq uint64
}

func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{
		entries: xsync.NewMap[string, *memEntry](),
		now:     time.Now,
	}
}

// lockEntry returns the user's live entry with its mutex held. With create
// false it returns nil for a user that has no entry.
func (s *MemoryLedgerStore) lockEntry(userID string, create bool) *memEntry {
	for {
		var e *memEntry
		if create {
			e, _ = s.entries.LoadOrStore(userID, &memEntry{ids: make(map[string]struct{})})
		} else {
			var ok bool
			if e, ok = s.entries.Load(userID); !ok {
				return nil
			}
		}
		e.mu.Lock()
		if !e.dead {
			return e
		}
		e.mu.Unlock()
	}
}

func (s *MemoryLedgerStore) RunInTx(ctx context.Context, userID string, fn func(AccountStore, TransactionLog) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e := s.lockEntry(userID, true)
	defer e.mu.Unlock()

	unit := &memUnit{store: s, entry: e, userID: userID}
	if e.account != nil {
		acct := *e.account
		unit.account = &acct
	}

	if err := fn(unit.accounts(), unit.log()); err != nil {
		return err
	}

	unit.commit()
	return nil
}

func (s *MemoryLedgerStore) Log() TransactionLog {
	return &memReader{store: s}
}

func (s *MemoryLedgerStore) Erase(ctx context.Context, userID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := s.lockEntry(userID, false)
	if e == nil {
		return nil
	}
	defer e.mu.Unlock()

	// Only a live entry is ever in the map, so this removes e itself.
	s.entries.Delete(userID)
	e.dead = true
	e.account = nil
	e.txs = nil
	e.ids = make(map[string]struct{})
	return nil
}

// memUnit stages writes for one RunInTx call.
type memUnit struct {
	store   *MemoryLedgerStore
	entry   *memEntry
	userID  string
	account *models.Account
	pending []models.Transaction
}

func (u *memUnit) accounts() AccountStore { return (*memUnitAccounts)(u) }
func (u *memUnit) log() TransactionLog    { return (*memUnitLog)(u) }

func (u *memUnit) commit() {
	e := u.entry
	if u.account != nil {
		acct := *u.account
		e.account = &acct
	}
	for _, tx := range u.pending {
		e.seq++
		e.txs = append(e.txs, memRecord{tx: tx, seq: e.seq})
		e.ids[tx.ID] = struct{}{}
	}
}

func (u *memUnit) checkUser(userID string) error {
	if userID != u.userID {
		return fmt.Errorf("unit of work is bound to user %q, got %q", u.userID, userID)
	}
	return nil
}

type memUnitAccounts memUnit

func (a *memUnitAccounts) Get(_ context.Context, userID string) (*models.Account, error) {
	if err := (*memUnit)(a).checkUser(userID); err != nil {
		return nil, err
	}
	if a.account == nil {
		return nil, ErrAccountNotFound
	}
	acct := *a.account
	return &acct, nil
}

func (a *memUnitAccounts) Create(_ context.Context, userID string) (bool, error) {
	if err := (*memUnit)(a).checkUser(userID); err != nil {
		return false, err
	}
	if a.account != nil {
		return false, nil
	}
	now := a.store.now()
	a.account = &models.Account{UserID: userID, CreatedAt: now, UpdatedAt: now}
	return true, nil
}

func (a *memUnitAccounts) TryDecrement(_ context.Context, userID string, amount int64) (int64, bool, error) {
	if err := (*memUnit)(a).checkUser(userID); err != nil {
		return 0, false, err
	}
	if a.account == nil {
		return 0, false, nil
	}
	if a.account.Balance < amount {
		return a.account.Balance, false, nil
	}
	a.account.Balance -= amount
	a.account.UpdatedAt = a.store.now()
	return a.account.Balance, true, nil
}

func (a *memUnitAccounts) Increment(ctx context.Context, userID string, amount int64) (int64, error) {
	if _, err := a.Create(ctx, userID); err != nil {
		return 0, err
	}
	if a.account.Balance > math.MaxInt64-amount {
		return 0, ErrBalanceOverflow
	}
	a.account.Balance += amount
	a.account.UpdatedAt = a.store.now()
	return a.account.Balance, nil
}

type memUnitLog memUnit

func (l *memUnitLog) Append(_ context.Context, tx *models.Transaction) (string, error) {
	if err := (*memUnit)(l).checkUser(tx.UserID); err != nil {
		return "", err
	}
	if !tx.Type.Valid() {
		return "", fmt.Errorf("%w: %q", models.ErrUnknownTransactionType, tx.Type)
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if _, exists := l.entry.ids[tx.ID]; exists {
		return tx.ID, nil
	}
	for _, p := range l.pending {
		if p.ID == tx.ID {
			return tx.ID, nil
		}
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = l.store.now()
	}
	tx.Source = models.SourceCurrent
	l.pending = append(l.pending, *tx)
	return tx.ID, nil
}

func (l *memUnitLog) ListByUser(_ context.Context, userID, cursor string, pageSize int) ([]models.Transaction, string, error) {
	if err := (*memUnit)(l).checkUser(userID); err != nil {
		return nil, "", err
	}
	records := append([]memRecord(nil), l.entry.txs...)
	seq := l.entry.seq
	for _, p := range l.pending {
		seq++
		records = append(records, memRecord{tx: p, seq: seq})
	}
	return pageRecords(records, cursor, pageSize)
}

func (l *memUnitLog) FindByReference(_ context.Context, userID string, txType models.TransactionType, reference string) (*models.Transaction, error) {
	if err := (*memUnit)(l).checkUser(userID); err != nil {
		return nil, err
	}
	if tx := findRecord(l.entry.txs, txType, reference); tx != nil {
		return tx, nil
	}
	for _, p := range l.pending {
		if p.Type == txType && p.Reference == reference {
			found := p
			return &found, nil
		}
	}
	return nil, nil
}

// memReader serves reads outside a unit of work.
type memReader struct {
	store *MemoryLedgerStore
}

func (r *memReader) Append(ctx context.Context, tx *models.Transaction) (string, error) {
	var id string
	err := r.store.RunInTx(ctx, tx.UserID, func(_ AccountStore, log TransactionLog) error {
		var err error
		id, err = log.Append(ctx, tx)
		return err
	})
	return id, err
}

func (r *memReader) ListByUser(_ context.Context, userID, cursor string, pageSize int) ([]models.Transaction, string, error) {
	e := r.store.lockEntry(userID, false)
	if e == nil {
		return []models.Transaction{}, "", nil
	}
	records := append([]memRecord(nil), e.txs...)
	e.mu.Unlock()
	return pageRecords(records, cursor, pageSize)
}

func (r *memReader) FindByReference(_ context.Context, userID string, txType models.TransactionType, reference string) (*models.Transaction, error) {
	e := r.store.lockEntry(userID, false)
	if e == nil {
		return nil, nil
	}
	defer e.mu.Unlock()
	return findRecord(e.txs, txType, reference), nil
}

func findRecord(records []memRecord, txType models.TransactionType, reference string) *models.Transaction {
	for _, r := range records {
		if r.tx.Type == txType && r.tx.Reference == reference {
			found := r.tx
			return &found
		}
	}
	return nil
}

func pageRecords(records []memRecord, cursor string, pageSize int) ([]models.Transaction, string, error) {
	if pageSize <= 0 {
		return nil, "", fmt.Errorf("page size must be greater than zero")
	}
	sort.Slice(records, func(i, j int) bool {
		if !records[i].tx.CreatedAt.Equal(records[j].tx.CreatedAt) {
			return records[i].tx.CreatedAt.After(records[j].tx.CreatedAt)
		}
		return records[i].seq > records[j].seq
	})

	start := 0
	if cursor != "" {
		_, id, err := decodeCursor(cursor)
		if err != nil {
			return nil, "", err
		}
		start = len(records)
		for i, r := range records {
			if r.tx.ID == id {
				start = i + 1
				break
			}
		}
	}

	end := start + pageSize
	if end > len(records) {
		end = len(records)
	}

	out := make([]models.Transaction, 0, end-start)
	for _, r := range records[start:end] {
		out = append(out, r.tx)
	}

	next := ""
	if end < len(records) && len(out) > 0 {
		last := out[len(out)-1]
		next = encodeCursor(last.CreatedAt, last.ID)
	}
	return out, next, nil
}
