package audit

import (
	"time"

	"go.uber.org/zap"
)

type Event struct {
	Timestamp     time.Time `json:"timestamp"`
	EventType     string    `json:"event_type"`
	TransactionID string    `json:"transaction_id"`
	UserID        string    `json:"user_id"`
	Amount        int64     `json:"amount"`
	BalanceAfter  int64     `json:"balance_after"`
	Reference     string    `json:"reference,omitempty"`
	Status        string    `json:"status"`
}

// Logger writes one AUDIT line per ledger mutation.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	if log == nil {
		log = zap.NewNop()
	}
	return &Logger{log: log.Named("audit")}
}

func (a *Logger) LogCredit(transactionID, userID, txType, reference string, amount, balanceAfter int64) {
	a.write(Event{
		Timestamp:     time.Now(),
		EventType:     "CREDIT_" + txType,
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Reference:     reference,
		Status:        "SUCCESS",
	})
}

func (a *Logger) LogDebit(transactionID, userID, txType, reference string, amount, balanceAfter int64) {
	a.write(Event{
		Timestamp:     time.Now(),
		EventType:     "DEBIT_" + txType,
		TransactionID: transactionID,
		UserID:        userID,
		Amount:        amount,
		BalanceAfter:  balanceAfter,
		Reference:     reference,
		Status:        "SUCCESS",
	})
}

// LogReplay records an idempotent replay that did not change the balance.
func (a *Logger) LogReplay(userID, txType, reference string, balance int64) {
	a.write(Event{
		Timestamp:    time.Now(),
		EventType:    "REPLAY_" + txType,
		UserID:       userID,
		BalanceAfter: balance,
		Reference:    reference,
		Status:       "DUPLICATE",
	})
}

func (a *Logger) LogError(userID, operation string, err error) {
	a.log.Warn("AUDIT",
		zap.String("event_type", "ERROR_"+operation),
		zap.String("user_id", userID),
		zap.String("status", "FAILED"),
		zap.Error(err))
}

func (a *Logger) write(e Event) {
	a.log.Info("AUDIT",
		zap.Time("timestamp", e.Timestamp),
		zap.String("event_type", e.EventType),
		zap.String("transaction_id", e.TransactionID),
		zap.String("user_id", e.UserID),
		zap.Int64("amount", e.Amount),
		zap.Int64("balance_after", e.BalanceAfter),
		zap.String("reference", e.Reference),
		zap.String("status", e.Status))
}
