package models

import "time"

// User is the slice of the identity subsystem's user document the ledger reads.
// Older accounts still carry their credit history embedded in it.
type User struct {
	ID            string              `json:"id" bson:"_id"`
	Email         string              `json:"email" bson:"email"`
	Credits       int64               `json:"credits" bson:"credits"` // legacy balance field, informational only
	CreditHistory LegacyCreditHistory `json:"credit_history,omitempty" bson:"credit_history,omitempty"`
	CreatedAt     time.Time           `json:"created_at" bson:"created_at"`
}
