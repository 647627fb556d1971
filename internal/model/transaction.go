package model

import "time"

// Transaction kinds.
const (
	TransactionDebit  = "debit"
	TransactionCredit = "credit"
)

// LedgerTransaction is one append-only audit row for a balance mutation.
// Rows are only ever inserted, never updated or deleted by the application.
type LedgerTransaction struct {
	ID            int64   `gorm:"autoIncrement;primaryKey"`
	UserID        int64   `gorm:"not null;index"`
	DeviceID      int64   `gorm:"not null;index"`
	Kind          string  `gorm:"size:16;not null"`
	Amount        float64 `gorm:"type:numeric(10,2);not null"`
	BalanceBefore float64 `gorm:"type:numeric(10,2);not null"`
	BalanceAfter  float64 `gorm:"type:numeric(10,2);not null"`
	Description   string  `gorm:"size:512;not null"`
	CreatedAt     time.Time
}
