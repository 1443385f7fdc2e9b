package models

import "time"

// Ledger entry reasons. A user's spendable balance is the running sum of
// their entry deltas; entries are append-only and never mutated in place so
// balance recomputation stays auditable.
const (
	LedgerReasonGrant  = "grant"
	LedgerReasonDebit  = "debit"
	LedgerReasonRefund = "refund"
)

type LedgerEntry struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	UserID         uint      `gorm:"not null;index" json:"user_id"`
	Delta          int       `gorm:"not null" json:"delta"`
	Reason         string    `gorm:"type:varchar(10);not null;index" json:"reason"`
	RelatedOrderID *uint     `gorm:"index" json:"related_order_id,omitempty"`
	RelatedJobID   *uint     `gorm:"index" json:"related_job_id,omitempty"`
	CreatedAt      time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
