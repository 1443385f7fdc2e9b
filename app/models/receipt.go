package models

import "time"

// Receipt emission states. Emission is decoupled from payment settlement:
// a receipt that exhausts its retries goes to failed and is surfaced as a
// standing alert, it never rolls back the paid order or the granted credits.
const (
	ReceiptStatePending = "pending"
	ReceiptStateSent    = "sent"
	ReceiptStateFailed  = "failed"
)

type Receipt struct {
	ID               uint       `gorm:"primaryKey" json:"id"`
	OrderID          uint       `gorm:"not null;uniqueIndex" json:"order_id"`
	FiscalPayloadRef string     `gorm:"type:varchar(191)" json:"fiscal_payload_ref"`
	State            string     `gorm:"type:varchar(10);not null;default:'pending';index" json:"state"`
	RetryCount       int        `gorm:"not null;default:0" json:"retry_count"`
	NextAttemptAt    *time.Time `gorm:"type:timestamp;default:null;index" json:"next_attempt_at,omitempty"`
	LastError        string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
