package models

import "time"

// Payment order states. An order is owned exclusively by the payment
// orchestrator and becomes immutable once it reaches a terminal state.
const (
	OrderStateCreated         = "created"
	OrderStatePendingProvider = "pending_provider"
	OrderStatePaid            = "paid"
	OrderStateFailed          = "failed"
	OrderStateCancelled       = "cancelled"
	OrderStateRefunded        = "refunded"
)

// PaymentOrder is one payment transaction lifecycle record tied to a tariff
// package purchase. Orders are archived after settlement, never deleted.
type PaymentOrder struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	OrderUUID       string    `gorm:"type:varchar(36);not null;uniqueIndex" json:"order_uuid"`
	UserID          uint      `gorm:"not null;index" json:"user_id"`
	TariffPackageID uint      `gorm:"not null" json:"tariff_package_id"`
	Provider        string    `gorm:"type:varchar(30);not null;index" json:"provider"`
	ProviderRef     string    `gorm:"type:varchar(191);index" json:"provider_ref"`
	AmountCents     int64     `gorm:"not null" json:"amount_cents"`
	Currency        string    `gorm:"type:varchar(3);not null" json:"currency"`
	State           string    `gorm:"type:varchar(20);not null;default:'created';index" json:"state"`
	CreatedAt       time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the order state admits no further transitions
// apart from the explicit paid -> refunded operator path.
func (o *PaymentOrder) IsTerminal() bool {
	switch o.State {
	case OrderStatePaid, OrderStateFailed, OrderStateCancelled, OrderStateRefunded:
		return true
	default:
		return false
	}
}

// IsCancellable reports whether Cancel is still permitted.
func (o *PaymentOrder) IsCancellable() bool {
	return o.State == OrderStateCreated || o.State == OrderStatePendingProvider
}
