package models

import "time"

// Priority classes derived from the purchased tariff. Higher class jobs are
// dispatched before lower ones; within a class dispatch is strict FIFO.
const (
	PriorityClassStandard = 0
	PriorityClassPlus     = 1
	PriorityClassPro      = 2
)

// TariffPackage is a purchasable bundle mapping money to a credit count and
// a scheduling priority class.
type TariffPackage struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	Name          string    `gorm:"type:varchar(100);not null" json:"name"`
	PriceCents    int64     `gorm:"not null" json:"price_cents"`
	Currency      string    `gorm:"type:varchar(3);not null;default:'RUB'" json:"currency"`
	Credits       int       `gorm:"not null" json:"credits"`
	PriorityClass int       `gorm:"not null;default:0" json:"priority_class"`
	MaxImageSize  string    `gorm:"type:varchar(20);default:'1024x1024'" json:"max_image_size"`
	IsActive      bool      `gorm:"default:true;index" json:"is_active"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
