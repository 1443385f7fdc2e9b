package payment

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/VictorKazakov/NeuroCanvas/app/models"
)

// Repository provides the DB operations used by the payment service. The
// settle/refund methods are single transactions: the order transition, the
// ledger mutation and the receipt row commit together or not at all.
type Repository interface {
	CreateOrder(order *models.PaymentOrder) error
	GetOrderByUUID(orderUUID string) (*models.PaymentOrder, error)
	TransitionOrder(orderID uint, fromState, toState string) (bool, error)
	SetOrderProviderRef(orderID uint, providerRef string) error

	CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error)
	MarkWebhookProcessed(id uint, processingError string) error

	SettlePaid(order *models.PaymentOrder, credits int) (bool, error)
	RefundPaid(order *models.PaymentOrder, credits int) (bool, error)

	GetTariff(id uint) (*models.TariffPackage, error)
	GetUser(id uint) (*models.User, error)

	DueReceipts(now time.Time, limit int) ([]models.Receipt, error)
	SaveReceipt(receipt *models.Receipt) error
	GetOrderByID(id uint) (*models.PaymentOrder, error)
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a payment repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) CreateOrder(order *models.PaymentOrder) error {
	return r.db.Create(order).Error
}

func (r *gormRepository) GetOrderByUUID(orderUUID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.Where("order_uuid = ?", orderUUID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *gormRepository) GetOrderByID(id uint) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.First(&order, id).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// TransitionOrder performs a compare-and-set state change. It returns false
// without error when the order was not in fromState, which lets callers
// distinguish lost races from storage failures.
func (r *gormRepository) TransitionOrder(orderID uint, fromState, toState string) (bool, error) {
	tx := r.db.Model(&models.PaymentOrder{}).
		Where("id = ? AND state = ?", orderID, fromState).
		Update("state", toState)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) SetOrderProviderRef(orderID uint, providerRef string) error {
	return r.db.Model(&models.PaymentOrder{}).
		Where("id = ?", orderID).
		Update("provider_ref", providerRef).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(event *models.PaymentWebhookEvent) (bool, *models.PaymentWebhookEvent, error) {
	tx := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.PaymentWebhookEvent
	if err := r.db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(id uint, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	return r.db.Model(&models.PaymentWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}

// SettlePaid atomically transitions a pending order to paid, appends the
// credit grant and enqueues the receipt. Returns false when the order lost
// the CAS, i.e. was no longer pending_provider.
func (r *gormRepository) SettlePaid(order *models.PaymentOrder, credits int) (bool, error) {
	settled := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentOrder{}).
			Where("id = ? AND state = ?", order.ID, models.OrderStatePendingProvider).
			Update("state", models.OrderStatePaid)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		orderID := order.ID
		grant := &models.LedgerEntry{
			UserID:         order.UserID,
			Delta:          credits,
			Reason:         models.LedgerReasonGrant,
			RelatedOrderID: &orderID,
		}
		if err := tx.Create(grant).Error; err != nil {
			return err
		}

		receipt := &models.Receipt{
			OrderID: order.ID,
			State:   models.ReceiptStatePending,
		}
		if err := tx.Create(receipt).Error; err != nil {
			return err
		}

		if err := tx.Model(&models.User{}).
			Where("id = ?", order.UserID).
			Update("total_spent_cents", gorm.Expr("total_spent_cents + ?", order.AmountCents)).Error; err != nil {
			return err
		}

		settled = true
		return nil
	})
	return settled, err
}

// RefundPaid atomically transitions paid -> refunded and appends the
// compensating ledger entry for the original grant.
func (r *gormRepository) RefundPaid(order *models.PaymentOrder, credits int) (bool, error) {
	refunded := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.PaymentOrder{}).
			Where("id = ? AND state = ?", order.ID, models.OrderStatePaid).
			Update("state", models.OrderStateRefunded)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}

		orderID := order.ID
		entry := &models.LedgerEntry{
			UserID:         order.UserID,
			Delta:          -credits,
			Reason:         models.LedgerReasonRefund,
			RelatedOrderID: &orderID,
		}
		if err := tx.Create(entry).Error; err != nil {
			return err
		}

		refunded = true
		return nil
	})
	return refunded, err
}

func (r *gormRepository) GetTariff(id uint) (*models.TariffPackage, error) {
	var pkg models.TariffPackage
	if err := r.db.First(&pkg, id).Error; err != nil {
		return nil, err
	}
	return &pkg, nil
}

func (r *gormRepository) GetUser(id uint) (*models.User, error) {
	var user models.User
	if err := r.db.First(&user, id).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) DueReceipts(now time.Time, limit int) ([]models.Receipt, error) {
	var receipts []models.Receipt
	err := r.db.
		Where("state = ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)", models.ReceiptStatePending, now).
		Order("id ASC").
		Limit(limit).
		Find(&receipts).Error
	return receipts, err
}

func (r *gormRepository) SaveReceipt(receipt *models.Receipt) error {
	return r.db.Save(receipt).Error
}
