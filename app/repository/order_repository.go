package repository

import (
	"github.com/VictorKazakov/NeuroCanvas/app/models"
	"gorm.io/gorm"
)

// orderRepository implements the OrderRepository interface
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new order repository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

func (r *orderRepository) GetByUUID(orderUUID string) (*models.PaymentOrder, error) {
	var order models.PaymentOrder
	if err := r.db.Where("order_uuid = ?", orderUUID).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *orderRepository) ListByUserID(userID uint, offset, limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.Where("user_id = ?", userID).
		Order("id DESC").Offset(offset).Limit(limit).
		Find(&orders).Error
	return orders, err
}

func (r *orderRepository) ListRecent(limit int) ([]models.PaymentOrder, error) {
	var orders []models.PaymentOrder
	err := r.db.Order("id DESC").Limit(limit).Find(&orders).Error
	return orders, err
}

func (r *orderRepository) CountByState(state string) (int64, error) {
	var count int64
	err := r.db.Model(&models.PaymentOrder{}).Where("state = ?", state).Count(&count).Error
	return count, err
}
