// Package repository provides data access interfaces and implementations
package repository

import (
	"context"

	"botmarket-backend/internal/models"

	"gorm.io/gorm"
)

// OrderRepository defines the interface for order ledger data access
type OrderRepository interface {
	Create(ctx context.Context, order *models.Order) error
	GetByID(ctx context.Context, id uint64) (*models.Order, error)
	Count(ctx context.Context) (int64, error)

	// TransitionFromCreated atomically settles the order state, applying the
	// extra column updates in the same statement. Returns false when the
	// order was no longer in the created state.
	TransitionFromCreated(ctx context.Context, id uint64, to models.OrderStatus, updates map[string]interface{}) (bool, error)
	UpdatePayoutStatus(ctx context.Context, id uint64, status models.PayoutStatus) error

	// Query methods
	List(ctx context.Context, page, pageSize int) ([]*models.Order, int64, error)
	FindByParticipant(ctx context.Context, address string, page, pageSize int) ([]*models.Order, int64, error)
	FindByPayoutStatus(ctx context.Context, status models.PayoutStatus) ([]*models.Order, error)
}

// orderRepository implements OrderRepository
type orderRepository struct {
	db *gorm.DB
}

// NewOrderRepository creates a new OrderRepository instance
func NewOrderRepository(db *gorm.DB) OrderRepository {
	return &orderRepository{db: db}
}

// Create inserts a new order; the DB assigns the next sequential id
func (r *orderRepository) Create(ctx context.Context, order *models.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

// GetByID retrieves an order by id
func (r *orderRepository) GetByID(ctx context.Context, id uint64) (*models.Order, error) {
	var order models.Order
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// Count returns the number of orders ever created
func (r *orderRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Order{}).Count(&count).Error
	return count, err
}

// TransitionFromCreated performs the guarded terminal transition. The WHERE
// clause on the current state is the reentrancy/double-settlement gate: a
// second attempt matches zero rows and reports false.
func (r *orderRepository) TransitionFromCreated(ctx context.Context, id uint64, to models.OrderStatus, updates map[string]interface{}) (bool, error) {
	values := map[string]interface{}{"status": to}
	for column, value := range updates {
		values[column] = value
	}
	result := r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ? AND status = ?", id, models.OrderStatusCreated).
		Updates(values)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpdatePayoutStatus records the outcome of the fund release
func (r *orderRepository) UpdatePayoutStatus(ctx context.Context, id uint64, status models.PayoutStatus) error {
	return r.db.WithContext(ctx).
		Model(&models.Order{}).
		Where("id = ?", id).
		Update("payout_status", status).Error
}

// List retrieves paginated orders, newest first
func (r *orderRepository) List(ctx context.Context, page, pageSize int) ([]*models.Order, int64, error) {
	var orders []*models.Order
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.Order{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := r.db.WithContext(ctx).
		Offset(offset).
		Limit(pageSize).
		Order("id DESC").
		Find(&orders).Error

	return orders, total, err
}

// FindByParticipant retrieves orders where the address is buyer or seller
func (r *orderRepository) FindByParticipant(ctx context.Context, address string, page, pageSize int) ([]*models.Order, int64, error) {
	var orders []*models.Order
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("buyer = ? OR seller = ?", address, address)

	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.
		Offset(offset).
		Limit(pageSize).
		Order("id DESC").
		Find(&orders).Error

	return orders, total, err
}

// FindByPayoutStatus retrieves orders by payout status, used by operators to
// find stuck payouts
func (r *orderRepository) FindByPayoutStatus(ctx context.Context, status models.PayoutStatus) ([]*models.Order, error) {
	var orders []*models.Order
	err := r.db.WithContext(ctx).
		Where("payout_status = ?", status).
		Order("id ASC").
		Find(&orders).Error
	return orders, err
}
