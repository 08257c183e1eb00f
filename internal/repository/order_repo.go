package repository

import (
	"context"

	"storefront/internal/models"

	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(ctx context.Context, o *models.Order) error {
	return translate(r.db.WithContext(ctx).Create(o).Error)
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	var o models.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&o).Error; err != nil {
		return nil, translate(err)
	}
	return &o, nil
}

// SetPaymentStatus keeps Order.PaymentStatus in lockstep with the payment row.
func (r *OrderRepository) SetPaymentStatus(ctx context.Context, id, status string) error {
	res := r.db.WithContext(ctx).Model(&models.Order{}).Where("id = ?", id).Update("payment_status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}

// AdvanceStatus moves the fulfillment status to `to` only while it is one of `from`.
// It reports whether the row changed; fulfillment is never regressed.
func (r *OrderRepository) AdvanceStatus(ctx context.Context, id, to string, from []string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Order{}).
		Where("id = ? AND status IN ?", id, from).
		Update("status", to)
	return res.RowsAffected > 0, res.Error
}
