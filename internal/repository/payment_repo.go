package repository

import (
	"context"
	"fmt"

	"storefront/internal/models"

	"gorm.io/gorm"
)

type PaymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, p *models.Payment) error {
	return translate(r.db.WithContext(ctx).Create(p).Error)
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PaymentRepository) GetByOrderID(ctx context.Context, orderID string) (*models.Payment, error) {
	var p models.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

// GetByCorrelation looks a payment up by the gateway identifier of the given method.
func (r *PaymentRepository) GetByCorrelation(ctx context.Context, method, key string) (*models.Payment, error) {
	col := models.CorrelationColumn(method)
	if col == "" {
		return nil, fmt.Errorf("no correlation column for method %q", method)
	}
	var p models.Payment
	if err := r.db.WithContext(ctx).Where(col+" = ?", key).First(&p).Error; err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (r *PaymentRepository) ListByMethodAndStatus(ctx context.Context, method, status string, limit, offset int) ([]models.Payment, int64, error) {
	q := r.db.WithContext(ctx).Model(&models.Payment{}).Where("method = ?", method)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var list []models.Payment
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, total, err
}

// UpdateFields writes the given columns unconditionally.
func (r *PaymentRepository) UpdateFields(ctx context.Context, id string, fields map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return translate(gorm.ErrRecordNotFound)
	}
	return nil
}

// TransitionStatus is the conditional update every status change goes through:
// the row is written only while its status is one of from. The returned bool is
// false when another writer got there first, which makes the store the
// serialization point for concurrent deliveries of the same event.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, id string, from []string, fields map[string]interface{}) (bool, error) {
	res := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(fields)
	if res.Error != nil {
		return false, translate(res.Error)
	}
	return res.RowsAffected == 1, nil
}

// Delete hard-deletes the payment; used when an order switches payment method.
func (r *PaymentRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Payment{}).Error
}
