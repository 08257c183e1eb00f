package repository

import (
	"storefront/internal/models"

	"gorm.io/gorm"
)

type PaymentEventRepository struct {
	db *gorm.DB
}

func NewPaymentEventRepository(db *gorm.DB) *PaymentEventRepository {
	return &PaymentEventRepository{db: db}
}

func (r *PaymentEventRepository) Create(e *models.PaymentEvent) error {
	return r.db.Create(e).Error
}

func (r *PaymentEventRepository) ListByCorrelation(method, key string) ([]models.PaymentEvent, error) {
	var list []models.PaymentEvent
	err := r.db.Where("method = ? AND correlation_key = ?", method, key).Order("id ASC").Find(&list).Error
	return list, err
}
