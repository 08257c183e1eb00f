package models

import (
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Order is created by checkout. Payment-related fields are only written by the reconciliation engine.
type Order struct {
	ID            string          `gorm:"primaryKey;size:36" json:"id"`
	OrderNumber   string          `gorm:"size:32;uniqueIndex;not null" json:"order_number"`
	UserID        string          `gorm:"size:64;not null;index" json:"user_id"`
	Email         string          `gorm:"size:255" json:"email"`
	Phone         string          `gorm:"size:20" json:"phone"`
	Total         decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"total"`
	Currency      string          `gorm:"size:3;not null;default:'KES'" json:"currency"`
	Status        string          `gorm:"size:20;not null;index" json:"status"`
	PaymentStatus string          `gorm:"size:20;not null;index" json:"payment_status"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

func (o *Order) BeforeCreate(tx *gorm.DB) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	if o.Status == "" {
		o.Status = domain.OrderStatusPending
	}
	if o.PaymentStatus == "" {
		o.PaymentStatus = domain.PaymentStatusPending
	}
	if o.Currency == "" {
		o.Currency = "KES"
	}
	return nil
}
