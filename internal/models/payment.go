package models

import (
	"time"

	"storefront/internal/domain"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Payment is the single payment attempt attached to an order. Gateway correlation
// ids are nullable so the unique indexes allow any number of unset rows.
// No soft delete: a destroyed cash payment must release the order_id slot.
type Payment struct {
	ID                    string          `gorm:"primaryKey;size:36" json:"id"`
	OrderID               string          `gorm:"size:36;uniqueIndex;not null" json:"order_id"`
	Method                string          `gorm:"size:20;not null" json:"method"`
	Status                string          `gorm:"size:20;not null;index" json:"status"`
	Amount                decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency              string          `gorm:"size:3;not null" json:"currency"`
	PhoneNumber           string          `gorm:"size:20" json:"phone_number,omitempty"`
	PushCheckoutID        *string         `gorm:"size:128;uniqueIndex" json:"push_checkout_id,omitempty"`
	RedirectReference     *string         `gorm:"size:128;uniqueIndex" json:"redirect_reference,omitempty"`
	ManualReferenceNumber *string         `gorm:"size:128;uniqueIndex" json:"manual_reference_number,omitempty"`
	SenderName            string          `gorm:"size:128" json:"sender_name,omitempty"`
	ProofURL              string          `gorm:"size:512" json:"proof_url,omitempty"`
	ReceiptNumber         string          `gorm:"size:128" json:"receipt_number,omitempty"`
	PaidAt                *time.Time      `json:"paid_at"`
	ErrorMessage          string          `gorm:"size:512" json:"error_message,omitempty"`
	ProviderResponse      datatypes.JSON  `json:"-"`
	CreatedAt             time.Time       `json:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}

func (p *Payment) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// CorrelationColumn returns the unique column a gateway's async events are matched on.
func CorrelationColumn(method string) string {
	switch method {
	case domain.MethodMpesa:
		return "push_checkout_id"
	case domain.MethodPaystack:
		return "redirect_reference"
	case domain.MethodManual:
		return "manual_reference_number"
	}
	return ""
}

// CorrelationKey returns the identifier the payment's gateway echoes back, or "".
func (p *Payment) CorrelationKey() string {
	var v *string
	switch p.Method {
	case domain.MethodMpesa:
		v = p.PushCheckoutID
	case domain.MethodPaystack:
		v = p.RedirectReference
	case domain.MethodManual:
		v = p.ManualReferenceNumber
	}
	if v == nil {
		return ""
	}
	return *v
}

// SetCorrelationKey stores key in the correlation column of the payment's method.
func (p *Payment) SetCorrelationKey(key string) {
	if key == "" {
		return
	}
	switch p.Method {
	case domain.MethodMpesa:
		p.PushCheckoutID = &key
	case domain.MethodPaystack:
		p.RedirectReference = &key
	case domain.MethodManual:
		p.ManualReferenceNumber = &key
	}
}
