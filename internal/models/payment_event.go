package models

import (
	"time"

	"gorm.io/datatypes"
)

// PaymentEvent journals every authenticated inbound gateway event and what the engine did with it.
type PaymentEvent struct {
	ID             uint           `gorm:"primaryKey" json:"id"`
	Method         string         `gorm:"size:20;not null;index" json:"method"`
	CorrelationKey string         `gorm:"size:128;index" json:"correlation_key"`
	PaymentID      *string        `gorm:"size:36;index" json:"payment_id"`
	Result         string         `gorm:"size:10" json:"result"`
	Disposition    string         `gorm:"size:20;not null;index" json:"disposition"`
	Detail         string         `gorm:"size:512" json:"detail"`
	Payload        datatypes.JSON `json:"payload"`
	CreatedAt      time.Time      `json:"created_at"`
}

func (PaymentEvent) TableName() string {
	return "payment_events"
}
