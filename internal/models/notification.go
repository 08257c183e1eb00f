package models

import (
	"time"
)

type Notification struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    string     `gorm:"size:64;index" json:"user_id"` // empty for admin-facing notices
	Audience  string     `gorm:"size:10;not null;index" json:"audience"`
	Kind      string     `gorm:"size:50;not null;index" json:"kind"`
	OrderID   string     `gorm:"size:36;index" json:"order_id"`
	Title     string     `gorm:"size:255" json:"title"`
	Body      string     `gorm:"type:text" json:"body"`
	Data      string     `gorm:"type:text" json:"data"` // JSON payload
	ReadAt    *time.Time `json:"read_at"`
	CreatedAt time.Time  `json:"created_at"`
}

func (Notification) TableName() string {
	return "notifications"
}

// DeviceToken is the FCM registration token of a buyer's device.
type DeviceToken struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    string    `gorm:"size:64;uniqueIndex;not null" json:"user_id"`
	Token     string    `gorm:"size:512;not null" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (DeviceToken) TableName() string {
	return "device_tokens"
}
