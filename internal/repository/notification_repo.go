package repository

import (
	"storefront/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type NotificationRepository struct {
	db *gorm.DB
}

func NewNotificationRepository(db *gorm.DB) *NotificationRepository {
	return &NotificationRepository{db: db}
}

func (r *NotificationRepository) Create(n *models.Notification) error {
	return r.db.Create(n).Error
}

func (r *NotificationRepository) ListByUserID(userID string, limit, offset int) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.Where("user_id = ?", userID).Order("created_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	return list, err
}

func (r *NotificationRepository) ListByOrderID(orderID string) ([]models.Notification, error) {
	var list []models.Notification
	err := r.db.Where("order_id = ?", orderID).Order("id ASC").Find(&list).Error
	return list, err
}

type DeviceTokenRepository struct {
	db *gorm.DB
}

func NewDeviceTokenRepository(db *gorm.DB) *DeviceTokenRepository {
	return &DeviceTokenRepository{db: db}
}

// Upsert stores the latest FCM token for the user.
func (r *DeviceTokenRepository) Upsert(userID, token string) error {
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"token", "updated_at"}),
	}).Create(&models.DeviceToken{UserID: userID, Token: token}).Error
}

func (r *DeviceTokenRepository) GetToken(userID string) (string, error) {
	var t models.DeviceToken
	if err := r.db.Where("user_id = ?", userID).First(&t).Error; err != nil {
		return "", translate(err)
	}
	return t.Token, nil
}
