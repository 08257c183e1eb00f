package database

import (
	"storefront/config"
	"storefront/internal/models"

	gomysql "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func NewDB(cfg *config.DatabaseConfig) (*gorm.DB, error) {
	dsn, err := gomysql.ParseDSN(cfg.DSN)
	if err != nil {
		return nil, err
	}
	// Conditional updates compare RowsAffected; count matched rows, not changed rows.
	dsn.ClientFoundRows = true
	dsn.ParseTime = true
	db, err := gorm.Open(mysql.New(mysql.Config{DSN: dsn.FormatDSN(), DSNConfig: dsn}), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Error), // Only log errors, not every SQL query
		TranslateError: true,                                 // unique violations surface as gorm.ErrDuplicatedKey
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

// AutoMigrate runs Gorm auto-migration for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Order{},
		&models.Payment{},
		&models.PaymentEvent{},
		&models.Notification{},
		&models.DeviceToken{},
		&models.AuditLog{},
	)
}
