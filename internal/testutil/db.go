// Package testutil holds helpers shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"testing"

	"storefront/internal/database"
	"storefront/internal/domain"
	"storefront/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var orderSeq atomic.Int64

// NewDB opens a migrated SQLite database in the test's temp dir. A single
// connection keeps concurrent test goroutines from tripping SQLite's writer lock.
func NewDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "storefront.db")
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	require.NoError(t, database.AutoMigrate(db))
	return db
}

// CreateOrder inserts a PENDING order owned by userID with the given total.
func CreateOrder(t *testing.T, db *gorm.DB, userID string, total int64) *models.Order {
	t.Helper()
	n := orderSeq.Add(1)
	o := &models.Order{
		OrderNumber:   fmt.Sprintf("ORD-%06d", n),
		UserID:        userID,
		Email:         userID + "@example.com",
		Total:         decimal.NewFromInt(total),
		Currency:      "KES",
		Status:        domain.OrderStatusPending,
		PaymentStatus: domain.PaymentStatusPending,
	}
	require.NoError(t, db.WithContext(context.Background()).Create(o).Error)
	return o
}

// CreatePayment inserts p attached to order, filling amount and currency from the order.
func CreatePayment(t *testing.T, db *gorm.DB, order *models.Order, p *models.Payment) *models.Payment {
	t.Helper()
	p.OrderID = order.ID
	if p.Amount.IsZero() {
		p.Amount = order.Total
	}
	if p.Currency == "" {
		p.Currency = order.Currency
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func StrPtr(s string) *string { return &s }
