package repository

import (
	"context"
	"errors"

	"storefront/internal/domain"

	"gorm.io/gorm"
)

// ErrDuplicate is returned when an insert hits a unique constraint. The gorm
// connection must be opened with TranslateError for drivers to report it.
var ErrDuplicate = errors.New("duplicate key")

// Store groups the repositories whose rows change together.
type Store struct {
	db       *gorm.DB
	Orders   *OrderRepository
	Payments *PaymentRepository
}

func NewStore(db *gorm.DB) *Store {
	return &Store{
		db:       db,
		Orders:   NewOrderRepository(db),
		Payments: NewPaymentRepository(db),
	}
}

// Transaction runs fn against a Store bound to a single database transaction.
// Any error returned by fn rolls back every write made through tx.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(gtx *gorm.DB) error {
		return fn(NewStore(gtx))
	})
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.ErrNotFound
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return ErrDuplicate
	}
	return err
}
