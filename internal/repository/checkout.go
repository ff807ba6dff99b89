package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// CheckoutTx is the write scope of a single checkout. Every call runs in
// the same all-or-nothing transaction; nothing is visible to other
// checkouts until Commit. Rollback after Commit is a no-op.
type CheckoutTx interface {
	CreateSale(ctx context.Context, sale *models.Sale) error
	// LockProductForUpdate takes an exclusive lock on the product row, held
	// until the transaction ends, and returns the stock as seen under it.
	LockProductForUpdate(ctx context.Context, productID int) (*models.Product, error)
	CreateSaleItem(ctx context.Context, item *models.SaleItem) error
	DecrementStock(ctx context.Context, productID, amount int) error
	Commit() error
	Rollback() error
}

// SaleFilter narrows ListSales.
type SaleFilter struct {
	UserID *int
	Limit  int
}

// PostgreSQL error codes the checkout path cares about.
const (
	pqLockNotAvailable  = "55P03"
	pqQueryCanceled     = "57014"
	pqDeadlockDetected  = "40P01"
	pqUniqueViolation   = "23505"
	pqFKViolation       = "23503"
	pqCheckViolation    = "23514"
	pqNumericOutOfRange = "22003"

	// stockCheckConstraint is the name Postgres gives CHECK (stock >= 0)
	// on products.
	stockCheckConstraint = "products_stock_check"
)

// mapTxError converts driver and context errors raised inside a checkout
// transaction into the application taxonomy.
func mapTxError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", utils.ErrTransactionTimeout, err)
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqLockNotAvailable, pqQueryCanceled, pqDeadlockDetected:
			return fmt.Errorf("%w: %s", utils.ErrTransactionTimeout, pqErr.Message)
		case pqCheckViolation:
			if pqErr.Constraint == stockCheckConstraint {
				return fmt.Errorf("%w: %s", utils.ErrInsufficientStock, pqErr.Message)
			}
			return fmt.Errorf("%w: %s", utils.ErrValidation, pqErr.Message)
		case pqNumericOutOfRange:
			return fmt.Errorf("%w: %s", utils.ErrValidation, pqErr.Message)
		}
	}
	return err
}

// mapWriteError converts constraint violations raised by catalog writes.
// Foreign key violations become fkErr: on insert they mean a dangling
// reference, on delete a row that is still referenced.
func mapWriteError(err, fkErr error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqUniqueViolation:
			return fmt.Errorf("%w: %s", utils.ErrDuplicate, pqErr.Detail)
		case pqFKViolation:
			return fmt.Errorf("%w: %s", fkErr, pqErr.Detail)
		case pqCheckViolation, pqNumericOutOfRange:
			return fmt.Errorf("%w: %s", utils.ErrValidation, pqErr.Message)
		}
	}
	return err
}

func notFound(err, target error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return target
	}
	return err
}

func toInt64s(ids []int) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = int64(id)
	}
	return out
}
