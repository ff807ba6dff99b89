package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// SaleRepository is the PostgreSQL store behind checkout and the sale
// read endpoints.
type SaleRepository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewSaleRepository creates a SaleRepository. A positive lockTimeout is
// applied to every checkout transaction with SET LOCAL lock_timeout.
func NewSaleRepository(db *sqlx.DB, lockTimeout time.Duration) *SaleRepository {
	return &SaleRepository{db: db, lockTimeout: lockTimeout}
}

type salableRow struct {
	ID                 int             `db:"id"`
	ProductID          int             `db:"product_id"`
	Price              decimal.Decimal `db:"price"`
	CreatedAt          time.Time       `db:"created_at"`
	UpdatedAt          time.Time       `db:"updated_at"`
	ProductName        string          `db:"product_name"`
	ProductSKU         string          `db:"product_sku"`
	ProductDescription *string         `db:"product_description"`
	ProductStock       int             `db:"product_stock"`
	ProductIsActive    bool            `db:"product_is_active"`
}

func (r salableRow) toModel() models.SalableProduct {
	return models.SalableProduct{
		ID:        r.ID,
		ProductID: r.ProductID,
		Price:     r.Price,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		Product: &models.Product{
			ID:          r.ProductID,
			Name:        r.ProductName,
			SKU:         r.ProductSKU,
			Description: r.ProductDescription,
			Stock:       r.ProductStock,
			IsActive:    r.ProductIsActive,
		},
	}
}

// GetSalableProductsByIDs resolves salable products in one round trip,
// keyed by salable product id. Missing ids are simply absent from the map.
func (r *SaleRepository) GetSalableProductsByIDs(ctx context.Context, ids []int) (map[int]models.SalableProduct, error) {
	out := make(map[int]models.SalableProduct, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	const q = `
        SELECT sp.id, sp.product_id, sp.price, sp.created_at, sp.updated_at,
               p.name AS product_name, p.sku AS product_sku,
               p.description AS product_description, p.stock AS product_stock,
               p.is_active AS product_is_active
        FROM salable_products sp
        JOIN products p ON p.id = sp.product_id
        WHERE sp.id = ANY($1)`

	var rows []salableRow
	if err := r.db.SelectContext(ctx, &rows, q, pq.Array(toInt64s(ids))); err != nil {
		return nil, fmt.Errorf("lookup salable products: %w", err)
	}
	for _, row := range rows {
		out[row.ID] = row.toModel()
	}
	return out, nil
}

// BeginCheckout opens the checkout transaction.
func (r *SaleRepository) BeginCheckout(ctx context.Context) (CheckoutTx, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, mapTxError(fmt.Errorf("begin checkout: %w", err))
	}
	if r.lockTimeout > 0 {
		// SET does not accept bind parameters.
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return nil, mapTxError(fmt.Errorf("set lock timeout: %w", err))
		}
	}
	return &pgCheckoutTx{tx: tx}, nil
}

type pgCheckoutTx struct {
	tx *sqlx.Tx
}

func (t *pgCheckoutTx) CreateSale(ctx context.Context, sale *models.Sale) error {
	const q = `
        INSERT INTO sales (user_id, status, paid_at, code)
        VALUES ($1, $2, $3, $4)
        RETURNING id, created_at, updated_at`
	err := t.tx.QueryRowxContext(ctx, q, sale.UserID, sale.Status, sale.PaidAt, sale.Code).
		Scan(&sale.ID, &sale.CreatedAt, &sale.UpdatedAt)
	if err != nil {
		return mapTxError(fmt.Errorf("insert sale: %w", err))
	}
	return nil
}

func (t *pgCheckoutTx) LockProductForUpdate(ctx context.Context, productID int) (*models.Product, error) {
	const q = `
        SELECT id, name, sku, description, cost, stock, thumbnail, is_active, created_at, updated_at
        FROM products WHERE id = $1 FOR UPDATE`
	var p models.Product
	if err := t.tx.GetContext(ctx, &p, q, productID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: product %d", utils.ErrProductNotFound, productID)
		}
		return nil, mapTxError(fmt.Errorf("lock product %d: %w", productID, err))
	}
	return &p, nil
}

func (t *pgCheckoutTx) CreateSaleItem(ctx context.Context, item *models.SaleItem) error {
	const q = `
        INSERT INTO sale_items (sale_id, salable_product_id, quantity, taxes, unit_price)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id, created_at, updated_at`
	err := t.tx.QueryRowxContext(ctx, q, item.SaleID, item.SalableProductID, item.Quantity, item.Taxes, item.UnitPrice).
		Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return mapTxError(fmt.Errorf("insert sale item: %w", err))
	}
	return nil
}

// DecrementStock is conditional on the row still holding enough stock, so
// a caller that skipped the lock still cannot drive stock negative.
func (t *pgCheckoutTx) DecrementStock(ctx context.Context, productID, amount int) error {
	const q = `
        UPDATE products SET stock = stock - $2, updated_at = NOW()
        WHERE id = $1 AND stock >= $2`
	res, err := t.tx.ExecContext(ctx, q, productID, amount)
	if err != nil {
		return mapTxError(fmt.Errorf("decrement stock for product %d: %w", productID, err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: product %d", utils.ErrInsufficientStock, productID)
	}
	return nil
}

func (t *pgCheckoutTx) Commit() error {
	return mapTxError(t.tx.Commit())
}

func (t *pgCheckoutTx) Rollback() error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

const saleColumns = `
        s.id, s.user_id, s.status, s.paid_at, s.code, s.created_at, s.updated_at,
        u.name AS user_name, u.email AS user_email`

// ListSales returns sale headers, newest payment first.
func (r *SaleRepository) ListSales(ctx context.Context, filter SaleFilter) ([]models.Sale, error) {
	q := `SELECT ` + saleColumns + `
        FROM sales s
        LEFT JOIN users u ON u.id = s.user_id
        WHERE ($1::BIGINT IS NULL OR s.user_id = $1)
        ORDER BY s.paid_at DESC NULLS LAST, s.id DESC
        LIMIT $2`

	var userID sql.NullInt64
	if filter.UserID != nil {
		userID = sql.NullInt64{Int64: int64(*filter.UserID), Valid: true}
	}

	sales := []models.Sale{}
	if err := r.db.SelectContext(ctx, &sales, q, userID, filter.Limit); err != nil {
		return nil, fmt.Errorf("list sales: %w", err)
	}
	return sales, nil
}

// GetSale returns a single sale header.
func (r *SaleRepository) GetSale(ctx context.Context, id int) (*models.Sale, error) {
	q := `SELECT ` + saleColumns + `
        FROM sales s
        LEFT JOIN users u ON u.id = s.user_id
        WHERE s.id = $1`

	var s models.Sale
	if err := r.db.GetContext(ctx, &s, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: sale %d", utils.ErrSaleNotFound, id)
		}
		return nil, fmt.Errorf("get sale %d: %w", id, err)
	}
	return &s, nil
}

// GetSaleItems returns the items of the given sales ordered by sale then
// item id, each joined with its product snapshot.
func (r *SaleRepository) GetSaleItems(ctx context.Context, saleIDs []int) ([]models.SaleItem, error) {
	items := []models.SaleItem{}
	if len(saleIDs) == 0 {
		return items, nil
	}

	const q = `
        SELECT si.id, si.sale_id, si.salable_product_id, si.quantity, si.taxes, si.unit_price,
               si.created_at, si.updated_at,
               p.id AS product_id, p.name AS product_name, p.description AS product_description
        FROM sale_items si
        JOIN salable_products sp ON sp.id = si.salable_product_id
        JOIN products p ON p.id = sp.product_id
        WHERE si.sale_id = ANY($1)
        ORDER BY si.sale_id, si.id`

	if err := r.db.SelectContext(ctx, &items, q, pq.Array(toInt64s(saleIDs))); err != nil {
		return nil, fmt.Errorf("list sale items: %w", err)
	}
	return items, nil
}
