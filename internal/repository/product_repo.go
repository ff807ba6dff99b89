package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// ProductWrite is a product insert or update together with its optional
// relations. Relations are only touched when their Set flag is true; a nil
// Price with SetPrice removes the product from sale. Updates leave stock
// alone unless SetStock is true so they never overwrite a concurrent
// checkout's decrement.
type ProductWrite struct {
	Product       *models.Product
	SetStock      bool
	SetPrice      bool
	Price         *decimal.Decimal
	SetCategories bool
	CategoryIDs   []int
}

// ProductRepository handles data access for products and their salable rows.
type ProductRepository struct {
	db *sqlx.DB
}

// NewProductRepository creates a new ProductRepository.
func NewProductRepository(db *sqlx.DB) *ProductRepository {
	return &ProductRepository{db: db}
}

const productColumns = `id, name, sku, description, cost, stock, thumbnail, is_active, created_at, updated_at`

// ListProducts returns every product ordered by name with categories and
// salable price loaded.
func (r *ProductRepository) ListProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	q := `SELECT ` + productColumns + ` FROM products ORDER BY name, id`
	if err := r.db.SelectContext(ctx, &products, q); err != nil {
		return nil, err
	}
	if err := r.loadRelations(ctx, products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct returns a single product by id.
func (r *ProductRepository) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	var p models.Product
	q := `SELECT ` + productColumns + ` FROM products WHERE id = $1`
	if err := r.db.GetContext(ctx, &p, q, id); err != nil {
		return nil, notFound(err, fmt.Errorf("%w: product %d", utils.ErrProductNotFound, id))
	}
	list := []models.Product{p}
	if err := r.loadRelations(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// ListSalable returns the salable rows of active products ordered by id,
// each with its product and categories.
func (r *ProductRepository) ListSalable(ctx context.Context) ([]models.SalableProduct, error) {
	var rows []models.SalableProduct
	const q = `
        SELECT sp.id, sp.product_id, sp.price, sp.created_at, sp.updated_at
        FROM salable_products sp
        JOIN products p ON p.id = sp.product_id
        WHERE p.is_active = true
        ORDER BY sp.id`
	if err := r.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return []models.SalableProduct{}, nil
	}

	ids := make([]int, len(rows))
	for i, sp := range rows {
		ids[i] = sp.ProductID
	}
	products := []models.Product{}
	q2 := `SELECT ` + productColumns + ` FROM products WHERE id = ANY($1)`
	if err := r.db.SelectContext(ctx, &products, q2, pq.Array(toInt64s(ids))); err != nil {
		return nil, err
	}
	cats, err := r.categoriesFor(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[int]*models.Product, len(products))
	for i := range products {
		products[i].Categories = cats[products[i].ID]
		byID[products[i].ID] = &products[i]
	}
	for i := range rows {
		rows[i].Product = byID[rows[i].ProductID]
	}
	return rows, nil
}

// CreateProduct inserts the product and its relations in one transaction.
func (r *ProductRepository) CreateProduct(ctx context.Context, w ProductWrite) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	p := w.Product
	query := `INSERT INTO products (name, sku, description, cost, stock, thumbnail, is_active)
              VALUES ($1, $2, $3, $4, $5, $6, $7)
              RETURNING id, created_at, updated_at`
	err = tx.QueryRowxContext(ctx, query, p.Name, p.SKU, p.Description, p.Cost, p.Stock, p.Thumbnail, p.IsActive).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return mapWriteError(err, utils.ErrValidation)
	}
	if err := writeRelations(ctx, tx, w); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateProduct updates the product columns and, when flagged, its price
// and category links.
func (r *ProductRepository) UpdateProduct(ctx context.Context, w ProductWrite) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	p := w.Product
	query := `UPDATE products
              SET name = $1, sku = $2, description = $3, cost = $4,
                  stock = CASE WHEN $9 THEN $5 ELSE stock END,
                  thumbnail = $6, is_active = $7, updated_at = NOW()
              WHERE id = $8
              RETURNING stock, updated_at`
	err = tx.QueryRowxContext(ctx, query, p.Name, p.SKU, p.Description, p.Cost, p.Stock, p.Thumbnail, p.IsActive, p.ID, w.SetStock).
		Scan(&p.Stock, &p.UpdatedAt)
	if err != nil {
		err = notFound(err, fmt.Errorf("%w: product %d", utils.ErrProductNotFound, p.ID))
		return mapWriteError(err, utils.ErrValidation)
	}
	if err := writeRelations(ctx, tx, w); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteProduct deletes a product by ID. Products whose salable row is
// referenced by a sale cannot be deleted.
func (r *ProductRepository) DeleteProduct(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id)
	if err != nil {
		return mapWriteError(err, utils.ErrInUse)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: product %d", utils.ErrProductNotFound, id)
	}
	return nil
}

func writeRelations(ctx context.Context, tx *sqlx.Tx, w ProductWrite) error {
	productID := w.Product.ID
	if w.SetPrice {
		if w.Price == nil {
			if _, err := tx.ExecContext(ctx, `DELETE FROM salable_products WHERE product_id = $1`, productID); err != nil {
				return mapWriteError(err, utils.ErrInUse)
			}
			w.Product.Salable = nil
		} else {
			var sp models.SalableProduct
			const q = `
                INSERT INTO salable_products (product_id, price)
                VALUES ($1, $2)
                ON CONFLICT (product_id) DO UPDATE SET
                    price = EXCLUDED.price,
                    updated_at = NOW()
                RETURNING id, product_id, price, created_at, updated_at`
			if err := tx.GetContext(ctx, &sp, q, productID, *w.Price); err != nil {
				return mapWriteError(err, utils.ErrValidation)
			}
			w.Product.Salable = &sp
		}
	}

	if w.SetCategories {
		if _, err := tx.ExecContext(ctx, `DELETE FROM category_product WHERE product_id = $1`, productID); err != nil {
			return err
		}
		if len(w.CategoryIDs) > 0 {
			const q = `
                INSERT INTO category_product (category_id, product_id)
                SELECT DISTINCT UNNEST($1::BIGINT[]), $2
                ON CONFLICT DO NOTHING`
			if _, err := tx.ExecContext(ctx, q, pq.Array(toInt64s(w.CategoryIDs)), productID); err != nil {
				return mapWriteError(err, utils.ErrCategoryNotFound)
			}
		}
	}
	return nil
}

func (r *ProductRepository) loadRelations(ctx context.Context, products []models.Product) error {
	if len(products) == 0 {
		return nil
	}
	ids := make([]int, len(products))
	for i, p := range products {
		ids[i] = p.ID
	}

	cats, err := r.categoriesFor(ctx, ids)
	if err != nil {
		return err
	}

	var salable []models.SalableProduct
	const q = `
        SELECT id, product_id, price, created_at, updated_at
        FROM salable_products WHERE product_id = ANY($1)`
	if err := r.db.SelectContext(ctx, &salable, q, pq.Array(toInt64s(ids))); err != nil {
		return err
	}
	byProduct := make(map[int]models.SalableProduct, len(salable))
	for _, sp := range salable {
		byProduct[sp.ProductID] = sp
	}

	for i := range products {
		products[i].Categories = cats[products[i].ID]
		if sp, ok := byProduct[products[i].ID]; ok {
			sp := sp
			products[i].Salable = &sp
		}
	}
	return nil
}

type productCategoryRow struct {
	ProductID int `db:"product_id"`
	models.Category
}

func (r *ProductRepository) categoriesFor(ctx context.Context, productIDs []int) (map[int][]models.Category, error) {
	var rows []productCategoryRow
	const q = `
        SELECT cp.product_id, c.id, c.name, c.slug, c.description, c.created_at, c.updated_at
        FROM category_product cp
        JOIN categories c ON c.id = cp.category_id
        WHERE cp.product_id = ANY($1)
        ORDER BY c.name`
	if err := r.db.SelectContext(ctx, &rows, q, pq.Array(toInt64s(productIDs))); err != nil {
		return nil, err
	}
	out := make(map[int][]models.Category)
	for _, row := range rows {
		out[row.ProductID] = append(out[row.ProductID], row.Category)
	}
	return out, nil
}
