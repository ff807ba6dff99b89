package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// CategoryRepository handles data access for categories.
type CategoryRepository struct {
	db *sqlx.DB
}

// NewCategoryRepository creates a new CategoryRepository.
func NewCategoryRepository(db *sqlx.DB) *CategoryRepository {
	return &CategoryRepository{db: db}
}

const categoryColumns = `id, name, slug, description, created_at, updated_at`

func (r *CategoryRepository) ListCategories(ctx context.Context) ([]models.Category, error) {
	categories := []models.Category{}
	q := `SELECT ` + categoryColumns + ` FROM categories ORDER BY name, id`
	if err := r.db.SelectContext(ctx, &categories, q); err != nil {
		return nil, err
	}
	return categories, nil
}

func (r *CategoryRepository) GetCategory(ctx context.Context, id int) (*models.Category, error) {
	var c models.Category
	q := `SELECT ` + categoryColumns + ` FROM categories WHERE id = $1`
	if err := r.db.GetContext(ctx, &c, q, id); err != nil {
		return nil, notFound(err, fmt.Errorf("%w: category %d", utils.ErrCategoryNotFound, id))
	}
	return &c, nil
}

func (r *CategoryRepository) CreateCategory(ctx context.Context, c *models.Category) error {
	query := `INSERT INTO categories (name, slug, description)
              VALUES ($1, $2, $3)
              RETURNING id, created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query, c.Name, c.Slug, c.Description).
		Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return mapWriteError(err, utils.ErrValidation)
}

func (r *CategoryRepository) UpdateCategory(ctx context.Context, c *models.Category) error {
	query := `UPDATE categories
              SET name = $1, slug = $2, description = $3, updated_at = NOW()
              WHERE id = $4
              RETURNING created_at, updated_at`
	err := r.db.QueryRowxContext(ctx, query, c.Name, c.Slug, c.Description, c.ID).
		Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		err = notFound(err, fmt.Errorf("%w: category %d", utils.ErrCategoryNotFound, c.ID))
		return mapWriteError(err, utils.ErrValidation)
	}
	return nil
}

// DeleteCategory removes the category; its product links cascade.
func (r *CategoryRepository) DeleteCategory(ctx context.Context, id int) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: category %d", utils.ErrCategoryNotFound, id)
	}
	return nil
}
