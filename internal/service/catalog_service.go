package service

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/pricing"
	"github.com/GTDGit/bakery_api/internal/repository"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// ProductStore persists products together with their salable price and
// category links.
type ProductStore interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id int) (*models.Product, error)
	ListSalable(ctx context.Context) ([]models.SalableProduct, error)
	CreateProduct(ctx context.Context, w repository.ProductWrite) error
	UpdateProduct(ctx context.Context, w repository.ProductWrite) error
	DeleteProduct(ctx context.Context, id int) error
}

// CategoryStore persists categories.
type CategoryStore interface {
	ListCategories(ctx context.Context) ([]models.Category, error)
	GetCategory(ctx context.Context, id int) (*models.Category, error)
	CreateCategory(ctx context.Context, c *models.Category) error
	UpdateCategory(ctx context.Context, c *models.Category) error
	DeleteCategory(ctx context.Context, id int) error
}

// NullableDecimal distinguishes an absent JSON key from an explicit null.
type NullableDecimal struct {
	Set   bool
	Value *decimal.Decimal
}

func (n *NullableDecimal) UnmarshalJSON(data []byte) error {
	n.Set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		n.Value = nil
		return nil
	}
	var d decimal.Decimal
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	n.Value = &d
	return nil
}

// CreateProductRequest represents the request to create a new product. A
// product without a price is kept in the catalog but is not for sale.
type CreateProductRequest struct {
	Name        string           `json:"name" binding:"required,max=255"`
	SKU         string           `json:"sku" binding:"required,max=100"`
	Description *string          `json:"description"`
	Cost        *decimal.Decimal `json:"cost"`
	Price       *decimal.Decimal `json:"price"`
	Stock       *int             `json:"stock" binding:"omitempty,min=0"`
	Thumbnail   *string          `json:"thumbnail" binding:"omitempty,max=255"`
	IsActive    *bool            `json:"is_active"`
	Categories  []int            `json:"categories"`
}

// UpdateProductRequest represents a partial product update. Price set to
// null takes the product off sale.
type UpdateProductRequest struct {
	Name        *string          `json:"name" binding:"omitempty,max=255"`
	SKU         *string          `json:"sku" binding:"omitempty,max=100"`
	Description *string          `json:"description"`
	Cost        *decimal.Decimal `json:"cost"`
	Price       NullableDecimal  `json:"price"`
	Stock       *int             `json:"stock" binding:"omitempty,min=0"`
	Thumbnail   *string          `json:"thumbnail" binding:"omitempty,max=255"`
	IsActive    *bool            `json:"is_active"`
	Categories  *[]int           `json:"categories"`
}

// CategoryRequest creates or updates a category. On create Name is
// required; a missing slug is derived from the name.
type CategoryRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=255"`
	Slug        *string `json:"slug" binding:"omitempty,max=255"`
	Description *string `json:"description" binding:"omitempty,max=255"`
}

// CatalogService handles product, salable price and category administration.
type CatalogService struct {
	products   ProductStore
	categories CategoryStore
}

// NewCatalogService constructs a CatalogService.
func NewCatalogService(products ProductStore, categories CategoryStore) *CatalogService {
	return &CatalogService{products: products, categories: categories}
}

func (s *CatalogService) ListProducts(ctx context.Context) ([]models.Product, error) {
	return s.products.ListProducts(ctx)
}

func (s *CatalogService) GetProduct(ctx context.Context, id int) (*models.Product, error) {
	return s.products.GetProduct(ctx, id)
}

// ListSalable returns what can currently be put in a cart.
func (s *CatalogService) ListSalable(ctx context.Context) ([]models.SalableProduct, error) {
	return s.products.ListSalable(ctx)
}

// CreateProduct creates a product, its salable row when a price is given,
// and its category links.
func (s *CatalogService) CreateProduct(ctx context.Context, req *CreateProductRequest) (*models.Product, error) {
	p := &models.Product{
		Name:        strings.TrimSpace(req.Name),
		SKU:         strings.TrimSpace(req.SKU),
		Description: req.Description,
		Cost:        decimal.Zero,
		Thumbnail:   req.Thumbnail,
		IsActive:    true,
	}
	if req.Cost != nil {
		p.Cost = *req.Cost
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if err := validateProduct(p, req.Price); err != nil {
		return nil, err
	}
	p.Cost = p.Cost.Round(pricing.Places)

	w := repository.ProductWrite{
		Product:       p,
		SetPrice:      req.Price != nil,
		Price:         moneyPtr(req.Price),
		SetCategories: len(req.Categories) > 0,
		CategoryIDs:   req.Categories,
	}
	if err := s.products.CreateProduct(ctx, w); err != nil {
		return nil, err
	}
	log.Info().Int("product_id", p.ID).Str("sku", p.SKU).Msg("Product created")
	return s.products.GetProduct(ctx, p.ID)
}

// UpdateProduct applies a partial update.
func (s *CatalogService) UpdateProduct(ctx context.Context, id int, req *UpdateProductRequest) (*models.Product, error) {
	p, err := s.products.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil {
		p.Name = strings.TrimSpace(*req.Name)
	}
	if req.SKU != nil {
		p.SKU = strings.TrimSpace(*req.SKU)
	}
	if req.Description != nil {
		p.Description = req.Description
	}
	if req.Cost != nil {
		p.Cost = *req.Cost
	}
	if req.Stock != nil {
		p.Stock = *req.Stock
	}
	if req.Thumbnail != nil {
		p.Thumbnail = req.Thumbnail
	}
	if req.IsActive != nil {
		p.IsActive = *req.IsActive
	}
	if err := validateProduct(p, req.Price.Value); err != nil {
		return nil, err
	}
	p.Cost = p.Cost.Round(pricing.Places)

	w := repository.ProductWrite{
		Product:  p,
		SetStock: req.Stock != nil,
		SetPrice: req.Price.Set,
		Price:    moneyPtr(req.Price.Value),
	}
	if req.Categories != nil {
		w.SetCategories = true
		w.CategoryIDs = *req.Categories
	}
	if err := s.products.UpdateProduct(ctx, w); err != nil {
		return nil, err
	}
	log.Info().Int("product_id", p.ID).Msg("Product updated")
	return s.products.GetProduct(ctx, p.ID)
}

func (s *CatalogService) DeleteProduct(ctx context.Context, id int) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		return err
	}
	log.Info().Int("product_id", id).Msg("Product deleted")
	return nil
}

func (s *CatalogService) ListCategories(ctx context.Context) ([]models.Category, error) {
	return s.categories.ListCategories(ctx)
}

func (s *CatalogService) GetCategory(ctx context.Context, id int) (*models.Category, error) {
	return s.categories.GetCategory(ctx, id)
}

func (s *CatalogService) CreateCategory(ctx context.Context, req *CategoryRequest) (*models.Category, error) {
	if req.Name == nil || strings.TrimSpace(*req.Name) == "" {
		return nil, utils.NewValidationError("name", "is required")
	}
	c := &models.Category{
		Name:        strings.TrimSpace(*req.Name),
		Description: req.Description,
	}
	if req.Slug != nil && strings.TrimSpace(*req.Slug) != "" {
		c.Slug = strings.TrimSpace(*req.Slug)
	} else {
		c.Slug = utils.Slugify(c.Name)
	}
	if c.Slug == "" {
		return nil, utils.NewValidationError("slug", "cannot be derived from name %q", c.Name)
	}
	if err := s.categories.CreateCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateCategory renames a category; a new name without an explicit slug
// re-derives the slug.
func (s *CatalogService) UpdateCategory(ctx context.Context, id int, req *CategoryRequest) (*models.Category, error) {
	c, err := s.categories.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Name != nil {
		name := strings.TrimSpace(*req.Name)
		if name == "" {
			return nil, utils.NewValidationError("name", "must not be empty")
		}
		c.Name = name
		if req.Slug == nil {
			c.Slug = utils.Slugify(name)
		}
	}
	if req.Slug != nil {
		c.Slug = strings.TrimSpace(*req.Slug)
	}
	if req.Description != nil {
		c.Description = req.Description
	}
	if c.Slug == "" {
		return nil, utils.NewValidationError("slug", "must not be empty")
	}
	if err := s.categories.UpdateCategory(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *CatalogService) DeleteCategory(ctx context.Context, id int) error {
	return s.categories.DeleteCategory(ctx, id)
}

// moneyPtr puts a validated amount at the two-place scale Postgres stores.
func moneyPtr(v *decimal.Decimal) *decimal.Decimal {
	if v == nil {
		return nil
	}
	r := v.Round(pricing.Places)
	return &r
}

func validateProduct(p *models.Product, price *decimal.Decimal) error {
	switch {
	case p.Name == "":
		return utils.NewValidationError("name", "is required")
	case p.SKU == "":
		return utils.NewValidationError("sku", "is required")
	case p.Cost.IsNegative():
		return utils.NewValidationError("cost", "must not be negative")
	case pricing.CheckAmount(p.Cost) != nil:
		return utils.NewValidationError("cost", "must be below %s with at most %d decimal places", pricing.MaxAmount, pricing.Places)
	case p.Stock < 0:
		return utils.NewValidationError("stock", "must not be negative")
	case price != nil && price.IsNegative():
		return utils.NewValidationError("price", "must not be negative")
	case price != nil && pricing.CheckAmount(*price) != nil:
		return utils.NewValidationError("price", "must be below %s with at most %d decimal places", pricing.MaxAmount, pricing.Places)
	}
	return nil
}
