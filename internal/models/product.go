package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product is a catalog item. Raw materials live here too; only products
// with a SalableProduct row can be sold.
type Product struct {
	ID          int             `db:"id" json:"id"`
	Name        string          `db:"name" json:"name"`
	SKU         string          `db:"sku" json:"sku"`
	Description *string         `db:"description" json:"description"`
	Cost        decimal.Decimal `db:"cost" json:"cost"`
	Stock       int             `db:"stock" json:"stock"`
	Thumbnail   *string         `db:"thumbnail" json:"thumbnail,omitempty"`
	IsActive    bool            `db:"is_active" json:"is_active"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`

	Categories []Category      `db:"-" json:"categories,omitempty"`
	Salable    *SalableProduct `db:"-" json:"salable"`
}

// SalableProduct marks a product as offered for sale at Price.
type SalableProduct struct {
	ID        int             `db:"id" json:"id"`
	ProductID int             `db:"product_id" json:"product_id"`
	Price     decimal.Decimal `db:"price" json:"price"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`

	// Populated by batch lookups that join the owning product.
	Product *Product `db:"-" json:"product,omitempty"`
}

// Category groups products for the storefront.
type Category struct {
	ID          int       `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Slug        string    `db:"slug" json:"slug"`
	Description *string   `db:"description" json:"description"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time `db:"updated_at" json:"updated_at"`
}
