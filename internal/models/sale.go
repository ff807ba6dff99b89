package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type SaleStatus string

// SaleStatusPaid is the only status a sale gets today: checkout both records
// and settles the sale.
const SaleStatusPaid SaleStatus = "PAID"

// Sale is the header of a completed checkout. It is never updated after
// creation; its totals are always derived from its items.
type Sale struct {
	ID        int        `db:"id" json:"id"`
	UserID    int        `db:"user_id" json:"user_id"`
	Status    SaleStatus `db:"status" json:"status"`
	PaidAt    *time.Time `db:"paid_at" json:"paid_at"`
	Code      string     `db:"code" json:"code"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`

	// Joined from users on read.
	UserName  *string `db:"user_name" json:"-"`
	UserEmail *string `db:"user_email" json:"-"`
}

// SaleItem is one line of a sale. UnitPrice is the price snapshot taken at
// checkout so later price edits do not rewrite history.
type SaleItem struct {
	ID               int             `db:"id" json:"id"`
	SaleID           int             `db:"sale_id" json:"sale_id"`
	SalableProductID int             `db:"salable_product_id" json:"salable_product_id"`
	Quantity         int             `db:"quantity" json:"quantity"`
	Taxes            decimal.Decimal `db:"taxes" json:"taxes"`
	UnitPrice        decimal.Decimal `db:"unit_price" json:"unit_price"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`

	// Product snapshot, joined on read.
	ProductID          int     `db:"product_id" json:"-"`
	ProductName        string  `db:"product_name" json:"-"`
	ProductDescription *string `db:"product_description" json:"-"`
}
