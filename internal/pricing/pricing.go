// Package pricing computes sale line amounts. Checkout, preview and the sale
// read side all go through Calculate so a sale reports the same totals
// when it is re-read as when it was charged.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/utils"
)

// Places is the number of decimal places money amounts are rounded to.
const Places = 2

// TaxRatePlaces is the precision tax rates are stored with.
const TaxRatePlaces = 4

var (
	// MaxAmount bounds stored money amounts (NUMERIC(10,2)), exclusive.
	MaxAmount = decimal.New(1, 8)
	// MaxTaxRate bounds stored tax rates (NUMERIC(6,4)), exclusive.
	MaxTaxRate = decimal.NewFromInt(100)
)

// DefaultTaxRate is the rate applied when neither the line nor the request
// carries one.
var DefaultTaxRate = decimal.RequireFromString("0.18")

// Line holds the rounded amounts of a single sale line.
type Line struct {
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	TaxRate   decimal.Decimal `json:"tax_rate"`
	Subtotal  decimal.Decimal `json:"subtotal"`
	TaxAmount decimal.Decimal `json:"tax_amount"`
	Total     decimal.Decimal `json:"total"`
}

// Summary aggregates already-rounded lines.
type Summary struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Taxes    decimal.Decimal `json:"taxes"`
	Total    decimal.Decimal `json:"total"`
}

// CheckAmount reports why v cannot be stored as a money amount, or nil.
func CheckAmount(v decimal.Decimal) error {
	switch {
	case v.IsNegative():
		return fmt.Errorf("%w: amount %s is negative", utils.ErrInvalidInput, v)
	case !v.Equal(v.Round(Places)):
		return fmt.Errorf("%w: amount %s has more than %d decimal places", utils.ErrInvalidInput, v, Places)
	case v.GreaterThanOrEqual(MaxAmount):
		return fmt.Errorf("%w: amount %s must be below %s", utils.ErrInvalidInput, v, MaxAmount)
	}
	return nil
}

// CheckTaxRate reports why rate cannot be stored as a tax rate, or nil.
func CheckTaxRate(rate decimal.Decimal) error {
	switch {
	case rate.IsNegative():
		return fmt.Errorf("%w: tax rate %s is negative", utils.ErrInvalidInput, rate)
	case !rate.Equal(rate.Round(TaxRatePlaces)):
		return fmt.Errorf("%w: tax rate %s has more than %d decimal places", utils.ErrInvalidInput, rate, TaxRatePlaces)
	case rate.GreaterThanOrEqual(MaxTaxRate):
		return fmt.Errorf("%w: tax rate %s must be below %s", utils.ErrInvalidInput, rate, MaxTaxRate)
	}
	return nil
}

// Calculate prices quantity units at unitPrice with taxRate (0.18 = 18%).
//
//	subtotal   = round(unit_price * quantity, 2)
//	total      = round(unit_price * quantity * (1 + tax_rate), 2)
//	tax_amount = total - subtotal
//
// Rounding is half away from zero. The total is taken from a single
// multiplication rather than from the rounded subtotal plus rounded tax.
// unitPrice must pass CheckAmount and taxRate CheckTaxRate, so the reported
// unit price is exactly the one the line was computed from.
func Calculate(unitPrice decimal.Decimal, quantity int, taxRate decimal.Decimal) (Line, error) {
	if err := CheckAmount(unitPrice); err != nil {
		return Line{}, fmt.Errorf("unit price: %w", err)
	}
	if quantity < 1 {
		return Line{}, fmt.Errorf("%w: quantity %d must be at least 1", utils.ErrInvalidInput, quantity)
	}
	if err := CheckTaxRate(taxRate); err != nil {
		return Line{}, err
	}

	gross := unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	subtotal := gross.Round(Places)
	total := gross.Mul(decimal.NewFromInt(1).Add(taxRate)).Round(Places)

	return Line{
		UnitPrice: unitPrice,
		Quantity:  quantity,
		TaxRate:   taxRate,
		Subtotal:  subtotal,
		TaxAmount: total.Sub(subtotal),
		Total:     total,
	}, nil
}

// Summarize adds up lines. Because every line is rounded first, the summary
// total always equals the sum of line totals.
func Summarize(lines []Line) Summary {
	s := Summary{Subtotal: decimal.Zero, Taxes: decimal.Zero, Total: decimal.Zero}
	for _, l := range lines {
		s.Subtotal = s.Subtotal.Add(l.Subtotal)
		s.Taxes = s.Taxes.Add(l.TaxAmount)
		s.Total = s.Total.Add(l.Total)
	}
	return s
}

// ResolveTaxRate picks the line override when present, else the request
// default, else DefaultTaxRate.
func ResolveTaxRate(line, request *decimal.Decimal) decimal.Decimal {
	switch {
	case line != nil:
		return *line
	case request != nil:
		return *request
	default:
		return DefaultTaxRate
	}
}
