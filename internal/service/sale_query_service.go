package service

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/pricing"
	"github.com/GTDGit/bakery_api/internal/repository"
)

// Sale listing limits.
const (
	DefaultSaleListLimit = 200
	MaxSaleListLimit     = 500
)

// SaleReader is the read side of the sale store.
type SaleReader interface {
	ListSales(ctx context.Context, filter repository.SaleFilter) ([]models.Sale, error)
	GetSale(ctx context.Context, id int) (*models.Sale, error)
	GetSaleItems(ctx context.Context, saleIDs []int) ([]models.SaleItem, error)
}

// SaleDetailCache stores encoded sale details. Committed sales never
// change, so entries only expire by TTL.
type SaleDetailCache interface {
	GetSale(ctx context.Context, saleID int) ([]byte, error)
	SetSale(ctx context.Context, saleID int, payload []byte) error
}

// SaleSummary is a sale header with totals derived from its items.
type SaleSummary struct {
	ID         int               `json:"id"`
	UserID     int               `json:"user_id"`
	UserName   *string           `json:"user_name"`
	UserEmail  *string           `json:"user_email"`
	Status     models.SaleStatus `json:"status"`
	PaidAt     *time.Time        `json:"paid_at"`
	Code       string            `json:"code"`
	LineCount  int               `json:"line_count"`
	UnitsCount int               `json:"units_count"`
	Subtotal   decimal.Decimal   `json:"subtotal"`
	TaxTotal   decimal.Decimal   `json:"tax_total"`
	Total      decimal.Decimal   `json:"total"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
}

// SaleLine is a priced sale item with its product snapshot.
type SaleLine struct {
	ID                 int             `json:"id"`
	SaleID             int             `json:"sale_id"`
	SalableProductID   int             `json:"salable_product_id"`
	ProductID          int             `json:"product_id"`
	ProductName        string          `json:"product_name"`
	ProductDescription *string         `json:"product_description"`
	Quantity           int             `json:"quantity"`
	Taxes              decimal.Decimal `json:"taxes"`
	UnitPrice          decimal.Decimal `json:"unit_price"`
	Subtotal           decimal.Decimal `json:"subtotal"`
	TaxAmount          decimal.Decimal `json:"tax_amount"`
	Total              decimal.Decimal `json:"total"`
}

// SaleDetail is the full view of one sale.
type SaleDetail struct {
	Sale  SaleSummary `json:"sale"`
	Items []SaleLine  `json:"items"`
}

// SaleListFilter is the caller-facing filter; a nil Limit means the default.
type SaleListFilter struct {
	UserID *int
	Limit  *int
}

// SaleQueryService formats persisted sales with the same pricing rules
// checkout charges with.
type SaleQueryService struct {
	reader SaleReader
	cache  SaleDetailCache
}

// NewSaleQueryService constructs a SaleQueryService. cache may be nil.
func NewSaleQueryService(reader SaleReader, cache SaleDetailCache) *SaleQueryService {
	return &SaleQueryService{reader: reader, cache: cache}
}

// ClampSaleListLimit applies the default and bounds to a requested limit.
func ClampSaleListLimit(limit *int) int {
	if limit == nil {
		return DefaultSaleListLimit
	}
	switch {
	case *limit < 1:
		return 1
	case *limit > MaxSaleListLimit:
		return MaxSaleListLimit
	}
	return *limit
}

// ListSales returns sale summaries, newest payment first, together with the
// effective limit.
func (s *SaleQueryService) ListSales(ctx context.Context, filter SaleListFilter) ([]SaleSummary, int, error) {
	limit := ClampSaleListLimit(filter.Limit)
	sales, err := s.reader.ListSales(ctx, repository.SaleFilter{UserID: filter.UserID, Limit: limit})
	if err != nil {
		return nil, limit, err
	}

	ids := make([]int, len(sales))
	for i, sale := range sales {
		ids[i] = sale.ID
	}
	items, err := s.reader.GetSaleItems(ctx, ids)
	if err != nil {
		return nil, limit, err
	}
	bySale := make(map[int][]models.SaleItem, len(sales))
	for _, it := range items {
		bySale[it.SaleID] = append(bySale[it.SaleID], it)
	}

	out := make([]SaleSummary, 0, len(sales))
	for _, sale := range sales {
		summary, _, err := priceSale(sale, bySale[sale.ID])
		if err != nil {
			return nil, limit, err
		}
		out = append(out, summary)
	}
	return out, limit, nil
}

// GetSale returns the header and every line of a sale.
func (s *SaleQueryService) GetSale(ctx context.Context, id int) (*SaleDetail, error) {
	if cached := s.fromCache(ctx, id); cached != nil {
		return cached, nil
	}

	sale, err := s.reader.GetSale(ctx, id)
	if err != nil {
		return nil, err
	}
	items, err := s.reader.GetSaleItems(ctx, []int{id})
	if err != nil {
		return nil, err
	}
	summary, lines, err := priceSale(*sale, items)
	if err != nil {
		return nil, err
	}
	detail := &SaleDetail{Sale: summary, Items: lines}
	s.toCache(ctx, detail)
	return detail, nil
}

func (s *SaleQueryService) fromCache(ctx context.Context, id int) *SaleDetail {
	if s.cache == nil {
		return nil
	}
	payload, err := s.cache.GetSale(ctx, id)
	if err != nil || payload == nil {
		return nil
	}
	var detail SaleDetail
	if err := json.Unmarshal(payload, &detail); err != nil {
		log.Warn().Err(err).Int("sale_id", id).Msg("Discarding undecodable cached sale")
		return nil
	}
	return &detail
}

func (s *SaleQueryService) toCache(ctx context.Context, detail *SaleDetail) {
	if s.cache == nil {
		return
	}
	payload, err := json.Marshal(detail)
	if err != nil {
		return
	}
	if err := s.cache.SetSale(ctx, detail.Sale.ID, payload); err != nil {
		log.Warn().Err(err).Int("sale_id", detail.Sale.ID).Msg("Failed to cache sale")
	}
}

func priceSale(sale models.Sale, items []models.SaleItem) (SaleSummary, []SaleLine, error) {
	summary := SaleSummary{
		ID:        sale.ID,
		UserID:    sale.UserID,
		UserName:  sale.UserName,
		UserEmail: sale.UserEmail,
		Status:    sale.Status,
		PaidAt:    sale.PaidAt,
		Code:      sale.Code,
		CreatedAt: sale.CreatedAt,
		UpdatedAt: sale.UpdatedAt,
	}

	lines := make([]SaleLine, 0, len(items))
	priced := make([]pricing.Line, 0, len(items))
	for _, it := range items {
		line, err := pricing.Calculate(it.UnitPrice, it.Quantity, it.Taxes)
		if err != nil {
			return SaleSummary{}, nil, err
		}
		priced = append(priced, line)
		lines = append(lines, SaleLine{
			ID:                 it.ID,
			SaleID:             it.SaleID,
			SalableProductID:   it.SalableProductID,
			ProductID:          it.ProductID,
			ProductName:        it.ProductName,
			ProductDescription: it.ProductDescription,
			Quantity:           it.Quantity,
			Taxes:              it.Taxes,
			UnitPrice:          line.UnitPrice,
			Subtotal:           line.Subtotal,
			TaxAmount:          line.TaxAmount,
			Total:              line.Total,
		})
		summary.UnitsCount += it.Quantity
	}
	summary.LineCount = len(items)

	totals := pricing.Summarize(priced)
	summary.Subtotal, summary.TaxTotal, summary.Total = totals.Subtotal, totals.Taxes, totals.Total
	return summary, lines, nil
}
