package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/pricing"
	"github.com/GTDGit/bakery_api/internal/repository"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// UserDirectory answers whether a buyer exists.
type UserDirectory interface {
	UserExists(ctx context.Context, id int) (bool, error)
}

// CheckoutStore is the write side of the sale store.
type CheckoutStore interface {
	GetSalableProductsByIDs(ctx context.Context, ids []int) (map[int]models.SalableProduct, error)
	BeginCheckout(ctx context.Context) (repository.CheckoutTx, error)
}

// CodeGenerator issues pickup codes.
type CodeGenerator interface {
	NewCode() (string, error)
}

// SaleItemInput is one requested cart line.
type SaleItemInput struct {
	SalableProductID int              `json:"salable_product_id"`
	Quantity         int              `json:"quantity"`
	Taxes            *decimal.Decimal `json:"taxes,omitempty"`
}

// PreviewRequest prices a cart without persisting it. Taxes is the default
// rate for lines that do not carry their own.
type PreviewRequest struct {
	Items []SaleItemInput  `json:"items"`
	Taxes *decimal.Decimal `json:"taxes,omitempty"`
}

// CheckoutRequest turns a cart into a sale for UserID.
type CheckoutRequest struct {
	UserID int              `json:"user_id"`
	Items  []SaleItemInput  `json:"items"`
	Taxes  *decimal.Decimal `json:"taxes,omitempty"`
}

// PreviewLine is a priced cart line. Stock is informational; checkout
// re-checks it under lock.
type PreviewLine struct {
	SalableProductID int     `json:"salable_product_id"`
	ProductID        int     `json:"product_id"`
	Name             string  `json:"name"`
	Description      *string `json:"description"`
	Stock            int     `json:"stock"`
	pricing.Line
}

// PreviewResult is the output of Preview.
type PreviewResult struct {
	Items   []PreviewLine   `json:"items"`
	Summary pricing.Summary `json:"summary"`
}

// SaleService is the sale transaction engine: it prices carts and turns
// them into persisted sales while keeping stock consistent.
type SaleService struct {
	users          UserDirectory
	store          CheckoutStore
	query          *SaleQueryService
	codes          CodeGenerator
	defaultTaxRate decimal.Decimal
	timeout        time.Duration
}

// NewSaleService constructs a SaleService. timeout bounds a whole checkout
// transaction; zero disables the bound.
func NewSaleService(
	users UserDirectory,
	store CheckoutStore,
	query *SaleQueryService,
	codes CodeGenerator,
	defaultTaxRate decimal.Decimal,
	timeout time.Duration,
) *SaleService {
	return &SaleService{
		users:          users,
		store:          store,
		query:          query,
		codes:          codes,
		defaultTaxRate: defaultTaxRate,
		timeout:        timeout,
	}
}

// Preview prices the cart against current prices. It takes no locks and
// writes nothing.
func (s *SaleService) Preview(ctx context.Context, req *PreviewRequest) (*PreviewResult, error) {
	if err := validateItems(req.Items, req.Taxes); err != nil {
		return nil, err
	}
	salable, err := s.resolve(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	requestRate := s.requestRate(req.Taxes)
	result := &PreviewResult{Items: make([]PreviewLine, 0, len(req.Items))}
	lines := make([]pricing.Line, 0, len(req.Items))
	for _, it := range req.Items {
		sp := salable[it.SalableProductID]
		line, err := pricing.Calculate(sp.Price, it.Quantity, pricing.ResolveTaxRate(it.Taxes, requestRate))
		if err != nil {
			return nil, err
		}
		lines = append(lines, line)

		pl := PreviewLine{SalableProductID: sp.ID, ProductID: sp.ProductID, Line: line}
		if sp.Product != nil {
			pl.Name, pl.Description, pl.Stock = sp.Product.Name, sp.Product.Description, sp.Product.Stock
		}
		result.Items = append(result.Items, pl)
	}
	result.Summary = pricing.Summarize(lines)
	return result, nil
}

// Checkout records a paid sale for the cart and decrements stock, all in
// one transaction. On any error nothing is persisted.
func (s *SaleService) Checkout(ctx context.Context, req *CheckoutRequest) (*SaleDetail, error) {
	// 1. Buyer must exist
	if req.UserID <= 0 {
		return nil, utils.NewValidationError("user_id", "is required")
	}
	exists, err := s.users.UserExists(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("check user: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: user %d", utils.ErrUserNotFound, req.UserID)
	}

	// 2. Validate cart shape
	if err := validateItems(req.Items, req.Taxes); err != nil {
		return nil, err
	}

	// 3. Resolve every salable product in one lookup; prices are taken here
	salable, err := s.resolve(ctx, req.Items)
	if err != nil {
		return nil, err
	}

	code, err := s.codes.NewCode()
	if err != nil {
		return nil, fmt.Errorf("generate pickup code: %w", err)
	}

	txCtx := ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		txCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	// 4-7. Persist under product locks
	sale, items, err := s.persist(txCtx, req, salable, code)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, utils.ErrTransactionTimeout) {
			err = fmt.Errorf("%w: %v", utils.ErrTransactionTimeout, err)
		}
		log.Warn().Err(err).Int("user_id", req.UserID).Int("lines", len(req.Items)).Msg("Checkout rolled back")
		return nil, err
	}

	log.Info().
		Int("sale_id", sale.ID).
		Str("code", code).
		Int("user_id", req.UserID).
		Int("lines", len(req.Items)).
		Msg("Checkout committed")

	// 8. Assemble the response from what was committed. The sale is already
	// durable, so a failed re-read must not turn into an error.
	detail, err := s.query.GetSale(ctx, sale.ID)
	if err == nil {
		return detail, nil
	}
	log.Warn().Err(err).Int("sale_id", sale.ID).Msg("Re-reading committed sale failed, answering from checkout data")
	for i := range items {
		if p := salable[items[i].SalableProductID].Product; p != nil {
			items[i].ProductID, items[i].ProductName, items[i].ProductDescription = p.ID, p.Name, p.Description
		}
	}
	summary, lines, err := priceSale(*sale, items)
	if err != nil {
		return nil, fmt.Errorf("price committed sale %d: %w", sale.ID, err)
	}
	return &SaleDetail{Sale: summary, Items: lines}, nil
}

func (s *SaleService) persist(ctx context.Context, req *CheckoutRequest, salable map[int]models.SalableProduct, code string) (*models.Sale, []models.SaleItem, error) {
	tx, err := s.store.BeginCheckout(ctx)
	if err != nil {
		return nil, nil, err
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Checkout rollback failed")
			}
		}
	}()

	paidAt := time.Now().UTC()
	sale := &models.Sale{
		UserID: req.UserID,
		Status: models.SaleStatusPaid,
		PaidAt: &paidAt,
		Code:   code,
	}
	if err := tx.CreateSale(ctx, sale); err != nil {
		return nil, nil, err
	}

	// Lock every product up front in ascending id order. Two checkouts
	// touching the same products always wait on them in the same order.
	productIDs := make([]int, 0, len(req.Items))
	seen := make(map[int]bool, len(req.Items))
	for _, it := range req.Items {
		pid := salable[it.SalableProductID].ProductID
		if !seen[pid] {
			seen[pid] = true
			productIDs = append(productIDs, pid)
		}
	}
	sort.Ints(productIDs)

	locked := make(map[int]*models.Product, len(productIDs))
	remaining := make(map[int]int, len(productIDs))
	for _, pid := range productIDs {
		p, err := tx.LockProductForUpdate(ctx, pid)
		if err != nil {
			return nil, nil, err
		}
		locked[pid] = p
		remaining[pid] = p.Stock
	}

	requestRate := s.requestRate(req.Taxes)
	items := make([]models.SaleItem, 0, len(req.Items))
	for _, it := range req.Items {
		sp := salable[it.SalableProductID]
		pid := sp.ProductID
		if remaining[pid] < it.Quantity {
			return nil, nil, &utils.StockError{
				ProductID:   pid,
				ProductName: locked[pid].Name,
				Requested:   it.Quantity,
				Available:   remaining[pid],
			}
		}

		item := &models.SaleItem{
			SaleID:           sale.ID,
			SalableProductID: sp.ID,
			Quantity:         it.Quantity,
			Taxes:            pricing.ResolveTaxRate(it.Taxes, requestRate),
			UnitPrice:        sp.Price,
		}
		if err := tx.CreateSaleItem(ctx, item); err != nil {
			return nil, nil, err
		}
		if err := tx.DecrementStock(ctx, pid, it.Quantity); err != nil {
			return nil, nil, err
		}
		remaining[pid] -= it.Quantity
		items = append(items, *item)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, fmt.Errorf("commit checkout: %w", err)
	}
	committed = true
	return sale, items, nil
}

// resolve looks up every requested salable product at once and fails on
// the first id, in cart order, that does not resolve.
func (s *SaleService) resolve(ctx context.Context, items []SaleItemInput) (map[int]models.SalableProduct, error) {
	ids := make([]int, 0, len(items))
	seen := make(map[int]bool, len(items))
	for _, it := range items {
		if !seen[it.SalableProductID] {
			seen[it.SalableProductID] = true
			ids = append(ids, it.SalableProductID)
		}
	}

	salable, err := s.store.GetSalableProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		if _, ok := salable[id]; !ok {
			return nil, utils.ProductNotFound(id)
		}
	}
	return salable, nil
}

func (s *SaleService) requestRate(taxes *decimal.Decimal) *decimal.Decimal {
	if taxes != nil {
		return taxes
	}
	rate := s.defaultTaxRate
	return &rate
}

func validateItems(items []SaleItemInput, taxes *decimal.Decimal) error {
	if len(items) == 0 {
		return utils.NewValidationError("items", "must contain at least one item")
	}
	if err := validateTaxRate("taxes", taxes); err != nil {
		return err
	}
	for i, it := range items {
		field := fmt.Sprintf("items.%d", i)
		if it.SalableProductID <= 0 {
			return utils.NewValidationError(field+".salable_product_id", "is required")
		}
		if it.Quantity < 1 {
			return utils.NewValidationError(field+".quantity", "must be at least 1")
		}
		if err := validateTaxRate(field+".taxes", it.Taxes); err != nil {
			return err
		}
	}
	return nil
}

func validateTaxRate(field string, rate *decimal.Decimal) error {
	if rate == nil {
		return nil
	}
	switch {
	case rate.IsNegative():
		return utils.NewValidationError(field, "must not be negative")
	case pricing.CheckTaxRate(*rate) != nil:
		return utils.NewValidationError(field, "must be below %s with at most %d decimal places", pricing.MaxTaxRate, pricing.TaxRatePlaces)
	}
	return nil
}
