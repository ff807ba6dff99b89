package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/repository"
	"github.com/GTDGit/bakery_api/internal/utils"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	v := dec(s)
	return &v
}

type fixedCode string

func (c fixedCode) NewCode() (string, error) { return string(c), nil }

type saleFixture struct {
	store *repository.MemoryStore
	sales *SaleService
	query *SaleQueryService
	user  *models.User
}

func newSaleFixture(t *testing.T, lockTimeout, checkoutTimeout time.Duration) *saleFixture {
	t.Helper()
	store := repository.NewMemoryStore(lockTimeout)
	query := NewSaleQueryService(store, nil)
	sales := NewSaleService(store, store, query, fixedCode("482913"), dec("0.18"), checkoutTimeout)

	user := &models.User{Name: "Ana Baker", Email: "ana@example.com", Phone: "5551234567", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(context.Background(), user))
	return &saleFixture{store: store, sales: sales, query: query, user: user}
}

// addProduct creates a product with a salable price and returns the salable
// and product ids.
func (f *saleFixture) addProduct(t *testing.T, name, price string, stock int) (int, int) {
	t.Helper()
	p := &models.Product{Name: name, SKU: "SKU-" + name, Cost: decimal.Zero, Stock: stock, IsActive: true}
	w := repository.ProductWrite{Product: p, SetPrice: true, Price: decPtr(price)}
	require.NoError(t, f.store.CreateProduct(context.Background(), w))
	require.NotNil(t, p.Salable)
	return p.Salable.ID, p.ID
}

func (f *saleFixture) stock(t *testing.T, productID int) int {
	t.Helper()
	p, err := f.store.GetProduct(context.Background(), productID)
	require.NoError(t, err)
	return p.Stock
}

func (f *saleFixture) saleCount(t *testing.T) int {
	t.Helper()
	sales, _, err := f.query.ListSales(context.Background(), SaleListFilter{})
	require.NoError(t, err)
	return len(sales)
}

func (f *saleFixture) checkout(items ...SaleItemInput) (*SaleDetail, error) {
	return f.sales.Checkout(context.Background(), &CheckoutRequest{UserID: f.user.ID, Items: items})
}

func TestCheckoutBaguetteExample(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Baguette", "48.00", 60)

	detail, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 2})
	require.NoError(t, err)

	sale := detail.Sale
	assert.Equal(t, models.SaleStatusPaid, sale.Status)
	assert.Equal(t, "482913", sale.Code)
	assert.NotNil(t, sale.PaidAt)
	assert.Equal(t, f.user.ID, sale.UserID)
	require.NotNil(t, sale.UserName)
	assert.Equal(t, "Ana Baker", *sale.UserName)
	assert.True(t, sale.Subtotal.Equal(dec("96.00")), "subtotal %s", sale.Subtotal)
	assert.True(t, sale.TaxTotal.Equal(dec("17.28")), "tax %s", sale.TaxTotal)
	assert.True(t, sale.Total.Equal(dec("113.28")), "total %s", sale.Total)

	require.Len(t, detail.Items, 1)
	line := detail.Items[0]
	assert.Equal(t, spID, line.SalableProductID)
	assert.Equal(t, pID, line.ProductID)
	assert.Equal(t, "Baguette", line.ProductName)
	assert.True(t, line.Taxes.Equal(dec("0.18")))
	assert.True(t, line.UnitPrice.Equal(dec("48.00")))

	assert.Equal(t, 58, f.stock(t, pID))
}

func TestCheckoutDecrementsEveryLine(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	croissant, croissantID := f.addProduct(t, "Croissant", "38.00", 50)
	latte, latteID := f.addProduct(t, "Latte", "55.00", 999)

	detail, err := f.checkout(
		SaleItemInput{SalableProductID: latte, Quantity: 3},
		SaleItemInput{SalableProductID: croissant, Quantity: 2},
	)
	require.NoError(t, err)

	assert.Equal(t, 48, f.stock(t, croissantID))
	assert.Equal(t, 996, f.stock(t, latteID))
	assert.Equal(t, 2, detail.Sale.LineCount)
	assert.Equal(t, 5, detail.Sale.UnitsCount)

	// Lines come back in the order they were written, which is cart order.
	require.Len(t, detail.Items, 2)
	assert.Equal(t, latte, detail.Items[0].SalableProductID)
	assert.Equal(t, croissant, detail.Items[1].SalableProductID)

	var sum decimal.Decimal
	for _, it := range detail.Items {
		sum = sum.Add(it.Total)
	}
	assert.True(t, sum.Equal(detail.Sale.Total))
}

func TestCheckoutExactStockThenInsufficient(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Hogaza", "90.00", 5)

	_, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 5})
	require.NoError(t, err)
	assert.Equal(t, 0, f.stock(t, pID))

	_, err = f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 1})
	require.ErrorIs(t, err, utils.ErrInsufficientStock)

	var se *utils.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, pID, se.ProductID)
	assert.Equal(t, "Hogaza", se.ProductName)
	assert.Equal(t, 1, se.Requested)
	assert.Equal(t, 0, se.Available)

	assert.Equal(t, 1, f.saleCount(t))
}

func TestCheckoutRollsBackAllLines(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	bread, breadID := f.addProduct(t, "Pan", "65.00", 10)
	brew, brewID := f.addProduct(t, "Cold brew", "65.00", 1)

	_, err := f.checkout(
		SaleItemInput{SalableProductID: bread, Quantity: 3},
		SaleItemInput{SalableProductID: brew, Quantity: 2},
	)
	require.ErrorIs(t, err, utils.ErrInsufficientStock)

	assert.Equal(t, 10, f.stock(t, breadID))
	assert.Equal(t, 1, f.stock(t, brewID))
	assert.Equal(t, 0, f.saleCount(t))
}

func TestCheckoutDuplicateLinesShareStock(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Rol de canela", "44.00", 5)

	_, err := f.checkout(
		SaleItemInput{SalableProductID: spID, Quantity: 3},
		SaleItemInput{SalableProductID: spID, Quantity: 3},
	)
	var se *utils.StockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, 2, se.Available)
	assert.Equal(t, 5, f.stock(t, pID))

	detail, err := f.checkout(
		SaleItemInput{SalableProductID: spID, Quantity: 2},
		SaleItemInput{SalableProductID: spID, Quantity: 3},
	)
	require.NoError(t, err)
	assert.Len(t, detail.Items, 2)
	assert.Equal(t, 0, f.stock(t, pID))
}

func TestCheckoutTaxResolution(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	a, _ := f.addProduct(t, "Exento", "10.00", 10)
	b, _ := f.addProduct(t, "Gravado", "20.00", 10)

	detail, err := f.sales.Checkout(context.Background(), &CheckoutRequest{
		UserID: f.user.ID,
		Taxes:  decPtr("0.10"),
		Items: []SaleItemInput{
			{SalableProductID: a, Quantity: 1, Taxes: decPtr("0")},
			{SalableProductID: b, Quantity: 1},
		},
	})
	require.NoError(t, err)

	require.Len(t, detail.Items, 2)
	assert.True(t, detail.Items[0].Taxes.Equal(dec("0")))
	assert.True(t, detail.Items[0].Total.Equal(dec("10.00")))
	assert.True(t, detail.Items[1].Taxes.Equal(dec("0.10")))
	assert.True(t, detail.Items[1].Total.Equal(dec("22.00")))
	assert.True(t, detail.Sale.Total.Equal(dec("32.00")), "total %s", detail.Sale.Total)
}

func TestCheckoutRejectsUnknownOrMissingUser(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Baguette", "48.00", 10)
	items := []SaleItemInput{{SalableProductID: spID, Quantity: 1}}

	_, err := f.sales.Checkout(context.Background(), &CheckoutRequest{UserID: 9999, Items: items})
	assert.ErrorIs(t, err, utils.ErrUserNotFound)

	_, err = f.sales.Checkout(context.Background(), &CheckoutRequest{Items: items})
	assert.ErrorIs(t, err, utils.ErrValidation)

	assert.Equal(t, 10, f.stock(t, pID))
}

func TestCheckoutValidation(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Baguette", "48.00", 10)

	cases := map[string]*CheckoutRequest{
		"no items":        {UserID: f.user.ID},
		"zero quantity":   {UserID: f.user.ID, Items: []SaleItemInput{{SalableProductID: spID, Quantity: 0}}},
		"missing product": {UserID: f.user.ID, Items: []SaleItemInput{{Quantity: 1}}},
		"negative line tax": {UserID: f.user.ID, Items: []SaleItemInput{
			{SalableProductID: spID, Quantity: 1, Taxes: decPtr("-0.01")},
		}},
		"negative request tax": {UserID: f.user.ID, Taxes: decPtr("-1"), Items: []SaleItemInput{
			{SalableProductID: spID, Quantity: 1},
		}},
		"request tax of 100": {UserID: f.user.ID, Taxes: decPtr("100"), Items: []SaleItemInput{
			{SalableProductID: spID, Quantity: 1},
		}},
		"line tax of 150": {UserID: f.user.ID, Items: []SaleItemInput{
			{SalableProductID: spID, Quantity: 1, Taxes: decPtr("150")},
		}},
		"line tax with five decimals": {UserID: f.user.ID, Items: []SaleItemInput{
			{SalableProductID: spID, Quantity: 1, Taxes: decPtr("0.18005")},
		}},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.sales.Checkout(context.Background(), req)
			assert.ErrorIs(t, err, utils.ErrValidation)
		})
	}
	assert.Equal(t, 0, f.saleCount(t))
	assert.Equal(t, 10, f.stock(t, pID))
}

func TestCheckoutAcceptsStorableTaxRateEdges(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, _ := f.addProduct(t, "Baguette", "48.00", 10)

	previewReq := &PreviewRequest{Items: []SaleItemInput{
		{SalableProductID: spID, Quantity: 1, Taxes: decPtr("99.9999")},
		{SalableProductID: spID, Quantity: 1, Taxes: decPtr("0.1234")},
	}}
	preview, err := f.sales.Preview(context.Background(), previewReq)
	require.NoError(t, err)

	detail, err := f.sales.Checkout(context.Background(), &CheckoutRequest{UserID: f.user.ID, Items: previewReq.Items})
	require.NoError(t, err)
	// 48 * 100.9999 = 4847.9952 and 48 * 1.1234 = 53.9232
	assert.True(t, detail.Sale.Total.Equal(dec("4901.92")), "total %s", detail.Sale.Total)
	assert.True(t, detail.Sale.Total.Equal(preview.Summary.Total))
}

func TestPreviewRejectsUnstorableTaxRate(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, _ := f.addProduct(t, "Baguette", "48.00", 10)

	for _, rate := range []string{"100", "0.12345"} {
		t.Run(rate, func(t *testing.T) {
			_, err := f.sales.Preview(context.Background(), &PreviewRequest{
				Taxes: decPtr(rate),
				Items: []SaleItemInput{{SalableProductID: spID, Quantity: 1}},
			})
			assert.ErrorIs(t, err, utils.ErrValidation)
		})
	}
}

// brokenReader fails every sale read, as a lagging replica would.
type brokenReader struct {
	*repository.MemoryStore
}

func (brokenReader) GetSale(context.Context, int) (*models.Sale, error) {
	return nil, errors.New("read replica down")
}

func TestCheckoutSucceedsWhenCommittedSaleCannotBeReRead(t *testing.T) {
	store := repository.NewMemoryStore(0)
	query := NewSaleQueryService(brokenReader{store}, nil)
	sales := NewSaleService(store, store, query, fixedCode("310577"), dec("0.18"), 0)
	f := &saleFixture{store: store, sales: sales, query: query}
	f.user = &models.User{Name: "Ana", Email: "ana@example.com", Phone: "1", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(context.Background(), f.user))
	spID, pID := f.addProduct(t, "Baguette", "48.00", 5)

	detail, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, f.stock(t, pID))

	assert.NotZero(t, detail.Sale.ID)
	assert.Equal(t, "310577", detail.Sale.Code)
	assert.Equal(t, models.SaleStatusPaid, detail.Sale.Status)
	assert.Equal(t, 1, detail.Sale.LineCount)
	assert.Equal(t, 2, detail.Sale.UnitsCount)
	assert.True(t, detail.Sale.Total.Equal(dec("113.28")), "total %s", detail.Sale.Total)
	require.Len(t, detail.Items, 1)
	line := detail.Items[0]
	assert.NotZero(t, line.ID)
	assert.Equal(t, pID, line.ProductID)
	assert.Equal(t, "Baguette", line.ProductName)
	assert.True(t, line.UnitPrice.Equal(dec("48.00")))
	assert.True(t, line.TaxAmount.Equal(dec("17.28")))

	sold, err := store.ListSales(context.Background(), repository.SaleFilter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, sold, 1)
	assert.Equal(t, detail.Sale.ID, sold[0].ID)
}

func TestCheckoutUnknownProduct(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Baguette", "48.00", 10)

	_, err := f.checkout(
		SaleItemInput{SalableProductID: spID, Quantity: 1},
		SaleItemInput{SalableProductID: 404, Quantity: 1},
	)
	require.ErrorIs(t, err, utils.ErrProductNotFound)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, 10, f.stock(t, pID))
	assert.Equal(t, 0, f.saleCount(t))
}

func TestCheckoutConcurrentBuyersNeverOversell(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Croissant", "38.00", 5)

	const buyers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
		short     int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 1})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, utils.ErrInsufficientStock):
				short++
			default:
				t.Errorf("unexpected checkout error: %v", err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, buyers-5, short)
	assert.Equal(t, 0, f.stock(t, pID))
	assert.Equal(t, 5, f.saleCount(t))
}

func TestCheckoutOppositeCartOrdersDoNotDeadlock(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	a, aID := f.addProduct(t, "Baguette", "48.00", 100)
	b, bID := f.addProduct(t, "Latte", "55.00", 100)

	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		first, second := a, b
		if i%2 == 1 {
			first, second = b, a
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.checkout(
				SaleItemInput{SalableProductID: first, Quantity: 1},
				SaleItemInput{SalableProductID: second, Quantity: 1},
			)
			assert.NoError(t, err)
		}()
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("checkouts did not finish; lock ordering is broken")
	}
	assert.Equal(t, 60, f.stock(t, aID))
	assert.Equal(t, 60, f.stock(t, bID))
}

func TestCheckoutTimesOutWaitingForLock(t *testing.T) {
	f := newSaleFixture(t, 50*time.Millisecond, 0)
	spID, pID := f.addProduct(t, "Hogaza", "90.00", 10)

	ctx := context.Background()
	holder, err := f.store.BeginCheckout(ctx)
	require.NoError(t, err)
	_, err = holder.LockProductForUpdate(ctx, pID)
	require.NoError(t, err)

	_, err = f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 1})
	require.ErrorIs(t, err, utils.ErrTransactionTimeout)

	require.NoError(t, holder.Rollback())
	assert.Equal(t, 10, f.stock(t, pID))
	assert.Equal(t, 0, f.saleCount(t))

	// The lock is free again once the holder is gone.
	_, err = f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 1})
	require.NoError(t, err)
	assert.Equal(t, 9, f.stock(t, pID))
}

func TestCheckoutTransactionDeadline(t *testing.T) {
	f := newSaleFixture(t, 0, 30*time.Millisecond)
	spID, pID := f.addProduct(t, "Hogaza", "90.00", 10)

	ctx := context.Background()
	holder, err := f.store.BeginCheckout(ctx)
	require.NoError(t, err)
	_, err = holder.LockProductForUpdate(ctx, pID)
	require.NoError(t, err)
	defer holder.Rollback()

	start := time.Now()
	_, err = f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 1})
	require.ErrorIs(t, err, utils.ErrTransactionTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestPreviewPricesWithoutSideEffects(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Baguette", "48.00", 60)
	req := &PreviewRequest{Items: []SaleItemInput{{SalableProductID: spID, Quantity: 2}}}

	first, err := f.sales.Preview(context.Background(), req)
	require.NoError(t, err)
	second, err := f.sales.Preview(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	require.Len(t, first.Items, 1)
	line := first.Items[0]
	assert.Equal(t, pID, line.ProductID)
	assert.Equal(t, "Baguette", line.Name)
	assert.Equal(t, 60, line.Stock)
	assert.True(t, line.Subtotal.Equal(dec("96.00")))
	assert.True(t, line.TaxAmount.Equal(dec("17.28")))
	assert.True(t, first.Summary.Total.Equal(dec("113.28")))

	assert.Equal(t, 60, f.stock(t, pID))
	assert.Equal(t, 0, f.saleCount(t))
}

func TestPreviewIgnoresStock(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, _ := f.addProduct(t, "Charola", "10.00", 0)

	result, err := f.sales.Preview(context.Background(), &PreviewRequest{
		Items: []SaleItemInput{{SalableProductID: spID, Quantity: 3}},
	})
	require.NoError(t, err)
	assert.True(t, result.Summary.Subtotal.Equal(dec("30.00")))
	require.Len(t, result.Items, 1)
	assert.Equal(t, 0, result.Items[0].Stock)
}

func TestPreviewFailsOnFirstUnknownProduct(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, _ := f.addProduct(t, "Baguette", "48.00", 60)

	_, err := f.sales.Preview(context.Background(), &PreviewRequest{Items: []SaleItemInput{
		{SalableProductID: 71, Quantity: 1},
		{SalableProductID: spID, Quantity: 1},
		{SalableProductID: 72, Quantity: 1},
	}})
	require.ErrorIs(t, err, utils.ErrProductNotFound)
	assert.Contains(t, err.Error(), "71")
}
