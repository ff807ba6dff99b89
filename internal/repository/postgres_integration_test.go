package repository_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/bakery_api/internal/database"
	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/repository"
	"github.com/GTDGit/bakery_api/internal/service"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// openTestDB connects to TEST_DATABASE_URL, migrates it and empties every
// table. The tests are skipped when the variable is unset.
func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	db, err := sqlx.Connect("postgres", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, database.Migrate(db.DB, "file://../../migrations"))
	_, err = db.Exec(`TRUNCATE sale_items, sales, salable_products, category_product, products, categories, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

type pgFixture struct {
	db      *sqlx.DB
	sales   *service.SaleService
	query   *service.SaleQueryService
	catalog *service.CatalogService
	userID  int
}

func newPgFixture(t *testing.T, lockTimeout time.Duration) *pgFixture {
	t.Helper()
	db := openTestDB(t)
	users := repository.NewUserRepository(db)
	saleRepo := repository.NewSaleRepository(db, lockTimeout)
	query := service.NewSaleQueryService(saleRepo, nil)

	user := &models.User{Name: "Ana", Email: "ana@example.com", Phone: "555", PasswordHash: "x"}
	require.NoError(t, users.CreateUser(context.Background(), user))

	return &pgFixture{
		db:      db,
		sales:   service.NewSaleService(users, saleRepo, query, utils.PickupCodeGenerator{}, decimal.RequireFromString("0.18"), 5*time.Second),
		query:   query,
		catalog: service.NewCatalogService(repository.NewProductRepository(db), repository.NewCategoryRepository(db)),
		userID:  user.ID,
	}
}

func (f *pgFixture) product(t *testing.T, sku, price string, stock int) *models.Product {
	t.Helper()
	p := decimal.RequireFromString(price)
	created, err := f.catalog.CreateProduct(context.Background(), &service.CreateProductRequest{
		Name: "Product " + sku, SKU: sku, Price: &p, Stock: &stock,
	})
	require.NoError(t, err)
	require.NotNil(t, created.Salable)
	return created
}

func (f *pgFixture) stock(t *testing.T, id int) int {
	t.Helper()
	p, err := f.catalog.GetProduct(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestPostgresCheckoutRoundTrip(t *testing.T) {
	f := newPgFixture(t, time.Second)
	p := f.product(t, "PAN-002", "48.00", 60)

	detail, err := f.sales.Checkout(context.Background(), &service.CheckoutRequest{
		UserID: f.userID,
		Items:  []service.SaleItemInput{{SalableProductID: p.Salable.ID, Quantity: 2}},
	})
	require.NoError(t, err)
	assert.True(t, detail.Sale.Total.Equal(decimal.RequireFromString("113.28")), "total %s", detail.Sale.Total)
	assert.Len(t, detail.Sale.Code, 6)
	require.NotNil(t, detail.Sale.UserEmail)
	assert.Equal(t, "ana@example.com", *detail.Sale.UserEmail)
	assert.Equal(t, 58, f.stock(t, p.ID))

	sales, _, err := f.query.ListSales(context.Background(), service.SaleListFilter{UserID: &f.userID})
	require.NoError(t, err)
	require.Len(t, sales, 1)
	assert.Equal(t, 2, sales[0].UnitsCount)

	// A sold product cannot be removed.
	assert.ErrorIs(t, f.catalog.DeleteProduct(context.Background(), p.ID), utils.ErrInUse)
}

func TestPostgresCheckoutRollsBack(t *testing.T) {
	f := newPgFixture(t, time.Second)
	a := f.product(t, "PAN-001", "90.00", 10)
	b := f.product(t, "CAF-002", "65.00", 1)

	_, err := f.sales.Checkout(context.Background(), &service.CheckoutRequest{
		UserID: f.userID,
		Items: []service.SaleItemInput{
			{SalableProductID: a.Salable.ID, Quantity: 3},
			{SalableProductID: b.Salable.ID, Quantity: 2},
		},
	})
	require.ErrorIs(t, err, utils.ErrInsufficientStock)

	assert.Equal(t, 10, f.stock(t, a.ID))
	var count int
	require.NoError(t, f.db.Get(&count, `SELECT COUNT(*) FROM sales`))
	assert.Zero(t, count)
}

func TestPostgresConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newPgFixture(t, 5*time.Second)
	p := f.product(t, "DUL-001", "38.00", 5)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		succeeded int
	)
	for i := 0; i < 15; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.sales.Checkout(context.Background(), &service.CheckoutRequest{
				UserID: f.userID,
				Items:  []service.SaleItemInput{{SalableProductID: p.Salable.ID, Quantity: 1}},
			})
			if err != nil && !errors.Is(err, utils.ErrInsufficientStock) {
				t.Errorf("unexpected error: %v", err)
				return
			}
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, f.stock(t, p.ID))
}

func TestPostgresLockTimeout(t *testing.T) {
	f := newPgFixture(t, 100*time.Millisecond)
	p := f.product(t, "PAN-003", "65.00", 5)

	holder, err := f.db.Beginx()
	require.NoError(t, err)
	defer holder.Rollback()
	_, err = holder.Exec(fmt.Sprintf(`SELECT id FROM products WHERE id = %d FOR UPDATE`, p.ID))
	require.NoError(t, err)

	_, err = f.sales.Checkout(context.Background(), &service.CheckoutRequest{
		UserID: f.userID,
		Items:  []service.SaleItemInput{{SalableProductID: p.Salable.ID, Quantity: 1}},
	})
	assert.ErrorIs(t, err, utils.ErrTransactionTimeout)
}

func TestPostgresTaxRateEdges(t *testing.T) {
	f := newPgFixture(t, time.Second)
	p := f.product(t, "PAN-004", "48.00", 5)
	items := []service.SaleItemInput{{SalableProductID: p.Salable.ID, Quantity: 1}}

	maxRate := decimal.RequireFromString("99.9999")
	preview, err := f.sales.Preview(context.Background(), &service.PreviewRequest{Items: items, Taxes: &maxRate})
	require.NoError(t, err)
	detail, err := f.sales.Checkout(context.Background(), &service.CheckoutRequest{UserID: f.userID, Items: items, Taxes: &maxRate})
	require.NoError(t, err)
	assert.True(t, detail.Sale.Total.Equal(preview.Summary.Total), "checkout %s preview %s", detail.Sale.Total, preview.Summary.Total)

	tooLarge := decimal.NewFromInt(100)
	_, err = f.sales.Checkout(context.Background(), &service.CheckoutRequest{UserID: f.userID, Items: items, Taxes: &tooLarge})
	assert.ErrorIs(t, err, utils.ErrValidation)
	assert.Equal(t, 4, f.stock(t, p.ID))
}
