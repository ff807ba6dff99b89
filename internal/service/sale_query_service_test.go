package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/repository"
	"github.com/GTDGit/bakery_api/internal/utils"
)

type memoryCache struct {
	mu      sync.Mutex
	entries map[int][]byte
	hits    int
}

func newMemoryCache() *memoryCache {
	return &memoryCache{entries: make(map[int][]byte)}
}

func (c *memoryCache) GetSale(_ context.Context, saleID int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	payload, ok := c.entries[saleID]
	if ok {
		c.hits++
	}
	return payload, nil
}

func (c *memoryCache) SetSale(_ context.Context, saleID int, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[saleID] = payload
	return nil
}

func TestClampSaleListLimit(t *testing.T) {
	cases := []struct {
		name  string
		limit *int
		want  int
	}{
		{"default", nil, DefaultSaleListLimit},
		{"zero", intPtr(0), 1},
		{"negative", intPtr(-7), 1},
		{"within", intPtr(25), 25},
		{"max", intPtr(MaxSaleListLimit), MaxSaleListLimit},
		{"above max", intPtr(10000), MaxSaleListLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClampSaleListLimit(tc.limit))
		})
	}
}

func TestListSalesNewestFirstWithLimitAndUserFilter(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, _ := f.addProduct(t, "Baguette", "48.00", 100)

	other := &models.User{Name: "Luis", Email: "luis@example.com", Phone: "5559876543", PasswordHash: "x"}
	require.NoError(t, f.store.CreateUser(context.Background(), other))

	var ids []int
	for i := 1; i <= 3; i++ {
		detail, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: i})
		require.NoError(t, err)
		ids = append(ids, detail.Sale.ID)
	}
	_, err := f.sales.Checkout(context.Background(), &CheckoutRequest{
		UserID: other.ID,
		Items:  []SaleItemInput{{SalableProductID: spID, Quantity: 1}},
	})
	require.NoError(t, err)

	limit := 2
	sales, effective, err := f.query.ListSales(context.Background(), SaleListFilter{UserID: &f.user.ID, Limit: &limit})
	require.NoError(t, err)
	assert.Equal(t, 2, effective)
	require.Len(t, sales, 2)
	assert.Equal(t, ids[2], sales[0].ID)
	assert.Equal(t, ids[1], sales[1].ID)
	for _, s := range sales {
		assert.Equal(t, f.user.ID, s.UserID)
	}

	assert.Equal(t, 3, sales[0].UnitsCount)
	assert.Equal(t, 1, sales[0].LineCount)
	assert.True(t, sales[0].Subtotal.Equal(dec("144.00")), "subtotal %s", sales[0].Subtotal)
	assert.True(t, sales[0].Total.Equal(dec("169.92")), "total %s", sales[0].Total)

	all, effective, err := f.query.ListSales(context.Background(), SaleListFilter{})
	require.NoError(t, err)
	assert.Equal(t, DefaultSaleListLimit, effective)
	assert.Len(t, all, 4)
}

func TestListSalesEmpty(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	sales, _, err := f.query.ListSales(context.Background(), SaleListFilter{})
	require.NoError(t, err)
	assert.NotNil(t, sales)
	assert.Empty(t, sales)
}

func TestGetSaleNotFound(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	_, err := f.query.GetSale(context.Background(), 12345)
	assert.ErrorIs(t, err, utils.ErrSaleNotFound)
}

func TestGetSaleKeepsPriceCharged(t *testing.T) {
	f := newSaleFixture(t, 0, 0)
	spID, pID := f.addProduct(t, "Baguette", "48.00", 10)

	detail, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 2})
	require.NoError(t, err)

	catalog := NewCatalogService(f.store, f.store)
	_, err = catalog.UpdateProduct(context.Background(), pID, &UpdateProductRequest{
		Price: NullableDecimal{Set: true, Value: decPtr("60.00")},
	})
	require.NoError(t, err)

	reread, err := f.query.GetSale(context.Background(), detail.Sale.ID)
	require.NoError(t, err)
	require.Len(t, reread.Items, 1)
	assert.True(t, reread.Items[0].UnitPrice.Equal(dec("48.00")))
	assert.True(t, reread.Sale.Total.Equal(dec("113.28")), "total %s", reread.Sale.Total)
}

func TestGetSaleServedFromCache(t *testing.T) {
	store := repository.NewMemoryStore(0)
	cache := newMemoryCache()
	query := NewSaleQueryService(store, cache)
	sales := NewSaleService(store, store, query, fixedCode("000111"), dec("0.18"), 0)
	f := &saleFixture{store: store, sales: sales, query: query}
	f.user = &models.User{Name: "Ana", Email: "ana@example.com", Phone: "1", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(context.Background(), f.user))
	spID, _ := f.addProduct(t, "Croissant", "38.00", 10)

	detail, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 1})
	require.NoError(t, err)
	require.Contains(t, cache.entries, detail.Sale.ID)

	// Overwrite the cached copy; a hit must return it as stored.
	tampered := *detail
	tampered.Sale.Code = "999999"
	payload, err := json.Marshal(tampered)
	require.NoError(t, err)
	require.NoError(t, cache.SetSale(context.Background(), detail.Sale.ID, payload))

	got, err := query.GetSale(context.Background(), detail.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "999999", got.Sale.Code)
	assert.Equal(t, 1, cache.hits)
}

func TestGetSaleDiscardsUndecodableCacheEntry(t *testing.T) {
	store := repository.NewMemoryStore(0)
	cache := newMemoryCache()
	query := NewSaleQueryService(store, cache)
	sales := NewSaleService(store, store, query, fixedCode("000222"), dec("0.18"), 0)
	f := &saleFixture{store: store, sales: sales, query: query}
	f.user = &models.User{Name: "Ana", Email: "ana@example.com", Phone: "1", PasswordHash: "x"}
	require.NoError(t, store.CreateUser(context.Background(), f.user))
	spID, _ := f.addProduct(t, "Croissant", "38.00", 10)

	detail, err := f.checkout(SaleItemInput{SalableProductID: spID, Quantity: 1})
	require.NoError(t, err)
	cache.entries[detail.Sale.ID] = []byte("{not json")

	got, err := query.GetSale(context.Background(), detail.Sale.ID)
	require.NoError(t, err)
	assert.Equal(t, "000222", got.Sale.Code)
}
