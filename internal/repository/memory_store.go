package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// MemoryStore is an in-process implementation of every store the services
// use. Checkout semantics match the PostgreSQL store: product locks are
// exclusive and held until the transaction ends, and a transaction's writes
// become visible atomically at commit.
type MemoryStore struct {
	mu sync.RWMutex

	users             map[int]models.User
	products          map[int]models.Product
	salable           map[int]models.SalableProduct
	categories        map[int]models.Category
	productCategories map[int][]int
	sales             map[int]models.Sale
	items             []models.SaleItem

	seq map[string]int

	lockMu      sync.Mutex
	locks       map[int]chan struct{}
	lockTimeout time.Duration

	now func() time.Time
}

// NewMemoryStore returns an empty store. A positive lockTimeout bounds how
// long a checkout waits for a single product lock.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		users:             make(map[int]models.User),
		products:          make(map[int]models.Product),
		salable:           make(map[int]models.SalableProduct),
		categories:        make(map[int]models.Category),
		productCategories: make(map[int][]int),
		sales:             make(map[int]models.Sale),
		seq:               make(map[string]int),
		locks:             make(map[int]chan struct{}),
		lockTimeout:       lockTimeout,
		now:               time.Now,
	}
}

// nextID must be called with mu held for writing.
func (s *MemoryStore) nextID(table string) int {
	s.seq[table]++
	return s.seq[table]
}

func (s *MemoryStore) productLock(productID int) chan struct{} {
	s.lockMu.Lock()
	defer s.lockMu.Unlock()
	ch, ok := s.locks[productID]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[productID] = ch
	}
	return ch
}

// UserExists reports whether a user with id is registered.
func (s *MemoryStore) UserExists(_ context.Context, id int) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[id]
	return ok, nil
}

func (s *MemoryStore) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			u := u
			return &u, nil
		}
	}
	return nil, utils.ErrUserNotFound
}

func (s *MemoryStore) CreateUser(_ context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return fmt.Errorf("%w: email %s already registered", utils.ErrDuplicate, user.Email)
		}
		if u.Phone == user.Phone {
			return fmt.Errorf("%w: phone %s already registered", utils.ErrDuplicate, user.Phone)
		}
	}
	now := s.now()
	user.ID = s.nextID("users")
	user.CreatedAt, user.UpdatedAt = now, now
	s.users[user.ID] = *user
	return nil
}

// GetSalableProductsByIDs resolves salable products against committed
// state, keyed by salable product id.
func (s *MemoryStore) GetSalableProductsByIDs(_ context.Context, ids []int) (map[int]models.SalableProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[int]models.SalableProduct, len(ids))
	for _, id := range ids {
		sp, ok := s.salable[id]
		if !ok {
			continue
		}
		p := s.products[sp.ProductID]
		sp.Product = &p
		out[id] = sp
	}
	return out, nil
}

// BeginCheckout opens a checkout transaction.
func (s *MemoryStore) BeginCheckout(ctx context.Context) (CheckoutTx, error) {
	if err := ctxErr(ctx); err != nil {
		return nil, err
	}
	return &memCheckoutTx{
		store:      s,
		held:       make(map[int]chan struct{}),
		decrements: make(map[int]int),
	}, nil
}

// ListSales returns sale headers ordered by paid_at DESC, id DESC.
func (s *MemoryStore) ListSales(_ context.Context, filter SaleFilter) ([]models.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sales := make([]models.Sale, 0, len(s.sales))
	for _, sale := range s.sales {
		if filter.UserID != nil && sale.UserID != *filter.UserID {
			continue
		}
		sales = append(sales, s.withUser(sale))
	}
	sort.Slice(sales, func(i, j int) bool {
		a, b := sales[i], sales[j]
		switch {
		case a.PaidAt == nil && b.PaidAt != nil:
			return false
		case a.PaidAt != nil && b.PaidAt == nil:
			return true
		case a.PaidAt != nil && !a.PaidAt.Equal(*b.PaidAt):
			return a.PaidAt.After(*b.PaidAt)
		}
		return a.ID > b.ID
	})
	if filter.Limit > 0 && len(sales) > filter.Limit {
		sales = sales[:filter.Limit]
	}
	return sales, nil
}

// GetSale returns a single sale header.
func (s *MemoryStore) GetSale(_ context.Context, id int) (*models.Sale, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sale, ok := s.sales[id]
	if !ok {
		return nil, fmt.Errorf("%w: sale %d", utils.ErrSaleNotFound, id)
	}
	sale = s.withUser(sale)
	return &sale, nil
}

// GetSaleItems returns the items of the given sales ordered by sale then
// item id.
func (s *MemoryStore) GetSaleItems(_ context.Context, saleIDs []int) ([]models.SaleItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	want := make(map[int]bool, len(saleIDs))
	for _, id := range saleIDs {
		want[id] = true
	}
	items := []models.SaleItem{}
	for _, it := range s.items {
		if !want[it.SaleID] {
			continue
		}
		if sp, ok := s.salable[it.SalableProductID]; ok {
			p := s.products[sp.ProductID]
			it.ProductID, it.ProductName, it.ProductDescription = p.ID, p.Name, p.Description
		}
		items = append(items, it)
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].SaleID != items[j].SaleID {
			return items[i].SaleID < items[j].SaleID
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) withUser(sale models.Sale) models.Sale {
	if u, ok := s.users[sale.UserID]; ok {
		name, email := u.Name, u.Email
		sale.UserName, sale.UserEmail = &name, &email
	}
	return sale
}

type memCheckoutTx struct {
	store      *MemoryStore
	held       map[int]chan struct{}
	sale       *models.Sale
	items      []models.SaleItem
	decrements map[int]int
	done       bool
}

func (t *memCheckoutTx) CreateSale(ctx context.Context, sale *models.Sale) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	s := t.store
	s.mu.Lock()
	sale.ID = s.nextID("sales")
	s.mu.Unlock()

	now := s.now()
	sale.CreatedAt, sale.UpdatedAt = now, now
	staged := *sale
	t.sale = &staged
	return nil
}

func (t *memCheckoutTx) LockProductForUpdate(ctx context.Context, productID int) (*models.Product, error) {
	if err := t.check(ctx); err != nil {
		return nil, err
	}
	s := t.store

	s.mu.RLock()
	_, exists := s.products[productID]
	s.mu.RUnlock()
	if !exists {
		return nil, fmt.Errorf("%w: product %d", utils.ErrProductNotFound, productID)
	}

	if _, ok := t.held[productID]; !ok {
		lockCtx := ctx
		if s.lockTimeout > 0 {
			var cancel context.CancelFunc
			lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
			defer cancel()
		}
		ch := s.productLock(productID)
		select {
		case ch <- struct{}{}:
			t.held[productID] = ch
		case <-lockCtx.Done():
			return nil, fmt.Errorf("%w: waiting for lock on product %d", utils.ErrTransactionTimeout, productID)
		}
	}

	s.mu.RLock()
	p, ok := s.products[productID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: product %d", utils.ErrProductNotFound, productID)
	}
	p.Stock -= t.decrements[productID]
	return &p, nil
}

func (t *memCheckoutTx) CreateSaleItem(ctx context.Context, item *models.SaleItem) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if t.sale == nil || item.SaleID != t.sale.ID {
		return fmt.Errorf("sale item references sale %d outside this transaction", item.SaleID)
	}
	s := t.store
	s.mu.Lock()
	_, ok := s.salable[item.SalableProductID]
	if ok {
		item.ID = s.nextID("sale_items")
	}
	s.mu.Unlock()
	if !ok {
		return utils.ProductNotFound(item.SalableProductID)
	}

	now := s.now()
	item.CreatedAt, item.UpdatedAt = now, now
	t.items = append(t.items, *item)
	return nil
}

func (t *memCheckoutTx) DecrementStock(ctx context.Context, productID, amount int) error {
	if err := t.check(ctx); err != nil {
		return err
	}
	if _, ok := t.held[productID]; !ok {
		return fmt.Errorf("decrement stock for product %d without holding its lock", productID)
	}
	s := t.store
	s.mu.RLock()
	stock := s.products[productID].Stock
	s.mu.RUnlock()
	if stock-t.decrements[productID] < amount {
		return fmt.Errorf("%w: product %d", utils.ErrInsufficientStock, productID)
	}
	t.decrements[productID] += amount
	return nil
}

func (t *memCheckoutTx) Commit() error {
	if t.done {
		return errors.New("transaction already finished")
	}
	s := t.store
	s.mu.Lock()
	for id, n := range t.decrements {
		p := s.products[id]
		p.Stock -= n
		p.UpdatedAt = s.now()
		s.products[id] = p
	}
	if t.sale != nil {
		s.sales[t.sale.ID] = *t.sale
	}
	s.items = append(s.items, t.items...)
	s.mu.Unlock()

	t.release()
	return nil
}

func (t *memCheckoutTx) Rollback() error {
	if t.done {
		return nil
	}
	t.release()
	return nil
}

func (t *memCheckoutTx) release() {
	for id, ch := range t.held {
		<-ch
		delete(t.held, id)
	}
	t.done = true
}

func (t *memCheckoutTx) check(ctx context.Context) error {
	if t.done {
		return errors.New("transaction already finished")
	}
	return ctxErr(ctx)
}

func ctxErr(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %v", utils.ErrTransactionTimeout, err)
		}
		return err
	}
	return nil
}
