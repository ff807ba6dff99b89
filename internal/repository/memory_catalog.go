package repository

import (
	"context"
	"fmt"
	"sort"

	"github.com/GTDGit/bakery_api/internal/models"
	"github.com/GTDGit/bakery_api/internal/utils"
)

// ListProducts returns every product ordered by name with relations loaded.
func (s *MemoryStore) ListProducts(_ context.Context) ([]models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	products := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		products = append(products, s.hydrate(p))
	}
	sort.Slice(products, func(i, j int) bool {
		if products[i].Name != products[j].Name {
			return products[i].Name < products[j].Name
		}
		return products[i].ID < products[j].ID
	})
	return products, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id int) (*models.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return nil, fmt.Errorf("%w: product %d", utils.ErrProductNotFound, id)
	}
	p = s.hydrate(p)
	return &p, nil
}

// ListSalable returns the salable rows of active products ordered by id.
func (s *MemoryStore) ListSalable(_ context.Context) ([]models.SalableProduct, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.SalableProduct{}
	for _, sp := range s.salable {
		p, ok := s.products[sp.ProductID]
		if !ok || !p.IsActive {
			continue
		}
		p = s.hydrate(p)
		p.Salable = nil
		sp.Product = &p
		out = append(out, sp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateProduct(_ context.Context, w ProductWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p := w.Product
	if err := s.checkSKU(p.SKU, 0); err != nil {
		return err
	}
	if err := s.checkCategories(w); err != nil {
		return err
	}
	now := s.now()
	p.ID = s.nextID("products")
	p.CreatedAt, p.UpdatedAt = now, now
	s.products[p.ID] = stripRelations(*p)
	return s.writeRelations(w)
}

// UpdateProduct waits for the product lock so it never interleaves with an
// open checkout holding the same product.
func (s *MemoryStore) UpdateProduct(ctx context.Context, w ProductWrite) error {
	p := w.Product
	release, err := s.lockProduct(ctx, p.ID)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.products[p.ID]
	if !ok {
		return fmt.Errorf("%w: product %d", utils.ErrProductNotFound, p.ID)
	}
	if err := s.checkSKU(p.SKU, p.ID); err != nil {
		return err
	}
	if err := s.checkCategories(w); err != nil {
		return err
	}
	if w.SetPrice && w.Price == nil {
		if err := s.checkSalableUnused(p.ID); err != nil {
			return err
		}
	}
	if !w.SetStock {
		p.Stock = current.Stock
	}
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.now()
	s.products[p.ID] = stripRelations(*p)
	return s.writeRelations(w)
}

func (s *MemoryStore) DeleteProduct(ctx context.Context, id int) error {
	release, err := s.lockProduct(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.products[id]; !ok {
		return fmt.Errorf("%w: product %d", utils.ErrProductNotFound, id)
	}
	if err := s.checkSalableUnused(id); err != nil {
		return err
	}
	for spID, sp := range s.salable {
		if sp.ProductID == id {
			delete(s.salable, spID)
		}
	}
	delete(s.productCategories, id)
	delete(s.products, id)
	return nil
}

func (s *MemoryStore) ListCategories(_ context.Context) ([]models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) GetCategory(_ context.Context, id int) (*models.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return nil, fmt.Errorf("%w: category %d", utils.ErrCategoryNotFound, id)
	}
	return &c, nil
}

func (s *MemoryStore) CreateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkSlug(c.Slug, 0); err != nil {
		return err
	}
	now := s.now()
	c.ID = s.nextID("categories")
	c.CreatedAt, c.UpdatedAt = now, now
	s.categories[c.ID] = *c
	return nil
}

func (s *MemoryStore) UpdateCategory(_ context.Context, c *models.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.categories[c.ID]
	if !ok {
		return fmt.Errorf("%w: category %d", utils.ErrCategoryNotFound, c.ID)
	}
	if err := s.checkSlug(c.Slug, c.ID); err != nil {
		return err
	}
	c.CreatedAt = current.CreatedAt
	c.UpdatedAt = s.now()
	s.categories[c.ID] = *c
	return nil
}

func (s *MemoryStore) DeleteCategory(_ context.Context, id int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return fmt.Errorf("%w: category %d", utils.ErrCategoryNotFound, id)
	}
	delete(s.categories, id)
	for pid, ids := range s.productCategories {
		kept := ids[:0]
		for _, cid := range ids {
			if cid != id {
				kept = append(kept, cid)
			}
		}
		s.productCategories[pid] = kept
	}
	return nil
}

func (s *MemoryStore) lockProduct(ctx context.Context, productID int) (func(), error) {
	lockCtx := ctx
	if s.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, s.lockTimeout)
		defer cancel()
	}
	ch := s.productLock(productID)
	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-lockCtx.Done():
		return nil, fmt.Errorf("%w: waiting for lock on product %d", utils.ErrTransactionTimeout, productID)
	}
}

// The helpers below must be called with mu held.

func (s *MemoryStore) hydrate(p models.Product) models.Product {
	p.Categories = nil
	for _, cid := range s.productCategories[p.ID] {
		if c, ok := s.categories[cid]; ok {
			p.Categories = append(p.Categories, c)
		}
	}
	sort.Slice(p.Categories, func(i, j int) bool { return p.Categories[i].Name < p.Categories[j].Name })
	p.Salable = nil
	for _, sp := range s.salable {
		if sp.ProductID == p.ID {
			sp := sp
			p.Salable = &sp
			break
		}
	}
	return p
}

func (s *MemoryStore) writeRelations(w ProductWrite) error {
	p := w.Product
	if w.SetPrice {
		var existing *models.SalableProduct
		for _, sp := range s.salable {
			if sp.ProductID == p.ID {
				sp := sp
				existing = &sp
				break
			}
		}
		now := s.now()
		switch {
		case w.Price == nil && existing != nil:
			delete(s.salable, existing.ID)
			p.Salable = nil
		case w.Price == nil:
			p.Salable = nil
		case existing != nil:
			existing.Price = *w.Price
			existing.UpdatedAt = now
			s.salable[existing.ID] = *existing
			p.Salable = existing
		default:
			sp := models.SalableProduct{
				ID:        s.nextID("salable_products"),
				ProductID: p.ID,
				Price:     *w.Price,
				CreatedAt: now,
				UpdatedAt: now,
			}
			s.salable[sp.ID] = sp
			p.Salable = &sp
		}
	}
	if w.SetCategories {
		seen := make(map[int]bool, len(w.CategoryIDs))
		ids := make([]int, 0, len(w.CategoryIDs))
		for _, id := range w.CategoryIDs {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
		s.productCategories[p.ID] = ids
	}
	hydrated := s.hydrate(*p)
	p.Categories, p.Salable = hydrated.Categories, hydrated.Salable
	return nil
}

func (s *MemoryStore) checkSKU(sku string, selfID int) error {
	for _, other := range s.products {
		if other.ID != selfID && other.SKU == sku {
			return fmt.Errorf("%w: sku %s already exists", utils.ErrDuplicate, sku)
		}
	}
	return nil
}

func (s *MemoryStore) checkSlug(slug string, selfID int) error {
	for _, other := range s.categories {
		if other.ID != selfID && other.Slug == slug {
			return fmt.Errorf("%w: slug %s already exists", utils.ErrDuplicate, slug)
		}
	}
	return nil
}

func (s *MemoryStore) checkCategories(w ProductWrite) error {
	if !w.SetCategories {
		return nil
	}
	for _, id := range w.CategoryIDs {
		if _, ok := s.categories[id]; !ok {
			return fmt.Errorf("%w: category %d", utils.ErrCategoryNotFound, id)
		}
	}
	return nil
}

func (s *MemoryStore) checkSalableUnused(productID int) error {
	for _, it := range s.items {
		if sp, ok := s.salable[it.SalableProductID]; ok && sp.ProductID == productID {
			return fmt.Errorf("%w: product %d has recorded sales", utils.ErrInUse, productID)
		}
	}
	return nil
}

func stripRelations(p models.Product) models.Product {
	p.Categories = nil
	p.Salable = nil
	return p
}
