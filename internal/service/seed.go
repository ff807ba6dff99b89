package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"

	"github.com/GTDGit/bakery_api/internal/utils"
)

type seedProduct struct {
	name, sku, description string
	categories             []string
	cost                   string
	price                  string // empty: not for sale
	stock                  int
}

var (
	seedUsers = []RegisterRequest{
		{Name: "Admin La Espiga", Email: "admin@laespiga.do", Phone: "5550000001", Password: "password"},
		{Name: "Cliente La Espiga", Email: "cliente@laespiga.do", Phone: "5550000002", Password: "password"},
	}

	seedCategories = []string{"Artesanal", "Dulces", "Bebidas", "Pan", "Insumos"}

	seedProducts = []seedProduct{
		{"Hogaza masa madre", "PAN-001", "Fermentacion lenta 24h, corteza crujiente.", []string{"Pan", "Artesanal"}, "38.50", "90.00", 40},
		{"Baguette rustica", "PAN-002", "Miga aireada y corteza dorada.", []string{"Pan", "Artesanal"}, "18.50", "48.00", 60},
		{"Pan de semillas", "PAN-003", "Linaza, girasol y avena.", []string{"Pan", "Artesanal"}, "24.90", "65.00", 35},
		{"Croissant mantequilla", "DUL-001", "Laminado a mano, mantequilla local.", []string{"Dulces"}, "15.20", "38.00", 50},
		{"Rol de canela", "DUL-002", "Glaseado de vainilla y especias suaves.", []string{"Dulces"}, "18.70", "44.00", 45},
		{"Cafe latte", "CAF-001", "Espresso doble con leche vaporizada.", []string{"Bebidas"}, "19.80", "55.00", 999},
		{"Cold brew", "CAF-002", "Infusion en frio 18h, servido con hielo.", []string{"Bebidas"}, "22.40", "65.00", 120},
		{"Masa madre base", "INS-001", "Cultivo para uso interno, no se vende.", []string{"Insumos"}, "85.00", "", 10},
		{"Charola de acero", "INS-002", "Charolas para horneado, inventario interno.", []string{"Insumos"}, "480.00", "", 15},
		{"Caja para llevar", "INS-003", "Empaque para pan dulce, control interno.", []string{"Insumos"}, "6.50", "", 200},
	}
)

// SeedDemoData loads the demo bakery: two users, the categories and a
// catalog where raw materials carry no price. Rows that already exist are
// skipped, so it is safe to run against a seeded database.
func SeedDemoData(ctx context.Context, auth *AuthService, catalog *CatalogService) error {
	for i := range seedUsers {
		if _, err := auth.Register(ctx, &seedUsers[i]); err != nil && !errors.Is(err, utils.ErrDuplicate) {
			return err
		}
	}

	existing, err := catalog.ListCategories(ctx)
	if err != nil {
		return err
	}
	categoryIDs := make(map[string]int, len(existing))
	for _, c := range existing {
		categoryIDs[c.Name] = c.ID
	}
	for _, name := range seedCategories {
		if _, ok := categoryIDs[name]; ok {
			continue
		}
		name := name
		c, err := catalog.CreateCategory(ctx, &CategoryRequest{Name: &name})
		if err != nil {
			return err
		}
		categoryIDs[c.Name] = c.ID
	}

	created := 0
	for _, sp := range seedProducts {
		req := seedProductRequest(sp, categoryIDs)
		if _, err := catalog.CreateProduct(ctx, req); err != nil {
			if errors.Is(err, utils.ErrDuplicate) {
				continue
			}
			return err
		}
		created++
	}

	log.Info().Int("products", created).Msg("Demo data seeded")
	return nil
}

func seedProductRequest(sp seedProduct, categoryIDs map[string]int) *CreateProductRequest {
	description := sp.description
	cost := decimal.RequireFromString(sp.cost)
	stock := sp.stock
	req := &CreateProductRequest{
		Name:        sp.name,
		SKU:         sp.sku,
		Description: &description,
		Cost:        &cost,
		Stock:       &stock,
	}
	if sp.price != "" {
		price := decimal.RequireFromString(sp.price)
		req.Price = &price
	}
	for _, name := range sp.categories {
		req.Categories = append(req.Categories, categoryIDs[name])
	}
	return req
}
