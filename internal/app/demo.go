package app

import (
	"context"
	"errors"

	"bazaar/internal/market"
	"bazaar/internal/memstore"

	"github.com/shopspring/decimal"
)

// Demo identities seeded by SeedDemo.
const (
	DemoBuyer    = "demo-buyer"
	DemoSeller   = "demo-seller"
	DemoPassword = "123456"
)

// ErrSeedUnsupported is returned when the product store cannot be seeded in process.
var ErrSeedUnsupported = errors.New("demo data can only be seeded into in-memory stores")

// SeedDemo loads a small catalog and a buyer payment password into the
// in-memory stores so the service can be exercised without a database.
func SeedDemo(ctx context.Context, s *Services) error {
	products, ok := s.Products.(*memstore.Products)
	if !ok {
		return ErrSeedUnsupported
	}
	for _, p := range []market.Product{
		{ID: "demo-lamp", Title: "Brass desk lamp", Description: "Works, minor scratches", Price: decimal.RequireFromString("19.90"), ImageURLs: []string{"https://img.example/lamp.png"}},
		{ID: "demo-kettle", Title: "Enamel kettle", Description: "1.5l, blue", Price: decimal.RequireFromString("12.50")},
		{ID: "demo-chair", Title: "Oak chair", Description: "Solid wood", Price: decimal.RequireFromString("45.00")},
	} {
		p.SellerID = DemoSeller
		p.Status = market.ProductOnSale
		products.Put(p)
	}
	return s.Credentials.SetPassword(ctx, DemoBuyer, DemoPassword)
}
