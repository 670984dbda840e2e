package memstore

import (
	"context"
	"sync"

	"bazaar/internal/market"
)

// Products is an in-memory product catalog.
type Products struct {
	mu       sync.Mutex
	products map[string]market.Product
}

// NewProducts constructs an empty catalog.
func NewProducts() *Products {
	return &Products{products: make(map[string]market.Product)}
}

// Put inserts or replaces a product.
func (p *Products) Put(product market.Product) {
	p.mu.Lock()
	defer p.mu.Unlock()
	product.ImageURLs = append([]string(nil), product.ImageURLs...)
	p.products[product.ID] = product
}

func (p *Products) FindProduct(_ context.Context, id string) (market.Product, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	product, ok := p.products[id]
	if !ok {
		return market.Product{}, market.ErrNotFound
	}
	product.ImageURLs = append([]string(nil), product.ImageURLs...)
	return product, nil
}

func (p *Products) FindImages(_ context.Context, id string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	product, ok := p.products[id]
	if !ok {
		return nil, market.ErrNotFound
	}
	return append([]string(nil), product.ImageURLs...), nil
}

func (p *Products) TryTransition(_ context.Context, id string, expected, next market.ProductStatus) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	product, ok := p.products[id]
	if !ok || product.Status != expected {
		return false, nil
	}
	product.Status = next
	p.products[id] = product
	return true, nil
}

// Status returns the current status of a product.
func (p *Products) Status(id string) market.ProductStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.products[id].Status
}
