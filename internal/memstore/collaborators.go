package memstore

import (
	"context"
	"errors"
	"sync"

	"bazaar/internal/market"

	"golang.org/x/crypto/bcrypt"
)

// Cart is an in-memory shopping cart keyed by user.
type Cart struct {
	mu    sync.Mutex
	items map[string]map[string]struct{}
}

// NewCart constructs an empty cart.
func NewCart() *Cart {
	return &Cart{items: make(map[string]map[string]struct{})}
}

// Add puts a product in a user's cart.
func (c *Cart) Add(_ context.Context, userID, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.items[userID] == nil {
		c.items[userID] = make(map[string]struct{})
	}
	c.items[userID][productID] = struct{}{}
	return nil
}

func (c *Cart) Remove(_ context.Context, userID, productID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items[userID], productID)
	return nil
}

// Contains reports whether the product is in the user's cart.
func (c *Cart) Contains(userID, productID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[userID][productID]
	return ok
}

// Reviews is an in-memory record of reviewed orders.
type Reviews struct {
	mu       sync.Mutex
	reviewed map[string]bool
}

// NewReviews constructs an empty review store.
func NewReviews() *Reviews {
	return &Reviews{reviewed: make(map[string]bool)}
}

// MarkReviewed records that the buyer reviewed the order.
func (r *Reviews) MarkReviewed(orderID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reviewed[orderID] = true
}

func (r *Reviews) IsReviewed(_ context.Context, orderID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reviewed[orderID], nil
}

// Credentials keeps bcrypt hashes of payment passwords in memory.
type Credentials struct {
	mu     sync.Mutex
	hashes map[string][]byte
	cost   int
}

// NewCredentials constructs an empty credential store.
func NewCredentials() *Credentials {
	return &Credentials{hashes: make(map[string][]byte), cost: bcrypt.MinCost}
}

// SetPassword stores the hash of a user's payment password.
func (c *Credentials) SetPassword(_ context.Context, userID, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), c.cost)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hashes[userID] = hash
	return nil
}

func (c *Credentials) Verify(_ context.Context, userID, password string) (bool, error) {
	c.mu.Lock()
	hash, ok := c.hashes[userID]
	c.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword(hash, []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Notifications records every delivered event per recipient.
type Notifications struct {
	mu     sync.Mutex
	events map[string][]market.Event
	Err    error
}

// NewNotifications constructs an empty recorder.
func NewNotifications() *Notifications {
	return &Notifications{events: make(map[string][]market.Event)}
}

func (n *Notifications) Notify(_ context.Context, recipientID string, event market.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.events[recipientID] = append(n.events[recipientID], event)
	return nil
}

// Events returns the events delivered to a recipient.
func (n *Notifications) Events(recipientID string) []market.Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]market.Event(nil), n.events[recipientID]...)
}
