// Package cart exposes the only cart operation the checkout flow needs.
package cart

import "context"

// Clearer empties a shopper's cart once their payment is confirmed.
// Implementations must treat clearing an already empty or missing cart as
// success.
type Clearer interface {
	Clear(ctx context.Context, userID string) error
}

// Line is one product row of a cart.
type Line struct {
	ProductID string `json:"productId"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
}
