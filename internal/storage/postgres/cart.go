package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-kart-checkout/internal/domain/cart"
)

const (
	clearCartSQL = `DELETE FROM carts WHERE user_id = $1`

	putCartSQL = `INSERT INTO carts (user_id, items, updated_at) VALUES ($1, $2, NOW())
	ON CONFLICT (user_id) DO UPDATE SET items = EXCLUDED.items, updated_at = NOW()`
)

var _ cart.Clearer = (*CartRepository)(nil)

// CartRepository stores shopper carts. Only whole-cart operations are
// supported; quantity bookkeeping lives with the cart service.
type CartRepository struct {
	pool *pgxpool.Pool
}

// NewCartRepository returns a CartRepository that uses the given pool.
func NewCartRepository(pool *pgxpool.Pool) *CartRepository {
	return &CartRepository{pool: pool}
}

// Clear empties the user's cart. Clearing an absent cart is not an error.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	if _, err := r.pool.Exec(ctx, clearCartSQL, userID); err != nil {
		return fmt.Errorf("clearing cart of user %q: %w", userID, err)
	}
	return nil
}

// Put replaces the user's cart contents.
func (r *CartRepository) Put(ctx context.Context, userID string, items []cart.Line) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshaling cart items: %w", err)
	}
	if _, err := r.pool.Exec(ctx, putCartSQL, userID, data); err != nil {
		return fmt.Errorf("storing cart of user %q: %w", userID, err)
	}
	return nil
}
