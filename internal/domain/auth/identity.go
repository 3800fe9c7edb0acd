package auth

import "context"

type shopperKey struct{}

// WithShopper returns a context carrying the authenticated shopper's user id.
func WithShopper(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, shopperKey{}, userID)
}

// ShopperFrom returns the authenticated shopper's user id, if any.
func ShopperFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(shopperKey{}).(string)
	return id, ok && id != ""
}
