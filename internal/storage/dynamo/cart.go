package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/xenking/oolio-kart-checkout/internal/domain/cart"
)

var _ cart.Clearer = (*CartRepository)(nil)

// CartRepository stores shopper carts under CART# keys.
type CartRepository struct {
	client API
	table  string
}

// NewCartRepository returns a CartRepository over the given table.
func NewCartRepository(client API, table string) *CartRepository {
	return &CartRepository{client: client, table: table}
}

type cartRecord struct {
	PK     string      `dynamodbav:"pk"`
	UserID string      `dynamodbav:"user_id"`
	Items  []cart.Line `dynamodbav:"items"`
}

// Clear deletes the user's cart. Deleting a missing item succeeds.
func (r *CartRepository) Clear(ctx context.Context, userID string) error {
	_, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(r.table),
		Key:       key(cartPK(userID)),
	})
	if err != nil {
		return fmt.Errorf("clearing cart of user %q: %w", userID, err)
	}
	return nil
}

// Put replaces the user's cart contents.
func (r *CartRepository) Put(ctx context.Context, userID string, items []cart.Line) error {
	item, err := attributevalue.MarshalMap(cartRecord{PK: cartPK(userID), UserID: userID, Items: items})
	if err != nil {
		return fmt.Errorf("marshaling cart: %w", err)
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(r.table), Item: item}); err != nil {
		return fmt.Errorf("storing cart of user %q: %w", userID, err)
	}
	return nil
}
