package dynamo

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/go-faster/errors"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
)

var _ auth.Repository = (*APIKeyRepository)(nil)

// APIKeyRepository looks up API keys stored under APIKEY#<hash> keys.
type APIKeyRepository struct {
	client API
	table  string
}

// NewAPIKeyRepository returns an APIKeyRepository over the given table.
func NewAPIKeyRepository(client API, table string) *APIKeyRepository {
	return &APIKeyRepository{client: client, table: table}
}

type apiKeyRecord struct {
	PK      string   `dynamodbav:"pk"`
	ID      string   `dynamodbav:"id"`
	KeyHash string   `dynamodbav:"key_hash"`
	Name    string   `dynamodbav:"name"`
	Scopes  []string `dynamodbav:"scopes"`
	Active  bool     `dynamodbav:"active"`
}

// FindByHash returns the active key with the given hash or auth.ErrKeyNotFound.
func (r *APIKeyRepository) FindByHash(ctx context.Context, hash string) (*auth.APIKeyInfo, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(r.table),
		Key:       key(apiKeyPK(hash)),
	})
	if err != nil {
		return nil, fmt.Errorf("finding api key by hash: %w", err)
	}
	if len(out.Item) == 0 {
		return nil, auth.ErrKeyNotFound
	}
	var rec apiKeyRecord
	if err := attributevalue.UnmarshalMap(out.Item, &rec); err != nil {
		return nil, errors.Wrap(err, "unmarshal api key")
	}
	if !rec.Active {
		return nil, auth.ErrKeyNotFound
	}
	return &auth.APIKeyInfo{ID: rec.ID, KeyHash: rec.KeyHash, Name: rec.Name, Scopes: rec.Scopes}, nil
}

// Upsert stores an active API key.
func (r *APIKeyRepository) Upsert(ctx context.Context, k auth.APIKeyInfo) error {
	item, err := attributevalue.MarshalMap(apiKeyRecord{
		PK: apiKeyPK(k.KeyHash), ID: k.ID, KeyHash: k.KeyHash, Name: k.Name, Scopes: k.Scopes, Active: true,
	})
	if err != nil {
		return errors.Wrap(err, "marshal api key")
	}
	if _, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(r.table), Item: item}); err != nil {
		return fmt.Errorf("upserting api key %q: %w", k.Name, err)
	}
	return nil
}
