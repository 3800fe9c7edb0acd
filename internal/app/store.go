package app

import (
	"context"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/cart"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/storage/dynamo"
	"github.com/xenking/oolio-kart-checkout/internal/storage/memory"
	"github.com/xenking/oolio-kart-checkout/internal/storage/postgres"
	"github.com/xenking/oolio-kart-checkout/pkg/health"
)

// OrderStore is an order store that also supports charge backfills.
type OrderStore interface {
	order.Repository
	order.ChargeRepository
}

// CartStore is a cart store that can be seeded.
type CartStore interface {
	cart.Clearer
	Put(ctx context.Context, userID string, items []cart.Line) error
}

// APIKeyStore is an API key store that can be seeded.
type APIKeyStore interface {
	auth.Repository
	Upsert(ctx context.Context, k auth.APIKeyInfo) error
}

// Stores bundles the repositories of one backend.
type Stores struct {
	Orders  OrderStore
	Carts   CartStore
	APIKeys APIKeyStore
	// Check reports backend reachability for the readiness probe.
	Check health.CheckFunc

	close func()
}

// Close releases the backend connections.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStores connects to the configured backend and prepares its schema.
func OpenStores(ctx context.Context, cfg StoreConfig) (*Stores, error) {
	switch cfg.Driver {
	case DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "create db pool")
		}
		if err := postgres.RunMigrations(ctx, pool); err != nil {
			pool.Close()
			return nil, errors.Wrap(err, "run migrations")
		}
		return &Stores{
			Orders:  postgres.NewOrderRepository(pool),
			Carts:   postgres.NewCartRepository(pool),
			APIKeys: postgres.NewAPIKeyRepository(pool),
			Check:   health.PingCheck(pool),
			close:   pool.Close,
		}, nil
	case DriverDynamo:
		client, err := dynamo.NewClient(ctx, dynamo.ClientConfig{Region: cfg.Region, Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, errors.Wrap(err, "create dynamodb client")
		}
		if cfg.CreateTable {
			if err := dynamo.CreateTable(ctx, client, cfg.Table); err != nil {
				return nil, errors.Wrap(err, "create table")
			}
		}
		return &Stores{
			Orders:  dynamo.NewOrderRepository(client, cfg.Table),
			Carts:   dynamo.NewCartRepository(client, cfg.Table),
			APIKeys: dynamo.NewAPIKeyRepository(client, cfg.Table),
			Check: func(ctx context.Context) error {
				return dynamo.Ping(ctx, client, cfg.Table)
			},
		}, nil
	case DriverMemory:
		return &Stores{
			Orders:  memory.NewOrderStore(),
			Carts:   memory.NewCartStore(),
			APIKeys: memory.NewAPIKeyStore(),
			Check:   func(context.Context) error { return nil },
		}, nil
	default:
		return nil, errors.Errorf("unknown store driver %q", cfg.Driver)
	}
}
