// Command reconcile-charges records the charge ids of succeeded orders whose
// charge lookup failed when the payment was confirmed.
package main

import (
	"context"
	"flag"
	"os"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	appkg "github.com/xenking/oolio-kart-checkout/internal/app"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/gateway/stripe"
)

func main() {
	var (
		store       appkg.StoreConfig
		limit       int
		concurrency int
	)
	flag.StringVar(&store.Driver, "driver", appkg.DriverPostgres, "store backend: postgres or dynamodb")
	flag.StringVar(&store.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&store.Table, "table", "kart", "DynamoDB table name")
	flag.StringVar(&store.Region, "region", "us-east-1", "AWS region")
	flag.StringVar(&store.Endpoint, "endpoint", "", "DynamoDB endpoint override")
	flag.IntVar(&limit, "limit", 500, "maximum orders to reconcile in one run")
	flag.IntVar(&concurrency, "concurrency", 4, "parallel gateway lookups")
	flag.Parse()

	if store.DatabaseURL == "" {
		store.DatabaseURL = os.Getenv("DATABASE_URL")
	}

	app.Run(func(ctx context.Context, lg *zap.Logger, _ *app.Telemetry) error {
		if err := store.Validate(); err != nil {
			return err
		}
		return run(zctx.Base(ctx, lg), lg, store, limit, concurrency)
	})
}

func run(ctx context.Context, lg *zap.Logger, cfg appkg.StoreConfig, limit, concurrency int) error {
	stores, err := appkg.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	gateway, err := stripe.New(stripe.Config{SecretKey: os.Getenv("STRIPE_SECRET_KEY")}, nil)
	if err != nil {
		return errors.Wrap(err, "create gateway")
	}

	stats, err := order.NewChargeReconciler(stores.Orders, gateway, concurrency).Run(ctx, limit)
	if err != nil {
		return errors.Wrap(err, "reconcile charges")
	}
	lg.Info("Reconcile finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("recorded", stats.Recorded),
		zap.Int("failed", stats.Failed),
	)
	return nil
}
