package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"

	"github.com/xenking/oolio-kart-checkout/internal/app"
	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/cart"
	"github.com/xenking/oolio-kart-checkout/internal/handler"
)

// demoCart is what the storefront shows a fresh demo shopper.
var demoCart = []cart.Line{
	{ProductID: "waffle", Name: "Waffle with Berries", Quantity: 2},
	{ProductID: "latte", Name: "Caffe Latte", Quantity: 1},
}

func main() {
	var (
		store        app.StoreConfig
		apiKey       string
		apiKeyPepper string
		demoUser     string
	)

	flag.StringVar(&store.Driver, "driver", app.DriverPostgres, "store backend: postgres or dynamodb")
	flag.StringVar(&store.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&store.Table, "table", "kart", "DynamoDB table name")
	flag.StringVar(&store.Region, "region", "us-east-1", "AWS region")
	flag.StringVar(&store.Endpoint, "endpoint", "", "DynamoDB endpoint override")
	flag.BoolVar(&store.CreateTable, "create-table", false, "create the DynamoDB table if missing")
	flag.StringVar(&apiKey, "api-key", "", "operator API key to seed (or KART_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or KART_API_KEY_PEPPER env)")
	flag.StringVar(&demoUser, "demo-user", "", "user id to seed a demo cart for; empty skips it")
	flag.Parse()

	if store.DatabaseURL == "" {
		store.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("KART_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("KART_API_KEY_PEPPER")
	}
	if err := store.Validate(); err != nil {
		slog.Error("invalid store settings", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if apiKey == "" {
		slog.Error("API key is required: set --api-key or KART_SEED_API_KEY")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, store, apiKey, apiKeyPepper, demoUser); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, cfg app.StoreConfig, apiKey, pepper, demoUser string) error {
	slog.Info("opening store", slog.String("driver", cfg.Driver))

	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	key := auth.APIKeyInfo{
		ID:      "operator",
		KeyHash: handler.HashAPIKey([]byte(pepper), apiKey),
		Name:    "Default operator key",
		Scopes:  []string{auth.ScopeOrdersAdmin},
	}
	if err := stores.APIKeys.Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "upsert operator API key")
	}
	slog.Info("upserted API key", slog.String("id", key.ID), slog.Any("scopes", key.Scopes))

	if demoUser == "" {
		return nil
	}
	if err := stores.Carts.Put(ctx, demoUser, demoCart); err != nil {
		return errors.Wrap(err, "seed demo cart")
	}
	slog.Info("seeded demo cart", slog.String("user_id", demoUser), slog.Int("lines", len(demoCart)))
	return nil
}
