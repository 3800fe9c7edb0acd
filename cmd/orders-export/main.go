// Command orders-export writes every paid order as gzip-compressed JSON lines.
package main

import (
	"bufio"
	"context"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	pgzip "github.com/klauspost/pgzip"

	"github.com/xenking/oolio-kart-checkout/internal/app"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

const blockSize = 1 << 20

func main() {
	var (
		store  app.StoreConfig
		out    string
		userID string
	)
	flag.StringVar(&store.Driver, "driver", app.DriverPostgres, "store backend: postgres or dynamodb")
	flag.StringVar(&store.DatabaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&store.Table, "table", "kart", "DynamoDB table name")
	flag.StringVar(&store.Region, "region", "us-east-1", "AWS region")
	flag.StringVar(&store.Endpoint, "endpoint", "", "DynamoDB endpoint override")
	flag.StringVar(&out, "out", "paid-orders.jsonl.gz", "output file")
	flag.StringVar(&userID, "user", "", "only export this user's orders")
	flag.Parse()

	if store.DatabaseURL == "" {
		store.DatabaseURL = os.Getenv("DATABASE_URL")
	}
	if err := store.Validate(); err != nil {
		slog.Error("invalid store settings", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, store, out, userID); err != nil {
		slog.Error("export failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg app.StoreConfig, path, userID string) error {
	stores, err := app.OpenStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer stores.Close()

	orders, err := stores.Orders.ListPaid(ctx, order.ListFilter{UserID: userID})
	if err != nil {
		return errors.Wrap(err, "list paid orders")
	}

	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer f.Close()

	gz := pgzip.NewWriter(f)
	if err := gz.SetConcurrency(blockSize, runtime.GOMAXPROCS(0)); err != nil {
		return errors.Wrap(err, "configure gzip")
	}
	if err := writeOrders(gz, orders); err != nil {
		return err
	}
	if err := gz.Close(); err != nil {
		return errors.Wrap(err, "finish gzip stream")
	}
	if err := f.Sync(); err != nil {
		return errors.Wrap(err, "sync output")
	}

	slog.Info("export completed", slog.String("path", path), slog.Int("orders", len(orders)))
	return nil
}

// writeOrders encodes one JSON object per line.
func writeOrders(w io.Writer, orders []order.Order) error {
	bw := bufio.NewWriterSize(w, blockSize)
	var e jx.Encoder
	for _, o := range orders {
		e.Reset()
		encodeOrder(&e, o)
		e.RawStr("\n")
		if _, err := bw.Write(e.Bytes()); err != nil {
			return errors.Wrapf(err, "write order %s", o.ID)
		}
	}
	return errors.Wrap(bw.Flush(), "flush")
}

func encodeOrder(e *jx.Encoder, o order.Order) {
	p := o.PaymentInfo
	e.ObjStart()
	e.FieldStart("id")
	e.Str(o.ID)
	e.FieldStart("userId")
	e.Str(o.UserID)
	e.FieldStart("amount")
	e.Str(o.Amount.StringFixed(2))
	e.FieldStart("status")
	e.Str(string(o.Status))
	e.FieldStart("items")
	e.ArrStart()
	for _, it := range o.Items {
		e.ObjStart()
		e.FieldStart("name")
		e.Str(it.Name)
		e.FieldStart("price")
		e.Str(it.UnitPrice.StringFixed(2))
		e.FieldStart("quantity")
		e.Int(it.Quantity)
		e.ObjEnd()
	}
	e.ArrEnd()
	e.FieldStart("paymentIntentId")
	e.Str(p.PaymentIntentID)
	e.FieldStart("chargeId")
	e.Str(p.ChargeID)
	if p.PaidAt != nil {
		e.FieldStart("paidAt")
		e.Str(p.PaidAt.UTC().Format(time.RFC3339))
	}
	e.FieldStart("createdAt")
	e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
	e.ObjEnd()
}
