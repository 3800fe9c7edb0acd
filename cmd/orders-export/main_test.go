package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

func TestWriteOrders_GzipJSONLines(t *testing.T) {
	paidAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	orders := []order.Order{
		{
			ID:     "ord-1",
			UserID: "user-1",
			Amount: decimal.RequireFromString("20"),
			Status: order.StatusProcessing,
			Items: []order.Item{
				{Name: `Waffle "Deluxe"`, UnitPrice: decimal.RequireFromString("6.5"), Quantity: 2},
			},
			PaymentInfo: order.PaymentInfo{PaymentIntentID: "pi_1", ChargeID: "ch_1", PaidAt: &paidAt},
			CreatedAt:   paidAt.Add(-time.Minute),
		},
		{ID: "ord-2", UserID: "user-2", Amount: decimal.RequireFromString("4.5"), Status: order.StatusDelivered},
	}

	var buf bytes.Buffer
	gz := pgzip.NewWriter(&buf)
	require.NoError(t, writeOrders(gz, orders))
	require.NoError(t, gz.Close())

	r, err := pgzip.NewReader(&buf)
	require.NoError(t, err)
	defer r.Close()

	var lines []map[string]any
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		var line map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		lines = append(lines, line)
	}
	require.NoError(t, sc.Err())
	require.Len(t, lines, 2)

	first := lines[0]
	assert.Equal(t, "ord-1", first["id"])
	assert.Equal(t, "20.00", first["amount"])
	assert.Equal(t, "2025-03-01T12:00:00Z", first["paidAt"])
	items := first["items"].([]any)
	require.Len(t, items, 1)
	assert.Equal(t, `Waffle "Deluxe"`, items[0].(map[string]any)["name"])
	assert.Equal(t, float64(2), items[0].(map[string]any)["quantity"])

	assert.NotContains(t, lines[1], "paidAt")
	assert.Equal(t, []any{}, lines[1]["items"])
}
