package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

const orderColumns = `id, user_id, items, amount, address, status, payment, payment_state,
	success_message, error_code, error_message, failure_reason,
	session_id, payment_intent_id, charge_id, paid_at, failed_at, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (id, user_id, items, amount, address, status, payment_state, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	attachSessionSQL = `UPDATE orders SET session_id = $2, updated_at = NOW()
	WHERE id = $1 AND payment_state = 'unset'`

	// applyPaymentSQL never touches a succeeded row and only lets a failure
	// replace an older failure. Empty ids keep the stored ones.
	applyPaymentSQL = `UPDATE orders SET
		payment_state     = $2::text,
		payment           = ($2::text = 'succeeded'),
		status            = $3,
		session_id        = COALESCE(NULLIF($4::text, ''), session_id),
		payment_intent_id = COALESCE(NULLIF($5::text, ''), payment_intent_id),
		success_message   = CASE WHEN $2::text = 'succeeded' THEN $6 ELSE success_message END,
		charge_id         = CASE WHEN $2::text = 'succeeded' THEN $7 ELSE charge_id END,
		paid_at           = CASE WHEN $2::text = 'succeeded' THEN $8::timestamptz ELSE paid_at END,
		error_code        = CASE WHEN $2::text = 'failed' THEN $9 ELSE error_code END,
		error_message     = CASE WHEN $2::text = 'failed' THEN $10 ELSE error_message END,
		failure_reason    = CASE WHEN $2::text = 'failed' THEN $11 ELSE failure_reason END,
		failed_at         = CASE WHEN $2::text = 'failed' THEN $8::timestamptz ELSE failed_at END,
		updated_at        = NOW()
	WHERE id = $1
		AND payment_state <> 'succeeded'
		AND NOT ($2::text = 'failed' AND payment_state = 'failed' AND failed_at >= $8::timestamptz)
	RETURNING ` + orderColumns

	updateStatusSQL = `UPDATE orders SET status = $2, updated_at = NOW()
	WHERE id = $1 AND payment_state = 'succeeded'`

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	listPaidSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE payment AND payment_state = 'succeeded' AND ($1::text = '' OR user_id = $1)
	ORDER BY created_at DESC`

	popularItemsSQL = `SELECT lower(item->>'name') AS name, SUM((item->>'quantity')::bigint)::bigint AS quantity
	FROM orders, jsonb_array_elements(items) AS item
	WHERE payment AND payment_state = 'succeeded'
	GROUP BY 1
	ORDER BY quantity DESC, name
	LIMIT $1`

	listMissingChargeSQL = `SELECT ` + orderColumns + ` FROM orders
	WHERE payment_state = 'succeeded' AND charge_id = '' AND payment_intent_id <> ''
	ORDER BY created_at
	LIMIT $1`

	recordChargeSQL = `UPDATE orders SET charge_id = $2, updated_at = NOW()
	WHERE id = $1 AND payment_state = 'succeeded' AND charge_id = ''`
)

var (
	_ order.Repository       = (*OrderRepository)(nil)
	_ order.ChargeRepository = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Items and address are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	itemsJSON, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshaling order items: %w", err)
	}
	addressJSON, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling order address: %w", err)
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, itemsJSON, o.Amount, addressJSON,
		string(o.Status), string(order.PaymentUnset), o.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, getOrderSQL, id)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	return &o, nil
}

// AttachSession links a gateway session to an order without an outcome.
func (r *OrderRepository) AttachSession(ctx context.Context, orderID, sessionID string) error {
	tag, err := r.pool.Exec(ctx, attachSessionSQL, orderID, sessionID)
	if err != nil {
		return fmt.Errorf("attaching session to order %q: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.checkExists(ctx, orderID)
	}
	return nil
}

// ApplyPayment performs the transition as one guarded UPDATE. When the guard
// rejects it, the current row is read back to tell a no-op from a missing
// order.
func (r *OrderRepository) ApplyPayment(ctx context.Context, orderID string, t order.Transition) (*order.Order, bool, error) {
	var successMessage string
	if t.Succeeds() {
		successMessage = order.SuccessMessage()
	}
	rows, err := r.pool.Query(ctx, applyPaymentSQL,
		orderID,
		string(t.To),
		string(t.Status()),
		t.SessionID,
		t.PaymentIntentID,
		successMessage,
		t.ChargeID,
		t.At.UTC(),
		t.ErrorCode,
		t.ErrorMessage,
		t.FailureReason,
	)
	if err != nil {
		return nil, false, fmt.Errorf("applying payment to order %q: %w", orderID, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	switch {
	case err == nil:
		return &o, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		cur, err := r.Get(ctx, orderID)
		if err != nil {
			return nil, false, err
		}
		return cur, false, nil
	default:
		return nil, false, fmt.Errorf("applying payment to order %q: %w", orderID, err)
	}
}

// UpdateStatus sets the fulfilment status of a paid order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	tag, err := r.pool.Exec(ctx, updateStatusSQL, orderID, string(status))
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", orderID, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}
	if err := r.checkExists(ctx, orderID); err != nil {
		return err
	}
	return order.ErrNotPayable
}

// ListPaid returns succeeded orders, newest first.
func (r *OrderRepository) ListPaid(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listPaidSQL, f.UserID)
	if err != nil {
		return nil, fmt.Errorf("listing paid orders: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// PopularItems aggregates item quantities over paid orders.
func (r *OrderRepository) PopularItems(ctx context.Context, limit int) ([]order.ItemPopularity, error) {
	rows, err := r.pool.Query(ctx, popularItemsSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("aggregating popular items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (order.ItemPopularity, error) {
		var p order.ItemPopularity
		err := row.Scan(&p.Name, &p.Quantity)
		return p, err
	})
}

// ListMissingCharge returns succeeded orders without a charge id, oldest first.
func (r *OrderRepository) ListMissingCharge(ctx context.Context, limit int) ([]order.Order, error) {
	rows, err := r.pool.Query(ctx, listMissingChargeSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("listing orders missing charge: %w", err)
	}
	return pgx.CollectRows(rows, scanOrder)
}

// RecordCharge fills in an empty charge id on a succeeded order.
func (r *OrderRepository) RecordCharge(ctx context.Context, orderID, chargeID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, recordChargeSQL, orderID, chargeID)
	if err != nil {
		return false, fmt.Errorf("recording charge for order %q: %w", orderID, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (r *OrderRepository) checkExists(ctx context.Context, orderID string) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, orderID).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", orderID, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                    order.Order
		items, address       []byte
		status, paymentState string
		paidAt, failedAt     *time.Time
	)
	err := row.Scan(
		&o.ID, &o.UserID, &items, &o.Amount, &address, &status, &o.Payment, &paymentState,
		&o.PaymentInfo.SuccessMessage, &o.PaymentInfo.ErrorCode, &o.PaymentInfo.ErrorMessage, &o.PaymentInfo.FailureReason,
		&o.PaymentInfo.SessionID, &o.PaymentInfo.PaymentIntentID, &o.PaymentInfo.ChargeID,
		&paidAt, &failedAt, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return order.Order{}, fmt.Errorf("scanning order: %w", err)
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling items of order %q: %w", o.ID, err)
	}
	if err := json.Unmarshal(address, &o.Address); err != nil {
		return order.Order{}, fmt.Errorf("unmarshaling address of order %q: %w", o.ID, err)
	}
	o.Status = order.Status(status)
	o.PaymentInfo.State = order.PaymentState(paymentState)
	o.PaymentInfo.PaidAt = paidAt
	o.PaymentInfo.FailedAt = failedAt
	return o, nil
}
