package order

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the fulfilment/display status of an order. It is kept apart from
// payment truth, which lives in PaymentInfo.
type Status string

const (
	StatusProcessing     Status = "processing"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusPaymentFailed  Status = "payment_failed"
)

// Operational reports whether an operator may set the status.
func (s Status) Operational() bool {
	switch s {
	case StatusProcessing, StatusOutForDelivery, StatusDelivered:
		return true
	default:
		return false
	}
}

// PaymentState is the recorded outcome of the order's payment.
// Succeeded is terminal; failed is not.
type PaymentState string

const (
	PaymentUnset     PaymentState = "unset"
	PaymentSucceeded PaymentState = "succeeded"
	PaymentFailed    PaymentState = "failed"
)

// Order is one checkout attempt and its payment outcome.
type Order struct {
	ID          string
	UserID      string
	Items       []Item
	Amount      decimal.Decimal
	Address     Address
	Status      Status
	Payment     bool
	PaymentInfo PaymentInfo
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Item is a single ordered line, snapshotted at checkout.
type Item struct {
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	Quantity  int             `json:"quantity"`
}

// Address is the delivery address snapshot taken at checkout.
type Address struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Street    string `json:"street"`
	City      string `json:"city"`
	State     string `json:"state"`
	Zipcode   string `json:"zipcode"`
	Country   string `json:"country"`
	Phone     string `json:"phone"`
}

// PaymentInfo is the reconciled payment sub-record of an order.
type PaymentInfo struct {
	State           PaymentState
	SuccessMessage  string
	ErrorCode       string
	ErrorMessage    string
	FailureReason   string
	SessionID       string
	PaymentIntentID string
	ChargeID        string
	PaidAt          *time.Time
	FailedAt        *time.Time
}

// ItemPopularity is an item name with the total quantity sold on paid orders.
// Names are grouped case-insensitively and reported lower-cased.
type ItemPopularity struct {
	Name     string
	Quantity int64
}

// PopularityKey is the grouping key of an item name in popularity rankings.
func PopularityKey(name string) string { return strings.ToLower(name) }

// ListFilter narrows paid order listings. An empty UserID lists all users.
type ListFilter struct {
	UserID string
}

// Repository is the durable order store. Every mutation after Create is a
// single conditional write evaluated by the store itself.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// AttachSession records the gateway session id on an order that has no
	// payment outcome yet.
	AttachSession(ctx context.Context, orderID, sessionID string) error
	// ApplyPayment writes t only if the order's payment has not succeeded
	// (see Order.Apply for the exact guard). It returns the order as stored
	// after the attempt and whether this call changed it. Returns ErrNotFound
	// for unknown orders.
	ApplyPayment(ctx context.Context, orderID string, t Transition) (*Order, bool, error)
	// UpdateStatus sets the fulfilment status only if the payment succeeded.
	// Returns ErrNotFound or ErrNotPayable otherwise.
	UpdateStatus(ctx context.Context, orderID string, status Status) error
	// ListPaid returns succeeded orders, newest first.
	ListPaid(ctx context.Context, f ListFilter) ([]Order, error)
	PopularItems(ctx context.Context, limit int) ([]ItemPopularity, error)
}

// ChargeRepository supports backfilling charge ids that could not be fetched
// when a payment was recorded.
type ChargeRepository interface {
	ListMissingCharge(ctx context.Context, limit int) ([]Order, error)
	// RecordCharge sets the charge id of a succeeded order whose charge id is
	// still empty. It reports whether the row changed.
	RecordCharge(ctx context.Context, orderID, chargeID string) (bool, error)
}

// PaidEvent is published downstream once per order when its payment is
// first recorded as succeeded.
type PaidEvent struct {
	OrderID         string          `json:"orderId"`
	UserID          string          `json:"userId"`
	Amount          decimal.Decimal `json:"amount"`
	PaymentIntentID string          `json:"paymentIntentId"`
	ChargeID        string          `json:"chargeId,omitempty"`
	PaidAt          time.Time       `json:"paidAt"`
}

// Publisher delivers paid-order notifications.
type Publisher interface {
	PublishPaid(ctx context.Context, e PaidEvent) error
}
