package order

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Sentinel errors for order validation and state checks.
var (
	ErrUserRequired    = errors.New("user id required")
	ErrEmptyItems      = errors.New("items required")
	ErrAddressRequired = errors.New("delivery address incomplete")
	ErrAmountRequired  = errors.New("amount required")
	ErrOrderIDRequired = errors.New("order id required")
	ErrSessionRequired = errors.New("session id required")
	ErrInvalidStatus   = errors.New("invalid order status")
	ErrNotFound        = errors.New("order not found")
	// ErrNotPayable is returned for fulfilment changes on an order whose
	// payment has not succeeded.
	ErrNotPayable = errors.New("order payment not confirmed")
)

// InvalidItemError indicates a malformed line item.
type InvalidItemError struct {
	Index  int
	Reason string
}

func (e *InvalidItemError) Error() string {
	return fmt.Sprintf("item %d: %s", e.Index, e.Reason)
}

// AmountMismatchError indicates the client-supplied amount differs from the
// computed order total.
type AmountMismatchError struct {
	Want decimal.Decimal
	Got  decimal.Decimal
}

func (e *AmountMismatchError) Error() string {
	return fmt.Sprintf("amount %s does not match order total %s", e.Got.StringFixed(2), e.Want.StringFixed(2))
}

// GatewayError reports a failed call to the payment gateway. It is a
// non-fatal failure: no local state was lost.
type GatewayError struct {
	Op  string
	Err error
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("payment gateway %s: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }
