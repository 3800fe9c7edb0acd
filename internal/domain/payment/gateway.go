package payment

import (
	"context"

	"github.com/go-faster/errors"
)

// ErrInvalidSignature is returned when a webhook payload fails signature
// verification against the shared webhook secret.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// ErrMalformedEvent is returned when a correctly signed payload cannot be decoded.
var ErrMalformedEvent = errors.New("malformed webhook event")

// SessionPaymentStatus mirrors the gateway's payment status of a checkout session.
type SessionPaymentStatus string

const (
	SessionPaid              SessionPaymentStatus = "paid"
	SessionUnpaid            SessionPaymentStatus = "unpaid"
	SessionNoPaymentRequired SessionPaymentStatus = "no_payment_required"
)

// Settled reports whether the status means the shopper has been charged
// (or owes nothing).
func (s SessionPaymentStatus) Settled() bool {
	return s == SessionPaid || s == SessionNoPaymentRequired
}

// LineItem is a single priced row of a hosted checkout page.
type LineItem struct {
	Name string
	// UnitAmount is expressed in the currency's minor unit (cents).
	UnitAmount int64
	Quantity   int64
}

// CheckoutRequest describes a hosted checkout session to create.
type CheckoutRequest struct {
	// OrderID is sent both as the client reference and as metadata so that
	// every later event can be correlated back to the order.
	OrderID    string
	LineItems  []LineItem
	SuccessURL string
	CancelURL  string
}

// Session is the part of a gateway checkout session the service reconciles on.
type Session struct {
	ID              string
	URL             string
	OrderID         string
	PaymentIntentID string
	PaymentStatus   SessionPaymentStatus
}

// IntentDetail is the fuller payment intent view fetched after success.
type IntentDetail struct {
	ID       string
	ChargeID string
}

// Gateway is the single payment gateway the service talks to.
//
// Every method that goes over the network takes a context; callers bound it
// with the configured gateway timeout.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	RetrieveSession(ctx context.Context, sessionID string) (*Session, error)
	RetrievePaymentIntent(ctx context.Context, intentID string) (*IntentDetail, error)
	// ParseWebhook verifies the signature over the raw, unparsed payload and
	// only then decodes it. Verification failures wrap ErrInvalidSignature.
	ParseWebhook(payload []byte, signatureHeader string) (Event, error)
}
