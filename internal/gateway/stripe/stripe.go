// Package stripe adapts Stripe Checkout to payment.Gateway.
package stripe

import (
	"context"

	"github.com/go-faster/errors"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

const metadataOrderID = "orderId"

var _ payment.Gateway = (*Gateway)(nil)

// Config holds the immutable gateway credentials.
type Config struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
}

// Gateway talks to Stripe through its own API client; it never touches the
// package-level stripe.Key.
type Gateway struct {
	api      *client.API
	secret   string
	currency string
}

// ErrWebhookSecretMissing is returned by ParseWebhook on a gateway built
// without a webhook secret.
var ErrWebhookSecretMissing = errors.New("stripe webhook secret is not configured")

// New creates a Gateway. backends may be nil to use the default Stripe
// backends; tests pass their own. The webhook secret may be empty for
// callers that never parse webhooks.
func New(cfg Config, backends *stripe.Backends) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	if cfg.Currency == "" {
		cfg.Currency = string(stripe.CurrencyUSD)
	}
	api := &client.API{}
	api.Init(cfg.SecretKey, backends)
	return &Gateway{api: api, secret: cfg.WebhookSecret, currency: cfg.Currency}, nil
}

// CreateCheckoutSession opens a hosted payment page. The order id is stored as
// client reference and as metadata on both the session and its payment intent.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, req payment.CheckoutRequest) (*payment.Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.OrderID),
		SuccessURL:        stripe.String(req.SuccessURL),
		CancelURL:         stripe.String(req.CancelURL),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metadataOrderID: req.OrderID},
		},
	}
	params.Context = ctx
	params.AddMetadata(metadataOrderID, req.OrderID)
	for _, li := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(g.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(li.Name),
				},
				UnitAmount: stripe.Int64(li.UnitAmount),
			},
			Quantity: stripe.Int64(li.Quantity),
		})
	}

	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, errors.Wrap(err, "create checkout session")
	}
	return sessionFrom(s), nil
}

// RetrieveSession fetches the current state of a checkout session.
func (g *Gateway) RetrieveSession(ctx context.Context, sessionID string) (*payment.Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieve session %s", sessionID)
	}
	return sessionFrom(s), nil
}

// RetrievePaymentIntent fetches an intent with its latest charge.
func (g *Gateway) RetrievePaymentIntent(ctx context.Context, intentID string) (*payment.IntentDetail, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(intentID, params)
	if err != nil {
		return nil, errors.Wrapf(err, "retrieve payment intent %s", intentID)
	}
	d := &payment.IntentDetail{ID: pi.ID}
	if pi.LatestCharge != nil {
		d.ChargeID = pi.LatestCharge.ID
	}
	return d, nil
}

func sessionFrom(s *stripe.CheckoutSession) *payment.Session {
	out := &payment.Session{
		ID:            s.ID,
		URL:           s.URL,
		OrderID:       s.Metadata[metadataOrderID],
		PaymentStatus: payment.SessionPaymentStatus(s.PaymentStatus),
	}
	if out.OrderID == "" {
		out.OrderID = s.ClientReferenceID
	}
	if s.PaymentIntent != nil {
		out.PaymentIntentID = s.PaymentIntent.ID
	}
	return out
}
