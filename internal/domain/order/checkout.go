package order

import (
	"context"
	"net/url"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

// CheckoutRequest holds the input for starting a checkout.
type CheckoutRequest struct {
	UserID  string
	Items   []Item
	Amount  decimal.Decimal
	Address Address
}

// CheckoutResult holds the created order and where to send the shopper.
type CheckoutResult struct {
	OrderID     string
	SessionID   string
	CheckoutURL string
}

var hundred = decimal.NewFromInt(100)

// Checkout validates the request, persists an unpaid order, opens a hosted
// checkout session for it and links the two. A gateway failure leaves the
// order unpaid and unlinked; it is never retried here.
func (s *Service) Checkout(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	total, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	o := &Order{
		ID:          uuid.New().String(),
		UserID:      req.UserID,
		Items:       req.Items,
		Amount:      total,
		Address:     req.Address,
		Status:      StatusProcessing,
		PaymentInfo: PaymentInfo{State: PaymentUnset},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	gctx, cancel := s.gatewayCtx(ctx)
	session, err := s.gateway.CreateCheckoutSession(gctx, payment.CheckoutRequest{
		OrderID:    o.ID,
		LineItems:  s.lineItems(o.Items),
		SuccessURL: s.redirectURL(o.ID, false),
		CancelURL:  s.redirectURL(o.ID, true),
	})
	cancel()
	if err != nil {
		s.recordSession(ctx, "error")
		lg.Warn("Checkout session creation failed", zap.Error(err))
		return nil, &GatewayError{Op: "create checkout session", Err: err}
	}
	s.recordSession(ctx, "created")

	if err := s.orders.AttachSession(ctx, o.ID, session.ID); err != nil {
		return nil, errors.Wrap(err, "attach session")
	}
	lg.Info("Checkout session created", zap.String("session_id", session.ID))

	return &CheckoutResult{
		OrderID:     o.ID,
		SessionID:   session.ID,
		CheckoutURL: session.URL,
	}, nil
}

// validate checks the request and returns the order total, which is the item
// subtotal plus delivery fee rounded to 2 decimal places.
func (s *Service) validate(req CheckoutRequest) (decimal.Decimal, error) {
	if req.UserID == "" {
		return decimal.Zero, ErrUserRequired
	}
	if len(req.Items) == 0 {
		return decimal.Zero, ErrEmptyItems
	}

	subtotal := decimal.Zero
	for i, item := range req.Items {
		switch {
		case strings.TrimSpace(item.Name) == "":
			return decimal.Zero, &InvalidItemError{Index: i, Reason: "name required"}
		case !item.UnitPrice.IsPositive():
			return decimal.Zero, &InvalidItemError{Index: i, Reason: "price must be greater than 0"}
		case item.Quantity < 1:
			return decimal.Zero, &InvalidItemError{Index: i, Reason: "quantity must be at least 1"}
		}
		subtotal = subtotal.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}

	a := req.Address
	if a.FirstName == "" || a.Street == "" || a.City == "" || a.Email == "" {
		return decimal.Zero, ErrAddressRequired
	}

	if req.Amount.IsZero() {
		return decimal.Zero, ErrAmountRequired
	}
	total := subtotal.Add(s.cfg.DeliveryFee).Round(2)
	if !req.Amount.Round(2).Equal(total) {
		return decimal.Zero, &AmountMismatchError{Want: total, Got: req.Amount}
	}
	return total, nil
}

func (s *Service) lineItems(items []Item) []payment.LineItem {
	lines := make([]payment.LineItem, 0, len(items)+1)
	for _, item := range items {
		lines = append(lines, payment.LineItem{
			Name:       item.Name,
			UnitAmount: minorUnits(item.UnitPrice),
			Quantity:   int64(item.Quantity),
		})
	}
	if s.cfg.DeliveryFee.IsPositive() {
		lines = append(lines, payment.LineItem{
			Name:       deliveryLineName,
			UnitAmount: minorUnits(s.cfg.DeliveryFee),
			Quantity:   1,
		})
	}
	return lines
}

// redirectURL builds the shopper's return URL. The session placeholder is
// substituted by the gateway and must stay unescaped.
func (s *Service) redirectURL(orderID string, canceled bool) string {
	u := strings.TrimRight(s.cfg.FrontendURL, "/") +
		"/verify?orderId=" + url.QueryEscape(orderID) +
		"&sessionId={CHECKOUT_SESSION_ID}"
	if canceled {
		u += "&canceled=true"
	}
	return u
}

func minorUnits(d decimal.Decimal) int64 {
	return d.Mul(hundred).Round(0).IntPart()
}
