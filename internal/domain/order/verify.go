package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

const (
	msgConfirmed    = "Payment confirmed"
	msgNotConfirmed = "payment not yet confirmed"
	msgMismatch     = "session does not belong to this order"
)

// VerifyResult is the outcome shown to a shopper returning from checkout.
type VerifyResult struct {
	Confirmed bool
	Message   string
}

// VerifyRedirect checks a redirect back from the hosted checkout against the
// gateway. The redirect itself is untrusted: only a paid session that
// correlates to the order can move it to succeeded, and nothing here ever
// records a failure or removes an order. Gateway errors yield a non-committal
// result instead of an error.
func (s *Service) VerifyRedirect(ctx context.Context, orderID, sessionID string) (*VerifyResult, error) {
	if orderID == "" {
		return nil, ErrOrderIDRequired
	}
	if sessionID == "" {
		return nil, ErrSessionRequired
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	if o.PaymentInfo.State == PaymentSucceeded {
		return &VerifyResult{Confirmed: true, Message: msgConfirmed}, nil
	}
	if o.PaymentInfo.SessionID != "" && o.PaymentInfo.SessionID != sessionID {
		return &VerifyResult{Message: msgMismatch}, nil
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", orderID),
		zap.String("session_id", sessionID),
	)

	gctx, cancel := s.gatewayCtx(ctx)
	session, err := s.gateway.RetrieveSession(gctx, sessionID)
	cancel()
	if err != nil {
		lg.Warn("Session lookup failed during redirect verification", zap.Error(err))
		return &VerifyResult{Message: msgNotConfirmed}, nil
	}
	if session.OrderID != orderID {
		lg.Warn("Session correlates to another order", zap.String("session_order_id", session.OrderID))
		return &VerifyResult{Message: msgMismatch}, nil
	}
	if !session.PaymentStatus.Settled() {
		return &VerifyResult{Message: msgNotConfirmed}, nil
	}

	t := PlanVerified(*session, s.now().UTC())
	s.fetchCharge(zctx.Base(ctx, lg), &t)

	if _, _, err := s.apply(zctx.Base(ctx, lg), orderID, t); err != nil {
		return nil, errors.Wrap(err, "apply verified payment")
	}
	return &VerifyResult{Confirmed: true, Message: msgConfirmed}, nil
}
