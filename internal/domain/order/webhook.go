package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

// ProcessEvent applies a verified gateway event to its order. It is the
// authoritative path: any event may be delivered more than once and in any
// order, and the outcome is the same.
//
// Events without a correlation id, or for unknown orders, are logged and
// acknowledged since redelivery cannot fix them. Store errors are returned so
// the gateway retries.
func (s *Service) ProcessEvent(ctx context.Context, ev payment.Event) error {
	meta := ev.Meta()
	lg := zctx.From(ctx).With(
		zap.String("event_id", meta.ID),
		zap.String("event_type", meta.Type),
	)

	t, ok := Plan(ev)
	if !ok {
		lg.Debug("Event ignored")
		return nil
	}
	if meta.OrderID == "" {
		lg.Warn("Event has no order correlation id")
		return nil
	}
	lg = lg.With(zap.String("order_id", meta.OrderID))
	ctx = zctx.Base(ctx, lg)

	if t.Succeeds() {
		s.fetchCharge(ctx, &t)
	}

	o, applied, err := s.apply(ctx, meta.OrderID, t)
	switch {
	case errors.Is(err, ErrNotFound):
		lg.Warn("Event for unknown order")
		return nil
	case err != nil:
		return errors.Wrapf(err, "apply %s", meta.Type)
	}

	lg.Info("Event processed",
		zap.String("payment_state", string(o.PaymentInfo.State)),
		zap.Bool("applied", applied),
	)
	return nil
}

// apply performs the conditional write and, only if it changed the order,
// runs the transition's effects.
func (s *Service) apply(ctx context.Context, orderID string, t Transition) (*Order, bool, error) {
	o, applied, err := s.orders.ApplyPayment(ctx, orderID, t)
	if err != nil {
		return nil, false, err
	}
	s.recordTransition(ctx, t, applied)
	if applied {
		s.runEffects(ctx, o, t)
	}
	return o, applied, nil
}

// fetchCharge enriches a success transition with the charge id. It degrades
// to an empty charge id, which the charge reconciler backfills later.
func (s *Service) fetchCharge(ctx context.Context, t *Transition) {
	if t.PaymentIntentID == "" {
		return
	}
	gctx, cancel := s.gatewayCtx(ctx)
	defer cancel()

	detail, err := s.gateway.RetrievePaymentIntent(gctx, t.PaymentIntentID)
	if err != nil {
		zctx.From(ctx).Warn("Payment intent detail unavailable, charge id left for reconcile",
			zap.String("payment_intent_id", t.PaymentIntentID),
			zap.Bool("reconcile", true),
			zap.Error(err),
		)
		return
	}
	t.ChargeID = detail.ChargeID
}

// runEffects executes the transition's effects. They run after the durable
// write, so a failure here is logged and never undoes or fails the write.
func (s *Service) runEffects(ctx context.Context, o *Order, t Transition) {
	lg := zctx.From(ctx)
	for _, e := range t.Effects {
		var err error
		switch e {
		case EffectClearCart:
			err = s.carts.Clear(ctx, o.UserID)
		case EffectPublishPaid:
			err = s.events.PublishPaid(ctx, paidEvent(o))
		default:
			err = errors.Errorf("unknown effect %q", e)
		}
		if err != nil {
			lg.Error("Effect failed",
				zap.String("effect", string(e)),
				zap.String("user_id", o.UserID),
				zap.Error(err),
			)
		}
	}
}

func paidEvent(o *Order) PaidEvent {
	e := PaidEvent{
		OrderID:         o.ID,
		UserID:          o.UserID,
		Amount:          o.Amount,
		PaymentIntentID: o.PaymentInfo.PaymentIntentID,
		ChargeID:        o.PaymentInfo.ChargeID,
	}
	if o.PaymentInfo.PaidAt != nil {
		e.PaidAt = *o.PaymentInfo.PaidAt
	}
	return e
}
