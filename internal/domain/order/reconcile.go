package order

import (
	"context"
	"sync/atomic"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

// ChargeReconciler backfills charge ids that could not be fetched when a
// payment was recorded.
type ChargeReconciler struct {
	charges     ChargeRepository
	gateway     payment.Gateway
	concurrency int
}

// NewChargeReconciler creates a reconciler running at most concurrency
// gateway lookups at once.
func NewChargeReconciler(charges ChargeRepository, gateway payment.Gateway, concurrency int) *ChargeReconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ChargeReconciler{charges: charges, gateway: gateway, concurrency: concurrency}
}

// ReconcileStats summarizes one reconcile run.
type ReconcileStats struct {
	Scanned  int
	Recorded int
	Failed   int
}

// Run looks up up to limit succeeded orders without a charge id and records
// the charge the gateway reports for each. Per-order lookup failures are
// counted and logged; only store listing errors abort the run.
func (r *ChargeReconciler) Run(ctx context.Context, limit int) (ReconcileStats, error) {
	orders, err := r.charges.ListMissingCharge(ctx, limit)
	if err != nil {
		return ReconcileStats{}, errors.Wrap(err, "list orders missing charge")
	}

	var recorded, failed atomic.Int64
	lg := zctx.From(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, o := range orders {
		g.Go(func() error {
			olg := lg.With(zap.String("order_id", o.ID), zap.String("payment_intent_id", o.PaymentInfo.PaymentIntentID))
			if o.PaymentInfo.PaymentIntentID == "" {
				olg.Warn("Order has no payment intent, skipping")
				failed.Add(1)
				return nil
			}
			detail, err := r.gateway.RetrievePaymentIntent(gctx, o.PaymentInfo.PaymentIntentID)
			if err != nil {
				olg.Warn("Payment intent lookup failed", zap.Error(err))
				failed.Add(1)
				return nil
			}
			if detail.ChargeID == "" {
				olg.Warn("Payment intent has no charge yet")
				failed.Add(1)
				return nil
			}
			changed, err := r.charges.RecordCharge(gctx, o.ID, detail.ChargeID)
			if err != nil {
				return errors.Wrapf(err, "record charge for %s", o.ID)
			}
			if changed {
				recorded.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return ReconcileStats{}, err
	}

	return ReconcileStats{
		Scanned:  len(orders),
		Recorded: int(recorded.Load()),
		Failed:   int(failed.Load()),
	}, nil
}
