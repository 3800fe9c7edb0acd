package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// UpdateStatus moves a paid order through fulfilment. The store rejects the
// change with ErrNotPayable unless the payment has succeeded.
func (s *Service) UpdateStatus(ctx context.Context, orderID string, status Status) error {
	if orderID == "" {
		return ErrOrderIDRequired
	}
	if !status.Operational() {
		return ErrInvalidStatus
	}
	if err := s.orders.UpdateStatus(ctx, orderID, status); err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrNotPayable) {
			return err
		}
		return errors.Wrap(err, "update status")
	}
	zctx.From(ctx).Info("Order status updated",
		zap.String("order_id", orderID),
		zap.String("status", string(status)),
	)
	return nil
}
