package handler

import (
	"io"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

const (
	maxWebhookBytes = 64 << 10
	signatureHeader = "Stripe-Signature"
)

// Webhook receives gateway events. The signature is checked over the raw
// body before anything is decoded. A non-2xx answer makes the gateway
// redeliver, so only processing failures return 500.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	ev, err := h.webhooks.ParseWebhook(payload, r.Header.Get(signatureHeader))
	if err != nil {
		if errors.Is(err, payment.ErrInvalidSignature) {
			zctx.From(ctx).Warn("Webhook signature rejected", zap.Error(err))
			writeError(w, http.StatusBadRequest, "invalid signature")
			return
		}
		zctx.From(ctx).Warn("Webhook payload rejected", zap.Error(err))
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	if err := h.orders.ProcessEvent(ctx, ev); err != nil {
		meta := ev.Meta()
		zctx.From(ctx).Error("Webhook processing failed",
			zap.String("event_id", meta.ID),
			zap.String("event_type", meta.Type),
			zap.String("order_id", meta.OrderID),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "event processing failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
