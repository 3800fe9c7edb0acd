// Package handler exposes the order service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// OrderService is the order domain surface served over HTTP.
type OrderService interface {
	Checkout(ctx context.Context, req order.CheckoutRequest) (*order.CheckoutResult, error)
	VerifyRedirect(ctx context.Context, orderID, sessionID string) (*order.VerifyResult, error)
	ProcessEvent(ctx context.Context, ev payment.Event) error
	UpdateStatus(ctx context.Context, orderID string, status order.Status) error
	ListUserOrders(ctx context.Context, userID string) ([]order.Order, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
	PopularItems(ctx context.Context, limit int) ([]order.ItemPopularity, error)
}

var _ OrderService = (*order.Service)(nil)

// WebhookParser verifies and decodes gateway push notifications.
type WebhookParser interface {
	ParseWebhook(payload []byte, signatureHeader string) (payment.Event, error)
}

// Handler serves the /api routes.
type Handler struct {
	orders   OrderService
	webhooks WebhookParser
	security *SecurityHandler
}

// NewHandler constructs a Handler with the required dependencies.
func NewHandler(orders OrderService, webhooks WebhookParser, security *SecurityHandler) *Handler {
	return &Handler{orders: orders, webhooks: webhooks, security: security}
}

// WebhookPath is the gateway callback route. It is exempt from rate limiting.
const WebhookPath = "/api/orders/webhook"

// Routes registers every API route on a new ServeMux.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", h.security.Shopper(h.Checkout))
	mux.HandleFunc("GET /api/orders/verify", h.Verify)
	mux.HandleFunc("POST "+WebhookPath, h.Webhook)
	mux.HandleFunc("POST /api/orders/status", h.security.Operator(h.UpdateStatus))
	mux.HandleFunc("GET /api/orders", h.security.Operator(h.ListOrders))
	mux.HandleFunc("POST /api/orders/mine", h.security.Shopper(h.MyOrders))
	mux.HandleFunc("GET /api/orders/popular", h.PopularItems)
	return mux
}

type errorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type listResponse[T any] struct {
	Success bool `json:"success"`
	Data    []T  `json:"data"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Success: false, Message: msg})
}

// writeInternal logs err and answers 500 without leaking it.
func writeInternal(ctx context.Context, w http.ResponseWriter, op string, err error) {
	zctx.From(ctx).Error("Request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Wrap(err, "decode body")
	}
	return nil
}
