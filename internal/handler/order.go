package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

type checkoutItem struct {
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Quantity int             `json:"quantity"`
}

type checkoutBody struct {
	Items   []checkoutItem  `json:"items"`
	Amount  decimal.Decimal `json:"amount"`
	Address order.Address   `json:"address"`
}

type checkoutResponse struct {
	Success     bool   `json:"success"`
	CheckoutURL string `json:"checkoutUrl"`
	OrderID     string `json:"orderId"`
}

// Checkout creates an order for the authenticated shopper and returns the
// hosted checkout URL.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID, _ := auth.ShopperFrom(ctx)

	var body checkoutBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	items := make([]order.Item, len(body.Items))
	for i, it := range body.Items {
		items[i] = order.Item{Name: it.Name, UnitPrice: it.Price, Quantity: it.Quantity}
	}

	res, err := h.orders.Checkout(ctx, order.CheckoutRequest{
		UserID:  userID,
		Items:   items,
		Amount:  body.Amount,
		Address: body.Address,
	})
	if err != nil {
		h.checkoutError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{
		Success:     true,
		CheckoutURL: res.CheckoutURL,
		OrderID:     res.OrderID,
	})
}

func (h *Handler) checkoutError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		itemErr    *order.InvalidItemError
		amountErr  *order.AmountMismatchError
		gatewayErr *order.GatewayError
	)
	switch {
	case errors.Is(err, order.ErrUserRequired),
		errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrAddressRequired),
		errors.Is(err, order.ErrAmountRequired),
		errors.As(err, &itemErr),
		errors.As(err, &amountErr):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &gatewayErr):
		writeError(w, http.StatusBadGateway, "payment gateway unavailable, please retry")
	default:
		writeInternal(r.Context(), w, "checkout", err)
	}
}

// Verify reports whether the payment behind a checkout redirect is
// confirmed. It never records a failure.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.orders.VerifyRedirect(r.Context(), q.Get("orderId"), q.Get("sessionId"))
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, errorResponse{Success: res.Confirmed, Message: res.Message})
	case errors.Is(err, order.ErrOrderIDRequired), errors.Is(err, order.ErrSessionRequired):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	default:
		writeInternal(r.Context(), w, "verify", err)
	}
}

type statusBody struct {
	OrderID string       `json:"orderId"`
	Status  order.Status `json:"status"`
}

// UpdateStatus moves a paid order through fulfilment.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var body statusBody
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	err := h.orders.UpdateStatus(r.Context(), body.OrderID, body.Status)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	case errors.Is(err, order.ErrOrderIDRequired), errors.Is(err, order.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, order.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, order.ErrNotPayable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeInternal(r.Context(), w, "update status", err)
	}
}

// ListOrders returns every paid order.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		writeInternal(r.Context(), w, "list orders", err)
		return
	}
	writeJSON(w, http.StatusOK, listResponse[orderView]{Success: true, Data: viewOrders(orders)})
}

// MyOrders returns the authenticated shopper's paid orders.
func (h *Handler) MyOrders(w http.ResponseWriter, r *http.Request) {
	userID, _ := auth.ShopperFrom(r.Context())
	orders, err := h.orders.ListUserOrders(r.Context(), userID)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, listResponse[orderView]{Success: true, Data: viewOrders(orders)})
	case errors.Is(err, order.ErrUserRequired):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		writeInternal(r.Context(), w, "list user orders", err)
	}
}

type popularView struct {
	Name     string `json:"name"`
	Quantity int64  `json:"quantity"`
}

// PopularItems ranks items by quantity sold.
func (h *Handler) PopularItems(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, order.ErrInvalidLimit.Error())
			return
		}
		limit = n
	}
	items, err := h.orders.PopularItems(r.Context(), limit)
	switch {
	case err == nil:
		out := make([]popularView, len(items))
		for i, it := range items {
			out[i] = popularView{Name: it.Name, Quantity: it.Quantity}
		}
		writeJSON(w, http.StatusOK, listResponse[popularView]{Success: true, Data: out})
	case errors.Is(err, order.ErrInvalidLimit):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternal(r.Context(), w, "popular items", err)
	}
}

type itemView struct {
	Name      string      `json:"name"`
	UnitPrice json.Number `json:"price"`
	Quantity  int         `json:"quantity"`
}

type paymentView struct {
	State           order.PaymentState `json:"state"`
	SuccessMessage  string             `json:"successMessage,omitempty"`
	ErrorCode       string             `json:"errorCode,omitempty"`
	ErrorMessage    string             `json:"errorMessage,omitempty"`
	FailureReason   string             `json:"failureReason,omitempty"`
	SessionID       string             `json:"sessionId,omitempty"`
	PaymentIntentID string             `json:"paymentIntentId,omitempty"`
	ChargeID        string             `json:"chargeId,omitempty"`
	PaidAt          *time.Time         `json:"paidAt,omitempty"`
	FailedAt        *time.Time         `json:"failedAt,omitempty"`
}

type orderView struct {
	ID          string        `json:"id"`
	UserID      string        `json:"userId"`
	Items       []itemView    `json:"items"`
	Amount      json.Number   `json:"amount"`
	Address     order.Address `json:"address"`
	Status      order.Status  `json:"status"`
	Payment     bool          `json:"payment"`
	PaymentInfo paymentView   `json:"paymentInfo"`
	CreatedAt   time.Time     `json:"createdAt"`
	UpdatedAt   time.Time     `json:"updatedAt"`
}

func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

func viewOrders(orders []order.Order) []orderView {
	out := make([]orderView, len(orders))
	for i, o := range orders {
		items := make([]itemView, len(o.Items))
		for j, it := range o.Items {
			items[j] = itemView{Name: it.Name, UnitPrice: money(it.UnitPrice), Quantity: it.Quantity}
		}
		p := o.PaymentInfo
		out[i] = orderView{
			ID:      o.ID,
			UserID:  o.UserID,
			Items:   items,
			Amount:  money(o.Amount),
			Address: o.Address,
			Status:  o.Status,
			Payment: o.Payment,
			PaymentInfo: paymentView{
				State:           p.State,
				SuccessMessage:  p.SuccessMessage,
				ErrorCode:       p.ErrorCode,
				ErrorMessage:    p.ErrorMessage,
				FailureReason:   p.FailureReason,
				SessionID:       p.SessionID,
				PaymentIntentID: p.PaymentIntentID,
				ChargeID:        p.ChargeID,
				PaidAt:          p.PaidAt,
				FailedAt:        p.FailedAt,
			},
			CreatedAt: o.CreatedAt,
			UpdatedAt: o.UpdatedAt,
		}
	}
	return out
}
