package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-kart-checkout/internal/domain/auth"
	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

// --- Mock implementations ---

type mockOrders struct {
	checkoutReq order.CheckoutRequest
	checkoutRes *order.CheckoutResult
	checkoutErr error

	verifyRes *order.VerifyResult
	verifyErr error

	events     []payment.Event
	processErr error

	statusErr error
	statusArg order.Status

	orders  []order.Order
	listErr error
	listFor string

	popular      []order.ItemPopularity
	popularErr   error
	popularLimit int
}

func (m *mockOrders) Checkout(_ context.Context, req order.CheckoutRequest) (*order.CheckoutResult, error) {
	m.checkoutReq = req
	return m.checkoutRes, m.checkoutErr
}

func (m *mockOrders) VerifyRedirect(_ context.Context, orderID, sessionID string) (*order.VerifyResult, error) {
	if m.verifyErr != nil {
		return nil, m.verifyErr
	}
	if orderID == "" {
		return nil, order.ErrOrderIDRequired
	}
	if sessionID == "" {
		return nil, order.ErrSessionRequired
	}
	return m.verifyRes, nil
}

func (m *mockOrders) ProcessEvent(_ context.Context, ev payment.Event) error {
	m.events = append(m.events, ev)
	return m.processErr
}

func (m *mockOrders) UpdateStatus(_ context.Context, _ string, status order.Status) error {
	m.statusArg = status
	return m.statusErr
}

func (m *mockOrders) ListUserOrders(_ context.Context, userID string) ([]order.Order, error) {
	m.listFor = userID
	return m.orders, m.listErr
}

func (m *mockOrders) ListOrders(context.Context) ([]order.Order, error) {
	return m.orders, m.listErr
}

func (m *mockOrders) PopularItems(_ context.Context, limit int) ([]order.ItemPopularity, error) {
	m.popularLimit = limit
	return m.popular, m.popularErr
}

type mockParser struct {
	ev  payment.Event
	err error
	sig string
}

func (m *mockParser) ParseWebhook(_ []byte, sig string) (payment.Event, error) {
	m.sig = sig
	return m.ev, m.err
}

type mockKeys struct {
	keys map[string]*auth.APIKeyInfo
	err  error
}

func (m *mockKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	info, ok := m.keys[hash]
	if !ok {
		return nil, auth.ErrKeyNotFound
	}
	return info, nil
}

// --- Helpers ---

var (
	testPepper = []byte("pepper")
	testSecret = []byte("jwt-secret")
)

const (
	adminKey  = "admin-key"
	readerKey = "reader-key"
)

type fixture struct {
	orders *mockOrders
	parser *mockParser
	keys   *mockKeys
	mux    *http.ServeMux
}

func newFixture() *fixture {
	f := &fixture{
		orders: &mockOrders{},
		parser: &mockParser{},
		keys: &mockKeys{keys: map[string]*auth.APIKeyInfo{
			HashAPIKey(testPepper, adminKey): {
				ID: "key-1", KeyHash: HashAPIKey(testPepper, adminKey), Scopes: []string{auth.ScopeOrdersAdmin},
			},
			HashAPIKey(testPepper, readerKey): {
				ID: "key-2", KeyHash: HashAPIKey(testPepper, readerKey), Scopes: []string{"orders:read"},
			},
		}},
	}
	sec := NewSecurityHandler(f.keys, testPepper, testSecret)
	f.mux = NewHandler(f.orders, f.parser, sec).Routes()
	return f
}

func shopperToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, key any) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return s
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	f.mux.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return body
}

const checkoutJSON = `{
	"items": [{"name":"Waffle","price":6.5,"quantity":2},{"name":"Latte","price":"5.00","quantity":1}],
	"amount": 20,
	"address": {"firstName":"Ada","email":"ada@example.com","street":"1 Way","city":"London"}
}`

// --- Tests ---

func TestCheckout_Success(t *testing.T) {
	f := newFixture()
	f.orders.checkoutRes = &order.CheckoutResult{OrderID: "ord-1", SessionID: "cs_1", CheckoutURL: "https://pay.example/cs_1"}
	token := shopperToken(t, jwt.MapClaims{"id": "user-1"}, jwt.SigningMethodHS256, testSecret)

	w := f.do(http.MethodPost, "/api/orders", checkoutJSON, map[string]string{"token": token})

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "https://pay.example/cs_1", body["checkoutUrl"])
	assert.Equal(t, "ord-1", body["orderId"])

	req := f.orders.checkoutReq
	assert.Equal(t, "user-1", req.UserID, "user id comes from the token")
	require.Len(t, req.Items, 2)
	assert.True(t, decimal.RequireFromString("6.5").Equal(req.Items[0].UnitPrice))
	assert.True(t, decimal.NewFromInt(20).Equal(req.Amount))
	assert.Equal(t, "London", req.Address.City)
}

func TestCheckout_BearerSubject(t *testing.T) {
	f := newFixture()
	f.orders.checkoutRes = &order.CheckoutResult{OrderID: "ord-1"}
	token := shopperToken(t, jwt.MapClaims{"sub": "user-9"}, jwt.SigningMethodHS256, testSecret)

	w := f.do(http.MethodPost, "/api/orders", checkoutJSON, map[string]string{"Authorization": "Bearer " + token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-9", f.orders.checkoutReq.UserID)
}

func TestCheckout_Unauthorized(t *testing.T) {
	f := newFixture()
	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", shopperToken(t, jwt.MapClaims{"id": "u"}, jwt.SigningMethodHS256, []byte("other"))},
		{"wrong algorithm", shopperToken(t, jwt.MapClaims{"id": "u"}, jwt.SigningMethodHS512, testSecret)},
		{"expired", shopperToken(t, jwt.MapClaims{"id": "u", "exp": time.Now().Add(-time.Hour).Unix()}, jwt.SigningMethodHS256, testSecret)},
		{"no user", shopperToken(t, jwt.MapClaims{"role": "x"}, jwt.SigningMethodHS256, testSecret)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := f.do(http.MethodPost, "/api/orders", checkoutJSON, map[string]string{"token": tt.token})
			assert.Equal(t, http.StatusUnauthorized, w.Code)
			assert.Equal(t, false, decodeBody(t, w)["success"])
		})
	}
}

func TestCheckout_Errors(t *testing.T) {
	token := shopperToken(t, jwt.MapClaims{"id": "user-1"}, jwt.SigningMethodHS256, testSecret)
	tests := []struct {
		name string
		err  error
		body string
		want int
	}{
		{"bad json", nil, "{", http.StatusBadRequest},
		{"no items", order.ErrEmptyItems, checkoutJSON, http.StatusBadRequest},
		{"bad item", &order.InvalidItemError{Index: 0, Reason: "quantity must be at least 1"}, checkoutJSON, http.StatusBadRequest},
		{"amount mismatch", &order.AmountMismatchError{Want: decimal.NewFromInt(20), Got: decimal.NewFromInt(3)}, checkoutJSON, http.StatusBadRequest},
		{"gateway", &order.GatewayError{Op: "create checkout session", Err: errors.New("timeout")}, checkoutJSON, http.StatusBadGateway},
		{"internal", errors.New("db down"), checkoutJSON, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orders.checkoutErr = tt.err
			w := f.do(http.MethodPost, "/api/orders", tt.body, map[string]string{"token": token})
			assert.Equal(t, tt.want, w.Code)
			body := decodeBody(t, w)
			assert.Equal(t, false, body["success"])
			assert.NotEmpty(t, body["message"])
			assert.NotContains(t, body["message"], "db down")
		})
	}
}

func TestVerify(t *testing.T) {
	f := newFixture()
	f.orders.verifyRes = &order.VerifyResult{Confirmed: true, Message: "Payment confirmed"}

	w := f.do(http.MethodGet, "/api/orders/verify?orderId=ord-1&sessionId=cs_1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]any{"success": true, "message": "Payment confirmed"}, decodeBody(t, w))

	f.orders.verifyRes = &order.VerifyResult{Message: "payment not yet confirmed"}
	w = f.do(http.MethodGet, "/api/orders/verify?orderId=ord-1&sessionId=cs_1", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, decodeBody(t, w)["success"])

	w = f.do(http.MethodGet, "/api/orders/verify?orderId=ord-1", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	f.orders.verifyErr = errors.Wrap(order.ErrNotFound, "get order")
	w = f.do(http.MethodGet, "/api/orders/verify?orderId=nope&sessionId=cs_1", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhook(t *testing.T) {
	ev := payment.SessionExpired{EventMeta: payment.EventMeta{ID: "evt_1", Type: "checkout.session.expired", OrderID: "ord-1"}}

	t.Run("processed", func(t *testing.T) {
		f := newFixture()
		f.parser.ev = ev
		w := f.do(http.MethodPost, WebhookPath, `{"id":"evt_1"}`, map[string]string{"Stripe-Signature": "t=1,v1=abc"})
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, map[string]any{"received": true}, decodeBody(t, w))
		assert.Equal(t, "t=1,v1=abc", f.parser.sig)
		assert.Equal(t, []payment.Event{ev}, f.orders.events)
	})

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture()
		f.parser.err = errors.Wrap(payment.ErrInvalidSignature, "verify")
		w := f.do(http.MethodPost, WebhookPath, `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, f.orders.events)
	})

	t.Run("malformed", func(t *testing.T) {
		f := newFixture()
		f.parser.err = errors.Wrap(payment.ErrMalformedEvent, "decode")
		w := f.do(http.MethodPost, WebhookPath, `{}`, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("processing error asks for redelivery", func(t *testing.T) {
		f := newFixture()
		f.parser.ev = ev
		f.orders.processErr = errors.New("db down")
		w := f.do(http.MethodPost, WebhookPath, `{}`, nil)
		assert.Equal(t, http.StatusInternalServerError, w.Code)
	})

	t.Run("oversized body", func(t *testing.T) {
		f := newFixture()
		req := httptest.NewRequest(http.MethodPost, WebhookPath, bytes.NewReader(make([]byte, maxWebhookBytes+1)))
		w := httptest.NewRecorder()
		f.mux.ServeHTTP(w, req)
		assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
		assert.Empty(t, f.orders.events)
	})
}

func TestUpdateStatus(t *testing.T) {
	tests := []struct {
		name string
		key  string
		err  error
		want int
	}{
		{"ok", adminKey, nil, http.StatusOK},
		{"no key", "", nil, http.StatusUnauthorized},
		{"unknown key", "bogus", nil, http.StatusUnauthorized},
		{"missing scope", readerKey, nil, http.StatusUnauthorized},
		{"bad status", adminKey, order.ErrInvalidStatus, http.StatusBadRequest},
		{"unknown order", adminKey, order.ErrNotFound, http.StatusNotFound},
		{"not paid", adminKey, order.ErrNotPayable, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			f.orders.statusErr = tt.err
			w := f.do(http.MethodPost, "/api/orders/status", `{"orderId":"ord-1","status":"delivered"}`,
				map[string]string{"api_key": tt.key})
			assert.Equal(t, tt.want, w.Code)
			if tt.want == http.StatusOK {
				assert.Equal(t, order.StatusDelivered, f.orders.statusArg)
				assert.Equal(t, true, decodeBody(t, w)["success"])
			}
		})
	}
}

func TestOperatorKeyStoreError(t *testing.T) {
	f := newFixture()
	f.keys.err = errors.New("db down")
	w := f.do(http.MethodGet, "/api/orders", "", map[string]string{"api_key": adminKey})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestListOrders(t *testing.T) {
	f := newFixture()
	paidAt := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	f.orders.orders = []order.Order{{
		ID:      "ord-1",
		UserID:  "user-1",
		Items:   []order.Item{{Name: "Waffle", UnitPrice: decimal.RequireFromString("6.5"), Quantity: 2}},
		Amount:  decimal.RequireFromString("20"),
		Status:  order.StatusProcessing,
		Payment: true,
		PaymentInfo: order.PaymentInfo{
			State:           order.PaymentSucceeded,
			SuccessMessage:  order.SuccessMessage(),
			PaymentIntentID: "pi_1",
			PaidAt:          &paidAt,
		},
	}}

	w := f.do(http.MethodGet, "/api/orders", "", map[string]string{"api_key": adminKey})
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Success bool              `json:"success"`
		Data    []json.RawMessage `json:"data"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.True(t, body.Success)
	require.Len(t, body.Data, 1)
	raw := string(body.Data[0])
	assert.Contains(t, raw, `"amount":20.00`)
	assert.Contains(t, raw, `"price":6.50`)
	assert.Contains(t, raw, `"state":"succeeded"`)
	assert.Contains(t, raw, `"paidAt":"2025-03-01T12:00:00Z"`)
	assert.NotContains(t, raw, "failedAt")

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/orders", "", nil).Code)
}

func TestMyOrders(t *testing.T) {
	f := newFixture()
	f.orders.orders = []order.Order{}
	token := shopperToken(t, jwt.MapClaims{"id": "user-7"}, jwt.SigningMethodHS256, testSecret)

	w := f.do(http.MethodPost, "/api/orders/mine", "", map[string]string{"token": token})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-7", f.orders.listFor)
	assert.Equal(t, map[string]any{"success": true, "data": []any{}}, decodeBody(t, w))
}

func TestPopularItems(t *testing.T) {
	f := newFixture()
	f.orders.popular = []order.ItemPopularity{{Name: "Waffle", Quantity: 9}}

	w := f.do(http.MethodGet, "/api/orders/popular?limit=3", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, f.orders.popularLimit)
	assert.Equal(t, map[string]any{
		"success": true,
		"data":    []any{map[string]any{"name": "Waffle", "quantity": float64(9)}},
	}, decodeBody(t, w))

	w = f.do(http.MethodGet, "/api/orders/popular", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0, f.orders.popularLimit)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/orders/popular?limit=abc", "", nil).Code)

	f.orders.popularErr = order.ErrInvalidLimit
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/orders/popular?limit=99", "", nil).Code)
}
