package httpmiddleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func send(h http.Handler, method, path, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_RejectsOverLimit(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := RateLimit(RateLimitConfig{Max: 2, Window: time.Minute, Now: c.now})(okHandler())

	for i := range 2 {
		w := send(h, http.MethodPost, "/api/orders", "10.0.0.1:9999")
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, "2", w.Header().Get("X-RateLimit-Limit"))
	}

	w := send(h, http.MethodPost, "/api/orders", "10.0.0.1:9999")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.Equal(t, "60", w.Header().Get("Retry-After"))

	var body map[string]any
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "rate limit exceeded", body["message"])

	assert.Equal(t, http.StatusOK, send(h, http.MethodPost, "/api/orders", "10.0.0.2:1").Code,
		"clients are limited independently")
}

func TestRateLimit_SlidingWindow(t *testing.T) {
	c := &clock{t: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	h := RateLimit(RateLimitConfig{Max: 4, Window: time.Minute, Now: c.now})(okHandler())

	for range 4 {
		require.Equal(t, http.StatusOK, send(h, http.MethodGet, "/", "10.0.0.1:1").Code)
	}

	// Halfway into the next window the previous four still weigh as two.
	c.t = c.t.Add(90 * time.Second)
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, http.MethodGet, "/", "10.0.0.1:1").Code)

	// Two idle windows reset the client completely.
	c.t = c.t.Add(3 * time.Minute)
	assert.Equal(t, http.StatusOK, send(h, http.MethodGet, "/", "10.0.0.1:1").Code)
}

func TestRateLimit_SkipWebhook(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:    1,
		Window: time.Minute,
		Skip: func(r *http.Request) bool {
			return strings.HasSuffix(r.URL.Path, "/webhook")
		},
	})(okHandler())

	for range 5 {
		w := send(h, http.MethodPost, "/api/orders/webhook", "10.0.0.1:1")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get("X-RateLimit-Limit"))
	}
	assert.Equal(t, http.StatusOK, send(h, http.MethodPost, "/api/orders", "10.0.0.1:1").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(h, http.MethodPost, "/api/orders", "10.0.0.1:1").Code)
}

func TestRateLimit_CustomKeyFunc(t *testing.T) {
	h := RateLimit(RateLimitConfig{
		Max:     1,
		Window:  time.Minute,
		KeyFunc: func(r *http.Request) string { return r.Header.Get("api_key") },
	})(okHandler())

	call := func(key string) int {
		req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
		req.Header.Set("api_key", key)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, call("key-a"))
	assert.Equal(t, http.StatusTooManyRequests, call("key-a"))
	assert.Equal(t, http.StatusOK, call("key-b"))
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		addr    string
		want    string
	}{
		{"forwarded first hop", map[string]string{"X-Forwarded-For": "203.0.113.50, 70.41.3.18"}, "192.168.1.1:4444", "203.0.113.50"},
		{"real ip", map[string]string{"X-Real-IP": "198.51.100.7"}, "192.168.1.1:4444", "198.51.100.7"},
		{"remote addr", nil, "192.168.1.1:4444", "192.168.1.1"},
		{"remote addr without port", nil, "192.168.1.1", "192.168.1.1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.addr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, clientIP(req))
		})
	}
}
