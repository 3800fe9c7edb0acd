package stripe

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

const testSecret = "whsec_test"

func newTestGateway(t *testing.T) *Gateway {
	t.Helper()
	g, err := New(Config{SecretKey: "sk_test_123", WebhookSecret: testSecret}, nil)
	require.NoError(t, err)
	return g
}

func eventJSON(id, typ string, created int64, object string) []byte {
	return fmt.Appendf(nil, `{"id":%q,"object":"event","type":%q,"created":%d,"data":{"object":%s}}`,
		id, typ, created, object)
}

func sign(t *testing.T, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func TestParseWebhook_SessionCompleted(t *testing.T) {
	g := newTestGateway(t)
	payload := eventJSON("evt_1", "checkout.session.completed", 1740830400, `{
		"id": "cs_1",
		"object": "checkout.session",
		"client_reference_id": "ord-ref",
		"metadata": {"orderId": "ord-1"},
		"payment_intent": "pi_1",
		"payment_status": "paid"
	}`)

	ev, err := g.ParseWebhook(payload, sign(t, payload))
	require.NoError(t, err)

	sc, ok := ev.(payment.SessionCompleted)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "evt_1", sc.ID)
	assert.Equal(t, "ord-1", sc.OrderID, "metadata wins over client reference")
	assert.Equal(t, "cs_1", sc.SessionID)
	assert.Equal(t, "pi_1", sc.PaymentIntentID)
	assert.Equal(t, payment.SessionPaid, sc.PaymentStatus)
	assert.Equal(t, time.Unix(1740830400, 0).UTC(), sc.OccurredAt)
}

func TestParseWebhook_ClientReferenceFallback(t *testing.T) {
	g := newTestGateway(t)
	payload := eventJSON("evt_2", "checkout.session.expired", 1740830400, `{
		"id": "cs_2",
		"client_reference_id": "ord-2",
		"metadata": {},
		"payment_intent": null
	}`)

	ev, err := g.ParseWebhook(payload, sign(t, payload))
	require.NoError(t, err)
	exp, ok := ev.(payment.SessionExpired)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "ord-2", exp.OrderID)
	assert.Equal(t, "cs_2", exp.SessionID)
}

func TestParseWebhook_IntentFailed(t *testing.T) {
	g := newTestGateway(t)
	payload := eventJSON("evt_3", "payment_intent.payment_failed", 1740830400, `{
		"id": "pi_3",
		"object": "payment_intent",
		"metadata": {"orderId": "ord-3"},
		"last_payment_error": {"code": "card_declined", "message": "Your card was declined.", "type": "card_error"}
	}`)

	ev, err := g.ParseWebhook(payload, sign(t, payload))
	require.NoError(t, err)
	f, ok := ev.(payment.IntentFailed)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "ord-3", f.OrderID)
	assert.Equal(t, "pi_3", f.PaymentIntentID)
	assert.Equal(t, "card_declined", f.ErrorCode)
	assert.Equal(t, "Your card was declined.", f.ErrorMessage)
}

func TestParseWebhook_ExpandedPaymentIntent(t *testing.T) {
	g := newTestGateway(t)
	payload := eventJSON("evt_4", "checkout.session.async_payment_succeeded", 1740830400, `{
		"id": "cs_4",
		"metadata": {"orderId": "ord-4"},
		"payment_intent": {"id": "pi_4", "object": "payment_intent", "latest_charge": "ch_4"}
	}`)

	ev, err := g.ParseWebhook(payload, sign(t, payload))
	require.NoError(t, err)
	s, ok := ev.(payment.SessionAsyncSucceeded)
	require.True(t, ok, "got %T", ev)
	assert.Equal(t, "pi_4", s.PaymentIntentID)
}

func TestParseWebhook_UnhandledTypeIgnored(t *testing.T) {
	g := newTestGateway(t)
	payload := eventJSON("evt_5", "customer.created", 1740830400, `{"id":"cus_1"}`)

	ev, err := g.ParseWebhook(payload, sign(t, payload))
	require.NoError(t, err)
	_, ok := ev.(payment.Ignored)
	assert.True(t, ok, "got %T", ev)
}

func TestParseWebhook_InvalidSignature(t *testing.T) {
	g := newTestGateway(t)
	payload := eventJSON("evt_6", "checkout.session.completed", 1740830400, `{"id":"cs_6","payment_status":"paid"}`)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing", header: ""},
		{name: "garbage", header: "t=1,v1=deadbeef"},
		{name: "other secret", header: webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
			Payload:   payload,
			Secret:    "whsec_other",
			Timestamp: time.Now(),
		}).Header},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := g.ParseWebhook(payload, tt.header)
			assert.ErrorIs(t, err, payment.ErrInvalidSignature)
		})
	}
}

func TestParseWebhook_TamperedPayload(t *testing.T) {
	g := newTestGateway(t)
	payload := eventJSON("evt_7", "checkout.session.completed", 1740830400, `{"id":"cs_7","payment_status":"unpaid"}`)
	header := sign(t, payload)

	tampered := eventJSON("evt_7", "checkout.session.completed", 1740830400, `{"id":"cs_7","payment_status":"paid"}`)
	_, err := g.ParseWebhook(tampered, header)
	assert.ErrorIs(t, err, payment.ErrInvalidSignature)
}

func TestNew_RequiresSecretKey(t *testing.T) {
	_, err := New(Config{WebhookSecret: "whsec"}, nil)
	assert.Error(t, err)
}

func TestNew_WithoutWebhookSecret(t *testing.T) {
	g, err := New(Config{SecretKey: "sk_test_123"}, nil)
	require.NoError(t, err)

	payload := eventJSON("evt_8", "checkout.session.completed", 1740830400, `{"id":"cs_8","payment_status":"paid"}`)
	_, err = g.ParseWebhook(payload, sign(t, payload))
	assert.ErrorIs(t, err, ErrWebhookSecretMissing)
}
