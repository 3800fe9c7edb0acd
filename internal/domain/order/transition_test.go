package order

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

var (
	t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Minute)
)

func meta(id string, at time.Time) payment.EventMeta {
	return payment.EventMeta{ID: id, Type: "test", OccurredAt: at, OrderID: "ord-1"}
}

func TestPlan_SessionCompletedPaid(t *testing.T) {
	tr, ok := Plan(payment.SessionCompleted{
		EventMeta:       meta("evt_1", t0),
		SessionID:       "cs_1",
		PaymentIntentID: "pi_1",
		PaymentStatus:   payment.SessionPaid,
	})
	require.True(t, ok)
	assert.Equal(t, PaymentSucceeded, tr.To)
	assert.Equal(t, "cs_1", tr.SessionID)
	assert.Equal(t, "pi_1", tr.PaymentIntentID)
	assert.Equal(t, t0, tr.At)
	assert.Equal(t, []Effect{EffectClearCart, EffectPublishPaid}, tr.Effects)
}

func TestPlan_SessionCompletedUnpaidIgnored(t *testing.T) {
	_, ok := Plan(payment.SessionCompleted{
		EventMeta:     meta("evt_1", t0),
		PaymentStatus: payment.SessionUnpaid,
	})
	assert.False(t, ok)
}

func TestPlan_Failures(t *testing.T) {
	tests := []struct {
		name   string
		event  payment.Event
		reason string
	}{
		{
			name:   "intent failed",
			event:  payment.IntentFailed{EventMeta: meta("evt_2", t0), PaymentIntentID: "pi_1", ErrorCode: "card_declined", ErrorMessage: "Your card was declined."},
			reason: ReasonDeclined,
		},
		{
			name:   "async failed",
			event:  payment.SessionAsyncFailed{EventMeta: meta("evt_3", t0), SessionID: "cs_1"},
			reason: ReasonAsyncFailed,
		},
		{
			name:   "expired",
			event:  payment.SessionExpired{EventMeta: meta("evt_4", t0), SessionID: "cs_1"},
			reason: ReasonExpired,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr, ok := Plan(tt.event)
			require.True(t, ok)
			assert.Equal(t, PaymentFailed, tr.To)
			assert.Equal(t, tt.reason, tr.FailureReason)
			assert.Empty(t, tr.Effects)
			assert.Equal(t, StatusPaymentFailed, tr.Status())
		})
	}
}

func TestPlan_IgnoredEvent(t *testing.T) {
	_, ok := Plan(payment.Ignored{EventMeta: meta("evt_5", t0)})
	assert.False(t, ok)
}

func TestApply_SucceededIsTerminal(t *testing.T) {
	o := &Order{Status: StatusProcessing, PaymentInfo: PaymentInfo{State: PaymentUnset}}

	success, _ := Plan(payment.SessionCompleted{EventMeta: meta("evt_1", t0), SessionID: "cs_1", PaymentStatus: payment.SessionPaid})
	require.True(t, o.Apply(success, t0))
	assert.True(t, o.Payment)
	assert.Equal(t, StatusProcessing, o.Status)
	require.NotNil(t, o.PaymentInfo.PaidAt)
	assert.Equal(t, t0, *o.PaymentInfo.PaidAt)

	failure, _ := Plan(payment.IntentFailed{EventMeta: meta("evt_2", t1), ErrorCode: "card_declined"})
	assert.False(t, o.Apply(failure, t1))
	assert.False(t, o.Apply(success, t1))
	assert.True(t, o.Payment)
	assert.Equal(t, PaymentSucceeded, o.PaymentInfo.State)
	assert.Empty(t, o.PaymentInfo.ErrorCode)
}

func TestApply_FailedThenSucceeded(t *testing.T) {
	o := &Order{Status: StatusProcessing}

	failure, _ := Plan(payment.IntentFailed{EventMeta: meta("evt_2", t0), PaymentIntentID: "pi_1", ErrorCode: "card_declined"})
	require.True(t, o.Apply(failure, t0))
	assert.Equal(t, StatusPaymentFailed, o.Status)
	assert.False(t, o.Payment)

	// Replaying the identical failure changes nothing.
	assert.False(t, o.Apply(failure, t1))

	success, _ := Plan(payment.SessionAsyncSucceeded{EventMeta: meta("evt_3", t1), SessionID: "cs_1"})
	require.True(t, o.Apply(success, t1))
	assert.True(t, o.Payment)
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, "pi_1", o.PaymentInfo.PaymentIntentID, "empty intent id must not clear the recorded one")
}

func TestApply_FailureOnlyReplacesOlderFailure(t *testing.T) {
	o := &Order{Status: StatusProcessing}

	declined, _ := Plan(payment.IntentFailed{EventMeta: meta("evt_1", t0), PaymentIntentID: "pi_1", ErrorCode: "card_declined"})
	expired, _ := Plan(payment.SessionExpired{EventMeta: meta("evt_2", t1), SessionID: "cs_1"})

	require.True(t, o.Apply(declined, t0))
	require.True(t, o.Apply(expired, t1))

	assert.False(t, o.Apply(declined, t1), "older failure must not rewind a newer one")
	assert.False(t, o.Apply(expired, t1))
	assert.Equal(t, ReasonExpired, o.PaymentInfo.FailureReason)
	assert.Empty(t, o.PaymentInfo.ErrorCode)
	require.NotNil(t, o.PaymentInfo.FailedAt)
	assert.Equal(t, t1, *o.PaymentInfo.FailedAt)
}
