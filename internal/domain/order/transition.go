package order

import (
	"time"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

// Effect is a side effect that runs only after the transition that carries it
// was actually applied by the store.
type Effect string

const (
	EffectClearCart   Effect = "clear_cart"
	EffectPublishPaid Effect = "publish_paid"
)

// Source names the signal a transition was derived from.
type Source string

const (
	SourceWebhook  Source = "webhook"
	SourceRedirect Source = "redirect"
)

const (
	successMessage = "Payment completed successfully"

	ReasonDeclined    = "declined"
	ReasonExpired     = "expired"
	ReasonAsyncFailed = "async_payment_failed"
)

// Transition is a planned payment write. Stores apply it as one conditional
// update; Order.Apply is the reference semantics of that update.
type Transition struct {
	To      PaymentState
	Source  Source
	EventID string
	// At is the gateway's event time (or the verifier's observation time).
	// It becomes PaidAt or FailedAt, so replaying an event writes the same value.
	At time.Time

	SessionID       string
	PaymentIntentID string
	ChargeID        string
	ErrorCode       string
	ErrorMessage    string
	FailureReason   string

	Effects []Effect
}

// Succeeds reports whether t records a successful payment.
func (t Transition) Succeeds() bool { return t.To == PaymentSucceeded }

// Status is the fulfilment status written alongside the payment state.
func (t Transition) Status() Status {
	if t.Succeeds() {
		return StatusProcessing
	}
	return StatusPaymentFailed
}

// Plan maps a verified gateway event to the transition it demands. It
// returns false for events that must not change the order, including
// completed sessions whose delayed payment has not settled yet.
func Plan(ev payment.Event) (Transition, bool) {
	meta := ev.Meta()
	base := Transition{
		Source:  SourceWebhook,
		EventID: meta.ID,
		At:      meta.OccurredAt,
	}

	switch e := ev.(type) {
	case payment.SessionCompleted:
		if e.PaymentStatus == payment.SessionUnpaid {
			return Transition{}, false
		}
		return succeeded(base, e.SessionID, e.PaymentIntentID), true
	case payment.SessionAsyncSucceeded:
		return succeeded(base, e.SessionID, e.PaymentIntentID), true
	case payment.IntentFailed:
		base.To = PaymentFailed
		base.PaymentIntentID = e.PaymentIntentID
		base.ErrorCode = e.ErrorCode
		base.ErrorMessage = e.ErrorMessage
		base.FailureReason = ReasonDeclined
		return base, true
	case payment.SessionAsyncFailed:
		base.To = PaymentFailed
		base.SessionID = e.SessionID
		base.PaymentIntentID = e.PaymentIntentID
		base.FailureReason = ReasonAsyncFailed
		return base, true
	case payment.SessionExpired:
		base.To = PaymentFailed
		base.SessionID = e.SessionID
		base.FailureReason = ReasonExpired
		return base, true
	default:
		return Transition{}, false
	}
}

// PlanVerified builds the success transition for a session the redirect
// verifier saw settled. It is the same transition a webhook would produce.
func PlanVerified(s payment.Session, at time.Time) Transition {
	return succeeded(Transition{Source: SourceRedirect, At: at}, s.ID, s.PaymentIntentID)
}

func succeeded(t Transition, sessionID, intentID string) Transition {
	t.To = PaymentSucceeded
	t.SessionID = sessionID
	t.PaymentIntentID = intentID
	t.Effects = []Effect{EffectClearCart, EffectPublishPaid}
	return t
}

// Applicable is the guard of every payment write: a succeeded payment is
// never overwritten, and a failure only replaces a strictly older failure.
func (o *Order) Applicable(t Transition) bool {
	switch o.PaymentInfo.State {
	case PaymentSucceeded:
		return false
	case PaymentFailed:
		if t.To == PaymentFailed && o.PaymentInfo.FailedAt != nil && !t.At.After(*o.PaymentInfo.FailedAt) {
			return false
		}
	}
	return true
}

// Apply evaluates t against o exactly like the stores' conditional write and
// reports whether o changed.
func (o *Order) Apply(t Transition, now time.Time) bool {
	if !o.Applicable(t) {
		return false
	}

	info := &o.PaymentInfo
	info.State = t.To
	if t.SessionID != "" {
		info.SessionID = t.SessionID
	}
	if t.PaymentIntentID != "" {
		info.PaymentIntentID = t.PaymentIntentID
	}
	at := t.At
	if t.Succeeds() {
		info.SuccessMessage = successMessage
		info.ChargeID = t.ChargeID
		info.PaidAt = &at
	} else {
		info.ErrorCode = t.ErrorCode
		info.ErrorMessage = t.ErrorMessage
		info.FailureReason = t.FailureReason
		info.FailedAt = &at
	}
	o.Payment = t.Succeeds()
	o.Status = t.Status()
	o.UpdatedAt = now
	return true
}

// SuccessMessage is the message recorded with a succeeded payment.
func SuccessMessage() string { return successMessage }
