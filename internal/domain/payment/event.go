package payment

import "time"

// Event is a verified gateway push notification. The set of implementations
// is closed: SessionCompleted, SessionAsyncSucceeded, IntentFailed,
// SessionAsyncFailed, SessionExpired and Ignored.
type Event interface {
	Meta() EventMeta
	isEvent()
}

// EventMeta holds the fields every event carries.
type EventMeta struct {
	ID         string
	Type       string
	OccurredAt time.Time
	// OrderID is the correlation id recovered from metadata first and the
	// session client reference second. Empty when neither was present.
	OrderID string
}

// SessionCompleted is sent when the shopper finishes the hosted checkout.
// For delayed payment methods PaymentStatus may still be unpaid.
type SessionCompleted struct {
	EventMeta
	SessionID       string
	PaymentIntentID string
	PaymentStatus   SessionPaymentStatus
}

// SessionAsyncSucceeded is sent when a delayed payment method settles.
type SessionAsyncSucceeded struct {
	EventMeta
	SessionID       string
	PaymentIntentID string
}

// IntentFailed is sent when a payment attempt on the intent is declined.
type IntentFailed struct {
	EventMeta
	PaymentIntentID string
	ErrorCode       string
	ErrorMessage    string
}

// SessionAsyncFailed is sent when a delayed payment method fails to settle.
type SessionAsyncFailed struct {
	EventMeta
	SessionID       string
	PaymentIntentID string
}

// SessionExpired is sent when the session was abandoned until it expired.
type SessionExpired struct {
	EventMeta
	SessionID string
}

// Ignored wraps any event type the service does not act on.
type Ignored struct {
	EventMeta
}

func (e EventMeta) Meta() EventMeta { return e }

func (SessionCompleted) isEvent()      {}
func (SessionAsyncSucceeded) isEvent() {}
func (IntentFailed) isEvent()          {}
func (SessionAsyncFailed) isEvent()    {}
func (SessionExpired) isEvent()        {}
func (Ignored) isEvent()               {}
