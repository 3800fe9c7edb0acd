package stripe

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

// ParseWebhook verifies the Stripe-Signature header over the raw payload and
// then decodes the event's data object into a payment.Event. Unhandled event
// types decode to payment.Ignored.
func (g *Gateway) ParseWebhook(payload []byte, signatureHeader string) (payment.Event, error) {
	if g.secret == "" {
		return nil, ErrWebhookSecretMissing
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isSignatureError(err) {
			return nil, errors.Wrap(payment.ErrInvalidSignature, err.Error())
		}
		return nil, errors.Wrap(payment.ErrMalformedEvent, err.Error())
	}
	return decodeEvent(ev)
}

func isSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}

// dataObject holds the fields of a checkout session or payment intent object
// that events are reconciled on.
type dataObject struct {
	ID                string
	ClientReferenceID string
	OrderID           string
	PaymentIntentID   string
	PaymentStatus     string
	ErrorCode         string
	ErrorMessage      string
}

func decodeEvent(ev stripe.Event) (payment.Event, error) {
	meta := payment.EventMeta{
		ID:         ev.ID,
		Type:       string(ev.Type),
		OccurredAt: time.Unix(ev.Created, 0).UTC(),
	}

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded,
		stripe.EventTypeCheckoutSessionAsyncPaymentFailed,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypePaymentIntentPaymentFailed:
	default:
		return payment.Ignored{EventMeta: meta}, nil
	}

	if ev.Data == nil {
		return nil, errors.Wrap(payment.ErrMalformedEvent, "event has no data")
	}
	obj, err := decodeObject(ev.Data.Raw)
	if err != nil {
		return nil, errors.Wrap(payment.ErrMalformedEvent, err.Error())
	}
	meta.OrderID = obj.OrderID
	if meta.OrderID == "" {
		meta.OrderID = obj.ClientReferenceID
	}

	switch ev.Type {
	case stripe.EventTypeCheckoutSessionCompleted:
		return payment.SessionCompleted{
			EventMeta:       meta,
			SessionID:       obj.ID,
			PaymentIntentID: obj.PaymentIntentID,
			PaymentStatus:   payment.SessionPaymentStatus(obj.PaymentStatus),
		}, nil
	case stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
		return payment.SessionAsyncSucceeded{
			EventMeta:       meta,
			SessionID:       obj.ID,
			PaymentIntentID: obj.PaymentIntentID,
		}, nil
	case stripe.EventTypeCheckoutSessionAsyncPaymentFailed:
		return payment.SessionAsyncFailed{
			EventMeta:       meta,
			SessionID:       obj.ID,
			PaymentIntentID: obj.PaymentIntentID,
		}, nil
	case stripe.EventTypeCheckoutSessionExpired:
		return payment.SessionExpired{
			EventMeta: meta,
			SessionID: obj.ID,
		}, nil
	default:
		return payment.IntentFailed{
			EventMeta:       meta,
			PaymentIntentID: obj.ID,
			ErrorCode:       obj.ErrorCode,
			ErrorMessage:    obj.ErrorMessage,
		}, nil
	}
}

func decodeObject(raw []byte) (dataObject, error) {
	var obj dataObject
	d := jx.DecodeBytes(raw)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			obj.ID, err = optString(d)
		case "client_reference_id":
			obj.ClientReferenceID, err = optString(d)
		case "payment_status":
			obj.PaymentStatus, err = optString(d)
		case "payment_intent":
			// Expandable: either an id or the full intent object.
			if d.Next() == jx.Object {
				obj.PaymentIntentID, err = objectID(d)
			} else {
				obj.PaymentIntentID, err = optString(d)
			}
		case "metadata":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				if string(key) != metadataOrderID {
					return d.Skip()
				}
				var err error
				obj.OrderID, err = optString(d)
				return err
			})
		case "last_payment_error":
			if d.Next() != jx.Object {
				return d.Skip()
			}
			err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "code":
					obj.ErrorCode, err = optString(d)
				case "message":
					obj.ErrorMessage, err = optString(d)
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return dataObject{}, errors.Wrap(err, "decode data object")
	}
	return obj, nil
}

// optString reads a string that may be null.
func optString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func objectID(d *jx.Decoder) (string, error) {
	var id string
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "id" {
			return d.Skip()
		}
		var err error
		id, err = optString(d)
		return err
	})
	return id, err
}
