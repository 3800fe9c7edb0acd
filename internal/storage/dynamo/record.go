package dynamo

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

// timeLayout is fixed width so that string order equals time order on the
// index sort key.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func orderPK(id string) string { return "ORDER#" + id }
func userPK(id string) string { return "USER#" + id }
func cartPK(id string) string { return "CART#" + id }
func apiKeyPK(hash string) string { return "APIKEY#" + hash }

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

type itemRecord struct {
	Name      string `dynamodbav:"name"`
	UnitPrice string `dynamodbav:"unit_price"`
	Quantity  int    `dynamodbav:"quantity"`
}

type addressRecord struct {
	FirstName string `dynamodbav:"first_name"`
	LastName  string `dynamodbav:"last_name"`
	Email     string `dynamodbav:"email"`
	Street    string `dynamodbav:"street"`
	City      string `dynamodbav:"city"`
	State     string `dynamodbav:"state"`
	Zipcode   string `dynamodbav:"zipcode"`
	Country   string `dynamodbav:"country"`
	Phone     string `dynamodbav:"phone"`
}

// orderRecord is the stored shape of an order. GSI keys are only present on
// paid orders, which keeps both paid indexes sparse.
type orderRecord struct {
	PK      string `dynamodbav:"pk"`
	UserKey string `dynamodbav:"user_key"`
	GSI1PK  string `dynamodbav:"gsi1pk,omitempty"`
	GSI2PK  string `dynamodbav:"gsi2pk,omitempty"`

	ID      string        `dynamodbav:"id"`
	UserID  string        `dynamodbav:"user_id"`
	Items   []itemRecord  `dynamodbav:"items"`
	Amount  string        `dynamodbav:"amount"`
	Address addressRecord `dynamodbav:"address"`
	Status  string        `dynamodbav:"status"`
	Payment bool          `dynamodbav:"payment"`

	PaymentState    string `dynamodbav:"payment_state"`
	SuccessMessage  string `dynamodbav:"success_message"`
	ErrorCode       string `dynamodbav:"error_code"`
	ErrorMessage    string `dynamodbav:"error_message"`
	FailureReason   string `dynamodbav:"failure_reason"`
	SessionID       string `dynamodbav:"session_id"`
	PaymentIntentID string `dynamodbav:"payment_intent_id"`
	ChargeID        string `dynamodbav:"charge_id"`
	PaidAt          string `dynamodbav:"paid_at,omitempty"`
	FailedAt        string `dynamodbav:"failed_at,omitempty"`

	CreatedAt string `dynamodbav:"created_at"`
	UpdatedAt string `dynamodbav:"updated_at"`
}

func toRecord(o *order.Order) orderRecord {
	items := make([]itemRecord, len(o.Items))
	for i, it := range o.Items {
		items[i] = itemRecord{Name: it.Name, UnitPrice: it.UnitPrice.String(), Quantity: it.Quantity}
	}
	a := o.Address
	return orderRecord{
		PK:      orderPK(o.ID),
		UserKey: userPK(o.UserID),
		ID:      o.ID,
		UserID:  o.UserID,
		Items:   items,
		Amount:  o.Amount.StringFixed(2),
		Address: addressRecord{
			FirstName: a.FirstName, LastName: a.LastName, Email: a.Email,
			Street: a.Street, City: a.City, State: a.State,
			Zipcode: a.Zipcode, Country: a.Country, Phone: a.Phone,
		},
		Status:       string(o.Status),
		PaymentState: string(order.PaymentUnset),
		CreatedAt:    formatTime(o.CreatedAt),
		UpdatedAt:    formatTime(o.UpdatedAt),
	}
}

func (r orderRecord) toOrder() (order.Order, error) {
	amount, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return order.Order{}, fmt.Errorf("parsing amount of order %q: %w", r.ID, err)
	}
	items := make([]order.Item, len(r.Items))
	for i, it := range r.Items {
		price, err := decimal.NewFromString(it.UnitPrice)
		if err != nil {
			return order.Order{}, fmt.Errorf("parsing price of order %q item %d: %w", r.ID, i, err)
		}
		items[i] = order.Item{Name: it.Name, UnitPrice: price, Quantity: it.Quantity}
	}
	created, err := parseTime(r.CreatedAt)
	if err != nil {
		return order.Order{}, err
	}
	updated, err := parseTime(r.UpdatedAt)
	if err != nil {
		return order.Order{}, err
	}
	paidAt, err := parseOptTime(r.PaidAt)
	if err != nil {
		return order.Order{}, err
	}
	failedAt, err := parseOptTime(r.FailedAt)
	if err != nil {
		return order.Order{}, err
	}

	a := r.Address
	return order.Order{
		ID:     r.ID,
		UserID: r.UserID,
		Items:  items,
		Amount: amount,
		Address: order.Address{
			FirstName: a.FirstName, LastName: a.LastName, Email: a.Email,
			Street: a.Street, City: a.City, State: a.State,
			Zipcode: a.Zipcode, Country: a.Country, Phone: a.Phone,
		},
		Status:  order.Status(r.Status),
		Payment: r.Payment,
		PaymentInfo: order.PaymentInfo{
			State:           order.PaymentState(r.PaymentState),
			SuccessMessage:  r.SuccessMessage,
			ErrorCode:       r.ErrorCode,
			ErrorMessage:    r.ErrorMessage,
			FailureReason:   r.FailureReason,
			SessionID:       r.SessionID,
			PaymentIntentID: r.PaymentIntentID,
			ChargeID:        r.ChargeID,
			PaidAt:          paidAt,
			FailedAt:        failedAt,
		},
		CreatedAt: created,
		UpdatedAt: updated,
	}, nil
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing time %q: %w", s, err)
	}
	return t, nil
}

func parseOptTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := parseTime(s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
