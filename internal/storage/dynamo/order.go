package dynamo

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

var (
	_ order.Repository       = (*OrderRepository)(nil)
	_ order.ChargeRepository = (*OrderRepository)(nil)
)

// OrderRepository implements order.Repository on DynamoDB.
type OrderRepository struct {
	client API
	table  string
	now    func() time.Time
}

// NewOrderRepository returns an OrderRepository over the given table.
func NewOrderRepository(client API, table string) *OrderRepository {
	return &OrderRepository{client: client, table: table, now: time.Now}
}

// Create stores a new order; an existing id is rejected by the condition.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	item, err := attributevalue.MarshalMap(toRecord(o))
	if err != nil {
		return fmt.Errorf("marshaling order %q: %w", o.ID, err)
	}
	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	})
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.table),
		Key:            key(orderPK(id)),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", id, err)
	}
	if len(out.Item) == 0 {
		return nil, order.ErrNotFound
	}
	return decodeOrder(out.Item)
}

// AttachSession links a gateway session to an order without an outcome.
func (r *OrderRepository) AttachSession(ctx context.Context, orderID, sessionID string) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 key(orderPK(orderID)),
		UpdateExpression:    aws.String("SET session_id = :sid, updated_at = :now"),
		ConditionExpression: aws.String("attribute_exists(pk) AND payment_state = :unset"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":sid":   str(sessionID),
			":now":   str(formatTime(r.now())),
			":unset": str(string(order.PaymentUnset)),
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if old, ok := conditionFailed(err); ok {
		if len(old) == 0 {
			return order.ErrNotFound
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("attaching session to order %q: %w", orderID, err)
	}
	return nil
}

// applyUpdate renders a transition as an update and condition expression
// pair with the same guard as order.Order.Apply.
func applyUpdate(t order.Transition, now time.Time) (update, condition string, values map[string]types.AttributeValue) {
	at := formatTime(t.At)
	values = map[string]types.AttributeValue{
		":to":        str(string(t.To)),
		":payment":   boolean(t.Succeeds()),
		":status":    str(string(t.Status())),
		":at":        str(at),
		":now":       str(formatTime(now)),
		":succeeded": str(string(order.PaymentSucceeded)),
	}
	set := []string{
		"payment_state = :to",
		"payment = :payment",
		"#status = :status",
		"updated_at = :now",
	}
	if t.SessionID != "" {
		set = append(set, "session_id = :sid")
		values[":sid"] = str(t.SessionID)
	}
	if t.PaymentIntentID != "" {
		set = append(set, "payment_intent_id = :pi")
		values[":pi"] = str(t.PaymentIntentID)
	}

	condition = "attribute_exists(pk) AND payment_state <> :succeeded"
	if t.Succeeds() {
		set = append(set,
			"success_message = :msg",
			"charge_id = :charge",
			"paid_at = :at",
			"gsi1pk = user_key",
			"gsi2pk = :paid",
		)
		values[":msg"] = str(order.SuccessMessage())
		values[":charge"] = str(t.ChargeID)
		values[":paid"] = str(paidPartition)
	} else {
		set = append(set,
			"error_code = :code",
			"error_message = :emsg",
			"failure_reason = :reason",
			"failed_at = :at",
		)
		values[":code"] = str(t.ErrorCode)
		values[":emsg"] = str(t.ErrorMessage)
		values[":reason"] = str(t.FailureReason)
		values[":failed"] = str(string(order.PaymentFailed))
		condition += " AND NOT (payment_state = :failed AND failed_at >= :at)"
	}
	return "SET " + strings.Join(set, ", "), condition, values
}

// ApplyPayment performs the transition as one conditional UpdateItem. A
// failed condition returns the unchanged item, or order.ErrNotFound when the
// table has none.
func (r *OrderRepository) ApplyPayment(ctx context.Context, orderID string, t order.Transition) (*order.Order, bool, error) {
	update, condition, values := applyUpdate(t, r.now())
	out, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                           aws.String(r.table),
		Key:                                 key(orderPK(orderID)),
		UpdateExpression:                    aws.String(update),
		ConditionExpression:                 aws.String(condition),
		ExpressionAttributeNames:            map[string]string{"#status": "status"},
		ExpressionAttributeValues:           values,
		ReturnValues:                        types.ReturnValueAllNew,
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if old, ok := conditionFailed(err); ok {
		if len(old) == 0 {
			return nil, false, order.ErrNotFound
		}
		o, err := decodeOrder(old)
		return o, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("applying payment to order %q: %w", orderID, err)
	}
	o, err := decodeOrder(out.Attributes)
	if err != nil {
		return nil, false, err
	}
	return o, true, nil
}

// UpdateStatus sets the fulfilment status of a paid order.
func (r *OrderRepository) UpdateStatus(ctx context.Context, orderID string, status order.Status) error {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                aws.String(r.table),
		Key:                      key(orderPK(orderID)),
		UpdateExpression:         aws.String("SET #status = :status, updated_at = :now"),
		ConditionExpression:      aws.String("attribute_exists(pk) AND payment_state = :succeeded"),
		ExpressionAttributeNames: map[string]string{"#status": "status"},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":    str(string(status)),
			":now":       str(formatTime(r.now())),
			":succeeded": str(string(order.PaymentSucceeded)),
		},
		ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
	})
	if old, ok := conditionFailed(err); ok {
		if len(old) == 0 {
			return order.ErrNotFound
		}
		return order.ErrNotPayable
	}
	if err != nil {
		return fmt.Errorf("updating status of order %q: %w", orderID, err)
	}
	return nil
}

// ListPaid queries one of the sparse paid indexes, newest first.
func (r *OrderRepository) ListPaid(ctx context.Context, f order.ListFilter) ([]order.Order, error) {
	in := r.paidQuery(f.UserID, false)
	return r.queryOrders(ctx, in, 0)
}

// PopularItems aggregates item quantities over every paid order.
func (r *OrderRepository) PopularItems(ctx context.Context, limit int) ([]order.ItemPopularity, error) {
	orders, err := r.queryOrders(ctx, r.paidQuery("", false), 0)
	if err != nil {
		return nil, err
	}
	totals := make(map[string]int64)
	for _, o := range orders {
		for _, it := range o.Items {
			totals[order.PopularityKey(it.Name)] += int64(it.Quantity)
		}
	}
	out := make([]order.ItemPopularity, 0, len(totals))
	for name, qty := range totals {
		out = append(out, order.ItemPopularity{Name: name, Quantity: qty})
	}
	slices.SortFunc(out, func(a, b order.ItemPopularity) int {
		if c := cmp.Compare(b.Quantity, a.Quantity); c != 0 {
			return c
		}
		return cmp.Compare(a.Name, b.Name)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListMissingCharge returns paid orders with an empty charge id, oldest first.
func (r *OrderRepository) ListMissingCharge(ctx context.Context, limit int) ([]order.Order, error) {
	in := r.paidQuery("", true)
	in.FilterExpression = aws.String("charge_id = :empty AND payment_intent_id <> :empty")
	in.ExpressionAttributeValues[":empty"] = str("")
	return r.queryOrders(ctx, in, limit)
}

// RecordCharge fills in an empty charge id on a succeeded order.
func (r *OrderRepository) RecordCharge(ctx context.Context, orderID, chargeID string) (bool, error) {
	_, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:           aws.String(r.table),
		Key:                 key(orderPK(orderID)),
		UpdateExpression:    aws.String("SET charge_id = :charge, updated_at = :now"),
		ConditionExpression: aws.String("payment_state = :succeeded AND charge_id = :empty"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":charge":    str(chargeID),
			":now":       str(formatTime(r.now())),
			":succeeded": str(string(order.PaymentSucceeded)),
			":empty":     str(""),
		},
	})
	if _, ok := conditionFailed(err); ok {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("recording charge for order %q: %w", orderID, err)
	}
	return true, nil
}

func (r *OrderRepository) paidQuery(userID string, ascending bool) *dynamodb.QueryInput {
	in := &dynamodb.QueryInput{
		TableName:        aws.String(r.table),
		ScanIndexForward: aws.Bool(ascending),
	}
	if userID != "" {
		in.IndexName = aws.String(indexPaidUser)
		in.KeyConditionExpression = aws.String("gsi1pk = :pk")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":pk": str(userPK(userID))}
	} else {
		in.IndexName = aws.String(indexPaidAll)
		in.KeyConditionExpression = aws.String("gsi2pk = :pk")
		in.ExpressionAttributeValues = map[string]types.AttributeValue{":pk": str(paidPartition)}
	}
	return in
}

// queryOrders pages through a query, stopping once limit orders were
// collected. A zero limit reads every page.
func (r *OrderRepository) queryOrders(ctx context.Context, in *dynamodb.QueryInput, limit int) ([]order.Order, error) {
	var out []order.Order
	p := dynamodb.NewQueryPaginator(r.client, in)
	for p.HasMorePages() {
		page, err := p.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("querying %s: %w", aws.ToString(in.IndexName), err)
		}
		for _, item := range page.Items {
			o, err := decodeOrder(item)
			if err != nil {
				return nil, err
			}
			out = append(out, *o)
			if limit > 0 && len(out) == limit {
				return out, nil
			}
		}
	}
	return out, nil
}

func decodeOrder(item map[string]types.AttributeValue) (*order.Order, error) {
	var rec orderRecord
	if err := attributevalue.UnmarshalMap(item, &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling order: %w", err)
	}
	o, err := rec.toOrder()
	if err != nil {
		return nil, err
	}
	return &o, nil
}
