// Package memory provides in-process stores with the same conditional write
// semantics as the durable ones. They back tests and local runs.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/xenking/oolio-kart-checkout/internal/domain/order"
)

var (
	_ order.Repository       = (*OrderStore)(nil)
	_ order.ChargeRepository = (*OrderStore)(nil)
)

// OrderStore keeps orders in a map. Each method is one critical section, the
// equivalent of a single conditional statement in a database.
type OrderStore struct {
	mu     sync.Mutex
	orders map[string]*order.Order
	now    func() time.Time
}

// NewOrderStore returns an empty OrderStore.
func NewOrderStore() *OrderStore {
	return &OrderStore{
		orders: make(map[string]*order.Order),
		now:    time.Now,
	}
}

func (s *OrderStore) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.ID]; ok {
		return errDuplicate(o.ID)
	}
	s.orders[o.ID] = cloneOrder(o)
	return nil
}

func (s *OrderStore) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

func (s *OrderStore) AttachSession(_ context.Context, orderID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.PaymentInfo.State == order.PaymentUnset {
		o.PaymentInfo.SessionID = sessionID
		o.UpdatedAt = s.now().UTC()
	}
	return nil
}

func (s *OrderStore) ApplyPayment(_ context.Context, orderID string, t order.Transition) (*order.Order, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, false, order.ErrNotFound
	}
	applied := o.Apply(t, s.now().UTC())
	return cloneOrder(o), applied, nil
}

func (s *OrderStore) UpdateStatus(_ context.Context, orderID string, status order.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok {
		return order.ErrNotFound
	}
	if o.PaymentInfo.State != order.PaymentSucceeded {
		return order.ErrNotPayable
	}
	o.Status = status
	o.UpdatedAt = s.now().UTC()
	return nil
}

func (s *OrderStore) ListPaid(_ context.Context, f order.ListFilter) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if !o.Payment || o.PaymentInfo.State != order.PaymentSucceeded {
			continue
		}
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})
	return out, nil
}

func (s *OrderStore) PopularItems(_ context.Context, limit int) ([]order.ItemPopularity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	totals := make(map[string]int64)
	for _, o := range s.orders {
		if !o.Payment {
			continue
		}
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

func (s *OrderStore) ListMissingCharge(_ context.Context, limit int) ([]order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []order.Order
	for _, o := range s.orders {
		if o.PaymentInfo.State == order.PaymentSucceeded && o.PaymentInfo.ChargeID == "" && o.PaymentInfo.PaymentIntentID != "" {
			out = append(out, *cloneOrder(o))
		}
	}
	slices.SortFunc(out, func(a, b order.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *OrderStore) RecordCharge(_ context.Context, orderID, chargeID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[orderID]
	if !ok || o.PaymentInfo.State != order.PaymentSucceeded || o.PaymentInfo.ChargeID != "" {
		return false, nil
	}
	o.PaymentInfo.ChargeID = chargeID
	o.UpdatedAt = s.now().UTC()
	return true, nil
}

func cloneOrder(o *order.Order) *order.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	if o.PaymentInfo.PaidAt != nil {
		t := *o.PaymentInfo.PaidAt
		c.PaymentInfo.PaidAt = &t
	}
	if o.PaymentInfo.FailedAt != nil {
		t := *o.PaymentInfo.FailedAt
		c.PaymentInfo.FailedAt = &t
	}
	return &c
}

func errDuplicate(id string) error {
	return fmt.Errorf("order %q already exists", id)
}
