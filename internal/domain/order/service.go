package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/oolio-kart-checkout/internal/domain/cart"
	"github.com/xenking/oolio-kart-checkout/internal/domain/payment"
)

const (
	defaultGatewayTimeout = 10 * time.Second
	deliveryLineName      = "Delivery Charges"
)

// Config holds the immutable settings of the order service.
type Config struct {
	// DeliveryFee is added to every order as its own checkout line.
	DeliveryFee decimal.Decimal
	// FrontendURL is the base of the success and cancel redirect URLs.
	FrontendURL string
	// GatewayTimeout bounds every outbound gateway call.
	GatewayTimeout time.Duration
}

// Service reconciles orders with the payment gateway. It holds no mutable
// state of its own; every order mutation is a conditional write in the store.
type Service struct {
	orders  Repository
	gateway payment.Gateway
	carts   cart.Clearer
	events  Publisher
	cfg     Config
	now     func() time.Time

	transitions metric.Int64Counter
	sessions    metric.Int64Counter
}

// Option configures optional Service collaborators.
type Option func(*Service)

// WithPublisher sets the paid-order event publisher.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// WithMeterProvider sets the meter provider used for domain counters.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) { s.initMetrics(mp) }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an order Service with the required domain dependencies.
func NewService(
	orders Repository,
	gateway payment.Gateway,
	carts cart.Clearer,
	cfg Config,
	opts ...Option,
) *Service {
	if cfg.GatewayTimeout <= 0 {
		cfg.GatewayTimeout = defaultGatewayTimeout
	}
	s := &Service{
		orders:  orders,
		gateway: gateway,
		carts:   carts,
		events:  nopPublisher{},
		cfg:     cfg,
		now:     time.Now,
	}
	s.initMetrics(noop.NewMeterProvider())
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Service) initMetrics(mp metric.MeterProvider) {
	meter := mp.Meter("github.com/xenking/oolio-kart-checkout/internal/domain/order")
	// Instrument creation only fails on invalid names; fall back to noop.
	var err error
	if s.transitions, err = meter.Int64Counter("kart.payment.transitions",
		metric.WithDescription("Payment transitions attempted against the order store"),
	); err != nil {
		s.transitions, _ = noop.Meter{}.Int64Counter("kart.payment.transitions")
	}
	if s.sessions, err = meter.Int64Counter("kart.checkout.sessions",
		metric.WithDescription("Checkout sessions requested from the payment gateway"),
	); err != nil {
		s.sessions, _ = noop.Meter{}.Int64Counter("kart.checkout.sessions")
	}
}

func (s *Service) recordTransition(ctx context.Context, t Transition, applied bool) {
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("kind", string(t.To)),
		attribute.String("source", string(t.Source)),
		attribute.Bool("applied", applied),
	))
}

func (s *Service) recordSession(ctx context.Context, result string) {
	s.sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// gatewayCtx bounds a single outbound gateway call.
func (s *Service) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.cfg.GatewayTimeout)
}

// ListUserOrders returns the user's paid orders, newest first.
func (s *Service) ListUserOrders(ctx context.Context, userID string) ([]Order, error) {
	if userID == "" {
		return nil, ErrUserRequired
	}
	orders, err := s.orders.ListPaid(ctx, ListFilter{UserID: userID})
	if err != nil {
		return nil, errors.Wrap(err, "list user orders")
	}
	return orders, nil
}

// ListOrders returns every paid order, newest first.
func (s *Service) ListOrders(ctx context.Context) ([]Order, error) {
	orders, err := s.orders.ListPaid(ctx, ListFilter{})
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return orders, nil
}

const (
	DefaultPopularLimit = 5
	MaxPopularLimit     = 50
)

// ErrInvalidLimit is returned for popular item limits outside 1..MaxPopularLimit.
var ErrInvalidLimit = errors.New("limit must be between 1 and 50")

// PopularItems ranks item names by quantity sold on paid orders. A zero limit
// selects DefaultPopularLimit.
func (s *Service) PopularItems(ctx context.Context, limit int) ([]ItemPopularity, error) {
	if limit == 0 {
		limit = DefaultPopularLimit
	}
	if limit < 0 || limit > MaxPopularLimit {
		return nil, ErrInvalidLimit
	}
	items, err := s.orders.PopularItems(ctx, limit)
	if err != nil {
		return nil, errors.Wrap(err, "popular items")
	}
	return items, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishPaid(context.Context, PaidEvent) error { return nil }
