package courier

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/earnings"
	"github.com/xenking/fulfillment/internal/domain/order"
	"github.com/xenking/fulfillment/internal/notify"
)

// Matching defaults.
const (
	DefaultRadiusKM  = 10
	DefaultListLimit = 20
)

// Config tunes order matching.
type Config struct {
	RadiusKM  float64
	ListLimit int
}

func (c *Config) setDefaults() {
	if c.RadiusKM <= 0 {
		c.RadiusKM = DefaultRadiusKM
	}
	if c.ListLimit <= 0 {
		c.ListLimit = DefaultListLimit
	}
}

// Service lists claimable orders, resolves courier claim races and settles
// completed deliveries.
type Service struct {
	orders   order.Repository
	couriers Repository
	earnings earnings.Repository
	notifier notify.Notifier
	cfg      Config
	now      func() time.Time
	newID    func() string
	tracer   trace.Tracer
	claims   metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the event notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider enables tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("fulfillment/courier") }
}

// WithMeterProvider records claim outcomes.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(s *Service) {
		if c, err := mp.Meter("fulfillment/courier").Int64Counter("courier.claims",
			metric.WithDescription("Courier claim attempts by outcome"),
		); err == nil {
			s.claims = c
		}
	}
}

// NewService creates a Service.
func NewService(orders order.Repository, couriers Repository, records earnings.Repository, cfg Config, opts ...Option) *Service {
	cfg.setDefaults()
	claims, _ := metricnoop.NewMeterProvider().Meter("").Int64Counter("courier.claims")
	s := &Service{
		orders:   orders,
		couriers: couriers,
		earnings: records,
		notifier: notify.Nop{},
		cfg:      cfg,
		now:      time.Now,
		newID:    func() string { return uuid.New().String() },
		tracer:   noop.NewTracerProvider().Tracer(""),
		claims:   claims,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListAvailable returns ready, unassigned orders for the courier, oldest
// first. Couriers that never reported a location see the unfiltered queue.
func (s *Service) ListAvailable(ctx context.Context, courierID string) ([]order.Order, error) {
	p, err := s.couriers.Get(ctx, courierID)
	if err != nil {
		return nil, err
	}

	q := order.AvailableQuery{Limit: s.cfg.ListLimit}
	if !p.Location.Unset() {
		at := p.Location
		q.Near = &at
		q.RadiusKM = s.cfg.RadiusKM
	}

	orders, err := s.orders.ListAvailable(ctx, q)
	if err != nil {
		return nil, errors.Wrap(err, "list available orders")
	}
	return orders, nil
}

// Claim assigns orderID to the courier. Of any number of concurrent claims
// on the same order exactly one succeeds; the others get
// order.ErrAlreadyTaken and leave no trace.
func (s *Service) Claim(ctx context.Context, courierID, orderID string) (_ *order.Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "courier.Claim", trace.WithAttributes(
		attribute.String("courier.id", courierID),
		attribute.String("order.id", orderID),
	))
	defer func() {
		if rerr != nil {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
		span.End()
		s.claims.Add(ctx, 1, metric.WithAttributes(attribute.Bool("won", rerr == nil)))
	}()

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != order.StatusReady || o.CourierID != "" {
		return nil, order.ErrAlreadyTaken
	}

	reserved, err := s.couriers.Reserve(ctx, courierID, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "reserve courier")
	}
	if !reserved {
		if _, err := s.couriers.Get(ctx, courierID); err != nil {
			return nil, err
		}
		return nil, ErrNotAvailable
	}

	entry := order.StatusEntry{
		Status: order.StatusPickedUp,
		At:     order.NextEntryTime(o, s.now().UTC().Truncate(time.Microsecond)),
	}
	updated, err := s.orders.AssignCourier(ctx, orderID, courierID, entry)
	if err != nil {
		if _, uerr := s.couriers.Release(ctx, courierID, orderID, nil); uerr != nil {
			zctx.From(ctx).Error("Courier reservation rollback failed",
				zap.String("courier_id", courierID),
				zap.String("order_id", orderID),
				zap.Error(uerr),
			)
		}
		return nil, err
	}

	zctx.From(ctx).Info("Order claimed",
		zap.String("courier_id", courierID),
		zap.String("order_id", orderID),
	)
	s.notifier.Publish(ctx, order.StatusEvent(updated, entry))
	return updated, nil
}

// Settle records the earning of a delivered order and frees its courier.
// The earning record is best-effort: a failed insert is logged and the
// courier is still released. Orders delivered without an assigned courier
// are skipped.
func (s *Service) Settle(ctx context.Context, o *order.Order) error {
	lg := zctx.From(ctx).With(
		zap.String("courier_id", o.CourierID),
		zap.String("order_id", o.ID),
	)
	if o.CourierID == "" {
		lg.Warn("Delivered order has no courier, settlement skipped")
		return nil
	}

	rec := earnings.Compute(s.newID(), o.CourierID, o.ID, o.Pricing.DeliveryFee, s.now().UTC())
	if err := s.earnings.Insert(ctx, &rec); err != nil {
		if errors.Is(err, earnings.ErrDuplicate) {
			lg.Warn("Earning already recorded")
		} else {
			lg.Error("Record earning", zap.Error(err))
		}
	}

	released, err := s.couriers.Release(ctx, o.CourierID, o.ID, &rec.TotalEarning)
	if err != nil {
		return errors.Wrap(err, "release courier")
	}
	if !released {
		lg.Warn("Courier was not holding the delivered order")
	}
	return nil
}

// Register creates the courier's profile, offline and without location.
func (s *Service) Register(ctx context.Context, courierID string, vehicle VehicleType, vehicleNumber string) (*Profile, error) {
	if !vehicle.Valid() {
		return nil, ErrInvalidVehicle
	}
	now := s.now().UTC()
	p := &Profile{
		CourierID:     courierID,
		VehicleType:   vehicle,
		VehicleNumber: vehicleNumber,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.couriers.Create(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// ToggleOnline flips the online flag of the courier.
func (s *Service) ToggleOnline(ctx context.Context, courierID string) (*Profile, error) {
	p, err := s.couriers.Get(ctx, courierID)
	if err != nil {
		return nil, err
	}
	return s.couriers.SetOnline(ctx, courierID, !p.IsOnline)
}

// UpdateLocation stores the courier position and, while on a delivery,
// publishes it for the customer.
func (s *Service) UpdateLocation(ctx context.Context, courierID string, at catalog.Point) (*Profile, error) {
	if !at.Valid() {
		return nil, ErrInvalidLocation
	}
	p, err := s.couriers.UpdateLocation(ctx, courierID, at)
	if err != nil {
		return nil, err
	}
	if p.CurrentOrderID != "" {
		s.notifier.Publish(ctx, notify.LocationUpdated{
			CourierID: courierID,
			OrderID:   p.CurrentOrderID,
			Lat:       at.Lat,
			Lng:       at.Lng,
			At:        s.now().UTC(),
		})
	}
	return p, nil
}

// Profile returns the courier's profile.
func (s *Service) Profile(ctx context.Context, courierID string) (*Profile, error) {
	return s.couriers.Get(ctx, courierID)
}
