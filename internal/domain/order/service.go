package order

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/auth"
	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/domain/pricing"
	"github.com/xenking/fulfillment/internal/notify"
)

// Cart limits.
const (
	MaxLines              = 50
	MaxQuantity           = 20
	MaxInstructionsLength = 200
)

const cancelledByCustomerMsg = "Cancelled by customer"

// A retry whose coupon claim lost to a concurrent request with the same
// idempotency key waits this long for that request to persist its order.
const (
	replayInitialInterval = 10 * time.Millisecond
	replayMaxRetries      = 6
)

var (
	// ErrEmptyCart is returned when a placement request has no lines.
	ErrEmptyCart = apperr.Validation("order.empty_cart", "lines", "at least one line is required")
	// ErrTooManyLines is returned when a cart exceeds MaxLines.
	ErrTooManyLines = apperr.Validation("order.too_many_lines", "lines", fmt.Sprintf("cannot order more than %d items", MaxLines))
	// ErrUnsupportedPayment is returned for any payment method but cash on delivery.
	ErrUnsupportedPayment = apperr.Validation("order.unsupported_payment", "paymentMethod", "only cash on delivery is currently supported")
	// ErrRestaurantUnavailable is returned when the restaurant is unknown or inactive.
	ErrRestaurantUnavailable = apperr.Validation("order.restaurant_unavailable", "restaurantId", "restaurant not available")
	// ErrBelowMinimum is returned when the subtotal is below the restaurant minimum.
	ErrBelowMinimum = apperr.New(apperr.KindValidation, "order.below_minimum", "order below restaurant minimum")
)

// Ledger claims and releases coupon usage.
type Ledger interface {
	Claim(ctx context.Context, req coupon.ClaimRequest) (coupon.Claim, error)
	Release(ctx context.Context, claim coupon.Claim) error
}

// Settler runs the side effects of a delivered order (earnings, courier
// release). Its failures are logged and never undo the delivery.
type Settler interface {
	Settle(ctx context.Context, o *Order) error
}

// PlaceRequest is the input of PlaceOrder.
type PlaceRequest struct {
	CustomerID          string
	RestaurantID        string
	AddressID           string
	Lines               []pricing.CartLine
	PaymentMethod       PaymentMethod
	CouponCode          string
	IdempotencyKey      string
	SpecialInstructions string
}

// Service implements placement and the order lifecycle.
type Service struct {
	orders      Repository
	items       catalog.Items
	restaurants catalog.Restaurants
	addresses   catalog.Addresses
	ledger      Ledger
	notifier    notify.Notifier
	settler     Settler
	taxRate     decimal.Decimal
	now         func() time.Time
	newID       func() string
	tracer      trace.Tracer
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the event notifier.
func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// WithSettler sets the delivery settlement hook.
func WithSettler(st Settler) Option {
	return func(s *Service) { s.settler = st }
}

// WithTaxRate overrides pricing.DefaultTaxRate.
func WithTaxRate(rate decimal.Decimal) Option {
	return func(s *Service) { s.taxRate = rate }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTracerProvider enables tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(s *Service) { s.tracer = tp.Tracer("fulfillment/order") }
}

// NewService creates a Service with the given collaborators.
func NewService(
	orders Repository,
	items catalog.Items,
	restaurants catalog.Restaurants,
	addresses catalog.Addresses,
	ledger Ledger,
	opts ...Option,
) *Service {
	s := &Service{
		orders:      orders,
		items:       items,
		restaurants: restaurants,
		addresses:   addresses,
		ledger:      ledger,
		notifier:    notify.Nop{},
		taxRate:     pricing.DefaultTaxRate,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		tracer:      noop.NewTracerProvider().Tracer(""),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// PlaceOrder prices the cart, claims the coupon and persists the order.
// A repeated (customer, idempotency key) returns the existing order unchanged.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceRequest) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder", trace.WithAttributes(
		attribute.String("customer.id", req.CustomerID),
		attribute.String("restaurant.id", req.RestaurantID),
	))
	defer func() { endSpan(span, rerr) }()

	if err := validatePlace(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		existing, err := s.orders.GetByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
		switch {
		case err == nil:
			return existing, nil
		case !errors.Is(err, ErrNotFound):
			return nil, errors.Wrap(err, "lookup idempotency key")
		}
	}

	restaurant, err := s.restaurants.GetRestaurant(ctx, req.RestaurantID)
	if err != nil {
		if errors.Is(err, catalog.ErrRestaurantNotFound) {
			return nil, ErrRestaurantUnavailable
		}
		return nil, apperr.Upstream("restaurants", err)
	}
	if !restaurant.IsActive {
		return nil, ErrRestaurantUnavailable
	}

	address, err := s.addresses.GetAddress(ctx, req.AddressID, req.CustomerID)
	if err != nil {
		if errors.Is(err, catalog.ErrAddressNotFound) {
			return nil, catalog.ErrAddressNotFound.WithField("addressId", "unknown address")
		}
		return nil, apperr.Upstream("addresses", err)
	}

	items, err := s.items.GetItems(ctx, itemIDs(req.Lines), req.RestaurantID)
	if err != nil {
		return nil, apperr.Upstream("catalog", err)
	}
	snapshot := make(map[string]catalog.Item, len(items))
	for _, it := range items {
		snapshot[it.ID] = it
	}

	quote, err := pricing.Price(req.Lines, snapshot)
	if err != nil {
		return nil, err
	}
	if quote.Subtotal.LessThan(restaurant.MinOrderAmount) {
		return nil, ErrBelowMinimum.Withf("minimum order amount is %s", restaurant.MinOrderAmount.StringFixed(0))
	}

	var claim coupon.Claim
	if req.CouponCode != "" {
		claim, err = s.ledger.Claim(ctx, coupon.ClaimRequest{
			Code:         req.CouponCode,
			CustomerID:   req.CustomerID,
			RestaurantID: req.RestaurantID,
			OrderAmount:  quote.Subtotal,
		})
		if err != nil {
			if existing, ok := s.awaitReplay(ctx, req, err); ok {
				return existing, nil
			}
			return nil, err
		}
	}

	o, err := s.build(req, restaurant, address, quote, claim)
	if err != nil {
		s.release(ctx, claim, "pricing")
		return nil, err
	}

	if err := s.orders.Create(ctx, o); err != nil {
		s.release(ctx, claim, "persist")
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			existing, gerr := s.orders.GetByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
			if gerr != nil {
				return nil, errors.Wrap(gerr, "load order for idempotency key")
			}
			return existing, nil
		}
		return nil, errors.Wrap(err, "create order")
	}

	zctx.From(ctx).Info("Order placed",
		zap.String("order_id", o.ID),
		zap.String("order_number", o.Number),
		zap.String("total", o.Pricing.Total.String()),
	)
	s.publish(ctx, o, o.LastEntry())
	return o, nil
}

func (s *Service) build(
	req PlaceRequest,
	restaurant *catalog.Restaurant,
	address *catalog.Address,
	quote pricing.Quote,
	claim coupon.Claim,
) (*Order, error) {
	p, err := pricing.Totals(quote.Subtotal, restaurant.DeliveryFee, claim.Discount, s.taxRate)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	o := &Order{
		ID:                  s.newID(),
		Number:              NewNumber(now),
		CustomerID:          req.CustomerID,
		RestaurantID:        restaurant.ID,
		Lines:               quote.Lines,
		DeliveryAddress:     *address,
		Pricing:             p,
		Payment:             Payment{Method: req.PaymentMethod, Status: PaymentPending},
		Status:              StatusPlaced,
		History:             []StatusEntry{{Status: StatusPlaced, At: now}},
		CouponClaim:         claim,
		IdempotencyKey:      req.IdempotencyKey,
		SpecialInstructions: req.SpecialInstructions,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if !claim.IsZero() {
		o.CouponCode = claim.Code
	}
	return o, nil
}

// GetOrder returns the order if actor may see it: its customer, the owner of
// its restaurant, its courier, or an operator.
func (s *Service) GetOrder(ctx context.Context, id string, actor auth.Actor) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	switch actor.Role {
	case auth.RoleOperator:
		return o, nil
	case auth.RoleCustomer:
		if o.CustomerID == actor.UserID {
			return o, nil
		}
	case auth.RoleCourier:
		if o.CourierID != "" && o.CourierID == actor.UserID {
			return o, nil
		}
	case auth.RoleRestaurantOwner:
		if err := s.checkOwner(ctx, o.RestaurantID, actor.UserID); err != nil {
			return nil, err
		}
		return o, nil
	}
	return nil, ErrForbidden
}

// ListForCustomer returns the customer's orders, newest first.
func (s *Service) ListForCustomer(ctx context.Context, customerID string, page Page) ([]Order, int, error) {
	return s.orders.ListByCustomer(ctx, customerID, page)
}

// ListForRestaurant returns the restaurant's orders, newest first, optionally
// filtered by status. Restaurant owners may only list their own restaurants.
func (s *Service) ListForRestaurant(ctx context.Context, actor auth.Actor, restaurantID string, status Status, page Page) ([]Order, int, error) {
	switch actor.Role {
	case auth.RoleOperator:
	case auth.RoleRestaurantOwner:
		if err := s.checkOwner(ctx, restaurantID, actor.UserID); err != nil {
			return nil, 0, err
		}
	default:
		return nil, 0, ErrForbidden
	}
	if status != "" && !status.Valid() {
		return nil, 0, ErrUnknownStatus.WithField("status", "unknown status")
	}
	return s.orders.ListByRestaurant(ctx, restaurantID, status, page)
}

// TransitionStatus moves the order to status on behalf of actor.
func (s *Service) TransitionStatus(ctx context.Context, id string, to Status, actor auth.Actor, note string) (_ *Order, rerr error) {
	ctx, span := s.tracer.Start(ctx, "order.TransitionStatus", trace.WithAttributes(
		attribute.String("order.id", id),
		attribute.String("order.status", string(to)),
		attribute.String("actor.role", string(actor.Role)),
	))
	defer func() { endSpan(span, rerr) }()

	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkTransition(o.Status, to); err != nil {
		return nil, err
	}
	if err := s.authorize(ctx, o, to, actor); err != nil {
		return nil, err
	}

	t := Transition{
		From:  o.Status,
		Entry: StatusEntry{Status: to, At: s.nextAt(o), Note: note},
	}
	if actor.Role == auth.RoleCourier {
		t.CourierID = actor.UserID
	}
	if to == StatusDelivered && o.Payment.Method == PaymentCOD {
		t.Payment = PaymentCompleted
	}

	updated, err := s.orders.UpdateStatus(ctx, id, t)
	if err != nil {
		return nil, err
	}

	lg := zctx.From(ctx).With(
		zap.String("order_id", updated.ID),
		zap.String("from", string(t.From)),
		zap.String("to", string(to)),
	)
	lg.Info("Order status changed")

	switch to {
	case StatusCancelled:
		s.release(ctx, updated.CouponClaim, "cancel")
	case StatusDelivered:
		if s.settler != nil {
			if err := s.settler.Settle(ctx, updated); err != nil {
				lg.Error("Delivery settlement failed", zap.Error(err))
			}
		}
	}

	s.publish(ctx, updated, t.Entry)
	return updated, nil
}

// CancelOrder cancels the customer's own order while it is still placed or confirmed.
func (s *Service) CancelOrder(ctx context.Context, id, customerID string) (*Order, error) {
	return s.TransitionStatus(ctx, id, StatusCancelled, auth.Actor{UserID: customerID, Role: auth.RoleCustomer}, cancelledByCustomerMsg)
}

// CompleteDelivery marks an on-the-way order delivered by its courier.
func (s *Service) CompleteDelivery(ctx context.Context, courierID, id string) (*Order, error) {
	return s.TransitionStatus(ctx, id, StatusDelivered, auth.Actor{UserID: courierID, Role: auth.RoleCourier}, "")
}

func (s *Service) authorize(ctx context.Context, o *Order, to Status, actor auth.Actor) error {
	if !RoleMayEnter(actor.Role, to) {
		return ErrForbidden.Withf("%s may not move an order to %s", actor.Role, to)
	}
	switch actor.Role {
	case auth.RoleCustomer:
		if o.CustomerID != actor.UserID {
			return ErrForbidden.Withf("not your order")
		}
	case auth.RoleCourier:
		if o.CourierID == "" || o.CourierID != actor.UserID {
			return ErrForbidden.Withf("not your delivery order")
		}
	case auth.RoleRestaurantOwner:
		return s.checkOwner(ctx, o.RestaurantID, actor.UserID)
	}
	return nil
}

func (s *Service) checkOwner(ctx context.Context, restaurantID, userID string) error {
	r, err := s.restaurants.GetRestaurant(ctx, restaurantID)
	if err != nil {
		if errors.Is(err, catalog.ErrRestaurantNotFound) {
			return ErrForbidden.Withf("not your restaurant")
		}
		return apperr.Upstream("restaurants", err)
	}
	if r.OwnerID != userID {
		return ErrForbidden.Withf("not your restaurant")
	}
	return nil
}

// awaitReplay resolves a capacity failure of a keyed placement. The claim
// may have been taken by a concurrent request carrying the same key; that
// request's order is returned once it is persisted.
func (s *Service) awaitReplay(ctx context.Context, req PlaceRequest, claimErr error) (*Order, bool) {
	if req.IdempotencyKey == "" || apperr.KindOf(claimErr) != apperr.KindCapacityExceeded {
		return nil, false
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = replayInitialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(b, replayMaxRetries), ctx)

	var existing *Order
	err := backoff.Retry(func() error {
		o, err := s.orders.GetByIdempotencyKey(ctx, req.CustomerID, req.IdempotencyKey)
		switch {
		case err == nil:
			existing = o
			return nil
		case errors.Is(err, ErrNotFound):
			return err
		default:
			return backoff.Permanent(err)
		}
	}, policy)
	if err != nil {
		return nil, false
	}

	zctx.From(ctx).Info("Placement replayed after claim conflict",
		zap.String("order_id", existing.ID),
		zap.String("idempotency_key", req.IdempotencyKey),
	)
	return existing, true
}

// release runs the coupon compensation. It survives cancellation of the
// request; failures are logged and left to out-of-band reconciliation.
func (s *Service) release(ctx context.Context, claim coupon.Claim, reason string) {
	if claim.IsZero() {
		return
	}
	if err := s.ledger.Release(context.WithoutCancel(ctx), claim); err != nil {
		zctx.From(ctx).Error("Coupon release failed",
			zap.String("claim_id", claim.ID),
			zap.String("coupon", claim.Code),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
}

func (s *Service) publish(ctx context.Context, o *Order, entry StatusEntry) {
	s.notifier.Publish(ctx, StatusEvent(o, entry))
}

// StatusEvent builds the notification for entry of o.
func StatusEvent(o *Order, entry StatusEntry) notify.StatusChanged {
	return notify.StatusChanged{
		OrderID:      o.ID,
		OrderNumber:  o.Number,
		CustomerID:   o.CustomerID,
		RestaurantID: o.RestaurantID,
		CourierID:    o.CourierID,
		Status:       string(entry.Status),
		Note:         entry.Note,
		At:           entry.At,
	}
}

func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// nextAt returns a timestamp strictly after the last history entry of o.
func (s *Service) nextAt(o *Order) time.Time {
	return NextEntryTime(o, s.clock())
}

// NextEntryTime returns now, or one microsecond past the last history entry
// of o when the clock has not advanced beyond it.
func NextEntryTime(o *Order, now time.Time) time.Time {
	last := o.LastEntry().At
	if !now.After(last) {
		return last.Add(time.Microsecond)
	}
	return now
}

func validatePlace(req PlaceRequest) error {
	switch {
	case req.CustomerID == "":
		return auth.ErrUnauthenticated
	case req.RestaurantID == "":
		return apperr.Validation("order.restaurant_required", "restaurantId", "restaurant is required")
	case req.AddressID == "":
		return apperr.Validation("order.address_required", "addressId", "delivery address is required")
	case len(req.Lines) == 0:
		return ErrEmptyCart
	case len(req.Lines) > MaxLines:
		return ErrTooManyLines
	case req.PaymentMethod != PaymentCOD:
		return ErrUnsupportedPayment
	case len(req.SpecialInstructions) > MaxInstructionsLength:
		return apperr.Validation("order.instructions_too_long", "specialInstructions",
			fmt.Sprintf("must be at most %d characters", MaxInstructionsLength))
	}
	for i, l := range req.Lines {
		if l.ItemID == "" {
			return apperr.Validation("order.invalid_line", fmt.Sprintf("lines[%d].itemId", i), "item is required")
		}
		if l.Quantity < 1 || l.Quantity > MaxQuantity {
			return apperr.Validation("order.invalid_quantity", fmt.Sprintf("lines[%d].quantity", i),
				fmt.Sprintf("quantity must be between 1 and %d", MaxQuantity))
		}
	}
	return nil
}

func itemIDs(lines []pricing.CartLine) []string {
	seen := make(map[string]struct{}, len(lines))
	ids := make([]string, 0, len(lines))
	for _, l := range lines {
		if _, ok := seen[l.ItemID]; ok {
			continue
		}
		seen[l.ItemID] = struct{}{}
		ids = append(ids, l.ItemID)
	}
	return ids
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
