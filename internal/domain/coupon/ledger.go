package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

// ClaimRequest describes a claim attempt made while placing an order.
type ClaimRequest struct {
	Code         string
	CustomerID   string
	RestaurantID string
	OrderAmount  decimal.Decimal
}

// Ledger performs atomic claims and idempotent releases of coupon usage.
type Ledger struct {
	store  Store
	now    func() time.Time
	newID  func() string
	claims metric.Int64Counter
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the wall clock used for validity checks.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithMeter records claim outcomes on m.
func WithMeter(m metric.Meter) Option {
	return func(l *Ledger) {
		if c, err := m.Int64Counter("coupon.claims",
			metric.WithDescription("Coupon claim attempts by outcome"),
		); err == nil {
			l.claims = c
		}
	}
}

// NewLedger creates a Ledger backed by store.
func NewLedger(store Store, opts ...Option) *Ledger {
	claims, _ := noop.NewMeterProvider().Meter("coupon").Int64Counter("coupon.claims")
	l := &Ledger{
		store:  store,
		now:    time.Now,
		newID:  func() string { return uuid.New().String() },
		claims: claims,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Claim atomically takes one global usage slot and, when the coupon limits
// per-customer usage, one per-customer slot. The discount is computed from
// the pre-claim snapshot. Any failure after the global slot was taken
// releases it before returning.
func (l *Ledger) Claim(ctx context.Context, req ClaimRequest) (Claim, error) {
	claim, err := l.claim(ctx, req)
	outcome := "ok"
	if err != nil {
		outcome = "error"
		if e, ok := apperr.As(err); ok {
			outcome = e.Code
		}
	}
	l.claims.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
	return claim, err
}

func (l *Ledger) claim(ctx context.Context, req ClaimRequest) (Claim, error) {
	code := NormalizeCode(req.Code)
	if code == "" {
		return Claim{}, ErrInvalidCoupon
	}

	snapshot, ok, err := l.store.Acquire(ctx, code, l.now())
	if err != nil {
		return Claim{}, errors.Wrap(err, "acquire coupon")
	}
	if !ok {
		return Claim{}, l.diagnose(ctx, code)
	}

	claim := Claim{
		ID:         l.newID(),
		CouponID:   snapshot.ID,
		Code:       snapshot.Code,
		CustomerID: req.CustomerID,
	}

	if err := check(snapshot, req); err != nil {
		return Claim{}, l.rollback(ctx, claim, err)
	}

	if snapshot.MaxUsagePerCustomer > 0 {
		ok, err := l.store.AcquireForCustomer(ctx, snapshot.ID, req.CustomerID, snapshot.MaxUsagePerCustomer)
		if err != nil {
			return Claim{}, l.rollback(ctx, claim, errors.Wrap(err, "acquire customer usage"))
		}
		if !ok {
			return Claim{}, l.rollback(ctx, claim, ErrUserLimitExceeded)
		}
		claim.PerCustomer = true
	}

	claim.Discount = Apply(snapshot, req.OrderAmount)
	return claim, nil
}

// Release undoes claim. Releasing an empty or already released claim is a no-op.
func (l *Ledger) Release(ctx context.Context, claim Claim) error {
	if claim.IsZero() {
		return nil
	}
	if _, err := l.store.Release(ctx, claim); err != nil {
		return errors.Wrapf(err, "release coupon claim %s", claim.ID)
	}
	return nil
}

// Preview validates code against the order without claiming it and returns
// the discount a claim would grant.
func (l *Ledger) Preview(ctx context.Context, req ClaimRequest) (*Coupon, decimal.Decimal, error) {
	code := NormalizeCode(req.Code)
	c, err := l.store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, decimal.Zero, ErrInvalidCoupon
		}
		return nil, decimal.Zero, errors.Wrap(err, "get coupon")
	}
	if !c.ClaimableAt(l.now()) {
		return nil, decimal.Zero, l.diagnose(ctx, code)
	}
	if err := check(c, req); err != nil {
		return nil, decimal.Zero, err
	}
	if c.MaxUsagePerCustomer > 0 && req.CustomerID != "" {
		used, err := l.store.Usage(ctx, c.ID, req.CustomerID)
		if err != nil {
			return nil, decimal.Zero, errors.Wrap(err, "get customer usage")
		}
		if used >= c.MaxUsagePerCustomer {
			return nil, decimal.Zero, ErrUserLimitExceeded
		}
	}
	return c, Apply(c, req.OrderAmount), nil
}

// Available lists coupons that can currently be claimed for restaurantID.
func (l *Ledger) Available(ctx context.Context, restaurantID string) ([]Coupon, error) {
	coupons, err := l.store.Available(ctx, restaurantID, l.now())
	if err != nil {
		return nil, errors.Wrap(err, "list available coupons")
	}
	return coupons, nil
}

// diagnose explains why Acquire matched nothing.
func (l *Ledger) diagnose(ctx context.Context, code string) error {
	c, err := l.store.Get(ctx, code)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidCoupon
		}
		return errors.Wrap(err, "get coupon")
	}
	now := l.now()
	if !c.IsActive || now.Before(c.ValidFrom) || now.After(c.ValidUntil) {
		return ErrInvalidCoupon
	}
	return ErrCouponExhausted
}

func (l *Ledger) rollback(ctx context.Context, claim Claim, cause error) error {
	if _, err := l.store.Release(ctx, claim); err != nil {
		return errors.Wrapf(cause, "release after failed claim: %v", err)
	}
	return cause
}

func check(c *Coupon, req ClaimRequest) error {
	if req.OrderAmount.LessThan(c.MinOrderAmount) {
		return ErrMinimumNotMet.Withf("minimum order amount for this coupon is %s", c.MinOrderAmount.StringFixed(0))
	}
	if c.RestaurantID != "" && c.RestaurantID != req.RestaurantID {
		return ErrRestaurantMismatch
	}
	return nil
}
