// Package coupon implements the discount ledger: the only component allowed to
// mutate coupon usage counters.
package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

// DiscountType enumerates the supported coupon discount strategies.
type DiscountType string

const (
	// DiscountPercentage takes a percentage of the order amount.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFlat takes a fixed amount.
	DiscountFlat DiscountType = "flat"
)

// Valid reports whether t is a supported discount type.
func (t DiscountType) Valid() bool {
	return t == DiscountPercentage || t == DiscountFlat
}

var (
	// ErrInvalidCoupon is returned when a code is unknown, inactive or outside
	// its validity window.
	ErrInvalidCoupon = apperr.New(apperr.KindValidation, "coupon.invalid", "invalid or expired coupon")
	// ErrCouponExhausted is returned when the global usage limit is reached.
	ErrCouponExhausted = apperr.New(apperr.KindCapacityExceeded, "coupon.exhausted", "coupon usage limit reached")
	// ErrMinimumNotMet is returned when the order amount is below the coupon minimum.
	ErrMinimumNotMet = apperr.New(apperr.KindValidation, "coupon.min_order_not_met", "order amount below coupon minimum")
	// ErrRestaurantMismatch is returned when a restaurant-scoped coupon is used elsewhere.
	ErrRestaurantMismatch = apperr.New(apperr.KindValidation, "coupon.restaurant_mismatch", "coupon not valid for this restaurant")
	// ErrUserLimitExceeded is returned when the customer exhausted their own allowance.
	ErrUserLimitExceeded = apperr.New(apperr.KindCapacityExceeded, "coupon.user_limit_exceeded", "you have reached the usage limit for this coupon")
	// ErrNotFound is returned by stores when no coupon has the requested code.
	ErrNotFound = apperr.New(apperr.KindNotFound, "coupon.not_found", "coupon not found")
)

// Coupon is a discount definition together with its usage counter.
type Coupon struct {
	ID                  string
	Code                string
	Description         string
	DiscountType        DiscountType
	DiscountValue       decimal.Decimal
	MinOrderAmount      decimal.Decimal
	MaxDiscount         decimal.Decimal
	ValidFrom           time.Time
	ValidUntil          time.Time
	UsageLimit          int
	UsedCount           int
	IsActive            bool
	RestaurantID        string
	MaxUsagePerCustomer int
}

// ClaimableAt reports whether c could be claimed at now, ignoring per-customer limits.
func (c *Coupon) ClaimableAt(now time.Time) bool {
	return c.IsActive &&
		!now.Before(c.ValidFrom) &&
		!now.After(c.ValidUntil) &&
		c.UsedCount < c.UsageLimit
}

// Claim is the handle of a successful claim. It is persisted with the order
// so the claim can be released later, possibly by another process.
type Claim struct {
	ID          string          `json:"id"`
	CouponID    string          `json:"couponId"`
	Code        string          `json:"code"`
	CustomerID  string          `json:"customerId"`
	PerCustomer bool            `json:"perCustomer,omitempty"`
	Discount    decimal.Decimal `json:"discount"`
}

// IsZero reports whether c is the empty handle of an order without coupon.
func (c Claim) IsZero() bool { return c.ID == "" }

// NormalizeCode returns the canonical form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Store is the storage contract of the ledger. Acquire, AcquireForCustomer and
// Release must each be a single atomic operation against storage.
type Store interface {
	// Get returns the coupon with the given normalized code or ErrNotFound.
	Get(ctx context.Context, code string) (*Coupon, error)
	// Acquire increments the usage counter of code only if the coupon is
	// active, inside its validity window at now and below its limit. It
	// returns the snapshot as it was before the increment, or ok=false when
	// no coupon matched.
	Acquire(ctx context.Context, code string, now time.Time) (c *Coupon, ok bool, err error)
	// AcquireForCustomer increments the per-customer counter only while it
	// is below limit, creating it on first use.
	AcquireForCustomer(ctx context.Context, couponID, customerID string, limit int) (ok bool, err error)
	// Release undoes claim exactly once. It reports false if the claim was
	// already released.
	Release(ctx context.Context, claim Claim) (released bool, err error)
	// Usage returns the per-customer counter, zero when absent.
	Usage(ctx context.Context, couponID, customerID string) (int, error)
	// Available lists coupons claimable at now, optionally filtered to a restaurant.
	Available(ctx context.Context, restaurantID string, now time.Time) ([]Coupon, error)
	// Upsert creates or replaces the definition of a coupon, keeping its counter.
	Upsert(ctx context.Context, c *Coupon) error
}
