// Package memory provides in-process storage for the fulfillment engine.
// Every conditional update runs under a single mutex per store, which gives
// the same atomicity as the conditional statements of the postgres stores.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/xenking/fulfillment/internal/domain/coupon"
)

var _ coupon.Store = (*Coupons)(nil)

type usageKey struct {
	couponID   string
	customerID string
}

// Coupons is an in-memory coupon.Store.
type Coupons struct {
	mu       sync.Mutex
	byCode   map[string]*coupon.Coupon
	usage    map[usageKey]int
	released map[string]struct{}
}

// NewCoupons returns an empty coupon store.
func NewCoupons() *Coupons {
	return &Coupons{
		byCode:   make(map[string]*coupon.Coupon),
		usage:    make(map[usageKey]int),
		released: make(map[string]struct{}),
	}
}

// Get implements coupon.Store.
func (s *Coupons) Get(_ context.Context, code string) (*coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[code]
	if !ok {
		return nil, coupon.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

// Acquire implements coupon.Store.
func (s *Coupons) Acquire(_ context.Context, code string, now time.Time) (*coupon.Coupon, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.byCode[code]
	if !ok || !c.ClaimableAt(now) {
		return nil, false, nil
	}
	snapshot := *c
	c.UsedCount++
	return &snapshot, true, nil
}

// AcquireForCustomer implements coupon.Store.
func (s *Coupons) AcquireForCustomer(_ context.Context, couponID, customerID string, limit int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := usageKey{couponID: couponID, customerID: customerID}
	if s.usage[k] >= limit {
		return false, nil
	}
	s.usage[k]++
	return true, nil
}

// Release implements coupon.Store.
func (s *Coupons) Release(_ context.Context, claim coupon.Claim) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.released[claim.ID]; ok {
		return false, nil
	}
	s.released[claim.ID] = struct{}{}

	for _, c := range s.byCode {
		if c.ID != claim.CouponID {
			continue
		}
		if c.UsedCount > 0 {
			c.UsedCount--
		}
		break
	}
	if claim.PerCustomer {
		k := usageKey{couponID: claim.CouponID, customerID: claim.CustomerID}
		if s.usage[k] > 0 {
			s.usage[k]--
		}
	}
	return true, nil
}

// Usage implements coupon.Store.
func (s *Coupons) Usage(_ context.Context, couponID, customerID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage[usageKey{couponID: couponID, customerID: customerID}], nil
}

// Available implements coupon.Store.
func (s *Coupons) Available(_ context.Context, restaurantID string, now time.Time) ([]coupon.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []coupon.Coupon
	for _, c := range s.byCode {
		if !c.ClaimableAt(now) {
			continue
		}
		if c.RestaurantID != "" && c.RestaurantID != restaurantID {
			continue
		}
		out = append(out, *c)
	}
	slices.SortFunc(out, func(a, b coupon.Coupon) int {
		return a.ValidUntil.Compare(b.ValidUntil)
	})
	return out, nil
}

// Upsert implements coupon.Store.
func (s *Coupons) Upsert(_ context.Context, c *coupon.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *c
	cp.Code = coupon.NormalizeCode(cp.Code)
	if prev, ok := s.byCode[cp.Code]; ok {
		cp.ID = prev.ID
		cp.UsedCount = prev.UsedCount
	}
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	c.ID = cp.ID
	s.byCode[cp.Code] = &cp
	return nil
}
