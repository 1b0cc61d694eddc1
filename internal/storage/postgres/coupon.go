package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fulfillment/internal/domain/coupon"
)

const couponColumns = `id, code, description, discount_type, discount_value, min_order_amount,
	max_discount, valid_from, valid_until, usage_limit, used_count, is_active,
	restaurant_id, max_usage_per_customer`

const (
	getCouponSQL = `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`

	// acquireCouponSQL returns the row as it was before the increment.
	acquireCouponSQL = `UPDATE coupons SET used_count = used_count + 1, updated_at = now()
		WHERE code = $1 AND is_active AND valid_from <= $2 AND valid_until >= $2
			AND used_count < usage_limit
		RETURNING id, code, description, discount_type, discount_value, min_order_amount,
			max_discount, valid_from, valid_until, usage_limit, used_count - 1, is_active,
			restaurant_id, max_usage_per_customer`

	acquireCustomerUsageSQL = `INSERT INTO coupon_usage (coupon_id, customer_id, count) VALUES ($1, $2, 1)
		ON CONFLICT (coupon_id, customer_id) DO UPDATE SET count = coupon_usage.count + 1
		WHERE coupon_usage.count < $3`

	recordReleaseSQL = `INSERT INTO coupon_releases (claim_id, coupon_id) VALUES ($1, $2)
		ON CONFLICT (claim_id) DO NOTHING`

	releaseCouponSQL = `UPDATE coupons SET used_count = used_count - 1, updated_at = now()
		WHERE id = $1 AND used_count > 0`

	releaseCustomerUsageSQL = `UPDATE coupon_usage SET count = count - 1
		WHERE coupon_id = $1 AND customer_id = $2 AND count > 0`

	getCustomerUsageSQL = `SELECT count FROM coupon_usage WHERE coupon_id = $1 AND customer_id = $2`

	upsertCouponSQL = `INSERT INTO coupons (` + couponColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, $11, $12, $13)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			discount_type = EXCLUDED.discount_type,
			discount_value = EXCLUDED.discount_value,
			min_order_amount = EXCLUDED.min_order_amount,
			max_discount = EXCLUDED.max_discount,
			valid_from = EXCLUDED.valid_from,
			valid_until = EXCLUDED.valid_until,
			usage_limit = GREATEST(EXCLUDED.usage_limit, coupons.used_count),
			is_active = EXCLUDED.is_active,
			restaurant_id = EXCLUDED.restaurant_id,
			max_usage_per_customer = EXCLUDED.max_usage_per_customer,
			updated_at = now()
		RETURNING id`
)

var _ coupon.Store = (*CouponStore)(nil)

// CouponStore implements coupon.Store backed by PostgreSQL.
type CouponStore struct {
	pool *pgxpool.Pool
}

// NewCouponStore returns a CouponStore that uses the given pool.
func NewCouponStore(pool *pgxpool.Pool) *CouponStore {
	return &CouponStore{pool: pool}
}

// Get returns the coupon with the given code or coupon.ErrNotFound.
func (r *CouponStore) Get(ctx context.Context, code string) (*coupon.Coupon, error) {
	rows, err := r.pool.Query(ctx, getCouponSQL, code)
	if err != nil {
		return nil, fmt.Errorf("getting coupon %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrNotFound
		}
		return nil, fmt.Errorf("getting coupon %q: %w", code, err)
	}
	return &c, nil
}

// Acquire takes one usage slot with a single conditional UPDATE.
func (r *CouponStore) Acquire(ctx context.Context, code string, now time.Time) (*coupon.Coupon, bool, error) {
	rows, err := r.pool.Query(ctx, acquireCouponSQL, code, now)
	if err != nil {
		return nil, false, fmt.Errorf("acquiring coupon %q: %w", code, err)
	}
	c, err := pgx.CollectExactlyOneRow(rows, scanCoupon)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquiring coupon %q: %w", code, err)
	}
	return &c, true, nil
}

// AcquireForCustomer takes one per-customer slot with a conditional upsert.
func (r *CouponStore) AcquireForCustomer(ctx context.Context, couponID, customerID string, limit int) (bool, error) {
	tag, err := r.pool.Exec(ctx, acquireCustomerUsageSQL, couponID, customerID, limit)
	if err != nil {
		return false, fmt.Errorf("acquiring usage of coupon %q for %q: %w", couponID, customerID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release undoes a claim once. The release log makes repeated calls no-ops.
func (r *CouponStore) Release(ctx context.Context, claim coupon.Claim) (bool, error) {
	var released bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, recordReleaseSQL, claim.ID, claim.CouponID)
		if err != nil {
			return fmt.Errorf("recording release: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if _, err := tx.Exec(ctx, releaseCouponSQL, claim.CouponID); err != nil {
			return fmt.Errorf("decrementing usage: %w", err)
		}
		if claim.PerCustomer {
			if _, err := tx.Exec(ctx, releaseCustomerUsageSQL, claim.CouponID, claim.CustomerID); err != nil {
				return fmt.Errorf("decrementing customer usage: %w", err)
			}
		}
		released = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("releasing claim %q: %w", claim.ID, err)
	}
	return released, nil
}

// Usage returns the per-customer counter.
func (r *CouponStore) Usage(ctx context.Context, couponID, customerID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, getCustomerUsageSQL, couponID, customerID).Scan(&n)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("getting usage of coupon %q for %q: %w", couponID, customerID, err)
	}
	return n, nil
}

// Available lists coupons claimable at now for restaurantID, soonest expiry first.
func (r *CouponStore) Available(ctx context.Context, restaurantID string, now time.Time) ([]coupon.Coupon, error) {
	scope := sq.Or{sq.Eq{"restaurant_id": nil}}
	if restaurantID != "" {
		scope = append(scope, sq.Eq{"restaurant_id": restaurantID})
	}
	b := psql.Select(couponColumns).
		From("coupons").
		Where(sq.Eq{"is_active": true}).
		Where(sq.LtOrEq{"valid_from": now}).
		Where(sq.GtOrEq{"valid_until": now}).
		Where("used_count < usage_limit").
		Where(scope).
		OrderBy("valid_until ASC", "code ASC")

	rows, err := queryBuilt(ctx, r.pool, b)
	if err != nil {
		return nil, fmt.Errorf("listing available coupons: %w", err)
	}
	coupons, err := pgx.CollectRows(rows, scanCoupon)
	if err != nil {
		return nil, fmt.Errorf("listing available coupons: %w", err)
	}
	return coupons, nil
}

// Upsert creates a coupon or replaces its definition, keeping the usage counter.
func (r *CouponStore) Upsert(ctx context.Context, c *coupon.Coupon) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	c.Code = coupon.NormalizeCode(c.Code)
	err := r.pool.QueryRow(ctx, upsertCouponSQL,
		c.ID, c.Code, c.Description, string(c.DiscountType), c.DiscountValue,
		c.MinOrderAmount, c.MaxDiscount, c.ValidFrom, c.ValidUntil, c.UsageLimit,
		c.IsActive, nullable(c.RestaurantID), c.MaxUsagePerCustomer,
	).Scan(&c.ID)
	if err != nil {
		return fmt.Errorf("upserting coupon %q: %w", c.Code, err)
	}
	return nil
}

func scanCoupon(row pgx.CollectableRow) (coupon.Coupon, error) {
	var (
		c            coupon.Coupon
		discountType string
		restaurantID *string
	)
	err := row.Scan(
		&c.ID, &c.Code, &c.Description, &discountType, &c.DiscountValue, &c.MinOrderAmount,
		&c.MaxDiscount, &c.ValidFrom, &c.ValidUntil, &c.UsageLimit, &c.UsedCount, &c.IsActive,
		&restaurantID, &c.MaxUsagePerCustomer,
	)
	c.DiscountType = coupon.DiscountType(discountType)
	c.RestaurantID = deref(restaurantID)
	return c, err
}
