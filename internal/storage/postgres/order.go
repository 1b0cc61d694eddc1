package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fulfillment/internal/domain/order"
)

const orderColumns = `id, order_number, customer_id, restaurant_id, courier_id, lines,
	delivery_address, subtotal, delivery_fee, tax, discount, total, payment_method,
	payment_status, transaction_id, status, status_history, coupon_code, coupon_claim,
	idempotency_key, special_instructions, created_at, updated_at`

const (
	createOrderSQL = `INSERT INTO orders (` + orderColumns + `, delivery_lat, delivery_lng)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23, $24, $25)`

	getOrderSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByIdempotencyKeySQL = `SELECT ` + orderColumns + ` FROM orders
		WHERE customer_id = $1 AND idempotency_key = $2`

	updateOrderStatusSQL = `UPDATE orders
		SET status = $2, status_history = status_history || $3::jsonb, updated_at = $4,
			payment_status = coalesce(nullif($7, ''), payment_status)
		WHERE id = $1 AND status = $5 AND ($6 = '' OR courier_id = $6)
		RETURNING ` + orderColumns

	assignCourierSQL = `UPDATE orders
		SET courier_id = $2, status = $3, status_history = status_history || $4::jsonb, updated_at = $5
		WHERE id = $1 AND status = 'ready' AND courier_id IS NULL
		RETURNING ` + orderColumns

	orderExistsSQL = `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`

	// haversineSQL is the great-circle distance in km from (?, ?) to the
	// delivery location.
	haversineSQL = `6371 * 2 * asin(sqrt(
		power(sin(radians(delivery_lat - ?) / 2), 2) +
		cos(radians(?)) * cos(radians(delivery_lat)) *
		power(sin(radians(delivery_lng - ?) / 2), 2)))`
)

const idempotencyConstraint = "orders_customer_idempotency_key"

var _ order.Repository = (*OrderStore)(nil)

// OrderStore implements order.Repository backed by PostgreSQL. Lines, the
// address snapshot, the status history and the coupon claim are JSONB.
type OrderStore struct {
	pool *pgxpool.Pool
}

// NewOrderStore returns an OrderStore that uses the given pool.
func NewOrderStore(pool *pgxpool.Pool) *OrderStore {
	return &OrderStore{pool: pool}
}

// Create persists a new order.
func (r *OrderStore) Create(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}
	address, err := json.Marshal(o.DeliveryAddress)
	if err != nil {
		return fmt.Errorf("marshaling delivery address: %w", err)
	}
	history, err := json.Marshal(o.History)
	if err != nil {
		return fmt.Errorf("marshaling status history: %w", err)
	}
	var claim []byte
	if !o.CouponClaim.IsZero() {
		if claim, err = json.Marshal(o.CouponClaim); err != nil {
			return fmt.Errorf("marshaling coupon claim: %w", err)
		}
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.Number, o.CustomerID, o.RestaurantID, nullable(o.CourierID), lines,
		address, o.Pricing.Subtotal, o.Pricing.DeliveryFee, o.Pricing.Tax, o.Pricing.Discount, o.Pricing.Total,
		string(o.Payment.Method), string(o.Payment.Status), o.Payment.TransactionID,
		string(o.Status), history, o.CouponCode, claim,
		nullable(o.IdempotencyKey), o.SpecialInstructions, o.CreatedAt, o.UpdatedAt,
		o.DeliveryAddress.Location.Lat, o.DeliveryAddress.Location.Lng,
	)
	if err != nil {
		if isUniqueViolation(err, idempotencyConstraint) {
			return order.ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	return nil
}

// Get returns the order with the given id or order.ErrNotFound.
func (r *OrderStore) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.queryOne(ctx, getOrderSQL, id)
}

// GetByIdempotencyKey returns the customer's order placed with key.
func (r *OrderStore) GetByIdempotencyKey(ctx context.Context, customerID, key string) (*order.Order, error) {
	return r.queryOne(ctx, getOrderByIdempotencyKeySQL, customerID, key)
}

// UpdateStatus appends t.Entry only while the order is still in t.From.
func (r *OrderStore) UpdateStatus(ctx context.Context, id string, t order.Transition) (*order.Order, error) {
	entry, err := json.Marshal([]order.StatusEntry{t.Entry})
	if err != nil {
		return nil, fmt.Errorf("marshaling status entry: %w", err)
	}
	o, err := r.queryOne(ctx, updateOrderStatusSQL,
		id, string(t.Entry.Status), entry, t.Entry.At, string(t.From), t.CourierID, string(t.Payment),
	)
	if errors.Is(err, order.ErrNotFound) {
		return nil, r.lostRace(ctx, id, order.ErrStaleStatus)
	}
	return o, err
}

// AssignCourier sets the courier only while the order is ready and unassigned.
func (r *OrderStore) AssignCourier(ctx context.Context, id, courierID string, entry order.StatusEntry) (*order.Order, error) {
	raw, err := json.Marshal([]order.StatusEntry{entry})
	if err != nil {
		return nil, fmt.Errorf("marshaling status entry: %w", err)
	}
	o, err := r.queryOne(ctx, assignCourierSQL, id, courierID, string(entry.Status), raw, entry.At)
	if errors.Is(err, order.ErrNotFound) {
		return nil, r.lostRace(ctx, id, order.ErrAlreadyTaken)
	}
	return o, err
}

// ListAvailable returns ready, unassigned orders oldest first.
func (r *OrderStore) ListAvailable(ctx context.Context, q order.AvailableQuery) ([]order.Order, error) {
	b := psql.Select(orderColumns).
		From("orders").
		Where(sq.Eq{"status": string(order.StatusReady), "courier_id": nil}).
		OrderBy("created_at ASC")
	if q.Near != nil {
		b = b.Where(sq.Expr(haversineSQL+" <= ?", q.Near.Lat, q.Near.Lat, q.Near.Lng, q.RadiusKM))
	}
	if q.Limit > 0 {
		b = b.Limit(uint64(q.Limit))
	}

	rows, err := queryBuilt(ctx, r.pool, b)
	if err != nil {
		return nil, fmt.Errorf("listing available orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, fmt.Errorf("listing available orders: %w", err)
	}
	return orders, nil
}

// ListByCustomer returns the customer's orders, newest first.
func (r *OrderStore) ListByCustomer(ctx context.Context, customerID string, page order.Page) ([]order.Order, int, error) {
	return r.list(ctx, sq.Eq{"customer_id": customerID}, page)
}

// ListByRestaurant returns the restaurant's orders, newest first.
func (r *OrderStore) ListByRestaurant(ctx context.Context, restaurantID string, status order.Status, page order.Page) ([]order.Order, int, error) {
	where := sq.Eq{"restaurant_id": restaurantID}
	if status != "" {
		where["status"] = string(status)
	}
	return r.list(ctx, where, page)
}

func (r *OrderStore) list(ctx context.Context, where sq.Eq, page order.Page) ([]order.Order, int, error) {
	total, err := countBuilt(ctx, r.pool, psql.Select("count(*)").From("orders").Where(where))
	if err != nil {
		return nil, 0, fmt.Errorf("counting orders: %w", err)
	}

	b := psql.Select(orderColumns).
		From("orders").
		Where(where).
		OrderBy("created_at DESC")
	if page.Size > 0 {
		b = b.Limit(uint64(page.Size)).Offset(uint64(max(page.Offset(), 0)))
	}

	rows, err := queryBuilt(ctx, r.pool, b)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	orders, err := pgx.CollectRows(rows, scanOrder)
	if err != nil {
		return nil, 0, fmt.Errorf("listing orders: %w", err)
	}
	return orders, total, nil
}

func (r *OrderStore) queryOne(ctx context.Context, query string, args ...any) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return &o, nil
}

// lostRace tells a missing order apart from a failed condition.
func (r *OrderStore) lostRace(ctx context.Context, id string, conflict error) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, orderExistsSQL, id).Scan(&exists); err != nil {
		return fmt.Errorf("checking order %q: %w", id, err)
	}
	if !exists {
		return order.ErrNotFound
	}
	return conflict
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o                            order.Order
		courierID, idempotencyKey    *string
		lines, address, history      []byte
		claim                        []byte
		paymentMethod, paymentStatus string
		status                       string
	)
	err := row.Scan(
		&o.ID, &o.Number, &o.CustomerID, &o.RestaurantID, &courierID, &lines,
		&address, &o.Pricing.Subtotal, &o.Pricing.DeliveryFee, &o.Pricing.Tax, &o.Pricing.Discount, &o.Pricing.Total,
		&paymentMethod, &paymentStatus, &o.Payment.TransactionID,
		&status, &history, &o.CouponCode, &claim,
		&idempotencyKey, &o.SpecialInstructions, &o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return o, err
	}

	o.CourierID = deref(courierID)
	o.IdempotencyKey = deref(idempotencyKey)
	o.Payment.Method = order.PaymentMethod(paymentMethod)
	o.Payment.Status = order.PaymentStatus(paymentStatus)
	o.Status = order.Status(status)

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return o, fmt.Errorf("unmarshaling order lines: %w", err)
	}
	if err := json.Unmarshal(address, &o.DeliveryAddress); err != nil {
		return o, fmt.Errorf("unmarshaling delivery address: %w", err)
	}
	if err := json.Unmarshal(history, &o.History); err != nil {
		return o, fmt.Errorf("unmarshaling status history: %w", err)
	}
	if len(claim) > 0 {
		if err := json.Unmarshal(claim, &o.CouponClaim); err != nil {
			return o, fmt.Errorf("unmarshaling coupon claim: %w", err)
		}
	}
	return o, nil
}
