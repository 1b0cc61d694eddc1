package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/courier"
)

const courierColumns = `courier_id, vehicle_type, vehicle_number, is_online, is_available,
	lat, lng, current_order_id, deliveries, earnings, rating_average, rating_count,
	created_at, updated_at`

const (
	createCourierSQL = `INSERT INTO courier_profiles
		(courier_id, vehicle_type, vehicle_number, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (courier_id) DO NOTHING`

	getCourierSQL = `SELECT ` + courierColumns + ` FROM courier_profiles WHERE courier_id = $1`

	setCourierOnlineSQL = `UPDATE courier_profiles
		SET is_online = $2, is_available = $2 AND current_order_id IS NULL, updated_at = now()
		WHERE courier_id = $1
		RETURNING ` + courierColumns

	updateCourierLocationSQL = `UPDATE courier_profiles
		SET lat = $2, lng = $3, updated_at = now()
		WHERE courier_id = $1
		RETURNING ` + courierColumns

	reserveCourierSQL = `UPDATE courier_profiles
		SET is_available = FALSE, current_order_id = $2, updated_at = now()
		WHERE courier_id = $1 AND is_online AND is_available`

	releaseCourierSQL = `UPDATE courier_profiles
		SET current_order_id = NULL, is_available = is_online,
			deliveries = deliveries + $3, earnings = earnings + $4, updated_at = now()
		WHERE courier_id = $1 AND current_order_id = $2`
)

var _ courier.Repository = (*CourierStore)(nil)

// CourierStore implements courier.Repository backed by PostgreSQL.
type CourierStore struct {
	pool *pgxpool.Pool
}

// NewCourierStore returns a CourierStore that uses the given pool.
func NewCourierStore(pool *pgxpool.Pool) *CourierStore {
	return &CourierStore{pool: pool}
}

// Create stores a new profile.
func (r *CourierStore) Create(ctx context.Context, p *courier.Profile) error {
	tag, err := r.pool.Exec(ctx, createCourierSQL,
		p.CourierID, string(p.VehicleType), p.VehicleNumber, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating courier %q: %w", p.CourierID, err)
	}
	if tag.RowsAffected() == 0 {
		return courier.ErrAlreadyRegistered
	}
	return nil
}

// Get returns the profile or courier.ErrNotFound.
func (r *CourierStore) Get(ctx context.Context, courierID string) (*courier.Profile, error) {
	return r.queryOne(ctx, getCourierSQL, courierID)
}

// SetOnline switches the online flag; availability follows it unless the
// courier is carrying an order.
func (r *CourierStore) SetOnline(ctx context.Context, courierID string, online bool) (*courier.Profile, error) {
	return r.queryOne(ctx, setCourierOnlineSQL, courierID, online)
}

// UpdateLocation stores the last reported position.
func (r *CourierStore) UpdateLocation(ctx context.Context, courierID string, at catalog.Point) (*courier.Profile, error) {
	return r.queryOne(ctx, updateCourierLocationSQL, courierID, at.Lat, at.Lng)
}

// Reserve marks an online, available courier busy with orderID.
func (r *CourierStore) Reserve(ctx context.Context, courierID, orderID string) (bool, error) {
	tag, err := r.pool.Exec(ctx, reserveCourierSQL, courierID, orderID)
	if err != nil {
		return false, fmt.Errorf("reserving courier %q: %w", courierID, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Release frees the courier from orderID, crediting earning when set.
func (r *CourierStore) Release(ctx context.Context, courierID, orderID string, earning *decimal.Decimal) (bool, error) {
	deliveries, amount := 0, decimal.Zero
	if earning != nil {
		deliveries, amount = 1, *earning
	}
	tag, err := r.pool.Exec(ctx, releaseCourierSQL, courierID, orderID, deliveries, amount)
	if err != nil {
		return false, fmt.Errorf("releasing courier %q: %w", courierID, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *CourierStore) queryOne(ctx context.Context, query string, args ...any) (*courier.Profile, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying courier: %w", err)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanCourier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, courier.ErrNotFound
		}
		return nil, fmt.Errorf("querying courier: %w", err)
	}
	return &p, nil
}

func scanCourier(row pgx.CollectableRow) (courier.Profile, error) {
	var (
		p              courier.Profile
		vehicle        string
		currentOrderID *string
	)
	err := row.Scan(
		&p.CourierID, &vehicle, &p.VehicleNumber, &p.IsOnline, &p.IsAvailable,
		&p.Location.Lat, &p.Location.Lng, &currentOrderID,
		&p.Stats.Deliveries, &p.Stats.Earnings, &p.Stats.RatingAverage, &p.Stats.RatingCount,
		&p.CreatedAt, &p.UpdatedAt,
	)
	p.VehicleType = courier.VehicleType(vehicle)
	p.CurrentOrderID = deref(currentOrderID)
	return p, err
}
