package postgres

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/fulfillment/internal/domain/earnings"
)

const earningColumns = `id, courier_id, order_id, base_fee, distance_bonus, tip_amount,
	total_earning, created_at`

const insertEarningSQL = `INSERT INTO delivery_earnings (` + earningColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

var _ earnings.Repository = (*EarningsStore)(nil)

// EarningsStore implements earnings.Repository backed by PostgreSQL.
type EarningsStore struct {
	pool *pgxpool.Pool
}

// NewEarningsStore returns an EarningsStore that uses the given pool.
func NewEarningsStore(pool *pgxpool.Pool) *EarningsStore {
	return &EarningsStore{pool: pool}
}

// Insert stores r. The unique order_id rejects a second record per order.
func (r *EarningsStore) Insert(ctx context.Context, rec *earnings.Record) error {
	_, err := r.pool.Exec(ctx, insertEarningSQL,
		rec.ID, rec.CourierID, rec.OrderID, rec.BaseFee, rec.DistanceBonus,
		rec.TipAmount, rec.TotalEarning, rec.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return earnings.ErrDuplicate
		}
		return fmt.Errorf("inserting earning for order %q: %w", rec.OrderID, err)
	}
	return nil
}

// Totals sums the courier's records created at or after since.
func (r *EarningsStore) Totals(ctx context.Context, courierID string, since time.Time) (earnings.Totals, error) {
	b := psql.Select("count(*)", "coalesce(sum(total_earning), 0)").
		From("delivery_earnings").
		Where(sq.Eq{"courier_id": courierID})
	if !since.IsZero() {
		b = b.Where(sq.GtOrEq{"created_at": since})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return earnings.Totals{}, fmt.Errorf("building query: %w", err)
	}
	var t earnings.Totals
	if err := r.pool.QueryRow(ctx, query, args...).Scan(&t.Deliveries, &t.Amount); err != nil {
		return earnings.Totals{}, fmt.Errorf("summing earnings of %q: %w", courierID, err)
	}
	return t, nil
}

// List returns the courier's records newest first.
func (r *EarningsStore) List(ctx context.Context, courierID string, limit, offset int) ([]earnings.Record, int, error) {
	where := sq.Eq{"courier_id": courierID}
	total, err := countBuilt(ctx, r.pool, psql.Select("count(*)").From("delivery_earnings").Where(where))
	if err != nil {
		return nil, 0, fmt.Errorf("counting earnings of %q: %w", courierID, err)
	}

	b := psql.Select(earningColumns).
		From("delivery_earnings").
		Where(where).
		OrderBy("created_at DESC").
		Limit(uint64(max(limit, 0))).
		Offset(uint64(max(offset, 0)))

	rows, err := queryBuilt(ctx, r.pool, b)
	if err != nil {
		return nil, 0, fmt.Errorf("listing earnings of %q: %w", courierID, err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (earnings.Record, error) {
		var rec earnings.Record
		err := row.Scan(
			&rec.ID, &rec.CourierID, &rec.OrderID, &rec.BaseFee, &rec.DistanceBonus,
			&rec.TipAmount, &rec.TotalEarning, &rec.CreatedAt,
		)
		return rec, err
	})
	if err != nil {
		return nil, 0, fmt.Errorf("listing earnings of %q: %w", courierID, err)
	}
	return records, total, nil
}
