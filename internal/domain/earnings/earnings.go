// Package earnings derives courier settlements from completed deliveries and
// aggregates them over calendar windows.
package earnings

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

var (
	// ErrDuplicate is returned when an order already has an earning record.
	ErrDuplicate = apperr.New(apperr.KindConflict, "earnings.duplicate", "earning already recorded for order")
	// ErrUnknownPeriod is returned for an unsupported aggregation window.
	ErrUnknownPeriod = apperr.Validation("earnings.unknown_period", "period", "period must be one of today, week, month, all")
)

var (
	baseShare  = decimal.RequireFromString("0.7")
	bonusShare = decimal.RequireFromString("0.1")
)

// Record is the immutable settlement of one delivered order.
type Record struct {
	ID            string
	CourierID     string
	OrderID       string
	BaseFee       decimal.Decimal
	DistanceBonus decimal.Decimal
	TipAmount     decimal.Decimal
	TotalEarning  decimal.Decimal
	CreatedAt     time.Time
}

// Compute derives the earning record for a delivery with the given fee:
// base = 70% of the fee, distance bonus = 10%, no tip. Components are
// rounded half-up to whole currency units.
func Compute(id, courierID, orderID string, deliveryFee decimal.Decimal, at time.Time) Record {
	base := deliveryFee.Mul(baseShare).Round(0)
	bonus := deliveryFee.Mul(bonusShare).Round(0)
	tip := decimal.Zero
	return Record{
		ID:            id,
		CourierID:     courierID,
		OrderID:       orderID,
		BaseFee:       base,
		DistanceBonus: bonus,
		TipAmount:     tip,
		TotalEarning:  base.Add(bonus).Add(tip),
		CreatedAt:     at,
	}
}

// Totals is a count and sum of earning records.
type Totals struct {
	Deliveries int
	Amount     decimal.Decimal
}

// Repository stores earning records.
type Repository interface {
	// Insert stores r, returning ErrDuplicate if the order already has one.
	Insert(ctx context.Context, r *Record) error
	// Totals sums records of courierID created at or after since. A zero
	// since covers all records.
	Totals(ctx context.Context, courierID string, since time.Time) (Totals, error)
	// List returns records newest first and the total count.
	List(ctx context.Context, courierID string, limit, offset int) ([]Record, int, error)
}
