package earnings

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// DefaultPageSize is the History page size used when none is given.
const DefaultPageSize = 20

// Summary is the aggregate of one window.
type Summary struct {
	Period     Period
	Since      time.Time
	Deliveries int
	Earnings   decimal.Decimal
}

// Aggregator answers read-only earnings queries. It only reads immutable
// records and is safe to run concurrently with writes.
type Aggregator struct {
	repo Repository
	loc  *time.Location
	now  func() time.Time
}

// NewAggregator creates an Aggregator computing windows in loc.
func NewAggregator(repo Repository, loc *time.Location, now func() time.Time) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Aggregator{repo: repo, loc: loc, now: now}
}

// Summary sums the courier's earnings over period.
func (a *Aggregator) Summary(ctx context.Context, courierID string, period Period) (Summary, error) {
	since := period.Start(a.now(), a.loc)
	t, err := a.repo.Totals(ctx, courierID, since)
	if err != nil {
		return Summary{}, errors.Wrapf(err, "sum %s earnings", period)
	}
	return Summary{
		Period:     period,
		Since:      since,
		Deliveries: t.Deliveries,
		Earnings:   t.Amount,
	}, nil
}

// Overview returns the summaries of every period, queried concurrently.
func (a *Aggregator) Overview(ctx context.Context, courierID string) ([]Summary, error) {
	out := make([]Summary, len(Periods))

	g, ctx := errgroup.WithContext(ctx)
	for i, p := range Periods {
		g.Go(func() error {
			s, err := a.Summary(ctx, courierID, p)
			if err != nil {
				return err
			}
			out[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// History returns a page of records, newest first, and the total count.
func (a *Aggregator) History(ctx context.Context, courierID string, page, size int) ([]Record, int, error) {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	records, total, err := a.repo.List(ctx, courierID, size, (page-1)*size)
	if err != nil {
		return nil, 0, errors.Wrap(err, "list earnings")
	}
	return records, total, nil
}
