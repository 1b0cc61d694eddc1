package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/earnings"
)

var _ earnings.Repository = (*Earnings)(nil)

// Earnings is an in-memory earnings.Repository.
type Earnings struct {
	mu      sync.RWMutex
	records []earnings.Record
	orders  map[string]struct{}
}

// NewEarnings returns an empty earnings store.
func NewEarnings() *Earnings {
	return &Earnings{orders: make(map[string]struct{})}
}

// Insert implements earnings.Repository.
func (s *Earnings) Insert(_ context.Context, r *earnings.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[r.OrderID]; ok {
		return earnings.ErrDuplicate
	}
	s.orders[r.OrderID] = struct{}{}
	s.records = append(s.records, *r)
	return nil
}

// Totals implements earnings.Repository.
func (s *Earnings) Totals(_ context.Context, courierID string, since time.Time) (earnings.Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := earnings.Totals{Amount: decimal.Zero}
	for _, r := range s.records {
		if r.CourierID != courierID || r.CreatedAt.Before(since) {
			continue
		}
		t.Deliveries++
		t.Amount = t.Amount.Add(r.TotalEarning)
	}
	return t, nil
}

// List implements earnings.Repository.
func (s *Earnings) List(_ context.Context, courierID string, limit, offset int) ([]earnings.Record, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []earnings.Record
	for _, r := range s.records {
		if r.CourierID == courierID {
			all = append(all, r)
		}
	}
	slices.SortStableFunc(all, func(a, b earnings.Record) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(all)
	from := min(max(offset, 0), total)
	to := min(from+limit, total)
	return all[from:to], total, nil
}
