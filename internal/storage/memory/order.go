package memory

import (
	"context"
	"slices"
	"sync"

	"github.com/xenking/fulfillment/internal/domain/order"
)

var _ order.Repository = (*Orders)(nil)

type idempotencyKey struct {
	customerID string
	key        string
}

// Orders is an in-memory order.Repository.
type Orders struct {
	mu    sync.RWMutex
	byID  map[string]*order.Order
	byKey map[idempotencyKey]string
	// seq keeps insertion order for FIFO listings.
	seq []string
}

// NewOrders returns an empty order store.
func NewOrders() *Orders {
	return &Orders{
		byID:  make(map[string]*order.Order),
		byKey: make(map[idempotencyKey]string),
	}
}

// Create implements order.Repository.
func (s *Orders) Create(_ context.Context, o *order.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if o.IdempotencyKey != "" {
		k := idempotencyKey{customerID: o.CustomerID, key: o.IdempotencyKey}
		if _, ok := s.byKey[k]; ok {
			return order.ErrDuplicateIdempotencyKey
		}
		s.byKey[k] = o.ID
	}
	s.byID[o.ID] = cloneOrder(o)
	s.seq = append(s.seq, o.ID)
	return nil
}

// Get implements order.Repository.
func (s *Orders) Get(_ context.Context, id string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetByIdempotencyKey implements order.Repository.
func (s *Orders) GetByIdempotencyKey(_ context.Context, customerID, key string) (*order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.byKey[idempotencyKey{customerID: customerID, key: key}]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(s.byID[id]), nil
}

// UpdateStatus implements order.Repository.
func (s *Orders) UpdateStatus(_ context.Context, id string, t order.Transition) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != t.From || (t.CourierID != "" && o.CourierID != t.CourierID) {
		return nil, order.ErrStaleStatus
	}
	o.Status = t.Entry.Status
	o.History = append(o.History, t.Entry)
	o.UpdatedAt = t.Entry.At
	if t.Payment != "" {
		o.Payment.Status = t.Payment
	}
	return cloneOrder(o), nil
}

// AssignCourier implements order.Repository.
func (s *Orders) AssignCourier(_ context.Context, id, courierID string, entry order.StatusEntry) (*order.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.byID[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	if o.Status != order.StatusReady || o.CourierID != "" {
		return nil, order.ErrAlreadyTaken
	}
	o.CourierID = courierID
	o.Status = entry.Status
	o.History = append(o.History, entry)
	o.UpdatedAt = entry.At
	return cloneOrder(o), nil
}

// ListAvailable implements order.Repository.
func (s *Orders) ListAvailable(_ context.Context, q order.AvailableQuery) ([]order.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []order.Order
	for _, id := range s.seq {
		o := s.byID[id]
		if o.Status != order.StatusReady || o.CourierID != "" {
			continue
		}
		if q.Near != nil && q.Near.DistanceKM(o.DeliveryAddress.Location) > q.RadiusKM {
			continue
		}
		out = append(out, *cloneOrder(o))
	}
	slices.SortStableFunc(out, func(a, b order.Order) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// ListByCustomer implements order.Repository.
func (s *Orders) ListByCustomer(_ context.Context, customerID string, page order.Page) ([]order.Order, int, error) {
	return s.list(page, func(o *order.Order) bool { return o.CustomerID == customerID })
}

// ListByRestaurant implements order.Repository.
func (s *Orders) ListByRestaurant(_ context.Context, restaurantID string, status order.Status, page order.Page) ([]order.Order, int, error) {
	return s.list(page, func(o *order.Order) bool {
		return o.RestaurantID == restaurantID && (status == "" || o.Status == status)
	})
}

func (s *Orders) list(page order.Page, match func(*order.Order) bool) ([]order.Order, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []order.Order
	for i := len(s.seq) - 1; i >= 0; i-- {
		if o := s.byID[s.seq[i]]; match(o) {
			all = append(all, *cloneOrder(o))
		}
	}
	slices.SortStableFunc(all, func(a, b order.Order) int {
		return b.CreatedAt.Compare(a.CreatedAt)
	})

	total := len(all)
	from := min(max(page.Offset(), 0), total)
	to := min(from+page.Size, total)
	if page.Size <= 0 {
		to = total
	}
	return all[from:to], total, nil
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	for i := range cp.Lines {
		cp.Lines[i].Addons = slices.Clone(cp.Lines[i].Addons)
	}
	cp.History = slices.Clone(o.History)
	return &cp
}
