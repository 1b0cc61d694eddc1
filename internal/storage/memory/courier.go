package memory

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/courier"
)

var _ courier.Repository = (*Couriers)(nil)

// Couriers is an in-memory courier.Repository.
type Couriers struct {
	mu   sync.Mutex
	byID map[string]*courier.Profile
}

// NewCouriers returns an empty courier store.
func NewCouriers() *Couriers {
	return &Couriers{byID: make(map[string]*courier.Profile)}
}

// Create implements courier.Repository.
func (s *Couriers) Create(_ context.Context, p *courier.Profile) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byID[p.CourierID]; ok {
		return courier.ErrAlreadyRegistered
	}
	cp := *p
	s.byID[p.CourierID] = &cp
	return nil
}

// Get implements courier.Repository.
func (s *Couriers) Get(_ context.Context, courierID string) (*courier.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[courierID]
	if !ok {
		return nil, courier.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// SetOnline implements courier.Repository.
func (s *Couriers) SetOnline(_ context.Context, courierID string, online bool) (*courier.Profile, error) {
	return s.update(courierID, func(p *courier.Profile) {
		p.IsOnline = online
		p.IsAvailable = online && p.CurrentOrderID == ""
	})
}

// UpdateLocation implements courier.Repository.
func (s *Couriers) UpdateLocation(_ context.Context, courierID string, at catalog.Point) (*courier.Profile, error) {
	return s.update(courierID, func(p *courier.Profile) { p.Location = at })
}

// Reserve implements courier.Repository.
func (s *Couriers) Reserve(_ context.Context, courierID, orderID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[courierID]
	if !ok || !p.IsOnline || !p.IsAvailable {
		return false, nil
	}
	p.IsAvailable = false
	p.CurrentOrderID = orderID
	return true, nil
}

// Release implements courier.Repository.
func (s *Couriers) Release(_ context.Context, courierID, orderID string, earning *decimal.Decimal) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[courierID]
	if !ok || p.CurrentOrderID != orderID {
		return false, nil
	}
	p.CurrentOrderID = ""
	p.IsAvailable = p.IsOnline
	if earning != nil {
		p.Stats.Deliveries++
		p.Stats.Earnings = p.Stats.Earnings.Add(*earning)
	}
	return true, nil
}

func (s *Couriers) update(courierID string, fn func(*courier.Profile)) (*courier.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.byID[courierID]
	if !ok {
		return nil, courier.ErrNotFound
	}
	fn(p)
	cp := *p
	return &cp, nil
}
