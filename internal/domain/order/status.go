package order

import (
	"slices"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/auth"
)

// Status is a lifecycle state of an order.
type Status string

const (
	StatusPlaced    Status = "placed"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusPickedUp  Status = "picked_up"
	StatusOnTheWay  Status = "on_the_way"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// ErrIllegalTransition is returned for moves absent from the lifecycle table.
var ErrIllegalTransition = apperr.New(apperr.KindIllegalTransition, "order.illegal_transition", "illegal status transition")

// ErrUnknownStatus is returned for a status outside the lifecycle.
var ErrUnknownStatus = apperr.New(apperr.KindValidation, "order.unknown_status", "unknown order status")

// transitions is the fixed lifecycle table.
var transitions = map[Status][]Status{
	StatusPlaced:    {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady},
	StatusReady:     {StatusPickedUp},
	StatusPickedUp:  {StatusOnTheWay},
	StatusOnTheWay:  {StatusDelivered},
	StatusDelivered: nil,
	StatusCancelled: nil,
}

// roleTargets lists the statuses each non-operator role may move an order into.
var roleTargets = map[auth.Role][]Status{
	auth.RoleRestaurantOwner: {StatusConfirmed, StatusPreparing, StatusReady},
	auth.RoleCourier:         {StatusPickedUp, StatusOnTheWay, StatusDelivered},
	auth.RoleCustomer:        {StatusCancelled},
}

// Valid reports whether s is part of the lifecycle.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// Next returns the statuses reachable from s in one step.
func (s Status) Next() []Status {
	return slices.Clone(transitions[s])
}

// CanTransition reports whether from -> to is in the lifecycle table.
func CanTransition(from, to Status) bool {
	return slices.Contains(transitions[from], to)
}

// checkTransition validates from -> to against the table.
func checkTransition(from, to Status) error {
	if !to.Valid() {
		return ErrUnknownStatus.Withf("unknown order status %q", to)
	}
	if !CanTransition(from, to) {
		return ErrIllegalTransition.Withf("cannot transition from %s to %s", from, to)
	}
	return nil
}

// RoleMayEnter reports whether role is allowed to drive an order into to.
// Operators may apply any transition of the table.
func RoleMayEnter(role auth.Role, to Status) bool {
	if role == auth.RoleOperator {
		return true
	}
	return slices.Contains(roleTargets[role], to)
}
