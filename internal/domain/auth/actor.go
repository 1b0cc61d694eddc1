// Package auth models the identity handed to the engine by the session layer.
// The engine never authenticates users itself; it only authorizes against the
// role it is given.
package auth

import (
	"context"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

// Role is the platform role of a caller.
type Role string

const (
	RoleCustomer        Role = "customer"
	RoleRestaurantOwner Role = "restaurant_owner"
	RoleCourier         Role = "delivery_partner"
	RoleOperator        Role = "super_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleCustomer, RoleRestaurantOwner, RoleCourier, RoleOperator:
		return true
	}
	return false
}

// Actor is an authenticated (user, role) pair.
type Actor struct {
	UserID string
	Role   Role
}

// ErrUnauthenticated is returned when no actor is attached to a request.
var ErrUnauthenticated = apperr.New(apperr.KindForbidden, "auth.unauthenticated", "caller identity missing")

type actorKey struct{}

// WithActor stores a in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, actorKey{}, a)
}

// ActorFrom returns the actor stored in ctx.
func ActorFrom(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(actorKey{}).(Actor)
	return a, ok
}
