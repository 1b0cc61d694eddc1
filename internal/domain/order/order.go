// Package order owns the order aggregate, its lifecycle state machine and the
// placement flow.
package order

import (
	"context"
	"time"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = apperr.New(apperr.KindNotFound, "order.not_found", "order not found")
	// ErrDuplicateIdempotencyKey is returned by Create when the customer
	// already has an order with the same idempotency key.
	ErrDuplicateIdempotencyKey = apperr.New(apperr.KindConflict, "order.duplicate_idempotency_key", "order already placed with this idempotency key")
	// ErrStaleStatus is returned when a conditional status update lost a race.
	ErrStaleStatus = apperr.New(apperr.KindConflict, "order.stale_status", "order status changed concurrently")
	// ErrAlreadyTaken is returned when another courier claimed the order first.
	ErrAlreadyTaken = apperr.New(apperr.KindConflict, "order.already_taken", "order no longer available")
	// ErrForbidden is returned when the caller may not see or change the order.
	ErrForbidden = apperr.New(apperr.KindForbidden, "order.forbidden", "not allowed for this order")
)

// PaymentMethod is how the customer settles the order.
type PaymentMethod string

const (
	PaymentCOD    PaymentMethod = "cod"
	PaymentCard   PaymentMethod = "card"
	PaymentUPI    PaymentMethod = "upi"
	PaymentWallet PaymentMethod = "wallet"
)

// PaymentStatus tracks settlement of the order.
type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
	PaymentRefunded  PaymentStatus = "refunded"
)

// Payment holds the settlement details of an order.
type Payment struct {
	Method        PaymentMethod `json:"method"`
	Status        PaymentStatus `json:"status"`
	TransactionID string        `json:"transactionId,omitempty"`
}

// StatusEntry is one element of the append-only status history.
type StatusEntry struct {
	Status Status    `json:"status"`
	At     time.Time `json:"at"`
	Note   string    `json:"note,omitempty"`
}

// Order is the aggregate root of the fulfillment engine.
type Order struct {
	ID                  string
	Number              string
	CustomerID          string
	RestaurantID        string
	CourierID           string
	Lines               []pricing.Line
	DeliveryAddress     catalog.Address
	Pricing             pricing.Pricing
	Payment             Payment
	Status              Status
	History             []StatusEntry
	CouponCode          string
	CouponClaim         coupon.Claim
	IdempotencyKey      string
	SpecialInstructions string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// LastEntry returns the most recent history entry.
func (o *Order) LastEntry() StatusEntry {
	if len(o.History) == 0 {
		return StatusEntry{}
	}
	return o.History[len(o.History)-1]
}

// Transition is a conditional status change applied by Repository.UpdateStatus.
type Transition struct {
	// From is the status the order must still have.
	From Status
	// Entry is appended to the history; Entry.Status becomes the new status.
	Entry StatusEntry
	// CourierID, when set, must equal the assigned courier.
	CourierID string
	// Payment, when set, replaces the payment status.
	Payment PaymentStatus
}

// Page selects a slice of a listing.
type Page struct {
	Number int
	Size   int
}

// Offset returns the number of rows to skip.
func (p Page) Offset() int { return (p.Number - 1) * p.Size }

// AvailableQuery selects ready, unassigned orders for couriers.
type AvailableQuery struct {
	// Near restricts results to orders delivered within RadiusKM of Near.
	// A nil Near disables the filter.
	Near     *catalog.Point
	RadiusKM float64
	Limit    int
}

// Repository persists orders. UpdateStatus and AssignCourier are the
// engine's compare-and-swap primitives and must be atomic in storage.
type Repository interface {
	// Create stores a new order. It returns ErrDuplicateIdempotencyKey when
	// (CustomerID, IdempotencyKey) already exists.
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	GetByIdempotencyKey(ctx context.Context, customerID, key string) (*Order, error)
	// UpdateStatus applies t only if the order is still in t.From (and
	// assigned to t.CourierID when set), otherwise ErrStaleStatus.
	UpdateStatus(ctx context.Context, id string, t Transition) (*Order, error)
	// AssignCourier sets the courier and moves ready to picked_up only if the
	// order is ready and unassigned, otherwise ErrAlreadyTaken.
	AssignCourier(ctx context.Context, id, courierID string, entry StatusEntry) (*Order, error)
	// ListAvailable returns ready, unassigned orders oldest first.
	ListAvailable(ctx context.Context, q AvailableQuery) ([]Order, error)
	ListByCustomer(ctx context.Context, customerID string, page Page) ([]Order, int, error)
	ListByRestaurant(ctx context.Context, restaurantID string, status Status, page Page) ([]Order, int, error)
}
