// Package courier matches delivery partners with ready orders and settles
// completed deliveries.
package courier

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/catalog"
)

var (
	// ErrNotFound is returned when the courier has no profile.
	ErrNotFound = apperr.New(apperr.KindNotFound, "courier.not_found", "courier profile not found")
	// ErrAlreadyRegistered is returned when a profile already exists.
	ErrAlreadyRegistered = apperr.New(apperr.KindConflict, "courier.already_registered", "courier profile already exists")
	// ErrNotAvailable is returned when the courier is offline or busy.
	ErrNotAvailable = apperr.New(apperr.KindConflict, "courier.not_available", "courier is offline or already on a delivery")
	// ErrInvalidVehicle is returned for an unknown vehicle type.
	ErrInvalidVehicle = apperr.Validation("courier.invalid_vehicle", "vehicleType", "vehicle type must be one of bicycle, motorcycle, car")
	// ErrInvalidLocation is returned for coordinates outside WGS84 bounds.
	ErrInvalidLocation = apperr.Validation("courier.invalid_location", "location", "latitude must be within [-90, 90] and longitude within [-180, 180]")
)

// VehicleType is the courier's means of transport.
type VehicleType string

const (
	VehicleBicycle    VehicleType = "bicycle"
	VehicleMotorcycle VehicleType = "motorcycle"
	VehicleCar        VehicleType = "car"
)

// Valid reports whether v is a known vehicle type.
func (v VehicleType) Valid() bool {
	switch v {
	case VehicleBicycle, VehicleMotorcycle, VehicleCar:
		return true
	}
	return false
}

// Stats are the lifetime counters of a courier.
type Stats struct {
	Deliveries    int
	Earnings      decimal.Decimal
	RatingAverage float64
	RatingCount   int
}

// Profile is the operational state of a delivery partner. A zero Location
// means the courier never reported one.
type Profile struct {
	CourierID      string
	VehicleType    VehicleType
	VehicleNumber  string
	IsOnline       bool
	IsAvailable    bool
	Location       catalog.Point
	CurrentOrderID string
	Stats          Stats
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Repository persists courier profiles. Reserve and Release are conditional
// updates and must be atomic in storage.
type Repository interface {
	// Create stores a new profile or returns ErrAlreadyRegistered.
	Create(ctx context.Context, p *Profile) error
	Get(ctx context.Context, courierID string) (*Profile, error)
	// SetOnline switches the online flag. Going online makes the courier
	// available only when no order is assigned; going offline clears
	// availability.
	SetOnline(ctx context.Context, courierID string, online bool) (*Profile, error)
	UpdateLocation(ctx context.Context, courierID string, at catalog.Point) (*Profile, error)
	// Reserve marks an online, available courier busy with orderID. It
	// reports false when the courier is offline or busy.
	Reserve(ctx context.Context, courierID, orderID string) (bool, error)
	// Release frees a courier busy with orderID. A non-nil earning also
	// increments the delivery count and lifetime earnings. It reports false
	// when the courier is not busy with orderID.
	Release(ctx context.Context, courierID, orderID string, earning *decimal.Decimal) (bool, error)
}
