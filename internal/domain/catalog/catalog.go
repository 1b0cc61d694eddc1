// Package catalog declares the read-only collaborators the fulfillment engine
// consumes at placement time: the menu catalog, the restaurant directory and
// the customer address book.
package catalog

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/apperr"
)

var (
	// ErrRestaurantNotFound is returned when a restaurant id is unknown.
	ErrRestaurantNotFound = apperr.New(apperr.KindNotFound, "restaurant.not_found", "restaurant not found")
	// ErrAddressNotFound is returned when an address does not exist or belongs to someone else.
	ErrAddressNotFound = apperr.New(apperr.KindValidation, "address.invalid", "invalid delivery address")
)

// Item is a menu entry as known to the catalog at placement time.
type Item struct {
	ID           string
	RestaurantID string
	Name         string
	Price        decimal.Decimal
	Variants     []Option
	Addons       []Option
	IsAvailable  bool
}

// Option is a named priced choice on an item. For variants the price replaces
// the base price; for addons it is added on top.
type Option struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Variant returns the variant with the given name.
func (i *Item) Variant(name string) (Option, bool) {
	return findOption(i.Variants, name)
}

// Addon returns the addon with the given name.
func (i *Item) Addon(name string) (Option, bool) {
	return findOption(i.Addons, name)
}

func findOption(opts []Option, name string) (Option, bool) {
	for _, o := range opts {
		if o.Name == name {
			return o, true
		}
	}
	return Option{}, false
}

// Restaurant is the directory view of a restaurant.
type Restaurant struct {
	ID             string
	OwnerID        string
	Name           string
	IsActive       bool
	DeliveryFee    decimal.Decimal
	MinOrderAmount decimal.Decimal
}

// Point is a WGS84 coordinate.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Unset reports whether p carries no usable position. Clients that never
// reported a location send zero coordinates, so a zero on either axis counts.
func (p Point) Unset() bool { return p.Lat == 0 || p.Lng == 0 }

// Valid reports whether p lies within coordinate bounds.
func (p Point) Valid() bool {
	return p.Lat >= -90 && p.Lat <= 90 && p.Lng >= -180 && p.Lng <= 180
}

// Address is a point-in-time copy of a delivery address.
type Address struct {
	Line1    string `json:"line1"`
	Line2    string `json:"line2,omitempty"`
	City     string `json:"city"`
	Pincode  string `json:"pincode"`
	Location Point  `json:"location"`
}

// Items returns the available items among ids that belong to restaurantID.
// Missing or unavailable items are simply absent from the result.
type Items interface {
	GetItems(ctx context.Context, ids []string, restaurantID string) ([]Item, error)
}

// Restaurants resolves restaurants by id.
type Restaurants interface {
	GetRestaurant(ctx context.Context, id string) (*Restaurant, error)
}

// Addresses resolves an address owned by ownerID.
type Addresses interface {
	GetAddress(ctx context.Context, id, ownerID string) (*Address, error)
}
