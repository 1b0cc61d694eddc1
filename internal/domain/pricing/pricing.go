// Package pricing turns cart lines and an authoritative catalog snapshot into
// priced order lines and order totals. It has no side effects.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/catalog"
)

var (
	// ErrInvalidSelection is returned when a line references an item, variant
	// or addon missing from the catalog snapshot.
	ErrInvalidSelection = apperr.New(apperr.KindValidation, "pricing.invalid_selection", "invalid selection")
	// ErrNegativeTotal is returned when the computed total would be negative.
	ErrNegativeTotal = apperr.New(apperr.KindValidation, "pricing.negative_total", "invalid order total")
)

// DefaultTaxRate is applied when no rate is configured.
var DefaultTaxRate = decimal.RequireFromString("0.05")

// CartLine is a single line of the customer's cart.
type CartLine struct {
	ItemID   string
	Quantity int
	Variant  string
	Addons   []string
}

// Line is a priced order line with point-in-time snapshots of the catalog
// name and unit price.
type Line struct {
	ItemID     string          `json:"itemId"`
	Name       string          `json:"name"`
	UnitPrice  decimal.Decimal `json:"unitPrice"`
	Quantity   int             `json:"quantity"`
	Variant    string          `json:"variant,omitempty"`
	Addons     []string        `json:"addons,omitempty"`
	AddonTotal decimal.Decimal `json:"addonTotal"`
	Total      decimal.Decimal `json:"total"`
}

// Quote is the result of pricing a cart.
type Quote struct {
	Lines    []Line
	Subtotal decimal.Decimal
}

// Pricing holds the derived money fields of an order.
type Pricing struct {
	Subtotal    decimal.Decimal `json:"subtotal"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	Tax         decimal.Decimal `json:"tax"`
	Discount    decimal.Decimal `json:"discount"`
	Total       decimal.Decimal `json:"total"`
}

// Balanced reports whether total equals subtotal + fee + tax - discount and is
// not negative.
func (p Pricing) Balanced() bool {
	want := p.Subtotal.Add(p.DeliveryFee).Add(p.Tax).Sub(p.Discount)
	return p.Total.Equal(want) && !p.Total.IsNegative()
}

// Price resolves every cart line against items (keyed by item id).
func Price(lines []CartLine, items map[string]catalog.Item) (Quote, error) {
	q := Quote{
		Lines:    make([]Line, 0, len(lines)),
		Subtotal: decimal.Zero,
	}
	for i, cl := range lines {
		field := fmt.Sprintf("lines[%d]", i)

		item, ok := items[cl.ItemID]
		if !ok || !item.IsAvailable {
			return Quote{}, ErrInvalidSelection.
				Withf("item %s is unavailable", cl.ItemID).
				WithField(field, "item unavailable")
		}

		unit := item.Price
		if cl.Variant != "" {
			v, ok := item.Variant(cl.Variant)
			if !ok {
				return Quote{}, ErrInvalidSelection.
					Withf("variant %q not found for %q", cl.Variant, item.Name).
					WithField(field, "unknown variant")
			}
			unit = v.Price
		}

		addons := decimal.Zero
		for _, name := range cl.Addons {
			a, ok := item.Addon(name)
			if !ok {
				return Quote{}, ErrInvalidSelection.
					Withf("addon %q not found for %q", name, item.Name).
					WithField(field, "unknown addon")
			}
			addons = addons.Add(a.Price)
		}

		total := unit.Add(addons).Mul(decimal.NewFromInt(int64(cl.Quantity)))
		q.Subtotal = q.Subtotal.Add(total)
		q.Lines = append(q.Lines, Line{
			ItemID:     item.ID,
			Name:       item.Name,
			UnitPrice:  unit,
			Quantity:   cl.Quantity,
			Variant:    cl.Variant,
			Addons:     cl.Addons,
			AddonTotal: addons,
			Total:      total,
		})
	}
	return q, nil
}

// Tax returns rate applied to (subtotal - discount), rounded half-up to whole
// currency units.
func Tax(subtotal, discount, rate decimal.Decimal) decimal.Decimal {
	base := subtotal.Sub(discount)
	if base.IsNegative() {
		return decimal.Zero
	}
	// Round is half away from zero, which is half-up for non-negative values.
	return base.Mul(rate).Round(0)
}

// Totals derives the full pricing of an order.
func Totals(subtotal, deliveryFee, discount, rate decimal.Decimal) (Pricing, error) {
	tax := Tax(subtotal, discount, rate)
	p := Pricing{
		Subtotal:    subtotal,
		DeliveryFee: deliveryFee,
		Tax:         tax,
		Discount:    discount,
		Total:       subtotal.Add(deliveryFee).Add(tax).Sub(discount),
	}
	if p.Total.IsNegative() {
		return Pricing{}, ErrNegativeTotal
	}
	return p, nil
}
