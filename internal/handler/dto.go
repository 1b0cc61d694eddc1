package handler

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/domain/courier"
	"github.com/xenking/fulfillment/internal/domain/earnings"
	"github.com/xenking/fulfillment/internal/domain/order"
	"github.com/xenking/fulfillment/internal/domain/pricing"
)

type cartLineRequest struct {
	ItemID   string   `json:"itemId"`
	Quantity int      `json:"quantity"`
	Variant  string   `json:"variant,omitempty"`
	Addons   []string `json:"addons,omitempty"`
}

type placeOrderRequest struct {
	RestaurantID        string            `json:"restaurantId"`
	AddressID           string            `json:"addressId"`
	Items               []cartLineRequest `json:"items"`
	PaymentMethod       string            `json:"paymentMethod"`
	CouponCode          string            `json:"couponCode,omitempty"`
	SpecialInstructions string            `json:"specialInstructions,omitempty"`
}

type statusRequest struct {
	Status string `json:"status"`
	Note   string `json:"note,omitempty"`
}

type registerRequest struct {
	VehicleType   string `json:"vehicleType"`
	VehicleNumber string `json:"vehicleNumber"`
}

type locationRequest struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type validateCouponRequest struct {
	Code         string  `json:"code"`
	RestaurantID string  `json:"restaurantId"`
	OrderAmount  float64 `json:"orderAmount"`
}

type lineResponse struct {
	ItemID     string   `json:"itemId"`
	Name       string   `json:"name"`
	UnitPrice  float64  `json:"unitPrice"`
	Quantity   int      `json:"quantity"`
	Variant    string   `json:"variant,omitempty"`
	Addons     []string `json:"addons,omitempty"`
	AddonTotal float64  `json:"addonTotal"`
	Total      float64  `json:"total"`
}

type pricingResponse struct {
	Subtotal    float64 `json:"subtotal"`
	DeliveryFee float64 `json:"deliveryFee"`
	Tax         float64 `json:"tax"`
	Discount    float64 `json:"discount"`
	Total       float64 `json:"total"`
}

type orderResponse struct {
	ID                  string              `json:"id"`
	OrderNumber         string              `json:"orderNumber"`
	CustomerID          string              `json:"customerId"`
	RestaurantID        string              `json:"restaurantId"`
	CourierID           string              `json:"deliveryPartnerId,omitempty"`
	Status              order.Status        `json:"status"`
	Items               []lineResponse      `json:"items"`
	DeliveryAddress     catalog.Address     `json:"deliveryAddress"`
	Pricing             pricingResponse     `json:"pricing"`
	Payment             order.Payment       `json:"payment"`
	CouponCode          string              `json:"couponCode,omitempty"`
	SpecialInstructions string              `json:"specialInstructions,omitempty"`
	StatusHistory       []order.StatusEntry `json:"statusHistory"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
}

type pageResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
	Page  int `json:"page"`
	Limit int `json:"limit"`
}

type profileResponse struct {
	CourierID      string        `json:"courierId"`
	VehicleType    string        `json:"vehicleType"`
	VehicleNumber  string        `json:"vehicleNumber"`
	IsOnline       bool          `json:"isOnline"`
	IsAvailable    bool          `json:"isAvailable"`
	Location       catalog.Point `json:"location"`
	CurrentOrderID string        `json:"currentOrderId,omitempty"`
	Stats          statsResponse `json:"stats"`
}

type statsResponse struct {
	TotalDeliveries int     `json:"totalDeliveries"`
	TotalEarnings   float64 `json:"totalEarnings"`
	RatingAverage   float64 `json:"ratingAverage"`
	RatingCount     int     `json:"ratingCount"`
}

type summaryResponse struct {
	Period     earnings.Period `json:"period"`
	Since      *time.Time      `json:"since,omitempty"`
	Deliveries int             `json:"deliveries"`
	Earnings   float64         `json:"earnings"`
}

type overviewResponse struct {
	Periods  []summaryResponse `json:"periods"`
	Lifetime statsResponse     `json:"lifetime"`
}

type earningResponse struct {
	ID            string    `json:"id"`
	OrderID       string    `json:"orderId"`
	BaseFee       float64   `json:"baseFee"`
	DistanceBonus float64   `json:"distanceBonus"`
	TipAmount     float64   `json:"tipAmount"`
	TotalEarning  float64   `json:"totalEarning"`
	CreatedAt     time.Time `json:"createdAt"`
}

type couponResponse struct {
	Code           string    `json:"code"`
	Description    string    `json:"description,omitempty"`
	DiscountType   string    `json:"discountType"`
	DiscountValue  float64   `json:"discountValue"`
	MinOrderAmount float64   `json:"minOrderAmount"`
	MaxDiscount    float64   `json:"maxDiscount,omitempty"`
	ValidUntil     time.Time `json:"validUntil"`
	RestaurantID   string    `json:"restaurantId,omitempty"`
	Discount       *float64  `json:"discount,omitempty"`
}

func money(d decimal.Decimal) float64 { return d.InexactFloat64() }

func toCartLines(in []cartLineRequest) []pricing.CartLine {
	out := make([]pricing.CartLine, len(in))
	for i, l := range in {
		out[i] = pricing.CartLine{
			ItemID:   l.ItemID,
			Quantity: l.Quantity,
			Variant:  l.Variant,
			Addons:   l.Addons,
		}
	}
	return out
}

func toOrder(o *order.Order) orderResponse {
	lines := make([]lineResponse, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = lineResponse{
			ItemID:     l.ItemID,
			Name:       l.Name,
			UnitPrice:  money(l.UnitPrice),
			Quantity:   l.Quantity,
			Variant:    l.Variant,
			Addons:     l.Addons,
			AddonTotal: money(l.AddonTotal),
			Total:      money(l.Total),
		}
	}
	return orderResponse{
		ID:              o.ID,
		OrderNumber:     o.Number,
		CustomerID:      o.CustomerID,
		RestaurantID:    o.RestaurantID,
		CourierID:       o.CourierID,
		Status:          o.Status,
		Items:           lines,
		DeliveryAddress: o.DeliveryAddress,
		Pricing: pricingResponse{
			Subtotal:    money(o.Pricing.Subtotal),
			DeliveryFee: money(o.Pricing.DeliveryFee),
			Tax:         money(o.Pricing.Tax),
			Discount:    money(o.Pricing.Discount),
			Total:       money(o.Pricing.Total),
		},
		Payment:             o.Payment,
		CouponCode:          o.CouponCode,
		SpecialInstructions: o.SpecialInstructions,
		StatusHistory:       o.History,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func toOrders(in []order.Order) []orderResponse {
	out := make([]orderResponse, len(in))
	for i := range in {
		out[i] = toOrder(&in[i])
	}
	return out
}

func toStats(s courier.Stats) statsResponse {
	return statsResponse{
		TotalDeliveries: s.Deliveries,
		TotalEarnings:   money(s.Earnings),
		RatingAverage:   s.RatingAverage,
		RatingCount:     s.RatingCount,
	}
}

func toProfile(p *courier.Profile) profileResponse {
	return profileResponse{
		CourierID:      p.CourierID,
		VehicleType:    string(p.VehicleType),
		VehicleNumber:  p.VehicleNumber,
		IsOnline:       p.IsOnline,
		IsAvailable:    p.IsAvailable,
		Location:       p.Location,
		CurrentOrderID: p.CurrentOrderID,
		Stats:          toStats(p.Stats),
	}
}

func toSummary(s earnings.Summary) summaryResponse {
	resp := summaryResponse{
		Period:     s.Period,
		Deliveries: s.Deliveries,
		Earnings:   money(s.Earnings),
	}
	if !s.Since.IsZero() {
		since := s.Since
		resp.Since = &since
	}
	return resp
}

func toEarning(r earnings.Record) earningResponse {
	return earningResponse{
		ID:            r.ID,
		OrderID:       r.OrderID,
		BaseFee:       money(r.BaseFee),
		DistanceBonus: money(r.DistanceBonus),
		TipAmount:     money(r.TipAmount),
		TotalEarning:  money(r.TotalEarning),
		CreatedAt:     r.CreatedAt,
	}
}

func toCoupon(c *coupon.Coupon) couponResponse {
	resp := couponResponse{
		Code:           c.Code,
		Description:    c.Description,
		DiscountType:   string(c.DiscountType),
		DiscountValue:  money(c.DiscountValue),
		MinOrderAmount: money(c.MinOrderAmount),
		ValidUntil:     c.ValidUntil,
		RestaurantID:   c.RestaurantID,
	}
	if c.MaxDiscount.IsPositive() {
		resp.MaxDiscount = money(c.MaxDiscount)
	}
	return resp
}
