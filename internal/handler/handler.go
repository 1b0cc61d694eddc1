// Package handler exposes the fulfillment engine as JSON over HTTP.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/fulfillment/internal/domain/auth"
	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/domain/courier"
	"github.com/xenking/fulfillment/internal/domain/earnings"
	"github.com/xenking/fulfillment/internal/domain/order"
)

// Handler serves the /api/v1 surface.
type Handler struct {
	orders   *order.Service
	couriers *courier.Service
	earnings *earnings.Aggregator
	coupons  *coupon.Ledger
}

// NewHandler constructs a Handler with the required domain services.
func NewHandler(
	orders *order.Service,
	couriers *courier.Service,
	agg *earnings.Aggregator,
	coupons *coupon.Ledger,
) *Handler {
	return &Handler{
		orders:   orders,
		couriers: couriers,
		earnings: agg,
		coupons:  coupons,
	}
}

// Routes returns the API router. Every route requires a valid API key and a
// forwarded caller identity.
func (h *Handler) Routes(keys *APIKeyAuth) http.Handler {
	r := chi.NewRouter()
	r.Use(keys.Middleware, Identity)

	r.Route("/orders", func(r chi.Router) {
		r.With(RequireRole(auth.RoleCustomer)).Post("/", h.placeOrder)
		r.With(RequireRole(auth.RoleCustomer)).Get("/", h.listMyOrders)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/status", h.transitionStatus)
		r.With(RequireRole(auth.RoleCustomer)).Post("/{id}/cancel", h.cancelOrder)
	})

	r.With(RequireRole(auth.RoleRestaurantOwner, auth.RoleOperator)).
		Get("/restaurants/{id}/orders", h.listRestaurantOrders)

	r.Route("/courier", func(r chi.Router) {
		r.Use(RequireRole(auth.RoleCourier))
		r.Post("/register", h.registerCourier)
		r.Post("/online", h.toggleOnline)
		r.Put("/location", h.updateLocation)
		r.Get("/me", h.courierProfile)
		r.Get("/orders/available", h.availableOrders)
		r.Post("/orders/{id}/claim", h.claimOrder)
		r.Post("/orders/{id}/complete", h.completeDelivery)
		r.Get("/earnings", h.courierEarnings)
		r.Get("/earnings/history", h.earningsHistory)
	})

	r.Route("/coupons", func(r chi.Router) {
		r.Get("/", h.availableCoupons)
		r.Post("/validate", h.validateCoupon)
	})

	return r
}
