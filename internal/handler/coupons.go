package handler

import (
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/coupon"
)

func (h *Handler) availableCoupons(w http.ResponseWriter, r *http.Request) {
	coupons, err := h.coupons.Available(r.Context(), r.URL.Query().Get("restaurantId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	out := make([]couponResponse, len(coupons))
	for i := range coupons {
		out[i] = toCoupon(&coupons[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// validateCoupon previews the discount code would grant without consuming it.
func (h *Handler) validateCoupon(w http.ResponseWriter, r *http.Request) {
	var req validateCouponRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	c, discount, err := h.coupons.Preview(r.Context(), coupon.ClaimRequest{
		Code:         req.Code,
		CustomerID:   actorOf(r).UserID,
		RestaurantID: req.RestaurantID,
		OrderAmount:  decimal.NewFromFloat(req.OrderAmount),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := toCoupon(c)
	d := money(discount)
	resp.Discount = &d
	writeJSON(w, http.StatusOK, resp)
}
