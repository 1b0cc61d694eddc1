package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/fulfillment/internal/domain/apperr"
	"github.com/xenking/fulfillment/internal/domain/auth"
	"github.com/xenking/fulfillment/internal/domain/order"
)

// HeaderIdempotencyKey carries the client-chosen placement key.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

func actorOf(r *http.Request) auth.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}

func parsePage(r *http.Request) (order.Page, error) {
	p := order.Page{Number: 1, Size: defaultPageSize}
	q := r.URL.Query()
	if v := q.Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			return p, apperr.Validation("request.invalid_page", "page", "page must be a positive integer")
		}
		p.Number = n
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxPageSize {
			return p, apperr.Validation("request.invalid_limit", "limit", "limit must be between 1 and "+strconv.Itoa(maxPageSize))
		}
		p.Size = n
	}
	return p, nil
}

func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	o, err := h.orders.PlaceOrder(r.Context(), order.PlaceRequest{
		CustomerID:          actorOf(r).UserID,
		RestaurantID:        req.RestaurantID,
		AddressID:           req.AddressID,
		Lines:               toCartLines(req.Items),
		PaymentMethod:       order.PaymentMethod(req.PaymentMethod),
		CouponCode:          req.CouponCode,
		IdempotencyKey:      r.Header.Get(HeaderIdempotencyKey),
		SpecialInstructions: req.SpecialInstructions,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toOrder(o))
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.GetOrder(r.Context(), chi.URLParam(r, "id"), actorOf(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handler) listMyOrders(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	orders, total, err := h.orders.ListForCustomer(r.Context(), actorOf(r).UserID, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[orderResponse]{
		Items: toOrders(orders),
		Total: total,
		Page:  page.Number,
		Limit: page.Size,
	})
}

func (h *Handler) listRestaurantOrders(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := order.Status(r.URL.Query().Get("status"))
	orders, total, err := h.orders.ListForRestaurant(r.Context(), actorOf(r), chi.URLParam(r, "id"), status, page)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pageResponse[orderResponse]{
		Items: toOrders(orders),
		Total: total,
		Page:  page.Number,
		Limit: page.Size,
	})
}

func (h *Handler) transitionStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.orders.TransitionStatus(r.Context(), chi.URLParam(r, "id"), order.Status(req.Status), actorOf(r), req.Note)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CancelOrder(r.Context(), chi.URLParam(r, "id"), actorOf(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}
