package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/fulfillment/internal/domain/catalog"
	"github.com/xenking/fulfillment/internal/domain/courier"
	"github.com/xenking/fulfillment/internal/domain/earnings"
)

func (h *Handler) registerCourier(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.couriers.Register(r.Context(), actorOf(r).UserID, courier.VehicleType(req.VehicleType), req.VehicleNumber)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toProfile(p))
}

func (h *Handler) toggleOnline(w http.ResponseWriter, r *http.Request) {
	p, err := h.couriers.ToggleOnline(r.Context(), actorOf(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (h *Handler) updateLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p, err := h.couriers.UpdateLocation(r.Context(), actorOf(r).UserID, catalog.Point{Lat: req.Lat, Lng: req.Lng})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (h *Handler) courierProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.couriers.Profile(r.Context(), actorOf(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toProfile(p))
}

func (h *Handler) availableOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.couriers.ListAvailable(r.Context(), actorOf(r).UserID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrders(orders))
}

func (h *Handler) claimOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.couriers.Claim(r.Context(), actorOf(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

func (h *Handler) completeDelivery(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.CompleteDelivery(r.Context(), actorOf(r).UserID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

// courierEarnings returns one window when ?period= is set, otherwise every
// window plus the lifetime counters of the profile.
func (h *Handler) courierEarnings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	courierID := actorOf(r).UserID

	if raw := r.URL.Query().Get("period"); raw != "" {
		period, err := earnings.ParsePeriod(raw)
		if err != nil {
			writeError(w, r, err)
			return
		}
		s, err := h.earnings.Summary(ctx, courierID, period)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toSummary(s))
		return
	}

	p, err := h.couriers.Profile(ctx, courierID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	summaries, err := h.earnings.Overview(ctx, courierID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := overviewResponse{
		Periods:  make([]summaryResponse, len(summaries)),
		Lifetime: toStats(p.Stats),
	}
	for i, s := range summaries {
		resp.Periods[i] = toSummary(s)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) earningsHistory(w http.ResponseWriter, r *http.Request) {
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	records, total, err := h.earnings.History(r.Context(), actorOf(r).UserID, page.Number, page.Size)
	if err != nil {
		writeError(w, r, err)
		return
	}
	items := make([]earningResponse, len(records))
	for i, rec := range records {
		items[i] = toEarning(rec)
	}
	writeJSON(w, http.StatusOK, pageResponse[earningResponse]{
		Items: items,
		Total: total,
		Page:  page.Number,
		Limit: page.Size,
	})
}
