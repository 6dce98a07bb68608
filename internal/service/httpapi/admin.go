package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/backoffice"
)

func (h *handler) adminRoutes(r chi.Router) {
	r.Get("/orders", h.adminListOrders)
	r.Route("/orders/{orderID}", func(o chi.Router) {
		o.Get("/", h.adminGetOrder)
		o.Put("/lines", h.annotateLines)
		o.Post("/payment-confirmation", h.confirmPayment)
		o.Post("/delivered", h.markDelivered)
		o.Post("/recompute-totals", h.recomputeTotals)
		o.Post("/messages", h.postStaffMessage)
		o.Post("/messages/read", h.markReadByStaff)
	})
}

func (h *handler) adminListOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	orders, err := h.Backoffice.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderList(orders))
}

func (h *handler) adminGetOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Backoffice.Get(r.Context(), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, order, err)
}

type annotationPayload struct {
	ProductID string `json:"productId"`
	Status    string `json:"status"`
	Quantity  *int   `json:"quantity,omitempty"`
}

type annotateRequest struct {
	Lines []annotationPayload `json:"lines"`
}

func (h *handler) annotateLines(w http.ResponseWriter, r *http.Request) {
	var req annotateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	annotations := make([]backoffice.LineAnnotation, 0, len(req.Lines))
	for _, line := range req.Lines {
		annotations = append(annotations, backoffice.LineAnnotation{
			ProductID: strings.TrimSpace(line.ProductID),
			Status:    domain.AdminStatus(strings.TrimSpace(line.Status)),
			Quantity:  line.Quantity,
		})
	}
	ctx := r.Context()
	order, err := h.Backoffice.AnnotateLines(ctx, adminFrom(ctx), chi.URLParam(r, "orderID"), annotations)
	h.respondOrder(w, r, order, err)
}

func (h *handler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.Backoffice.ConfirmPayment(ctx, adminFrom(ctx), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, order, err)
}

type deliveredRequest struct {
	DeliveredAt *time.Time `json:"deliveredAt"`
}

func (h *handler) markDelivered(w http.ResponseWriter, r *http.Request) {
	var req deliveredRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.badRequest(w, r, err)
		return
	}
	var at time.Time
	if req.DeliveredAt != nil {
		at = *req.DeliveredAt
	}
	ctx := r.Context()
	order, err := h.Backoffice.MarkDelivered(ctx, adminFrom(ctx), chi.URLParam(r, "orderID"), at)
	h.respondOrder(w, r, order, err)
}

func (h *handler) recomputeTotals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	order, err := h.Backoffice.RecomputeTotals(ctx, adminFrom(ctx), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, order, err)
}

func (h *handler) postStaffMessage(w http.ResponseWriter, r *http.Request) {
	var req messagePayload
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	ctx := r.Context()
	res, err := h.Thread.PostStaffMessage(ctx, adminFrom(ctx), chi.URLParam(r, "orderID"), req.Text, req.ImageURL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageEnvelope(res.Order, res.Message, res.Stripped))
}

func (h *handler) markReadByStaff(w http.ResponseWriter, r *http.Request) {
	order, n, err := h.Thread.MarkReadByStaff(r.Context(), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": n, "order": newOrderResponse(order)})
}
