package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/checkout"
)

func (h *handler) buyerRoutes(r chi.Router) {
	r.Get("/cart", h.getCart)
	r.Put("/cart", h.replaceCart)

	r.Post("/checkout/preview", h.previewCheckout)
	r.Post("/checkout/cancel", h.cancelCheckout)
	r.Post("/checkout/submit", h.idem.wrap("submit", true, h.submitCheckout))

	r.Get("/orders", h.listOrders)
	r.Route("/orders/{orderID}", func(o chi.Router) {
		o.Get("/", h.getOrder)
		o.Get("/reconcile", h.reconcile)
		o.Patch("/items/{productID}", h.updateLine)
		o.Delete("/items/{productID}", h.removeLine)
		o.Put("/delivery", h.updateDelivery)
		o.Post("/confirm", h.confirmOrder)
		o.Post("/messages", h.postBuyerMessage)
		o.Post("/messages/read", h.markReadByBuyer)
		o.Delete("/messages/{messageID}", h.removeMessage)
		o.Post("/pay/cash", h.idem.wrap("pay_cash", false, h.payCash))
		o.Post("/pay/paypal/capture", h.idem.wrap("pay_paypal", false, h.capturePayPal))
	})
}

type cartPayload struct {
	Items []domain.CartItem `json:"items"`
}

func (h *handler) getCart(w http.ResponseWriter, r *http.Request) {
	items, err := h.Checkout.Cart(r.Context(), buyerFrom(r.Context()))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	writeJSON(w, http.StatusOK, cartPayload{Items: items})
}

func (h *handler) replaceCart(w http.ResponseWriter, r *http.Request) {
	var req cartPayload
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.Checkout.ReplaceCart(r.Context(), buyerFrom(r.Context()), req.Items); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Items == nil {
		req.Items = []domain.CartItem{}
	}
	writeJSON(w, http.StatusOK, req)
}

type previewRequest struct {
	ProductIDs []string `json:"productIds"`
}

func (h *handler) previewCheckout(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	draft, err := h.Checkout.PrepareReview(r.Context(), buyerFrom(r.Context()), req.ProductIDs)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newDraftResponse(draft))
}

type cancelRequest struct {
	// OrderID заполнен, если черновик уже отправлен: тогда отмена недоступна.
	OrderID string `json:"orderId"`
}

func (h *handler) cancelCheckout(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeJSON(w, r, &req); err != nil && !errors.Is(err, errEmptyBody) {
		h.badRequest(w, r, err)
		return
	}
	buyer := buyerFrom(r.Context())
	orderID := strings.TrimSpace(req.OrderID)
	draft := checkout.Draft{UserID: buyer.UserID, OrderID: orderID, Submitted: orderID != ""}
	items, err := h.Checkout.CancelReview(r.Context(), buyer, draft)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if items == nil {
		items = []domain.CartItem{}
	}
	writeJSON(w, http.StatusOK, cartPayload{Items: items})
}

type messagePayload struct {
	Text     string `json:"text"`
	ImageURL string `json:"imageUrl"`
}

type submitRequest struct {
	ProductIDs []string        `json:"productIds"`
	Delivery   deliveryPayload `json:"delivery"`
	Message    *messagePayload `json:"message,omitempty"`
}

type submitResponse struct {
	Order           orderResponse `json:"order"`
	MessageStripped bool          `json:"messageStripped"`
}

func (h *handler) submitCheckout(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	cmd := checkout.SubmitRequest{ProductIDs: req.ProductIDs, Delivery: req.Delivery.toDomain()}
	if req.Message != nil {
		cmd.MessageText = req.Message.Text
		cmd.MessageImage = req.Message.ImageURL
	}
	res, err := h.Checkout.SubmitReview(r.Context(), buyerFrom(r.Context()), cmd)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, submitResponse{Order: newOrderResponse(res.Order), MessageStripped: res.MessageStripped})
}

func (h *handler) listOrders(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	orders, err := h.Checkout.Orders(r.Context(), buyerFrom(r.Context()), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderList(orders))
}

func (h *handler) getOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Checkout.Order(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, order, err)
}

func (h *handler) respondOrder(w http.ResponseWriter, r *http.Request, order domain.Order, err error) {
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newOrderResponse(order))
}

func (h *handler) reconcile(w http.ResponseWriter, r *http.Request) {
	view, err := h.Checkout.Reconcile(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	blockers := view.Blockers
	if blockers == nil {
		blockers = []string{}
	}
	writeJSON(w, http.StatusOK, reconcileResponse{
		Order:      newOrderResponse(view.Order),
		Report:     newReportResponse(view.Report),
		CanConfirm: view.CanConfirm,
		Blockers:   blockers,
	})
}

type updateLineRequest struct {
	Quantity *int  `json:"quantity"`
	Selected *bool `json:"selected"`
}

func (h *handler) updateLine(w http.ResponseWriter, r *http.Request) {
	var req updateLineRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if req.Quantity == nil && req.Selected == nil {
		h.badRequest(w, r, errors.New("quantity or selected is required"))
		return
	}

	ctx := r.Context()
	buyer := buyerFrom(ctx)
	orderID, productID := chi.URLParam(r, "orderID"), chi.URLParam(r, "productID")

	var (
		order domain.Order
		err   error
	)
	if req.Selected != nil {
		if order, err = h.Checkout.SetLineSelected(ctx, buyer, orderID, productID, *req.Selected); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	if req.Quantity != nil {
		order, err = h.Checkout.UpdateLineQuantity(ctx, buyer, orderID, productID, *req.Quantity)
	}
	h.respondOrder(w, r, order, err)
}

func (h *handler) removeLine(w http.ResponseWriter, r *http.Request) {
	confirm, _ := strconv.ParseBool(r.URL.Query().Get("confirm"))
	res, err := h.Checkout.RemoveLine(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"), chi.URLParam(r, "productID"), confirm)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if res.Deleted {
		writeJSON(w, http.StatusOK, map[string]any{"deleted": true})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": false, "order": newOrderResponse(res.Order)})
}

func (h *handler) updateDelivery(w http.ResponseWriter, r *http.Request) {
	var req deliveryPayload
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	order, err := h.Checkout.UpdateDelivery(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"), req.toDomain())
	h.respondOrder(w, r, order, err)
}

func (h *handler) confirmOrder(w http.ResponseWriter, r *http.Request) {
	order, err := h.Checkout.SendOrderConfirmation(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"))
	h.respondOrder(w, r, order, err)
}

type messageResponseEnvelope struct {
	Order    orderResponse   `json:"order"`
	Message  messageResponse `json:"message"`
	Stripped bool            `json:"stripped"`
}

func (h *handler) postBuyerMessage(w http.ResponseWriter, r *http.Request) {
	var req messagePayload
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	res, err := h.Thread.PostBuyerMessage(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"), req.Text, req.ImageURL)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, newMessageEnvelope(res.Order, res.Message, res.Stripped))
}

func newMessageEnvelope(order domain.Order, msg domain.Message, stripped bool) messageResponseEnvelope {
	return messageResponseEnvelope{
		Order:    newOrderResponse(order),
		Message:  newMessageResponse(msg),
		Stripped: stripped,
	}
}

func (h *handler) markReadByBuyer(w http.ResponseWriter, r *http.Request) {
	order, n, err := h.Thread.MarkReadByBuyer(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"marked": n, "order": newOrderResponse(order)})
}

func (h *handler) removeMessage(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "messageID"), 10, 64)
	if err != nil || id <= 0 {
		h.badRequest(w, r, errors.New("messageID must be a positive integer"))
		return
	}
	order, err := h.Thread.RemoveMessage(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"), id)
	h.respondOrder(w, r, order, err)
}

func (h *handler) payCash(w http.ResponseWriter, r *http.Request) {
	outcome, err := h.Checkout.Pay(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"), checkout.PayRequest{Method: domain.PaymentMethodCash})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newPaymentResponse(outcome))
}

type captureRequest struct {
	ProviderOrderID string `json:"providerOrderId"`
}

func (h *handler) capturePayPal(w http.ResponseWriter, r *http.Request) {
	var req captureRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	outcome, err := h.Checkout.Pay(r.Context(), buyerFrom(r.Context()), chi.URLParam(r, "orderID"), checkout.PayRequest{
		Method:          domain.PaymentMethodPayPal,
		ProviderOrderID: req.ProviderOrderID,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	status := http.StatusOK
	if outcome.Status == domain.CapturePending {
		status = http.StatusAccepted
	}
	writeJSON(w, status, newPaymentResponse(outcome))
}
