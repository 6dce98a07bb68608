package httpapi

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/vladislavdragonenkov/crewshop/internal/domain"
	"github.com/vladislavdragonenkov/crewshop/internal/service/checkout"
)

func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}

type lineResponse struct {
	ProductID     string `json:"productId"`
	Name          string `json:"name,omitempty"`
	ImageURL      string `json:"imageUrl,omitempty"`
	Quantity      int    `json:"quantity"`
	UnitPrice     string `json:"unitPrice"`
	Discount      string `json:"discount"`
	AdminStatus   string `json:"adminStatus"`
	AdminQuantity int    `json:"adminQuantity"`
	Selected      bool   `json:"selected"`
}

type messageResponse struct {
	ID        int64     `json:"id"`
	Sender    string    `json:"sender"`
	Text      string    `json:"text,omitempty"`
	ImageURL  string    `json:"imageUrl,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Read      bool      `json:"read"`
}

type statusChangeResponse struct {
	Timestamp time.Time `json:"timestamp"`
	OldStatus *string   `json:"oldStatus"`
	NewStatus string    `json:"newStatus"`
	ChangedBy string    `json:"changedBy"`
}

type deliveryPayload struct {
	Option               string `json:"option"`
	PortName             string `json:"portName,omitempty"`
	ExpectedShippingDate string `json:"expectedShippingDate,omitempty"`
	Address              string `json:"address,omitempty"`
	PostalCode           string `json:"postalCode,omitempty"`
}

func (d deliveryPayload) toDomain() domain.DeliveryDetails {
	return domain.DeliveryDetails{
		Option:               domain.DeliveryOption(d.Option),
		PortName:             d.PortName,
		ExpectedShippingDate: d.ExpectedShippingDate,
		Address:              d.Address,
		PostalCode:           d.PostalCode,
	}
}

func newDeliveryPayload(d domain.DeliveryDetails) deliveryPayload {
	return deliveryPayload{
		Option:               string(d.Option),
		PortName:             d.PortName,
		ExpectedShippingDate: d.ExpectedShippingDate,
		Address:              d.Address,
		PostalCode:           d.PostalCode,
	}
}

type orderResponse struct {
	ID                 string                 `json:"id"`
	UserID             string                 `json:"userId"`
	UserEmail          string                 `json:"userEmail,omitempty"`
	CustomerName       string                 `json:"customerName,omitempty"`
	Status             string                 `json:"status"`
	StatusLabel        string                 `json:"statusLabel"`
	Items              []lineResponse         `json:"items"`
	Delivery           deliveryPayload        `json:"delivery"`
	Messages           []messageResponse      `json:"messages"`
	StatusHistory      []statusChangeResponse `json:"statusHistory"`
	Subtotal           string                 `json:"subtotal"`
	ShippingFee        string                 `json:"shippingFee"`
	Tax                string                 `json:"tax"`
	TotalAmount        string                 `json:"totalAmount"`
	PaymentMethod      string                 `json:"paymentMethod,omitempty"`
	PayPalOrderID      string                 `json:"paypalOrderId,omitempty"`
	PayPalCaptureID    string                 `json:"paypalCaptureId,omitempty"`
	ActualDeliveryDate *time.Time             `json:"actualDeliveryDate,omitempty"`
	Version            int64                  `json:"version"`
	CreatedAt          time.Time              `json:"createdAt"`
	UpdatedAt          time.Time              `json:"updatedAt"`
}

func newOrderResponse(o domain.Order) orderResponse {
	resp := orderResponse{
		ID:                 o.ID,
		UserID:             o.UserID,
		UserEmail:          o.UserEmail,
		CustomerName:       o.CustomerName,
		Status:             o.Status.String(),
		StatusLabel:        o.Status.Label(),
		Items:              make([]lineResponse, 0, len(o.Items)),
		Delivery:           newDeliveryPayload(o.Delivery),
		Messages:           make([]messageResponse, 0, len(o.Messages)),
		StatusHistory:      make([]statusChangeResponse, 0, len(o.StatusHistory)),
		Subtotal:           money(o.Subtotal),
		ShippingFee:        money(o.ShippingFee),
		Tax:                money(o.Tax),
		TotalAmount:        money(o.TotalAmount),
		PaymentMethod:      string(o.PaymentMethod),
		PayPalOrderID:      o.PayPalOrderID,
		PayPalCaptureID:    o.PayPalCaptureID,
		ActualDeliveryDate: o.ActualDeliveryDate,
		Version:            o.Version,
		CreatedAt:          o.CreatedAt,
		UpdatedAt:          o.UpdatedAt,
	}
	for _, line := range o.Items {
		resp.Items = append(resp.Items, newLineResponse(line))
	}
	for _, msg := range o.Messages {
		resp.Messages = append(resp.Messages, newMessageResponse(msg))
	}
	for _, change := range o.StatusHistory {
		entry := statusChangeResponse{
			Timestamp: change.Timestamp,
			NewStatus: change.NewStatus.String(),
			ChangedBy: change.ChangedBy,
		}
		if change.OldStatus != domain.OrderStatusUnknown {
			old := change.OldStatus.String()
			entry.OldStatus = &old
		}
		resp.StatusHistory = append(resp.StatusHistory, entry)
	}
	return resp
}

func newMessageResponse(msg domain.Message) messageResponse {
	return messageResponse{
		ID:        msg.ID,
		Sender:    string(msg.Sender),
		Text:      msg.Text,
		ImageURL:  msg.ImageURL,
		Timestamp: msg.Timestamp,
		Read:      msg.Read,
	}
}

func newLineResponse(line domain.OrderLine) lineResponse {
	return lineResponse{
		ProductID:     line.ProductID,
		Name:          line.Name,
		ImageURL:      line.ImageURL,
		Quantity:      line.Quantity,
		UnitPrice:     money(line.UnitPrice),
		Discount:      money(line.Discount),
		AdminStatus:   string(line.AdminStatus),
		AdminQuantity: line.AdminQuantity,
		Selected:      line.Selected,
	}
}

func newOrderList(orders []domain.Order) map[string]any {
	items := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		items = append(items, newOrderResponse(o))
	}
	return map[string]any{"orders": items}
}

type totalsResponse struct {
	Subtotal    string `json:"subtotal"`
	ShippingFee string `json:"shippingFee"`
	Tax         string `json:"tax"`
	Total       string `json:"total"`
}

func newTotalsResponse(t domain.Totals) totalsResponse {
	return totalsResponse{
		Subtotal:    money(t.Subtotal),
		ShippingFee: money(t.ShippingFee),
		Tax:         money(t.Tax),
		Total:       money(t.Total),
	}
}

type draftResponse struct {
	Lines  []lineResponse `json:"lines"`
	Totals totalsResponse `json:"totals"`
}

func newDraftResponse(d checkout.Draft) draftResponse {
	resp := draftResponse{Lines: make([]lineResponse, 0, len(d.Lines)), Totals: newTotalsResponse(d.Totals)}
	for _, line := range d.Lines {
		resp.Lines = append(resp.Lines, newLineResponse(line))
	}
	return resp
}

type issueResponse struct {
	ProductID string `json:"productId"`
	Reason    string `json:"reason"`
	Snapshot  string `json:"snapshot,omitempty"`
	Current   string `json:"current,omitempty"`
	Requested int    `json:"requested,omitempty"`
	Approved  int    `json:"approved,omitempty"`
}

type reportResponse struct {
	Consistent    bool            `json:"consistent"`
	Issues        []issueResponse `json:"issues"`
	PendingReview []string        `json:"pendingReview,omitempty"`
	Checked       int             `json:"checked"`
}

func newReportResponse(r domain.ConsistencyReport) reportResponse {
	resp := reportResponse{
		Consistent:    r.Consistent,
		Issues:        make([]issueResponse, 0, len(r.Issues)),
		PendingReview: r.PendingReview,
		Checked:       r.Checked,
	}
	for _, issue := range r.Issues {
		item := issueResponse{
			ProductID: issue.ProductID,
			Reason:    string(issue.Reason),
			Requested: issue.Requested,
			Approved:  issue.Approved,
		}
		if issue.Reason == domain.IssuePriceChanged || issue.Reason == domain.IssueDiscountChanged {
			item.Snapshot = money(issue.Snapshot)
			item.Current = money(issue.Current)
		}
		resp.Issues = append(resp.Issues, item)
	}
	return resp
}

type reconcileResponse struct {
	Order      orderResponse  `json:"order"`
	Report     reportResponse `json:"report"`
	CanConfirm bool           `json:"canConfirm"`
	Blockers   []string       `json:"blockers"`
}

type paymentResponse struct {
	Order   orderResponse `json:"order"`
	Status  string        `json:"status"`
	Paid    bool          `json:"paid"`
	Options []string      `json:"options,omitempty"`
}

func newPaymentResponse(p checkout.PaymentOutcome) paymentResponse {
	resp := paymentResponse{Order: newOrderResponse(p.Order), Status: string(p.Status), Paid: p.Paid()}
	for _, opt := range p.Options {
		resp.Options = append(resp.Options, string(opt))
	}
	return resp
}
