package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	financeapp "erp-core/internal/finance/application"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/httpx"
)

// routeInvoices serves:
//
//	GET    /invoices
//	POST   /invoices
//	GET    /invoices/:id
//	PUT    /invoices/:id
//	DELETE /invoices/:id
//	GET    /invoices/:id/payments
//	POST   /invoices/:id/payments
//	PATCH  /invoices/:id/mark-paid
//	PATCH  /invoices/:id/mark-cancelled
//	PATCH  /invoices/:id/send
func (h *Handler) routeInvoices(w http.ResponseWriter, r *http.Request, parts []string) {
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.handleListInvoices(w, r)
		case http.MethodPost:
			h.handleCreateInvoice(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	case 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGetInvoice(w, r, parts[0])
		case http.MethodPut:
			h.handleUpdateInvoice(w, r, parts[0])
		case http.MethodDelete:
			h.handleDeleteInvoice(w, r, parts[0])
		default:
			httpx.MethodNotAllowed(w)
		}
	case 2:
		id := parts[0]
		switch parts[1] {
		case "payments":
			switch r.Method {
			case http.MethodGet:
				h.handleListPayments(w, r, id)
			case http.MethodPost:
				h.handleAddPayment(w, r, id)
			default:
				httpx.MethodNotAllowed(w)
			}
		case "mark-paid":
			if only(w, r, http.MethodPatch) {
				h.handleMarkPaid(w, r, id)
			}
		case "mark-cancelled":
			if only(w, r, http.MethodPatch) {
				h.handleCancel(w, r, id)
			}
		case "send":
			if only(w, r, http.MethodPatch) {
				h.handleSend(w, r, id)
			}
		default:
			httpx.NotFound(w)
		}
	default:
		httpx.NotFound(w)
	}
}

func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := finance.InvoiceFilter{CustomerID: q.Get("customerId"), Limit: page.Limit, Offset: page.Offset()}
	if value := q.Get("status"); value != "" {
		if filter.Status, err = finance.ParseInvoiceStatus(value); err != nil {
			h.fail(w, r, apperr.BadRequest("invalid_status", "unknown status %q", value))
			return
		}
	}
	if filter.From, err = httpx.ParseTimeParam(r, "startDate", false); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = httpx.ParseTimeParam(r, "endDate", true); err != nil {
		h.fail(w, r, err)
		return
	}
	list, total, err := h.svc.Invoices.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	now := h.svc.Invoices.Now()
	items := make([]invoiceResponse, 0, len(list))
	for i := range list {
		resp := toInvoiceResponse(&list[i], now)
		resp.Items, resp.Payments = nil, nil
		items = append(items, resp)
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(items, total, page))
}

type invoiceItemRequest struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Discount    decimal.Decimal `json:"discount"`
}

func toItemInputs(items []invoiceItemRequest) []financeapp.InvoiceItemInput {
	if items == nil {
		return nil
	}
	out := make([]financeapp.InvoiceItemInput, 0, len(items))
	for _, it := range items {
		out = append(out, financeapp.InvoiceItemInput(it))
	}
	return out
}

type createInvoiceRequest struct {
	InvoiceNumber string               `json:"invoice_number"`
	CustomerID    string               `json:"customer_id"`
	IssueDate     httpx.Date           `json:"issue_date"`
	DueDate       httpx.Date           `json:"due_date"`
	Currency      string               `json:"currency"`
	Notes         string               `json:"notes"`
	Status        string               `json:"status"`
	Items         []invoiceItemRequest `json:"items"`
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	invoice, err := h.svc.Invoices.Create(r.Context(), financeapp.CreateInvoiceRequest{
		Number:     req.InvoiceNumber,
		CustomerID: req.CustomerID,
		IssueDate:  req.IssueDate.Time,
		DueDate:    req.DueDate.Time,
		Currency:   req.Currency,
		Notes:      req.Notes,
		Status:     req.Status,
		Items:      toItemInputs(req.Items),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "invoice.create", "invoice", invoice.ID, map[string]any{
		"invoice_number": invoice.Number,
		"total_amount":   invoice.TotalAmount.StringFixed(2),
	})
	httpx.WriteJSON(w, http.StatusCreated, toInvoiceResponse(invoice, h.svc.Invoices.Now()))
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request, id string) {
	invoice, err := h.svc.Invoices.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toInvoiceResponse(invoice, h.svc.Invoices.Now()))
}

type updateInvoiceRequest struct {
	CustomerID *string              `json:"customer_id"`
	IssueDate  *httpx.Date          `json:"issue_date"`
	DueDate    *httpx.Date          `json:"due_date"`
	Notes      *string              `json:"notes"`
	Items      []invoiceItemRequest `json:"items"`
}

func (h *Handler) handleUpdateInvoice(w http.ResponseWriter, r *http.Request, id string) {
	var req updateInvoiceRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	invoice, err := h.svc.Invoices.Update(r.Context(), id, financeapp.UpdateInvoiceRequest{
		CustomerID: req.CustomerID,
		IssueDate:  req.IssueDate.Ptr(),
		DueDate:    req.DueDate.Ptr(),
		Notes:      req.Notes,
		Items:      toItemInputs(req.Items),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "invoice.update", "invoice", id, map[string]any{"total_amount": invoice.TotalAmount.StringFixed(2)})
	httpx.WriteJSON(w, http.StatusOK, toInvoiceResponse(invoice, h.svc.Invoices.Now()))
}

func (h *Handler) handleDeleteInvoice(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Invoices.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "invoice.delete", "invoice", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSend(w http.ResponseWriter, r *http.Request, id string) {
	invoice, err := h.svc.Invoices.Send(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "invoice.send", "invoice", id, nil)
	httpx.WriteJSON(w, http.StatusOK, toInvoiceResponse(invoice, h.svc.Invoices.Now()))
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request, id string) {
	payments, err := h.svc.Invoices.Payments(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toPaymentResponses(payments)})
}

type paymentRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	PaymentDate   httpx.Date      `json:"payment_date"`
	Reference     string          `json:"reference"`
	Notes         string          `json:"notes"`
	AccountID     string          `json:"account_id"`
}

func (req paymentRequest) input() financeapp.PaymentRequest {
	return financeapp.PaymentRequest{
		Amount:      req.Amount,
		Method:      req.PaymentMethod,
		PaymentDate: req.PaymentDate.Time,
		Reference:   req.Reference,
		Notes:       req.Notes,
		AccountID:   req.AccountID,
	}
}

func (h *Handler) handleAddPayment(w http.ResponseWriter, r *http.Request, id string) {
	var req paymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.svc.Settlement.AddPayment(r.Context(), id, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondSettlement(w, r, "invoice.payment", result)
}

func (h *Handler) handleMarkPaid(w http.ResponseWriter, r *http.Request, id string) {
	var req paymentRequest
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	result, err := h.svc.Settlement.MarkPaid(r.Context(), id, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondSettlement(w, r, "invoice.mark_paid", result)
}

func (h *Handler) respondSettlement(w http.ResponseWriter, r *http.Request, action string, result *financeapp.SettlementResult) {
	h.logAudit(r, action, "invoice", result.Invoice.ID, map[string]any{
		"payment_id":     result.Payment.ID,
		"amount":         result.Payment.Amount.StringFixed(2),
		"status":         string(result.Invoice.Status),
		"transaction_id": result.Payment.TransactionID,
	})
	status := http.StatusCreated
	if action == "invoice.mark_paid" {
		status = http.StatusOK
	}
	httpx.WriteJSON(w, status, map[string]any{
		"payment": toPaymentResponse(result.Payment),
		"invoice": toInvoiceResponse(&result.Invoice, h.svc.Invoices.Now()),
	})
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request, id string) {
	var req struct {
		Reason string `json:"reason"`
	}
	if r.ContentLength > 0 {
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
	}
	invoice, err := h.svc.Settlement.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "invoice.cancel", "invoice", id, map[string]any{"reason": invoice.CancellationReason})
	httpx.WriteJSON(w, http.StatusOK, toInvoiceResponse(invoice, h.svc.Invoices.Now()))
}
