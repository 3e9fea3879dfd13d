package http

import (
	"encoding/json"
	"time"

	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/httpx"
)

type accountResponse struct {
	ID             string      `json:"id"`
	Name           string      `json:"name"`
	Type           string      `json:"type"`
	Currency       string      `json:"currency"`
	InitialBalance json.Number `json:"initial_balance"`
	Balance        json.Number `json:"balance"`
	IsActive       bool        `json:"is_active"`
	Description    string      `json:"description,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

func toAccountResponse(a *finance.Account) accountResponse {
	return accountResponse{
		ID:             a.ID,
		Name:           a.Name,
		Type:           string(a.Type),
		Currency:       a.Currency,
		InitialBalance: httpx.Money(a.InitialBalance),
		Balance:        httpx.Money(a.Balance),
		IsActive:       a.IsActive,
		Description:    a.Description,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type postingResponse struct {
	ID                    string       `json:"id"`
	Type                  string       `json:"type"`
	Amount                json.Number  `json:"amount"`
	Currency              string       `json:"currency"`
	CategoryID            string       `json:"category_id"`
	AccountID             string       `json:"account_id"`
	CounterpartyAccountID string       `json:"counterparty_account_id,omitempty"`
	Description           string       `json:"description,omitempty"`
	TransactionDate       time.Time    `json:"transaction_date"`
	ReferenceID           string       `json:"reference_id,omitempty"`
	ReferenceType         string       `json:"reference_type"`
	CreatedBy             string       `json:"created_by"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
	AccountBalance        *json.Number `json:"account_balance,omitempty"`
}

func toPostingResponse(p *finance.Posting) postingResponse {
	return postingResponse{
		ID:                    p.ID,
		Type:                  string(p.Type),
		Amount:                httpx.Money(p.Amount),
		Currency:              p.Currency,
		CategoryID:            p.CategoryID,
		AccountID:             p.AccountID,
		CounterpartyAccountID: p.CounterpartyAccountID,
		Description:           p.Description,
		TransactionDate:       p.TransactionDate,
		ReferenceID:           p.ReferenceID,
		ReferenceType:         string(p.ReferenceType),
		CreatedBy:             p.CreatedBy,
		CreatedAt:             p.CreatedAt,
		UpdatedAt:             p.UpdatedAt,
	}
}

func toPostingResponses(list []finance.Posting) []postingResponse {
	out := make([]postingResponse, 0, len(list))
	for i := range list {
		out = append(out, toPostingResponse(&list[i]))
	}
	return out
}

type transferResponse struct {
	Debit         postingResponse `json:"debit"`
	Credit        postingResponse `json:"credit"`
	SourceAccount accountResponse `json:"source_account"`
	TargetAccount accountResponse `json:"target_account"`
}

type categoryResponse struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type invoiceItemResponse struct {
	ID             string      `json:"id"`
	Description    string      `json:"description"`
	Quantity       json.Number `json:"quantity"`
	UnitPrice      json.Number `json:"unit_price"`
	TaxRate        json.Number `json:"tax_rate"`
	Discount       json.Number `json:"discount"`
	Subtotal       json.Number `json:"subtotal"`
	TaxAmount      json.Number `json:"tax_amount"`
	DiscountAmount json.Number `json:"discount_amount"`
	Total          json.Number `json:"total"`
}

type paymentResponse struct {
	ID            string      `json:"id"`
	InvoiceID     string      `json:"invoice_id"`
	Amount        json.Number `json:"amount"`
	PaymentMethod string      `json:"payment_method"`
	PaymentDate   time.Time   `json:"payment_date"`
	Reference     string      `json:"reference,omitempty"`
	Notes         string      `json:"notes,omitempty"`
	TransactionID string      `json:"transaction_id,omitempty"`
	CreatedBy     string      `json:"created_by"`
	CreatedAt     time.Time   `json:"created_at"`
}

func toPaymentResponse(p finance.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		InvoiceID:     p.InvoiceID,
		Amount:        httpx.Money(p.Amount),
		PaymentMethod: string(p.Method),
		PaymentDate:   p.PaymentDate,
		Reference:     p.Reference,
		Notes:         p.Notes,
		TransactionID: p.TransactionID,
		CreatedBy:     p.CreatedBy,
		CreatedAt:     p.CreatedAt,
	}
}

func toPaymentResponses(list []finance.Payment) []paymentResponse {
	out := make([]paymentResponse, 0, len(list))
	for _, p := range list {
		out = append(out, toPaymentResponse(p))
	}
	return out
}

type invoiceResponse struct {
	ID                 string                `json:"id"`
	InvoiceNumber      string                `json:"invoice_number"`
	CustomerID         string                `json:"customer_id"`
	IssueDate          string                `json:"issue_date"`
	DueDate            string                `json:"due_date,omitempty"`
	Currency           string                `json:"currency"`
	Notes              string                `json:"notes,omitempty"`
	Status             string                `json:"status"`
	Subtotal           json.Number           `json:"subtotal"`
	TaxAmount          json.Number           `json:"tax_amount"`
	DiscountAmount     json.Number           `json:"discount_amount"`
	TotalAmount        json.Number           `json:"total_amount"`
	TotalPaid          json.Number           `json:"total_paid"`
	BalanceDue         json.Number           `json:"balance_due"`
	CancellationReason string                `json:"cancellation_reason,omitempty"`
	CancelledBy        string                `json:"cancelled_by,omitempty"`
	CancelledAt        *time.Time            `json:"cancelled_at,omitempty"`
	CreatedAt          time.Time             `json:"created_at"`
	UpdatedAt          time.Time             `json:"updated_at"`
	Items              []invoiceItemResponse `json:"items,omitempty"`
	Payments           []paymentResponse     `json:"payments,omitempty"`
}

func toInvoiceResponse(inv *finance.Invoice, now time.Time) invoiceResponse {
	resp := invoiceResponse{
		ID:                 inv.ID,
		InvoiceNumber:      inv.Number,
		CustomerID:         inv.CustomerID,
		IssueDate:          inv.IssueDate.Format("2006-01-02"),
		Currency:           inv.Currency,
		Notes:              inv.Notes,
		Status:             string(inv.EffectiveStatus(now)),
		Subtotal:           httpx.Money(inv.Subtotal),
		TaxAmount:          httpx.Money(inv.TaxAmount),
		DiscountAmount:     httpx.Money(inv.DiscountAmount),
		TotalAmount:        httpx.Money(inv.TotalAmount),
		TotalPaid:          httpx.Money(inv.TotalPaid()),
		BalanceDue:         httpx.Money(inv.BalanceDue()),
		CancellationReason: inv.CancellationReason,
		CancelledBy:        inv.CancelledBy,
		CancelledAt:        inv.CancelledAt,
		CreatedAt:          inv.CreatedAt,
		UpdatedAt:          inv.UpdatedAt,
		Payments:           toPaymentResponses(inv.Payments),
	}
	if !inv.DueDate.IsZero() {
		resp.DueDate = inv.DueDate.Format("2006-01-02")
	}
	for _, it := range inv.Items {
		resp.Items = append(resp.Items, invoiceItemResponse{
			ID:             it.ID,
			Description:    it.Description,
			Quantity:       json.Number(it.Quantity.String()),
			UnitPrice:      httpx.Money(it.UnitPrice),
			TaxRate:        json.Number(it.TaxRate.String()),
			Discount:       json.Number(it.Discount.String()),
			Subtotal:       httpx.Money(it.Subtotal),
			TaxAmount:      httpx.Money(it.TaxAmount),
			DiscountAmount: httpx.Money(it.DiscountAmount),
			Total:          httpx.Money(it.Total),
		})
	}
	return resp
}
