package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	finevents "erp-core/internal/finance/application/events"
	finance "erp-core/internal/finance/domain"
)

// InvoiceItemInput is one requested invoice line.
type InvoiceItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
	Discount    decimal.Decimal
}

// CreateInvoiceRequest is the input of InvoiceService.Create.
type CreateInvoiceRequest struct {
	Number     string
	CustomerID string
	IssueDate  time.Time
	DueDate    time.Time
	Currency   string
	Notes      string
	Status     string
	Items      []InvoiceItemInput
}

// UpdateInvoiceRequest replaces the set fields. Nil Items keeps the lines.
type UpdateInvoiceRequest struct {
	CustomerID *string
	IssueDate  *time.Time
	DueDate    *time.Time
	Notes      *string
	Items      []InvoiceItemInput
}

// InvoiceService manages invoices outside of settlement.
type InvoiceService struct {
	repo            finance.Repository
	defaultCurrency string
	logger          *zap.Logger
	now             func() time.Time
}

// NewInvoiceService constructs an invoice service.
func NewInvoiceService(repo finance.Repository, defaultCurrency string, logger *zap.Logger) (*InvoiceService, error) {
	if repo == nil {
		return nil, errors.New("invoice service: nil repo")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCurrency == "" {
		defaultCurrency = "UAH"
	}
	return &InvoiceService{repo: repo, defaultCurrency: defaultCurrency, logger: logger, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Now is the clock used for derived statuses.
func (s *InvoiceService) Now() time.Time { return s.now() }

// Create prices the items and stores a draft or sent invoice.
func (s *InvoiceService) Create(ctx context.Context, req CreateInvoiceRequest) (*finance.Invoice, error) {
	customer := strings.TrimSpace(req.CustomerID)
	if customer == "" {
		return nil, mapError(finance.ErrCustomerRequired)
	}
	status := finance.InvoiceDraft
	if req.Status != "" {
		parsed, err := finance.ParseInvoiceStatus(req.Status)
		if err != nil {
			return nil, mapError(err)
		}
		if parsed != finance.InvoiceDraft && parsed != finance.InvoiceSent {
			return nil, mapError(finance.ErrInvalidInvoiceStatus)
		}
		status = parsed
	}
	now := s.now()
	issue := req.IssueDate
	if issue.IsZero() {
		issue = now
	}
	if !req.DueDate.IsZero() && req.DueDate.Before(dateOnly(issue)) {
		return nil, mapError(finance.ErrInvalidDueDate)
	}
	invoice := &finance.Invoice{
		ID:         uuid.NewString(),
		Number:     strings.TrimSpace(req.Number),
		CustomerID: customer,
		IssueDate:  issue,
		DueDate:    req.DueDate,
		Currency:   finance.NormalizeCurrency(req.Currency, s.defaultCurrency),
		Notes:      req.Notes,
		Status:     status,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := invoice.SetItems(buildItems(invoice.ID, req.Items)); err != nil {
		return nil, mapError(err)
	}
	if err := s.repo.CreateInvoice(ctx, invoice, invoiceEvent("created", invoice, now)); err != nil {
		return nil, mapError(err)
	}
	s.logger.Info("invoice created",
		zap.String("invoice_id", invoice.ID),
		zap.String("invoice_number", invoice.Number),
		zap.String("total", invoice.TotalAmount.StringFixed(2)),
	)
	return invoice, nil
}

// Get returns an invoice with items and payments.
func (s *InvoiceService) Get(ctx context.Context, id string) (*finance.Invoice, error) {
	invoice, err := s.repo.GetInvoice(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, mapError(finance.ErrInvoiceNotFound)
	}
	return invoice, nil
}

// List returns a page of invoices.
func (s *InvoiceService) List(ctx context.Context, filter finance.InvoiceFilter) ([]finance.Invoice, int, error) {
	return s.repo.ListInvoices(ctx, filter)
}

// Update replaces dates, notes and items while nothing is paid.
func (s *InvoiceService) Update(ctx context.Context, id string, req UpdateInvoiceRequest) (*finance.Invoice, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := editable(invoice); err != nil {
		return nil, mapError(err)
	}
	if req.CustomerID != nil {
		customer := strings.TrimSpace(*req.CustomerID)
		if customer == "" {
			return nil, mapError(finance.ErrCustomerRequired)
		}
		invoice.CustomerID = customer
	}
	if req.IssueDate != nil {
		invoice.IssueDate = *req.IssueDate
	}
	if req.DueDate != nil {
		invoice.DueDate = *req.DueDate
	}
	if req.Notes != nil {
		invoice.Notes = *req.Notes
	}
	if !invoice.DueDate.IsZero() && invoice.DueDate.Before(dateOnly(invoice.IssueDate)) {
		return nil, mapError(finance.ErrInvalidDueDate)
	}
	if req.Items != nil {
		if err := invoice.SetItems(buildItems(invoice.ID, req.Items)); err != nil {
			return nil, mapError(err)
		}
	}
	now := s.now()
	invoice.UpdatedAt = now
	allowed := []finance.InvoiceStatus{finance.InvoiceDraft, finance.InvoiceSent}
	if err := s.repo.ReplaceInvoice(ctx, invoice, allowed, invoiceEvent("updated", invoice, now)); err != nil {
		return nil, mapError(err)
	}
	return invoice, nil
}

// Delete removes an invoice that is not paid and has no payments.
func (s *InvoiceService) Delete(ctx context.Context, id string) error {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if invoice.Status == finance.InvoicePaid {
		return mapError(finance.ErrInvoiceClosed)
	}
	if len(invoice.Payments) > 0 {
		return mapError(finance.ErrInvoiceHasPayments)
	}
	return mapError(s.repo.DeleteInvoice(ctx, id, invoiceEvent("deleted", invoice, s.now())))
}

// Send moves a draft invoice to sent.
func (s *InvoiceService) Send(ctx context.Context, id string) (*finance.Invoice, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if invoice.Status != finance.InvoiceDraft {
		return nil, mapError(finance.ErrInvalidInvoiceStatus)
	}
	now := s.now()
	invoice.Status = finance.InvoiceSent
	invoice.UpdatedAt = now
	err = s.repo.SetInvoiceStatus(ctx, id, finance.InvoiceDraft, finance.InvoiceSent, now, invoiceEvent("sent", invoice, now))
	if err != nil {
		return nil, mapError(err)
	}
	return invoice, nil
}

// Payments lists the payments of an invoice.
func (s *InvoiceService) Payments(ctx context.Context, id string) ([]finance.Payment, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.Payments(ctx, id)
}

func editable(invoice *finance.Invoice) error {
	switch {
	case invoice.Closed():
		return finance.ErrInvoiceClosed
	case len(invoice.Payments) > 0:
		return finance.ErrInvoiceHasPayments
	case !invoice.Editable():
		return finance.ErrInvoiceClosed
	}
	return nil
}

func buildItems(invoiceID string, in []InvoiceItemInput) []finance.InvoiceItem {
	items := make([]finance.InvoiceItem, 0, len(in))
	for _, it := range in {
		items = append(items, finance.InvoiceItem{
			ID:          uuid.NewString(),
			InvoiceID:   invoiceID,
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   it.UnitPrice,
			TaxRate:     it.TaxRate,
			Discount:    it.Discount,
		})
	}
	return items
}

func invoiceEvent(op string, invoice *finance.Invoice, at time.Time) *finevents.InvoiceChanged {
	return &finevents.InvoiceChanged{
		Op:          op,
		InvoiceID:   invoice.ID,
		Number:      invoice.Number,
		Status:      string(invoice.Status),
		TotalAmount: invoice.TotalAmount,
		OccurredAt:  at,
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
