package http

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"erp-core/internal/audit"
	financeapp "erp-core/internal/finance/application"
	"erp-core/internal/platform/httpx"
)

// Services bundles the finance application services served over HTTP.
type Services struct {
	Accounts   *financeapp.AccountService
	Postings   *financeapp.PostingService
	Transfers  *financeapp.TransferOrchestrator
	Invoices   *financeapp.InvoiceService
	Settlement *financeapp.SettlementAllocator
	Categories *financeapp.CategoryService
}

// Handler serves /accounts, /transactions, /invoices and /categories.
type Handler struct {
	svc         Services
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler. Every service is required.
func NewHandler(svc Services, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	switch {
	case svc.Accounts == nil:
		return nil, errors.New("finance handler: nil account service")
	case svc.Postings == nil:
		return nil, errors.New("finance handler: nil posting service")
	case svc.Transfers == nil:
		return nil, errors.New("finance handler: nil transfer orchestrator")
	case svc.Invoices == nil:
		return nil, errors.New("finance handler: nil invoice service")
	case svc.Settlement == nil:
		return nil, errors.New("finance handler: nil settlement allocator")
	case svc.Categories == nil:
		return nil, errors.New("finance handler: nil category service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, auditLogger: auditLogger, logger: logger}, nil
}

// Prefixes are the paths the handler is mounted on.
func (h *Handler) Prefixes() []string {
	return []string{"/accounts", "/transactions", "/invoices", "/categories"}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := httpx.SplitPath(r.URL.Path, "")
	if len(parts) == 0 {
		httpx.NotFound(w)
		return
	}
	switch parts[0] {
	case "accounts":
		h.routeAccounts(w, r, parts[1:])
	case "transactions":
		h.routeTransactions(w, r, parts[1:])
	case "invoices":
		h.routeInvoices(w, r, parts[1:])
	case "categories":
		h.routeCategories(w, r, parts[1:])
	default:
		httpx.NotFound(w)
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID string, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	if err := h.auditLogger.Log(r.Context(), audit.FromRequest(r, action, resourceType, resourceID, metadata)); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func only(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		httpx.MethodNotAllowed(w)
		return false
	}
	return true
}
