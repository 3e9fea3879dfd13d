package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	financeapp "erp-core/internal/finance/application"
	finance "erp-core/internal/finance/domain"
	finexport "erp-core/internal/finance/interfaces"
	"erp-core/internal/observability/metrics"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/httpx"
)

// routeAccounts serves:
//
//	GET    /accounts
//	POST   /accounts
//	POST   /accounts/transfer
//	GET    /accounts/:id
//	PUT    /accounts/:id
//	DELETE /accounts/:id
//	GET    /accounts/:id/balance
//	GET    /accounts/:id/transactions
//	GET    /accounts/:id/statement.xlsx
//	GET    /accounts/:id/statement.pdf
func (h *Handler) routeAccounts(w http.ResponseWriter, r *http.Request, parts []string) {
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.handleListAccounts(w, r)
		case http.MethodPost:
			h.handleCreateAccount(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	case 1:
		if parts[0] == "transfer" {
			if only(w, r, http.MethodPost) {
				h.handleTransfer(w, r)
			}
			return
		}
		switch r.Method {
		case http.MethodGet:
			h.handleGetAccount(w, r, parts[0])
		case http.MethodPut:
			h.handleUpdateAccount(w, r, parts[0])
		case http.MethodDelete:
			h.handleDeleteAccount(w, r, parts[0])
		default:
			httpx.MethodNotAllowed(w)
		}
	case 2:
		if !only(w, r, http.MethodGet) {
			return
		}
		switch parts[1] {
		case "balance":
			h.handleBalance(w, r, parts[0])
		case "transactions":
			h.handleAccountPostings(w, r, parts[0])
		case "statement.xlsx":
			h.handleStatement(w, r, parts[0], "xlsx")
		case "statement.pdf":
			h.handleStatement(w, r, parts[0], "pdf")
		default:
			httpx.NotFound(w)
		}
	default:
		httpx.NotFound(w)
	}
}

func (h *Handler) handleListAccounts(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := finance.AccountFilter{Currency: q.Get("currency"), Limit: page.Limit, Offset: page.Offset()}
	if value := q.Get("type"); value != "" {
		if filter.Type, err = finance.ParseAccountType(value); err != nil {
			h.fail(w, r, apperr.BadRequest("invalid_account_type", "unknown account type %q", value))
			return
		}
	}
	if value := q.Get("isActive"); value != "" {
		active, err := strconv.ParseBool(value)
		if err != nil {
			h.fail(w, r, apperr.BadRequest("invalid_isActive", "isActive must be true or false"))
			return
		}
		filter.Active = &active
	}
	list, total, err := h.svc.Accounts.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]accountResponse, 0, len(list))
	for i := range list {
		items = append(items, toAccountResponse(&list[i]))
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(items, total, page))
}

type createAccountRequest struct {
	Name           string          `json:"name"`
	Type           string          `json:"type"`
	Currency       string          `json:"currency"`
	InitialBalance decimal.Decimal `json:"initial_balance"`
	Description    string          `json:"description"`
}

func (h *Handler) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req createAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.svc.Accounts.Create(r.Context(), financeapp.CreateAccountRequest{
		Name:           req.Name,
		Type:           req.Type,
		Currency:       req.Currency,
		InitialBalance: req.InitialBalance,
		Description:    req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "account.create", "account", account.ID, map[string]any{
		"currency":        account.Currency,
		"initial_balance": account.InitialBalance.StringFixed(2),
	})
	httpx.WriteJSON(w, http.StatusCreated, toAccountResponse(account))
}

func (h *Handler) handleGetAccount(w http.ResponseWriter, r *http.Request, id string) {
	account, err := h.svc.Accounts.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

type updateAccountRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	IsActive    *bool   `json:"is_active"`
}

func (h *Handler) handleUpdateAccount(w http.ResponseWriter, r *http.Request, id string) {
	var req updateAccountRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	account, err := h.svc.Accounts.Update(r.Context(), id, finance.AccountDetails{
		Name:        req.Name,
		Description: req.Description,
		IsActive:    req.IsActive,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "account.update", "account", id, nil)
	httpx.WriteJSON(w, http.StatusOK, toAccountResponse(account))
}

func (h *Handler) handleDeleteAccount(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Accounts.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "account.delete", "account", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleBalance(w http.ResponseWriter, r *http.Request, id string) {
	account, err := h.svc.Accounts.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"account_id": account.ID,
		"balance":    httpx.Money(account.Balance),
		"currency":   account.Currency,
	})
}

func (h *Handler) handleAccountPostings(w http.ResponseWriter, r *http.Request, id string) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, total, err := h.svc.Accounts.Postings(r.Context(), id, page.Limit, page.Offset())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(toPostingResponses(list), total, page))
}

func (h *Handler) handleStatement(w http.ResponseWriter, r *http.Request, id, format string) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementExport(format, result, time.Since(start))
	}()

	from, err := httpx.ParseTimeParam(r, "from", false)
	if err != nil {
		result = metrics.ResultRejected
		h.fail(w, r, err)
		return
	}
	to, err := httpx.ParseTimeParam(r, "to", true)
	if err != nil {
		result = metrics.ResultRejected
		h.fail(w, r, err)
		return
	}
	stmt, err := h.svc.Accounts.Statement(r.Context(), id, from, to)
	if err != nil {
		result = metrics.ResultRejected
		h.fail(w, r, err)
		return
	}
	var (
		data        []byte
		contentType string
	)
	switch format {
	case "pdf":
		data, err = finexport.BuildStatementPDF(stmt)
		contentType = "application/pdf"
	default:
		data, err = finexport.BuildStatementXLSX(stmt)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		result = metrics.ResultError
		h.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"statement-"+id+"."+format+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type transferRequest struct {
	SourceAccountID string          `json:"sourceAccountId"`
	TargetAccountID string          `json:"targetAccountId"`
	Amount          decimal.Decimal `json:"amount"`
	Description     string          `json:"description"`
}

func (h *Handler) handleTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	result, err := h.svc.Transfers.Transfer(r.Context(), financeapp.TransferRequest{
		SourceID:    req.SourceAccountID,
		TargetID:    req.TargetAccountID,
		Amount:      req.Amount,
		Description: req.Description,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "account.transfer", "account", result.Source.ID, map[string]any{
		"target_account_id": result.Target.ID,
		"amount":            result.Debit.Amount.StringFixed(2),
	})
	httpx.WriteJSON(w, http.StatusCreated, transferResponse{
		Debit:         toPostingResponse(&result.Debit),
		Credit:        toPostingResponse(&result.Credit),
		SourceAccount: toAccountResponse(&result.Source),
		TargetAccount: toAccountResponse(&result.Target),
	})
}
