package http

import (
	"net/http"

	"github.com/shopspring/decimal"

	financeapp "erp-core/internal/finance/application"
	finance "erp-core/internal/finance/domain"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/httpx"
)

// routeTransactions serves:
//
//	GET    /transactions
//	POST   /transactions
//	GET    /transactions/:id
//	PUT    /transactions/:id
//	DELETE /transactions/:id
func (h *Handler) routeTransactions(w http.ResponseWriter, r *http.Request, parts []string) {
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.handleListPostings(w, r)
		case http.MethodPost:
			h.handleCreatePosting(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	case 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGetPosting(w, r, parts[0])
		case http.MethodPut:
			h.handleUpdatePosting(w, r, parts[0])
		case http.MethodDelete:
			h.handleDeletePosting(w, r, parts[0])
		default:
			httpx.MethodNotAllowed(w)
		}
	default:
		httpx.NotFound(w)
	}
}

func (h *Handler) handleListPostings(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := finance.PostingFilter{
		CategoryID: q.Get("categoryId"),
		AccountID:  q.Get("accountId"),
		Limit:      page.Limit,
		Offset:     page.Offset(),
	}
	if value := q.Get("type"); value != "" {
		if filter.Type, err = finance.ParsePostingType(value); err != nil {
			h.fail(w, r, apperr.BadRequest("invalid_type", "type must be income or expense"))
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
	if filter.MinAmount, err = httpx.ParseDecimalParam(r, "minAmount"); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.MaxAmount, err = httpx.ParseDecimalParam(r, "maxAmount"); err != nil {
		h.fail(w, r, err)
		return
	}
	list, total, err := h.svc.Postings.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(toPostingResponses(list), total, page))
}

type postingRequest struct {
	Type            string          `json:"type"`
	Amount          decimal.Decimal `json:"amount"`
	CategoryID      string          `json:"category_id"`
	AccountID       string          `json:"account_id"`
	Description     string          `json:"description"`
	TransactionDate httpx.Date      `json:"transaction_date"`
	ReferenceID     string          `json:"reference_id"`
	ReferenceType   string          `json:"reference_type"`
}

func (req postingRequest) input() financeapp.PostingInput {
	return financeapp.PostingInput{
		Type:            req.Type,
		Amount:          req.Amount,
		CategoryID:      req.CategoryID,
		AccountID:       req.AccountID,
		Description:     req.Description,
		TransactionDate: req.TransactionDate.Time,
		ReferenceID:     req.ReferenceID,
		ReferenceType:   req.ReferenceType,
	}
}

func (h *Handler) handleCreatePosting(w http.ResponseWriter, r *http.Request) {
	var req postingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	posting, balance, err := h.svc.Postings.Create(r.Context(), req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "transaction.create", "transaction", posting.ID, map[string]any{
		"account_id": posting.AccountID,
		"type":       string(posting.Type),
		"amount":     posting.Amount.StringFixed(2),
	})
	resp := toPostingResponse(posting)
	money := httpx.Money(balance)
	resp.AccountBalance = &money
	httpx.WriteJSON(w, http.StatusCreated, resp)
}

func (h *Handler) handleGetPosting(w http.ResponseWriter, r *http.Request, id string) {
	posting, err := h.svc.Postings.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toPostingResponse(posting))
}

func (h *Handler) handleUpdatePosting(w http.ResponseWriter, r *http.Request, id string) {
	var req postingRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	posting, err := h.svc.Postings.Update(r.Context(), id, req.input())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "transaction.update", "transaction", id, map[string]any{"amount": posting.Amount.StringFixed(2)})
	httpx.WriteJSON(w, http.StatusOK, toPostingResponse(posting))
}

func (h *Handler) handleDeletePosting(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.svc.Postings.Delete(r.Context(), id); err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "transaction.delete", "transaction", id, nil)
	w.WriteHeader(http.StatusNoContent)
}
