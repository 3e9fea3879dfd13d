package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"go.uber.org/zap"

	"erp-core/internal/audit"
	ordersapp "erp-core/internal/orders/application"
	orders "erp-core/internal/orders/domain"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/httpx"
)

const prefix = "/orders"

// Handler serves the order API under /orders.
type Handler struct {
	service     *ordersapp.LifecycleService
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *ordersapp.LifecycleService, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("orders handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

// ServeHTTP routes:
//
//	GET    /orders
//	POST   /orders
//	GET    /orders/:id
//	PUT    /orders/:id
//	DELETE /orders/:id
//	PATCH  /orders/:id/status
//	GET    /orders/:id/total
//	GET    /orders/:id/history
//	POST   /orders/:id/reservation/retry
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := httpx.SplitPath(r.URL.Path, prefix)
	switch len(parts) {
	case 0:
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			httpx.MethodNotAllowed(w)
		}
	case 1:
		switch r.Method {
		case http.MethodGet:
			h.handleGet(w, r, parts[0])
		case http.MethodPut:
			h.handleUpdate(w, r, parts[0])
		case http.MethodDelete:
			h.handleDelete(w, r, parts[0])
		default:
			httpx.MethodNotAllowed(w)
		}
	case 2:
		id := parts[0]
		switch parts[1] {
		case "status":
			if r.Method != http.MethodPatch {
				httpx.MethodNotAllowed(w)
				return
			}
			h.handleStatus(w, r, id)
		case "total":
			if r.Method != http.MethodGet {
				httpx.MethodNotAllowed(w)
				return
			}
			h.handleTotal(w, r, id)
		case "history":
			if r.Method != http.MethodGet {
				httpx.MethodNotAllowed(w)
				return
			}
			h.handleHistory(w, r, id)
		default:
			httpx.NotFound(w)
		}
	case 3:
		if parts[1] != "reservation" || parts[2] != "retry" {
			httpx.NotFound(w)
			return
		}
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		h.handleRetry(w, r, parts[0])
	default:
		httpx.NotFound(w)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	page, err := httpx.ParsePage(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	q := r.URL.Query()
	filter := orders.Filter{
		CustomerID: q.Get("customerId"),
		SortBy:     q.Get("sortBy"),
		SortOrder:  q.Get("sortOrder"),
		Limit:      page.Limit,
		Offset:     page.Offset(),
	}
	if value := q.Get("status"); value != "" {
		status, err := orders.ParseStatus(value)
		if err != nil {
			h.fail(w, r, apperr.BadRequest("invalid_status", "unknown status %q", value))
			return
		}
		filter.Status = status
	}
	if filter.From, err = httpx.ParseTimeParam(r, "startDate", false); err != nil {
		h.fail(w, r, err)
		return
	}
	if filter.To, err = httpx.ParseTimeParam(r, "endDate", true); err != nil {
		h.fail(w, r, err)
		return
	}
	list, total, err := h.service.List(r.Context(), filter)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	items := make([]orderResponse, 0, len(list))
	for i := range list {
		items = append(items, toOrderResponse(&list[i]))
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.NewList(items, total, page))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req ordersapp.CreateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.service.Create(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "order.create", order.ID, map[string]any{
		"order_number": order.OrderNumber,
		"total_amount": order.TotalAmount.StringFixed(2),
		"items":        len(order.Items),
	})
	httpx.WriteJSON(w, http.StatusCreated, toOrderResponse(order))
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

type updateRequest struct {
	ShippingAddress    *string               `json:"shipping_address"`
	ShippingCity       *string               `json:"shipping_city"`
	ShippingPostalCode *string               `json:"shipping_postal_code"`
	ShippingCountry    *string               `json:"shipping_country"`
	ShippingMethod     *string               `json:"shipping_method"`
	PaymentMethod      *string               `json:"payment_method"`
	Notes              *string               `json:"notes"`
	Items              []ordersapp.ItemInput `json:"items"`
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req updateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.service.Update(r.Context(), id, ordersapp.UpdateRequest{
		Details: orders.Details{
			ShippingAddress:    req.ShippingAddress,
			ShippingCity:       req.ShippingCity,
			ShippingPostalCode: req.ShippingPostalCode,
			ShippingCountry:    req.ShippingCountry,
			ShippingMethod:     req.ShippingMethod,
			PaymentMethod:      req.PaymentMethod,
			Notes:              req.Notes,
		},
		Items: req.Items,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "order.update", order.ID, nil)
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.service.Delete(r.Context(), id); err != nil {
		// The order is gone even when the release is still pending.
		if apperr.KindOf(err) == apperr.KindServiceUnavailable {
			h.logAudit(r, "order.delete", id, map[string]any{"release": "pending"})
		}
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "order.delete", id, nil)
	w.WriteHeader(http.StatusNoContent)
}

type statusRequest struct {
	Status  string `json:"status"`
	Comment string `json:"comment"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	order, err := h.service.ChangeStatus(r.Context(), id, req.Status, req.Comment)
	if order != nil {
		h.logAudit(r, "order.status_change", order.ID, map[string]any{"status": string(order.Status)})
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toOrderResponse(order))
}

func (h *Handler) handleTotal(w http.ResponseWriter, r *http.Request, id string) {
	total, err := h.service.Total(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"order_id":     total.OrderID,
		"total_amount": httpx.Money(total.TotalAmount),
		"items_count":  total.ItemsCount,
	})
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request, id string) {
	history, err := h.service.History(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toHistoryResponse(history))
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request, id string) {
	result, err := h.service.RetryReservation(r.Context(), id)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "order.reservation_retry", id, map[string]any{"action": result.Action})
	httpx.WriteJSON(w, http.StatusOK, result)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

func (h *Handler) logAudit(r *http.Request, action, orderID string, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	if err := h.auditLogger.Log(r.Context(), audit.FromRequest(r, action, "order", orderID, metadata)); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

type itemResponse struct {
	ID         string      `json:"id"`
	ProductID  string      `json:"product_id"`
	Quantity   int         `json:"quantity"`
	UnitPrice  json.Number `json:"unit_price"`
	TotalPrice json.Number `json:"total_price"`
}

type historyResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Comment   string    `json:"comment,omitempty"`
	ChangedBy string    `json:"changed_by"`
	CreatedAt time.Time `json:"created_at"`
}

type orderResponse struct {
	ID                 string            `json:"id"`
	OrderNumber        string            `json:"order_number"`
	CustomerID         string            `json:"customer_id"`
	Status             string            `json:"status"`
	TotalAmount        json.Number       `json:"total_amount"`
	ShippingAddress    string            `json:"shipping_address,omitempty"`
	ShippingCity       string            `json:"shipping_city,omitempty"`
	ShippingPostalCode string            `json:"shipping_postal_code,omitempty"`
	ShippingCountry    string            `json:"shipping_country,omitempty"`
	ShippingMethod     string            `json:"shipping_method,omitempty"`
	PaymentMethod      string            `json:"payment_method,omitempty"`
	Notes              string            `json:"notes,omitempty"`
	CreatedAt          time.Time         `json:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at"`
	Items              []itemResponse    `json:"items,omitempty"`
	History            []historyResponse `json:"history,omitempty"`
}

func toOrderResponse(order *orders.Order) orderResponse {
	resp := orderResponse{
		ID:                 order.ID,
		OrderNumber:        order.OrderNumber,
		CustomerID:         order.CustomerID,
		Status:             string(order.Status),
		TotalAmount:        httpx.Money(order.TotalAmount),
		ShippingAddress:    order.ShippingAddress,
		ShippingCity:       order.ShippingCity,
		ShippingPostalCode: order.ShippingPostalCode,
		ShippingCountry:    order.ShippingCountry,
		ShippingMethod:     order.ShippingMethod,
		PaymentMethod:      order.PaymentMethod,
		Notes:              order.Notes,
		CreatedAt:          order.CreatedAt,
		UpdatedAt:          order.UpdatedAt,
		History:            toHistoryResponse(order.History),
	}
	for _, item := range order.Items {
		resp.Items = append(resp.Items, itemResponse{
			ID:         item.ID,
			ProductID:  item.ProductID,
			Quantity:   item.Quantity,
			UnitPrice:  httpx.Money(item.UnitPrice),
			TotalPrice: httpx.Money(item.TotalPrice),
		})
	}
	return resp
}

func toHistoryResponse(history []orders.HistoryEntry) []historyResponse {
	out := make([]historyResponse, 0, len(history))
	for _, entry := range history {
		out = append(out, historyResponse{
			ID:        entry.ID,
			Status:    string(entry.Status),
			Comment:   entry.Comment,
			ChangedBy: entry.ChangedBy,
			CreatedAt: entry.CreatedAt,
		})
	}
	return out
}
