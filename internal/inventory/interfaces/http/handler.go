package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"erp-core/internal/audit"
	invapp "erp-core/internal/inventory/application"
	inventory "erp-core/internal/inventory/domain"
	"erp-core/internal/platform/apperr"
	"erp-core/internal/platform/httpx"
)

const prefix = "/inventory"

// Handler serves the reservation protocol and stock administration.
type Handler struct {
	service     *invapp.Service
	auditLogger audit.Logger
	logger      *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *invapp.Service, auditLogger audit.Logger, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("inventory handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, auditLogger: auditLogger, logger: logger}, nil
}

type lineRequest struct {
	ID       string `json:"id"`
	Quantity int    `json:"quantity"`
}

type productsRequest struct {
	OrderID  string        `json:"order_id"`
	Products []lineRequest `json:"products"`
}

// ServeHTTP routes:
//
//	POST /inventory/check-availability
//	POST /inventory/reserve
//	POST /inventory/release-reservation
//	POST /inventory/complete-order
//	GET  /inventory/stock/:productId
//	PUT  /inventory/stock/:productId
//	GET  /inventory/stock/:productId/movements
//	GET  /inventory/reservations/:orderId
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := httpx.SplitPath(r.URL.Path, prefix)
	if len(parts) == 0 {
		httpx.NotFound(w)
		return
	}
	switch parts[0] {
	case "check-availability", "reserve", "release-reservation", "complete-order":
		if len(parts) != 1 {
			httpx.NotFound(w)
			return
		}
		if r.Method != http.MethodPost {
			httpx.MethodNotAllowed(w)
			return
		}
		h.handleProtocol(w, r, parts[0])
	case "stock":
		switch {
		case len(parts) == 2 && r.Method == http.MethodGet:
			h.handleGetStock(w, r, parts[1])
		case len(parts) == 2 && r.Method == http.MethodPut:
			h.handleSetStock(w, r, parts[1])
		case len(parts) == 3 && parts[2] == "movements" && r.Method == http.MethodGet:
			h.handleMovements(w, r, parts[1])
		case len(parts) == 2 || len(parts) == 3 && parts[2] == "movements":
			httpx.MethodNotAllowed(w)
		default:
			httpx.NotFound(w)
		}
	case "reservations":
		if len(parts) != 2 {
			httpx.NotFound(w)
			return
		}
		if r.Method != http.MethodGet {
			httpx.MethodNotAllowed(w)
			return
		}
		h.handleGetReservation(w, r, parts[1])
	default:
		httpx.NotFound(w)
	}
}

func (h *Handler) handleProtocol(w http.ResponseWriter, r *http.Request, op string) {
	var req productsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	lines := make([]inventory.Line, 0, len(req.Products))
	for _, p := range req.Products {
		lines = append(lines, inventory.Line{ProductID: p.ID, Quantity: p.Quantity})
	}
	ctx := r.Context()

	switch op {
	case "check-availability":
		avail, err := h.service.Check(ctx, lines)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		unavailable := avail.Shortages
		if unavailable == nil {
			unavailable = []inventory.Shortage{}
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{
			"available":        avail.Available,
			"unavailableItems": unavailable,
		})
	case "reserve":
		reservation, err := h.service.Reserve(ctx, req.OrderID, lines)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.logAudit(r, "inventory.reserve", req.OrderID, nil)
		httpx.WriteJSON(w, http.StatusOK, toReservationResponse(reservation))
	case "release-reservation":
		released, err := h.service.Release(ctx, req.OrderID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if released {
			h.logAudit(r, "inventory.release", req.OrderID, nil)
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": req.OrderID, "released": released})
	case "complete-order":
		completed, err := h.service.Complete(ctx, req.OrderID)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		if completed {
			h.logAudit(r, "inventory.complete", req.OrderID, nil)
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"order_id": req.OrderID, "completed": completed})
	}
}

func (h *Handler) handleGetStock(w http.ResponseWriter, r *http.Request, productID string) {
	stock, err := h.service.GetStock(r.Context(), productID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toStockResponse(stock))
}

func (h *Handler) handleSetStock(w http.ResponseWriter, r *http.Request, productID string) {
	var req struct {
		Quantity *int `json:"quantity"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	if req.Quantity == nil {
		h.fail(w, r, apperr.BadRequest("quantity_required", "quantity required"))
		return
	}
	stock, err := h.service.SetStock(r.Context(), productID, *req.Quantity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.logAudit(r, "inventory.stock_set", productID, map[string]any{"quantity": *req.Quantity})
	httpx.WriteJSON(w, http.StatusOK, toStockResponse(stock))
}

func (h *Handler) handleMovements(w http.ResponseWriter, r *http.Request, productID string) {
	limit := 50
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed < 1 || parsed > 500 {
			h.fail(w, r, apperr.BadRequest("invalid_limit", "limit must be between 1 and 500"))
			return
		}
		limit = parsed
	}
	movements, err := h.service.Movements(r.Context(), productID, limit)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	out := make([]movementResponse, 0, len(movements))
	for _, m := range movements {
		out = append(out, movementResponse{
			ID:        m.ID,
			ProductID: m.ProductID,
			OrderID:   m.OrderID,
			Type:      string(m.Type),
			Quantity:  m.Quantity,
			CreatedAt: m.CreatedAt,
		})
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGetReservation(w http.ResponseWriter, r *http.Request, orderID string) {
	reservation, err := h.service.GetReservation(r.Context(), orderID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toReservationResponse(reservation))
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	httpx.WriteError(w, r, h.logger, err)
}

func (h *Handler) logAudit(r *http.Request, action, resourceID string, metadata map[string]any) {
	if h.auditLogger == nil {
		return
	}
	if err := h.auditLogger.Log(r.Context(), audit.FromRequest(r, action, "inventory", resourceID, metadata)); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

type stockResponse struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	Reserved  int       `json:"quantity_reserved"`
	Available int       `json:"available"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toStockResponse(s *inventory.Stock) stockResponse {
	return stockResponse{
		ProductID: s.ProductID,
		Quantity:  s.Quantity,
		Reserved:  s.Reserved,
		Available: s.Available(),
		UpdatedAt: s.UpdatedAt,
	}
}

type reservationResponse struct {
	ID        string        `json:"id"`
	OrderID   string        `json:"order_id"`
	Status    string        `json:"status"`
	Products  []lineRequest `json:"products"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

func toReservationResponse(r *inventory.Reservation) reservationResponse {
	resp := reservationResponse{
		ID:        r.ID,
		OrderID:   r.OrderID,
		Status:    string(r.Status),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	for _, line := range r.Lines {
		resp.Products = append(resp.Products, lineRequest{ID: line.ProductID, Quantity: line.Quantity})
	}
	return resp
}

type movementResponse struct {
	ID        string    `json:"id"`
	ProductID string    `json:"product_id"`
	OrderID   string    `json:"order_id,omitempty"`
	Type      string    `json:"type"`
	Quantity  int       `json:"quantity"`
	CreatedAt time.Time `json:"created_at"`
}
