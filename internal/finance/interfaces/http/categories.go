package http

import (
	"net/http"

	"erp-core/internal/platform/httpx"
)

// routeCategories serves GET and POST /categories.
func (h *Handler) routeCategories(w http.ResponseWriter, r *http.Request, parts []string) {
	if len(parts) != 0 {
		httpx.NotFound(w)
		return
	}
	switch r.Method {
	case http.MethodGet:
		list, err := h.svc.Categories.List(r.Context(), r.URL.Query().Get("type"))
		if err != nil {
			h.fail(w, r, err)
			return
		}
		items := make([]categoryResponse, 0, len(list))
		for _, c := range list {
			items = append(items, categoryResponse{ID: c.ID, Name: c.Name, Type: string(c.Type)})
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var req struct {
			Name string `json:"name"`
			Type string `json:"type"`
		}
		if err := httpx.DecodeJSON(r, &req); err != nil {
			h.fail(w, r, err)
			return
		}
		c, err := h.svc.Categories.Create(r.Context(), req.Name, req.Type)
		if err != nil {
			h.fail(w, r, err)
			return
		}
		h.logAudit(r, "category.create", "category", c.ID, map[string]any{"name": c.Name, "type": string(c.Type)})
		httpx.WriteJSON(w, http.StatusCreated, categoryResponse{ID: c.ID, Name: c.Name, Type: string(c.Type)})
	default:
		httpx.MethodNotAllowed(w)
	}
}
