// Package httpx holds the JSON response helpers shared by the service handlers.
package httpx

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"erp-core/internal/platform/apperr"
)

const maxBodyBytes = 1 << 20

// ErrorBody is the wire shape of every error response.
type ErrorBody struct {
	Status  int            `json:"status"`
	Message string         `json:"message"`
	Code    string         `json:"code"`
	Errors  map[string]any `json:"errors,omitempty"`
}

// WriteJSON encodes payload with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteError renders err using the error taxonomy. Unclassified errors are
// logged and reported as a generic 500.
func WriteError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	status := apperr.HTTPStatus(err)
	body := ErrorBody{Status: status}

	var appErr *apperr.Error
	if errors.As(err, &appErr) && status != http.StatusInternalServerError {
		body.Message = appErr.Message
		body.Code = appErr.Code
		if body.Code == "" {
			body.Code = string(appErr.Kind)
		}
		body.Errors = appErr.Details
	} else {
		body.Message = "internal server error"
		body.Code = string(apperr.KindInternal)
	}

	if logger != nil {
		fields := []zap.Field{zap.Int("status", status), zap.Error(err)}
		if r != nil {
			fields = append(fields, zap.String("method", r.Method), zap.String("path", r.URL.Path))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request failed", fields...)
		} else {
			logger.Debug("request rejected", fields...)
		}
	}
	WriteJSON(w, status, body)
}

// DecodeJSON reads a bounded JSON body into dst.
func DecodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return apperr.BadRequest("invalid_json", "request body required")
	}
	defer r.Body.Close()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperr.BadRequest("invalid_json", "read body error")
	}
	if len(data) == 0 {
		return apperr.BadRequest("invalid_json", "request body required")
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return apperr.BadRequest("invalid_json", "invalid json: %v", err)
	}
	return nil
}

// MethodNotAllowed writes a 405 with the error body.
func MethodNotAllowed(w http.ResponseWriter) {
	WriteJSON(w, http.StatusMethodNotAllowed, ErrorBody{
		Status:  http.StatusMethodNotAllowed,
		Message: "method not allowed",
		Code:    "METHOD_NOT_ALLOWED",
	})
}

// NotFound writes a 404 for unknown routes.
func NotFound(w http.ResponseWriter) {
	WriteJSON(w, http.StatusNotFound, ErrorBody{
		Status:  http.StatusNotFound,
		Message: "route not found",
		Code:    string(apperr.KindNotFound),
	})
}
