package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"slidegate/internal/service"
	"slidegate/internal/slide"
	"slidegate/pkg/logging/logging"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := sonic.ConfigStd.NewEncoder(w).Encode(v); err != nil {
		logging.L(r.Context()).Warn("write_response_error", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, errorBody{Error: code, Message: message})
}

func decodeJSON(r *http.Request, v any) error {
	return sonic.ConfigStd.NewDecoder(r.Body).Decode(v)
}

// respondError maps service errors onto HTTP statuses.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	logger := logging.L(r.Context())

	var verr *slide.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, r, http.StatusBadRequest, "invalid_request", verr.Error())
	case service.IsNotFound(err):
		writeError(w, r, http.StatusNotFound, "lesson_not_found", "lesson not found")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request_deadline_exceeded", zap.Error(err))
		writeError(w, r, http.StatusGatewayTimeout, "gateway_timeout", "slide is still being generated, retry shortly")
	case errors.Is(err, context.Canceled):
		logger.Info("request_cancelled")
		writeError(w, r, http.StatusServiceUnavailable, "request_cancelled", "")
	default:
		logger.Error("request_failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "internal_server_error", "")
	}
}
