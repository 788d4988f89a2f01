package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/receptionist-relay/internal/calls"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// CallStarter places outbound calls.
type CallStarter interface {
	Start(ctx context.Context, req calls.Request) (*calls.Result, error)
}

// CallHandler serves POST /call.
type CallHandler struct {
	starter CallStarter
	logger  *logging.Logger
}

func NewCallHandler(starter CallStarter, logger *logging.Logger) *CallHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallHandler{starter: starter, logger: logger}
}

func (h *CallHandler) Handle(w http.ResponseWriter, r *http.Request) {
	var req calls.Request
	if err := decodeJSON(w, r, &req); err != nil {
		jsonError(w, "Missing or invalid phone number", http.StatusBadRequest)
		return
	}

	result, err := h.starter.Start(r.Context(), req)
	if err != nil {
		status, message := callErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("outbound call failed", "tenant_slug", strings.TrimSpace(req.TenantSlug), "error", err)
		} else {
			h.logger.Info("outbound call rejected", "tenant_slug", strings.TrimSpace(req.TenantSlug), "error", err)
		}
		jsonError(w, message, status)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"data":          result.Call,
		"interactionId": result.InteractionID,
	})
}

func callErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, calls.ErrInvalidPhone):
		return http.StatusBadRequest, "Missing or invalid phone number"
	case errors.Is(err, calls.ErrChannelUnavailable):
		return http.StatusNotFound, "Call channel unavailable"
	case errors.Is(err, calls.ErrChannelMisconfigured):
		return http.StatusInternalServerError, "Call channel unavailable"
	default:
		return http.StatusInternalServerError, "Failed to trigger call"
	}
}
