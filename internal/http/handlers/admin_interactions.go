package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/audit"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// InteractionReader loads an interaction and its messages.
type InteractionReader interface {
	Get(ctx context.Context, id uuid.UUID) (*interaction.Interaction, error)
	MessagesFor(ctx context.Context, interactionIDs []uuid.UUID) ([]interaction.Message, error)
}

// AuditReader lists audit events for an interaction.
type AuditReader interface {
	ListForInteraction(ctx context.Context, interactionID string, limit int) ([]audit.Event, error)
}

// AdminInteractionsHandler serves operator reads over interactions.
type AdminInteractionsHandler struct {
	store  InteractionReader
	audit  AuditReader
	logger *logging.Logger
}

func NewAdminInteractionsHandler(store InteractionReader, auditLog AuditReader, logger *logging.Logger) *AdminInteractionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &AdminInteractionsHandler{store: store, audit: auditLog, logger: logger}
}

type interactionDetail struct {
	Interaction *interaction.Interaction `json:"interaction"`
	Messages    []interaction.Message    `json:"messages"`
	AuditEvents []audit.Event            `json:"audit_events,omitempty"`
}

// HandleGet serves GET /admin/interactions/{id}.
func (h *AdminInteractionsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		jsonError(w, "invalid interaction id", http.StatusBadRequest)
		return
	}

	it, err := h.store.Get(r.Context(), id)
	if errors.Is(err, interaction.ErrNotFound) {
		jsonError(w, "interaction not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("admin: load interaction failed", "interaction_id", id, "error", err)
		jsonError(w, "failed to load interaction", http.StatusInternalServerError)
		return
	}

	msgs, err := h.store.MessagesFor(r.Context(), []uuid.UUID{id})
	if err != nil {
		h.logger.Error("admin: load messages failed", "interaction_id", id, "error", err)
		jsonError(w, "failed to load messages", http.StatusInternalServerError)
		return
	}
	if msgs == nil {
		msgs = []interaction.Message{}
	}

	detail := interactionDetail{Interaction: it, Messages: msgs}
	if h.audit != nil {
		events, err := h.audit.ListForInteraction(r.Context(), id.String(), 0)
		if err != nil {
			h.logger.Warn("admin: load audit events failed", "interaction_id", id, "error", err)
		}
		detail.AuditEvents = events
	}
	writeJSON(w, http.StatusOK, detail)
}
