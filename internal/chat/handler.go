package chat

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/websocket"

	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const historyLimit = 50

// Handler exposes the chat service over HTTP and WebSocket.
type Handler struct {
	svc    *Service
	logger *logging.Logger
}

// InboundFrame is what the widget sends over the socket.
type InboundFrame struct {
	Type string `json:"type"` // "message", "ping"
	Text string `json:"text"`
}

// OutboundFrame is what the widget receives.
type OutboundFrame struct {
	Type          string           `json:"type"` // "session", "typing", "message", "history", "error", "pong"
	Text          string           `json:"text,omitempty"`
	Role          string           `json:"role,omitempty"`
	InteractionID string           `json:"interactionId,omitempty"`
	CallRequested bool             `json:"callRequested,omitempty"`
	Timestamp     string           `json:"timestamp,omitempty"`
	Messages      []HistoryMessage `json:"messages,omitempty"`
}

// HistoryMessage is a simplified message for history responses.
type HistoryMessage struct {
	Role      string `json:"role"`
	Text      string `json:"text"`
	Timestamp string `json:"timestamp"`
}

// WidgetConfig is the widget branding for a tenant.
type WidgetConfig struct {
	Title     string `json:"title,omitempty"`
	Subtitle  string `json:"subtitle,omitempty"`
	Greeting  string `json:"greeting,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

func NewHandler(svc *Service, logger *logging.Logger) *Handler {
	if svc == nil {
		panic("chat: service required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// HandleMessage serves POST /chat.
func (h *Handler) HandleMessage(w http.ResponseWriter, r *http.Request) {
	var msg Message
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&msg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	msg.Origin = r.Header.Get("Origin")

	reply, err := h.svc.Send(r.Context(), msg)
	if err != nil {
		status, text := errorStatus(err)
		if status == http.StatusInternalServerError {
			h.logger.Error("chat: message failed", "tenant_slug", msg.TenantSlug, "error", err)
		}
		writeJSON(w, status, map[string]string{"error": text})
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// HandleHistory serves GET /chat/history?tenant=slug&interaction=id.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("tenant")
	interactionID := r.URL.Query().Get("interaction")
	if slug == "" || interactionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "tenant and interaction parameters required"})
		return
	}
	t, err := h.svc.Tenant(r.Context(), slug, r.Header.Get("Origin"))
	if err != nil {
		status, text := errorStatus(err)
		writeJSON(w, status, map[string]string{"error": text})
		return
	}
	msgs, err := h.svc.History(r.Context(), t, interactionID, historyLimit)
	if err != nil {
		if errors.Is(err, interaction.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "conversation not found"})
			return
		}
		h.logger.Error("chat: failed to load history", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load history"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": historyMessages(msgs)})
}

// HandleWidgetConfig serves GET /widget-config?subscriber=slug. Unknown
// tenants get an empty object.
func (h *Handler) HandleWidgetConfig(w http.ResponseWriter, r *http.Request) {
	t, err := h.svc.Tenant(r.Context(), r.URL.Query().Get("subscriber"), "")
	if err != nil {
		if !errors.Is(err, ErrTenantNotFound) {
			h.logger.Warn("chat: widget config lookup failed", "error", err)
		}
		writeJSON(w, http.StatusOK, WidgetConfig{})
		return
	}
	title := t.WidgetTitle
	if title == "" {
		title = t.DisplayName
	}
	writeJSON(w, http.StatusOK, WidgetConfig{
		Title:     title,
		Subtitle:  t.WidgetSubtitle,
		Greeting:  t.WidgetGreeting,
		AvatarURL: t.WidgetAvatarURL,
	})
}

// HandleWebSocket serves /chat/ws?tenant=slug[&interaction=id]. The
// handshake enforces the tenant's origin allowlist.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	slug := r.URL.Query().Get("tenant")
	server := websocket.Server{
		Handshake: func(cfg *websocket.Config, req *http.Request) error {
			origin := req.Header.Get("Origin")
			if _, err := h.svc.Tenant(req.Context(), slug, origin); err != nil {
				return err
			}
			return nil
		},
		Handler: func(conn *websocket.Conn) {
			h.serveWS(conn, r, slug)
		},
	}
	server.ServeHTTP(w, r)
}

func (h *Handler) serveWS(conn *websocket.Conn, r *http.Request, slug string) {
	ctx := r.Context()
	origin := r.Header.Get("Origin")
	interactionID := r.URL.Query().Get("interaction")

	if interactionID != "" {
		if t, err := h.svc.Tenant(ctx, slug, origin); err == nil {
			if msgs, err := h.svc.History(ctx, t, interactionID, historyLimit); err == nil && len(msgs) > 0 {
				_ = websocket.JSON.Send(conn, OutboundFrame{Type: "history", InteractionID: interactionID, Messages: historyMessages(msgs)})
			}
		}
	}

	h.logger.Info("chat: connection opened", "tenant_slug", slug)
	for {
		var frame InboundFrame
		if err := websocket.JSON.Receive(conn, &frame); err != nil {
			h.logger.Debug("chat: connection closed", "tenant_slug", slug, "error", err)
			return
		}
		if frame.Type == "ping" {
			_ = websocket.JSON.Send(conn, OutboundFrame{Type: "pong"})
			continue
		}
		if frame.Type != "message" || strings.TrimSpace(frame.Text) == "" {
			continue
		}

		_ = websocket.JSON.Send(conn, OutboundFrame{Type: "typing"})
		reply, err := h.svc.Send(ctx, Message{TenantSlug: slug, Text: frame.Text, InteractionID: interactionID, Origin: origin})
		if err != nil {
			_, text := errorStatus(err)
			h.logger.Error("chat: socket message failed", "tenant_slug", slug, "error", err)
			_ = websocket.JSON.Send(conn, OutboundFrame{Type: "error", Text: text})
			continue
		}
		if interactionID != reply.InteractionID {
			interactionID = reply.InteractionID
			_ = websocket.JSON.Send(conn, OutboundFrame{Type: "session", InteractionID: interactionID})
		}
		_ = websocket.JSON.Send(conn, OutboundFrame{
			Type:          "message",
			Role:          "assistant",
			Text:          reply.Reply,
			InteractionID: reply.InteractionID,
			CallRequested: reply.CallRequested,
			Timestamp:     time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func historyMessages(msgs []interaction.Message) []HistoryMessage {
	out := make([]HistoryMessage, 0, len(msgs))
	for _, m := range msgs {
		role := "assistant"
		switch m.Role {
		case interaction.RoleUser:
			role = "user"
		case interaction.RoleSystem, interaction.RoleTool:
			continue
		}
		out = append(out, HistoryMessage{Role: role, Text: m.Content, Timestamp: m.CreatedAt.UTC().Format(time.RFC3339)})
	}
	return out
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, ErrEmptyMessage):
		return http.StatusBadRequest, "Missing or invalid 'message' field"
	case errors.Is(err, ErrTenantNotFound), errors.Is(err, ErrChannelUnavailable):
		return http.StatusNotFound, "Chat unavailable"
	case errors.Is(err, ErrOriginNotAllowed):
		return http.StatusForbidden, "Origin not allowed"
	}
	return http.StatusInternalServerError, "Failed to get chat response"
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
