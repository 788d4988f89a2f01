package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/history"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// Retell call lifecycle events.
const (
	eventCallStarted  = "call_started"
	eventCallEnded    = "call_ended"
	eventCallAnalyzed = "call_analyzed"
	eventCallInbound  = "call_inbound"
)

// VoiceStore persists voice interactions keyed by the provider call id.
type VoiceStore interface {
	FindByProviderCallID(ctx context.Context, kind channel.Kind, transport channel.Transport, callID string) (*interaction.Interaction, error)
	CreateThread(ctx context.Context, q interaction.Querier, in interaction.NewThread) (*interaction.Interaction, error)
	AppendMessage(ctx context.Context, interactionID uuid.UUID, role interaction.Role, content, providerMessageID string) (*interaction.Message, bool, error)
	SetContactPhone(ctx context.Context, id uuid.UUID, phone string) error
	Complete(ctx context.Context, id uuid.UUID, endedAt time.Time) error
}

// VoiceChannelResolver maps a dialed number to its tenant VOICE channel.
type VoiceChannelResolver interface {
	ResolveChannel(ctx context.Context, kind channel.Kind, address string) (*tenant.Channel, error)
}

// VoiceWebhookConfig configures VoiceWebhookHandler.
type VoiceWebhookConfig struct {
	Store    VoiceStore
	Channels VoiceChannelResolver
	History  HistoryDigester
	Logger   *logging.Logger
}

// VoiceWebhookHandler keeps VOICE interactions in step with provider call
// events and answers inbound call routing requests.
type VoiceWebhookHandler struct {
	store    VoiceStore
	channels VoiceChannelResolver
	history  HistoryDigester
	logger   *logging.Logger
}

func NewVoiceWebhookHandler(cfg VoiceWebhookConfig) *VoiceWebhookHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &VoiceWebhookHandler{
		store:    cfg.Store,
		channels: cfg.Channels,
		history:  cfg.History,
		logger:   cfg.Logger,
	}
}

type transcriptTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type voiceCall struct {
	CallID           string           `json:"call_id"`
	AgentID          string           `json:"agent_id"`
	Direction        string           `json:"direction"`
	FromNumber       string           `json:"from_number"`
	ToNumber         string           `json:"to_number"`
	StartTimestamp   int64            `json:"start_timestamp"`
	EndTimestamp     int64            `json:"end_timestamp"`
	TranscriptObject []transcriptTurn `json:"transcript_object"`
}

type voiceEvent struct {
	Event string    `json:"event"`
	Call  voiceCall `json:"call"`
}

func (c voiceCall) outbound() bool {
	return strings.EqualFold(c.Direction, "outbound")
}

// contact is the caller on inbound calls and the callee on outbound ones.
func (c voiceCall) contact() string {
	if c.outbound() {
		return phone.Normalize(c.ToNumber)
	}
	return phone.Normalize(c.FromNumber)
}

// business is the tenant's number on the call.
func (c voiceCall) business() string {
	if c.outbound() {
		return phone.Normalize(c.FromNumber)
	}
	return phone.Normalize(c.ToNumber)
}

func millis(ts int64) time.Time {
	if ts <= 0 {
		return time.Now().UTC()
	}
	return time.UnixMilli(ts).UTC()
}

// HandleWebhook serves POST /retell/voice-webhook. Unknown events are acked.
func (h *VoiceWebhookHandler) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	var evt voiceEvent
	if err := decodeJSON(w, r, &evt); err != nil {
		h.logger.Warn("voice webhook body rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]bool{"ok": false})
		return
	}
	log := h.logger.With("event", evt.Event, "call_id", evt.Call.CallID)
	if strings.TrimSpace(evt.Call.CallID) == "" {
		log.Info("voice webhook without call id ignored")
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	var err error
	switch evt.Event {
	case eventCallStarted:
		_, err = h.ensureInteraction(r.Context(), evt.Call)
	case eventCallEnded:
		err = h.complete(r.Context(), evt.Call)
	case eventCallAnalyzed:
		log.Debug("voice call analyzed")
	default:
		log.Info("voice webhook event ignored")
	}
	if err != nil {
		log.Error("voice webhook failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"ok": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// ensureInteraction returns the VOICE interaction for the call, creating it
// when the call was not placed through the relay. A nil interaction with no
// error means no tenant owns the number.
func (h *VoiceWebhookHandler) ensureInteraction(ctx context.Context, call voiceCall) (*interaction.Interaction, error) {
	it, err := h.store.FindByProviderCallID(ctx, channel.Voice, channel.Retell, call.CallID)
	switch {
	case err == nil:
		if contact := call.contact(); contact != "" && it.ContactPhone == "" {
			if err := h.store.SetContactPhone(ctx, it.ID, contact); err != nil {
				return nil, fmt.Errorf("set contact phone: %w", err)
			}
			it.ContactPhone = contact
		}
		return it, nil
	case !errors.Is(err, interaction.ErrNotFound):
		return nil, fmt.Errorf("find voice interaction: %w", err)
	}

	ch, err := h.channels.ResolveChannel(ctx, channel.Voice, call.business())
	if err != nil {
		if errors.Is(err, tenant.ErrChannelUnavailable) || errors.Is(err, tenant.ErrAmbiguousRouting) {
			h.logger.Warn("voice call has no routable tenant", "call_id", call.CallID, "business_phone", phone.Mask(call.business()), "error", err)
			return nil, nil
		}
		return nil, fmt.Errorf("resolve voice channel: %w", err)
	}

	direction := interaction.Inbound
	if call.outbound() {
		direction = interaction.Outbound
	}
	created, err := h.store.CreateThread(ctx, nil, interaction.NewThread{
		TenantID:       ch.TenantID,
		Channel:        channel.Voice,
		Direction:      direction,
		Transport:      channel.Retell,
		From:           phone.Normalize(call.FromNumber),
		To:             phone.Normalize(call.ToNumber),
		ContactPhone:   call.contact(),
		ProviderCallID: call.CallID,
	})
	if err != nil {
		return nil, fmt.Errorf("create voice interaction: %w", err)
	}
	h.logger.Info("voice interaction created", "call_id", call.CallID, "interaction_id", created.ID, "tenant_id", ch.TenantID)
	return created, nil
}

// complete stores the transcript and marks the interaction COMPLETED.
func (h *VoiceWebhookHandler) complete(ctx context.Context, call voiceCall) error {
	it, err := h.ensureInteraction(ctx, call)
	if err != nil || it == nil {
		return err
	}
	for i, turn := range call.TranscriptObject {
		content := strings.TrimSpace(turn.Content)
		if content == "" {
			continue
		}
		role := interaction.RoleAgent
		if strings.EqualFold(turn.Role, "user") {
			role = interaction.RoleUser
		}
		providerID := fmt.Sprintf("%s:%d", call.CallID, i)
		if _, _, err := h.store.AppendMessage(ctx, it.ID, role, content, providerID); err != nil {
			return fmt.Errorf("append transcript turn %d: %w", i, err)
		}
	}
	if err := h.store.Complete(ctx, it.ID, millis(call.EndTimestamp)); err != nil {
		return fmt.Errorf("complete voice interaction: %w", err)
	}
	return nil
}

type inboundCall struct {
	AgentID    string `json:"agent_id"`
	FromNumber string `json:"from_number"`
	ToNumber   string `json:"to_number"`
}

type inboundEvent struct {
	Event       string      `json:"event"`
	CallInbound inboundCall `json:"call_inbound"`
}

type inboundOverride struct {
	OverrideAgentID  string            `json:"override_agent_id,omitempty"`
	DynamicVariables map[string]string `json:"dynamic_variables,omitempty"`
}

// HandleInbound serves POST /retell/voice-inbound. It picks the tenant's
// inbound agent and seeds it with the caller's history. Calls to numbers no
// tenant owns get an empty override so the provider default applies.
func (h *VoiceWebhookHandler) HandleInbound(w http.ResponseWriter, r *http.Request) {
	var evt inboundEvent
	if err := decodeJSON(w, r, &evt); err != nil {
		h.logger.Warn("voice inbound body rejected", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]bool{"ok": false})
		return
	}
	if evt.Event != "" && evt.Event != eventCallInbound {
		writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	to := phone.Normalize(evt.CallInbound.ToNumber)
	from := phone.Normalize(evt.CallInbound.FromNumber)
	ch, err := h.channels.ResolveChannel(r.Context(), channel.Voice, to)
	if err != nil {
		if errors.Is(err, tenant.ErrChannelUnavailable) || errors.Is(err, tenant.ErrAmbiguousRouting) {
			h.logger.Warn("voice inbound has no routable tenant", "to", phone.Mask(to), "error", err)
			writeJSON(w, http.StatusOK, map[string]inboundOverride{"call_inbound": {}})
			return
		}
		h.logger.Error("voice inbound channel lookup failed", "to", phone.Mask(to), "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]bool{"ok": false})
		return
	}

	vars := map[string]string{
		"channel":        string(channel.Voice),
		"call_type":      "inbound",
		"tenant_id":      ch.TenantID.String(),
		"contact_phone":  from,
		"business_phone": to,
	}
	if h.history != nil && from != "" {
		if summary, ok := h.history.Signals(r.Context(), history.Query{
			TenantID:        ch.TenantID,
			Phone:           from,
			Channels:        channel.AllKinds,
			MaxInteractions: functionMaxInteractions,
			LookbackMonths:  functionLookbackMonths,
		}); ok {
			vars["history_summary"] = summary
		}
	}
	writeJSON(w, http.StatusOK, map[string]inboundOverride{
		"call_inbound": {OverrideAgentID: ch.AgentIDInbound, DynamicVariables: vars},
	})
}
