// Package calls starts provider-placed outbound voice calls for tenants.
package calls

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/history"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/internal/retell"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const (
	historyMaxInteractions = 3
	historyLookbackMonths  = 6
)

var (
	// ErrInvalidPhone means the destination is missing or not E.164 after
	// normalization.
	ErrInvalidPhone = errors.New("calls: invalid phone number")
	// ErrChannelUnavailable means the tenant has no enabled VOICE channel.
	ErrChannelUnavailable = errors.New("calls: call channel unavailable")
	// ErrChannelMisconfigured means the VOICE channel lacks a number or agent.
	ErrChannelMisconfigured = errors.New("calls: call channel misconfigured")
)

// Request asks for an outbound call.
type Request struct {
	Phone             string `json:"phone"`
	TenantSlug        string `json:"subscriber"`
	TransferPreselect string `json:"transferPreselect,omitempty"`
}

// Result is the provider's response to a started call.
type Result struct {
	Call          *retell.PhoneCall
	InteractionID string
}

// ChannelLookup finds a tenant's enabled channel by slug.
type ChannelLookup interface {
	ChannelForTenant(ctx context.Context, slug string, kind channel.Kind) (*tenant.Channel, error)
}

// SignalSource builds the compact history block passed to the agent.
type SignalSource interface {
	Signals(ctx context.Context, q history.Query) (string, bool)
}

// Caller places phone calls with the AI provider.
type Caller interface {
	CreatePhoneCall(ctx context.Context, req retell.PhoneCallRequest) (*retell.PhoneCall, error)
}

// Store persists the interaction for a placed call.
type Store interface {
	FindByProviderCallID(ctx context.Context, kind channel.Kind, transport channel.Transport, callID string) (*interaction.Interaction, error)
	CreateThread(ctx context.Context, q interaction.Querier, in interaction.NewThread) (*interaction.Interaction, error)
}

// Service starts outbound calls.
type Service struct {
	channels ChannelLookup
	signals  SignalSource
	caller   Caller
	store    Store
	logger   *logging.Logger
}

// NewService wires a Service. signals may be nil.
func NewService(channels ChannelLookup, signals SignalSource, caller Caller, store Store, logger *logging.Logger) *Service {
	if channels == nil || caller == nil || store == nil {
		panic("calls: channels, caller and store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{channels: channels, signals: signals, caller: caller, store: store, logger: logger}
}

// Start validates req, places the call and records an OUTBOUND VOICE
// interaction for it.
func (s *Service) Start(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Phone) == "" {
		return nil, fmt.Errorf("%w: missing phone number", ErrInvalidPhone)
	}
	slug := tenant.NormalizeSlug(req.TenantSlug)
	if slug == "" {
		return nil, ErrChannelUnavailable
	}
	to, ok := phone.NormalizeValid(req.Phone)
	if !ok {
		return nil, fmt.Errorf("%w: %s after normalization", ErrInvalidPhone, to)
	}

	ch, err := s.channels.ChannelForTenant(ctx, slug, channel.Voice)
	if err != nil {
		if errors.Is(err, tenant.ErrChannelUnavailable) || errors.Is(err, tenant.ErrNotFound) {
			return nil, ErrChannelUnavailable
		}
		return nil, fmt.Errorf("calls: channel lookup: %w", err)
	}
	logger := s.logger.With("tenant_slug", slug, "tenant_id", ch.TenantID)
	if ch.AIProvider != "" && ch.AIProvider != channel.AIRetell {
		logger.Warn("calls: ai provider is not retell, using retell", "ai_provider", ch.AIProvider)
	}
	if ch.NumberE164 == "" {
		logger.Error("calls: voice channel has no number")
		return nil, fmt.Errorf("%w: missing number", ErrChannelMisconfigured)
	}
	if ch.AgentIDOutbound == "" {
		logger.Error("calls: voice channel has no outbound agent")
		return nil, fmt.Errorf("%w: missing outbound agent", ErrChannelMisconfigured)
	}
	if ch.Transport != channel.Retell && ch.Transport != channel.Twilio {
		logger.Warn("calls: unexpected voice transport", "transport", ch.Transport)
	}

	var summary string
	if s.signals != nil {
		summary, _ = s.signals.Signals(ctx, history.Query{
			TenantID:        ch.TenantID,
			Phone:           to,
			Channels:        []channel.Kind{channel.Voice},
			MaxInteractions: historyMaxInteractions,
			LookbackMonths:  historyLookbackMonths,
		})
	}

	vars := map[string]string{
		"call_type":       "outbound",
		"subscriber_slug": slug,
		"phone_number":    to,
	}
	if summary != "" {
		vars["history_summary"] = summary
	}
	if preselect := strings.TrimSpace(req.TransferPreselect); preselect != "" {
		vars["transfer_preselect"] = preselect
	}

	call, err := s.caller.CreatePhoneCall(ctx, retell.PhoneCallRequest{
		FromNumber:       ch.NumberE164,
		ToNumber:         to,
		OverrideAgentID:  ch.AgentIDOutbound,
		DynamicVariables: vars,
	})
	if err != nil {
		return nil, fmt.Errorf("calls: create phone call: %w", err)
	}

	res := &Result{Call: call}
	if call == nil || call.CallID == "" {
		logger.Warn("calls: provider response missing call id")
		return res, nil
	}

	existing, err := s.store.FindByProviderCallID(ctx, channel.Voice, channel.Retell, call.CallID)
	switch {
	case err == nil:
		res.InteractionID = existing.ID.String()
		return res, nil
	case !errors.Is(err, interaction.ErrNotFound):
		logger.Error("calls: interaction lookup failed", "call_id", call.CallID, "error", err)
		return res, nil
	}

	it, err := s.store.CreateThread(ctx, nil, interaction.NewThread{
		TenantID:       ch.TenantID,
		Channel:        channel.Voice,
		Direction:      interaction.Outbound,
		Transport:      channel.Retell,
		From:           ch.NumberE164,
		To:             to,
		ContactPhone:   to,
		ProviderCallID: call.CallID,
		Summary:        summary,
	})
	if err != nil {
		logger.Error("calls: record interaction failed", "call_id", call.CallID, "error", err)
		return res, nil
	}
	res.InteractionID = it.ID.String()
	logger.Info("calls: outbound call started", "call_id", call.CallID, "interaction_id", it.ID, "to", phone.Mask(to))
	return res, nil
}
