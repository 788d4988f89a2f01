// Package chat serves the embeddable web chat: tenant-scoped threads bridged
// to the remote AI session, with outbound call requests handed to a queue.
package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/calls"
	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/session"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// FallbackReply is sent when the agent produced no usable text.
const FallbackReply = "(Sorry, I couldn't generate a response.)"

var (
	ErrEmptyMessage       = errors.New("chat: message required")
	ErrTenantNotFound     = errors.New("chat: tenant not found")
	ErrOriginNotAllowed   = errors.New("chat: origin not allowed")
	ErrChannelUnavailable = errors.New("chat: chat channel unavailable")
)

var callRequestPattern = regexp.MustCompile(`(?i)^\s*CALL_REQUEST:\s*(.+?)\s*$`)

// TenantLookup resolves tenant metadata.
type TenantLookup interface {
	TenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
}

// ChannelLookup finds a tenant's enabled channel by slug.
type ChannelLookup interface {
	ChannelForTenant(ctx context.Context, slug string, kind channel.Kind) (*tenant.Channel, error)
}

// Store is the interaction store surface chat needs.
type Store interface {
	Get(ctx context.Context, id uuid.UUID) (*interaction.Interaction, error)
	CreateThread(ctx context.Context, q interaction.Querier, in interaction.NewThread) (*interaction.Interaction, error)
	AppendMessage(ctx context.Context, interactionID uuid.UUID, role interaction.Role, content, providerMessageID string) (*interaction.Message, bool, error)
	RecentMessages(ctx context.Context, interactionID uuid.UUID, limit int) ([]interaction.Message, error)
}

// Replier produces agent replies on an interaction's remote session.
type Replier interface {
	Reply(ctx context.Context, it *interaction.Interaction, agentID string, vars map[string]string, userText string) (*session.Reply, error)
}

// CallEnqueuer hands call requests to the outbound call worker.
type CallEnqueuer interface {
	Enqueue(ctx context.Context, source, referenceID string, req calls.Request) error
}

// Message is one visitor message.
type Message struct {
	TenantSlug    string `json:"tenant"`
	Text          string `json:"message"`
	InteractionID string `json:"interactionId,omitempty"`
	Origin        string `json:"-"`
}

// Reply is the agent's answer to a Message.
type Reply struct {
	InteractionID string `json:"interactionId"`
	Reply         string `json:"reply"`
	CallRequested bool   `json:"callRequested,omitempty"`
}

// Service runs chat turns.
type Service struct {
	tenants  TenantLookup
	channels ChannelLookup
	store    Store
	replier  Replier
	calls    CallEnqueuer
	logger   *logging.Logger
}

// NewService wires a Service. callQueue may be nil to ignore call requests.
func NewService(tenants TenantLookup, channels ChannelLookup, store Store, replier Replier, callQueue CallEnqueuer, logger *logging.Logger) *Service {
	if tenants == nil || channels == nil || store == nil || replier == nil {
		panic("chat: tenants, channels, store and replier required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{tenants: tenants, channels: channels, store: store, replier: replier, calls: callQueue, logger: logger}
}

// Tenant loads the tenant for slug and checks origin against its allowlist.
func (s *Service) Tenant(ctx context.Context, slug, origin string) (*tenant.Tenant, error) {
	slug = tenant.NormalizeSlug(slug)
	if slug == "" {
		return nil, ErrTenantNotFound
	}
	t, err := s.tenants.TenantBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, tenant.ErrNotFound) {
			return nil, ErrTenantNotFound
		}
		return nil, fmt.Errorf("chat: tenant lookup: %w", err)
	}
	if origin != "" && !t.AllowsOrigin(origin) {
		return nil, ErrOriginNotAllowed
	}
	return t, nil
}

// Send runs one visitor turn.
func (s *Service) Send(ctx context.Context, msg Message) (*Reply, error) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	t, err := s.Tenant(ctx, msg.TenantSlug, msg.Origin)
	if err != nil {
		return nil, err
	}
	ch, err := s.channels.ChannelForTenant(ctx, t.Slug, channel.Chat)
	if err != nil {
		if errors.Is(err, tenant.ErrChannelUnavailable) {
			return nil, ErrChannelUnavailable
		}
		return nil, fmt.Errorf("chat: channel lookup: %w", err)
	}
	logger := s.logger.With("tenant_id", t.ID, "tenant_slug", t.Slug)

	it, err := s.thread(ctx, t, ch, msg.InteractionID)
	if err != nil {
		return nil, err
	}
	logger = logger.With("interaction_id", it.ID)

	if _, _, err := s.store.AppendMessage(ctx, it.ID, interaction.RoleUser, text, ""); err != nil {
		return nil, fmt.Errorf("chat: append user message: %w", err)
	}

	vars := map[string]string{
		"channel":         string(channel.Chat),
		"subscriber_slug": t.Slug,
		"business_name":   t.DisplayName,
	}
	if t.PublicPhoneE164 != "" {
		vars["business_phone"] = t.PublicPhoneE164
	}

	raw := ""
	reply, err := s.replier.Reply(ctx, it, ch.AgentIDInbound, vars, text)
	switch {
	case err == nil:
		raw = reply.Text
	case errors.Is(err, session.ErrEmptyReply):
		logger.Warn("chat: agent returned no reply")
	default:
		logger.Error("chat: reply failed", "error", err)
		return nil, fmt.Errorf("chat: reply: %w", err)
	}

	cleaned, callPhone := ExtractCallRequest(raw)
	if cleaned == "" {
		cleaned = FallbackReply
	}
	out := &Reply{InteractionID: it.ID.String(), Reply: cleaned}

	if callPhone != "" {
		out.CallRequested = s.requestCall(ctx, logger, t.Slug, it.ID.String(), callPhone)
	}

	if _, _, err := s.store.AppendMessage(ctx, it.ID, interaction.RoleAgent, cleaned, ""); err != nil {
		logger.Error("chat: append agent message failed", "error", err)
	}
	return out, nil
}

// History returns the thread's recent messages after checking it belongs to
// the tenant.
func (s *Service) History(ctx context.Context, t *tenant.Tenant, interactionID string, limit int) ([]interaction.Message, error) {
	it, err := s.ownedThread(ctx, t, interactionID)
	if err != nil {
		return nil, err
	}
	return s.store.RecentMessages(ctx, it.ID, limit)
}

func (s *Service) thread(ctx context.Context, t *tenant.Tenant, ch *tenant.Channel, interactionID string) (*interaction.Interaction, error) {
	if strings.TrimSpace(interactionID) != "" {
		it, err := s.ownedThread(ctx, t, interactionID)
		if err == nil && it.Status != interaction.StatusCompleted {
			return it, nil
		}
		if err != nil && !errors.Is(err, interaction.ErrNotFound) {
			return nil, err
		}
	}
	transport := ch.Transport
	if transport == "" {
		transport = channel.Retell
	}
	it, err := s.store.CreateThread(ctx, nil, interaction.NewThread{
		TenantID:  t.ID,
		Channel:   channel.Chat,
		Direction: interaction.Inbound,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("chat: create thread: %w", err)
	}
	return it, nil
}

func (s *Service) ownedThread(ctx context.Context, t *tenant.Tenant, interactionID string) (*interaction.Interaction, error) {
	id, err := uuid.Parse(strings.TrimSpace(interactionID))
	if err != nil {
		return nil, interaction.ErrNotFound
	}
	it, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if it.TenantID != t.ID || it.Channel != channel.Chat {
		return nil, interaction.ErrNotFound
	}
	return it, nil
}

func (s *Service) requestCall(ctx context.Context, logger *logging.Logger, slug, interactionID, phoneNumber string) bool {
	if s.calls == nil {
		logger.Warn("chat: call requested but no call queue configured")
		return false
	}
	err := s.calls.Enqueue(context.WithoutCancel(ctx), "chat", interactionID, calls.Request{Phone: phoneNumber, TenantSlug: slug})
	if err != nil {
		logger.Error("chat: enqueue call request failed", "error", err)
		return false
	}
	logger.Info("chat: call request enqueued")
	return true
}

// ExtractCallRequest removes "CALL_REQUEST: <phone>" lines from reply and
// returns the cleaned text with the last requested phone.
func ExtractCallRequest(reply string) (string, string) {
	lines := strings.Split(strings.ReplaceAll(reply, "\r\n", "\n"), "\n")
	kept := lines[:0]
	phoneNumber := ""
	for _, line := range lines {
		if m := callRequestPattern.FindStringSubmatch(line); m != nil {
			phoneNumber = m[1]
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimSpace(strings.Join(kept, "\n")), phoneNumber
}
