package handlers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/audit"
	"github.com/wolfman30/receptionist-relay/internal/calls"
	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/history"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/messaging"
	"github.com/wolfman30/receptionist-relay/internal/reconcile"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
)

var (
	acmeID       = uuid.MustParse("11111111-1111-1111-1111-111111111111")
	acmeNumber   = "+15550001111"
	callerNumber = "+15551234567"
)

type fakeReconciler struct {
	mu      sync.Mutex
	got     []messaging.InboundSMS
	outcome reconcile.Outcome
	err     error
}

func (f *fakeReconciler) Handle(_ context.Context, msg messaging.InboundSMS) (reconcile.Outcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, msg)
	return f.outcome, f.err
}

type fakeStarter struct {
	req    calls.Request
	result *calls.Result
	err    error
}

func (f *fakeStarter) Start(_ context.Context, req calls.Request) (*calls.Result, error) {
	f.req = req
	return f.result, f.err
}

type fakeHistory struct {
	signals string
	detail  string
	queries []history.Query
}

func (f *fakeHistory) Signals(_ context.Context, q history.Query) (string, bool) {
	f.queries = append(f.queries, q)
	return f.signals, f.signals != ""
}

func (f *fakeHistory) Detail(_ context.Context, q history.Query) (string, bool) {
	f.queries = append(f.queries, q)
	return f.detail, f.detail != ""
}

type fakeTenants map[string]*tenant.Tenant

func (f fakeTenants) TenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	if t, ok := f[slug]; ok {
		return t, nil
	}
	return nil, tenant.ErrNotFound
}

type fakeResolver struct {
	channels map[string]*tenant.Channel
	err      error
}

func (f *fakeResolver) ResolveChannel(_ context.Context, kind channel.Kind, address string) (*tenant.Channel, error) {
	if f.err != nil {
		return nil, f.err
	}
	if ch, ok := f.channels[string(kind)+"|"+address]; ok {
		return ch, nil
	}
	return nil, tenant.ErrChannelUnavailable
}

func voiceResolver() *fakeResolver {
	return &fakeResolver{channels: map[string]*tenant.Channel{
		"VOICE|" + acmeNumber: {
			TenantID:       acmeID,
			Kind:           channel.Voice,
			Enabled:        true,
			Transport:      channel.Retell,
			NumberE164:     acmeNumber,
			AgentIDInbound: "agent_in",
		},
	}}
}

// fakeStore is an in-memory interaction store covering every handler
// interface.
type fakeStore struct {
	mu           sync.Mutex
	interactions map[uuid.UUID]*interaction.Interaction
	messages     []interaction.Message
	getErr       error
}

func newFakeStore() *fakeStore {
	return &fakeStore{interactions: map[uuid.UUID]*interaction.Interaction{}}
}

func (s *fakeStore) add(it interaction.Interaction) *interaction.Interaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it.ID == uuid.Nil {
		it.ID = uuid.New()
	}
	s.interactions[it.ID] = &it
	return &it
}

func (s *fakeStore) Get(_ context.Context, id uuid.UUID) (*interaction.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	it, ok := s.interactions[id]
	if !ok {
		return nil, interaction.ErrNotFound
	}
	cp := *it
	return &cp, nil
}

func (s *fakeStore) SetContactPhone(_ context.Context, id uuid.UUID, phone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.interactions[id]
	if !ok {
		return interaction.ErrNotFound
	}
	it.ContactPhone = phone
	return nil
}

func (s *fakeStore) FindByProviderCallID(_ context.Context, kind channel.Kind, transport channel.Transport, callID string) (*interaction.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, it := range s.interactions {
		if it.Channel == kind && it.Transport == transport && it.ProviderCallID == callID {
			cp := *it
			return &cp, nil
		}
	}
	return nil, interaction.ErrNotFound
}

func (s *fakeStore) CreateThread(_ context.Context, _ interaction.Querier, in interaction.NewThread) (*interaction.Interaction, error) {
	return s.add(interaction.Interaction{
		TenantID:       in.TenantID,
		Channel:        in.Channel,
		Direction:      in.Direction,
		Status:         interaction.StatusStarted,
		Transport:      in.Transport,
		ProviderCallID: in.ProviderCallID,
		FromE164:       in.From,
		ToE164:         in.To,
		ContactPhone:   in.ContactPhone,
		StartedAt:      time.Now().UTC(),
	}), nil
}

func (s *fakeStore) AppendMessage(_ context.Context, id uuid.UUID, role interaction.Role, content, providerID string) (*interaction.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if providerID != "" && m.ProviderMessageID == providerID {
			return nil, false, nil
		}
	}
	msg := interaction.Message{ID: uuid.New(), InteractionID: id, Role: role, Content: content, ProviderMessageID: providerID}
	s.messages = append(s.messages, msg)
	return &msg, true, nil
}

func (s *fakeStore) MessagesFor(_ context.Context, ids []uuid.UUID) ([]interaction.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interaction.Message
	for _, m := range s.messages {
		for _, id := range ids {
			if m.InteractionID == id {
				out = append(out, m)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) Complete(_ context.Context, id uuid.UUID, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.interactions[id]
	if !ok {
		return interaction.ErrNotFound
	}
	it.Status = interaction.StatusCompleted
	it.EndedAt = &endedAt
	return nil
}

type fakeAudit struct {
	events []audit.Event
	err    error
}

func (f *fakeAudit) ListForInteraction(context.Context, string, int) ([]audit.Event, error) {
	return f.events, f.err
}

type fakeTelnyx struct{ err error }

func (f fakeTelnyx) VerifyWebhookSignature(string, string, []byte) error { return f.err }

var errBoom = errors.New("boom")
