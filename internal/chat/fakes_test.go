package chat

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/calls"
	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/session"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
)

type fakeTenants struct {
	tenants map[string]*tenant.Tenant
}

func (f *fakeTenants) TenantBySlug(_ context.Context, slug string) (*tenant.Tenant, error) {
	if t, ok := f.tenants[slug]; ok {
		return t, nil
	}
	return nil, tenant.ErrNotFound
}

type fakeChannels struct {
	channels map[string]*tenant.Channel
}

func (f *fakeChannels) ChannelForTenant(_ context.Context, slug string, kind channel.Kind) (*tenant.Channel, error) {
	if ch, ok := f.channels[slug]; ok && ch.Kind == kind {
		return ch, nil
	}
	return nil, tenant.ErrChannelUnavailable
}

type fakeStore struct {
	mu           sync.Mutex
	interactions map[uuid.UUID]*interaction.Interaction
	messages     []interaction.Message
}

func newFakeStore() *fakeStore {
	return &fakeStore{interactions: map[uuid.UUID]*interaction.Interaction{}}
}

func (f *fakeStore) Get(_ context.Context, id uuid.UUID) (*interaction.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if it, ok := f.interactions[id]; ok {
		cp := *it
		return &cp, nil
	}
	return nil, interaction.ErrNotFound
}

func (f *fakeStore) CreateThread(_ context.Context, _ interaction.Querier, in interaction.NewThread) (*interaction.Interaction, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	it := &interaction.Interaction{
		ID:        uuid.New(),
		TenantID:  in.TenantID,
		Channel:   in.Channel,
		Direction: in.Direction,
		Transport: in.Transport,
		Status:    interaction.StatusStarted,
		StartedAt: time.Now(),
	}
	f.interactions[it.ID] = it
	cp := *it
	return &cp, nil
}

func (f *fakeStore) AppendMessage(_ context.Context, id uuid.UUID, role interaction.Role, content, providerID string) (*interaction.Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := interaction.Message{ID: uuid.New(), InteractionID: id, Role: role, Content: content, ProviderMessageID: providerID, CreatedAt: time.Now()}
	f.messages = append(f.messages, m)
	return &m, true, nil
}

func (f *fakeStore) RecentMessages(_ context.Context, id uuid.UUID, limit int) ([]interaction.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []interaction.Message
	for _, m := range f.messages {
		if m.InteractionID == id {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

type fakeReplier struct {
	mu    sync.Mutex
	text  string
	err   error
	calls []string
	vars  map[string]string
}

func (f *fakeReplier) Reply(_ context.Context, it *interaction.Interaction, _ string, vars map[string]string, text string) (*session.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, text)
	f.vars = vars
	if f.err != nil {
		return nil, f.err
	}
	return &session.Reply{Text: f.text, SessionID: "chat_1"}, nil
}

type fakeCalls struct {
	mu   sync.Mutex
	reqs []calls.Request
}

func (f *fakeCalls) Enqueue(_ context.Context, _, _ string, req calls.Request) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	return nil
}

type fixture struct {
	tenant  *tenant.Tenant
	store   *fakeStore
	replier *fakeReplier
	calls   *fakeCalls
	svc     *Service
}

func newFixture() *fixture {
	t := &tenant.Tenant{
		ID:              uuid.New(),
		Slug:            "acme",
		DisplayName:     "Acme Dental",
		PublicPhoneE164: "+15559876543",
		AllowedDomains:  []string{"acme.example"},
		WidgetGreeting:  "Hi! How can we help?",
	}
	f := &fixture{
		tenant:  t,
		store:   newFakeStore(),
		replier: &fakeReplier{text: "We open at 9."},
		calls:   &fakeCalls{},
	}
	f.svc = NewService(
		&fakeTenants{tenants: map[string]*tenant.Tenant{"acme": t}},
		&fakeChannels{channels: map[string]*tenant.Channel{"acme": {TenantID: t.ID, Kind: channel.Chat, Enabled: true, Transport: channel.Retell, AgentIDInbound: "agent_chat"}}},
		f.store,
		f.replier,
		f.calls,
		nil,
	)
	return f
}
