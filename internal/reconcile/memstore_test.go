package reconcile

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
)

// memStore is an in-memory interaction store covering everything the
// reconciler, limiter, bridge and dispatcher touch.
type memStore struct {
	mu           sync.Mutex
	interactions []*interaction.Interaction
	messages     []interaction.Message
	keys         map[uuid.UUID]interaction.ThreadKey
}

func newMemStore() *memStore {
	return &memStore{keys: map[uuid.UUID]interaction.ThreadKey{}}
}

func (s *memStore) MessageExists(_ context.Context, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.messages {
		if m.ProviderMessageID == providerMessageID {
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) FindOrCreateThread(_ context.Context, key interaction.ThreadKey, direction interaction.Direction, transport channel.Transport, windowStart time.Time) (*interaction.Interaction, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *interaction.Interaction
	for _, it := range s.interactions {
		if s.keys[it.ID] != key || it.StartedAt.Before(windowStart) {
			continue
		}
		if latest == nil || it.StartedAt.After(latest.StartedAt) {
			latest = it
		}
	}
	if latest != nil {
		cp := *latest
		return &cp, false, nil
	}
	nt := interaction.ThreadFromKey(key, direction, transport)
	now := time.Now()
	it := &interaction.Interaction{
		ID:           uuid.New(),
		TenantID:     nt.TenantID,
		Channel:      nt.Channel,
		Direction:    nt.Direction,
		Status:       interaction.StatusStarted,
		Transport:    nt.Transport,
		FromE164:     nt.From,
		ToE164:       nt.To,
		ContactPhone: nt.ContactPhone,
		StartedAt:    now,
		UpdatedAt:    now,
	}
	s.interactions = append(s.interactions, it)
	s.keys[it.ID] = key
	cp := *it
	return &cp, true, nil
}

func (s *memStore) AppendMessage(_ context.Context, interactionID uuid.UUID, role interaction.Role, content, providerMessageID string) (*interaction.Message, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if providerMessageID != "" {
		for _, m := range s.messages {
			if m.ProviderMessageID == providerMessageID {
				cp := m
				return &cp, false, nil
			}
		}
	}
	m := interaction.Message{
		ID:                uuid.New(),
		InteractionID:     interactionID,
		Role:              role,
		Content:           content,
		ProviderMessageID: providerMessageID,
		CreatedAt:         time.Now(),
	}
	s.messages = append(s.messages, m)
	return &m, true, nil
}

func (s *memStore) SetSummary(_ context.Context, id uuid.UUID, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.find(id); it != nil {
		it.Summary = summary
		return nil
	}
	return interaction.ErrNotFound
}

func (s *memStore) SetRemoteSession(_ context.Context, id uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.find(id); it != nil {
		it.RemoteSessionID = sessionID
		return nil
	}
	return interaction.ErrNotFound
}

func (s *memStore) RecentMessages(_ context.Context, id uuid.UUID, limit int) ([]interaction.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interaction.Message
	for _, m := range s.messages {
		if m.InteractionID == id {
			out = append(out, m)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *memStore) CountMessagesSince(_ context.Context, key interaction.ThreadKey, role interaction.Role, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.messages {
		if m.Role != role || m.CreatedAt.Before(since) {
			continue
		}
		if s.keys[m.InteractionID] == key {
			n++
		}
	}
	return n, nil
}

func (s *memStore) ListForContact(_ context.Context, q interaction.ContactQuery) ([]interaction.Interaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q.Limit <= 0 || q.Phone == "" {
		return nil, nil
	}
	kinds := q.Channels
	if len(kinds) == 0 {
		kinds = channel.AllKinds
	}
	var out []interaction.Interaction
	for _, it := range s.interactions {
		if it.TenantID != q.TenantID || it.ID == q.ExcludeID || !slices.Contains(kinds, it.Channel) || it.StartedAt.Before(q.Since) {
			continue
		}
		if it.FromE164 != q.Phone && it.ToE164 != q.Phone && it.ContactPhone != q.Phone {
			continue
		}
		out = append(out, *it)
	}
	slices.SortFunc(out, func(a, b interaction.Interaction) int { return b.StartedAt.Compare(a.StartedAt) })
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *memStore) MessagesFor(_ context.Context, ids []uuid.UUID) ([]interaction.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []interaction.Message
	for _, m := range s.messages {
		if slices.Contains(ids, m.InteractionID) {
			out = append(out, m)
		}
	}
	return out, nil
}

// setStatus changes a thread's status the way voice and admin flows do.
func (s *memStore) setStatus(id uuid.UUID, status interaction.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.find(id); it != nil {
		it.Status = status
	}
}

// backdate moves a thread's start so window boundaries can be exercised.
func (s *memStore) backdate(id uuid.UUID, by time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if it := s.find(id); it != nil {
		it.StartedAt = it.StartedAt.Add(-by)
	}
}

func (s *memStore) find(id uuid.UUID) *interaction.Interaction {
	for _, it := range s.interactions {
		if it.ID == id {
			return it
		}
	}
	return nil
}

func (s *memStore) snapshot() ([]interaction.Interaction, []interaction.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	its := make([]interaction.Interaction, 0, len(s.interactions))
	for _, it := range s.interactions {
		its = append(its, *it)
	}
	return its, append([]interaction.Message(nil), s.messages...)
}
