// Package interaction persists conversation threads and their messages.
package interaction

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/channel"
)

// ErrNotFound is returned when a thread or message lookup misses.
var ErrNotFound = errors.New("interaction: not found")

// Direction records who opened the thread.
type Direction string

const (
	Inbound  Direction = "INBOUND"
	Outbound Direction = "OUTBOUND"
)

// Status is the lifecycle stage of a thread.
type Status string

const (
	StatusStarted    Status = "STARTED"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// Role identifies the author of a message.
type Role string

const (
	RoleUser   Role = "USER"
	RoleAgent  Role = "AGENT"
	RoleSystem Role = "SYSTEM"
	RoleTool   Role = "TOOL"
)

// ParseRole accepts the persisted role names.
func ParseRole(s string) (Role, error) {
	switch r := Role(s); r {
	case RoleUser, RoleAgent, RoleSystem, RoleTool:
		return r, nil
	}
	return "", fmt.Errorf("interaction: unknown role %q", s)
}

// Interaction is a conversation thread between a tenant and a contact on one
// channel. Empty strings stand in for NULL columns.
type Interaction struct {
	ID              uuid.UUID         `json:"id"`
	TenantID        uuid.UUID         `json:"tenant_id"`
	Channel         channel.Kind      `json:"channel"`
	Direction       Direction         `json:"direction"`
	Status          Status            `json:"status"`
	Transport       channel.Transport `json:"transport_provider"`
	RemoteSessionID string            `json:"remote_session_id,omitempty"`
	ProviderCallID  string            `json:"provider_call_id,omitempty"`
	FromE164        string            `json:"from_number_e164,omitempty"`
	ToE164          string            `json:"to_number_e164,omitempty"`
	ContactPhone    string            `json:"contact_phone_e164,omitempty"`
	Summary         string            `json:"summary,omitempty"`
	StartedAt       time.Time         `json:"started_at"`
	EndedAt         *time.Time        `json:"ended_at,omitempty"`
	DurationSeconds *int              `json:"duration_seconds,omitempty"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// HasSession reports whether a remote session is attached.
func (i *Interaction) HasSession() bool {
	return i != nil && i.RemoteSessionID != ""
}

// Message is one exchange within an Interaction.
type Message struct {
	ID                uuid.UUID `json:"id"`
	InteractionID     uuid.UUID `json:"interaction_id"`
	Role              Role      `json:"role"`
	Content           string    `json:"content"`
	ProviderMessageID string    `json:"provider_message_id,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
}

// ThreadKey identifies the conversation a phone-based message belongs to.
type ThreadKey struct {
	TenantID uuid.UUID
	Channel  channel.Kind
	From     string
	To       string
}

func (k ThreadKey) String() string {
	return fmt.Sprintf("%s|%s|%s|%s", k.TenantID, k.Channel, k.From, k.To)
}

// NewThread describes an Interaction to create.
type NewThread struct {
	TenantID       uuid.UUID
	Channel        channel.Kind
	Direction      Direction
	Transport      channel.Transport
	From           string
	To             string
	ContactPhone   string
	ProviderCallID string
	Summary        string
}

// ThreadFromKey builds a NewThread for key. The contact is the sender on
// inbound threads and the recipient on outbound ones.
func ThreadFromKey(key ThreadKey, direction Direction, transport channel.Transport) NewThread {
	contact := key.From
	if direction == Outbound {
		contact = key.To
	}
	return NewThread{
		TenantID:     key.TenantID,
		Channel:      key.Channel,
		Direction:    direction,
		Transport:    transport,
		From:         key.From,
		To:           key.To,
		ContactPhone: contact,
	}
}

// ContactQuery selects a contact's prior interactions for history digests.
type ContactQuery struct {
	TenantID uuid.UUID
	Phone    string
	Channels []channel.Kind
	Since    time.Time
	Limit    int
	// ExcludeID leaves out one interaction, typically the thread the
	// digest is being built for.
	ExcludeID uuid.UUID
}
