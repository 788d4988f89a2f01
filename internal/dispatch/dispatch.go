// Package dispatch sends agent replies and records them on the thread.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/messaging"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

// ErrPersistFailed means the message was sent but could not be recorded.
var ErrPersistFailed = errors.New("dispatch: sent but not persisted")

// MessageAppender records messages on an interaction.
type MessageAppender interface {
	AppendMessage(ctx context.Context, interactionID uuid.UUID, role interaction.Role, content, providerMessageID string) (*interaction.Message, bool, error)
}

// Dispatcher sends then persists outbound SMS replies.
type Dispatcher struct {
	sender messaging.Sender
	store  MessageAppender
	logger *logging.Logger
}

func New(sender messaging.Sender, store MessageAppender, logger *logging.Logger) *Dispatcher {
	if sender == nil || store == nil {
		panic("dispatch: sender and store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Dispatcher{sender: sender, store: store, logger: logger}
}

// Result describes a dispatched reply.
type Result struct {
	ProviderMessageID string
	Message           *interaction.Message
}

// Dispatch sends body from the tenant's number to the contact and records
// it as an AGENT message keyed by the transport's outbound id.
func (d *Dispatcher) Dispatch(ctx context.Context, it *interaction.Interaction, from, to, body string) (*Result, error) {
	if it == nil {
		return nil, errors.New("dispatch: interaction required")
	}
	if strings.TrimSpace(body) == "" {
		return nil, errors.New("dispatch: body required")
	}
	providerID, err := d.sender.Send(ctx, messaging.OutboundSMS{
		Transport: it.Transport,
		From:      from,
		To:        to,
		Body:      body,
	})
	if err != nil {
		return nil, fmt.Errorf("dispatch: send: %w", err)
	}

	msg, _, err := d.store.AppendMessage(ctx, it.ID, interaction.RoleAgent, body, providerID)
	if err != nil {
		d.logger.Error("dispatch: persist outbound failed",
			"interaction_id", it.ID,
			"provider_message_id", providerID,
			"to", phone.Mask(to),
			"error", err,
		)
		return &Result{ProviderMessageID: providerID}, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}
	return &Result{ProviderMessageID: providerID, Message: msg}, nil
}
