// Package messaging is the SMS transport boundary: typed inbound webhook
// parsing, signature checks, and outbound senders.
package messaging

import (
	"context"
	"errors"
	"time"

	"github.com/wolfman30/receptionist-relay/internal/channel"
)

// ErrUnrecognizedPayload marks a webhook body that is not an inbound message
// this relay handles. Callers log and acknowledge it.
var ErrUnrecognizedPayload = errors.New("messaging: unrecognized payload")

// InboundSMS is a normalized inbound message delivery.
type InboundSMS struct {
	Transport  channel.Transport
	MessageID  string
	From       string
	To         string
	Body       string
	ReceivedAt time.Time
}

// OutboundSMS is a message to send through a transport. Transport is the
// provider that owns From; empty lets the router pick its default.
type OutboundSMS struct {
	Transport channel.Transport
	From      string
	To        string
	Body      string
}

// Sender sends an SMS and returns the transport's message id.
type Sender interface {
	Send(ctx context.Context, msg OutboundSMS) (string, error)
}
