package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/messaging/telnyxclient"
	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

var telnyxSendTracer = otel.Tracer("relay.internal.messaging.telnyx_send")

// ParseTelnyxWebhook turns a Telnyx messaging webhook body into an
// InboundSMS. Delivery receipts and other events are unrecognized.
func ParseTelnyxWebhook(body []byte) (InboundSMS, error) {
	event, err := telnyxclient.ParseWebhookEvent(body)
	if err != nil {
		return InboundSMS{}, fmt.Errorf("%w: %v", ErrUnrecognizedPayload, err)
	}
	if event.Data.EventType != telnyxclient.EventMessageReceived {
		return InboundSMS{}, fmt.Errorf("%w: event type %q", ErrUnrecognizedPayload, event.Data.EventType)
	}
	p := event.Data.Payload
	if p.Direction != "" && !strings.EqualFold(p.Direction, "inbound") {
		return InboundSMS{}, fmt.Errorf("%w: direction %q", ErrUnrecognizedPayload, p.Direction)
	}
	msg := InboundSMS{
		Transport:  channel.Telnyx,
		MessageID:  strings.TrimSpace(p.ID),
		From:       phone.Normalize(p.From.PhoneNumber),
		To:         phone.Normalize(p.Recipient()),
		Body:       strings.TrimSpace(p.Text),
		ReceivedAt: event.Data.OccurredAt,
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}
	if msg.MessageID == "" || msg.From == "" || msg.To == "" {
		return InboundSMS{}, fmt.Errorf("%w: missing telnyx message fields", ErrUnrecognizedPayload)
	}
	return msg, nil
}

// telnyxMessageAPI is the slice of telnyxclient.Client used to send.
type telnyxMessageAPI interface {
	SendMessage(ctx context.Context, req telnyxclient.SendMessageRequest) (*telnyxclient.MessageResponse, error)
}

// TelnyxSender posts SMS messages using the Telnyx V2 API.
type TelnyxSender struct {
	client             telnyxMessageAPI
	messagingProfileID string
	logger             *logging.Logger
	metrics            *metrics.RelayMetrics
}

// NewTelnyxSender builds a sender for a configured Telnyx client.
func NewTelnyxSender(client telnyxMessageAPI, messagingProfileID string, m *metrics.RelayMetrics, logger *logging.Logger) *TelnyxSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TelnyxSender{client: client, messagingProfileID: messagingProfileID, logger: logger, metrics: m}
}

var _ Sender = (*TelnyxSender)(nil)

// Send dispatches a single SMS via Telnyx and returns the message id.
func (s *TelnyxSender) Send(ctx context.Context, msg OutboundSMS) (string, error) {
	if s.client == nil {
		return "", errors.New("messaging: telnyx client missing")
	}
	ctx, span := telnyxSendTracer.Start(ctx, "messaging.telnyx.send")
	defer span.End()
	span.SetAttributes(attribute.String("relay.to", phone.Mask(msg.To)))

	start := time.Now()
	resp, err := s.client.SendMessage(ctx, telnyxclient.SendMessageRequest{
		From:               msg.From,
		To:                 msg.To,
		Body:               msg.Body,
		MessagingProfileID: s.messagingProfileID,
	})
	s.metrics.ObserveProviderLatency("telnyx", "send_sms", time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveOutbound("telnyx", "error")
		s.logger.Error("failed to send telnyx sms", "error", err, "to", phone.Mask(msg.To))
		return "", fmt.Errorf("messaging: telnyx send: %w", err)
	}
	if resp == nil || resp.ID == "" {
		s.metrics.ObserveOutbound("telnyx", "error")
		return "", errors.New("messaging: telnyx response missing id")
	}
	s.metrics.ObserveOutbound("telnyx", "sent")
	s.logger.Info("telnyx sms sent", "to", phone.Mask(msg.To), "provider_message_id", resp.ID)
	return resp.ID, nil
}
