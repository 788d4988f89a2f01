package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

var twilioSendTracer = otel.Tracer("relay.internal.messaging.twilio_send")

// twilioMessageAPI is the slice of the twilio-go REST client used to send.
type twilioMessageAPI interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// TwilioSender posts SMS messages using the Twilio REST API.
type TwilioSender struct {
	api     twilioMessageAPI
	from    string
	logger  *logging.Logger
	metrics *metrics.RelayMetrics
}

// NewTwilioSender builds a sender backed by twilio-go.
func NewTwilioSender(accountSID, authToken, defaultFrom string, m *metrics.RelayMetrics, logger *logging.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})
	return newTwilioSenderWithAPI(client.Api, defaultFrom, m, logger)
}

func newTwilioSenderWithAPI(api twilioMessageAPI, defaultFrom string, m *metrics.RelayMetrics, logger *logging.Logger) *TwilioSender {
	if logger == nil {
		logger = logging.Default()
	}
	return &TwilioSender{api: api, from: defaultFrom, logger: logger, metrics: m}
}

var _ Sender = (*TwilioSender)(nil)

// Send dispatches a single SMS and returns the message SID.
func (s *TwilioSender) Send(ctx context.Context, msg OutboundSMS) (string, error) {
	if msg.To == "" {
		return "", errors.New("messaging: to required")
	}
	if msg.From == "" {
		msg.From = s.from
	}
	if msg.From == "" {
		return "", errors.New("messaging: from required")
	}
	if strings.TrimSpace(msg.Body) == "" {
		return "", errors.New("messaging: body required")
	}

	_, span := twilioSendTracer.Start(ctx, "messaging.twilio.send")
	defer span.End()
	span.SetAttributes(attribute.String("relay.to", phone.Mask(msg.To)))

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(msg.To)
	params.SetFrom(msg.From)
	params.SetBody(msg.Body)

	start := time.Now()
	resp, err := s.api.CreateMessage(params)
	s.metrics.ObserveProviderLatency("twilio", "send_sms", time.Since(start).Seconds())
	if err != nil {
		span.RecordError(err)
		s.metrics.ObserveOutbound("twilio", "error")
		return "", fmt.Errorf("messaging: twilio send: %w", err)
	}
	if resp == nil || resp.Sid == nil || *resp.Sid == "" {
		s.metrics.ObserveOutbound("twilio", "error")
		return "", errors.New("messaging: twilio response missing sid")
	}
	s.metrics.ObserveOutbound("twilio", "sent")
	s.logger.Info("twilio sms sent", "to", phone.Mask(msg.To), "provider_message_id", *resp.Sid)
	return *resp.Sid, nil
}
