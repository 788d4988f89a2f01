package messaging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/messaging/telnyxclient"
	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const (
	// SMSProviderAuto tries Telnyx first, then Twilio.
	SMSProviderAuto = "auto"
	// SMSProviderTelnyx forces the Telnyx sender when credentials exist.
	SMSProviderTelnyx = "telnyx"
	// SMSProviderTwilio forces the Twilio sender when credentials exist.
	SMSProviderTwilio = "twilio"
)

// ProviderSelectionConfig captures the credentials required to build outbound senders.
type ProviderSelectionConfig struct {
	Preference       string
	TelnyxAPIKey     string
	TelnyxProfileID  string
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
	Metrics          *metrics.RelayMetrics
}

// Router sends through the provider that owns the message's transport and
// falls back to the preferred default otherwise.
type Router struct {
	byTransport map[channel.Transport]Sender
	fallback    Sender
}

// NewRouter builds a Router. fallback may be nil.
func NewRouter(byTransport map[channel.Transport]Sender, fallback Sender) *Router {
	if byTransport == nil {
		byTransport = map[channel.Transport]Sender{}
	}
	return &Router{byTransport: byTransport, fallback: fallback}
}

var _ Sender = (*Router)(nil)

func (r *Router) Send(ctx context.Context, msg OutboundSMS) (string, error) {
	sender := r.byTransport[msg.Transport]
	if sender == nil {
		sender = r.fallback
	}
	if sender == nil {
		return "", fmt.Errorf("messaging: no sender for transport %q", msg.Transport)
	}
	return sender.Send(ctx, msg)
}

// BuildSender instantiates a Router based on the preferred provider.
// It returns the sender, the provider that was selected, and a reason when no provider could be initialized.
func BuildSender(cfg ProviderSelectionConfig, logger *logging.Logger) (*Router, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	preference := strings.ToLower(strings.TrimSpace(cfg.Preference))
	if preference == "" {
		preference = SMSProviderAuto
	}

	missing := map[string]string{}
	var telnyxSender Sender
	var twilioSender Sender

	if cfg.TelnyxAPIKey != "" {
		client, err := telnyxclient.New(telnyxclient.Config{APIKey: cfg.TelnyxAPIKey, MaxRetries: 2, Logger: logger})
		if err != nil {
			missing[SMSProviderTelnyx] = err.Error()
		} else {
			telnyxSender = NewTelnyxSender(client, cfg.TelnyxProfileID, cfg.Metrics, logger)
		}
	} else {
		missing[SMSProviderTelnyx] = "TELNYX_API_KEY missing"
	}

	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		twilioSender = NewTwilioSender(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber, cfg.Metrics, logger)
	} else {
		var reasons []string
		if cfg.TwilioAccountSID == "" {
			reasons = append(reasons, "TWILIO_ACCOUNT_SID missing")
		}
		if cfg.TwilioAuthToken == "" {
			reasons = append(reasons, "TWILIO_AUTH_TOKEN missing")
		}
		missing[SMSProviderTwilio] = strings.Join(reasons, ", ")
	}

	byTransport := map[channel.Transport]Sender{}
	if telnyxSender != nil {
		byTransport[channel.Telnyx] = telnyxSender
	}
	if twilioSender != nil {
		byTransport[channel.Twilio] = twilioSender
	}

	if preference != SMSProviderAuto {
		if preference == SMSProviderTelnyx && telnyxSender != nil {
			return NewRouter(byTransport, telnyxSender), SMSProviderTelnyx, ""
		}
		if preference == SMSProviderTwilio && twilioSender != nil {
			return NewRouter(byTransport, twilioSender), SMSProviderTwilio, ""
		}
		reason := missing[preference]
		if reason == "" {
			reason = fmt.Sprintf("%s sender not configured", preference)
		}
		return nil, "", reason
	}

	if telnyxSender != nil && twilioSender != nil {
		fallback := NewFailoverSender(telnyxSender, SMSProviderTelnyx, twilioSender, SMSProviderTwilio, logger)
		return NewRouter(byTransport, fallback), SMSProviderTelnyx + "+" + SMSProviderTwilio, ""
	}
	if telnyxSender != nil {
		return NewRouter(byTransport, telnyxSender), SMSProviderTelnyx, ""
	}
	if twilioSender != nil {
		return NewRouter(byTransport, twilioSender), SMSProviderTwilio, ""
	}

	var reasons []string
	for _, provider := range []string{SMSProviderTelnyx, SMSProviderTwilio} {
		if msg := missing[provider]; msg != "" {
			reasons = append(reasons, fmt.Sprintf("%s: %s", provider, msg))
		}
	}
	if len(reasons) == 0 {
		reasons = append(reasons, "no SMS providers configured")
	}
	return nil, "", strings.Join(reasons, "; ")
}

// ErrNoSender is returned by a disabled sender.
var ErrNoSender = errors.New("messaging: no SMS provider configured")

// DisabledSender rejects every send. It stands in when no provider is
// configured so inbound webhooks still acknowledge.
type DisabledSender struct{ Reason string }

func (d DisabledSender) Send(context.Context, OutboundSMS) (string, error) {
	if d.Reason != "" {
		return "", fmt.Errorf("%w: %s", ErrNoSender, d.Reason)
	}
	return "", ErrNoSender
}
