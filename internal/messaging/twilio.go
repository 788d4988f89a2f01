package messaging

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	twilioclient "github.com/twilio/twilio-go/client"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/phone"
)

// ValidateTwilioSignature validates that a form-encoded request came from
// Twilio for webhookURL.
func ValidateTwilioSignature(r *http.Request, authToken, webhookURL string) bool {
	signature := r.Header.Get("X-Twilio-Signature")
	if signature == "" || authToken == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for key, values := range r.PostForm {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	validator := twilioclient.NewRequestValidator(authToken)
	return validator.Validate(webhookURL, params, signature)
}

// ParseTwilioWebhook parses a Twilio messaging webhook into an InboundSMS.
func ParseTwilioWebhook(r *http.Request) (InboundSMS, error) {
	if err := r.ParseForm(); err != nil {
		return InboundSMS{}, fmt.Errorf("messaging: parse twilio form: %w", err)
	}
	messageSID := strings.TrimSpace(r.PostFormValue("MessageSid"))
	if messageSID == "" {
		messageSID = strings.TrimSpace(r.PostFormValue("SmsMessageSid"))
	}
	msg := InboundSMS{
		Transport:  channel.Twilio,
		MessageID:  messageSID,
		From:       phone.Normalize(r.PostFormValue("From")),
		To:         phone.Normalize(r.PostFormValue("To")),
		Body:       strings.TrimSpace(r.PostFormValue("Body")),
		ReceivedAt: time.Now().UTC(),
	}
	if msg.MessageID == "" || msg.From == "" || msg.To == "" {
		return InboundSMS{}, fmt.Errorf("%w: missing twilio message fields", ErrUnrecognizedPayload)
	}
	return msg, nil
}

// BuildAbsoluteURL reconstructs the public URL Twilio signed, honoring
// proxy headers.
func BuildAbsoluteURL(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	if r.URL.Scheme != "" {
		return r.URL.String()
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "https"
		if r.TLS == nil {
			scheme = "http"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, r.URL.RequestURI())
}
