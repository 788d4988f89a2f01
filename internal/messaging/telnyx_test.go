package messaging

import (
	"errors"
	"testing"

	"github.com/wolfman30/receptionist-relay/internal/channel"
)

func TestParseTelnyxWebhook(t *testing.T) {
	body := []byte(`{"data":{"event_type":"message.received","occurred_at":"2026-01-02T15:04:05Z","payload":{"id":"msg_in_1","direction":"inbound","text":"Hi","from":{"phone_number":"+1 555 123 4567"},"to":[{"phone_number":"+15559876543"}]}}}`)
	msg, err := ParseTelnyxWebhook(body)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Transport != channel.Telnyx || msg.MessageID != "msg_in_1" || msg.From != "+15551234567" || msg.To != "+15559876543" || msg.Body != "Hi" {
		t.Fatalf("unexpected message %#v", msg)
	}
	if msg.ReceivedAt.IsZero() {
		t.Fatal("expected received time")
	}
}

func TestParseTelnyxWebhookUnrecognized(t *testing.T) {
	cases := map[string]string{
		"malformed":  `{`,
		"receipt":    `{"data":{"event_type":"message.finalized","payload":{"id":"m"}}}`,
		"outbound":   `{"data":{"event_type":"message.received","payload":{"id":"m","direction":"outbound","from":{"phone_number":"+15551234567"},"to":[{"phone_number":"+15559876543"}]}}}`,
		"missing id": `{"data":{"event_type":"message.received","payload":{"from":{"phone_number":"+15551234567"},"to":[{"phone_number":"+15559876543"}]}}}`,
	}
	for name, body := range cases {
		if _, err := ParseTelnyxWebhook([]byte(body)); !errors.Is(err, ErrUnrecognizedPayload) {
			t.Fatalf("%s: expected unrecognized payload, got %v", name, err)
		}
	}
}
