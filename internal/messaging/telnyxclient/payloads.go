package telnyxclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// SendMessageRequest describes an outbound SMS/MMS payload.
type SendMessageRequest struct {
	From               string
	To                 string
	Body               string
	MediaURLs          []string
	MessagingProfileID string
}

func (r SendMessageRequest) validate() error {
	if strings.TrimSpace(r.From) == "" || strings.TrimSpace(r.To) == "" {
		return errors.New("telnyxclient: from and to numbers required")
	}
	if strings.TrimSpace(r.Body) == "" && len(r.MediaURLs) == 0 {
		return errors.New("telnyxclient: body or media required")
	}
	return nil
}

// MessageResponse represents the Telnyx message resource.
type MessageResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
	Direction string    `json:"direction"`
	Parts     int       `json:"parts"`
}

// EventMessageReceived is the webhook event type for inbound messages.
const EventMessageReceived = "message.received"

// WebhookEvent is the envelope Telnyx posts to messaging webhooks.
type WebhookEvent struct {
	Data struct {
		ID         string         `json:"id"`
		EventType  string         `json:"event_type"`
		OccurredAt time.Time      `json:"occurred_at"`
		Payload    MessagePayload `json:"payload"`
	} `json:"data"`
}

// MessagePayload is the message resource carried by a webhook event.
type MessagePayload struct {
	ID        string          `json:"id"`
	Direction string          `json:"direction"`
	Type      string          `json:"type"`
	Text      string          `json:"text"`
	From      PhoneEndpoint   `json:"from"`
	To        []PhoneEndpoint `json:"to"`
}

type PhoneEndpoint struct {
	PhoneNumber string `json:"phone_number"`
}

// ParseWebhookEvent decodes a messaging webhook body.
func ParseWebhookEvent(body []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("telnyxclient: decode webhook: %w", err)
	}
	return &event, nil
}

// Recipient returns the first recipient number.
func (p MessagePayload) Recipient() string {
	for _, to := range p.To {
		if n := strings.TrimSpace(to.PhoneNumber); n != "" {
			return n
		}
	}
	return ""
}
