// Package channel names the conversation modalities and transport providers
// shared by routing, persistence and dispatch.
package channel

import "strings"

// Kind is a conversation modality.
type Kind string

const (
	Voice Kind = "VOICE"
	SMS   Kind = "SMS"
	Chat  Kind = "CHAT"
)

// AllKinds lists every modality, in the order history lookups use.
var AllKinds = []Kind{Voice, SMS, Chat}

// Valid reports whether k is a known modality.
func (k Kind) Valid() bool {
	switch k {
	case Voice, SMS, Chat:
		return true
	}
	return false
}

// ParseKind accepts any casing.
func ParseKind(s string) (Kind, bool) {
	k := Kind(strings.ToUpper(strings.TrimSpace(s)))
	return k, k.Valid()
}

// Transport is the carrier or platform moving messages for a channel.
type Transport string

const (
	Twilio Transport = "TWILIO"
	Telnyx Transport = "TELNYX"
	Retell Transport = "RETELL"
	Other  Transport = "OTHER"
)

// AIProvider is the conversational-AI platform that owns remote sessions.
type AIProvider string

const (
	AIRetell AIProvider = "RETELL"
)
