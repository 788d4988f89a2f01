// Package tenant resolves subscriber businesses and the channel
// configurations that route traffic to them.
package tenant

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/channel"
)

var (
	// ErrChannelUnavailable means no enabled channel claims the address.
	ErrChannelUnavailable = errors.New("tenant: channel unavailable")
	// ErrAmbiguousRouting means more than one enabled channel claims the address.
	ErrAmbiguousRouting = errors.New("tenant: ambiguous channel routing")
	// ErrNotFound is returned when a tenant lookup misses.
	ErrNotFound = errors.New("tenant: not found")
)

// AmbiguousRoutingError carries the tenants that claimed the same address.
type AmbiguousRoutingError struct {
	Kind      channel.Kind
	Address   string
	TenantIDs []uuid.UUID
}

func (e *AmbiguousRoutingError) Error() string {
	return fmt.Sprintf("tenant: %d enabled %s channels claim %s", len(e.TenantIDs), e.Kind, e.Address)
}

func (e *AmbiguousRoutingError) Unwrap() error { return ErrAmbiguousRouting }

// Channel is one tenant's configuration for a single modality.
type Channel struct {
	ID              uuid.UUID
	TenantID        uuid.UUID
	Kind            channel.Kind
	Enabled         bool
	Transport       channel.Transport
	AIProvider      channel.AIProvider
	NumberE164      string
	InboxID         string
	AgentIDInbound  string
	AgentIDOutbound string
}

// Address is the transport-facing identifier the channel answers on.
func (c *Channel) Address() string {
	if c.NumberE164 != "" {
		return c.NumberE164
	}
	return c.InboxID
}

// Tenant holds the subscriber metadata the relay exposes to callers.
type Tenant struct {
	ID              uuid.UUID `json:"id"`
	Slug            string    `json:"slug"`
	DisplayName     string    `json:"display_name"`
	WebsiteURL      string    `json:"website_url,omitempty"`
	PublicPhoneE164 string    `json:"public_phone_e164,omitempty"`
	AllowedDomains  []string  `json:"allowed_domains,omitempty"`
	WidgetTitle     string    `json:"widget_title,omitempty"`
	WidgetSubtitle  string    `json:"widget_subtitle,omitempty"`
	WidgetGreeting  string    `json:"widget_greeting,omitempty"`
	WidgetAvatarURL string    `json:"widget_avatar_url,omitempty"`
}

// AllowsOrigin reports whether a browser Origin may use the tenant's chat.
// An empty allowlist accepts every origin.
func (t *Tenant) AllowsOrigin(origin string) bool {
	if t == nil {
		return false
	}
	if len(t.AllowedDomains) == 0 {
		return true
	}
	host := originHost(origin)
	if host == "" {
		return false
	}
	for _, domain := range t.AllowedDomains {
		domain = strings.ToLower(strings.TrimSpace(domain))
		if domain == "" {
			continue
		}
		if host == domain || strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

func originHost(origin string) string {
	origin = strings.TrimSpace(origin)
	if origin == "" {
		return ""
	}
	if !strings.Contains(origin, "://") {
		origin = "https://" + origin
	}
	u, err := url.Parse(origin)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// NormalizeSlug lowercases and trims a tenant slug.
func NormalizeSlug(slug string) string {
	return strings.ToLower(strings.TrimSpace(slug))
}
