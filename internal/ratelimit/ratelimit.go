// Package ratelimit caps how many messages a sender/tenant pair may exchange
// per rolling window.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/receptionist-relay/internal/interaction"
)

const (
	DefaultCap             = 8
	DefaultWindow          = time.Hour
	DefaultNoticeThreshold = 3
)

// Counter counts persisted messages for a thread key.
type Counter interface {
	CountMessagesSince(ctx context.Context, key interaction.ThreadKey, role interaction.Role, since time.Time) (int, error)
}

// Policy configures a Limiter.
type Policy struct {
	Cap             int
	Window          time.Duration
	Role            interaction.Role
	NoticeThreshold int
	// AlternateContact is appended to notices when set, e.g. a public phone.
	AlternateContact string
}

// Decision is the outcome of a rate check.
type Decision struct {
	Count     int
	Remaining int
	Allowed   bool
	NoticeDue bool
	window    time.Duration
	alternate string
}

// Limiter applies a Policy against stored message counts.
type Limiter struct {
	counter Counter
	policy  Policy
	now     func() time.Time
}

func New(counter Counter, policy Policy) *Limiter {
	if counter == nil {
		panic("ratelimit: counter required")
	}
	if policy.Cap <= 0 {
		policy.Cap = DefaultCap
	}
	if policy.Window <= 0 {
		policy.Window = DefaultWindow
	}
	if policy.Role == "" {
		policy.Role = interaction.RoleAgent
	}
	if policy.NoticeThreshold < 0 {
		policy.NoticeThreshold = DefaultNoticeThreshold
	}
	return &Limiter{counter: counter, policy: policy, now: time.Now}
}

// Policy returns the effective policy.
func (l *Limiter) Policy() Policy {
	return l.policy
}

// Check counts messages of the policy role on key within the window.
func (l *Limiter) Check(ctx context.Context, key interaction.ThreadKey) (Decision, error) {
	since := l.now().Add(-l.policy.Window)
	count, err := l.counter.CountMessagesSince(ctx, key, l.policy.Role, since)
	if err != nil {
		return Decision{}, fmt.Errorf("ratelimit: count: %w", err)
	}
	remaining := l.policy.Cap - count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{
		Count:     count,
		Remaining: remaining,
		Allowed:   remaining >= 1,
		NoticeDue: remaining >= 1 && remaining <= l.policy.NoticeThreshold,
		window:    l.policy.Window,
		alternate: l.policy.AlternateContact,
	}, nil
}

// WithAlternate names alternate as the other way to reach the business in
// the notice. Blank keeps the policy's AlternateContact.
func (d Decision) WithAlternate(alternate string) Decision {
	if strings.TrimSpace(alternate) != "" {
		d.alternate = alternate
	}
	return d
}

// Apply appends the remaining-replies notice to reply when one is due.
func (d Decision) Apply(reply string) string {
	if !d.NoticeDue {
		return reply
	}
	notice := Notice(d.Remaining, d.window, d.alternate)
	reply = strings.TrimRight(reply, " \n")
	if reply == "" {
		return notice
	}
	return reply + "\n\n" + notice
}

// Notice renders the user-visible remaining-replies text.
func Notice(remaining int, window time.Duration, alternate string) string {
	noun := "replies"
	if remaining == 1 {
		noun = "reply"
	}
	text := fmt.Sprintf("(%d %s remaining %s.", remaining, noun, windowPhrase(window))
	if alternate = strings.TrimSpace(alternate); alternate != "" {
		text += " You can also reach us at " + alternate + "."
	}
	return text + ")"
}

func windowPhrase(window time.Duration) string {
	switch window {
	case 0, time.Hour:
		return "this hour"
	case 24 * time.Hour:
		return "today"
	}
	text := window.String()
	if strings.HasSuffix(text, "m0s") {
		text = strings.TrimSuffix(text, "0s")
	}
	if strings.HasSuffix(text, "h0m") {
		text = strings.TrimSuffix(text, "0m")
	}
	return "for the next " + text
}
