// Package history builds bounded digests of a contact's prior interactions for
// injection into new remote sessions.
package history

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/llm"
	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const (
	DefaultMaxInteractions = 3
	DefaultLookbackMonths  = 6
	DefaultMaxMessages     = 10

	detailMaxInteractions = 5
	detailMaxMessages     = 20
)

const summaryPrompt = "You summarize prior customer interactions for an AI receptionist. " +
	"Write a factual summary that captures: the caller's intent, key details, and any decisions/outcomes. " +
	"If multiple interactions are provided, include 1-2 bullet points per interaction. " +
	"Do not add new facts. Avoid meta-commentary about redaction or privacy. " +
	"After summarizing, apply the redaction rules exactly to the content."

const detailPrompt = "You summarize prior customer interactions for an AI receptionist that was asked for more detail. " +
	"Write a factual, chronological summary with up to 4 bullet points per interaction covering requests, " +
	"details given, commitments made and open follow-ups. " +
	"Do not add new facts. Avoid meta-commentary about redaction or privacy. " +
	"After summarizing, apply the redaction rules exactly to the content."

// Store is the read side of the interaction store the summarizer needs.
type Store interface {
	ListForContact(ctx context.Context, q interaction.ContactQuery) ([]interaction.Interaction, error)
	MessagesFor(ctx context.Context, interactionIDs []uuid.UUID) ([]interaction.Message, error)
}

// Query selects whose history to digest. Zero limits use the summarizer
// defaults.
type Query struct {
	TenantID        uuid.UUID
	Phone           string
	Channels        []channel.Kind
	MaxInteractions int
	LookbackMonths  int
	MaxMessages     int
	// ExcludeID skips the interaction the digest is for, so a thread that
	// was just opened does not count as its own history.
	ExcludeID uuid.UUID
}

// Options configures a Summarizer.
type Options struct {
	MaxInteractions int
	LookbackMonths  int
	MaxMessages     int
	Model           string
	Temperature     float32
	Metrics         *metrics.RelayMetrics
	Now             func() time.Time
}

// Summarizer produces history digests. It never returns errors: any failure
// means no context is available and the caller proceeds without it.
type Summarizer struct {
	store   Store
	client  llm.Client
	opts    Options
	logger  *logging.Logger
	metrics *metrics.RelayMetrics
	now     func() time.Time
}

// NewSummarizer wires a summarizer. A nil client disables the external digest
// while keeping Signals available.
func NewSummarizer(store Store, client llm.Client, opts Options, logger *logging.Logger) *Summarizer {
	if store == nil {
		panic("history: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if opts.MaxInteractions <= 0 {
		opts.MaxInteractions = DefaultMaxInteractions
	}
	if opts.LookbackMonths <= 0 {
		opts.LookbackMonths = DefaultLookbackMonths
	}
	if opts.MaxMessages <= 0 {
		opts.MaxMessages = DefaultMaxMessages
	}
	if opts.Temperature == 0 {
		opts.Temperature = 0.2
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Summarizer{store: store, client: client, opts: opts, logger: logger, metrics: opts.Metrics, now: now}
}

// Summary returns a redacted digest of the contact's recent interactions.
func (s *Summarizer) Summary(ctx context.Context, q Query) (string, bool) {
	return s.digest(ctx, "summary", summaryPrompt, s.withDefaults(q))
}

// Detail is Summary with wider bounds, served on explicit request.
func (s *Summarizer) Detail(ctx context.Context, q Query) (string, bool) {
	if q.MaxInteractions <= 0 {
		q.MaxInteractions = detailMaxInteractions
	}
	if q.MaxMessages <= 0 {
		q.MaxMessages = detailMaxMessages
	}
	return s.digest(ctx, "detail", detailPrompt, s.withDefaults(q))
}

// Signals returns a compact list of recent interactions without calling the
// external summarizer.
func (s *Summarizer) Signals(ctx context.Context, q Query) (string, bool) {
	q = s.withDefaults(q)
	interactions, err := s.store.ListForContact(ctx, s.contactQuery(q))
	if err != nil {
		s.logger.Warn("history: load interactions for signals failed", "tenant_id", q.TenantID, "error", err)
		s.metrics.ObserveSummary("signals", "error")
		return "", false
	}
	if len(interactions) == 0 {
		s.metrics.ObserveSummary("signals", "empty")
		return "", false
	}
	lines := make([]string, 0, len(interactions))
	for _, it := range interactions {
		line := fmt.Sprintf("%s • %s • %s", formatDate(it.StartedAt), it.Channel, it.Direction)
		if summary := normalizeText(it.Summary); summary != "" {
			line += " • " + summary
		}
		lines = append(lines, line)
	}
	s.metrics.ObserveSummary("signals", "ok")
	return fmt.Sprintf("Recent interactions (%dmo):\n- %s", q.LookbackMonths, strings.Join(lines, "\n- ")), true
}

func (s *Summarizer) digest(ctx context.Context, variant, prompt string, q Query) (string, bool) {
	source, err := s.SourceText(ctx, q)
	if err != nil {
		s.logger.Warn("history: build source text failed", "tenant_id", q.TenantID, "error", err)
		s.metrics.ObserveSummary(variant, "error")
		return "", false
	}
	if strings.TrimSpace(source) == "" {
		s.metrics.ObserveSummary(variant, "empty")
		return "", false
	}
	if s.client == nil {
		s.metrics.ObserveSummary(variant, "disabled")
		return "", false
	}

	resp, err := s.client.Complete(ctx, llm.Request{
		Model:       s.opts.Model,
		System:      []string{prompt},
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: RedactionRules + "\n\nSource text:\n" + Redact(source)}},
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		s.logger.Warn("history: summarizer call failed", "tenant_id", q.TenantID, "variant", variant, "error", err)
		s.metrics.ObserveSummary(variant, "error")
		return "", false
	}
	text := strings.TrimSpace(Redact(resp.Text))
	if text == "" {
		s.metrics.ObserveSummary(variant, "empty")
		return "", false
	}
	s.metrics.ObserveSummary(variant, "ok")
	return text, true
}

// SourceText assembles the pre-summary text: one header per interaction and
// either its fresh stored summary or a bounded tail of its messages.
// Interactions with neither are left out, so a contact whose only threads
// are empty yields no source text.
func (s *Summarizer) SourceText(ctx context.Context, q Query) (string, error) {
	q = s.withDefaults(q)
	interactions, err := s.store.ListForContact(ctx, s.contactQuery(q))
	if err != nil {
		return "", fmt.Errorf("history: list interactions: %w", err)
	}
	if len(interactions) == 0 {
		return "", nil
	}

	ids := make([]uuid.UUID, 0, len(interactions))
	for _, it := range interactions {
		ids = append(ids, it.ID)
	}
	messages, err := s.store.MessagesFor(ctx, ids)
	if err != nil {
		return "", fmt.Errorf("history: load messages: %w", err)
	}
	byInteraction := make(map[uuid.UUID][]interaction.Message, len(interactions))
	for _, m := range messages {
		byInteraction[m.InteractionID] = append(byInteraction[m.InteractionID], m)
	}

	now := s.now()
	var sections []string
	for _, it := range interactions {
		msgs := byInteraction[it.ID]
		fresh := summaryIsFresh(it, msgs)
		if !fresh && len(msgs) == 0 {
			continue
		}
		sections = append(sections, fmt.Sprintf("Interaction: %s • %s • %s (%d days ago)",
			it.Channel, it.Direction, formatDate(it.StartedAt), daysAgo(now, it.StartedAt)))

		if fresh {
			sections = append(sections, "Summary: "+normalizeText(it.Summary))
			continue
		}
		if len(msgs) > q.MaxMessages {
			msgs = msgs[len(msgs)-q.MaxMessages:]
		}
		for _, m := range msgs {
			sections = append(sections, roleLabel(m.Role)+": "+normalizeText(m.Content))
		}
	}
	return strings.Join(sections, "\n"), nil
}

func (s *Summarizer) withDefaults(q Query) Query {
	if q.MaxInteractions <= 0 {
		q.MaxInteractions = s.opts.MaxInteractions
	}
	if q.LookbackMonths <= 0 {
		q.LookbackMonths = s.opts.LookbackMonths
	}
	if q.MaxMessages <= 0 {
		q.MaxMessages = s.opts.MaxMessages
	}
	return q
}

func (s *Summarizer) contactQuery(q Query) interaction.ContactQuery {
	return interaction.ContactQuery{
		TenantID: q.TenantID,
		Phone:    q.Phone,
		Channels: q.Channels,
		Since:    s.now().AddDate(0, -q.LookbackMonths, 0),
		Limit:    q.MaxInteractions,

		ExcludeID: q.ExcludeID,
	}
}

// summaryIsFresh holds when the stored summary was written no earlier than
// the thread's last message. A summary on a thread without messages is
// all there is, so it counts as fresh.
func summaryIsFresh(it interaction.Interaction, msgs []interaction.Message) bool {
	if strings.TrimSpace(it.Summary) == "" {
		return false
	}
	if len(msgs) == 0 {
		return true
	}
	return !it.UpdatedAt.Before(msgs[len(msgs)-1].CreatedAt)
}

var whitespaceRe = regexp.MustCompile(`\s+`)

func normalizeText(text string) string {
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}

func formatDate(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func daysAgo(now, t time.Time) int {
	d := int(now.Sub(t).Hours() / 24)
	if d < 0 {
		return 0
	}
	return d
}

func roleLabel(role interaction.Role) string {
	switch role {
	case interaction.RoleUser:
		return "User"
	case interaction.RoleAgent:
		return "Agent"
	case interaction.RoleSystem:
		return "System"
	case interaction.RoleTool:
		return "Tool"
	default:
		return "Message"
	}
}
