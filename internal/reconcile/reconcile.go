// Package reconcile turns inbound SMS deliveries into persisted thread
// messages and agent replies.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/dispatch"
	"github.com/wolfman30/receptionist-relay/internal/history"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/messaging"
	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/internal/ratelimit"
	"github.com/wolfman30/receptionist-relay/internal/session"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

var tracer = otel.Tracer("relay.internal.reconcile")

const (
	DefaultThreadWindow = 24 * time.Hour
	DefaultEndKeyword   = "END"
	DefaultEndAck       = "Your conversation has ended. Text us anytime to start a new one."
)

// Outcome labels how a delivery was handled.
type Outcome string

const (
	OutcomeDuplicate   Outcome = "duplicate"
	OutcomeNoChannel   Outcome = "no_channel"
	OutcomeAmbiguous   Outcome = "ambiguous"
	OutcomeRateLimited Outcome = "rate_limited"
	OutcomeDropped     Outcome = "dropped"
	OutcomeEnded       Outcome = "ended"
	OutcomeReplied     Outcome = "replied"
	OutcomeFailed      Outcome = "failed"
	OutcomeError       Outcome = "error"
)

// Acknowledge reports whether the webhook should be answered with the fixed
// success response. Only unexpected store failures surface a failure status
// so the transport redelivers.
func (o Outcome) Acknowledge() bool {
	return o != OutcomeError
}

// Store is the slice of the interaction store reconciliation writes to.
type Store interface {
	MessageExists(ctx context.Context, providerMessageID string) (bool, error)
	FindOrCreateThread(ctx context.Context, key interaction.ThreadKey, direction interaction.Direction, transport channel.Transport, windowStart time.Time) (*interaction.Interaction, bool, error)
	AppendMessage(ctx context.Context, interactionID uuid.UUID, role interaction.Role, content, providerMessageID string) (*interaction.Message, bool, error)
	SetSummary(ctx context.Context, id uuid.UUID, summary string) error
}

// ChannelResolver maps a recipient address to its tenant channel.
type ChannelResolver interface {
	ResolveChannel(ctx context.Context, kind channel.Kind, address string) (*tenant.Channel, error)
}

// HistorySummarizer digests a contact's prior interactions.
type HistorySummarizer interface {
	Summary(ctx context.Context, q history.Query) (string, bool)
}

// RateChecker decides whether a reply may be sent on a thread key.
type RateChecker interface {
	Check(ctx context.Context, key interaction.ThreadKey) (ratelimit.Decision, error)
}

// SessionBridge produces agent replies on an interaction's remote session.
type SessionBridge interface {
	Reply(ctx context.Context, it *interaction.Interaction, agentID string, vars map[string]string, userText string) (*session.Reply, error)
	End(ctx context.Context, it *interaction.Interaction) error
}

// Dispatcher sends and records outbound replies.
type Dispatcher interface {
	Dispatch(ctx context.Context, it *interaction.Interaction, from, to, body string) (*dispatch.Result, error)
}

// Claimer collapses concurrent redeliveries before they reach the store.
type Claimer interface {
	Claim(ctx context.Context, providerMessageID string) (bool, error)
	Release(ctx context.Context, providerMessageID string)
}

// TenantLookup supplies tenant contact details for rate-limit notices.
type TenantLookup interface {
	TenantByID(ctx context.Context, id uuid.UUID) (*tenant.Tenant, error)
}

// RoutingAuditor records ambiguous routing for operators.
type RoutingAuditor interface {
	RoutingAmbiguous(ctx context.Context, channel, address string, tenantIDs []uuid.UUID) error
}

// Config wires a Reconciler. Summarizer, Claimer, Auditor, Tenants and
// Metrics are optional.
type Config struct {
	Store      Store
	Resolver   ChannelResolver
	Summarizer HistorySummarizer
	Limiter    RateChecker
	Bridge     SessionBridge
	Dispatcher Dispatcher
	Claimer    Claimer
	Auditor    RoutingAuditor
	Tenants    TenantLookup
	Metrics    *metrics.RelayMetrics

	ThreadWindow time.Duration
	EndKeyword   string
	EndAck       string
	Now          func() time.Time
}

// Reconciler runs the inbound SMS pipeline for one delivery at a time.
type Reconciler struct {
	cfg    Config
	logger *logging.Logger
}

func New(cfg Config, logger *logging.Logger) *Reconciler {
	if cfg.Store == nil || cfg.Resolver == nil || cfg.Limiter == nil || cfg.Bridge == nil || cfg.Dispatcher == nil {
		panic("reconcile: store, resolver, limiter, bridge and dispatcher are required")
	}
	if cfg.ThreadWindow <= 0 {
		cfg.ThreadWindow = DefaultThreadWindow
	}
	if strings.TrimSpace(cfg.EndKeyword) == "" {
		cfg.EndKeyword = DefaultEndKeyword
	}
	if strings.TrimSpace(cfg.EndAck) == "" {
		cfg.EndAck = DefaultEndAck
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Reconciler{cfg: cfg, logger: logger}
}

// Handle processes msg. A non-nil error accompanies OutcomeFailed (the
// reply could not be produced or sent) and OutcomeError (a store failure);
// callers consult Outcome.Acknowledge for the webhook response.
func (r *Reconciler) Handle(ctx context.Context, msg messaging.InboundSMS) (outcome Outcome, err error) {
	ctx, span := tracer.Start(ctx, "reconcile.handle")
	defer span.End()
	span.SetAttributes(
		attribute.String("transport", string(msg.Transport)),
		attribute.String("provider_message_id", msg.MessageID),
	)

	logger := r.logger.With(
		"transport", msg.Transport,
		"provider_message_id", msg.MessageID,
		"from", phone.Mask(msg.From),
		"to", phone.Mask(msg.To),
	)

	claimed := false
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(outcome))
			if claimed {
				r.cfg.Claimer.Release(ctx, msg.MessageID)
			}
		}
		span.SetAttributes(attribute.String("outcome", string(outcome)))
		r.cfg.Metrics.ObserveInbound(string(msg.Transport), string(outcome))
	}()

	// 1. idempotency gate
	if r.cfg.Claimer != nil && msg.MessageID != "" {
		ok, claimErr := r.cfg.Claimer.Claim(ctx, msg.MessageID)
		if claimErr == nil && !ok {
			logger.Info("reconcile: delivery already in flight")
			return OutcomeDuplicate, nil
		}
		claimed = claimErr == nil
	}
	if msg.MessageID != "" {
		exists, err := r.cfg.Store.MessageExists(ctx, msg.MessageID)
		if err != nil {
			logger.Error("reconcile: idempotency lookup failed", "error", err)
			return OutcomeError, fmt.Errorf("reconcile: message exists: %w", err)
		}
		if exists {
			logger.Info("reconcile: duplicate delivery")
			return OutcomeDuplicate, nil
		}
	}

	// 2. tenant channel
	ch, outcome := r.resolve(ctx, logger, msg.To)
	if ch == nil {
		return outcome, nil
	}
	logger = logger.With("tenant_id", ch.TenantID)

	key := interaction.ThreadKey{TenantID: ch.TenantID, Channel: channel.SMS, From: msg.From, To: msg.To}

	// 3. rate check
	decision, err := r.cfg.Limiter.Check(ctx, key)
	if err != nil {
		logger.Error("reconcile: rate check failed", "error", err)
		return OutcomeDropped, nil
	}
	if !decision.Allowed {
		logger.Warn("reconcile: rate limit exhausted", "count", decision.Count)
		return OutcomeRateLimited, nil
	}

	// 4. thread
	windowStart := r.cfg.Now().Add(-r.cfg.ThreadWindow)
	it, created, err := r.cfg.Store.FindOrCreateThread(ctx, key, interaction.Inbound, msg.Transport, windowStart)
	if err != nil {
		logger.Error("reconcile: thread resolution failed", "error", err)
		return OutcomeDropped, nil
	}
	logger = logger.With("interaction_id", it.ID)
	if created {
		r.attachSummary(ctx, logger, it, msg.From)
	}

	// 5. inbound message
	if _, inserted, err := r.cfg.Store.AppendMessage(ctx, it.ID, interaction.RoleUser, msg.Body, msg.MessageID); err != nil {
		logger.Error("reconcile: persist inbound failed", "error", err)
		return OutcomeError, fmt.Errorf("reconcile: append inbound: %w", err)
	} else if !inserted {
		logger.Info("reconcile: duplicate delivery raced past gate")
		return OutcomeDuplicate, nil
	}

	// 6. end keyword
	if r.isEndKeyword(msg.Body) && it.HasSession() {
		return r.end(ctx, logger, it, msg)
	}

	// 7. reply with recovery
	reply, err := r.cfg.Bridge.Reply(ctx, it, ch.AgentIDInbound, sessionVariables(it, ch, msg), msg.Body)
	if err != nil {
		logger.Error("reconcile: reply failed", "remote_session_id", it.RemoteSessionID, "error", err)
		return OutcomeFailed, fmt.Errorf("reconcile: reply: %w", err)
	}
	if reply.Recovered {
		logger.Info("reconcile: reply produced on recovered session", "remote_session_id", reply.SessionID)
	}

	// 8. rate notice
	if decision.NoticeDue {
		decision = decision.WithAlternate(r.alternateContact(ctx, logger, ch))
	}
	body := decision.Apply(reply.Text)

	// 9. dispatch
	if _, err := r.cfg.Dispatcher.Dispatch(ctx, it, msg.To, msg.From, body); err != nil {
		if errors.Is(err, dispatch.ErrPersistFailed) {
			logger.Error("reconcile: reply sent but not recorded", "error", err)
			return OutcomeReplied, nil
		}
		logger.Error("reconcile: dispatch failed", "error", err)
		return OutcomeFailed, fmt.Errorf("reconcile: dispatch: %w", err)
	}
	logger.Info("reconcile: replied", "notice", decision.NoticeDue, "remaining", decision.Remaining)
	return OutcomeReplied, nil
}

func (r *Reconciler) resolve(ctx context.Context, logger *logging.Logger, address string) (*tenant.Channel, Outcome) {
	ch, err := r.cfg.Resolver.ResolveChannel(ctx, channel.SMS, address)
	if err == nil {
		return ch, ""
	}
	var ambiguous *tenant.AmbiguousRoutingError
	switch {
	case errors.As(err, &ambiguous):
		logger.Error("reconcile: ambiguous channel routing", "tenant_ids", ambiguous.TenantIDs)
		if r.cfg.Auditor != nil {
			if auditErr := r.cfg.Auditor.RoutingAmbiguous(ctx, string(channel.SMS), address, ambiguous.TenantIDs); auditErr != nil {
				logger.Warn("reconcile: audit ambiguous routing failed", "error", auditErr)
			}
		}
		return nil, OutcomeAmbiguous
	case errors.Is(err, tenant.ErrAmbiguousRouting):
		logger.Error("reconcile: ambiguous channel routing")
		return nil, OutcomeAmbiguous
	case errors.Is(err, tenant.ErrChannelUnavailable):
		logger.Warn("reconcile: no enabled sms channel for recipient")
		return nil, OutcomeNoChannel
	default:
		logger.Error("reconcile: channel lookup failed", "error", err)
		return nil, OutcomeDropped
	}
}

// alternateContact is the tenant's public phone when it differs from the
// number the customer is texting.
func (r *Reconciler) alternateContact(ctx context.Context, logger *logging.Logger, ch *tenant.Channel) string {
	if r.cfg.Tenants == nil {
		return ""
	}
	t, err := r.cfg.Tenants.TenantByID(ctx, ch.TenantID)
	if err != nil {
		logger.Warn("reconcile: load tenant for notice failed", "error", err)
		return ""
	}
	if t.PublicPhoneE164 == "" || t.PublicPhoneE164 == ch.NumberE164 {
		return ""
	}
	return t.PublicPhoneE164
}

func (r *Reconciler) attachSummary(ctx context.Context, logger *logging.Logger, it *interaction.Interaction, contact string) {
	if r.cfg.Summarizer == nil {
		return
	}
	summary, ok := r.cfg.Summarizer.Summary(ctx, history.Query{
		TenantID:  it.TenantID,
		Phone:     contact,
		Channels:  channel.AllKinds,
		ExcludeID: it.ID,
	})
	if !ok {
		return
	}
	if err := r.cfg.Store.SetSummary(ctx, it.ID, summary); err != nil {
		logger.Warn("reconcile: attach history summary failed", "error", err)
		return
	}
	it.Summary = summary
}

func (r *Reconciler) end(ctx context.Context, logger *logging.Logger, it *interaction.Interaction, msg messaging.InboundSMS) (Outcome, error) {
	if err := r.cfg.Bridge.End(ctx, it); err != nil {
		logger.Error("reconcile: end session failed", "remote_session_id", it.RemoteSessionID, "error", err)
		return OutcomeFailed, fmt.Errorf("reconcile: end session: %w", err)
	}
	if _, err := r.cfg.Dispatcher.Dispatch(ctx, it, msg.To, msg.From, r.cfg.EndAck); err != nil && !errors.Is(err, dispatch.ErrPersistFailed) {
		logger.Error("reconcile: end acknowledgement failed", "error", err)
		return OutcomeFailed, fmt.Errorf("reconcile: end ack: %w", err)
	}
	logger.Info("reconcile: session ended by keyword")
	return OutcomeEnded, nil
}

func (r *Reconciler) isEndKeyword(body string) bool {
	return strings.EqualFold(strings.TrimSpace(body), strings.TrimSpace(r.cfg.EndKeyword))
}

func sessionVariables(it *interaction.Interaction, ch *tenant.Channel, msg messaging.InboundSMS) map[string]string {
	vars := map[string]string{
		"channel":        string(channel.SMS),
		"tenant_id":      ch.TenantID.String(),
		"interaction_id": it.ID.String(),
		"contact_phone":  msg.From,
		"business_phone": msg.To,
	}
	if it.Summary != "" {
		vars["history_summary"] = it.Summary
	}
	return vars
}
