// Package session manages remote AI chat sessions for interactions,
// including recovery when the provider has expired a session.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/observability/metrics"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

var tracer = otel.Tracer("relay.internal.session")

var (
	// ErrSessionEnded is returned by a Provider when the remote session has
	// already ended.
	ErrSessionEnded = errors.New("session: remote session already ended")
	// ErrRecoveryFailed means the single recovery attempt did not produce a reply.
	ErrRecoveryFailed = errors.New("session: recovery failed")
	ErrNoSession      = errors.New("session: no live session")
	ErrEmptyReply     = errors.New("session: provider returned no reply")
)

const (
	DefaultRecoveryMessages = 10
	DefaultRecoveryChars    = 1500

	RecoveryReasonEnded = "chat_already_ended"
)

// CreateRequest describes a new remote session.
type CreateRequest struct {
	AgentID   string
	Metadata  map[string]string
	Variables map[string]string
}

// Provider is the remote AI session API.
type Provider interface {
	CreateSession(ctx context.Context, req CreateRequest) (string, error)
	// Complete returns the latest agent-authored reply. It returns an error
	// wrapping ErrSessionEnded when the session is no longer live.
	Complete(ctx context.Context, sessionID, text string) (string, error)
	EndSession(ctx context.Context, sessionID string) error
	UpdateVariables(ctx context.Context, sessionID string, vars map[string]string) error
}

// Store persists session ids onto interactions and supplies recovery context.
type Store interface {
	SetRemoteSession(ctx context.Context, interactionID uuid.UUID, sessionID string) error
	RecentMessages(ctx context.Context, interactionID uuid.UUID, limit int) ([]interaction.Message, error)
}

// Auditor receives recovery and end-session events.
type Auditor interface {
	SessionRecovered(ctx context.Context, tenantID, interactionID uuid.UUID, previousSessionID, sessionID, reason string) error
	RecoveryFailed(ctx context.Context, tenantID, interactionID uuid.UUID, sessionID string, cause error) error
	SessionEnded(ctx context.Context, tenantID, interactionID uuid.UUID, sessionID string) error
}

// Options configures a Bridge.
type Options struct {
	RecoveryMessages int
	RecoveryChars    int
	Auditor          Auditor
	Metrics          *metrics.RelayMetrics
}

// Bridge drives the NO_SESSION -> LIVE -> ENDED -> LIVE(new) lifecycle of
// an interaction's remote session.
type Bridge struct {
	provider Provider
	store    Store
	opts     Options
	logger   *logging.Logger
}

// Reply is the outcome of Bridge.Reply.
type Reply struct {
	Text      string
	SessionID string
	Recovered bool
}

func NewBridge(provider Provider, store Store, opts Options, logger *logging.Logger) *Bridge {
	if provider == nil {
		panic("session: provider required")
	}
	if store == nil {
		panic("session: store required")
	}
	if opts.RecoveryMessages <= 0 {
		opts.RecoveryMessages = DefaultRecoveryMessages
	}
	if opts.RecoveryChars <= 0 {
		opts.RecoveryChars = DefaultRecoveryChars
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Bridge{provider: provider, store: store, opts: opts, logger: logger}
}

// EnsureSession returns the interaction's live session id, creating and
// persisting one when none is attached. For an existing session the
// variables are merged best-effort.
func (b *Bridge) EnsureSession(ctx context.Context, it *interaction.Interaction, agentID string, vars map[string]string) (string, error) {
	if it == nil {
		return "", errors.New("session: interaction required")
	}
	if it.HasSession() {
		if len(vars) > 0 {
			if err := b.provider.UpdateVariables(ctx, it.RemoteSessionID, vars); err != nil {
				b.logger.Warn("session: update variables failed",
					"interaction_id", it.ID,
					"remote_session_id", it.RemoteSessionID,
					"error", err,
				)
			}
		}
		return it.RemoteSessionID, nil
	}
	if strings.TrimSpace(agentID) == "" {
		return "", errors.New("session: agent id required")
	}

	sessionID, err := b.provider.CreateSession(ctx, CreateRequest{
		AgentID:   agentID,
		Metadata:  baseMetadata(it),
		Variables: vars,
	})
	if err != nil {
		return "", fmt.Errorf("session: create: %w", err)
	}
	if err := b.store.SetRemoteSession(ctx, it.ID, sessionID); err != nil {
		return "", fmt.Errorf("session: persist session id: %w", err)
	}
	it.RemoteSessionID = sessionID
	b.logger.Info("session: created", "interaction_id", it.ID, "remote_session_id", sessionID)
	return sessionID, nil
}

// Complete asks the provider for a reply within sessionID.
func (b *Bridge) Complete(ctx context.Context, sessionID, text string) (string, error) {
	reply, err := b.provider.Complete(ctx, sessionID, text)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

// Reply ensures a session and completes userText against it. If the
// provider reports the session already ended, a new session is created on
// the same interaction and the completion is retried exactly once.
func (b *Bridge) Reply(ctx context.Context, it *interaction.Interaction, agentID string, vars map[string]string, userText string) (*Reply, error) {
	ctx, span := tracer.Start(ctx, "session.reply")
	defer span.End()
	span.SetAttributes(attribute.String("interaction.id", it.ID.String()))

	sessionID, err := b.EnsureSession(ctx, it, agentID, vars)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "ensure session")
		return nil, err
	}

	text, err := b.Complete(ctx, sessionID, userText)
	if err == nil {
		return &Reply{Text: text, SessionID: sessionID}, nil
	}
	if !errors.Is(err, ErrSessionEnded) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "complete")
		return nil, fmt.Errorf("session: complete: %w", err)
	}

	span.AddEvent("session.recover")
	reply, err := b.recover(ctx, it, agentID, vars, sessionID, userText)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "recover")
		return nil, err
	}
	return reply, nil
}

func (b *Bridge) recover(ctx context.Context, it *interaction.Interaction, agentID string, vars map[string]string, endedSessionID, userText string) (*Reply, error) {
	logger := b.logger.With("interaction_id", it.ID, "previous_session_id", endedSessionID)

	recoveryContext := ""
	msgs, err := b.store.RecentMessages(ctx, it.ID, b.opts.RecoveryMessages+1)
	if err != nil {
		logger.Warn("session: load recovery context failed", "error", err)
	} else {
		recoveryContext = RecoveryContext(dropCurrentTurn(msgs, userText), b.opts.RecoveryChars)
	}

	metadata := baseMetadata(it)
	metadata["recovery"] = "true"
	metadata["recovery_reason"] = RecoveryReasonEnded
	metadata["previous_session_id"] = endedSessionID

	recoveryVars := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		recoveryVars[k] = v
	}
	if recoveryContext != "" {
		recoveryVars["recovery_context"] = recoveryContext
	}

	newSessionID, err := b.provider.CreateSession(ctx, CreateRequest{AgentID: agentID, Metadata: metadata, Variables: recoveryVars})
	if err != nil {
		return nil, b.recoveryFailed(ctx, it, endedSessionID, fmt.Errorf("create replacement: %w", err))
	}
	if err := b.store.SetRemoteSession(ctx, it.ID, newSessionID); err != nil {
		return nil, b.recoveryFailed(ctx, it, newSessionID, fmt.Errorf("persist replacement: %w", err))
	}
	it.RemoteSessionID = newSessionID

	text, err := b.Complete(ctx, newSessionID, WrapRecoveryMessage(recoveryContext, userText))
	if err != nil {
		return nil, b.recoveryFailed(ctx, it, newSessionID, fmt.Errorf("retry completion: %w", err))
	}

	b.opts.Metrics.ObserveRecovery("recovered")
	logger.Info("session: recovered", "remote_session_id", newSessionID)
	if b.opts.Auditor != nil {
		if err := b.opts.Auditor.SessionRecovered(ctx, it.TenantID, it.ID, endedSessionID, newSessionID, RecoveryReasonEnded); err != nil {
			logger.Warn("session: audit recovery failed", "error", err)
		}
	}
	return &Reply{Text: text, SessionID: newSessionID, Recovered: true}, nil
}

func (b *Bridge) recoveryFailed(ctx context.Context, it *interaction.Interaction, sessionID string, cause error) error {
	b.opts.Metrics.ObserveRecovery("failed")
	b.logger.Error("session: recovery failed",
		"interaction_id", it.ID,
		"remote_session_id", sessionID,
		"error", cause,
	)
	if b.opts.Auditor != nil {
		if err := b.opts.Auditor.RecoveryFailed(ctx, it.TenantID, it.ID, sessionID, cause); err != nil {
			b.logger.Warn("session: audit recovery failure failed", "error", err)
		}
	}
	return fmt.Errorf("%w: %w", ErrRecoveryFailed, cause)
}

// End deliberately ends the interaction's live session and detaches it so
// the next inbound message starts a fresh one.
func (b *Bridge) End(ctx context.Context, it *interaction.Interaction) error {
	if it == nil || !it.HasSession() {
		return ErrNoSession
	}
	sessionID := it.RemoteSessionID
	if err := b.provider.EndSession(ctx, sessionID); err != nil && !errors.Is(err, ErrSessionEnded) {
		return fmt.Errorf("session: end: %w", err)
	}
	if err := b.store.SetRemoteSession(ctx, it.ID, ""); err != nil {
		return fmt.Errorf("session: clear session id: %w", err)
	}
	it.RemoteSessionID = ""
	if b.opts.Auditor != nil {
		if err := b.opts.Auditor.SessionEnded(ctx, it.TenantID, it.ID, sessionID); err != nil {
			b.logger.Warn("session: audit end failed", "interaction_id", it.ID, "error", err)
		}
	}
	return nil
}

func baseMetadata(it *interaction.Interaction) map[string]string {
	md := map[string]string{
		"interaction_id": it.ID.String(),
		"tenant_id":      it.TenantID.String(),
		"channel":        string(it.Channel),
	}
	if it.ContactPhone != "" {
		md["contact_phone"] = it.ContactPhone
	}
	return md
}

// dropCurrentTurn removes the just-persisted inbound message so it is not
// duplicated between the context and the retried message.
func dropCurrentTurn(msgs []interaction.Message, userText string) []interaction.Message {
	if n := len(msgs); n > 0 && msgs[n-1].Role == interaction.RoleUser && strings.TrimSpace(msgs[n-1].Content) == strings.TrimSpace(userText) {
		return msgs[:n-1]
	}
	return msgs
}
