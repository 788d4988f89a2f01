package interaction

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/wolfman30/receptionist-relay/internal/channel"
)

var tracer = otel.Tracer("relay.internal.interaction")

type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Querier
}

// PgStore persists interactions and messages in Postgres.
type PgStore struct {
	pool PgxPool
}

func NewPgStore(pool PgxPool) *PgStore {
	if pool == nil {
		panic("interaction: pgx pool required")
	}
	return &PgStore{pool: pool}
}

const interactionColumns = `
	id, tenant_id, channel, direction, status, COALESCE(transport_provider, ''),
	COALESCE(remote_session_id, ''), COALESCE(provider_call_id, ''),
	COALESCE(from_number_e164, ''), COALESCE(to_number_e164, ''), COALESCE(contact_phone_e164, ''),
	COALESCE(summary, ''), started_at, ended_at, duration_seconds, updated_at
`

const messageColumns = `
	id, interaction_id, role, content, COALESCE(provider_message_id, ''), created_at
`

// FindActiveThread returns the most recently started interaction on key that
// started at or after windowStart.
func (s *PgStore) FindActiveThread(ctx context.Context, key ThreadKey, windowStart time.Time) (*Interaction, error) {
	return s.findActiveThread(ctx, s.pool, key, windowStart)
}

func (s *PgStore) findActiveThread(ctx context.Context, q Querier, key ThreadKey, windowStart time.Time) (*Interaction, error) {
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE tenant_id = $1
		  AND channel = $2
		  AND from_number_e164 = $3
		  AND to_number_e164 = $4
		  AND started_at >= $5
		ORDER BY started_at DESC
		LIMIT 1
	`
	it, err := scanInteraction(q.QueryRow(ctx, query, key.TenantID, key.Channel, key.From, key.To, windowStart))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("interaction: find active thread: %w", err)
	}
	return it, nil
}

// CreateThread inserts a STARTED interaction. A nil q uses the pool.
func (s *PgStore) CreateThread(ctx context.Context, q Querier, in NewThread) (*Interaction, error) {
	if q == nil {
		q = s.pool
	}
	query := `
		INSERT INTO interactions (
			id, tenant_id, channel, direction, status, transport_provider,
			from_number_e164, to_number_e164, contact_phone_e164, provider_call_id, summary
		) VALUES (
			$1, $2, $3, $4, 'STARTED', NULLIF($5, ''),
			NULLIF($6, ''), NULLIF($7, ''), NULLIF($8, ''), NULLIF($9, ''), NULLIF($10, '')
		)
		RETURNING ` + interactionColumns
	it, err := scanInteraction(q.QueryRow(ctx, query,
		uuid.New(), in.TenantID, in.Channel, in.Direction, in.Transport,
		in.From, in.To, in.ContactPhone, in.ProviderCallID, in.Summary,
	))
	if err != nil {
		return nil, fmt.Errorf("interaction: create thread: %w", err)
	}
	return it, nil
}

// FindOrCreateThread returns the active thread on key or creates one. A
// transaction-scoped advisory lock on the thread key serializes concurrent
// deliveries so a window never holds two threads for the same key.
func (s *PgStore) FindOrCreateThread(ctx context.Context, key ThreadKey, direction Direction, transport channel.Transport, windowStart time.Time) (*Interaction, bool, error) {
	ctx, span := tracer.Start(ctx, "interaction.find_or_create_thread")
	defer span.End()
	span.SetAttributes(
		attribute.String("tenant.id", key.TenantID.String()),
		attribute.String("channel", string(key.Channel)),
	)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, false, fmt.Errorf("interaction: begin: %w", err)
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key.String()); err != nil {
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		return nil, false, fmt.Errorf("interaction: lock thread key: %w", err)
	}

	existing, err := s.findActiveThread(ctx, tx, key, windowStart)
	switch {
	case err == nil:
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("interaction: commit: %w", err)
		}
		span.SetAttributes(attribute.Bool("thread.created", false))
		return existing, false, nil
	case !errors.Is(err, ErrNotFound):
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "find thread")
		return nil, false, err
	}

	created, err := s.CreateThread(ctx, tx, ThreadFromKey(key, direction, transport))
	if err != nil {
		_ = tx.Rollback(ctx)
		span.RecordError(err)
		span.SetStatus(codes.Error, "create thread")
		return nil, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("interaction: commit: %w", err)
	}
	span.SetAttributes(attribute.Bool("thread.created", true))
	return created, true, nil
}

// AppendMessage inserts a message. When providerMessageID is set and already
// stored anywhere, the existing row is returned and created is false.
func (s *PgStore) AppendMessage(ctx context.Context, interactionID uuid.UUID, role Role, content, providerMessageID string) (*Message, bool, error) {
	ctx, span := tracer.Start(ctx, "interaction.append_message")
	defer span.End()
	span.SetAttributes(
		attribute.String("interaction.id", interactionID.String()),
		attribute.String("message.role", string(role)),
	)

	query := `
		INSERT INTO interaction_messages (id, interaction_id, role, content, provider_message_id)
		VALUES ($1, $2, $3, $4, NULLIF($5, ''))
		ON CONFLICT (provider_message_id) DO NOTHING
		RETURNING ` + messageColumns
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, uuid.New(), interactionID, role, content, providerMessageID))
	if err == nil {
		return msg, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) || providerMessageID == "" {
		span.RecordError(err)
		return nil, false, fmt.Errorf("interaction: insert message: %w", err)
	}

	existing, err := s.MessageByProviderID(ctx, providerMessageID)
	if err != nil {
		span.RecordError(err)
		return nil, false, err
	}
	span.SetAttributes(attribute.Bool("message.duplicate", true))
	return existing, false, nil
}

// MessageByProviderID loads a message by its transport id.
func (s *PgStore) MessageByProviderID(ctx context.Context, providerMessageID string) (*Message, error) {
	query := `SELECT ` + messageColumns + ` FROM interaction_messages WHERE provider_message_id = $1`
	msg, err := scanMessage(s.pool.QueryRow(ctx, query, providerMessageID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("interaction: load message: %w", err)
	}
	return msg, nil
}

// MessageExists reports whether any message carries providerMessageID.
func (s *PgStore) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	if providerMessageID == "" {
		return false, nil
	}
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM interaction_messages WHERE provider_message_id = $1)`
	if err := s.pool.QueryRow(ctx, query, providerMessageID).Scan(&exists); err != nil {
		return false, fmt.Errorf("interaction: message exists: %w", err)
	}
	return exists, nil
}

// SetRemoteSession points the interaction at sessionID; an empty id detaches
// the session. Attaching a session moves a STARTED thread to IN_PROGRESS.
func (s *PgStore) SetRemoteSession(ctx context.Context, interactionID uuid.UUID, sessionID string) error {
	query := `
		UPDATE interactions
		SET remote_session_id = NULLIF($2, ''),
			status = CASE WHEN $2 <> '' AND status = 'STARTED' THEN 'IN_PROGRESS' ELSE status END,
			updated_at = now()
		WHERE id = $1
	`
	ct, err := s.pool.Exec(ctx, query, interactionID, sessionID)
	if err != nil {
		return fmt.Errorf("interaction: set remote session: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMessagesSince counts role messages on key created at or after since.
func (s *PgStore) CountMessagesSince(ctx context.Context, key ThreadKey, role Role, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM interaction_messages m
		JOIN interactions i ON i.id = m.interaction_id
		WHERE i.tenant_id = $1
		  AND i.channel = $2
		  AND i.from_number_e164 = $3
		  AND i.to_number_e164 = $4
		  AND m.role = $5
		  AND m.created_at >= $6
	`
	var count int
	if err := s.pool.QueryRow(ctx, query, key.TenantID, key.Channel, key.From, key.To, role, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("interaction: count messages: %w", err)
	}
	return count, nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *PgStore) RecentMessages(ctx context.Context, interactionID uuid.UUID, limit int) ([]Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	query := `
		SELECT ` + messageColumns + `
		FROM interaction_messages
		WHERE interaction_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
	`
	msgs, err := s.queryMessages(ctx, query, interactionID, limit)
	if err != nil {
		return nil, fmt.Errorf("interaction: recent messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MessagesFor returns every message on the given interactions, oldest first.
func (s *PgStore) MessagesFor(ctx context.Context, interactionIDs []uuid.UUID) ([]Message, error) {
	if len(interactionIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT ` + messageColumns + `
		FROM interaction_messages
		WHERE interaction_id = ANY($1)
		ORDER BY created_at ASC, id ASC
	`
	msgs, err := s.queryMessages(ctx, query, interactionIDs)
	if err != nil {
		return nil, fmt.Errorf("interaction: messages for interactions: %w", err)
	}
	return msgs, nil
}

// ListForContact returns the newest interactions where phone appears as the
// sender, recipient or captured contact.
func (s *PgStore) ListForContact(ctx context.Context, q ContactQuery) ([]Interaction, error) {
	if q.Limit <= 0 || q.Phone == "" {
		return nil, nil
	}
	kinds := q.Channels
	if len(kinds) == 0 {
		kinds = channel.AllKinds
	}
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, string(k))
	}
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE tenant_id = $1
		  AND channel = ANY($2)
		  AND started_at >= $3
		  AND (from_number_e164 = $4 OR to_number_e164 = $4 OR contact_phone_e164 = $4)
		  AND id <> $6
		ORDER BY started_at DESC
		LIMIT $5
	`
	rows, err := s.pool.Query(ctx, query, q.TenantID, names, q.Since, q.Phone, q.Limit, q.ExcludeID)
	if err != nil {
		return nil, fmt.Errorf("interaction: list for contact: %w", err)
	}
	defer rows.Close()

	var out []Interaction
	for rows.Next() {
		it, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("interaction: scan interaction: %w", err)
		}
		out = append(out, *it)
	}
	return out, rows.Err()
}

// Get loads an interaction by id.
func (s *PgStore) Get(ctx context.Context, id uuid.UUID) (*Interaction, error) {
	query := `SELECT ` + interactionColumns + ` FROM interactions WHERE id = $1`
	it, err := scanInteraction(s.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("interaction: get: %w", err)
	}
	return it, nil
}

// FindByProviderCallID loads the interaction created for a provider call.
func (s *PgStore) FindByProviderCallID(ctx context.Context, kind channel.Kind, transport channel.Transport, callID string) (*Interaction, error) {
	if callID == "" {
		return nil, ErrNotFound
	}
	query := `
		SELECT ` + interactionColumns + `
		FROM interactions
		WHERE channel = $1 AND transport_provider = $2 AND provider_call_id = $3
		LIMIT 1
	`
	it, err := scanInteraction(s.pool.QueryRow(ctx, query, kind, transport, callID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("interaction: find by call id: %w", err)
	}
	return it, nil
}

// SetSummary replaces the rolling summary.
func (s *PgStore) SetSummary(ctx context.Context, id uuid.UUID, summary string) error {
	return s.update(ctx, "set summary", `UPDATE interactions SET summary = NULLIF($2, ''), updated_at = now() WHERE id = $1`, id, summary)
}

// SetContactPhone records the contact's phone once it is known.
func (s *PgStore) SetContactPhone(ctx context.Context, id uuid.UUID, phone string) error {
	return s.update(ctx, "set contact phone", `UPDATE interactions SET contact_phone_e164 = NULLIF($2, ''), updated_at = now() WHERE id = $1`, id, phone)
}

// Complete marks the interaction COMPLETED and records its duration.
func (s *PgStore) Complete(ctx context.Context, id uuid.UUID, endedAt time.Time) error {
	query := `
		UPDATE interactions
		SET status = 'COMPLETED',
			ended_at = $2,
			duration_seconds = GREATEST(0, EXTRACT(EPOCH FROM ($2 - started_at)))::int,
			updated_at = now()
		WHERE id = $1
	`
	return s.update(ctx, "complete", query, id, endedAt)
}

func (s *PgStore) update(ctx context.Context, op, query string, args ...any) error {
	ct, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("interaction: %s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PgStore) queryMessages(ctx context.Context, query string, args ...any) ([]Message, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *msg)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInteraction(row rowScanner) (*Interaction, error) {
	var it Interaction
	if err := row.Scan(
		&it.ID, &it.TenantID, &it.Channel, &it.Direction, &it.Status, &it.Transport,
		&it.RemoteSessionID, &it.ProviderCallID,
		&it.FromE164, &it.ToE164, &it.ContactPhone,
		&it.Summary, &it.StartedAt, &it.EndedAt, &it.DurationSeconds, &it.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &it, nil
}

func scanMessage(row rowScanner) (*Message, error) {
	var m Message
	if err := row.Scan(&m.ID, &m.InteractionID, &m.Role, &m.Content, &m.ProviderMessageID, &m.CreatedAt); err != nil {
		return nil, err
	}
	return &m, nil
}
