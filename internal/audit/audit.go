// Package audit records operator-facing events that need a durable trail.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EventType names an audit event.
type EventType string

const (
	// EventRoutingAmbiguous is logged when more than one tenant claims an inbound address.
	EventRoutingAmbiguous EventType = "routing.ambiguous"
	// EventSessionRecovered is logged when an expired remote session was replaced.
	EventSessionRecovered EventType = "session.recovered"
	// EventRecoveryFailed is logged when the single recovery attempt failed.
	EventRecoveryFailed EventType = "session.recovery_failed"
	EventSessionEnded   EventType = "session.ended"
)

// Event is an immutable audit record.
type Event struct {
	ID            string          `json:"id"`
	Type          EventType       `json:"event_type"`
	TenantIDs     []string        `json:"tenant_ids,omitempty"`
	InteractionID string          `json:"interaction_id,omitempty"`
	Address       string          `json:"address,omitempty"`
	Details       json.RawMessage `json:"details,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Details carries event-specific fields.
type Details struct {
	Channel           string `json:"channel,omitempty"`
	PreviousSessionID string `json:"previous_session_id,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Error             string `json:"error,omitempty"`
}

// Store writes audit events through database/sql.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts event, assigning an id and timestamp when missing.
func (s *Store) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	tenantIDs := event.TenantIDs
	if tenantIDs == nil {
		tenantIDs = []string{}
	}

	query := `
		INSERT INTO audit_events (id, event_type, tenant_ids, interaction_id, address, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, query,
		event.ID,
		event.Type,
		pq.Array(tenantIDs),
		nullString(event.InteractionID),
		nullString(event.Address),
		nullJSON(event.Details),
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: record event: %w", err)
	}
	return nil
}

// RoutingAmbiguous records an inbound address claimed by several tenants.
func (s *Store) RoutingAmbiguous(ctx context.Context, channel, address string, tenantIDs []uuid.UUID) error {
	ids := make([]string, 0, len(tenantIDs))
	for _, id := range tenantIDs {
		ids = append(ids, id.String())
	}
	detailsJSON, _ := json.Marshal(Details{Channel: channel})
	return s.Record(ctx, Event{
		Type:      EventRoutingAmbiguous,
		TenantIDs: ids,
		Address:   address,
		Details:   detailsJSON,
	})
}

// SessionRecovered records a session replacement on the same interaction.
func (s *Store) SessionRecovered(ctx context.Context, tenantID, interactionID uuid.UUID, previousSessionID, sessionID, reason string) error {
	detailsJSON, _ := json.Marshal(Details{PreviousSessionID: previousSessionID, SessionID: sessionID, Reason: reason})
	return s.Record(ctx, Event{
		Type:          EventSessionRecovered,
		TenantIDs:     []string{tenantID.String()},
		InteractionID: interactionID.String(),
		Details:       detailsJSON,
	})
}

// RecoveryFailed records a recovery attempt that did not produce a reply.
func (s *Store) RecoveryFailed(ctx context.Context, tenantID, interactionID uuid.UUID, sessionID string, cause error) error {
	details := Details{SessionID: sessionID}
	if cause != nil {
		details.Error = cause.Error()
	}
	detailsJSON, _ := json.Marshal(details)
	return s.Record(ctx, Event{
		Type:          EventRecoveryFailed,
		TenantIDs:     []string{tenantID.String()},
		InteractionID: interactionID.String(),
		Details:       detailsJSON,
	})
}

// SessionEnded records a deliberate end-session command.
func (s *Store) SessionEnded(ctx context.Context, tenantID, interactionID uuid.UUID, sessionID string) error {
	detailsJSON, _ := json.Marshal(Details{SessionID: sessionID, Reason: "end_keyword"})
	return s.Record(ctx, Event{
		Type:          EventSessionEnded,
		TenantIDs:     []string{tenantID.String()},
		InteractionID: interactionID.String(),
		Details:       detailsJSON,
	})
}

// ListForInteraction returns events for an interaction, newest first.
func (s *Store) ListForInteraction(ctx context.Context, interactionID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, event_type, tenant_ids, COALESCE(interaction_id::text, ''), COALESCE(address, ''), details, created_at
		FROM audit_events
		WHERE interaction_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := s.db.QueryContext(ctx, query, interactionID, limit)
	if err != nil {
		return nil, fmt.Errorf("audit: list events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e       Event
			details []byte
		)
		if err := rows.Scan(&e.ID, &e.Type, pq.Array(&e.TenantIDs), &e.InteractionID, &e.Address, &details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("audit: scan event: %w", err)
		}
		if len(details) > 0 {
			e.Details = json.RawMessage(details)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate events: %w", err)
	}
	return events, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
