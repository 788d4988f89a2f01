package tenant

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wolfman30/receptionist-relay/internal/channel"
)

// PgxPool is the subset of pgxpool.Pool the store needs.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store reads tenant and channel configuration from Postgres. Rows are owned
// by onboarding; the relay never writes them.
type Store struct {
	pool PgxPool
}

func NewStore(pool PgxPool) *Store {
	if pool == nil {
		panic("tenant: pgx pool required")
	}
	return &Store{pool: pool}
}

const channelColumns = `
	c.id, c.tenant_id, c.channel, c.enabled, c.transport_provider, c.ai_provider,
	COALESCE(c.provider_number_e164, ''), COALESCE(c.provider_inbox_id, ''),
	COALESCE(c.provider_agent_id_inbound, ''), COALESCE(c.provider_agent_id_outbound, '')
`

const tenantColumns = `
	id, slug, display_name, COALESCE(website_url, ''), COALESCE(public_phone_e164, ''),
	allowed_domains, COALESCE(widget_title, ''), COALESCE(widget_subtitle, ''),
	COALESCE(widget_greeting, ''), COALESCE(widget_avatar_url, '')
`

// maxRoutingMatches bounds the ambiguity scan; two rows already prove a
// conflict, the rest only enrich the operator log.
const maxRoutingMatches = 10

// ResolveChannel finds the single enabled channel of kind that answers on
// address. Zero matches yield ErrChannelUnavailable and more than one yields an
// *AmbiguousRoutingError; the caller must drop the message in both cases.
func (s *Store) ResolveChannel(ctx context.Context, kind channel.Kind, address string) (*Channel, error) {
	if address == "" {
		return nil, ErrChannelUnavailable
	}
	query := `
		SELECT ` + channelColumns + `
		FROM tenant_channels c
		WHERE c.channel = $1
		  AND c.enabled
		  AND (c.provider_number_e164 = $2 OR c.provider_inbox_id = $2)
		ORDER BY c.id
		LIMIT $3
	`
	rows, err := s.pool.Query(ctx, query, kind, address, maxRoutingMatches)
	if err != nil {
		return nil, fmt.Errorf("tenant: resolve channel: %w", err)
	}
	defer rows.Close()

	var matches []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("tenant: scan channel: %w", err)
		}
		matches = append(matches, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("tenant: resolve channel rows: %w", err)
	}

	switch len(matches) {
	case 0:
		return nil, ErrChannelUnavailable
	case 1:
		return matches[0], nil
	default:
		ids := make([]uuid.UUID, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.TenantID)
		}
		return nil, &AmbiguousRoutingError{Kind: kind, Address: address, TenantIDs: ids}
	}
}

// ChannelForTenant returns the enabled channel of kind for the tenant slug.
func (s *Store) ChannelForTenant(ctx context.Context, slug string, kind channel.Kind) (*Channel, error) {
	slug = NormalizeSlug(slug)
	if slug == "" {
		return nil, ErrChannelUnavailable
	}
	query := `
		SELECT ` + channelColumns + `
		FROM tenant_channels c
		JOIN tenants t ON t.id = c.tenant_id
		WHERE t.slug = $1 AND c.channel = $2 AND c.enabled
		LIMIT 1
	`
	ch, err := scanChannel(s.pool.QueryRow(ctx, query, slug, kind))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChannelUnavailable
		}
		return nil, fmt.Errorf("tenant: channel for tenant: %w", err)
	}
	return ch, nil
}

// TenantBySlug loads tenant metadata by slug.
func (s *Store) TenantBySlug(ctx context.Context, slug string) (*Tenant, error) {
	slug = NormalizeSlug(slug)
	if slug == "" {
		return nil, ErrNotFound
	}
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE slug = $1`
	return s.queryTenant(ctx, query, slug)
}

// TenantByID loads tenant metadata by id.
func (s *Store) TenantByID(ctx context.Context, id uuid.UUID) (*Tenant, error) {
	query := `SELECT ` + tenantColumns + ` FROM tenants WHERE id = $1`
	return s.queryTenant(ctx, query, id)
}

func (s *Store) queryTenant(ctx context.Context, query string, arg any) (*Tenant, error) {
	var t Tenant
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&t.ID, &t.Slug, &t.DisplayName, &t.WebsiteURL, &t.PublicPhoneE164,
		&t.AllowedDomains, &t.WidgetTitle, &t.WidgetSubtitle, &t.WidgetGreeting, &t.WidgetAvatarURL,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("tenant: load tenant: %w", err)
	}
	return &t, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	var ch Channel
	if err := row.Scan(
		&ch.ID, &ch.TenantID, &ch.Kind, &ch.Enabled, &ch.Transport, &ch.AIProvider,
		&ch.NumberE164, &ch.InboxID, &ch.AgentIDInbound, &ch.AgentIDOutbound,
	); err != nil {
		return nil, err
	}
	return &ch, nil
}
