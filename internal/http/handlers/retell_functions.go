package handlers

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/history"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/phone"
	"github.com/wolfman30/receptionist-relay/internal/tenant"
	"github.com/wolfman30/receptionist-relay/pkg/logging"
)

const (
	functionMaxInteractions = 3
	functionLookbackMonths  = 6
)

// HistoryDigester produces the history blocks voice agents request mid-call.
type HistoryDigester interface {
	Signals(ctx context.Context, q history.Query) (string, bool)
	Detail(ctx context.Context, q history.Query) (string, bool)
}

// FunctionStore is the interaction access the agent functions need.
type FunctionStore interface {
	Get(ctx context.Context, id uuid.UUID) (*interaction.Interaction, error)
	SetContactPhone(ctx context.Context, id uuid.UUID, phone string) error
}

// TenantBySlug resolves tenants named by the agent.
type TenantBySlug interface {
	TenantBySlug(ctx context.Context, slug string) (*tenant.Tenant, error)
}

// RetellFunctionsConfig configures RetellFunctionsHandler.
type RetellFunctionsConfig struct {
	Store   FunctionStore
	Tenants TenantBySlug
	History HistoryDigester
	// Secret is compared against x-retell-secret. Empty disables the check.
	Secret string
	Logger *logging.Logger
}

// RetellFunctionsHandler serves the custom functions a voice agent calls
// while a call is live.
type RetellFunctionsHandler struct {
	store   FunctionStore
	tenants TenantBySlug
	history HistoryDigester
	secret  string
	logger  *logging.Logger
}

func NewRetellFunctionsHandler(cfg RetellFunctionsConfig) *RetellFunctionsHandler {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &RetellFunctionsHandler{
		store:   cfg.Store,
		tenants: cfg.Tenants,
		history: cfg.History,
		secret:  cfg.Secret,
		logger:  cfg.Logger,
	}
}

// functionArgs accepts both the flat body and Retell's {"args": {...}}
// envelope.
type functionArgs struct {
	PhoneNumber    string `json:"phone_number"`
	InteractionID  string `json:"interaction_id"`
	SubscriberSlug string `json:"subscriber_slug"`
}

type functionRequest struct {
	functionArgs
	Args *functionArgs `json:"args"`
}

func (r functionRequest) resolved() functionArgs {
	if r.Args != nil {
		return *r.Args
	}
	return r.functionArgs
}

// RequireSecret rejects requests without the shared function secret.
func (h *RetellFunctionsHandler) RequireSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.secret != "" {
			provided := r.Header.Values("X-Retell-Secret")
			ok := false
			for _, v := range provided {
				if subtle.ConstantTimeCompare([]byte(v), []byte(h.secret)) == 1 {
					ok = true
					break
				}
			}
			if !ok {
				jsonError(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// HandleCapturePhone records the caller's number on the interaction and
// returns a compact history for it.
func (h *RetellFunctionsHandler) HandleCapturePhone(w http.ResponseWriter, r *http.Request) {
	empty := map[string]string{"history_summary": ""}

	args, normalized, ok := h.parse(w, r)
	if !ok {
		writeJSON(w, http.StatusOK, empty)
		return
	}
	id, err := uuid.Parse(strings.TrimSpace(args.InteractionID))
	if err != nil {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	it, err := h.store.Get(r.Context(), id)
	if errors.Is(err, interaction.ErrNotFound) {
		writeJSON(w, http.StatusOK, empty)
		return
	}
	if err != nil {
		h.logger.Error("capture-phone: load interaction failed", "interaction_id", id, "error", err)
		jsonError(w, "failed", http.StatusInternalServerError)
		return
	}

	if it.ContactPhone != normalized {
		if err := h.store.SetContactPhone(r.Context(), it.ID, normalized); err != nil {
			h.logger.Error("capture-phone: update contact failed", "interaction_id", id, "error", err)
			jsonError(w, "failed", http.StatusInternalServerError)
			return
		}
	}

	summary, _ := h.history.Signals(r.Context(), history.Query{
		TenantID:        it.TenantID,
		Phone:           normalized,
		Channels:        channel.AllKinds,
		MaxInteractions: functionMaxInteractions,
		LookbackMonths:  functionLookbackMonths,
		ExcludeID:       it.ID,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"history_summary":    summary,
		"contact_phone_e164": normalized,
	})
}

// HandleHistoryDetail returns the wider history digest. The tenant comes
// from the interaction when known, otherwise from subscriber_slug.
func (h *RetellFunctionsHandler) HandleHistoryDetail(w http.ResponseWriter, r *http.Request) {
	empty := map[string]string{"history_detail_summary": ""}

	args, normalized, ok := h.parse(w, r)
	if !ok {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	tenantID, err := h.tenantFor(r.Context(), args)
	if err != nil {
		h.logger.Error("history-detail: resolve tenant failed", "error", err)
		jsonError(w, "failed", http.StatusInternalServerError)
		return
	}
	if tenantID == uuid.Nil {
		writeJSON(w, http.StatusOK, empty)
		return
	}

	detail, _ := h.history.Detail(r.Context(), history.Query{
		TenantID: tenantID,
		Phone:    normalized,
		Channels: channel.AllKinds,
	})
	writeJSON(w, http.StatusOK, map[string]string{
		"history_detail_summary": detail,
		"contact_phone_e164":     normalized,
	})
}

func (h *RetellFunctionsHandler) parse(w http.ResponseWriter, r *http.Request) (functionArgs, string, bool) {
	var req functionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.logger.Debug("retell function body rejected", "path", r.URL.Path, "error", err)
		return functionArgs{}, "", false
	}
	args := req.resolved()
	normalized, ok := phone.NormalizeValid(args.PhoneNumber)
	return args, normalized, ok
}

func (h *RetellFunctionsHandler) tenantFor(ctx context.Context, args functionArgs) (uuid.UUID, error) {
	if id, err := uuid.Parse(strings.TrimSpace(args.InteractionID)); err == nil {
		it, err := h.store.Get(ctx, id)
		switch {
		case err == nil:
			return it.TenantID, nil
		case !errors.Is(err, interaction.ErrNotFound):
			return uuid.Nil, err
		}
	}
	slug := tenant.NormalizeSlug(args.SubscriberSlug)
	if slug == "" || h.tenants == nil {
		return uuid.Nil, nil
	}
	t, err := h.tenants.TenantBySlug(ctx, slug)
	if errors.Is(err, tenant.ErrNotFound) {
		return uuid.Nil, nil
	}
	if err != nil {
		return uuid.Nil, err
	}
	return t.ID, nil
}
