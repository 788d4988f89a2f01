package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/receptionist-relay/internal/audit"
	"github.com/wolfman30/receptionist-relay/internal/channel"
	"github.com/wolfman30/receptionist-relay/internal/interaction"
)

func getInteraction(h *AdminInteractionsHandler, id string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Get("/admin/interactions/{id}", h.HandleGet)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin/interactions/"+id, nil))
	return w
}

func TestAdminInteractionReturnsMessagesAndAudit(t *testing.T) {
	store := newFakeStore()
	it := store.add(interaction.Interaction{TenantID: acmeID, Channel: channel.SMS, RemoteSessionID: "chat_2"})
	_, _, err := store.AppendMessage(context.Background(), it.ID, interaction.RoleUser, "hi", "SM1")
	require.NoError(t, err)
	auditLog := &fakeAudit{events: []audit.Event{{ID: "evt_1", Type: audit.EventSessionRecovered, InteractionID: it.ID.String()}}}

	w := getInteraction(NewAdminInteractionsHandler(store, auditLog, nil), it.ID.String())

	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `"remote_session_id":"chat_2"`)
	assert.Contains(t, body, `"provider_message_id":"SM1"`)
	assert.Contains(t, body, `"event_type":"session.recovered"`)
}

func TestAdminInteractionErrors(t *testing.T) {
	store := newFakeStore()
	h := NewAdminInteractionsHandler(store, nil, nil)

	assert.Equal(t, http.StatusBadRequest, getInteraction(h, "not-a-uuid").Code)
	assert.Equal(t, http.StatusNotFound, getInteraction(h, uuid.NewString()).Code)

	store.getErr = errBoom
	assert.Equal(t, http.StatusInternalServerError, getInteraction(h, uuid.NewString()).Code)
}

func TestAdminInteractionEmptyMessages(t *testing.T) {
	store := newFakeStore()
	it := store.add(interaction.Interaction{TenantID: acmeID, Channel: channel.Chat})

	w := getInteraction(NewAdminInteractionsHandler(store, &fakeAudit{err: errBoom}, nil), it.ID.String())

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"messages":[]`)
}
