package handlers

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/receptionist-relay/internal/calls"
	"github.com/wolfman30/receptionist-relay/internal/retell"
)

func TestCallHandlerStartsCall(t *testing.T) {
	starter := &fakeStarter{result: &calls.Result{
		Call:          &retell.PhoneCall{CallID: "call_1"},
		InteractionID: "int_1",
	}}
	h := NewCallHandler(starter, nil)

	body := `{"phone":"(555) 123-4567","subscriber":"acme","transferPreselect":"billing"}`
	w := httptest.NewRecorder()
	h.Handle(w, httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(body)))

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"success":true`)
	assert.Contains(t, w.Body.String(), `"call_1"`)
	assert.Equal(t, calls.Request{Phone: "(555) 123-4567", TenantSlug: "acme", TransferPreselect: "billing"}, starter.req)
}

func TestCallHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		err    error
		status int
		msg    string
	}{
		{fmt.Errorf("%w: missing", calls.ErrInvalidPhone), http.StatusBadRequest, "Missing or invalid phone number"},
		{calls.ErrChannelUnavailable, http.StatusNotFound, "Call channel unavailable"},
		{fmt.Errorf("%w: no agent", calls.ErrChannelMisconfigured), http.StatusInternalServerError, "Call channel unavailable"},
		{errBoom, http.StatusInternalServerError, "Failed to trigger call"},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			h := NewCallHandler(&fakeStarter{err: tc.err}, nil)
			w := httptest.NewRecorder()
			h.Handle(w, httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"phone":"x","subscriber":"acme"}`)))

			assert.Equal(t, tc.status, w.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tc.msg), w.Body.String())
		})
	}
}

func TestCallHandlerMalformedBody(t *testing.T) {
	starter := &fakeStarter{}
	h := NewCallHandler(starter, nil)

	w := httptest.NewRecorder()
	h.Handle(w, httptest.NewRequest(http.MethodPost, "/call", strings.NewReader(`{"phone":`)))

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, starter.req.Phone)
}
