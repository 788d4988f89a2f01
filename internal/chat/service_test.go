package chat

import (
	"context"
	"errors"
	"testing"

	"github.com/wolfman30/receptionist-relay/internal/interaction"
	"github.com/wolfman30/receptionist-relay/internal/session"
)

func TestExtractCallRequest(t *testing.T) {
	cases := []struct {
		in, reply, phone string
	}{
		{"Sure, calling you now.\nCALL_REQUEST: +1 555 123 4567", "Sure, calling you now.", "+1 555 123 4567"},
		{"call_request:5551234567\r\nTalk soon", "Talk soon", "5551234567"},
		{"No call here.", "No call here.", ""},
		{"CALL_REQUEST: 555", "", "555"},
	}
	for _, tc := range cases {
		reply, phone := ExtractCallRequest(tc.in)
		if reply != tc.reply || phone != tc.phone {
			t.Fatalf("ExtractCallRequest(%q) = %q, %q; want %q, %q", tc.in, reply, phone, tc.reply, tc.phone)
		}
	}
}

func TestSendCreatesThreadAndPersists(t *testing.T) {
	f := newFixture()

	reply, err := f.svc.Send(context.Background(), Message{TenantSlug: "ACME", Text: " When do you open? ", Origin: "https://www.acme.example"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Reply != "We open at 9." || reply.InteractionID == "" {
		t.Fatalf("unexpected reply %#v", reply)
	}
	if len(f.store.messages) != 2 {
		t.Fatalf("expected user and agent messages, got %d", len(f.store.messages))
	}
	if f.store.messages[0].Role != interaction.RoleUser || f.store.messages[0].Content != "When do you open?" {
		t.Fatalf("unexpected user message %#v", f.store.messages[0])
	}
	if f.replier.vars["subscriber_slug"] != "acme" || f.replier.vars["business_phone"] != "+15559876543" {
		t.Fatalf("unexpected variables %#v", f.replier.vars)
	}
}

func TestSendReusesInteraction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()

	first, err := f.svc.Send(ctx, Message{TenantSlug: "acme", Text: "Hi"})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	second, err := f.svc.Send(ctx, Message{TenantSlug: "acme", Text: "Thanks", InteractionID: first.InteractionID})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if second.InteractionID != first.InteractionID {
		t.Fatal("expected the same interaction")
	}
	if len(f.store.interactions) != 1 {
		t.Fatalf("expected one interaction, got %d", len(f.store.interactions))
	}
}

func TestSendIgnoresForeignInteraction(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	other, _ := f.store.CreateThread(ctx, nil, interaction.NewThread{Channel: "CHAT"})

	reply, err := f.svc.Send(ctx, Message{TenantSlug: "acme", Text: "Hi", InteractionID: other.ID.String()})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.InteractionID == other.ID.String() {
		t.Fatal("must not continue another tenant's thread")
	}
}

func TestSendEnqueuesCallRequest(t *testing.T) {
	f := newFixture()
	f.replier.text = "Calling you now!\nCALL_REQUEST: (555) 123-4567"

	reply, err := f.svc.Send(context.Background(), Message{TenantSlug: "acme", Text: "Please call me"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Reply != "Calling you now!" || !reply.CallRequested {
		t.Fatalf("unexpected reply %#v", reply)
	}
	if len(f.calls.reqs) != 1 || f.calls.reqs[0].Phone != "(555) 123-4567" || f.calls.reqs[0].TenantSlug != "acme" {
		t.Fatalf("unexpected call requests %#v", f.calls.reqs)
	}
	if last := f.store.messages[len(f.store.messages)-1]; last.Content != "Calling you now!" {
		t.Fatalf("stored reply should omit the marker, got %q", last.Content)
	}
}

func TestSendFallbackReply(t *testing.T) {
	f := newFixture()
	f.replier.err = session.ErrEmptyReply

	reply, err := f.svc.Send(context.Background(), Message{TenantSlug: "acme", Text: "Hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if reply.Reply != FallbackReply {
		t.Fatalf("expected fallback, got %q", reply.Reply)
	}
}

func TestSendErrors(t *testing.T) {
	cases := []struct {
		name string
		msg  Message
		want error
	}{
		{"empty", Message{TenantSlug: "acme", Text: "  "}, ErrEmptyMessage},
		{"unknown tenant", Message{TenantSlug: "nope", Text: "Hi"}, ErrTenantNotFound},
		{"origin", Message{TenantSlug: "acme", Text: "Hi", Origin: "https://evil.example"}, ErrOriginNotAllowed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			if _, err := f.svc.Send(context.Background(), tc.msg); !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			if len(f.replier.calls) != 0 {
				t.Fatal("agent must not be called")
			}
		})
	}
}

func TestSendReplyFailure(t *testing.T) {
	f := newFixture()
	f.replier.err = errors.New("retell 500")
	if _, err := f.svc.Send(context.Background(), Message{TenantSlug: "acme", Text: "Hi"}); err == nil {
		t.Fatal("expected error")
	}
	if len(f.store.messages) != 1 {
		t.Fatalf("only the user message should persist, got %d", len(f.store.messages))
	}
}
